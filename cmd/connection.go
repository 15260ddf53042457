// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"syscall"

	"github.com/Thermoquad/flowbench/pkg/capture"
	"github.com/Thermoquad/flowbench/pkg/config"
	"github.com/Thermoquad/flowbench/pkg/rig"
	"golang.org/x/term"
)

// GetPassword retrieves password from environment or prompts user
func GetPassword() (string, error) {
	// First check environment variable
	if pw := os.Getenv("FLOWBENCH_PASSWORD"); pw != "" {
		return pw, nil
	}

	fmt.Fprint(os.Stderr, "Password: ")

	// Read password without echo
	passwordBytes, err := term.ReadPassword(int(syscall.Stdin))
	if err != nil {
		// Fallback to regular input if terminal functions fail
		reader := bufio.NewReader(os.Stdin)
		password, err := reader.ReadString('\n')
		if err != nil {
			return "", fmt.Errorf("failed to read password: %w", err)
		}
		fmt.Fprintln(os.Stderr)
		return strings.TrimSpace(password), nil
	}

	fmt.Fprintln(os.Stderr)
	return string(passwordBytes), nil
}

// NewDialer returns a dialer for the Modbus link described by the profile.
// The bridge password is read once so reconnects do not prompt again.
func NewDialer(c *config.Config) (rig.Dialer, error) {
	if c.Bridge.URL != "" {
		password := ""
		if c.Bridge.Username != "" {
			var err error
			password, err = GetPassword()
			if err != nil {
				return nil, err
			}
		}

		bridge := c.Bridge
		return func(ctx context.Context) (rig.Connection, string, error) {
			conn, err := rig.OpenWebSocket(ctx, bridge.URL, bridge.Username, password, bridge.NoSSLVerify)
			if err != nil {
				return nil, "", err
			}
			return conn, fmt.Sprintf("WebSocket: %s", bridge.URL), nil
		}, nil
	}

	if c.Serial.Port != "" {
		if !supportedBaud(c.Serial.BaudRate) {
			return nil, fmt.Errorf("unsupported baud rate %d (use 9600 or 19200)", c.Serial.BaudRate)
		}
		serialCfg := c.Serial
		return func(ctx context.Context) (rig.Connection, string, error) {
			conn, err := rig.OpenSerial(serialCfg.Port, serialCfg.BaudRate)
			if err != nil {
				return nil, "", err
			}
			return conn, fmt.Sprintf("Serial: %s @ %d baud", serialCfg.Port, serialCfg.BaudRate), nil
		}, nil
	}

	return nil, fmt.Errorf("either --port or --url must be specified")
}

// OpenConnection opens the Modbus link once
func OpenConnection(ctx context.Context) (rig.Connection, string, error) {
	dial, err := NewDialer(cfg)
	if err != nil {
		return nil, "", err
	}
	return dial(ctx)
}

// OpenServo opens the Maestro port, or returns nil when none is configured
func OpenServo(c *config.Config) (rig.Connection, error) {
	if c.Servo.Port == "" {
		return nil, nil
	}
	conn, err := rig.OpenSerial(c.Servo.Port, c.Servo.BaudRate)
	if err != nil {
		return nil, err
	}
	return conn, nil
}

func supportedBaud(baud int) bool {
	for _, b := range rig.SupportedBaudRates {
		if b == baud {
			return true
		}
	}
	return false
}

// NewSinkFactory opens the capture file named in the profile for each run
func NewSinkFactory(c *config.Config) rig.SinkFactory {
	capCfg := c.Capture
	return func() (capture.Sink, error) {
		meta := capture.NewMetadata(capCfg.SerialNumber, capCfg.CSVType)
		slog.Info("opening capture file", "file", capCfg.File, "format", capCfg.Format, "run_id", meta.RunID)
		if capCfg.Format == config.FormatCBOR {
			return capture.CreateCBOR(capCfg.File, regTable, meta)
		}
		return capture.CreateCSV(capCfg.File, regTable, meta)
	}
}

// bench is a running session with its transports
type bench struct {
	session *rig.Session
	errs    chan error
}

// startBench creates a session from the profile, starts its event loop and
// keeps the Modbus link connected until ctx is cancelled. The servo port is
// optional.
func startBench(ctx context.Context) (*bench, error) {
	dial, err := NewDialer(cfg)
	if err != nil {
		return nil, err
	}

	session, err := rig.NewSession(rig.Options{
		Table:           regTable,
		Sequence:        cfg.Sequence,
		IdleInterval:    cfg.Poll.Idle,
		FastInterval:    cfg.Poll.Fast,
		ResponseTimeout: cfg.Serial.Timeout,
		ServoChannel:    cfg.Servo.Channel,
		Logger:          slog.Default(),
		OpenSink:        NewSinkFactory(cfg),
	})
	if err != nil {
		return nil, err
	}

	b := &bench{session: session, errs: make(chan error, 2)}
	go func() { b.errs <- session.Run(ctx) }()

	servo, err := OpenServo(cfg)
	if err != nil {
		return nil, err
	}
	if servo != nil {
		if err := session.AttachServo(ctx, servo); err != nil {
			servo.Close()
			return nil, err
		}
		context.AfterFunc(ctx, func() { servo.Close() })
		slog.Info("servo attached", "port", cfg.Servo.Port, "channel", cfg.Servo.Channel)
	}

	go func() { b.errs <- session.ServeModbus(ctx, dial) }()
	return b, nil
}
