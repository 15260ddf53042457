// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/Thermoquad/flowbench/pkg/config"
	"github.com/Thermoquad/flowbench/pkg/registers"
	"github.com/spf13/cobra"
)

var (
	// Serial connection flags
	portName string
	baudRate int

	// WebSocket connection flags
	wsURL         string
	wsUsername    string
	wsNoSSLVerify bool

	// Servo flags
	servoPort string
	servoBaud int

	// Config and logging flags
	configFile string
	logLevel   string
	logFile    string

	// Loaded by PersistentPreRunE
	cfg      *config.Config
	regTable *registers.Table
	logSink  io.Closer
)

var rootCmd = &cobra.Command{
	Use:   "flowbench",
	Short: "Flow bench Modbus-RTU master and PWM ramp sequencer",
	Long: `Flowbench - A CLI tool for operating a flow bench test rig.

Polls instrument registers from the bench controller over Modbus-RTU, drives
the airflow servo through a Pololu Maestro, and runs the timed auto sequence
that ramps the servo through its pulse-width range while logging readings.

Connection modes:
  Serial:    --port /dev/ttyUSB0 [--baud 9600]
  WebSocket: --url ws://host/path [--username user]

Servo:
  --servo-port /dev/ttyACM0 [--servo-baud 9600]

Settings are read from flowbench.yaml (working directory or ~/.flowbench) or
the file named by --config. Flags override file values.

For WebSocket authentication, the password is read from the FLOWBENCH_PASSWORD
environment variable, or prompted interactively if not set.`,
	Version:           "1.0.0",
	SilenceUsage:      true,
	PersistentPreRunE: loadProfile,
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logSink != nil {
			logSink.Close()
		}
	},
}

func init() {
	// Serial connection flags
	rootCmd.PersistentFlags().StringVarP(&portName, "port", "p", "", "Serial port device")
	rootCmd.PersistentFlags().IntVarP(&baudRate, "baud", "b", 9600, "Baud rate (9600 or 19200)")

	// WebSocket connection flags
	rootCmd.PersistentFlags().StringVarP(&wsURL, "url", "u", "", "WebSocket URL (ws:// or wss://)")
	rootCmd.PersistentFlags().StringVar(&wsUsername, "username", "", "Username for HTTP Basic auth")
	rootCmd.PersistentFlags().BoolVar(&wsNoSSLVerify, "no-ssl-verify", false, "Skip TLS certificate verification (wss:// only)")

	// Servo flags
	rootCmd.PersistentFlags().StringVarP(&servoPort, "servo-port", "s", "", "Maestro servo controller serial port")
	rootCmd.PersistentFlags().IntVar(&servoBaud, "servo-baud", 9600, "Servo controller baud rate")

	// Config and logging flags
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "Rig profile (YAML)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&logFile, "log-file", "", "Log file path (default stderr)")
}

// loadProfile reads the rig profile, sets up logging and loads the register
// table before any command runs
func loadProfile(cmd *cobra.Command, args []string) error {
	loaded, err := config.LoadConfig(configFile, cmd.Flags())
	if err != nil {
		return err
	}
	cfg = loaded

	logSink = setupLogger(cfg.Log, os.Stderr)

	if cfg.Registers.File != "" {
		regTable, err = registers.LoadTable(cfg.Registers.File)
		if err != nil {
			return err
		}
		slog.Debug("loaded register table", "file", cfg.Registers.File, "registers", regTable.Len())
	} else {
		regTable = registers.DefaultTable()
	}
	return nil
}

// setupLogger installs the default slog logger. Returns the log file when
// one was opened.
func setupLogger(lc config.LogConfig, fallback io.Writer) io.Closer {
	opts := &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}
	switch lc.Level {
	case "debug":
		opts.Level = slog.LevelDebug
	case "warn":
		opts.Level = slog.LevelWarn
	case "error":
		opts.Level = slog.LevelError
	}

	var handler slog.Handler
	var closer io.Closer
	if lc.File != "" && lc.File != "-" {
		f, err := os.OpenFile(lc.File, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
		if err != nil {
			fmt.Fprintf(fallback, "Failed to open log file, falling back to stderr: %v\n", err)
			handler = slog.NewTextHandler(fallback, opts)
		} else {
			handler = slog.NewTextHandler(f, opts)
			closer = f
		}
	} else {
		handler = slog.NewTextHandler(fallback, opts)
	}
	slog.SetDefault(slog.New(handler))
	return closer
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}
