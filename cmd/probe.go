// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/Thermoquad/flowbench/pkg/modbus"
	"github.com/Thermoquad/flowbench/pkg/registers"
	mbclient "github.com/goburrow/modbus"
	"github.com/spf13/cobra"
)

var (
	probeTimeout int
	probeAddress int
)

var probeCmd = &cobra.Command{
	Use:   "probe",
	Short: "Test the Modbus link by reading one register",
	Long: `Read a single holding register from the bench controller until timeout.

On a serial port the read is made with an independent Modbus-RTU client, so a
working probe confirms the wiring and baud rate without involving the
flowbench decoder. Over a WebSocket bridge the request is built and decoded
with the flowbench codec.

Exit codes:
  0 - Register read before timeout
  1 - Timeout or error response from the controller
  2 - Connection error`,
	RunE: runProbe,
}

func init() {
	rootCmd.AddCommand(probeCmd)
	probeCmd.Flags().IntVar(&probeTimeout, "timeout", 5, "Timeout in seconds to wait for a reply")
	probeCmd.Flags().IntVar(&probeAddress, "address", registers.AddrFlowBenchID, "Register address to read")
}

func runProbe(cmd *cobra.Command, args []string) error {
	timeout := time.Duration(probeTimeout) * time.Second

	fmt.Printf("Flowbench - Probe\n")
	if d, ok := regTable.Lookup(probeAddress); ok {
		fmt.Printf("Register: %d (%s)\n", probeAddress, d.Name)
	} else {
		fmt.Printf("Register: %d\n", probeAddress)
	}
	fmt.Printf("Timeout: %d seconds\n", probeTimeout)

	var (
		value uint16
		err   error
	)
	if cfg.Bridge.URL == "" && cfg.Serial.Port != "" {
		fmt.Printf("Connection: Serial: %s @ %d baud\n\n", cfg.Serial.Port, cfg.Serial.BaudRate)
		value, err = probeSerial(timeout)
	} else {
		value, err = probeConnection(cmd.Context(), timeout)
	}

	var connErr *connectionError
	switch {
	case errors.As(err, &connErr):
		fmt.Fprintf(os.Stderr, "Connection error: %v\n", connErr.err)
		os.Exit(2)
	case err != nil:
		fmt.Fprintf(os.Stderr, "FAILED: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("SUCCESS: Register %d = %d (0x%04X)\n", probeAddress, value, value)
	os.Exit(0)
	return nil
}

// connectionError marks failures to open the link
type connectionError struct {
	err error
}

func (e *connectionError) Error() string {
	return e.err.Error()
}

// probeSerial reads the register with a standalone RTU client
func probeSerial(timeout time.Duration) (uint16, error) {
	wire, err := modbus.WireAddress(probeAddress)
	if err != nil {
		return 0, err
	}

	handler := mbclient.NewRTUClientHandler(cfg.Serial.Port)
	handler.BaudRate = cfg.Serial.BaudRate
	handler.DataBits = 8
	handler.Parity = "N"
	handler.StopBits = 1
	handler.SlaveId = modbus.SlaveID
	handler.Timeout = timeout

	if err := handler.Connect(); err != nil {
		return 0, &connectionError{err: err}
	}
	defer handler.Close()

	client := mbclient.NewClient(handler)
	results, err := client.ReadHoldingRegisters(wire, 1)
	if err != nil {
		return 0, err
	}
	if len(results) < 2 {
		return 0, fmt.Errorf("short reply: %s", modbus.FormatHex(results))
	}
	return binary.BigEndian.Uint16(results), nil
}

// probeConnection sends one read over the configured link and decodes the
// reply with the flowbench codec
func probeConnection(ctx context.Context, timeout time.Duration) (uint16, error) {
	conn, connInfo, err := OpenConnection(ctx)
	if err != nil {
		return 0, &connectionError{err: err}
	}
	defer conn.Close()
	fmt.Printf("Connection: %s\n\n", connInfo)

	req, err := modbus.BuildReadRequest(probeAddress)
	if err != nil {
		return 0, err
	}
	if _, err := conn.Write(req); err != nil {
		return 0, &connectionError{err: err}
	}

	type outcome struct {
		value uint16
		err   error
	}
	done := make(chan outcome, 1)

	go func() {
		decoder := modbus.NewDecoder()
		buf := make([]byte, 128)
		for {
			n, err := conn.Read(buf)
			if err != nil {
				done <- outcome{err: &connectionError{err: err}}
				return
			}
			decoder.Write(buf[:n])
			for {
				frame, decodeErr := decoder.Next()
				if decodeErr != nil {
					if modbus.IsException(decodeErr) {
						done <- outcome{err: decodeErr}
						return
					}
					// Corrupt frames are skipped
					continue
				}
				if frame == nil {
					break
				}
				if v, ok := frame.Value(); ok {
					if skipped := decoder.Discarded(); skipped > 0 {
						fmt.Printf("(skipped %d bytes before sync)\n", skipped)
					}
					done <- outcome{value: v}
					return
				}
			}
		}
	}()

	select {
	case out := <-done:
		return out.value, out.err
	case <-time.After(timeout):
		return 0, fmt.Errorf("TIMEOUT: no reply within %s", timeout)
	}
}
