// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/Thermoquad/flowbench/pkg/modbus"
	"github.com/Thermoquad/flowbench/pkg/rig"
	"github.com/spf13/cobra"
)

var rawLogCmd = &cobra.Command{
	Use:   "raw_log",
	Short: "Display raw Modbus frames in human-readable format",
	Long: `Continuously decode and display Modbus-RTU frames as they arrive.

The link is opened read-only: no requests are sent. Useful for watching the
bus while another master (or the bench's own panel) is polling, and for
checking a bridge connection.

Supports both serial and WebSocket connections.`,
	RunE: runRawLog,
}

func init() {
	rootCmd.AddCommand(rawLogCmd)
}

func runRawLog(cmd *cobra.Command, args []string) error {
	conn, connInfo, err := OpenConnection(cmd.Context())
	if err != nil {
		return err
	}
	defer conn.Close()

	fmt.Printf("Flowbench - Raw Frame Log\n")
	fmt.Printf("Connection: %s\n", connInfo)
	fmt.Printf("Press Ctrl+C to exit\n\n")

	decoder := modbus.NewDecoder()
	buf := make([]byte, 128)

	for {
		n, err := conn.Read(buf)
		if n > 0 {
			decoder.Write(buf[:n])
			printFrames(decoder)
		}
		if err != nil {
			// For WebSocket connections, a read error usually means
			// the connection is permanently closed - exit gracefully
			if errors.Is(err, rig.ErrConnectionClosed) {
				slog.Info("Connection closed")
				return nil
			}
			return fmt.Errorf("read error: %w", err)
		}
	}
}

// printFrames drains every complete frame buffered in the decoder
func printFrames(decoder *modbus.Decoder) {
	for {
		frame, err := decoder.Next()
		if err != nil {
			fmt.Printf("[ERROR] %v\n", err)
			continue
		}
		if frame == nil {
			return
		}
		fmt.Print(modbus.FormatFrame(frame))
	}
}
