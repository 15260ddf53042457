// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"
)

// refreshInterval is how often session state is pushed to the TUI
const refreshInterval = 100 * time.Millisecond

var controlCmd = &cobra.Command{
	Use:   "control",
	Short: "Interactive TUI for operating the flow bench",
	Long: `Operate the flow bench via an interactive terminal UI.

This command polls the bench controller over Modbus-RTU (serial or WebSocket
bridge) and drives the airflow servo through a Maestro controller.

Features:
  - Live instrument channel readings
  - Auto sequence start/stop with progress
  - Servo presets and fine adjustment
  - Manual register write
  - Link statistics
  - Event logging
  - Automatic reconnection on connection loss

Keys:
  s / x        start / stop the auto sequence
  1 / 2 / 3    servo to 1000 / 1500 / 2000 us
  + / -        servo up / down 1 us
  w            edit register write (ADDRESS=VALUE, Enter to send)
  r            reset statistics
  q            quit

Logs go to --log-file when set and are discarded otherwise.`,
	RunE: runControl,
}

func init() {
	rootCmd.AddCommand(controlCmd)
}

func runControl(cmd *cobra.Command, args []string) error {
	// Log lines would corrupt the alternate screen
	if cfg.Log.File == "" {
		slog.SetDefault(slog.New(slog.NewTextHandler(io.Discard, nil)))
	}

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	b, err := startBench(ctx)
	if err != nil {
		return err
	}

	m := initialControlModel(b.session, regTable, connectionInfo())
	p := tea.NewProgram(m, tea.WithAltScreen(), tea.WithContext(ctx))

	go forwardState(ctx, b, p)

	if _, err := p.Run(); err != nil && ctx.Err() == nil {
		return fmt.Errorf("TUI error: %w", err)
	}

	// A run in progress is stopped so the motor is not left enabled
	stopCtx, stopCancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer stopCancel()
	b.session.StopSequence(stopCtx)
	return nil
}

// forwardState pushes session status, readings and notices to the TUI at a
// fixed rate
func forwardState(ctx context.Context, b *bench, p *tea.Program) {
	ticker := time.NewTicker(refreshInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case err := <-b.errs:
			if ctx.Err() == nil {
				p.Send(sessionErrorMsg{err: err})
			}
			return

		case n := <-b.session.Notices():
			p.Send(noticeMsg(n))

		case <-ticker.C:
			status, err := b.session.Status(ctx)
			if err != nil {
				continue
			}
			p.Send(controlStateMsg{
				status:   status,
				readings: b.session.Store().Snapshot(regTable),
			})
		}
	}
}

// connectionInfo describes the configured Modbus link
func connectionInfo() string {
	if cfg.Bridge.URL != "" {
		return fmt.Sprintf("WebSocket: %s", cfg.Bridge.URL)
	}
	return fmt.Sprintf("Serial: %s @ %d baud", cfg.Serial.Port, cfg.Serial.BaudRate)
}
