// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"
	"time"

	"github.com/Thermoquad/flowbench/pkg/registers"
	"github.com/Thermoquad/flowbench/pkg/rig"
	"github.com/spf13/cobra"
)

var (
	showAll       bool
	statsInterval int
)

var monitorCmd = &cobra.Command{
	Use:   "monitor",
	Short: "Poll the bench and report link errors",
	Long: `Poll every register at the idle rate and track link health.

This command reports:
  - CRC errors and Modbus exception responses
  - Response timeouts and resynchronisation bytes
  - Connection loss and reconnects
  - Statistics (frame rate, error rate, success rate)

By default, only errors are displayed. Use --show-all to print the live
channel readings with each statistics summary.`,
	RunE: runMonitor,
}

func init() {
	rootCmd.AddCommand(monitorCmd)
	monitorCmd.Flags().BoolVar(&showAll, "show-all", false, "Show channel readings (not just errors)")
	monitorCmd.Flags().IntVar(&statsInterval, "stats-interval", 10, "Statistics update interval (seconds)")
}

func runMonitor(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	b, err := startBench(ctx)
	if err != nil {
		return err
	}

	fmt.Printf("Flowbench - Monitor\n")
	fmt.Printf("Registers: %d, idle poll %s\n", regTable.Len(), cfg.Poll.Idle)
	fmt.Printf("Statistics interval: %d seconds\n", statsInterval)
	if showAll {
		fmt.Printf("Mode: All readings\n")
	} else {
		fmt.Printf("Mode: Errors only\n")
	}
	fmt.Printf("Press Ctrl+C to exit\n\n")

	statsTicker := time.NewTicker(time.Duration(statsInterval) * time.Second)
	defer statsTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case err := <-b.errs:
			if ctx.Err() != nil {
				return nil
			}
			return err

		case n := <-b.session.Notices():
			printNotice(n)

		case <-statsTicker.C:
			status, err := b.session.Status(ctx)
			if err != nil {
				continue
			}
			if showAll {
				printReadings(b.session.Store().Snapshot(regTable))
			}
			fmt.Println()
			fmt.Print(status.Stats.String())
			fmt.Println()
		}
	}
}

// printNotice prints an operator notice, highlighting warnings and errors
func printNotice(n rig.Notice) {
	timestamp := n.Time.Format("15:04:05.000")
	switch {
	case n.Level >= slog.LevelError:
		fmt.Printf("[%s] \033[1;31mERROR:\033[0m %s\n", timestamp, n.Message)
	case n.Level >= slog.LevelWarn:
		fmt.Printf("[%s] \033[1;33mWARNING:\033[0m %s\n", timestamp, n.Message)
	default:
		fmt.Printf("[%s] \033[1;32mINFO:\033[0m %s\n", timestamp, n.Message)
	}
}

// printReadings prints the instrument channels
func printReadings(readings []registers.Reading) {
	fmt.Printf("\n[%s] Readings\n", time.Now().Format("15:04:05.000"))
	for _, r := range readings {
		if r.Descriptor.Address < registers.AddrFlowPressure || r.Descriptor.Address > registers.AddrFrequency {
			continue
		}
		if !r.Valid {
			fmt.Printf("  %-22s %10s\n", r.Descriptor.Name, "--")
			continue
		}
		fmt.Printf("  %-22s %10.1f %s\n", r.Descriptor.Name, r.Descriptor.Scale(r.Raw), r.Descriptor.Units)
	}
}

// waitConnected blocks until the Modbus link is attached
func waitConnected(ctx context.Context, b *bench, timeout time.Duration) error {
	deadline := time.After(timeout)
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()

	for {
		status, err := b.session.Status(ctx)
		if err != nil {
			return err
		}
		if status.Connected {
			return nil
		}
		select {
		case err := <-b.errs:
			return err
		case <-ctx.Done():
			return ctx.Err()
		case <-deadline:
			return fmt.Errorf("%w after %s", rig.ErrTransportUnavailable, timeout)
		case <-ticker.C:
		}
	}
}
