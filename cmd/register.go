// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/Thermoquad/flowbench/pkg/registers"
	"github.com/spf13/cobra"
)

var connectTimeout int

var readCmd = &cobra.Command{
	Use:   "read ADDRESS...",
	Short: "Read holding registers",
	Long: `Read one or more holding registers and print their values.

ADDRESS is a register number (40001 and up) or a register name from the
table, e.g. "Flow Rate".

Examples:
  flowbench read --port /dev/ttyUSB0 40016
  flowbench read --port /dev/ttyUSB0 40007 40008 "Flow Rate"`,
	Args: cobra.MinimumNArgs(1),
	RunE: runRead,
}

var writeCmd = &cobra.Command{
	Use:   "write ADDRESS VALUE",
	Short: "Write a holding register",
	Long: `Write one holding register and wait for the controller's echo.

Examples:
  flowbench write --port /dev/ttyUSB0 40006 1    # motor enable
  flowbench write --port /dev/ttyUSB0 40005 0    # resume`,
	Args: cobra.ExactArgs(2),
	RunE: runWrite,
}

func init() {
	rootCmd.AddCommand(readCmd)
	rootCmd.AddCommand(writeCmd)
	for _, c := range []*cobra.Command{readCmd, writeCmd} {
		c.Flags().IntVar(&connectTimeout, "connect-timeout", 10, "Seconds to wait for the Modbus link")
	}
}

// resolveRegister accepts a register number or a register name
func resolveRegister(table *registers.Table, arg string) (int, error) {
	if addr, err := strconv.Atoi(arg); err == nil {
		return addr, nil
	}
	for _, d := range table.Descriptors() {
		if strings.EqualFold(d.Name, arg) {
			return d.Address, nil
		}
	}
	return 0, fmt.Errorf("unknown register %q", arg)
}

// connectBench starts a session and waits for the Modbus link
func connectBench(ctx context.Context) (*bench, error) {
	b, err := startBench(ctx)
	if err != nil {
		return nil, err
	}
	if err := waitConnected(ctx, b, time.Duration(connectTimeout)*time.Second); err != nil {
		return nil, err
	}
	return b, nil
}

func runRead(cmd *cobra.Command, args []string) error {
	addrs := make([]int, 0, len(args))
	for _, arg := range args {
		addr, err := resolveRegister(regTable, arg)
		if err != nil {
			return err
		}
		addrs = append(addrs, addr)
	}

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	b, err := connectBench(ctx)
	if err != nil {
		return err
	}

	for _, addr := range addrs {
		value, err := b.session.ReadRegister(ctx, addr)
		if err != nil {
			return fmt.Errorf("read %d: %w", addr, err)
		}
		if d, ok := regTable.Lookup(addr); ok {
			fmt.Printf("%d %-22s %6d", addr, d.Name, value)
			if d.Divisor > 1 || d.Multiplier > 1 {
				fmt.Printf("  (%g %s)", d.Scale(value), d.Units)
			} else if d.Units != "" {
				fmt.Printf(" %s", d.Units)
			}
			fmt.Printf("\n")
		} else {
			fmt.Printf("%d %6d\n", addr, value)
		}
	}
	return nil
}

func runWrite(cmd *cobra.Command, args []string) error {
	addr, err := resolveRegister(regTable, args[0])
	if err != nil {
		return err
	}
	value, err := strconv.ParseUint(args[1], 0, 16)
	if err != nil {
		return fmt.Errorf("invalid value %q: %w", args[1], err)
	}

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	b, err := connectBench(ctx)
	if err != nil {
		return err
	}

	if err := b.session.WriteRegister(ctx, addr, uint16(value)); err != nil {
		return fmt.Errorf("write %d: %w", addr, err)
	}
	fmt.Printf("Wrote %d to register %d\n", value, addr)
	return nil
}
