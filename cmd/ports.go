// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"
	"os"
	"time"

	"github.com/Thermoquad/flowbench/pkg/modbus"
	"github.com/Thermoquad/flowbench/pkg/registers"
	"github.com/Thermoquad/flowbench/pkg/rig"
	"github.com/spf13/cobra"
	"go.bug.st/serial/enumerator"
)

var (
	portsScan    bool
	portsTimeout int
)

var portsCmd = &cobra.Command{
	Use:   "ports",
	Short: "List serial ports and find the bench controller",
	Long: `List the serial ports on this machine.

With --scan, every port is opened at each supported baud rate and asked for
the Flow Bench ID register. Ports that answer are reported as bench
controllers.

Examples:
  flowbench ports
  flowbench ports --scan

Exit codes:
  0 - At least one port listed (or, with --scan, one controller found)
  1 - No ports (or no controller) found
  2 - Port enumeration error`,
	RunE: runPorts,
}

func init() {
	rootCmd.AddCommand(portsCmd)
	portsCmd.Flags().BoolVar(&portsScan, "scan", false, "Probe each port for a bench controller")
	portsCmd.Flags().IntVar(&portsTimeout, "timeout", 1, "Timeout in seconds per port and baud rate")
}

func runPorts(cmd *cobra.Command, args []string) error {
	ports, err := enumerator.GetDetailedPortsList()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Enumeration error: %v\n", err)
		os.Exit(2)
	}

	fmt.Printf("Flowbench - Serial Ports\n\n")
	if len(ports) == 0 {
		fmt.Printf("No serial ports found\n")
		os.Exit(1)
	}

	for _, p := range ports {
		fmt.Printf("%s\n", p.Name)
		if p.IsUSB {
			fmt.Printf("  USB: %s:%s", p.VID, p.PID)
			if p.SerialNumber != "" {
				fmt.Printf("  Serial: %s", p.SerialNumber)
			}
			fmt.Printf("\n")
			if p.Product != "" {
				fmt.Printf("  Product: %s\n", p.Product)
			}
		}
	}

	if !portsScan {
		os.Exit(0)
	}

	fmt.Printf("\nScanning for bench controller (register %d)...\n", registers.AddrFlowBenchID)
	timeout := time.Duration(portsTimeout) * time.Second
	found := 0
	for _, p := range ports {
		for _, baud := range rig.SupportedBaudRates {
			id, err := scanPort(p.Name, baud, timeout)
			if err != nil {
				continue
			}
			found++
			fmt.Printf("\nController found:\n")
			fmt.Printf("  Port: %s\n", p.Name)
			fmt.Printf("  Baud: %d\n", baud)
			fmt.Printf("  Flow Bench ID: %d\n", id)
			break
		}
	}

	fmt.Printf("\n")
	if found == 0 {
		fmt.Printf("FAILED: No bench controller found\n")
		os.Exit(1)
	}
	fmt.Printf("SUCCESS: Found %d controller(s)\n", found)
	os.Exit(0)
	return nil
}

// scanPort sends a Flow Bench ID read on one port and waits for a valid reply
func scanPort(name string, baud int, timeout time.Duration) (uint16, error) {
	conn, err := rig.OpenSerial(name, baud)
	if err != nil {
		return 0, err
	}
	defer conn.Close()

	req, err := modbus.BuildReadRequest(registers.AddrFlowBenchID)
	if err != nil {
		return 0, err
	}
	if _, err := conn.Write(req); err != nil {
		return 0, err
	}

	result := make(chan uint16, 1)
	go func() {
		decoder := modbus.NewDecoder()
		buf := make([]byte, 64)
		for {
			n, err := conn.Read(buf)
			if err != nil {
				return
			}
			decoder.Write(buf[:n])
			for {
				frame, decodeErr := decoder.Next()
				if decodeErr != nil {
					continue
				}
				if frame == nil {
					break
				}
				if v, ok := frame.Value(); ok {
					result <- v
					return
				}
			}
		}
	}()

	select {
	case id := <-result:
		return id, nil
	case <-time.After(timeout):
		return 0, fmt.Errorf("no reply from %s at %d baud", name, baud)
	}
}
