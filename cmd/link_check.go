// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"
	"os"
	"time"

	"github.com/Thermoquad/flowbench/pkg/modbus"
	"github.com/Thermoquad/flowbench/pkg/registers"
	"github.com/spf13/cobra"
)

var (
	linkCheckDuration int
	linkCheckInterval time.Duration
)

var linkCheckCmd = &cobra.Command{
	Use:   "link_check",
	Short: "Test Modbus link stability and round-trip time",
	Long: `Hold the Modbus link open and read the Flow Bench ID register repeatedly.

Each request waits for its reply (or the response timeout) before the next is
sent. Round-trip times and failures are printed as they happen, followed by a
summary. Useful for debugging a noisy serial line or an unstable WebSocket
bridge.

Exit codes:
  0 - Every request was answered
  1 - One or more requests failed
  2 - Connection error`,
	RunE: runLinkCheck,
}

func init() {
	rootCmd.AddCommand(linkCheckCmd)
	linkCheckCmd.Flags().IntVar(&linkCheckDuration, "duration", 30, "Test duration in seconds")
	linkCheckCmd.Flags().DurationVar(&linkCheckInterval, "interval", 250*time.Millisecond, "Delay between requests")
}

func runLinkCheck(cmd *cobra.Command, args []string) error {
	conn, connInfo, err := OpenConnection(cmd.Context())
	if err != nil {
		fmt.Fprintf(os.Stderr, "Connection error: %v\n", err)
		os.Exit(2)
	}
	defer conn.Close()

	fmt.Printf("Modbus Link Stability Test\n")
	fmt.Printf("Connection: %s\n", connInfo)
	fmt.Printf("Duration: %d seconds\n\n", linkCheckDuration)

	req, err := modbus.BuildReadRequest(registers.AddrFlowBenchID)
	if err != nil {
		return err
	}

	// Reader goroutine decodes frames for the request loop
	frames := make(chan *modbus.Frame, 16)
	decodeErrs := make(chan error, 16)
	readErr := make(chan error, 1)
	go func() {
		decoder := modbus.NewDecoder()
		buf := make([]byte, 256)
		for {
			n, err := conn.Read(buf)
			if err != nil {
				readErr <- err
				return
			}
			decoder.Write(buf[:n])
			for {
				frame, decodeErr := decoder.Next()
				if decodeErr != nil {
					decodeErrs <- decodeErr
					continue
				}
				if frame == nil {
					break
				}
				frames <- frame
			}
		}
	}()

	stats := modbus.NewStatistics()
	var totalRTT, maxRTT time.Duration
	endTime := time.Now().Add(time.Duration(linkCheckDuration) * time.Second)

	for time.Now().Before(endTime) {
		sent := time.Now()
		if _, err := conn.Write(req); err != nil {
			fmt.Fprintf(os.Stderr, "Write error: %v\n", err)
			os.Exit(2)
		}
		stats.RequestsSent++

		select {
		case frame := <-frames:
			stats.Update(frame, nil)
			rtt := time.Since(sent)
			totalRTT += rtt
			if rtt > maxRTT {
				maxRTT = rtt
			}
			value, _ := frame.Value()
			fmt.Printf("[%s] reply id=%d rtt=%s\n", time.Now().Format("15:04:05.000"), value, rtt.Round(time.Microsecond))

		case err := <-decodeErrs:
			stats.Update(nil, err)
			fmt.Printf("[%s] \033[1;31mERROR:\033[0m %v\n", time.Now().Format("15:04:05.000"), err)

		case err := <-readErr:
			fmt.Printf("\n[%s] Connection error: %v\n", time.Now().Format("15:04:05.000"), err)
			printLinkCheckResults(stats, totalRTT, maxRTT)
			fmt.Printf("Result: FAILED (connection error)\n")
			os.Exit(1)

		case <-time.After(cfg.Serial.Timeout):
			stats.Timeouts++
			fmt.Printf("[%s] \033[1;33mTIMEOUT\033[0m after %s\n", time.Now().Format("15:04:05.000"), cfg.Serial.Timeout)
		}

		time.Sleep(linkCheckInterval)
	}

	printLinkCheckResults(stats, totalRTT, maxRTT)
	if stats.ValidFrames != stats.RequestsSent {
		fmt.Printf("Result: FAILED (%d of %d requests unanswered)\n", stats.RequestsSent-stats.ValidFrames, stats.RequestsSent)
		os.Exit(1)
	}
	fmt.Printf("Result: PASSED (link stable)\n")
	return nil
}

func printLinkCheckResults(stats *modbus.Statistics, totalRTT, maxRTT time.Duration) {
	fmt.Printf("\n--- Test Results ---\n")
	fmt.Print(stats.String())
	if stats.ValidFrames > 0 {
		avg := totalRTT / time.Duration(stats.ValidFrames)
		fmt.Printf("Round trip: avg %s, max %s\n", avg.Round(time.Microsecond), maxRTT.Round(time.Microsecond))
	}
}
