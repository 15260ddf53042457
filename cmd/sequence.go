// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/Thermoquad/flowbench/pkg/config"
	"github.com/Thermoquad/flowbench/pkg/sequence"
	"github.com/spf13/cobra"
)

var (
	seqOutput       string
	seqFormat       string
	seqSerialNumber string
	seqCSVType      string
)

var sequenceCmd = &cobra.Command{
	Use:   "sequence",
	Short: "Run the auto sequence without the terminal UI",
	Long: `Run one auto sequence and log readings to a capture file.

The sequence enables the motor, holds a baseline at the minimum pulse width,
then ramps the servo to the maximum in fixed increments. After each hold the
full register set is captured. The motor is disabled and the servo returned
to minimum when the ramp completes.

Press Ctrl+C to stop early. A stopped run keeps the records captured so far.

Exit codes:
  0 - Sequence completed
  1 - Sequence stopped or failed`,
	RunE: runSequence,
}

func init() {
	rootCmd.AddCommand(sequenceCmd)
	sequenceCmd.Flags().StringVarP(&seqOutput, "output", "o", "", "Capture file (default from profile, autosequence_log.csv)")
	sequenceCmd.Flags().StringVar(&seqFormat, "format", "", "Capture format: csv or cbor")
	sequenceCmd.Flags().StringVar(&seqSerialNumber, "serial-number", "", "Unit serial number for the capture header")
	sequenceCmd.Flags().StringVar(&seqCSVType, "csv-type", "", "Capture type label for the capture header")
	sequenceCmd.Flags().IntVar(&connectTimeout, "connect-timeout", 10, "Seconds to wait for the Modbus link")
}

// applyCaptureFlags overrides the capture section of the profile
func applyCaptureFlags(c *config.Config) error {
	if seqOutput != "" {
		c.Capture.File = seqOutput
	}
	if seqFormat != "" {
		c.Capture.Format = strings.ToLower(seqFormat)
	}
	if seqSerialNumber != "" {
		c.Capture.SerialNumber = seqSerialNumber
	}
	if seqCSVType != "" {
		c.Capture.CSVType = seqCSVType
	}
	return c.Validate()
}

func runSequence(cmd *cobra.Command, args []string) error {
	if err := applyCaptureFlags(cfg); err != nil {
		return err
	}

	sigCtx, stopSignals := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stopSignals()

	// The session outlives the signal context so Stop can still be sent
	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	b, err := connectBench(ctx)
	if err != nil {
		return err
	}

	fmt.Printf("Flowbench - Auto Sequence\n")
	fmt.Printf("Range: %d-%d us in %d us steps (%d steps)\n",
		cfg.Sequence.MinPulse, cfg.Sequence.MaxPulse, cfg.Sequence.Increment, cfg.Sequence.TotalSteps())
	fmt.Printf("Estimated duration: %s\n", cfg.Sequence.Duration().Round(time.Second))
	fmt.Printf("Capture: %s (%s)\n", cfg.Capture.File, cfg.Capture.Format)
	fmt.Printf("Press Ctrl+C to stop\n\n")

	if err := b.session.StartSequence(ctx); err != nil {
		return err
	}
	started := time.Now()

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	last := sequence.State{}
	for {
		select {
		case <-sigCtx.Done():
			if err := b.session.StopSequence(ctx); err != nil {
				return err
			}
			fmt.Printf("\nSequence stopped after %s\n", time.Since(started).Round(time.Second))
			os.Exit(1)

		case n := <-b.session.Notices():
			printNotice(n)

		case err := <-b.errs:
			return err

		case <-ticker.C:
			status, err := b.session.Status(ctx)
			if err != nil {
				return err
			}
			if status.RunsComplete > 0 {
				fmt.Printf("\nSequence complete in %s\n", time.Since(started).Round(time.Second))
				fmt.Printf("Capture written to %s\n", cfg.Capture.File)
				return nil
			}
			if status.Sequence.Phase != last.Phase || status.Sequence.StepIndex != last.StepIndex {
				printProgress(status.Sequence, status.TotalSteps)
				last = status.Sequence
			}
		}
	}
}

// printProgress prints one line per phase or step change
func printProgress(st sequence.State, total int) {
	timestamp := time.Now().Format("15:04:05")
	switch st.Phase {
	case sequence.PhaseRamp:
		fmt.Printf("[%s] %s step %d/%d pulse=%dus poll=%s\n", timestamp, st.Phase, st.StepIndex+1, total, st.PulseWidth, st.PollRate)
	default:
		fmt.Printf("[%s] %s pulse=%dus poll=%s\n", timestamp, st.Phase, st.PulseWidth, st.PollRate)
	}
}
