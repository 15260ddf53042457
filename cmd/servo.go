// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/Thermoquad/flowbench/pkg/maestro"
	"github.com/spf13/cobra"
)

var (
	servoIncrement int
	servoSteps     int
	servoInterval  time.Duration
)

var servoCmd = &cobra.Command{
	Use:   "servo TARGET",
	Short: "Move the airflow servo",
	Long: `Command the Maestro servo controller to a pulse width.

TARGET is "min" (1000us), "center" (1500us), "max" (2000us) or a pulse width
in microseconds. With --steps, the servo is then moved --increment
microseconds at a time, waiting --interval between moves.

Only the Maestro port is opened; the Modbus link is not needed.

Examples:
  flowbench servo --servo-port /dev/ttyACM0 center
  flowbench servo --servo-port /dev/ttyACM0 1000 --increment 1 --steps 20`,
	Args: cobra.ExactArgs(1),
	RunE: runServo,
}

func init() {
	rootCmd.AddCommand(servoCmd)
	servoCmd.Flags().IntVar(&servoIncrement, "increment", 1, "Microseconds per step")
	servoCmd.Flags().IntVar(&servoSteps, "steps", 0, "Number of increments after reaching TARGET")
	servoCmd.Flags().DurationVar(&servoInterval, "interval", 100*time.Millisecond, "Delay between increments")
}

// parsePulse accepts a preset name or a pulse width in microseconds
func parsePulse(arg string) (int, error) {
	switch strings.ToLower(arg) {
	case "min":
		return maestro.PulseMin, nil
	case "center", "centre":
		return maestro.PulseCenter, nil
	case "max":
		return maestro.PulseMax, nil
	}
	us, err := strconv.Atoi(arg)
	if err != nil {
		return 0, fmt.Errorf("invalid target %q (use min, center, max or microseconds)", arg)
	}
	return us, nil
}

func runServo(cmd *cobra.Command, args []string) error {
	target, err := parsePulse(args[0])
	if err != nil {
		return err
	}

	conn, err := OpenServo(cfg)
	if err != nil {
		return err
	}
	if conn == nil {
		return fmt.Errorf("--servo-port must be specified")
	}
	defer conn.Close()

	servo, err := maestro.NewServo(conn, cfg.Servo.Channel)
	if err != nil {
		return err
	}

	fmt.Printf("Flowbench - Servo\n")
	fmt.Printf("Port: %s @ %d baud, channel %d\n\n", cfg.Servo.Port, cfg.Servo.BaudRate, servo.Channel())

	if err := servo.SetPulse(target); err != nil {
		return err
	}
	fmt.Printf("Pulse: %d us\n", servo.Pulse())

	for i := 0; i < servoSteps; i++ {
		select {
		case <-cmd.Context().Done():
			return nil
		case <-time.After(servoInterval):
		}
		if err := servo.Increment(servoIncrement); err != nil {
			return err
		}
		fmt.Printf("Pulse: %d us\n", servo.Pulse())
	}
	return nil
}
