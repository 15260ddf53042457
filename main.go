// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad
//
// Flowbench - Flow Bench Modbus-RTU Master
//
// A CLI tool for polling a flow bench controller, driving its airflow servo
// and running the automatic PWM ramp sequence.

package main

import (
	"os"

	"github.com/Thermoquad/flowbench/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
