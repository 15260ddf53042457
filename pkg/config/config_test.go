// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/Thermoquad/flowbench/pkg/sequence"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "flowbench.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadConfig_Defaults(t *testing.T) {
	prevWD, wdErr := os.Getwd()
	require.NoError(t, wdErr)
	require.NoError(t, os.Chdir(t.TempDir()))
	t.Cleanup(func() { _ = os.Chdir(prevWD) })

	cfg, err := LoadConfig("", nil)
	require.NoError(t, err)

	assert.Equal(t, 9600, cfg.Serial.BaudRate)
	assert.Equal(t, 500*time.Millisecond, cfg.Serial.Timeout)
	assert.Equal(t, time.Second, cfg.Poll.Idle)
	assert.Equal(t, 50*time.Millisecond, cfg.Poll.Fast)
	assert.Equal(t, sequence.DefaultConfig(), cfg.Sequence)
	assert.Equal(t, "autosequence_log.csv", cfg.Capture.File)
	assert.Equal(t, FormatCSV, cfg.Capture.Format)
	assert.Equal(t, "info", cfg.Log.Level)
}

func TestLoadConfig_File(t *testing.T) {
	path := writeConfig(t, `
serial:
  port: /dev/ttyUSB0
  baud_rate: 19200
servo:
  port: /dev/ttyACM0
sequence:
  min_pulse: 1100
  max_pulse: 1900
  step_hold: 2s
capture:
  format: CBOR
  serial_number: FB-12
log:
  level: debug
`)

	cfg, err := LoadConfig(path, nil)
	require.NoError(t, err)

	assert.Equal(t, "/dev/ttyUSB0", cfg.Serial.Port)
	assert.Equal(t, 19200, cfg.Serial.BaudRate)
	assert.Equal(t, "/dev/ttyACM0", cfg.Servo.Port)
	assert.Equal(t, 9600, cfg.Servo.BaudRate)
	assert.Equal(t, 1100, cfg.Sequence.MinPulse)
	assert.Equal(t, 1900, cfg.Sequence.MaxPulse)
	assert.Equal(t, 2*time.Second, cfg.Sequence.StepHold)
	assert.Equal(t, 15*time.Second, cfg.Sequence.BaselineHold)
	assert.Equal(t, FormatCBOR, cfg.Capture.Format)
	assert.Equal(t, "FB-12", cfg.Capture.SerialNumber)
	assert.Equal(t, "debug", cfg.Log.Level)
}

func TestLoadConfig_FlagsOverrideFile(t *testing.T) {
	path := writeConfig(t, "serial:\n  port: /dev/ttyUSB0\n  baud_rate: 19200\n")

	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	flags.String("port", "", "")
	flags.Int("baud", 9600, "")
	require.NoError(t, flags.Parse([]string{"--port", "/dev/ttyS3"}))

	cfg, err := LoadConfig(path, flags)
	require.NoError(t, err)

	assert.Equal(t, "/dev/ttyS3", cfg.Serial.Port, "changed flag wins")
	assert.Equal(t, 19200, cfg.Serial.BaudRate, "unchanged flag keeps file value")
}

func TestLoadConfig_MissingExplicitFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yaml"), nil)
	assert.Error(t, err)
}

func TestLoadConfig_Invalid(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"bad format", "capture:\n  format: xml\n"},
		{"zero increment", "sequence:\n  increment: 0\n"},
		{"inverted range", "sequence:\n  min_pulse: 2000\n  max_pulse: 1000\n"},
		{"zero baud", "serial:\n  baud_rate: 0\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadConfig(writeConfig(t, tt.body), nil)
			assert.ErrorIs(t, err, ErrInvalidConfig)
		})
	}
}
