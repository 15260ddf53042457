// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package sequence

import (
	"errors"
	"fmt"
	"time"
)

// Default sequence timing and range
const (
	DefaultMinPulse       = 1000
	DefaultMaxPulse       = 2000
	DefaultIncrement      = 10
	DefaultEnableDelay    = 1 * time.Second
	DefaultBaselineHold   = 15 * time.Second
	DefaultStepHold       = 5 * time.Second
	DefaultSettle         = 100 * time.Millisecond
	DefaultEnableRegister = 40006
)

// ErrInvalidConfig is wrapped by Config.Validate failures
var ErrInvalidConfig = errors.New("invalid sequence config")

// Config is the pulse-width range and timing of an auto sequence
type Config struct {
	MinPulse       int           `mapstructure:"min_pulse"`
	MaxPulse       int           `mapstructure:"max_pulse"`
	Increment      int           `mapstructure:"increment"`
	EnableDelay    time.Duration `mapstructure:"enable_delay"`
	BaselineHold   time.Duration `mapstructure:"baseline_hold"`
	StepHold       time.Duration `mapstructure:"step_hold"`
	Settle         time.Duration `mapstructure:"settle"`
	EnableRegister int           `mapstructure:"enable_register"`
}

// DefaultConfig returns the bench's standard 1000-2000us sweep
func DefaultConfig() Config {
	return Config{
		MinPulse:       DefaultMinPulse,
		MaxPulse:       DefaultMaxPulse,
		Increment:      DefaultIncrement,
		EnableDelay:    DefaultEnableDelay,
		BaselineHold:   DefaultBaselineHold,
		StepHold:       DefaultStepHold,
		Settle:         DefaultSettle,
		EnableRegister: DefaultEnableRegister,
	}
}

// Validate checks the range and timing values
func (c Config) Validate() error {
	if c.Increment <= 0 {
		return fmt.Errorf("%w: increment must be positive, got %d", ErrInvalidConfig, c.Increment)
	}
	if c.MaxPulse < c.MinPulse {
		return fmt.Errorf("%w: max pulse %d below min pulse %d", ErrInvalidConfig, c.MaxPulse, c.MinPulse)
	}
	if c.MinPulse < 0 {
		return fmt.Errorf("%w: negative min pulse %d", ErrInvalidConfig, c.MinPulse)
	}
	if c.EnableDelay < 0 || c.BaselineHold < 0 || c.StepHold < 0 || c.Settle < 0 {
		return fmt.Errorf("%w: negative delay", ErrInvalidConfig)
	}
	if c.EnableRegister < 40001 {
		return fmt.Errorf("%w: enable register %d", ErrInvalidConfig, c.EnableRegister)
	}
	return nil
}

// TotalSteps is the number of ramp steps, counting both ends of the range
func (c Config) TotalSteps() int {
	if c.Increment <= 0 || c.MaxPulse < c.MinPulse {
		return 0
	}
	return (c.MaxPulse-c.MinPulse)/c.Increment + 1
}

// PulseAt returns the ramp pulse width for a step
func (c Config) PulseAt(step int) int {
	return c.MinPulse + step*c.Increment
}

// Duration estimates the wall time of a full run
func (c Config) Duration() time.Duration {
	steps := time.Duration(c.TotalSteps())
	return c.EnableDelay + c.BaselineHold + c.Settle + steps*(c.StepHold+c.Settle)
}
