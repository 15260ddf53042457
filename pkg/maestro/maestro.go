// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package maestro encodes Pololu Maestro compact-protocol servo commands.
package maestro

import (
	"errors"
	"fmt"
	"io"
	"sync"
)

// Compact protocol command bytes
const (
	CmdSetTarget = 0x84
)

// MaxChannel is the highest channel on the largest Maestro board
const MaxChannel = 23

// DefaultChannel is the channel the bench actuator is wired to
const DefaultChannel = 0

// Pulse width presets in microseconds
const (
	PulseMin    = 1000
	PulseCenter = 1500
	PulseMax    = 2000
)

// ErrInvalidChannel is returned for channels outside 0..MaxChannel
var ErrInvalidChannel = errors.New("invalid servo channel")

// BuildSetTarget encodes a Set Target command. The target is expressed in
// quarter-microseconds and split into two 7-bit bytes. Pulse widths are not
// range checked.
func BuildSetTarget(channel int, microseconds int) ([]byte, error) {
	if channel < 0 || channel > MaxChannel {
		return nil, fmt.Errorf("%w: %d", ErrInvalidChannel, channel)
	}

	target := microseconds * 4
	return []byte{
		CmdSetTarget,
		byte(channel),
		byte(target & 0x7F),
		byte((target >> 7) & 0x7F),
	}, nil
}

// Servo drives one Maestro channel over a byte stream and remembers the last
// pulse width it commanded
type Servo struct {
	mu      sync.Mutex
	w       io.Writer
	channel int
	pulse   int
}

// NewServo creates a servo on the given channel
func NewServo(w io.Writer, channel int) (*Servo, error) {
	if channel < 0 || channel > MaxChannel {
		return nil, fmt.Errorf("%w: %d", ErrInvalidChannel, channel)
	}
	return &Servo{w: w, channel: channel, pulse: PulseMin}, nil
}

// SetPulse commands a new pulse width
func (s *Servo) SetPulse(microseconds int) error {
	cmd, err := BuildSetTarget(s.channel, microseconds)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.w.Write(cmd); err != nil {
		return fmt.Errorf("write servo command: %w", err)
	}
	s.pulse = microseconds
	return nil
}

// Increment raises the pulse width by delta microseconds from the last
// commanded value
func (s *Servo) Increment(delta int) error {
	return s.SetPulse(s.Pulse() + delta)
}

// Pulse returns the last commanded pulse width, or PulseMin if none was sent
func (s *Servo) Pulse() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pulse
}

// Channel returns the servo channel
func (s *Servo) Channel() int {
	return s.channel
}
