// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package maestro

import (
	"bytes"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildSetTarget(t *testing.T) {
	tests := []struct {
		name     string
		channel  int
		us       int
		expected []byte
	}{
		{"1500us channel 0", 0, 1500, []byte{0x84, 0x00, 0x70, 0x2E}},
		{"1000us channel 0", 0, 1000, []byte{0x84, 0x00, 0x20, 0x1F}},
		{"2000us channel 5", 5, 2000, []byte{0x84, 0x05, 0x40, 0x3E}},
		{"zero", 0, 0, []byte{0x84, 0x00, 0x00, 0x00}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cmd, err := BuildSetTarget(tt.channel, tt.us)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, cmd)
		})
	}
}

func TestBuildSetTarget_DataBytesAre7Bit(t *testing.T) {
	for us := 0; us <= 4095; us += 7 {
		cmd, err := BuildSetTarget(0, us)
		require.NoError(t, err)
		assert.Zero(t, cmd[2]&0x80)
		assert.Zero(t, cmd[3]&0x80)
		assert.Equal(t, us*4, int(cmd[2])|int(cmd[3])<<7)
	}
}

func TestBuildSetTarget_InvalidChannel(t *testing.T) {
	for _, ch := range []int{-1, MaxChannel + 1, 255} {
		_, err := BuildSetTarget(ch, 1500)
		assert.True(t, errors.Is(err, ErrInvalidChannel), "channel %d", ch)
	}
}

func TestServo_SetPulseAndIncrement(t *testing.T) {
	var buf bytes.Buffer
	servo, err := NewServo(&buf, DefaultChannel)
	require.NoError(t, err)
	assert.Equal(t, PulseMin, servo.Pulse())

	require.NoError(t, servo.SetPulse(PulseCenter))
	require.NoError(t, servo.Increment(1))
	assert.Equal(t, PulseCenter+1, servo.Pulse())

	first, _ := BuildSetTarget(0, 1500)
	second, _ := BuildSetTarget(0, 1501)
	assert.Equal(t, append(first, second...), buf.Bytes())
}

func TestServo_IncrementBeforeFirstCommand(t *testing.T) {
	var buf bytes.Buffer
	servo, err := NewServo(&buf, DefaultChannel)
	require.NoError(t, err)

	require.NoError(t, servo.Increment(1))
	assert.Equal(t, PulseMin+1, servo.Pulse())

	want, _ := BuildSetTarget(DefaultChannel, PulseMin+1)
	assert.Equal(t, want, buf.Bytes())
}

func TestNewServo_InvalidChannel(t *testing.T) {
	_, err := NewServo(&bytes.Buffer{}, 24)
	assert.ErrorIs(t, err, ErrInvalidChannel)
}
