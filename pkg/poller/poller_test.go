// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package poller

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScheduler_CyclesInOrder(t *testing.T) {
	s := NewScheduler([]int{40002, 40003, 40004}, 0, 0)

	var got []int
	for i := 0; i < 7; i++ {
		addr, ok := s.Next()
		require.True(t, ok)
		got = append(got, addr)
	}
	assert.Equal(t, []int{40002, 40003, 40004, 40002, 40003, 40004, 40002}, got)
}

func TestScheduler_Empty(t *testing.T) {
	s := NewScheduler(nil, 0, 0)
	_, ok := s.Next()
	assert.False(t, ok)
}

func TestScheduler_RateDoesNotResetCursor(t *testing.T) {
	s := NewScheduler([]int{1, 2, 3}, time.Second, 50*time.Millisecond)

	first, _ := s.Next()
	s.SetRate(RateFast)
	second, _ := s.Next()
	s.SetRate(RateIdle)
	third, _ := s.Next()

	assert.Equal(t, []int{1, 2, 3}, []int{first, second, third})
}

func TestScheduler_Interval(t *testing.T) {
	s := NewScheduler([]int{1}, 0, 0)
	assert.Equal(t, RateIdle, s.Rate())
	assert.Equal(t, DefaultIdleInterval, s.Interval())

	s.SetRate(RateFast)
	assert.Equal(t, RateFast, s.Rate())
	assert.Equal(t, DefaultFastInterval, s.Interval())

	custom := NewScheduler([]int{1}, 2*time.Second, 10*time.Millisecond)
	custom.SetRate(RateFast)
	assert.Equal(t, 10*time.Millisecond, custom.Interval())
}

func TestScheduler_CopiesAddresses(t *testing.T) {
	addrs := []int{1, 2}
	s := NewScheduler(addrs, 0, 0)
	addrs[0] = 99

	addr, _ := s.Next()
	assert.Equal(t, 1, addr)
	assert.Equal(t, 2, s.Len())
}

func TestRate_String(t *testing.T) {
	assert.Equal(t, "idle", RateIdle.String())
	assert.Equal(t, "fast", RateFast.String())
	assert.Equal(t, "unknown", Rate(9).String())
}
