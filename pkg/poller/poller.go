// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package poller cycles through register addresses at a selectable rate.
package poller

import (
	"sync"
	"time"
)

// Rate selects the poll interval
type Rate int

const (
	RateIdle Rate = iota
	RateFast
)

// Default poll intervals
const (
	DefaultIdleInterval = 1000 * time.Millisecond
	DefaultFastInterval = 50 * time.Millisecond
)

// String returns the rate name
func (r Rate) String() string {
	switch r {
	case RateIdle:
		return "idle"
	case RateFast:
		return "fast"
	default:
		return "unknown"
	}
}

// Scheduler hands out register addresses round-robin. The cursor advances
// the same way regardless of the current rate.
type Scheduler struct {
	mu        sync.Mutex
	addresses []int
	cursor    int
	rate      Rate
	intervals [2]time.Duration
}

// NewScheduler creates a scheduler over the given addresses at idle rate
func NewScheduler(addresses []int, idle, fast time.Duration) *Scheduler {
	addrs := make([]int, len(addresses))
	copy(addrs, addresses)
	if idle <= 0 {
		idle = DefaultIdleInterval
	}
	if fast <= 0 {
		fast = DefaultFastInterval
	}
	return &Scheduler{
		addresses: addrs,
		intervals: [2]time.Duration{RateIdle: idle, RateFast: fast},
	}
}

// Next returns the address to poll and advances the cursor. Returns false
// when there is nothing to poll.
func (s *Scheduler) Next() (int, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.addresses) == 0 {
		return 0, false
	}
	addr := s.addresses[s.cursor]
	s.cursor = (s.cursor + 1) % len(s.addresses)
	return addr, true
}

// SetRate changes the poll rate
func (s *Scheduler) SetRate(r Rate) {
	s.mu.Lock()
	s.rate = r
	s.mu.Unlock()
}

// Rate returns the current poll rate
func (s *Scheduler) Rate() Rate {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rate
}

// Interval returns the tick interval for the current rate
func (s *Scheduler) Interval() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.rate == RateFast {
		return s.intervals[RateFast]
	}
	return s.intervals[RateIdle]
}

// Len returns the number of addresses in the cycle
func (s *Scheduler) Len() int {
	return len(s.addresses)
}
