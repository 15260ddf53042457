// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package registers

import (
	"sync"
	"time"
)

// Value is the last raw value read from a register
type Value struct {
	Address int
	Raw     uint16
	Updated time.Time
}

// Reading is one entry of a snapshot. Valid is false when the register has
// not been read yet.
type Reading struct {
	Descriptor Descriptor
	Raw        uint16
	Valid      bool
}

// Store holds the most recent value of every register that has been read.
// Values are overwritten in place and never removed.
type Store struct {
	mu     sync.RWMutex
	values map[int]Value
}

// NewStore creates an empty register store
func NewStore() *Store {
	return &Store{values: make(map[int]Value)}
}

// Update records a value read from a register
func (s *Store) Update(address int, raw uint16, at time.Time) {
	s.mu.Lock()
	s.values[address] = Value{Address: address, Raw: raw, Updated: at}
	s.mu.Unlock()
}

// Get returns the last value for an address, or false when no data exists
func (s *Store) Get(address int) (Value, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.values[address]
	return v, ok
}

// Len returns the number of registers with data
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.values)
}

// Snapshot returns one reading per table entry, in table order, taken under
// a single lock
func (s *Store) Snapshot(t *Table) []Reading {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Reading, 0, t.Len())
	for _, d := range t.descriptors {
		v, ok := s.values[d.Address]
		out = append(out, Reading{Descriptor: d, Raw: v.Raw, Valid: ok})
	}
	return out
}
