// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package registers describes the holding registers exposed by the flow
// bench and keeps the most recent value read for each of them.
package registers

import (
	"sort"
)

// Well-known register addresses
const (
	AddrServoMode     = 40002
	AddrIntakeExhaust = 40003
	AddrAutoZero      = 40004
	AddrPause         = 40005
	AddrMotorEnable   = 40006
	AddrFlowBenchID   = 40007
	AddrFlowPressure  = 40008
	AddrFlowRate      = 40016
	AddrFrequency     = 40021
	AddrFullScaleFlow = 40022
	AddrLeakage       = 40026
	firstChannel      = AddrFlowPressure
	lastChannel       = AddrFrequency
)

// Descriptor is the static metadata for one holding register
type Descriptor struct {
	Address     int    `yaml:"address"`
	Name        string `yaml:"name"`
	Units       string `yaml:"units"`
	Description string `yaml:"description"`
	Multiplier  int    `yaml:"multiplier"`
	Divisor     int    `yaml:"divisor"`
	ReadOnly    bool   `yaml:"read_only"`
}

// Scale converts a raw register value for capture output. Registers without
// a divisor are emitted unscaled.
func (d Descriptor) Scale(raw uint16) float64 {
	v := float64(raw)
	if d.Multiplier > 1 {
		v *= float64(d.Multiplier)
	}
	if d.Divisor > 1 {
		v /= float64(d.Divisor)
	}
	return v
}

// Table is an immutable set of descriptors ordered by address
type Table struct {
	descriptors []Descriptor
	index       map[int]int
}

// NewTable validates the descriptors and returns them as an ordered table
func NewTable(descriptors []Descriptor) (*Table, error) {
	sorted := make([]Descriptor, len(descriptors))
	copy(sorted, descriptors)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Address < sorted[j].Address })

	if err := Validate(sorted); err != nil {
		return nil, err
	}

	t := &Table{
		descriptors: sorted,
		index:       make(map[int]int, len(sorted)),
	}
	for i, d := range sorted {
		t.index[d.Address] = i
	}
	return t, nil
}

// Len returns the number of registers in the table
func (t *Table) Len() int {
	return len(t.descriptors)
}

// Descriptors returns a copy of the descriptors in address order
func (t *Table) Descriptors() []Descriptor {
	out := make([]Descriptor, len(t.descriptors))
	copy(out, t.descriptors)
	return out
}

// Addresses returns the register addresses in ascending order
func (t *Table) Addresses() []int {
	out := make([]int, len(t.descriptors))
	for i, d := range t.descriptors {
		out[i] = d.Address
	}
	return out
}

// Lookup returns the descriptor for an address
func (t *Table) Lookup(address int) (Descriptor, bool) {
	i, ok := t.index[address]
	if !ok {
		return Descriptor{}, false
	}
	return t.descriptors[i], true
}

// Names returns the register names in address order
func (t *Table) Names() []string {
	out := make([]string, len(t.descriptors))
	for i, d := range t.descriptors {
		out[i] = d.Name
	}
	return out
}

// Channels returns the instrument channel registers (flow pressure through
// frequency) present in the table
func (t *Table) Channels() []Descriptor {
	var out []Descriptor
	for _, d := range t.descriptors {
		if d.Address >= firstChannel && d.Address <= lastChannel {
			out = append(out, d)
		}
	}
	return out
}

var defaultDescriptors = []Descriptor{
	{Address: AddrServoMode, Name: "Servo Mode", Description: "0=Test pressure mode, 1=Flow mode", Multiplier: 1},
	{Address: AddrIntakeExhaust, Name: "Intake/Exhaust", Description: "0=Intake, 1=Exhaust", Multiplier: 1},
	{Address: AddrAutoZero, Name: "AutoZero Now", Description: "1=Autozero all channels now", Multiplier: 1},
	{Address: AddrPause, Name: "Pause", Description: "0=Unpause, 1=Pause", Multiplier: 1},
	{Address: AddrMotorEnable, Name: "Motor On/Off", Description: "0=Off, 1=On", Multiplier: 1},
	{Address: AddrFlowBenchID, Name: "FlowBench ID", Description: "Flow bench model", Multiplier: 1, ReadOnly: true},
	{Address: 40008, Name: "Flow Pressure", Units: "Current Units", Description: "Flow pressure * 10", Multiplier: 1, ReadOnly: true},
	{Address: 40009, Name: "Test Pressure", Units: "Current Units", Description: "Test pressure * 10", Multiplier: 1, ReadOnly: true},
	{Address: 40010, Name: "Velocity Pressure", Units: "Current Units", Description: "Velocity pressure * 10", Multiplier: 1, ReadOnly: true},
	{Address: 40011, Name: "Barometric Pressure", Units: "Current Units", Description: "Baro * 100", Multiplier: 1, ReadOnly: true},
	{Address: 40012, Name: "Temperature #1", Units: "Current Units", Description: "Temp * 10", Multiplier: 1, ReadOnly: true},
	{Address: 40013, Name: "Temperature #2", Units: "Current Units", Description: "Temp * 10", Multiplier: 1, ReadOnly: true},
	{Address: 40014, Name: "Aux Input", Units: "Current Units", Description: "Aux Input * 10", Multiplier: 1, ReadOnly: true},
	{Address: 40015, Name: "Temperature #3", Units: "Current Units", Description: "Temp * 10", Multiplier: 1, ReadOnly: true},
	{Address: AddrFlowRate, Name: "Flow Rate", Units: "Current Units", Description: "Flow rate * 10", Multiplier: 1, Divisor: 10, ReadOnly: true},
	{Address: 40017, Name: "Velocity", Units: "Current Units", Description: "Velocity * 10", Multiplier: 1, ReadOnly: true},
	{Address: 40018, Name: "Delta Temperature", Units: "Current Units", Description: "∆T * 10", Multiplier: 1, ReadOnly: true},
	{Address: 40019, Name: "Percent Flow", Units: "None", Description: "%Flow * 10", Multiplier: 1, ReadOnly: true},
	{Address: 40020, Name: "Swirl", Units: "Current Units", Description: "Swirl * 10", Multiplier: 1, ReadOnly: true},
	{Address: AddrFrequency, Name: "Frequency", Units: "Hz", Description: "Freq * 10", Multiplier: 1, ReadOnly: true},
	{Address: AddrFullScaleFlow, Name: "Full-scale Flow", Units: "Current Units", Description: "Flow * 10", Multiplier: 1, ReadOnly: true},
	{Address: 40023, Name: "Range Setting", Description: "1 to MaxRange", Multiplier: 1},
	{Address: 40024, Name: "Test Pressure Setting", Units: "Current Units", Description: "Pressure * 100", Multiplier: 1},
	{Address: 40025, Name: "Flow Rate Setting", Units: "Current Units", Description: "Flow rate * 10", Multiplier: 1},
	{Address: AddrLeakage, Name: "Leakage", Units: "Current Units", Description: "Leakage flow rate * 10", Multiplier: 1},
}

// DefaultTable returns the built-in register table of the flow bench
func DefaultTable() *Table {
	t, err := NewTable(defaultDescriptors)
	if err != nil {
		panic("registers: invalid default table: " + err.Error())
	}
	return t
}
