// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package capture turns register snapshots into log records and writes them
// to CSV or CBOR sinks.
package capture

import (
	"strconv"
	"time"

	"github.com/Thermoquad/flowbench/pkg/registers"
	"github.com/google/uuid"
)

// NoData is emitted for registers that have not been read
const NoData = -1

// TimestampLayout is the ISO-8601 local time format used in capture files
const TimestampLayout = "2006-01-02T15:04:05"

// Record is one capture point
type Record struct {
	PulseWidth int
	Timestamp  time.Time
	Readings   []registers.Reading
}

// NewRecord snapshots the store in table order
func NewRecord(pulse int, at time.Time, store *registers.Store, table *registers.Table) Record {
	return Record{
		PulseWidth: pulse,
		Timestamp:  at,
		Readings:   store.Snapshot(table),
	}
}

// Values returns the scaled register values, NoData where unread
func (r Record) Values() []float64 {
	out := make([]float64, len(r.Readings))
	for i, rd := range r.Readings {
		if !rd.Valid {
			out[i] = NoData
			continue
		}
		out[i] = rd.Descriptor.Scale(rd.Raw)
	}
	return out
}

// Fields returns the record as text fields: pulse width, timestamp, then one
// value per register
func (r Record) Fields() []string {
	fields := make([]string, 0, len(r.Readings)+2)
	fields = append(fields, strconv.Itoa(r.PulseWidth), r.Timestamp.Format(TimestampLayout))
	for _, v := range r.Values() {
		fields = append(fields, strconv.FormatFloat(v, 'f', -1, 64))
	}
	return fields
}

// Metadata describes a capture run
type Metadata struct {
	RunID        uuid.UUID
	SerialNumber string
	CSVType      string
	Started      time.Time
}

// NewMetadata creates run metadata with a fresh run id
func NewMetadata(serial, csvType string) Metadata {
	return Metadata{
		RunID:        uuid.New(),
		SerialNumber: serial,
		CSVType:      csvType,
		Started:      time.Now(),
	}
}

// Sink receives capture records
type Sink interface {
	Write(rec Record) error
	Close() error
}
