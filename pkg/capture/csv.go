// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package capture

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"

	"github.com/Thermoquad/flowbench/pkg/registers"
)

// DefaultCSVFile is used when no capture file is named
const DefaultCSVFile = "autosequence_log.csv"

// CSVSink writes one comma-separated line per record after a commented
// metadata header and a column header
type CSVSink struct {
	out    io.WriteCloser
	w      *csv.Writer
	closed bool
}

// NewCSVSink writes the header to out and returns the sink
func NewCSVSink(out io.WriteCloser, table *registers.Table, meta Metadata) (*CSVSink, error) {
	header := fmt.Sprintf("# Serial Number: %s\n# CSV Type: %s\n# Run ID: %s\n",
		meta.SerialNumber, meta.CSVType, meta.RunID)
	if _, err := io.WriteString(out, header); err != nil {
		return nil, fmt.Errorf("write csv metadata: %w", err)
	}

	s := &CSVSink{out: out, w: csv.NewWriter(out)}
	columns := append([]string{"PWM", "Timestamp"}, table.Names()...)
	if err := s.writeRow(columns); err != nil {
		return nil, err
	}
	return s, nil
}

// CreateCSV creates path and opens a CSV sink on it
func CreateCSV(path string, table *registers.Table, meta Metadata) (*CSVSink, error) {
	if path == "" {
		path = DefaultCSVFile
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create capture file: %w", err)
	}
	s, err := NewCSVSink(f, table, meta)
	if err != nil {
		f.Close()
		return nil, err
	}
	return s, nil
}

// Write appends a record and flushes it
func (s *CSVSink) Write(rec Record) error {
	if s.closed {
		return ErrSinkClosed
	}
	return s.writeRow(rec.Fields())
}

func (s *CSVSink) writeRow(row []string) error {
	if err := s.w.Write(row); err != nil {
		return fmt.Errorf("write csv row: %w", err)
	}
	s.w.Flush()
	if err := s.w.Error(); err != nil {
		return fmt.Errorf("flush csv: %w", err)
	}
	return nil
}

// Close flushes and closes the underlying writer. Closing twice is a no-op.
func (s *CSVSink) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	s.w.Flush()
	if err := s.w.Error(); err != nil {
		s.out.Close()
		return fmt.Errorf("flush csv: %w", err)
	}
	return s.out.Close()
}
