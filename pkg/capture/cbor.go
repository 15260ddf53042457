// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package capture

import (
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/Thermoquad/flowbench/pkg/registers"
	"github.com/fxamacker/cbor/v2"
	"github.com/google/uuid"
)

// CBOR capture messages are [msg_type, payload_map] items in a CBOR sequence
const (
	MsgHeader = 0
	MsgRecord = 1
)

// Header payload keys
const (
	keyRunID     = 0
	keySerial    = 1
	keyCSVType   = 2
	keyStarted   = 3
	keyAddresses = 4
	keyNames     = 5
)

// Record payload keys
const (
	keyPulse     = 0
	keyTimestamp = 1
	keyValues    = 2
)

// ErrSinkClosed is returned by writes after Close
var ErrSinkClosed = errors.New("capture sink closed")

// CBORSink writes a header message followed by one message per record
type CBORSink struct {
	out    io.WriteCloser
	enc    *cbor.Encoder
	closed bool
}

// NewCBORSink writes the header to out and returns the sink
func NewCBORSink(out io.WriteCloser, table *registers.Table, meta Metadata) (*CBORSink, error) {
	s := &CBORSink{out: out, enc: cbor.NewEncoder(out)}

	header := map[int]interface{}{
		keyRunID:     meta.RunID.String(),
		keySerial:    meta.SerialNumber,
		keyCSVType:   meta.CSVType,
		keyStarted:   meta.Started.UnixMilli(),
		keyAddresses: table.Addresses(),
		keyNames:     table.Names(),
	}
	if err := s.enc.Encode([]interface{}{MsgHeader, header}); err != nil {
		return nil, fmt.Errorf("encode cbor header: %w", err)
	}
	return s, nil
}

// CreateCBOR creates path and opens a CBOR sink on it
func CreateCBOR(path string, table *registers.Table, meta Metadata) (*CBORSink, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create capture file: %w", err)
	}
	s, err := NewCBORSink(f, table, meta)
	if err != nil {
		f.Close()
		return nil, err
	}
	return s, nil
}

// Write encodes a record
func (s *CBORSink) Write(rec Record) error {
	if s.closed {
		return ErrSinkClosed
	}
	payload := map[int]interface{}{
		keyPulse:     rec.PulseWidth,
		keyTimestamp: rec.Timestamp.UnixMilli(),
		keyValues:    rec.Values(),
	}
	if err := s.enc.Encode([]interface{}{MsgRecord, payload}); err != nil {
		return fmt.Errorf("encode cbor record: %w", err)
	}
	return nil
}

// Close closes the underlying writer. Closing twice is a no-op.
func (s *CBORSink) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	return s.out.Close()
}

// DecodedRecord is a record read back from a CBOR capture
type DecodedRecord struct {
	PulseWidth int
	Timestamp  time.Time
	Values     []float64
}

// DecodedCapture is a CBOR capture file read back into memory
type DecodedCapture struct {
	RunID        uuid.UUID
	SerialNumber string
	CSVType      string
	Started      time.Time
	Addresses    []int
	Names        []string
	Records      []DecodedRecord
}

type cborHeader struct {
	RunID     string   `cbor:"0,keyasint"`
	Serial    string   `cbor:"1,keyasint"`
	CSVType   string   `cbor:"2,keyasint"`
	Started   int64    `cbor:"3,keyasint"`
	Addresses []int    `cbor:"4,keyasint"`
	Names     []string `cbor:"5,keyasint"`
}

type cborRecord struct {
	Pulse     int       `cbor:"0,keyasint"`
	Timestamp int64     `cbor:"1,keyasint"`
	Values    []float64 `cbor:"2,keyasint"`
}

type cborMessage struct {
	_       struct{} `cbor:",toarray"`
	Type    int
	Payload cbor.RawMessage
}

// ReadCBOR decodes a CBOR capture stream
func ReadCBOR(r io.Reader) (*DecodedCapture, error) {
	dec := cbor.NewDecoder(r)
	var out *DecodedCapture

	for {
		var msg cborMessage
		if err := dec.Decode(&msg); err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, fmt.Errorf("failed to decode CBOR: %w", err)
		}

		switch msg.Type {
		case MsgHeader:
			var h cborHeader
			if err := cbor.Unmarshal(msg.Payload, &h); err != nil {
				return nil, fmt.Errorf("decode header: %w", err)
			}
			id, err := uuid.Parse(h.RunID)
			if err != nil {
				return nil, fmt.Errorf("decode run id: %w", err)
			}
			out = &DecodedCapture{
				RunID:        id,
				SerialNumber: h.Serial,
				CSVType:      h.CSVType,
				Started:      time.UnixMilli(h.Started),
				Addresses:    h.Addresses,
				Names:        h.Names,
			}
		case MsgRecord:
			if out == nil {
				return nil, fmt.Errorf("record before header")
			}
			var rec cborRecord
			if err := cbor.Unmarshal(msg.Payload, &rec); err != nil {
				return nil, fmt.Errorf("decode record: %w", err)
			}
			out.Records = append(out.Records, DecodedRecord{
				PulseWidth: rec.Pulse,
				Timestamp:  time.UnixMilli(rec.Timestamp),
				Values:     rec.Values,
			})
		default:
			return nil, fmt.Errorf("unknown message type %d", msg.Type)
		}
	}

	if out == nil {
		return nil, fmt.Errorf("empty capture")
	}
	return out, nil
}
