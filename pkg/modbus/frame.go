// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package modbus

import (
	"encoding/binary"
	"time"
)

// Frame is one complete, checksum-delimited response taken off the wire.
type Frame struct {
	raw       []byte
	timestamp time.Time
}

// NewFrame wraps raw response bytes. The caller hands over ownership of raw.
func NewFrame(raw []byte) *Frame {
	return &Frame{raw: raw, timestamp: time.Now()}
}

// Bytes returns the raw frame including the CRC
func (f *Frame) Bytes() []byte {
	return f.raw
}

// Length returns the frame size in bytes
func (f *Frame) Length() int {
	return len(f.raw)
}

// SlaveID returns the unit id the frame came from
func (f *Frame) SlaveID() byte {
	return f.raw[0]
}

// Function returns the function code with the exception bit cleared
func (f *Frame) Function() byte {
	return f.raw[1] &^ ExceptionBit
}

// IsException reports whether the slave flagged the response as an exception
func (f *Frame) IsException() bool {
	return f.raw[1]&ExceptionBit != 0
}

// CRC returns the checksum carried by the frame
func (f *Frame) CRC() uint16 {
	return frameCRC(f.raw)
}

// Timestamp returns when the frame was extracted from the stream
func (f *Frame) Timestamp() time.Time {
	return f.timestamp
}

// Value returns the first register of a read response.
// ok is false for any other frame.
func (f *Frame) Value() (value uint16, ok bool) {
	if f.IsException() || f.raw[1] != FuncReadHoldingRegister || len(f.raw) < 7 || f.raw[2] < 2 {
		return 0, false
	}
	return binary.BigEndian.Uint16(f.raw[3:5]), true
}

// WriteEcho returns the wire address and value echoed by a write response.
func (f *Frame) WriteEcho() (wire uint16, value uint16, ok bool) {
	if f.IsException() || f.raw[1] != FuncWriteSingleRegister || len(f.raw) != WriteResponseSize {
		return 0, 0, false
	}
	return binary.BigEndian.Uint16(f.raw[2:4]), binary.BigEndian.Uint16(f.raw[4:6]), true
}

// ExceptionCode returns the exception code of an exception response
func (f *Frame) ExceptionCode() byte {
	if !f.IsException() {
		return 0
	}
	return f.raw[2]
}
