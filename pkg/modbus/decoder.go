// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package modbus

// Decoder frames Modbus-RTU responses out of an append-only byte stream.
//
// Bytes are handed over with Write as they arrive; Next extracts frames one at
// a time. A partial frame stays buffered across calls, so deliveries may split
// a frame anywhere. The decoder has no idea which request a response answers;
// that correlation belongs to the caller.
type Decoder struct {
	buf       []byte
	discarded uint64 // bytes dropped while resynchronizing
}

// NewDecoder creates a new response decoder
func NewDecoder() *Decoder {
	return &Decoder{
		buf: make([]byte, 0, MaxFrameSize),
	}
}

// Reset drops all buffered bytes
func (d *Decoder) Reset() {
	d.buf = d.buf[:0]
}

// ResetCounters clears the discard count and keeps buffered bytes
func (d *Decoder) ResetCounters() {
	d.discarded = 0
}

// Write appends inbound bytes. It never fails.
func (d *Decoder) Write(p []byte) (int, error) {
	d.buf = append(d.buf, p...)
	return len(p), nil
}

// Buffered returns the number of bytes waiting for a complete frame
func (d *Decoder) Buffered() int {
	return len(d.buf)
}

// Discarded returns the total number of bytes dropped during resynchronization
func (d *Decoder) Discarded() uint64 {
	return d.discarded
}

// Next extracts the next frame from the buffer.
//
// It returns (nil, nil) when more data is needed. A frame that fails its CRC
// is returned as a *ChecksumError and an exception response as an
// *ExceptionError; both are consumed from the buffer. Callers loop until
// (nil, nil) to drain batched responses.
func (d *Decoder) Next() (*Frame, error) {
	for {
		length := d.frameLength()
		if length < 0 {
			// Leading byte is not a frame start - drop it and retry
			d.drop(1)
			d.discarded++
			continue
		}
		if length == 0 || len(d.buf) < length {
			return nil, nil
		}

		raw := make([]byte, length)
		copy(raw, d.buf[:length])
		d.drop(length)

		return validate(raw)
	}
}

// frameLength inspects the head of the buffer. It returns the length of the
// frame starting there, 0 when more bytes are needed to tell, or -1 when the
// leading byte cannot start a frame.
func (d *Decoder) frameLength() int {
	n := len(d.buf)

	// Exception responses are taken below the 7-byte minimum so they are not
	// held back until the next frame arrives
	if n >= ExceptionFrameSize && n < MinFrameSize && d.buf[0] == SlaveID && isExceptionFunction(d.buf[1]) {
		return ExceptionFrameSize
	}
	if n < MinFrameSize {
		return 0
	}
	if d.buf[0] != SlaveID {
		return -1
	}

	switch fc := d.buf[1]; {
	case fc == FuncReadHoldingRegister:
		length := 3 + int(d.buf[2]) + crcSize
		if length > MaxFrameSize {
			return -1
		}
		return length
	case fc == FuncWriteSingleRegister:
		return WriteResponseSize
	case isExceptionFunction(fc):
		return ExceptionFrameSize
	default:
		return -1
	}
}

func (d *Decoder) drop(n int) {
	d.buf = append(d.buf[:0], d.buf[n:]...)
}

func isExceptionFunction(fc byte) bool {
	base := fc &^ ExceptionBit
	return fc&ExceptionBit != 0 && (base == FuncReadHoldingRegister || base == FuncWriteSingleRegister)
}

// validate checks the CRC and classifies the frame
func validate(raw []byte) (*Frame, error) {
	calculated := CalculateCRC(raw[:len(raw)-crcSize])
	received := frameCRC(raw)
	if calculated != received {
		return nil, &ChecksumError{Expected: calculated, Received: received, Raw: raw}
	}

	frame := NewFrame(raw)
	if frame.IsException() {
		return nil, &ExceptionError{Function: frame.Function(), Code: frame.ExceptionCode(), Raw: raw}
	}
	return frame, nil
}
