// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package modbus

import (
	"bytes"
	"errors"
	"testing"
)

// ============================================================
// Test Helpers
// ============================================================

// buildReadResponse creates a valid single-register read response
func buildReadResponse(value uint16) []byte {
	return appendCRC([]byte{SlaveID, FuncReadHoldingRegister, 0x02, byte(value >> 8), byte(value)})
}

// buildWriteResponse creates a valid write echo for a wire address
func buildWriteResponse(wire, value uint16) []byte {
	return appendCRC([]byte{SlaveID, FuncWriteSingleRegister,
		byte(wire >> 8), byte(wire), byte(value >> 8), byte(value)})
}

// buildExceptionResponse creates a valid exception response
func buildExceptionResponse(fc, code byte) []byte {
	return appendCRC([]byte{SlaveID, fc | ExceptionBit, code})
}

// drain pulls every available result out of the decoder
func drain(d *Decoder) ([]*Frame, []error) {
	var frames []*Frame
	var errs []error
	for {
		frame, err := d.Next()
		if frame == nil && err == nil {
			return frames, errs
		}
		if err != nil {
			errs = append(errs, err)
			continue
		}
		frames = append(frames, frame)
	}
}

// ============================================================
// CRC Tests
// ============================================================

func TestCalculateCRC_Empty(t *testing.T) {
	crc := CalculateCRC([]byte{})
	if crc != 0xFFFF {
		t.Errorf("CRC of empty data should be initial value, got 0x%04X", crc)
	}
}

func TestCalculateCRC_KnownValues(t *testing.T) {
	tests := []struct {
		name     string
		data     []byte
		expected uint16
	}{
		{
			name:     "read 10 registers from slave 1",
			data:     []byte{0x01, 0x03, 0x00, 0x00, 0x00, 0x0A},
			expected: 0xCDC5, // C5 CD on the wire
		},
		{
			name:     "ASCII '123456789'",
			data:     []byte("123456789"),
			expected: 0x4B37, // CRC-16/MODBUS check value
		},
		{
			name:     "two bytes",
			data:     []byte{0x02, 0x07},
			expected: 0x1241,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			crc := CalculateCRC(tt.data)
			if crc != tt.expected {
				t.Errorf("CRC mismatch: expected 0x%04X, got 0x%04X", tt.expected, crc)
			}
		})
	}
}

func TestAppendCRC_WireOrder(t *testing.T) {
	frame := appendCRC([]byte{0x01, 0x03, 0x00, 0x00, 0x00, 0x0A})
	if frame[6] != 0xC5 || frame[7] != 0xCD {
		t.Errorf("expected trailing C5 CD, got %02X %02X", frame[6], frame[7])
	}
	if CalculateCRC(frame[:6]) != frameCRC(frame) {
		t.Error("frameCRC should read back the appended checksum")
	}
}

// ============================================================
// Encoder Tests
// ============================================================

func TestBuildReadRequest(t *testing.T) {
	frame, err := BuildReadRequest(40016)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	want := []byte{SlaveID, 0x03, 0x00, 0x0F, 0x00, 0x01}
	if !bytes.Equal(frame[:6], want) {
		t.Errorf("header mismatch: got % X, want % X", frame[:6], want)
	}
	if len(frame) != 8 {
		t.Fatalf("expected 8 bytes, got %d", len(frame))
	}
	if CalculateCRC(frame[:6]) != frameCRC(frame) {
		t.Error("request CRC does not validate")
	}
}

func TestBuildWriteRequest(t *testing.T) {
	frame, err := BuildWriteRequest(40006, 1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	want := []byte{SlaveID, 0x06, 0x00, 0x05, 0x00, 0x01}
	if !bytes.Equal(frame[:6], want) {
		t.Errorf("header mismatch: got % X, want % X", frame[:6], want)
	}
	if CalculateCRC(frame[:6]) != frameCRC(frame) {
		t.Error("request CRC does not validate")
	}
}

func TestBuildRequest_InvalidAddress(t *testing.T) {
	tests := []struct {
		name    string
		address int
	}{
		{"zero", 0},
		{"one below base", BaseAddress - 1},
		{"beyond wire range", BaseAddress + 0x10000},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := BuildReadRequest(tt.address); !errors.Is(err, ErrInvalidAddress) {
				t.Errorf("read: expected ErrInvalidAddress, got %v", err)
			}
			if _, err := BuildWriteRequest(tt.address, 0); !errors.Is(err, ErrInvalidAddress) {
				t.Errorf("write: expected ErrInvalidAddress, got %v", err)
			}
		})
	}
}

func TestWireAddress_Boundaries(t *testing.T) {
	wire, err := WireAddress(BaseAddress)
	if err != nil || wire != 0 {
		t.Errorf("WireAddress(base) = %d, %v; want 0, nil", wire, err)
	}
	wire, err = WireAddress(BaseAddress + 0xFFFF)
	if err != nil || wire != 0xFFFF {
		t.Errorf("WireAddress(base+0xFFFF) = %d, %v; want 0xFFFF, nil", wire, err)
	}
}

// ============================================================
// Decoder Tests
// ============================================================

func TestDecoder_ReadResponse(t *testing.T) {
	d := NewDecoder()
	d.Write(buildReadResponse(1234))

	frames, errs := drain(d)
	if len(errs) != 0 {
		t.Fatalf("unexpected errors: %v", errs)
	}
	if len(frames) != 1 {
		t.Fatalf("expected 1 frame, got %d", len(frames))
	}
	value, ok := frames[0].Value()
	if !ok || value != 1234 {
		t.Errorf("Value() = %d, %v; want 1234, true", value, ok)
	}
	if d.Buffered() != 0 {
		t.Errorf("expected empty buffer, %d bytes left", d.Buffered())
	}
}

func TestDecoder_WriteResponse(t *testing.T) {
	d := NewDecoder()
	d.Write(buildWriteResponse(5, 1))

	frames, errs := drain(d)
	if len(errs) != 0 || len(frames) != 1 {
		t.Fatalf("expected 1 frame and no errors, got %d frames, %v", len(frames), errs)
	}
	wire, value, ok := frames[0].WriteEcho()
	if !ok || wire != 5 || value != 1 {
		t.Errorf("WriteEcho() = %d, %d, %v; want 5, 1, true", wire, value, ok)
	}
	if _, ok := frames[0].Value(); ok {
		t.Error("write echo should not expose a read value")
	}
}

func TestDecoder_WaitsForMinimumFrame(t *testing.T) {
	d := NewDecoder()
	d.Write([]byte{SlaveID, 0x03, 0x02})

	frame, err := d.Next()
	if frame != nil || err != nil {
		t.Errorf("expected (nil, nil) while short, got %v, %v", frame, err)
	}
	if d.Buffered() != 6 {
		t.Errorf("partial bytes must stay buffered, got %d", d.Buffered())
	}
}

func TestDecoder_Resynchronization(t *testing.T) {
	d := NewDecoder()
	d.Write(append([]byte{0xAA}, buildReadResponse(42)...))

	frames, errs := drain(d)
	if len(errs) != 0 {
		t.Fatalf("garbage byte must not surface as an error: %v", errs)
	}
	if len(frames) != 1 {
		t.Fatalf("expected exactly 1 frame, got %d", len(frames))
	}
	if value, _ := frames[0].Value(); value != 42 {
		t.Errorf("expected value 42, got %d", value)
	}
	if d.Discarded() != 1 {
		t.Errorf("expected 1 discarded byte, got %d", d.Discarded())
	}
}

func TestDecoder_UnrecognizedFunctionResyncs(t *testing.T) {
	d := NewDecoder()
	// Slave id followed by an unknown function code, then a real frame
	d.Write(append([]byte{SlaveID, 0x11}, buildReadResponse(7)...))

	frames, errs := drain(d)
	if len(errs) != 0 || len(frames) != 1 {
		t.Fatalf("expected 1 frame and no errors, got %d frames, %v", len(frames), errs)
	}
	if d.Discarded() != 2 {
		t.Errorf("expected 2 discarded bytes, got %d", d.Discarded())
	}
}

func TestDecoder_PartialDelivery(t *testing.T) {
	response := buildReadResponse(0xBEEF)

	whole := NewDecoder()
	whole.Write(response)
	wantFrames, _ := drain(whole)

	split := NewDecoder()
	split.Write(response[:4])
	if frame, err := split.Next(); frame != nil || err != nil {
		t.Fatalf("first delivery should not produce a frame, got %v, %v", frame, err)
	}
	split.Write(response[4:])
	gotFrames, errs := drain(split)

	if len(errs) != 0 || len(gotFrames) != 1 || len(wantFrames) != 1 {
		t.Fatalf("expected one frame each way, got %d/%d, errs %v", len(gotFrames), len(wantFrames), errs)
	}
	if !bytes.Equal(gotFrames[0].Bytes(), wantFrames[0].Bytes()) {
		t.Errorf("split delivery decoded % X, whole decoded % X", gotFrames[0].Bytes(), wantFrames[0].Bytes())
	}
}

func TestDecoder_ByteAtATime(t *testing.T) {
	d := NewDecoder()
	var frames []*Frame
	for _, b := range buildReadResponse(99) {
		d.Write([]byte{b})
		f, errs := drain(d)
		if len(errs) != 0 {
			t.Fatalf("unexpected errors: %v", errs)
		}
		frames = append(frames, f...)
	}
	if len(frames) != 1 {
		t.Fatalf("expected 1 frame, got %d", len(frames))
	}
}

func TestDecoder_BatchedResponses(t *testing.T) {
	d := NewDecoder()
	var stream []byte
	stream = append(stream, buildReadResponse(1)...)
	stream = append(stream, buildWriteResponse(5, 0)...)
	stream = append(stream, buildReadResponse(3)...)
	d.Write(stream)

	frames, errs := drain(d)
	if len(errs) != 0 {
		t.Fatalf("unexpected errors: %v", errs)
	}
	if len(frames) != 3 {
		t.Fatalf("expected 3 frames, got %d", len(frames))
	}
	if frames[1].Function() != FuncWriteSingleRegister {
		t.Errorf("expected write echo in the middle, got 0x%02X", frames[1].Function())
	}
}

func TestDecoder_ChecksumMismatch(t *testing.T) {
	response := buildReadResponse(500)
	response[len(response)-1] ^= 0x01

	d := NewDecoder()
	d.Write(response)

	frame, err := d.Next()
	if frame != nil {
		t.Error("corrupt frame must not be returned")
	}
	var ce *ChecksumError
	if !errors.As(err, &ce) {
		t.Fatalf("expected *ChecksumError, got %v", err)
	}
	if ce.Expected == ce.Received {
		t.Error("expected and received CRC should differ")
	}
	if d.Buffered() != 0 {
		t.Errorf("corrupt frame must be consumed, %d bytes left", d.Buffered())
	}
	if !IsChecksumError(err) {
		t.Error("IsChecksumError should match")
	}
}

func TestDecoder_ExceptionResponse(t *testing.T) {
	d := NewDecoder()
	d.Write(buildExceptionResponse(FuncReadHoldingRegister, ExceptionIllegalAddress))

	frame, err := d.Next()
	if frame != nil {
		t.Error("exception must not be returned as a frame")
	}
	var ee *ExceptionError
	if !errors.As(err, &ee) {
		t.Fatalf("expected *ExceptionError, got %v", err)
	}
	if ee.Function != FuncReadHoldingRegister || ee.Code != ExceptionIllegalAddress {
		t.Errorf("got function 0x%02X code 0x%02X", ee.Function, ee.Code)
	}
	if !IsException(err) {
		t.Error("IsException should match")
	}
}

func TestDecoder_ExceptionFollowedByFrame(t *testing.T) {
	d := NewDecoder()
	d.Write(buildExceptionResponse(FuncWriteSingleRegister, ExceptionServerDeviceBusy))
	d.Write(buildReadResponse(8))

	frames, errs := drain(d)
	if len(errs) != 1 || !IsException(errs[0]) {
		t.Fatalf("expected one exception error, got %v", errs)
	}
	if len(frames) != 1 {
		t.Fatalf("expected 1 frame after exception, got %d", len(frames))
	}
}

func TestDecoder_OversizedByteCountResyncs(t *testing.T) {
	d := NewDecoder()
	// 3 + 255 + 2 exceeds the maximum frame size
	d.Write(append([]byte{SlaveID, 0x03, 0xFF, 0x00, 0x00, 0x00, 0x00}, buildReadResponse(5)...))

	frames, _ := drain(d)
	if len(frames) != 1 {
		t.Fatalf("expected decoder to recover the valid frame, got %d", len(frames))
	}
}

func TestDecoder_Reset(t *testing.T) {
	d := NewDecoder()
	d.Write([]byte{SlaveID, 0x03})
	d.Reset()
	if d.Buffered() != 0 {
		t.Errorf("expected empty buffer after reset, got %d", d.Buffered())
	}
}

func TestDecoder_ResetCountersKeepsBuffer(t *testing.T) {
	d := NewDecoder()
	frame := buildReadResponse(9)
	d.Write(append([]byte{0xAA}, frame[:6]...))
	if f, err := d.Next(); f != nil || err != nil {
		t.Fatalf("expected no frame yet, got %v %v", f, err)
	}
	if d.Discarded() != 1 {
		t.Fatalf("expected 1 discarded byte, got %d", d.Discarded())
	}

	d.ResetCounters()
	if d.Discarded() != 0 {
		t.Errorf("expected discard count cleared, got %d", d.Discarded())
	}
	if d.Buffered() != 6 {
		t.Fatalf("expected partial frame kept, got %d bytes", d.Buffered())
	}

	d.Write(frame[6:])
	f, err := d.Next()
	if err != nil || f == nil {
		t.Fatalf("expected completed frame, got %v %v", f, err)
	}
	if value, _ := f.Value(); value != 9 {
		t.Errorf("expected value 9, got %d", value)
	}
}

// ============================================================
// Statistics Tests
// ============================================================

func TestStatistics_Update(t *testing.T) {
	s := NewStatistics()
	s.Update(NewFrame(buildReadResponse(1)), nil)
	s.Update(nil, &ChecksumError{})
	s.Update(nil, &ExceptionError{Code: ExceptionServerDeviceBusy})
	s.Update(nil, nil)

	if s.TotalFrames != 3 {
		t.Errorf("TotalFrames = %d, want 3", s.TotalFrames)
	}
	if s.ValidFrames != 1 || s.CRCErrors != 1 || s.Exceptions != 1 {
		t.Errorf("valid=%d crc=%d exc=%d; want 1 each", s.ValidFrames, s.CRCErrors, s.Exceptions)
	}
	if s.LastException != ExceptionServerDeviceBusy {
		t.Errorf("LastException = 0x%02X", s.LastException)
	}
	if s.ErrorCount() != 2 {
		t.Errorf("ErrorCount = %d, want 2", s.ErrorCount())
	}

	s.Reset()
	if s.TotalFrames != 0 || s.CRCErrors != 0 {
		t.Error("Reset should clear counters")
	}
}

// ============================================================
// Formatter Tests
// ============================================================

func TestFormatHex(t *testing.T) {
	if got := FormatHex([]byte{0x1C, 0x03, 0x0A}); got != "1C 03 0A" {
		t.Errorf("FormatHex = %q", got)
	}
}

func TestFormatFunction(t *testing.T) {
	if FormatFunction(0x83) != "READ_HOLDING_REGISTER" {
		t.Error("exception bit should be ignored")
	}
	if FormatFunction(0x42) != "UNKNOWN" {
		t.Error("unknown function should format as UNKNOWN")
	}
}
