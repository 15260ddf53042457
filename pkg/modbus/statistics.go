// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package modbus

import (
	"errors"
	"fmt"
	"time"
)

// Statistics tracks link health: frames, errors and rates
type Statistics struct {
	StartTime      time.Time
	LastUpdateTime time.Time

	// Counters
	TotalFrames    uint64
	ValidFrames    uint64
	CRCErrors      uint64
	Exceptions     uint64
	DecodeErrors   uint64
	ResyncBytes    uint64
	Timeouts       uint64
	RequestsSent   uint64
	ServoCommands  uint64
	LastException  byte
	LastFrameError error

	// Rates (calculated)
	FrameRate float64 // frames/sec
	ErrorRate float64 // errors/sec
}

// NewStatistics creates a new statistics tracker
func NewStatistics() *Statistics {
	now := time.Now()
	return &Statistics{
		StartTime:      now,
		LastUpdateTime: now,
	}
}

// Update records the outcome of one Decoder.Next call that produced a frame or error
func (s *Statistics) Update(frame *Frame, err error) {
	if frame == nil && err == nil {
		return
	}
	s.TotalFrames++
	s.LastUpdateTime = time.Now()

	if err == nil {
		s.ValidFrames++
		return
	}

	s.LastFrameError = err
	var ce *ChecksumError
	var ee *ExceptionError
	switch {
	case errors.As(err, &ce):
		s.CRCErrors++
	case errors.As(err, &ee):
		s.Exceptions++
		s.LastException = ee.Code
	default:
		s.DecodeErrors++
	}
}

// SetResyncBytes records the decoder's running count of discarded bytes
func (s *Statistics) SetResyncBytes(n uint64) {
	s.ResyncBytes = n
}

// CalculateRates calculates frame and error rates
func (s *Statistics) CalculateRates() {
	elapsed := time.Since(s.StartTime).Seconds()
	if elapsed > 0 {
		s.FrameRate = float64(s.TotalFrames) / elapsed
		s.ErrorRate = float64(s.ErrorCount()) / elapsed
	}
}

// ErrorCount returns the number of frames that were rejected
func (s *Statistics) ErrorCount() uint64 {
	return s.CRCErrors + s.Exceptions + s.DecodeErrors
}

// String returns a formatted statistics summary
func (s *Statistics) String() string {
	s.CalculateRates()

	var validPercent, crcPercent, exceptionPercent float64
	if s.TotalFrames > 0 {
		validPercent = float64(s.ValidFrames) * 100.0 / float64(s.TotalFrames)
		crcPercent = float64(s.CRCErrors) * 100.0 / float64(s.TotalFrames)
		exceptionPercent = float64(s.Exceptions) * 100.0 / float64(s.TotalFrames)
	}

	elapsed := time.Since(s.StartTime)

	result := fmt.Sprintf("=== Link Statistics (%.0f seconds) ===\n", elapsed.Seconds())
	result += fmt.Sprintf("Requests Sent:   %8d\n", s.RequestsSent)
	result += fmt.Sprintf("Total Frames:    %8d\n", s.TotalFrames)
	result += fmt.Sprintf("Valid Frames:    %8d (%.1f%%)\n", s.ValidFrames, validPercent)

	if s.CRCErrors > 0 {
		result += fmt.Sprintf("CRC Errors:      %8d (%.1f%%)\n", s.CRCErrors, crcPercent)
	}
	if s.Exceptions > 0 {
		result += fmt.Sprintf("Exceptions:      %8d (%.1f%%)\n", s.Exceptions, exceptionPercent)
		result += fmt.Sprintf("  Last: %s\n", FormatExceptionCode(s.LastException))
	}
	if s.DecodeErrors > 0 {
		result += fmt.Sprintf("Decode Errors:   %8d\n", s.DecodeErrors)
	}
	if s.ResyncBytes > 0 {
		result += fmt.Sprintf("Resync Bytes:    %8d\n", s.ResyncBytes)
	}
	if s.Timeouts > 0 {
		result += fmt.Sprintf("Timeouts:        %8d\n", s.Timeouts)
	}
	if s.ServoCommands > 0 {
		result += fmt.Sprintf("Servo Commands:  %8d\n", s.ServoCommands)
	}

	result += fmt.Sprintf("Frame Rate:      %8.1f frames/sec\n", s.FrameRate)
	result += fmt.Sprintf("Error Rate:      %8.1f errors/sec\n", s.ErrorRate)
	result += "=====================================\n"

	return result
}

// Reset resets all statistics counters
func (s *Statistics) Reset() {
	*s = *NewStatistics()
}
