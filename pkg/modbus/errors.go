// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package modbus

import (
	"errors"
	"fmt"
)

// ErrInvalidAddress is returned when a register number cannot be mapped to a
// wire address (below BaseAddress or beyond the 16-bit wire range).
var ErrInvalidAddress = errors.New("modbus: invalid register address")

// ChecksumError is returned for a frame whose trailing CRC does not match.
type ChecksumError struct {
	Expected uint16
	Received uint16
	Raw      []byte
}

func (e *ChecksumError) Error() string {
	return fmt.Sprintf("CRC mismatch: expected 0x%04X, got 0x%04X", e.Expected, e.Received)
}

// ExceptionError is returned when the slave answers with an exception response.
type ExceptionError struct {
	Function byte // function code with the exception bit cleared
	Code     byte
	Raw      []byte
}

func (e *ExceptionError) Error() string {
	return fmt.Sprintf("modbus exception on function 0x%02X: %s (0x%02X)",
		e.Function, FormatExceptionCode(e.Code), e.Code)
}

// IsChecksumError reports whether err is, or wraps, a *ChecksumError.
func IsChecksumError(err error) bool {
	var ce *ChecksumError
	return errors.As(err, &ce)
}

// IsException reports whether err is, or wraps, an *ExceptionError.
func IsException(err error) bool {
	var ee *ExceptionError
	return errors.As(err, &ee)
}
