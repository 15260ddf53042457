// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package modbus

import (
	"fmt"
	"strings"
)

// FormatFrame formats a frame into a human-readable line
func FormatFrame(f *Frame) string {
	timestamp := f.Timestamp().Format("15:04:05.000")
	result := fmt.Sprintf("[%s] %s (0x%02X) slave=0x%02X len=%d",
		timestamp, FormatFunction(f.Function()), f.Function(), f.SlaveID(), f.Length())

	if value, ok := f.Value(); ok {
		result += fmt.Sprintf(" value=%d", value)
	}
	if wire, value, ok := f.WriteEcho(); ok {
		result += fmt.Sprintf(" register=%d value=%d", int(wire)+BaseAddress, value)
	}

	return result + "\n  " + FormatHex(f.Bytes()) + "\n"
}

// FormatFunction returns the human-readable name for a function code
func FormatFunction(fc byte) string {
	switch fc &^ ExceptionBit {
	case FuncReadHoldingRegister:
		return "READ_HOLDING_REGISTER"
	case FuncWriteSingleRegister:
		return "WRITE_SINGLE_REGISTER"
	default:
		return "UNKNOWN"
	}
}

// FormatExceptionCode returns the human-readable name for an exception code
func FormatExceptionCode(code byte) string {
	switch code {
	case ExceptionIllegalFunction:
		return "ILLEGAL_FUNCTION"
	case ExceptionIllegalAddress:
		return "ILLEGAL_DATA_ADDRESS"
	case ExceptionIllegalValue:
		return "ILLEGAL_DATA_VALUE"
	case ExceptionServerDeviceFailed:
		return "SERVER_DEVICE_FAILURE"
	case ExceptionAcknowledge:
		return "ACKNOWLEDGE"
	case ExceptionServerDeviceBusy:
		return "SERVER_DEVICE_BUSY"
	default:
		return "UNKNOWN"
	}
}

// FormatHex renders bytes as space separated hex, e.g. "1C 03 02 00 2A ..."
func FormatHex(data []byte) string {
	var s strings.Builder
	for i, b := range data {
		if i > 0 {
			s.WriteByte(' ')
		}
		fmt.Fprintf(&s, "%02X", b)
	}
	return s.String()
}
