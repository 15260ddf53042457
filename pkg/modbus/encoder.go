// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package modbus

import (
	"encoding/binary"
	"fmt"
)

// WireAddress maps a human register number (40001-based) to its 0-based wire address.
func WireAddress(address int) (uint16, error) {
	if address < BaseAddress || address-BaseAddress > 0xFFFF {
		return 0, fmt.Errorf("%w: %d", ErrInvalidAddress, address)
	}
	return uint16(address - BaseAddress), nil
}

// BuildReadRequest creates a read holding register request for one register.
func BuildReadRequest(address int) ([]byte, error) {
	return buildRequest(FuncReadHoldingRegister, address, 1)
}

// BuildWriteRequest creates a write single register request.
func BuildWriteRequest(address int, value uint16) ([]byte, error) {
	return buildRequest(FuncWriteSingleRegister, address, value)
}

// buildRequest lays out [slave][function][addr hi][addr lo][arg hi][arg lo][crc lo][crc hi].
// For reads the argument is the register count, for writes the value.
func buildRequest(function byte, address int, arg uint16) ([]byte, error) {
	wire, err := WireAddress(address)
	if err != nil {
		return nil, err
	}

	frame := make([]byte, 6, 8)
	frame[0] = SlaveID
	frame[1] = function
	binary.BigEndian.PutUint16(frame[2:4], wire)
	binary.BigEndian.PutUint16(frame[4:6], arg)

	return appendCRC(frame), nil
}

