// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package modbus

import "github.com/sigurn/crc16"

var crcTable = crc16.MakeTable(crc16.CRC16_MODBUS)

// CalculateCRC computes the CRC-16/MODBUS checksum for the given data.
// On the wire the low byte is sent first.
func CalculateCRC(data []byte) uint16 {
	return crc16.Checksum(data, crcTable)
}

// appendCRC appends the checksum of data to data in wire order.
func appendCRC(data []byte) []byte {
	crc := CalculateCRC(data)
	return append(data, byte(crc&0xFF), byte(crc>>8))
}

// frameCRC returns the trailing checksum carried by a frame.
func frameCRC(frame []byte) uint16 {
	n := len(frame)
	return uint16(frame[n-2]) | uint16(frame[n-1])<<8
}
