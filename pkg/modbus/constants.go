// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package modbus implements the Modbus-RTU master side used by the flow bench.
//
// Only the two functions the bench needs are supported: read holding register
// (0x03) and write single register (0x06), always addressed to one fixed slave.
// Requests are built with BuildReadRequest / BuildWriteRequest; responses are
// framed out of an unreliable byte stream by Decoder.
package modbus

// SlaveID is the unit id of the flow bench controller.
const SlaveID = 0x1C

// Function codes
const (
	FuncReadHoldingRegister = 0x03
	FuncWriteSingleRegister = 0x06

	// ExceptionBit is set on the function code of an exception response.
	ExceptionBit = 0x80
)

// BaseAddress is the human-facing number of wire register 0.
const BaseAddress = 40001

// Frame size limits
const (
	MinFrameSize       = 7 // smallest response worth inspecting
	WriteResponseSize  = 8
	ExceptionFrameSize = 5
	MaxFrameSize       = 256
	crcSize            = 2
)

// Exception codes
const (
	ExceptionIllegalFunction    = 0x01
	ExceptionIllegalAddress     = 0x02
	ExceptionIllegalValue       = 0x03
	ExceptionServerDeviceFailed = 0x04
	ExceptionAcknowledge        = 0x05
	ExceptionServerDeviceBusy   = 0x06
)
