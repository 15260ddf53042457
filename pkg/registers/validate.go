// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package registers

import (
	"errors"
	"fmt"
)

// minAddress is the first holding register address of the 4xxxx range
const minAddress = 40001

// maxAddress is the last address whose wire offset fits in 16 bits
const maxAddress = minAddress + 0xFFFF

// ErrInvalidTable is wrapped by every table validation failure
var ErrInvalidTable = errors.New("invalid register table")

// IssueType represents different kinds of register table problems
type IssueType int

const (
	IssueAddressRange IssueType = iota
	IssueDuplicateAddress
	IssueMissingName
	IssueInvalidScale
)

// String returns the issue name
func (t IssueType) String() string {
	switch t {
	case IssueAddressRange:
		return "ADDRESS_RANGE"
	case IssueDuplicateAddress:
		return "DUPLICATE_ADDRESS"
	case IssueMissingName:
		return "MISSING_NAME"
	case IssueInvalidScale:
		return "INVALID_SCALE"
	default:
		return "UNKNOWN"
	}
}

// ValidationError describes one problem with a register descriptor
type ValidationError struct {
	Type    IssueType
	Address int
	Message string
}

// Error implements the error interface
func (v *ValidationError) Error() string {
	return fmt.Sprintf("register %d: %s", v.Address, v.Message)
}

// Unwrap lets callers match any table problem with errors.Is
func (v *ValidationError) Unwrap() error {
	return ErrInvalidTable
}

// Validate checks descriptors for address range, uniqueness, names and
// scaling. Returns the first problem found.
func Validate(descriptors []Descriptor) error {
	seen := make(map[int]bool, len(descriptors))

	for _, d := range descriptors {
		if d.Address < minAddress || d.Address > maxAddress {
			return &ValidationError{
				Type:    IssueAddressRange,
				Address: d.Address,
				Message: fmt.Sprintf("address out of range [%d, %d]", minAddress, maxAddress),
			}
		}
		if seen[d.Address] {
			return &ValidationError{
				Type:    IssueDuplicateAddress,
				Address: d.Address,
				Message: "duplicate address",
			}
		}
		seen[d.Address] = true

		if d.Name == "" {
			return &ValidationError{
				Type:    IssueMissingName,
				Address: d.Address,
				Message: "missing name",
			}
		}
		if d.Multiplier < 0 || d.Divisor < 0 {
			return &ValidationError{
				Type:    IssueInvalidScale,
				Address: d.Address,
				Message: fmt.Sprintf("negative scale (multiplier=%d divisor=%d)", d.Multiplier, d.Divisor),
			}
		}
	}

	return nil
}
