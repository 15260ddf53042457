// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package registers

import (
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

// tableFile is the on-disk layout of a register table override
type tableFile struct {
	Registers []Descriptor `yaml:"registers"`
}

// LoadTable reads a register table from a YAML file
func LoadTable(path string) (*Table, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open register table: %w", err)
	}
	defer f.Close()

	t, err := ReadTable(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return t, nil
}

// ReadTable decodes a YAML register table. Descriptors without a multiplier
// default to 1.
func ReadTable(r io.Reader) (*Table, error) {
	var file tableFile
	if err := yaml.NewDecoder(r).Decode(&file); err != nil {
		return nil, fmt.Errorf("decode register table: %w", err)
	}
	if len(file.Registers) == 0 {
		return nil, fmt.Errorf("%w: no registers defined", ErrInvalidTable)
	}

	for i := range file.Registers {
		if file.Registers[i].Multiplier == 0 {
			file.Registers[i].Multiplier = 1
		}
	}

	return NewTable(file.Registers)
}
