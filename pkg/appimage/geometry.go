// Copyright © 2019 mg
//
// Permission is hereby granted, free of charge, to any person obtaining a copy
// of this software and associated documentation files (the "Software"), to deal
// in the Software without restriction, including without limitation the rights
// to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
// copies of the Software, and to permit persons to whom the Software is
// furnished to do so, subject to the following conditions:
//
// The above copyright notice and this permission notice shall be included in
// all copies or substantial portions of the Software.
//
// THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
// IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
// FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
// AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
// LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
// OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN
// THE SOFTWARE.

// Package appimage partitions a canonical hexfile.Image across the
// fixed PSoC 5 virtual address map (CODE / CONFIG / EEPROM /
// PROTECTION / DEVCONFIG / WOL / CHECKSUM / METADATA) and couples it
// with the target-specific DeviceGeometry needed to turn that virtual
// view into real array/row addressing.
package appimage

import "github.com/master-g/psocprog/pkg/progerr"

// DeviceGeometry holds the target-specific numeric parameters that the
// hierarchical device INI file (progcfg) decodes into. Values here are
// never derived from the hex file itself.
type DeviceGeometry struct {
	FlashSize              uint32
	RowsPerArray           uint32
	NumArrays              uint32
	CodeBytesPerRow        uint32
	ConfigBytesPerRow      uint32
	RowsPerProtectionByte  uint32
	EepromSize             uint32
	EepromBytesPerRow      uint32
	CodeBaseAddress        uint32
	ConfigBaseAddress      uint32
	EepromBaseAddress      uint32

	// StatusByteLane is the index (0-based, from the LSB) of the SPC
	// status byte within the 32-bit REG_SPC_STATUS read. Spec.md §4.5
	// and §9 name this as family-dependent; PSoC 5 uses lane 2 (the 3rd
	// least-significant byte).
	StatusByteLane int
}

// DefaultStatusByteLane is the PSoC 5 value for DeviceGeometry.StatusByteLane.
const DefaultStatusByteLane = 2

// Validate checks the invariants from spec.md §3: all counts > 0,
// code/config base addresses distinct, eeprom base address non-zero.
func (g DeviceGeometry) Validate() error {
	if g.FlashSize == 0 || g.RowsPerArray == 0 || g.NumArrays == 0 ||
		g.CodeBytesPerRow == 0 || g.ConfigBytesPerRow == 0 ||
		g.RowsPerProtectionByte == 0 || g.EepromSize == 0 || g.EepromBytesPerRow == 0 {
		return &progerr.GeometryInvalid{Reason: "all counts must be > 0"}
	}
	if g.CodeBaseAddress == g.ConfigBaseAddress {
		return &progerr.GeometryInvalid{Reason: "code_base_address must differ from config_base_address"}
	}
	if g.EepromBaseAddress == 0 {
		return &progerr.GeometryInvalid{Reason: "eeprom_base_address must be non-zero"}
	}
	return nil
}

// ArrayCodeBytes returns the number of CODE-region bytes occupied by one
// flash array.
func (g DeviceGeometry) ArrayCodeBytes() uint32 { return g.RowsPerArray * g.CodeBytesPerRow }

// ArrayConfigBytes returns the number of CONFIG-region bytes occupied by
// one flash array.
func (g DeviceGeometry) ArrayConfigBytes() uint32 { return g.RowsPerArray * g.ConfigBytesPerRow }

// ProtectionBytesPerArray returns how many protection bytes cover one
// array's rows.
func (g DeviceGeometry) ProtectionBytesPerArray() uint32 {
	return g.RowsPerArray / g.RowsPerProtectionByte
}
