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

// Package progcfg loads the two hierarchical INI configuration files
// named in spec.md §6: the Programmer file (probe VID:PID pairs and the
// FX2 firmware image path) and the per-device DeviceGeometry file, both
// parsed with gopkg.in/ini.v1.
package progcfg

import (
	"strconv"
	"strings"

	"gopkg.in/ini.v1"

	"github.com/master-g/psocprog/pkg/appimage"
	"github.com/master-g/psocprog/pkg/progerr"
)

// ProgrammerConfig is the [Programmer] section of config_dir's probe
// config file.
type ProgrammerConfig struct {
	VIDUnconfigured uint16
	PIDUnconfigured uint16
	VID             uint16
	PID             uint16
	FX2ConfigFile   string
}

// LoadProgrammerConfig reads the [Programmer] section from path.
func LoadProgrammerConfig(path string) (*ProgrammerConfig, error) {
	f, err := ini.Load(path)
	if err != nil {
		return nil, &progerr.IoError{Path: path, Cause: err}
	}
	sec := f.Section("Programmer")
	cfg := &ProgrammerConfig{
		VIDUnconfigured: uint16(sec.Key("VID_unconfigured").MustUint(0)),
		PIDUnconfigured: uint16(sec.Key("PID_unconfigured").MustUint(0)),
		VID:             uint16(sec.Key("VID").MustUint(0)),
		PID:             uint16(sec.Key("PID").MustUint(0)),
		FX2ConfigFile:   sec.Key("fx2_config_file").String(),
	}
	return cfg, nil
}

// deviceGeometryKeys lists every DeviceGeometry INI key, in the order
// they appear in spec.md §6.
var deviceGeometryKeys = []string{
	"flash_size",
	"flash_rows_per_array",
	"flash_num_arrays",
	"flash_rows_per_protection_byte",
	"flash_code_bytes_per_row",
	"flash_code_base_address",
	"flash_config_bytes_per_row",
	"flash_config_base_address",
	"eeprom_size",
	"eeprom_bytes_per_row",
	"eeprom_base_address",
}

// LoadDeviceGeometry reads the section named by deviceName (a
// dot-separated path such as "psoc5.cy8c58.lp") out of path, resolving
// each key via hierarchical lookup: "[a.b.c].name" falls back to
// "[a.b].name", then "[a].name", then the unnamed "[""].name" section.
func LoadDeviceGeometry(path, deviceName string) (appimage.DeviceGeometry, error) {
	f, err := ini.Load(path)
	if err != nil {
		return appimage.DeviceGeometry{}, &progerr.IoError{Path: path, Cause: err}
	}

	values := make(map[string]uint64, len(deviceGeometryKeys))
	for _, key := range deviceGeometryKeys {
		v, ok := lookupHierarchical(f, deviceName, key)
		if !ok {
			return appimage.DeviceGeometry{}, &progerr.GeometryInvalid{
				Reason: "missing key " + key + " for device " + deviceName,
			}
		}
		values[key] = v
	}

	geom := appimage.DeviceGeometry{
		FlashSize:             uint32(values["flash_size"]),
		RowsPerArray:          uint32(values["flash_rows_per_array"]),
		NumArrays:             uint32(values["flash_num_arrays"]),
		RowsPerProtectionByte: uint32(values["flash_rows_per_protection_byte"]),
		CodeBytesPerRow:       uint32(values["flash_code_bytes_per_row"]),
		CodeBaseAddress:       uint32(values["flash_code_base_address"]),
		ConfigBytesPerRow:     uint32(values["flash_config_bytes_per_row"]),
		ConfigBaseAddress:     uint32(values["flash_config_base_address"]),
		EepromSize:            uint32(values["eeprom_size"]),
		EepromBytesPerRow:     uint32(values["eeprom_bytes_per_row"]),
		EepromBaseAddress:     uint32(values["eeprom_base_address"]),
		StatusByteLane:        appimage.DefaultStatusByteLane,
	}
	if err := geom.Validate(); err != nil {
		return appimage.DeviceGeometry{}, err
	}
	return geom, nil
}

// sectionPath returns deviceName's hierarchy from most to least
// specific, ending with the unnamed root section: for "a.b.c" that is
// ["a.b.c", "a.b", "a", ""].
func sectionPath(deviceName string) []string {
	parts := strings.Split(deviceName, ".")
	paths := make([]string, 0, len(parts)+1)
	for i := len(parts); i > 0; i-- {
		paths = append(paths, strings.Join(parts[:i], "."))
	}
	paths = append(paths, "")
	return paths
}

func lookupHierarchical(f *ini.File, deviceName, key string) (uint64, bool) {
	for _, secName := range sectionPath(deviceName) {
		if !f.HasSection(secName) {
			continue
		}
		sec := f.Section(secName)
		if !sec.HasKey(key) {
			continue
		}
		raw := sec.Key(key).String()
		v, err := strconv.ParseUint(strings.TrimSpace(raw), 0, 64)
		if err != nil {
			continue
		}
		return v, true
	}
	return 0, false
}
