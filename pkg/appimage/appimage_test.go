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

package appimage

import (
	"testing"

	"github.com/master-g/psocprog/pkg/hexfile"
)

func testGeometry() DeviceGeometry {
	return DeviceGeometry{
		FlashSize:             256 * 256 * 4,
		RowsPerArray:          256,
		NumArrays:             4,
		CodeBytesPerRow:       256,
		ConfigBytesPerRow:     32,
		RowsPerProtectionByte: 4,
		EepromSize:            2048,
		EepromBytesPerRow:     16,
		CodeBaseAddress:       0x0000_0000,
		ConfigBaseAddress:     0x8000_0000,
		EepromBaseAddress:     0x4000_0000,
		StatusByteLane:        DefaultStatusByteLane,
	}
}

func TestFromImage_PartitionsRegions(t *testing.T) {
	img := hexfile.New()
	img.AddBlock(FlashCodeAddress, []byte{0xAA, 0xBB})
	img.AddBlock(ConfigAddress, []byte{0x01})
	img.AddBlock(DevconfigAddress, []byte{0x04, 0x03, 0x02, 0x01})
	img.AddBlock(WolAddress, []byte{0x0A, 0x0B, 0x0C, 0x0D})
	img.AddBlock(MetadataAddress, []byte{0x00, 0x01, 0xDE, 0xAD, 0xBE, 0xEF, 0x02, 0x01, 0, 0, 0, 0})

	app := FromImage(img)

	if string(app.Code.Blocks()[0].Data) != string([]byte{0xAA, 0xBB}) {
		t.Errorf("Code = %v", app.Code.Blocks())
	}
	if string(app.Config.Blocks()[0].Data) != string([]byte{0x01}) {
		t.Errorf("Config = %v", app.Config.Blocks())
	}
	if app.DeviceConfig != 0x01020304 {
		t.Errorf("DeviceConfig = %#x, want 0x01020304 (little-endian)", app.DeviceConfig)
	}
	if app.SecurityWOL != 0x0A0B0C0D {
		t.Errorf("SecurityWOL = %#x, want 0x0A0B0C0D (big-endian)", app.SecurityWOL)
	}
	if app.Version != 0x0001 || app.DeviceID != 0xDEADBEEF || app.SiliconRev != 0x02 || app.DebugEnable != 0x01 {
		t.Errorf("metadata decode = version=%#x device=%#x rev=%#x debug=%#x",
			app.Version, app.DeviceID, app.SiliconRev, app.DebugEnable)
	}
}

func TestAppImage_ToImageRoundTrip(t *testing.T) {
	app := New()
	app.Code.AddBlock(0, []byte{1, 2, 3})
	app.DeviceConfig = 0x01020304
	app.SecurityWOL = 0x0A0B0C0D
	app.Version = 7
	app.DeviceID = 0x1234_5678

	img := app.ToImage()
	back := FromImage(img)

	if back.DeviceConfig != app.DeviceConfig {
		t.Errorf("DeviceConfig round trip = %#x, want %#x", back.DeviceConfig, app.DeviceConfig)
	}
	if back.SecurityWOL != app.SecurityWOL {
		t.Errorf("SecurityWOL round trip = %#x, want %#x", back.SecurityWOL, app.SecurityWOL)
	}
	if back.Version != app.Version || back.DeviceID != app.DeviceID {
		t.Errorf("metadata round trip mismatch: %+v", back)
	}
}

func TestFromImage_RebasesNonZeroRegionsToZero(t *testing.T) {
	img := hexfile.New()
	img.AddBlock(ConfigAddress+0x10, []byte{0xCA, 0xFE})
	img.AddBlock(EepromAddress+0x04, []byte{0x01, 0x02, 0x03})
	img.AddBlock(ProtectionAddress+0x08, []byte{0xFF})

	app := FromImage(img)

	if b := app.Config.Blocks(); len(b) != 1 || b[0].Base != 0x10 {
		t.Errorf("Config blocks = %+v, want one block based at 0x10", b)
	}
	if b := app.Eeprom.Blocks(); len(b) != 1 || b[0].Base != 0x04 {
		t.Errorf("Eeprom blocks = %+v, want one block based at 0x04", b)
	}
	if b := app.Protection.Blocks(); len(b) != 1 || b[0].Base != 0x08 {
		t.Errorf("Protection blocks = %+v, want one block based at 0x08", b)
	}
}

func TestAppImage_NonZeroRegionRoundTripsThroughToImage(t *testing.T) {
	img := hexfile.New()
	img.AddBlock(ConfigAddress+0x10, []byte{0xCA, 0xFE})
	img.AddBlock(EepromAddress+0x04, []byte{0x01, 0x02, 0x03})
	img.AddBlock(ProtectionAddress+0x08, []byte{0xFF})

	app := FromImage(img)
	back := FromImage(app.ToImage())

	if string(back.Config.ExtractBytes(0x10, 2, nil)) != string([]byte{0xCA, 0xFE}) {
		t.Errorf("Config round trip = %v, want [0xCA 0xFE]", back.Config.ExtractBytes(0x10, 2, nil))
	}
	if string(back.Eeprom.ExtractBytes(0x04, 3, nil)) != string([]byte{0x01, 0x02, 0x03}) {
		t.Errorf("Eeprom round trip = %v, want [0x01 0x02 0x03]", back.Eeprom.ExtractBytes(0x04, 3, nil))
	}
	if string(back.Protection.ExtractBytes(0x08, 1, nil)) != string([]byte{0xFF}) {
		t.Errorf("Protection round trip = %v, want [0xFF]", back.Protection.ExtractBytes(0x08, 1, nil))
	}
}

func TestAppImage_CalcChecksum(t *testing.T) {
	app := New()
	app.Code.AddBlock(0, []byte{1, 2, 3})
	app.Config.AddBlock(0, []byte{4, 5})

	if got := app.CalcChecksum(false); got != 15 {
		t.Errorf("CalcChecksum(false) = %d, want 15", got)
	}
}

func TestRowCounts_UsesEachRegionsOwnRowSize(t *testing.T) {
	geom := testGeometry()
	app := New()
	app.Code.AddBlock(0, make([]byte, 300))   // 2 rows at 256 bytes/row
	app.Config.AddBlock(0, make([]byte, 40)) // 2 rows at 32 bytes/row

	codeRows, configRows, err := RowCounts(app, geom)
	if err != nil {
		t.Fatalf("RowCounts() error = %v", err)
	}
	if codeRows != 2 {
		t.Errorf("codeRows = %d, want 2", codeRows)
	}
	if configRows != 2 {
		t.Errorf("configRows = %d, want 2 (using config_bytes_per_row, not code_bytes_per_row)", configRows)
	}
}

func TestDeviceGeometry_ValidateRejectsZeroCounts(t *testing.T) {
	geom := testGeometry()
	geom.NumArrays = 0
	if err := geom.Validate(); err == nil {
		t.Fatal("Validate() error = nil, want GeometryInvalid")
	}
}

func TestDeviceGeometry_ValidateRejectsEqualBaseAddresses(t *testing.T) {
	geom := testGeometry()
	geom.ConfigBaseAddress = geom.CodeBaseAddress
	if err := geom.Validate(); err == nil {
		t.Fatal("Validate() error = nil, want GeometryInvalid")
	}
}

func TestExtraFlashUsedForConfig(t *testing.T) {
	app := New()
	app.DeviceConfig = 0
	if !app.ExtraFlashUsedForConfig() {
		t.Error("ExtraFlashUsedForConfig() = false with bit 27 clear, want true")
	}
	app.DeviceConfig = 1 << 27
	if app.ExtraFlashUsedForConfig() {
		t.Error("ExtraFlashUsedForConfig() = true with bit 27 set, want false")
	}
}
