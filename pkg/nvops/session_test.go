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

package nvops_test

import (
	"testing"

	"github.com/master-g/psocprog/pkg/appimage"
	"github.com/master-g/psocprog/pkg/faketarget"
	"github.com/master-g/psocprog/pkg/nvops"
	"github.com/master-g/psocprog/pkg/progerr"
	"github.com/master-g/psocprog/pkg/spc"
	"github.com/master-g/psocprog/pkg/swd"
)

// testGeometry sizes CODE+CONFIG's combined per-row payload (the one
// faketarget.FakeProbe.RowSizeBytes its LOAD_ROW decoder is primed with)
// to equal EepromBytesPerRow, so both the flash and EEPROM write passes
// share one fixed-width row, matching how FakeProbe frames LOAD_ROW.
func testGeometry() appimage.DeviceGeometry {
	return appimage.DeviceGeometry{
		FlashSize:             4 * 2 * 8,
		RowsPerArray:          4,
		NumArrays:             2,
		CodeBytesPerRow:       4,
		ConfigBytesPerRow:     4,
		RowsPerProtectionByte: 4,
		EepromSize:            16,
		EepromBytesPerRow:     8,
		CodeBaseAddress:       0x0000_0000,
		ConfigBaseAddress:     0x8000_0000,
		EepromBaseAddress:     0x4000_0000,
		StatusByteLane:        appimage.DefaultStatusByteLane,
	}
}

// testGeometryNoExtraFlash is for the DEVCONFIG bit-27-set case, where
// CODE rows never carry a CONFIG lane: here the matching fixed row width
// is CodeBytesPerRow alone.
func testGeometryNoExtraFlash() appimage.DeviceGeometry {
	g := testGeometry()
	g.EepromBytesPerRow = g.CodeBytesPerRow
	return g
}

func newSession(t *testing.T, geom appimage.DeviceGeometry, rowSizeBytes int) (*nvops.Session, *faketarget.FakeProbe) {
	t.Helper()
	fake := faketarget.New(nil)
	fake.RowSizeBytes = rowSizeBytes
	fake.EepromBaseAddress = geom.EepromBaseAddress
	sw := swd.New(fake, nil)
	eng := spc.New(sw, fake.StatusByteLane, nil)
	return nvops.New(eng, sw, geom, nil), fake
}

func testImage(geom appimage.DeviceGeometry) *appimage.AppImage {
	app := appimage.New()
	codeLen := geom.RowsPerArray * geom.NumArrays * geom.CodeBytesPerRow
	code := make([]byte, codeLen)
	for i := range code {
		code[i] = byte(i + 1)
	}
	app.Code.AddBlock(0, code)
	app.DeviceConfig = 0 // bit 27 clear: extra flash used for config
	configLen := geom.RowsPerArray * geom.NumArrays * geom.ConfigBytesPerRow
	config := make([]byte, configLen)
	for i := range config {
		config[i] = byte(0x80 + i)
	}
	app.Config.AddBlock(0, config)
	eeprom := make([]byte, geom.EepromSize)
	for i := range eeprom {
		eeprom[i] = byte(0xC0 + i)
	}
	app.Eeprom.AddBlock(0, eeprom)
	app.SecurityWOL = 0x01020304
	app.DeviceID = faketarget.DefaultIDCODE // the id a fresh FakeProbe reports
	app.Checksum = uint16(app.CalcChecksum(true))
	return app
}

func TestSession_WriteReadVerifyRoundTrip(t *testing.T) {
	geom := testGeometry()
	s, _ := newSession(t, geom, int(geom.EepromBytesPerRow))
	app := testImage(geom)

	if err := s.WriteDevice(app, nvops.WriteOptions{}); err != nil {
		t.Fatalf("WriteDevice() error = %v", err)
	}

	mask, err := s.VerifyDevice(app)
	if err != nil {
		t.Fatalf("VerifyDevice() error = %v", err)
	}
	if mask != 0 {
		t.Errorf("VerifyDevice() mask = %#x, want 0", mask)
	}
}

func TestSession_ReadDeviceMatchesWrittenImage(t *testing.T) {
	geom := testGeometry()
	s, _ := newSession(t, geom, int(geom.EepromBytesPerRow))
	app := testImage(geom)

	if err := s.WriteDevice(app, nvops.WriteOptions{}); err != nil {
		t.Fatalf("WriteDevice() error = %v", err)
	}

	got, err := s.ReadDevice()
	if err != nil {
		t.Fatalf("ReadDevice() error = %v", err)
	}
	if got.DeviceConfig != app.DeviceConfig {
		t.Errorf("DeviceConfig = %#x, want %#x", got.DeviceConfig, app.DeviceConfig)
	}
	if got.SecurityWOL != app.SecurityWOL {
		t.Errorf("SecurityWOL = %#x, want %#x", got.SecurityWOL, app.SecurityWOL)
	}

	codeLen := geom.RowsPerArray * geom.NumArrays * geom.CodeBytesPerRow
	wantCode := app.Code.ExtractBytes(0, codeLen, nil)
	gotCode := got.Code.ExtractBytes(0, codeLen, nil)
	for i := range wantCode {
		if wantCode[i] != gotCode[i] {
			t.Fatalf("code[%d] = %#02x, want %#02x", i, gotCode[i], wantCode[i])
		}
	}

	// EEPROM is read back via ap_register_read (memory-mapped), not the
	// SPC command channel — exercise that path explicitly.
	wantEeprom := app.Eeprom.ExtractBytes(0, geom.EepromSize, nil)
	gotEeprom := got.Eeprom.ExtractBytes(0, geom.EepromSize, nil)
	for i := range wantEeprom {
		if wantEeprom[i] != gotEeprom[i] {
			t.Fatalf("eeprom[%d] = %#02x, want %#02x", i, gotEeprom[i], wantEeprom[i])
		}
	}

	if got.Checksum != app.Checksum {
		t.Errorf("Checksum = %#04x, want %#04x", got.Checksum, app.Checksum)
	}
}

func TestSession_WriteDeviceSkipsConfigWhenExtraFlashNotUsed(t *testing.T) {
	geom := testGeometryNoExtraFlash()
	s, _ := newSession(t, geom, int(geom.EepromBytesPerRow))
	app := testImage(geom)
	app.DeviceConfig = 1 << 27 // extra flash NOT used for config

	if err := s.WriteDevice(app, nvops.WriteOptions{}); err != nil {
		t.Fatalf("WriteDevice() error = %v", err)
	}

	got, err := s.ReadDevice()
	if err != nil {
		t.Fatalf("ReadDevice() error = %v", err)
	}
	if len(got.Config.Blocks()) != 0 {
		t.Errorf("Config blocks = %v, want none when extra flash is not used", got.Config.Blocks())
	}
}

func TestSession_EraseFlashClearsCode(t *testing.T) {
	geom := testGeometry()
	s, _ := newSession(t, geom, int(geom.EepromBytesPerRow))
	app := testImage(geom)

	if err := s.WriteDevice(app, nvops.WriteOptions{}); err != nil {
		t.Fatalf("WriteDevice() error = %v", err)
	}
	if err := s.EraseFlash(); err != nil {
		t.Fatalf("EraseFlash() error = %v", err)
	}

	got, err := s.ReadDevice()
	if err != nil {
		t.Fatalf("ReadDevice() error = %v", err)
	}
	codeLen := geom.RowsPerArray * geom.NumArrays * geom.CodeBytesPerRow
	for i, b := range got.Code.ExtractBytes(0, codeLen, nil) {
		if b != 0 {
			t.Fatalf("code[%d] = %#02x after EraseFlash, want 0", i, b)
		}
	}
}

func TestSession_WriteDeviceSkipsIdenticalNVLWrite(t *testing.T) {
	geom := testGeometry()
	s, _ := newSession(t, geom, int(geom.EepromBytesPerRow))
	app := testImage(geom)

	if err := s.WriteDevice(app, nvops.WriteOptions{}); err != nil {
		t.Fatalf("WriteDevice() error = %v", err)
	}
	before := s.NVLWritesRemaining()

	if err := s.WriteDevice(app, nvops.WriteOptions{}); err != nil {
		t.Fatalf("WriteDevice() (second pass) error = %v", err)
	}
	if after := s.NVLWritesRemaining(); after != before {
		t.Errorf("NVLWritesRemaining = %d after re-writing identical DEVCONFIG/WOL, want unchanged %d", after, before)
	}
}

func TestSession_WriteDeviceFailsClosedWhenNVLBudgetExhausted(t *testing.T) {
	geom := testGeometry()
	s, _ := newSession(t, geom, int(geom.EepromBytesPerRow))
	app := testImage(geom)

	for i := 0; i < nvops.MaxNVLWrites; i++ {
		app.SecurityWOL = uint32(i + 1) // each iteration must differ from the last to force a real NVL write
		if err := s.WriteDevice(app, nvops.WriteOptions{}); err != nil {
			t.Fatalf("WriteDevice() iteration %d error = %v", i, err)
		}
	}

	app.SecurityWOL++
	err := s.WriteDevice(app, nvops.WriteOptions{})
	if err == nil {
		t.Fatal("WriteDevice() error = nil after exhausting NVL budget, want RangeError")
	}
	if _, ok := progerr.Cause(err).(*progerr.RangeError); !ok {
		t.Errorf("WriteDevice() error = %T, want *progerr.RangeError", progerr.Cause(err))
	}

	app.SecurityWOL++
	if err := s.WriteDevice(app, nvops.WriteOptions{ForceNVLWrite: true}); err != nil {
		t.Errorf("WriteDevice(ForceNVLWrite=true) error = %v, want nil", err)
	}
}

func TestSession_ChecksumAllMatchesAppImageChecksum(t *testing.T) {
	geom := testGeometry()
	s, _ := newSession(t, geom, int(geom.EepromBytesPerRow))
	app := testImage(geom)

	if err := s.WriteDevice(app, nvops.WriteOptions{}); err != nil {
		t.Fatalf("WriteDevice() error = %v", err)
	}

	got, err := s.ChecksumAll()
	if err != nil {
		t.Fatalf("ChecksumAll() error = %v", err)
	}
	want := uint32(app.CalcChecksum(false))
	if got != want {
		t.Errorf("ChecksumAll() = %d, want %d", got, want)
	}
}

func TestSession_VerifyDeviceDetectsMismatch(t *testing.T) {
	geom := testGeometry()
	s, _ := newSession(t, geom, int(geom.EepromBytesPerRow))
	app := testImage(geom)

	if err := s.WriteDevice(app, nvops.WriteOptions{}); err != nil {
		t.Fatalf("WriteDevice() error = %v", err)
	}

	tampered := testImage(geom)
	tampered.SecurityWOL = app.SecurityWOL + 1

	mask, err := s.VerifyDevice(tampered)
	if err != nil {
		t.Fatalf("VerifyDevice() error = %v", err)
	}
	if mask&progerr.VerifyWol == 0 {
		t.Errorf("VerifyDevice() mask = %#x, want VerifyWol set", mask)
	}
}

func TestSession_VerifyDeviceDetectsChecksumMismatchAsCodeAndConfig(t *testing.T) {
	geom := testGeometry()
	s, _ := newSession(t, geom, int(geom.EepromBytesPerRow))
	app := testImage(geom)

	if err := s.WriteDevice(app, nvops.WriteOptions{}); err != nil {
		t.Fatalf("WriteDevice() error = %v", err)
	}

	tampered := testImage(geom)
	tampered.Checksum++ // simulate a stale file-side checksum without touching bytes

	mask, err := s.VerifyDevice(tampered)
	if err != nil {
		t.Fatalf("VerifyDevice() error = %v", err)
	}
	if mask&(progerr.VerifyCode|progerr.VerifyConfig) != progerr.VerifyCode|progerr.VerifyConfig {
		t.Errorf("VerifyDevice() mask = %#x, want both VerifyCode and VerifyConfig set on checksum mismatch", mask)
	}
}

func TestSession_VerifyDeviceFlagsMissingFileData(t *testing.T) {
	geom := testGeometry()
	s, _ := newSession(t, geom, int(geom.EepromBytesPerRow))
	app := testImage(geom)

	if err := s.WriteDevice(app, nvops.WriteOptions{}); err != nil {
		t.Fatalf("WriteDevice() error = %v", err)
	}

	empty := appimage.New() // no CODE/CONFIG/EEPROM blocks at all

	mask, err := s.VerifyDevice(empty)
	if err != nil {
		t.Fatalf("VerifyDevice() error = %v", err)
	}
	if mask&progerr.VerifyMissingFile == 0 {
		t.Errorf("VerifyDevice() mask = %#x, want VerifyMissingFile set", mask)
	}
}
