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

// Package nvops drives region-level NV-memory flows — WriteDevice,
// ReadDevice, VerifyDevice, EraseFlash, ChecksumAll — on top of an
// already-programming-mode spc.Engine, turning an appimage.AppImage's
// CODE/CONFIG/EEPROM/PROTECTION/DEVCONFIG/WOL regions into the
// row/array-addressed commands spc.Engine exposes.
package nvops

import (
	"github.com/master-g/psocprog/pkg/appimage"
	"github.com/master-g/psocprog/pkg/proglog"
	"github.com/master-g/psocprog/pkg/progerr"
	"github.com/master-g/psocprog/pkg/spc"
	"github.com/master-g/psocprog/pkg/swd"
)

// MaxNVLWrites bounds how many times DEVCONFIG/WOL may be committed in
// one Session's lifetime — each NVL write consumes one of the flash
// row's limited non-volatile-latch program/erase cycles, and unlike
// CODE/CONFIG rows it cannot be distributed across a fresh array.
const MaxNVLWrites = 100

// WriteOptions controls WriteDevice.
type WriteOptions struct {
	// ForceNVLWrite bypasses the NVL write-budget check. Defaults to
	// false: once a Session's budget is exhausted, DEVCONFIG/WOL writes
	// fail closed rather than silently wearing out the part.
	ForceNVLWrite bool

	// WriteProtection enables the PROTECTION region commit. Defaults to
	// false, matching the design note in spec.md §4.6: protection
	// writing is optional and off by default so a routine program run
	// never touches the per-row protect bits.
	WriteProtection bool
}

// Session drives one target's NV-memory flows. It is not safe for
// concurrent use; the underlying swd.Session/transport.Transport are
// single-threaded by the same rule.
type Session struct {
	eng  *spc.Engine
	swd  *swd.Session
	log  proglog.Logger
	geom appimage.DeviceGeometry

	nvlWritesRemaining int
}

// New wraps an already programming-mode spc.Engine/swd.Session pair.
func New(eng *spc.Engine, sw *swd.Session, geom appimage.DeviceGeometry, log proglog.Logger) *Session {
	if log == nil {
		log = proglog.Nop()
	}
	return &Session{eng: eng, swd: sw, geom: geom, log: log, nvlWritesRemaining: MaxNVLWrites}
}

// NVLWritesRemaining reports how many DEVCONFIG/WOL commits this Session
// will still allow without WriteOptions.ForceNVLWrite.
func (s *Session) NVLWritesRemaining() int { return s.nvlWritesRemaining }

func chunk(data []byte, size int) [][]byte {
	var out [][]byte
	for len(data) > 0 {
		n := size
		if n > len(data) {
			n = len(data)
		}
		row := make([]byte, size)
		copy(row, data[:n])
		out = append(out, row)
		data = data[n:]
	}
	return out
}

// EraseFlash erases every CODE/CONFIG flash row and the PROTECTION rows.
// It does not touch DEVCONFIG or WOL.
func (s *Session) EraseFlash() error {
	return s.eng.EraseAll()
}

// WriteDevice programs CODE/CONFIG (combined row-by-row across arrays),
// EEPROM, PROTECTION (if opts.WriteProtection), DEVCONFIG and WOL from
// app, using geom to compute row counts, row sizes and array
// distribution. The caller is responsible for having already erased the
// target, via EraseFlash, if a clean program is required.
func (s *Session) WriteDevice(app *appimage.AppImage, opts WriteOptions) error {
	if err := s.geom.Validate(); err != nil {
		return err
	}

	if err := s.writeFlashRows(app); err != nil {
		return progerr.Wrap(err, "nvops: write flash rows")
	}
	if err := s.writeRows(spc.AidEEPROM, app.Eeprom.ExtractBytes(0, s.geom.EepromSize, nil), int(s.geom.EepromBytesPerRow)); err != nil {
		return progerr.Wrap(err, "nvops: write eeprom rows")
	}
	if opts.WriteProtection {
		if err := s.writeProtection(app); err != nil {
			return progerr.Wrap(err, "nvops: write protection")
		}
	}

	oldDevconfig, err := s.readNVLU32(spc.AidDevconfig)
	if err != nil {
		return progerr.Wrap(err, "nvops: read current devconfig")
	}
	if err := s.writeNVL(spc.AidDevconfig, le32(app.DeviceConfig), oldDevconfig, opts); err != nil {
		return progerr.Wrap(err, "nvops: write devconfig")
	}
	if oldDevconfig != app.DeviceConfig && (oldDevconfig^app.DeviceConfig) == (1<<27) {
		// Only bit 27 (ECC enable) toggled: the new ECC setting needs a
		// fresh programming-mode entry to take effect.
		if err := s.swd.EnterProgrammingMode(); err != nil {
			return progerr.Wrap(err, "nvops: re-enter programming mode after ECC toggle")
		}
	}

	oldWol, err := s.readNVLU32(spc.AidWol)
	if err != nil {
		return progerr.Wrap(err, "nvops: read current wol")
	}
	if err := s.writeNVL(spc.AidWol, be32(app.SecurityWOL), oldWol, opts); err != nil {
		return progerr.Wrap(err, "nvops: write wol")
	}
	return nil
}

// writeFlashRows assembles CODE+CONFIG together, row by row, and writes
// each row to its owning array: num_rows = max(code rows, config rows),
// distributed sequentially across arrays at geom.RowsPerArray rows each.
// A row's payload is code_bytes_per_row bytes, plus config_bytes_per_row
// more when app.ExtraFlashUsedForConfig() — the per-row ECC/config lane
// travels in the same LOAD_ROW/WRITE_ROW pair as its code bytes, per
// spec.md §4.6.
func (s *Session) writeFlashRows(app *appimage.AppImage) error {
	codeRows, configRows, err := appimage.RowCounts(app, s.geom)
	if err != nil {
		return err
	}
	numRows := codeRows
	if configRows > numRows {
		numRows = configRows
	}
	extra := app.ExtraFlashUsedForConfig()

	for row := uint32(0); row < numRows; row++ {
		array := row / s.geom.RowsPerArray
		rowInArray := row % s.geom.RowsPerArray

		payload := app.Code.ExtractBytes(row*s.geom.CodeBytesPerRow, s.geom.CodeBytesPerRow, nil)
		if extra {
			cfg := app.Config.ExtractBytes(row*s.geom.ConfigBytesPerRow, s.geom.ConfigBytesPerRow, nil)
			payload = append(payload, cfg...)
		}

		if err := s.eng.LoadRow(byte(array), payload); err != nil {
			return err
		}
		tsign, tmag, err := s.eng.Temperature(1)
		if err != nil {
			return err
		}
		if err := s.eng.WriteRow(byte(array), uint16(rowInArray), tsign, tmag); err != nil {
			return err
		}
	}
	return nil
}

func (s *Session) writeRows(aid byte, data []byte, rowSize int) error {
	if rowSize == 0 {
		return nil
	}
	for row, payload := range chunk(data, rowSize) {
		if err := s.eng.LoadRow(aid, payload); err != nil {
			return err
		}
		tsign, tmag, err := s.eng.Temperature(1)
		if err != nil {
			return err
		}
		if err := s.eng.WriteRow(aid, uint16(row), tsign, tmag); err != nil {
			return err
		}
	}
	return nil
}

func (s *Session) writeProtection(app *appimage.AppImage) error {
	perArray := s.geom.ProtectionBytesPerArray()
	if perArray == 0 {
		return nil
	}
	for arrayIdx, row := range chunk(app.Protection.ExtractBytes(0, perArray*s.geom.NumArrays, nil), int(perArray)) {
		for i, b := range row {
			if err := s.eng.LoadByte(spc.AidAllFlash, byte(i), b); err != nil {
				return err
			}
		}
		if err := s.eng.Protect(byte(arrayIdx)); err != nil {
			return err
		}
	}
	return nil
}

// writeNVL commits data to aid's NVL lane, unless data already equals
// old (read-modify-skip-if-same, per spec.md §4.6) — identical behavior
// for both DEVCONFIG and WOL.
func (s *Session) writeNVL(aid byte, data [4]byte, old uint32, opts WriteOptions) error {
	if le32Decode(data) == old {
		return nil
	}
	if s.nvlWritesRemaining <= 0 && !opts.ForceNVLWrite {
		return &progerr.RangeError{Reason: "nvops: NVL write budget exhausted"}
	}
	for i, b := range data {
		if err := s.eng.LoadByte(aid, byte(i), b); err != nil {
			return err
		}
	}
	if err := s.eng.WriteNVL(aid); err != nil {
		return err
	}
	s.nvlWritesRemaining--
	return nil
}

// readNVLU32 reads aid's 4-byte NVL lane and composes it little-endian —
// the wire order both DEVCONFIG and WOL's LOAD_BYTE/READ_NVL_VOL_BYTE
// lanes use regardless of the region's own logical endianness, which is
// applied only when decoding into AppImage scalars.
func (s *Session) readNVLU32(aid byte) (uint32, error) {
	b, err := s.readNVL(aid)
	if err != nil {
		return 0, err
	}
	return le32Decode(b), nil
}

// ReadDevice reads DEVCONFIG, WOL, CODE, CONFIG, the all-flash checksum,
// PROTECTION and EEPROM back from the target into a fresh AppImage,
// sized by geom. DEVCONFIG is read before flash so
// ExtraFlashUsedForConfig can gate whether the per-row config/ECC lane
// is read back alongside CODE.
func (s *Session) ReadDevice() (*appimage.AppImage, error) {
	app := appimage.New()

	if id, err := s.swd.ReadJtagID(); err == nil {
		app.DeviceID = id
	} else {
		return nil, progerr.Wrap(err, "nvops: read jtag id")
	}

	wol, err := s.readNVL(spc.AidWol)
	if err != nil {
		return nil, progerr.Wrap(err, "nvops: read wol")
	}
	app.SecurityWOL = be32Decode(wol)

	devconfig, err := s.readNVL(spc.AidDevconfig)
	if err != nil {
		return nil, progerr.Wrap(err, "nvops: read devconfig")
	}
	app.DeviceConfig = le32Decode(devconfig)

	if err := s.readFlashRows(app); err != nil {
		return nil, progerr.Wrap(err, "nvops: read flash rows")
	}

	checksum, err := s.ChecksumAll()
	if err != nil {
		return nil, progerr.Wrap(err, "nvops: checksum-all")
	}
	app.Checksum = uint16(checksum)

	perArray := s.geom.ProtectionBytesPerArray()
	var protection []byte
	for a := uint32(0); a < s.geom.NumArrays; a++ {
		row, err := s.eng.ReadHiddenRow(byte(a))
		if err != nil {
			return nil, progerr.Wrap(err, "nvops: read protection")
		}
		protection = append(protection, row[:perArray]...)
	}
	app.Protection.AddBlock(0, protection)

	eeprom, err := s.readEEPROM()
	if err != nil {
		return nil, progerr.Wrap(err, "nvops: read eeprom")
	}
	app.Eeprom.AddBlock(0, eeprom)

	return app, nil
}

// readEEPROM reads EEPROM back row-by-row via ap_register_read in 4-byte
// increments, per spec.md §4.6 step 7: unlike CODE/CONFIG/PROTECTION,
// EEPROM is memory-mapped for reads and never goes through the
// KEY1/KEY2-gated SPC command channel.
func (s *Session) readEEPROM() ([]byte, error) {
	out := make([]byte, 0, s.geom.EepromSize)
	for addr := uint32(0); addr < s.geom.EepromSize; addr += 4 {
		v, err := s.swd.ApRegisterRead(s.geom.EepromBaseAddress+addr, false)
		if err != nil {
			return nil, err
		}
		word := [4]byte{byte(v), byte(v >> 8), byte(v >> 16), byte(v >> 24)}
		n := 4
		if remaining := int(s.geom.EepromSize - addr); remaining < n {
			n = remaining
		}
		out = append(out, word[:n]...)
	}
	return out, nil
}

// readFlashRows is writeFlashRows' read-back counterpart: for each
// array/row it pulls back code_bytes_per_row bytes (plus
// config_bytes_per_row more when app.ExtraFlashUsedForConfig()) from
// that array's row-addressed flash, and deposits them at the
// corresponding global CODE/CONFIG offsets.
func (s *Session) readFlashRows(app *appimage.AppImage) error {
	extra := app.ExtraFlashUsedForConfig()
	rowLen := s.geom.CodeBytesPerRow
	if extra {
		rowLen += s.geom.ConfigBytesPerRow
	}

	var code, config []byte
	for a := uint32(0); a < s.geom.NumArrays; a++ {
		rowData, err := s.readBytes(byte(a), s.geom.RowsPerArray*rowLen)
		if err != nil {
			return err
		}
		for r := uint32(0); r < s.geom.RowsPerArray; r++ {
			row := rowData[r*rowLen : (r+1)*rowLen]
			code = append(code, row[:s.geom.CodeBytesPerRow]...)
			if extra {
				config = append(config, row[s.geom.CodeBytesPerRow:]...)
			}
		}
	}
	app.Code.AddBlock(0, code)
	if extra {
		app.Config.AddBlock(0, config)
	}
	return nil
}

func (s *Session) readBytes(aid byte, n uint32) ([]byte, error) {
	const maxChunk = 256
	out := make([]byte, 0, n)
	for addr := uint32(0); addr < n; addr += maxChunk {
		want := maxChunk
		if remaining := int(n - addr); remaining < want {
			want = remaining
		}
		got, err := s.eng.ReadMultiByte(aid, addr, want)
		if err != nil {
			return nil, err
		}
		out = append(out, got...)
	}
	return out, nil
}

func (s *Session) readNVL(aid byte) ([4]byte, error) {
	var out [4]byte
	for i := range out {
		b, err := s.eng.ReadNVLVolByte(aid, byte(i))
		if err != nil {
			return out, err
		}
		out[i] = b
	}
	return out, nil
}

// VerifyDevice reads the target back and compares it against app,
// returning a progerr.Verify* bitmask of every region that differs (zero
// means the device matches app exactly). Per spec.md §4.6, CODE/CONFIG
// are compared via the all-flash checksum (a mismatch sets both bits,
// since a single checksum cannot say which of the two diverged), while
// EEPROM and PROTECTION are compared byte-by-byte. A failed device
// read-back is reported as progerr.VerifyReadFailed rather than a Go
// error, matching spec.md §6's "returned as a success value, not an
// exception" contract for VerifyMismatch.
func (s *Session) VerifyDevice(app *appimage.AppImage) (int, error) {
	device, err := s.ReadDevice()
	if err != nil {
		s.log.Warnf("nvops: verify: read device failed: %v", err)
		return progerr.VerifyReadFailed, nil
	}

	var mask int
	if missingFileData(app) {
		mask |= progerr.VerifyMissingFile
	}

	if app.Checksum != device.Checksum {
		mask |= progerr.VerifyCode | progerr.VerifyConfig
	}

	// Compare against geometry-derived lengths, the same fixed sizes
	// ReadDevice fills device with, rather than each side's own highest
	// populated address:
	// a source image that leaves a region's blocks sparse or absent must
	// still compare byte-for-byte against the device's fully-populated
	// read-back.
	protectionLen := s.geom.ProtectionBytesPerArray() * s.geom.NumArrays
	if !bytesEqual(app.Eeprom.ExtractBytes(0, s.geom.EepromSize, nil), device.Eeprom.ExtractBytes(0, s.geom.EepromSize, nil)) {
		mask |= progerr.VerifyEeprom
	}
	if !bytesEqual(app.Protection.ExtractBytes(0, protectionLen, nil), device.Protection.ExtractBytes(0, protectionLen, nil)) {
		mask |= progerr.VerifyProtection
	}
	if app.DeviceConfig != device.DeviceConfig {
		mask |= progerr.VerifyDevconfig
	}
	if app.SecurityWOL != device.SecurityWOL {
		mask |= progerr.VerifyWol
	}
	if app.DeviceID != device.DeviceID {
		mask |= progerr.VerifyJtagID
	}

	return mask, nil
}

// missingFileData reports whether app is missing data for a region that
// verify_device needs to compare — a file-side AppImage with an empty
// CODE, a required CONFIG, or EEPROM sub-image can't be meaningfully
// checked against the device read-back. PROTECTION is excluded: writing
// it is opt-in (WriteOptions.WriteProtection), so an AppImage that never
// touched protection legitimately carries no protection blocks.
func missingFileData(app *appimage.AppImage) bool {
	if len(app.Code.Blocks()) == 0 {
		return true
	}
	if app.ExtraFlashUsedForConfig() && len(app.Config.Blocks()) == 0 {
		return true
	}
	if len(app.Eeprom.Blocks()) == 0 {
		return true
	}
	return false
}

// ChecksumAll asks the SPC engine to sum every CODE+CONFIG byte, array by
// array, the same quantity AppImage.CalcChecksum computes from a hex
// file, so WriteDevice's result can be checked against the source image
// without a full read-back. It reads the live DEVCONFIG first, since
// whether CONFIG participates depends on ExtraFlashUsedForConfig.
func (s *Session) ChecksumAll() (uint32, error) {
	devconfig, err := s.readNVLU32(spc.AidDevconfig)
	if err != nil {
		return 0, err
	}
	rowLen := s.geom.CodeBytesPerRow
	if devconfig&(1<<27) == 0 {
		rowLen += s.geom.ConfigBytesPerRow
	}

	var sum uint32
	for a := uint32(0); a < s.geom.NumArrays; a++ {
		c, err := s.eng.GetChecksum(byte(a), 0, s.geom.RowsPerArray*rowLen)
		if err != nil {
			return 0, err
		}
		sum += c
	}
	return sum, nil
}

func le32(v uint32) [4]byte  { return [4]byte{byte(v), byte(v >> 8), byte(v >> 16), byte(v >> 24)} }
func be32(v uint32) [4]byte  { return [4]byte{byte(v >> 24), byte(v >> 16), byte(v >> 8), byte(v)} }
func le32Decode(b [4]byte) uint32 {
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24
}
func be32Decode(b [4]byte) uint32 {
	return uint32(b[0])<<24 | uint32(b[1])<<16 | uint32(b[2])<<8 | uint32(b[3])
}

func bytesEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
