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
	"encoding/binary"

	"github.com/master-g/psocprog/pkg/hexfile"
)

// Virtual address map, per spec.md §3. These are addresses inside the
// AppImage's own coordinate space, unrelated to the target's physical
// bus addresses (which DeviceGeometry's base-address fields describe).
const (
	FlashCodeAddress = 0x0000_0000
	FlashCodeSize    = 0x8000_0000

	ConfigAddress = 0x8000_0000
	ConfigSize    = 0x1000_0000

	DevconfigAddress = 0x9000_0000
	DevconfigSize    = 4

	WolAddress = 0x9010_0000
	WolSize    = 4

	EepromAddress = 0x9020_0000
	EepromSize    = 0x0010_0000

	ChecksumAddress = 0x9030_0000
	ChecksumSize    = 2

	ProtectionAddress = 0x9040_0000
	ProtectionSize    = 0x0010_0000

	MetadataAddress = 0x9050_0000
	MetadataSize    = 12
)

// AppImage is a region-partitioned view of a canonical hexfile.Image.
// Each sub-image is owned exclusively by the AppImage and is replaced
// wholesale on every ReadHexFile/ReadDevice call — there are no partial
// updates and no aliasing between loads.
type AppImage struct {
	Code       *hexfile.Image
	Config     *hexfile.Image
	Eeprom     *hexfile.Image
	Protection *hexfile.Image

	DeviceConfig uint32 // DEVCONFIG, little-endian on the wire
	SecurityWOL  uint32 // WOL, big-endian on the wire
	Checksum     uint16 // CHECKSUM, big-endian on the wire, 16 bits

	// Version, DeviceID, SiliconRev, DebugEnable decode METADATA
	// (big-endian fields: version(2) device_id(4) silicon_rev(1)
	// debug_enable(1) reserved(4)).
	Version     uint16
	DeviceID    uint32
	SiliconRev  uint8
	DebugEnable uint8
}

// New returns an empty AppImage with zeroed scalars and empty regions.
func New() *AppImage {
	return &AppImage{
		Code:       hexfile.New(),
		Config:     hexfile.New(),
		Eeprom:     hexfile.New(),
		Protection: hexfile.New(),
	}
}

// ReadHexFile parses path and partitions it across the virtual address
// map. Every scalar defaults to 0 if its virtual range is absent from
// the file.
func ReadHexFile(path string, defaultBase uint32) (*AppImage, error) {
	img, err := hexfile.Parse(path, defaultBase)
	if err != nil {
		return nil, err
	}
	return FromImage(img), nil
}

// extractRegion extracts [base, base+size) from img and rebases the
// result to start at address 0: hexfile.Image.Extract preserves absolute
// addressing (its output block sits "at the clipped start address", per
// spec.md §4.1), but every other AppImage consumer (ToImage, RowCounts,
// nvops' row addressing) treats Code/Config/Eeprom/Protection as
// independent 0-based images keyed by geometry row offsets, not by their
// virtual-map location.
func extractRegion(img *hexfile.Image, base, size uint32) *hexfile.Image {
	sub := img.Extract(base, size)
	out := hexfile.New()
	for _, b := range sub.Blocks() {
		out.AddBlock(b.Base-base, b.Data)
	}
	return out
}

// FromImage partitions an already-parsed canonical Image, used directly
// by tests and by ReadHexFile.
func FromImage(img *hexfile.Image) *AppImage {
	app := &AppImage{
		Code:       extractRegion(img, FlashCodeAddress, FlashCodeSize),
		Config:     extractRegion(img, ConfigAddress, ConfigSize),
		Eeprom:     extractRegion(img, EepromAddress, EepromSize),
		Protection: extractRegion(img, ProtectionAddress, ProtectionSize),
	}

	app.DeviceConfig = uint32(mustUint(img, DevconfigAddress, 4, binary.LittleEndian))
	app.SecurityWOL = uint32(mustUint(img, WolAddress, 4, binary.BigEndian))
	app.Checksum = uint16(mustUint(img, ChecksumAddress, 2, binary.BigEndian))

	meta := img.ExtractBytes(MetadataAddress, MetadataSize, nil)
	app.Version = binary.BigEndian.Uint16(meta[0:2])
	app.DeviceID = binary.BigEndian.Uint32(meta[2:6])
	app.SiliconRev = meta[6]
	app.DebugEnable = meta[7]
	// meta[8:12] is reserved.

	return app
}

func mustUint(img *hexfile.Image, addr uint32, length int, order binary.ByteOrder) uint64 {
	v, err := img.UintAt(addr, length, order)
	if err != nil {
		// length is always one of {1,2,4} here, so UintAt cannot fail.
		panic(err)
	}
	return v
}

// WriteHexFile emits all regions, in ascending virtual address order,
// into a single canonical hexfile.Image and writes it to path (pass ""
// to build the Image without touching disk — see ToImage). Checksum is
// NOT recomputed here; CalcChecksum must be called and its result
// assigned to a.Checksum by the caller first.
func (a *AppImage) WriteHexFile(path string) error {
	img := a.ToImage()
	if path == "" {
		return nil
	}
	return img.Write(path, 32)
}

// ToImage assembles the AppImage back into one flat hexfile.Image,
// encoding DEVCONFIG (4 bytes LE), WOL (4 bytes BE), EEPROM, CHECKSUM (2
// bytes BE), PROTECTION, and METADATA (12 bytes BE) at their virtual
// addresses.
func (a *AppImage) ToImage() *hexfile.Image {
	img := hexfile.New()

	for _, b := range a.Code.Blocks() {
		img.AddBlock(FlashCodeAddress+b.Base, b.Data)
	}
	for _, b := range a.Config.Blocks() {
		img.AddBlock(ConfigAddress+b.Base, b.Data)
	}

	devconfig := make([]byte, 4)
	binary.LittleEndian.PutUint32(devconfig, a.DeviceConfig)
	img.AddBlock(DevconfigAddress, devconfig)

	wol := make([]byte, 4)
	binary.BigEndian.PutUint32(wol, a.SecurityWOL)
	img.AddBlock(WolAddress, wol)

	for _, b := range a.Eeprom.Blocks() {
		img.AddBlock(EepromAddress+b.Base, b.Data)
	}

	checksum := make([]byte, 2)
	binary.BigEndian.PutUint16(checksum, a.Checksum)
	img.AddBlock(ChecksumAddress, checksum)

	for _, b := range a.Protection.Blocks() {
		img.AddBlock(ProtectionAddress+b.Base, b.Data)
	}

	meta := make([]byte, MetadataSize)
	binary.BigEndian.PutUint16(meta[0:2], a.Version)
	binary.BigEndian.PutUint32(meta[2:6], a.DeviceID)
	meta[6] = a.SiliconRev
	meta[7] = a.DebugEnable
	img.AddBlock(MetadataAddress, meta)

	return img
}

// CalcChecksum sums every byte across the CODE and CONFIG blocks. If
// truncate is set, the result is masked to 16 bits (the width the
// CHECKSUM region itself stores).
func (a *AppImage) CalcChecksum(truncate bool) uint64 {
	var sum uint64
	for _, b := range a.Code.Blocks() {
		for _, v := range b.Data {
			sum += uint64(v)
		}
	}
	for _, b := range a.Config.Blocks() {
		for _, v := range b.Data {
			sum += uint64(v)
		}
	}
	if truncate {
		sum &= 0xFFFF
	}
	return sum
}

// ExtraFlashUsedForConfig reports whether bit 27 of DEVCONFIG is clear
// (ECC disabled), in which case the per-row config/ECC lane is available
// as regular flash and must be programmed alongside CODE.
func (a *AppImage) ExtraFlashUsedForConfig() bool {
	return a.DeviceConfig&(1<<27) == 0
}

// RowCounts returns how many rows must be written to cover the current
// CODE and CONFIG sub-images, using each region's own row size — the
// fix for the source's modulus bug named in spec.md §9's Open Questions
// (the CONFIG row count must use config_bytes_per_row, not
// code_bytes_per_row).
func RowCounts(a *AppImage, geom DeviceGeometry) (codeRows, configRows uint32, err error) {
	if err = geom.Validate(); err != nil {
		return 0, 0, err
	}
	codeLen := imageLen(a.Code)
	configLen := imageLen(a.Config)

	codeRows = ceilDiv(codeLen, geom.CodeBytesPerRow)
	configRows = ceilDiv(configLen, geom.ConfigBytesPerRow)
	return
}

func imageLen(img *hexfile.Image) uint32 {
	var maxEnd uint32
	for _, b := range img.Blocks() {
		if e := b.End(); e > maxEnd {
			maxEnd = e
		}
	}
	return maxEnd
}

func ceilDiv(n, d uint32) uint32 {
	if d == 0 {
		return 0
	}
	return (n + d - 1) / d
}
