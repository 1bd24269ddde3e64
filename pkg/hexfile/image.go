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

package hexfile

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/master-g/psocprog/pkg/progerr"
)

// Block is a contiguous run of bytes starting at an absolute 32-bit
// address. Blocks may appear in any order inside an Image and may or may
// not be contiguous with one another.
type Block struct {
	Base uint32
	Data []byte
}

// End returns the address one past the last byte of the block.
func (b Block) End() uint32 { return b.Base + uint32(len(b.Data)) }

// Image is a sparse address->byte map: an ordered sequence of Blocks.
// Image is constructed empty or by Parse, and mutated only by producing
// new Images via Reshape/Extract/Trim/AddBlock — callers that own an
// Image (notably AppImage) replace their reference wholesale rather than
// editing in place, so there are never back-references into a shared
// Image.
type Image struct {
	blocks []Block
}

// New returns an empty Image.
func New() *Image { return &Image{} }

// Blocks returns the Image's blocks in their current order. The slice is
// a defensive copy; callers must not rely on aliasing.
func (img *Image) Blocks() []Block {
	out := make([]Block, len(img.blocks))
	copy(out, img.blocks)
	return out
}

// AddBlock appends one block verbatim, without canonicalizing. Used by
// Parse and by callers building an Image programmatically (e.g. AppImage
// assembling region data before Emit).
func (img *Image) AddBlock(base uint32, data []byte) {
	if len(data) == 0 {
		return
	}
	cp := append([]byte(nil), data...)
	img.blocks = append(img.blocks, Block{Base: base, Data: cp})
}

// Parse reads an Intel-HEX file from path. defaultBase is used as the
// running high_address before the first extended-address record is
// seen, so that any data records preceding it still land at a sensible
// absolute address.
func Parse(path string, defaultBase uint32) (*Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, &progerr.IoError{Path: path, Cause: err}
	}
	defer f.Close()
	return ParseReader(f, defaultBase)
}

// ParseReader is the Parse implementation decoupled from the filesystem,
// used directly by tests and by callers that already hold a Reader (e.g.
// the FX2 bootstrap firmware image, which never touches disk).
func ParseReader(r io.Reader, defaultBase uint32) (*Image, error) {
	img := New()
	highAddress := defaultBase

	scanner := bufio.NewScanner(r)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		rec, lowAddr, err := parseRecordLine(line, lineNo)
		if err != nil {
			return nil, err
		}

		switch rec.Type {
		case RecData:
			img.AddBlock(highAddress+uint32(lowAddr), rec.Payload)
		case RecExtSegAddr:
			if len(rec.Payload) != 2 {
				return nil, &progerr.HexParseError{Line: lineNo, Reason: "ExtSegAddr payload must be 2 bytes"}
			}
			seg := binary.BigEndian.Uint16(rec.Payload)
			highAddress = uint32(seg) << 4
		case RecExtLinAddr:
			if len(rec.Payload) != 2 {
				return nil, &progerr.HexParseError{Line: lineNo, Reason: "ExtLinAddr payload must be 2 bytes"}
			}
			hi := binary.BigEndian.Uint16(rec.Payload)
			highAddress = uint32(hi) << 16
		case RecStartSegAddr, RecStartLinAddr:
			// parsed and discarded
		case RecEndOfFile:
			return img.canonicalize(), nil
		default:
			return nil, &progerr.UnknownRecordType{Line: lineNo, Type: int(rec.Type)}
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, &progerr.IoError{Path: "<reader>", Cause: err}
	}
	return img.canonicalize(), nil
}

// canonicalize returns a new Image with blocks sorted by address, empty
// blocks dropped, and contiguous blocks merged (reshape(0) of the sorted
// blocks).
func (img *Image) canonicalize() *Image {
	sorted := &Image{blocks: img.Blocks()}
	sort.SliceStable(sorted.blocks, func(i, j int) bool { return sorted.blocks[i].Base < sorted.blocks[j].Base })
	return sorted.Reshape(0)
}

// Reshape produces a new Image whose data blocks are at most maxLen
// bytes (0 means unlimited, merging all contiguous input). Contiguous
// adjacent input blocks are concatenated up to maxLen; a discontinuity
// (next block's base != previous end) starts a new output block.
// Reshape does not split input blocks except by the maxLen cap, and it
// preserves input order — it does not sort.
func (img *Image) Reshape(maxLen int) *Image {
	out := New()

	var curBase uint32
	var cur []byte
	flush := func() {
		if len(cur) > 0 {
			out.AddBlock(curBase, cur)
		}
		cur = nil
	}

	for _, b := range img.blocks {
		if len(b.Data) == 0 {
			continue
		}
		if len(cur) == 0 {
			curBase = b.Base
			cur = append([]byte(nil), b.Data...)
		} else if b.Base == curBase+uint32(len(cur)) {
			cur = append(cur, b.Data...)
		} else {
			flush()
			curBase = b.Base
			cur = append([]byte(nil), b.Data...)
		}

		for maxLen > 0 && len(cur) > maxLen {
			out.AddBlock(curBase, cur[:maxLen])
			curBase += uint32(maxLen)
			cur = cur[maxLen:]
		}
	}
	flush()

	return out
}

// Extract returns a new Image containing exactly the intersection of
// [start, start+length) with each input block. The intersection of a
// single input block always produces a single output block, clipped to
// the requested start.
func (img *Image) Extract(start, length uint32) *Image {
	out := New()
	end := start + length
	for _, b := range img.blocks {
		lo := maxU32(start, b.Base)
		hi := minU32(end, b.End())
		if lo >= hi {
			continue
		}
		out.AddBlock(lo, b.Data[lo-b.Base:hi-b.Base])
	}
	return out
}

// ExtractBytes fills a dense buffer with the bytes covered by
// [start, start+length), leaving unrepresented bytes as 0x00. If dest is
// nil (or too short) a new buffer of exactly length bytes is allocated.
// ExtractBytes stops once length bytes have been produced.
func (img *Image) ExtractBytes(start, length uint32, dest []byte) []byte {
	if uint32(len(dest)) < length {
		dest = make([]byte, length)
	} else {
		for i := uint32(0); i < length; i++ {
			dest[i] = 0
		}
	}

	end := start + length
	for _, b := range img.blocks {
		lo := maxU32(start, b.Base)
		hi := minU32(end, b.End())
		if lo >= hi {
			continue
		}
		copy(dest[lo-start:hi-start], b.Data[lo-b.Base:hi-b.Base])
	}
	return dest[:length]
}

// Trim returns a new Image with every block whose payload is entirely
// 0x00 removed — the post-erase default for flash/EEPROM/protection
// regions.
func (img *Image) Trim() *Image {
	out := New()
	for _, b := range img.blocks {
		if isAllZero(b.Data) {
			continue
		}
		out.AddBlock(b.Base, b.Data)
	}
	return out
}

func isAllZero(data []byte) bool {
	for _, b := range data {
		if b != 0 {
			return false
		}
	}
	return true
}

// UintAt extracts length (1, 2, or 4) bytes starting at addr and composes
// them into a scalar using the given byte order.
func (img *Image) UintAt(addr uint32, length int, order binary.ByteOrder) (uint64, error) {
	if length != 1 && length != 2 && length != 4 {
		return 0, &progerr.RangeError{Reason: fmt.Sprintf("UintAt: unsupported length %d", length)}
	}
	buf := img.ExtractBytes(addr, uint32(length), nil)
	switch length {
	case 1:
		return uint64(buf[0]), nil
	case 2:
		return uint64(order.Uint16(buf)), nil
	default:
		return uint64(order.Uint32(buf)), nil
	}
}

// MinMaxAddress returns the minimum base and maximum end address across
// blocks intersecting [rangeStart, rangeStart+rangeLen). ok is false if
// no block intersects the range.
func (img *Image) MinMaxAddress(rangeStart, rangeLen uint32) (minStart, maxEnd uint32, ok bool) {
	rangeEnd := rangeStart + rangeLen
	for _, b := range img.blocks {
		lo := maxU32(rangeStart, b.Base)
		hi := minU32(rangeEnd, b.End())
		if lo >= hi {
			continue
		}
		if !ok || lo < minStart {
			minStart = lo
		}
		if !ok || hi > maxEnd {
			maxEnd = hi
		}
		ok = true
	}
	return
}

func maxU32(a, b uint32) uint32 {
	if a > b {
		return a
	}
	return b
}

func minU32(a, b uint32) uint32 {
	if a < b {
		return a
	}
	return b
}
