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
	"encoding/binary"
	"strings"
	"testing"
)

func TestParseReader_DataRecordChecksum(t *testing.T) {
	src := ":0F0000000102030405060708090A0B0C0D0E0F79\n:00000001FF\n"
	img, err := ParseReader(strings.NewReader(src), 0)
	if err != nil {
		t.Fatalf("ParseReader() error = %v", err)
	}
	blocks := img.Blocks()
	if len(blocks) != 1 {
		t.Fatalf("len(blocks) = %d, want 1", len(blocks))
	}
	if blocks[0].Base != 0 {
		t.Errorf("Base = %#x, want 0", blocks[0].Base)
	}
	want := []byte{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13, 14, 15}
	if string(blocks[0].Data) != string(want) {
		t.Errorf("Data = %v, want %v", blocks[0].Data, want)
	}
}

func TestParseReader_BadChecksum(t *testing.T) {
	src := ":0F0000000102030405060708090A0B0C0D0E0F00\n:00000001FF\n"
	if _, err := ParseReader(strings.NewReader(src), 0); err == nil {
		t.Fatal("ParseReader() error = nil, want BadChecksum")
	}
}

func TestParseReader_ExtendedLinearAddress(t *testing.T) {
	src := ":020000040001F9\n:0F000000000102030405060708090A0B0C0D0E88\n:00000001FF\n"
	img, err := ParseReader(strings.NewReader(src), 0)
	if err != nil {
		t.Fatalf("ParseReader() error = %v", err)
	}
	blocks := img.Blocks()
	if len(blocks) != 1 {
		t.Fatalf("len(blocks) = %d, want 1", len(blocks))
	}
	if blocks[0].Base != 0x0001_0000 {
		t.Errorf("Base = %#x, want 0x00010000", blocks[0].Base)
	}
}

func TestImage_ReshapeMergesContiguousBlocks(t *testing.T) {
	img := New()
	img.AddBlock(0, []byte{1, 2, 3, 4})
	img.AddBlock(4, []byte{5, 6, 7, 8})
	img.AddBlock(100, []byte{9})

	out := img.Reshape(0)
	blocks := out.Blocks()
	if len(blocks) != 2 {
		t.Fatalf("len(blocks) = %d, want 2", len(blocks))
	}
	if blocks[0].Base != 0 || len(blocks[0].Data) != 8 {
		t.Errorf("blocks[0] = %+v, want base 0 len 8", blocks[0])
	}
	if blocks[1].Base != 100 || len(blocks[1].Data) != 1 {
		t.Errorf("blocks[1] = %+v, want base 100 len 1", blocks[1])
	}
}

func TestImage_ReshapeSplitsAtMaxLen(t *testing.T) {
	img := New()
	img.AddBlock(0, []byte{1, 2, 3, 4, 5})

	out := img.Reshape(2)
	blocks := out.Blocks()
	if len(blocks) != 3 {
		t.Fatalf("len(blocks) = %d, want 3", len(blocks))
	}
	if blocks[2].Base != 4 || len(blocks[2].Data) != 1 {
		t.Errorf("blocks[2] = %+v, want base 4 len 1", blocks[2])
	}
}

func TestImage_ExtractClipsToRange(t *testing.T) {
	img := New()
	img.AddBlock(10, []byte{1, 2, 3, 4, 5})

	out := img.Extract(12, 2)
	blocks := out.Blocks()
	if len(blocks) != 1 {
		t.Fatalf("len(blocks) = %d, want 1", len(blocks))
	}
	if blocks[0].Base != 12 {
		t.Errorf("Base = %d, want 12", blocks[0].Base)
	}
	want := []byte{3, 4}
	if string(blocks[0].Data) != string(want) {
		t.Errorf("Data = %v, want %v", blocks[0].Data, want)
	}
}

func TestImage_ExtractBytesFillsZeroGaps(t *testing.T) {
	img := New()
	img.AddBlock(2, []byte{0xAA, 0xBB})

	got := img.ExtractBytes(0, 5, nil)
	want := []byte{0, 0, 0xAA, 0xBB, 0}
	if string(got) != string(want) {
		t.Errorf("ExtractBytes() = %v, want %v", got, want)
	}
}

func TestImage_TrimDropsAllZeroBlocks(t *testing.T) {
	img := New()
	img.AddBlock(0, []byte{0, 0, 0})
	img.AddBlock(10, []byte{1, 0})

	out := img.Trim()
	blocks := out.Blocks()
	if len(blocks) != 1 || blocks[0].Base != 10 {
		t.Errorf("Trim() blocks = %+v, want one block at 10", blocks)
	}
}

func TestImage_UintAt(t *testing.T) {
	img := New()
	img.AddBlock(0, []byte{0x01, 0x02, 0x03, 0x04})

	v, err := img.UintAt(0, 4, binary.BigEndian)
	if err != nil {
		t.Fatalf("UintAt() error = %v", err)
	}
	if v != 0x01020304 {
		t.Errorf("UintAt(BE) = %#x, want 0x01020304", v)
	}

	v, err = img.UintAt(0, 4, binary.LittleEndian)
	if err != nil {
		t.Fatalf("UintAt() error = %v", err)
	}
	if v != 0x04030201 {
		t.Errorf("UintAt(LE) = %#x, want 0x04030201", v)
	}
}

func TestImage_RoundTripWriteParse(t *testing.T) {
	img := New()
	img.AddBlock(0x0001_0000, []byte{1, 2, 3, 4, 5, 6, 7, 8})

	var sb strings.Builder
	if err := img.WriteTo(&sb, 32); err != nil {
		t.Fatalf("WriteTo() error = %v", err)
	}

	parsed, err := ParseReader(strings.NewReader(sb.String()), 0)
	if err != nil {
		t.Fatalf("ParseReader() error = %v", err)
	}
	blocks := parsed.Blocks()
	if len(blocks) != 1 || blocks[0].Base != 0x0001_0000 {
		t.Fatalf("blocks = %+v, want one block at 0x00010000", blocks)
	}
}
