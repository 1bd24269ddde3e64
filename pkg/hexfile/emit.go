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
	"io"
	"os"

	"github.com/master-g/psocprog/pkg/progerr"
)

// Write renders the Image to path as Intel-HEX text at the given record
// width. width == 0 means emit each current block as a single record
// (which fails with RangeError if any block exceeds 255 bytes); width in
// 1..255 reshapes the Image to that width first.
func (img *Image) Write(path string, width int) error {
	f, err := os.Create(path)
	if err != nil {
		return &progerr.IoError{Path: path, Cause: err}
	}
	defer f.Close()
	bw := bufio.NewWriter(f)
	if err := img.WriteTo(bw, width); err != nil {
		return err
	}
	if err := bw.Flush(); err != nil {
		return &progerr.IoError{Path: path, Cause: err}
	}
	return nil
}

// WriteTo is the Write implementation decoupled from the filesystem.
func (img *Image) WriteTo(w io.Writer, width int) error {
	emitImg := img
	if width > 0 {
		emitImg = img.Reshape(width)
	}

	var highAddress uint32
	haveHighAddress := false

	writeLine := func(s string) error {
		if _, err := io.WriteString(w, s+"\n"); err != nil {
			return &progerr.IoError{Path: "<writer>", Cause: err}
		}
		return nil
	}

	for _, b := range emitImg.blocks {
		if width == 0 && len(b.Data) > 255 {
			return &progerr.RangeError{Reason: "block exceeds 255 bytes at width=0 (canonical emit)"}
		}

		top := b.Base &^ 0xFFFF
		if !haveHighAddress || top != highAddress {
			payload := []byte{byte(top >> 24), byte(top >> 16)}
			if err := writeLine(formatRecordLine(0, RecExtLinAddr, payload)); err != nil {
				return err
			}
			highAddress = top
			haveHighAddress = true
		}

		if err := writeLine(formatRecordLine(uint16(b.Base), RecData, b.Data)); err != nil {
			return err
		}
	}

	return writeLine(formatRecordLine(0, RecEndOfFile, nil))
}
