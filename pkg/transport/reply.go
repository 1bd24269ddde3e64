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

package transport

import "github.com/master-g/psocprog/pkg/progerr"

// Status bytes a Reply's pop_ok family recognizes.
const (
	StatusOK            byte = 0x21
	StatusJtagIDMatched byte = 0x31
	StatusJtagIDMismatch byte = 0x27
	StatusFault         byte = 0x24
)

func isOkStatus(b byte) bool { return b == StatusOK || b == StatusJtagIDMatched }

// Reply is a byte buffer parsed with a head cursor and typed consumers,
// so misuse (reading 4 data bytes when the command enqueued none) fails
// structurally with an index-out-of-range-shaped RangeError rather than
// silently desynchronising the cursor.
type Reply struct {
	buf    []byte
	cursor int
}

// NewReply wraps raw bytes received from the probe's bulk IN endpoint.
func NewReply(buf []byte) *Reply { return &Reply{buf: buf} }

// Remaining returns how many unconsumed bytes are left in the Reply.
func (r *Reply) Remaining() int { return len(r.buf) - r.cursor }

func (r *Reply) popByte() (byte, error) {
	if r.cursor >= len(r.buf) {
		return 0, &progerr.RangeError{Reason: "reply buffer underrun"}
	}
	b := r.buf[r.cursor]
	r.cursor++
	return b, nil
}

// PopOk consumes n status bytes (n == -1 means "all remaining"); each
// must be StatusOK or StatusJtagIDMatched. The first non-OK byte is
// reported as SwdFault.
func (r *Reply) PopOk(n int) error {
	if n == -1 {
		n = r.Remaining()
	}
	for i := 0; i < n; i++ {
		b, err := r.popByte()
		if err != nil {
			return err
		}
		if !isOkStatus(b) {
			return &progerr.SwdFault{ReplyByte: b}
		}
	}
	return nil
}

// PopB4Ok consumes 4 data bytes (preserving wire/LE order into out[0:4])
// followed by one status byte popped via PopOk(1).
func (r *Reply) PopB4Ok(out *[4]byte) error {
	for i := 0; i < 4; i++ {
		b, err := r.popByte()
		if err != nil {
			return err
		}
		out[i] = b
	}
	return r.PopOk(1)
}

// PopNB0Ok consumes n groups of (4 data bytes + status), keeping only
// byte 0 of each group, and writes those n bytes into out (which must
// have length >= n).
func (r *Reply) PopNB0Ok(out []byte, n int) error {
	if len(out) < n {
		return &progerr.RangeError{Reason: "PopNB0Ok: output buffer too small"}
	}
	var quad [4]byte
	for i := 0; i < n; i++ {
		if err := r.PopB4Ok(&quad); err != nil {
			return err
		}
		out[i] = quad[0]
	}
	return nil
}
