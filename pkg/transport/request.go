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

// Package transport implements the probe's request/reply framing: a
// Request builder with typed verbs, a Reply parser with typed
// consumers, and a ProbeTransport that ships a Request over a bulk OUT
// endpoint and receives a Reply over a bulk IN endpoint using
// github.com/google/gousb (the USB bulk/control transport collaborator
// named out of scope in spec.md §1 — ProbeTransport is the thin layer
// that owns the framing on top of it).
package transport

import (
	"github.com/master-g/psocprog/pkg/progerr"
)

// Opcodes for the verbs a Request may enqueue, per spec.md §4.3.
const (
	OpApAddrWrite   byte = 0x8B
	OpApDataWrite   byte = 0xBB
	OpApDataRead    byte = 0x9F
	OpApCtrlWrite   byte = 0xA3
	OpDpCtrlWrite   byte = 0xA9
	OpDpSelectWrite byte = 0xB1
	OpDpIdcodeRead  byte = 0xA5
)

// MaxBufferBytes bounds Request/Reply buffers: the longest batch writes
// 288 data bytes, each encoded as 5 wire bytes (opcode + 4 LE data
// bytes), i.e. 1440 bytes — 2048 is comfortably sufficient headroom.
const MaxBufferBytes = 2048

// Request is a byte buffer built from typed verbs, each of which
// appends a command opcode and, for commands that carry data, 4
// little-endian payload bytes.
type Request struct {
	buf []byte
}

// NewRequest returns an empty Request.
func NewRequest() *Request { return &Request{} }

// Bytes returns the accumulated wire bytes.
func (r *Request) Bytes() []byte { return r.buf }

// Reset empties the Request so the underlying buffer can be reused.
func (r *Request) Reset() { r.buf = r.buf[:0] }

func (r *Request) appendU32(op byte, value uint32) error {
	if len(r.buf)+5 > MaxBufferBytes {
		return &progerr.RangeError{Reason: "request exceeds transport buffer capacity"}
	}
	r.buf = append(r.buf, op, byte(value), byte(value>>8), byte(value>>16), byte(value>>24))
	return nil
}

func (r *Request) appendBare(op byte) error {
	if len(r.buf)+1 > MaxBufferBytes {
		return &progerr.RangeError{Reason: "request exceeds transport buffer capacity"}
	}
	r.buf = append(r.buf, op)
	return nil
}

// ApAddrWrite sets the AP address used by subsequent ApDataRead/Write.
func (r *Request) ApAddrWrite(addr uint32) error { return r.appendU32(OpApAddrWrite, addr) }

// ApDataWrite writes 32-bit data via the AP.
func (r *Request) ApDataWrite(value uint32) error { return r.appendU32(OpApDataWrite, value) }

// ApDataRead queues one AP data read; the result is consumed from the
// Reply in the same order the reads were queued.
func (r *Request) ApDataRead() error { return r.appendBare(OpApDataRead) }

// ApCtrlWrite writes the AP CTRL/STAT register.
func (r *Request) ApCtrlWrite(value uint32) error { return r.appendU32(OpApCtrlWrite, value) }

// DpCtrlWrite writes the DP CTRL/STAT register.
func (r *Request) DpCtrlWrite(value uint32) error { return r.appendU32(OpDpCtrlWrite, value) }

// DpSelectWrite writes the DP SELECT register.
func (r *Request) DpSelectWrite(value uint32) error { return r.appendU32(OpDpSelectWrite, value) }

// DpIdcodeRead queues a DP IDCODE read.
func (r *Request) DpIdcodeRead() error { return r.appendBare(OpDpIdcodeRead) }
