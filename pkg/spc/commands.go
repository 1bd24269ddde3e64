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

package spc

import "github.com/master-g/psocprog/pkg/progerr"

// LoadByte loads one byte into a latch region.
func (e *Engine) LoadByte(aid, index, value byte) error {
	return e.issueAndWaitIdle(CmdLoadByte, aid, index, value)
}

// LoadRow fills the write latches for one row from payload.
func (e *Engine) LoadRow(aid byte, payload []byte) error {
	args := append([]byte{aid}, payload...)
	return e.issueAndWaitIdle(CmdLoadRow, args...)
}

// ReadByte reads one byte via DATA_READY.
func (e *Engine) ReadByte(aid, index byte) (byte, error) {
	if err := e.issue(CmdReadByte, aid, index); err != nil {
		return 0, err
	}
	out, err := e.readResult(1)
	if err != nil {
		return 0, err
	}
	return out[0], nil
}

// ReadMultiByte reads n bytes (n <= 256) starting at addr via
// DATA_READY.
func (e *Engine) ReadMultiByte(aid byte, addr uint32, n int) ([]byte, error) {
	if n < 1 || n > 256 {
		return nil, &progerr.RangeError{Reason: "ReadMultiByte: n must be in 1..256"}
	}
	args := []byte{aid, byte(addr >> 16), byte(addr >> 8), byte(addr), byte(n - 1)}
	if err := e.issue(CmdReadMultiByte, args...); err != nil {
		return nil, err
	}
	return e.readResult(n)
}

// WriteRow erases and programs a flash/EEPROM row, using the given
// signed-magnitude die temperature.
func (e *Engine) WriteRow(aid byte, row uint16, tsign, tmag byte) error {
	return e.issueAndWaitIdle(CmdWriteRow, aid, byte(row>>8), byte(row), tsign, tmag)
}

// WriteNVL commits a latched byte-lane to an NVL region (DEVCONFIG or
// WOL).
func (e *Engine) WriteNVL(aid byte) error {
	return e.issueAndWaitIdle(CmdWriteNVL, aid)
}

// ProgRow programs a row without first erasing it.
func (e *Engine) ProgRow(aid byte, row uint16, tsign, tmag byte) error {
	return e.issueAndWaitIdle(CmdProgRow, aid, byte(row>>8), byte(row), tsign, tmag)
}

// EraseSector erases a 64-row sector.
func (e *Engine) EraseSector(aid, sector byte) error {
	return e.issueAndWaitIdle(CmdEraseSector, aid, sector)
}

// EraseAll erases all flash and protection.
func (e *Engine) EraseAll() error {
	return e.issueAndWaitIdle(CmdEraseAll)
}

// ReadHiddenRow reads the 256-byte protection row for one array.
func (e *Engine) ReadHiddenRow(aid byte) ([]byte, error) {
	if err := e.issue(CmdReadHiddenRow, aid, 0); err != nil {
		return nil, err
	}
	return e.readResult(256)
}

// Protect commits the previously-loaded protect bits.
func (e *Engine) Protect(aid byte) error {
	return e.issueAndWaitIdle(CmdProtect, aid, 0)
}

// GetChecksum computes a checksum over n bytes starting at start,
// returning the 4-byte result composed MSB-first.
func (e *Engine) GetChecksum(aid byte, start, n uint32) (uint32, error) {
	args := []byte{
		aid,
		byte(start >> 8), byte(start),
		byte((n - 1) >> 8), byte(n - 1),
	}
	if err := e.issue(CmdGetChecksum, args...); err != nil {
		return 0, err
	}
	out, err := e.readResult(4)
	if err != nil {
		return 0, err
	}
	return uint32(out[0])<<24 | uint32(out[1])<<16 | uint32(out[2])<<8 | uint32(out[3]), nil
}

// rawTemperature issues one GET_TEMPERATURE command and returns
// {sign, magnitude} without applying the discard-first-reading policy.
func (e *Engine) rawTemperature(samples byte) (sign, magnitude byte, err error) {
	if samples < 1 || samples > 5 {
		return 0, 0, &progerr.RangeError{Reason: "GetTemperature: samples must be in 1..5"}
	}
	if err = e.issue(CmdGetTemperature, samples, 0); err != nil {
		return
	}
	out, err := e.readResult(2)
	if err != nil {
		return 0, 0, err
	}
	return out[0], out[1], nil
}

// Temperature returns the cached operational die temperature, reading it
// (and discarding the first post-reset reading, per spec.md §4.5) on
// first use.
func (e *Engine) Temperature(samples byte) (sign, magnitude byte, err error) {
	if e.haveTemperature {
		return e.tempSign, e.tempMagnitude, nil
	}
	if _, _, err = e.rawTemperature(samples); err != nil {
		return 0, 0, err
	}
	sign, magnitude, err = e.rawTemperature(samples)
	if err != nil {
		return 0, 0, err
	}
	e.tempSign, e.tempMagnitude, e.haveTemperature = sign, magnitude, true
	return sign, magnitude, nil
}

// ReadNVLVolByte reads one byte of a non-volatile latch lane.
func (e *Engine) ReadNVLVolByte(aid, idx byte) (byte, error) {
	if err := e.issue(CmdReadNVLVolByte, aid, idx); err != nil {
		return 0, err
	}
	out, err := e.readResult(1)
	if err != nil {
		return 0, err
	}
	return out[0], nil
}
