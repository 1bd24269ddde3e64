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

// Package spc implements the System Performance Controller command set:
// KEY1/KEY2-gated command framing, IDLE/DATA_READY status polling, and
// the byte-wide read/load/write/erase/checksum/temperature/protect
// primitives every NvOps region flow is built from.
package spc

import (
	"github.com/master-g/psocprog/pkg/proglog"
	"github.com/master-g/psocprog/pkg/progerr"
	"github.com/master-g/psocprog/pkg/swd"
)

// Key bytes and register addresses, per spec.md §4.5.
const (
	Key1 = 0xB6

	RegSpcStatus  = 0x4000_4722
	RegSpcCPUData = 0x4000_4720

	StatusIdle      = 0x02
	StatusDataReady = 0x01

	// SpcPollTimeout bounds the number of status-register reads spent
	// waiting for IDLE or DATA_READY before giving up with SpcTimeout.
	SpcPollTimeout = 8404
)

// Array-ID (aid) selectors, per spec.md §4.5.
const (
	AidAllFlash   = 0x3F
	AidEEPROM     = 0x40
	AidDevconfig  = 0x80
	AidWol        = 0xF8
)

// Command opcodes, per spec.md §4.5.
const (
	CmdLoadByte        = 0x00
	CmdLoadMultiByte   = 0x01 // reserved, not implemented by any target firmware
	CmdLoadRow         = 0x02
	CmdReadByte        = 0x03
	CmdReadMultiByte   = 0x04
	CmdWriteRow        = 0x05
	CmdWriteNVL        = 0x06
	CmdProgRow         = 0x07
	CmdEraseSector     = 0x08
	CmdEraseAll        = 0x09
	CmdReadHiddenRow   = 0x0A
	CmdProtect         = 0x0B
	CmdGetChecksum     = 0x0C
	CmdGetTemperature  = 0x0E
	CmdReadNVLVolByte  = 0x10
)

// key2For returns the second unlock key byte for the given command,
// wrapping in 8 bits.
func key2For(cmd byte) byte { return byte(0xD3 + cmd) }

// Engine drives the SPC state machine
// (IDLE --cmd--> BUSY --(optional)--> DATA_READY --reads--> IDLE) over
// an already-programming-mode SwdSession. statusByteLane selects which
// byte of the 32-bit REG_SPC_STATUS read carries the IDLE/DATA_READY
// bits — family-dependent per spec.md §9; PSoC 5 uses lane 2.
type Engine struct {
	swd             *swd.Session
	log             proglog.Logger
	statusByteLane  int

	haveTemperature bool
	tempSign        byte
	tempMagnitude   byte
}

// New wraps a programming-mode SwdSession.
func New(session *swd.Session, statusByteLane int, log proglog.Logger) *Engine {
	if log == nil {
		log = proglog.Nop()
	}
	return &Engine{swd: session, log: log, statusByteLane: statusByteLane}
}

func (e *Engine) statusByte(reg uint32) byte {
	return byte(reg >> (8 * uint(e.statusByteLane)))
}

// waitStatus polls REG_SPC_STATUS until (status & mask) == mask, or
// fails with SpcTimeout once SpcPollTimeout reads have been spent.
func (e *Engine) waitStatus(mask byte) error {
	var last byte
	for i := 0; i < SpcPollTimeout; i++ {
		reg, err := e.swd.ApRegisterRead(RegSpcStatus, false)
		if err != nil {
			return progerr.Wrap(err, "spc: status poll")
		}
		last = e.statusByte(reg)
		if last&mask == mask {
			return nil
		}
	}
	return &progerr.SpcTimeout{Status: last}
}

func (e *Engine) waitIdle() error      { return e.waitStatus(StatusIdle) }
func (e *Engine) waitDataReady() error { return e.waitStatus(StatusDataReady) }

func (e *Engine) writeByte(b byte) error {
	return e.swd.ApRegisterWrite(RegSpcCPUData, uint32(b))
}

func (e *Engine) readByte() (byte, error) {
	v, err := e.swd.ApRegisterRead(RegSpcCPUData, false)
	if err != nil {
		return 0, err
	}
	return byte(v), nil
}

// issue waits for IDLE, then writes KEY1, KEY2(cmd), cmd, and args in
// order — every SPC command issued by the engine is preceded by an IDLE
// observation (spec.md §8 testable property 6).
func (e *Engine) issue(cmd byte, args ...byte) error {
	if err := e.waitIdle(); err != nil {
		return progerr.Wrapf(err, "spc: wait idle before cmd %#02x", cmd)
	}
	if err := e.writeByte(Key1); err != nil {
		return err
	}
	if err := e.writeByte(key2For(cmd)); err != nil {
		return err
	}
	if err := e.writeByte(cmd); err != nil {
		return err
	}
	for _, a := range args {
		if err := e.writeByte(a); err != nil {
			return err
		}
	}
	return nil
}

// readResult waits for DATA_READY, reads n bytes, then waits for IDLE
// before returning — result consumption is always preceded by a
// DATA_READY observation (spec.md §8 testable property 6), and the
// engine never starts a new command until IDLE is observed again.
func (e *Engine) readResult(n int) ([]byte, error) {
	if err := e.waitDataReady(); err != nil {
		return nil, progerr.Wrap(err, "spc: wait data ready")
	}
	out := make([]byte, n)
	for i := range out {
		b, err := e.readByte()
		if err != nil {
			return nil, err
		}
		out[i] = b
	}
	if err := e.waitIdle(); err != nil {
		return nil, progerr.Wrap(err, "spc: wait idle after result")
	}
	return out, nil
}

// issueAndWaitIdle is the no-result-data command shape: issue, then wait
// for IDLE to confirm completion.
func (e *Engine) issueAndWaitIdle(cmd byte, args ...byte) error {
	if err := e.issue(cmd, args...); err != nil {
		return err
	}
	return e.waitIdle()
}
