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

// Package faketarget provides FakeProbe, an in-memory stand-in for a
// real PSoC 5 probe: it decodes the same Request wire opcodes a
// ProbeTransport would ship over USB and answers them against a small
// simulated register file and SPC command engine, so swd/spc/nvops
// tests exercise the real framing and polling logic without hardware.
package faketarget

import (
	"fmt"
	"sync"

	"github.com/master-g/psocprog/pkg/proglog"
	"github.com/master-g/psocprog/pkg/spc"
	"github.com/master-g/psocprog/pkg/transport"
)

// DefaultIDCODE is a representative Cortex-M3 SWD-DP IDCODE, returned by
// a fresh FakeProbe's DP IDCODE read.
const DefaultIDCODE = 0x2BA01477

// frame states for the byte-at-a-time SPC command decoder fed by writes
// to spc.RegSpcCPUData.
const (
	frameAwaitKey1 = iota
	frameAwaitKey2
	frameAwaitCmd
	frameAwaitArgs
)

// FakeProbe implements transport.Transport over an in-memory model of
// the AP/DP register file and the SPC command engine. It is safe for
// sequential use by one SwdSession/Engine, matching the ordering
// guarantee ProbeTransport documents.
type FakeProbe struct {
	mu sync.Mutex

	log proglog.Logger

	IDCODE         uint32
	RowSizeBytes   int
	StatusByteLane int

	// EepromBaseAddress, when non-zero, makes AP reads at any address at or
	// above EepromBaseAddress (other than the two SPC registers) answer
	// directly from the EEPROM region, offset from EepromBaseAddress,
	// instead of the generic apRegs map; there is no upper bound. Models
	// spec.md §4.6 step 7's "EEPROM is memory-mapped for reads".
	EepromBaseAddress uint32

	apAddr uint32
	apRegs map[uint32]uint32

	status byte

	frameStage int
	frameKey2  byte
	frameCmd   byte
	frameArgs  []byte
	argsNeeded int

	resultBuf []byte
	resultPos int

	latch []byte

	regions    map[byte][]byte
	protection map[byte][]byte

	WarmupCalls     int
	ResetAsserted   bool
	ClearStallCalls int
	UploadedRAM     map[uint16][]byte

	// TemperatureCmdCount counts every GET_TEMPERATURE frame executed,
	// so tests can confirm a caching Engine issues exactly two.
	TemperatureCmdCount int
}

// New returns a FakeProbe with a PSoC-5-shaped default IDCODE, row size
// and status byte lane.
func New(log proglog.Logger) *FakeProbe {
	if log == nil {
		log = proglog.Nop()
	}
	return &FakeProbe{
		log:            log,
		IDCODE:         DefaultIDCODE,
		RowSizeBytes:   256,
		StatusByteLane: 2,
		status:         spc.StatusIdle,
		apRegs:         make(map[uint32]uint32),
		regions:        make(map[byte][]byte),
		protection:     make(map[byte][]byte),
		UploadedRAM:    make(map[uint16][]byte),
	}
}

// argLenFor returns how many bytes (beyond KEY1/KEY2/cmd) the given
// command consumes before it is ready to execute.
func (f *FakeProbe) argLenFor(cmd byte) int {
	switch cmd {
	case spc.CmdLoadByte:
		return 3
	case spc.CmdLoadRow:
		return 1 + f.RowSizeBytes
	case spc.CmdReadByte:
		return 2
	case spc.CmdReadMultiByte:
		return 5
	case spc.CmdWriteRow, spc.CmdProgRow:
		return 5
	case spc.CmdWriteNVL:
		return 1
	case spc.CmdEraseSector:
		return 2
	case spc.CmdEraseAll:
		return 0
	case spc.CmdReadHiddenRow:
		return 2
	case spc.CmdProtect:
		return 2
	case spc.CmdGetChecksum:
		return 5
	case spc.CmdGetTemperature:
		return 2
	case spc.CmdReadNVLVolByte:
		return 2
	default:
		return 0
	}
}

func le32(b []byte) uint32 {
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24
}

// SendReceive decodes req's opcode stream and answers each verb in
// order, mirroring the wire shapes Reply.PopOk/PopB4Ok expect.
func (f *FakeProbe) SendReceive(req *transport.Request) (*transport.Reply, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	buf := req.Bytes()
	reply := make([]byte, 0, len(buf))
	i := 0
	for i < len(buf) {
		op := buf[i]
		i++
		switch op {
		case transport.OpApAddrWrite:
			if i+4 > len(buf) {
				return nil, fmt.Errorf("faketarget: truncated ApAddrWrite")
			}
			f.apAddr = le32(buf[i : i+4])
			i += 4
			reply = append(reply, transport.StatusOK)
		case transport.OpApDataWrite:
			if i+4 > len(buf) {
				return nil, fmt.Errorf("faketarget: truncated ApDataWrite")
			}
			f.writeAP(f.apAddr, le32(buf[i:i+4]))
			i += 4
			reply = append(reply, transport.StatusOK)
		case transport.OpApDataRead:
			v := f.readAP(f.apAddr)
			reply = append(reply, byte(v), byte(v>>8), byte(v>>16), byte(v>>24), transport.StatusOK)
		case transport.OpApCtrlWrite, transport.OpDpCtrlWrite, transport.OpDpSelectWrite:
			if i+4 > len(buf) {
				return nil, fmt.Errorf("faketarget: truncated control-register write")
			}
			i += 4
			reply = append(reply, transport.StatusOK)
		case transport.OpDpIdcodeRead:
			v := f.IDCODE
			reply = append(reply, byte(v), byte(v>>8), byte(v>>16), byte(v>>24), transport.StatusJtagIDMatched)
		default:
			return nil, fmt.Errorf("faketarget: unknown request opcode %#02x", op)
		}
	}
	return transport.NewReply(reply), nil
}

func (f *FakeProbe) writeAP(addr, value uint32) {
	switch addr {
	case spc.RegSpcCPUData:
		f.feedByte(byte(value))
	default:
		f.apRegs[addr] = value
	}
}

func (f *FakeProbe) readAP(addr uint32) uint32 {
	switch {
	case addr == spc.RegSpcStatus:
		return uint32(f.status) << (8 * uint(f.StatusByteLane))
	case addr == spc.RegSpcCPUData:
		return uint32(f.popResultByte())
	case f.EepromBaseAddress != 0 && addr >= f.EepromBaseAddress:
		offset := int(addr - f.EepromBaseAddress)
		region := f.ensureRegion(spc.AidEEPROM, offset+4)
		return le32(region[offset : offset+4])
	default:
		return f.apRegs[addr]
	}
}

// feedByte advances the KEY1/KEY2/cmd/args frame decoder by one byte,
// executing the command synchronously once its full argument count has
// arrived.
func (f *FakeProbe) feedByte(b byte) {
	switch f.frameStage {
	case frameAwaitKey1:
		if b != spc.Key1 {
			f.log.Warnf("faketarget: expected KEY1, got %#02x", b)
			return
		}
		f.frameStage = frameAwaitKey2
	case frameAwaitKey2:
		f.frameKey2 = b
		f.frameStage = frameAwaitCmd
	case frameAwaitCmd:
		f.frameCmd = b
		f.frameArgs = f.frameArgs[:0]
		f.argsNeeded = f.argLenFor(b)
		if f.argsNeeded == 0 {
			f.execute()
			f.frameStage = frameAwaitKey1
		} else {
			f.frameStage = frameAwaitArgs
		}
	case frameAwaitArgs:
		f.frameArgs = append(f.frameArgs, b)
		if len(f.frameArgs) >= f.argsNeeded {
			f.execute()
			f.frameStage = frameAwaitKey1
		}
	}
}

func (f *FakeProbe) popResultByte() byte {
	if f.resultPos >= len(f.resultBuf) {
		return 0
	}
	b := f.resultBuf[f.resultPos]
	f.resultPos++
	if f.resultPos >= len(f.resultBuf) {
		f.status = spc.StatusIdle
	}
	return b
}

func (f *FakeProbe) ensureRegion(aid byte, minLen int) []byte {
	r := f.regions[aid]
	if len(r) < minLen {
		grown := make([]byte, minLen)
		copy(grown, r)
		r = grown
		f.regions[aid] = r
	}
	return r
}

func (f *FakeProbe) ensureProtection(aid byte) []byte {
	p := f.protection[aid]
	if len(p) < 256 {
		p = make([]byte, 256)
		f.protection[aid] = p
	}
	return p
}

// execute runs the just-completed command against the simulated device
// memory, per spec.md §4.5's command table, and sets the status register
// either to DATA_READY (result-bearing commands) or IDLE.
func (f *FakeProbe) execute() {
	args := f.frameArgs
	switch f.frameCmd {
	case spc.CmdLoadByte:
		aid, index, value := args[0], int(args[1]), args[2]
		_ = aid
		if len(f.latch) <= index {
			grown := make([]byte, index+1)
			copy(grown, f.latch)
			f.latch = grown
		}
		f.latch[index] = value
		f.status = spc.StatusIdle

	case spc.CmdLoadRow:
		f.latch = append([]byte(nil), args[1:]...)
		f.status = spc.StatusIdle

	case spc.CmdReadByte:
		aid, index := args[0], int(args[1])
		region := f.ensureRegion(aid, index+1)
		f.setResult([]byte{region[index]})

	case spc.CmdReadMultiByte:
		aid := args[0]
		addr := int(args[1])<<16 | int(args[2])<<8 | int(args[3])
		n := int(args[4]) + 1
		region := f.ensureRegion(aid, addr+n)
		f.setResult(append([]byte(nil), region[addr:addr+n]...))

	case spc.CmdWriteRow, spc.CmdProgRow:
		aid := args[0]
		row := int(args[1])<<8 | int(args[2])
		addr := row * f.RowSizeBytes
		region := f.ensureRegion(aid, addr+f.RowSizeBytes)
		copy(region[addr:addr+f.RowSizeBytes], f.latch)
		f.status = spc.StatusIdle

	case spc.CmdWriteNVL:
		aid := args[0]
		region := f.ensureRegion(aid, len(f.latch))
		copy(region, f.latch)
		f.status = spc.StatusIdle

	case spc.CmdEraseSector:
		aid, sector := args[0], int(args[1])
		addr := sector * 64 * f.RowSizeBytes
		region := f.ensureRegion(aid, addr+64*f.RowSizeBytes)
		for i := addr; i < addr+64*f.RowSizeBytes; i++ {
			region[i] = 0
		}
		f.status = spc.StatusIdle

	case spc.CmdEraseAll:
		// Flash arrays (aid 0x00..0x3F) and protection only; EEPROM and
		// the NVL lanes keep their contents.
		for aid := range f.regions {
			if aid <= spc.AidAllFlash {
				delete(f.regions, aid)
			}
		}
		f.protection = make(map[byte][]byte)
		f.status = spc.StatusIdle

	case spc.CmdReadHiddenRow:
		aid := args[0]
		p := f.ensureProtection(aid)
		f.setResult(append([]byte(nil), p...))

	case spc.CmdProtect:
		aid := args[0]
		p := f.ensureProtection(aid)
		n := len(f.latch)
		if n > 256 {
			n = 256
		}
		copy(p, f.latch[:n])
		f.status = spc.StatusIdle

	case spc.CmdGetChecksum:
		aid := args[0]
		start := int(args[1])<<8 | int(args[2])
		n := int(args[3])<<8 | int(args[4])
		n++
		region := f.ensureRegion(aid, start+n)
		var sum uint32
		for _, b := range region[start : start+n] {
			sum += uint32(b)
		}
		f.setResult([]byte{byte(sum >> 24), byte(sum >> 16), byte(sum >> 8), byte(sum)})

	case spc.CmdGetTemperature:
		f.TemperatureCmdCount++
		f.setResult([]byte{0x00, 0x2A})

	case spc.CmdReadNVLVolByte:
		aid, idx := args[0], int(args[1])
		region := f.ensureRegion(aid, idx+1)
		f.setResult([]byte{region[idx]})

	default:
		f.log.Warnf("faketarget: unimplemented command %#02x", f.frameCmd)
		f.status = spc.StatusIdle
	}
}

func (f *FakeProbe) setResult(data []byte) {
	f.resultBuf = data
	f.resultPos = 0
	if len(data) == 0 {
		f.status = spc.StatusIdle
		return
	}
	f.status = spc.StatusDataReady
}

// ClearStall records the recovery attempt; FakeProbe endpoints never
// actually stall.
func (f *FakeProbe) ClearStall(endpoint byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ClearStallCalls++
	return nil
}

// ControlOut models the vendor OUT transfers used for the SWD warmup
// dummy and FX2 RAM uploads.
func (f *FakeProbe) ControlOut(request uint8, value, index uint16, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	switch request {
	case transport.ReqWarmupDummy:
		f.WarmupCalls++
	case transport.ReqRWRAM:
		buf := make([]byte, len(data))
		copy(buf, data)
		f.UploadedRAM[index] = buf
	}
	return nil
}

// ControlIn models the vendor IN transfer used for the target reset
// toggle; ReqResetTarget tracks assert/release via wValue.
func (f *FakeProbe) ControlIn(request uint8, value, index uint16, length int) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if request == transport.ReqResetTarget {
		f.ResetAsserted = value == 1
	}
	return make([]byte, length), nil
}

var _ transport.Transport = (*FakeProbe)(nil)
