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

package swd_test

import (
	"testing"

	"github.com/master-g/psocprog/pkg/faketarget"
	"github.com/master-g/psocprog/pkg/swd"
)

func TestSession_SwitchToSWD(t *testing.T) {
	fake := faketarget.New(nil)
	s := swd.New(fake, nil)

	if err := s.SwitchToSWD(); err != nil {
		t.Fatalf("SwitchToSWD() error = %v", err)
	}
	if fake.WarmupCalls != 1 {
		t.Errorf("WarmupCalls = %d, want 1", fake.WarmupCalls)
	}
}

func TestSession_ReadJtagID(t *testing.T) {
	fake := faketarget.New(nil)
	fake.IDCODE = 0x1BA02477
	s := swd.New(fake, nil)

	id, err := s.ReadJtagID()
	if err != nil {
		t.Fatalf("ReadJtagID() error = %v", err)
	}
	if id != 0x1BA02477 {
		t.Errorf("ReadJtagID() = %#08x, want 0x1ba02477", id)
	}
}

func TestSession_EnterProgrammingMode(t *testing.T) {
	fake := faketarget.New(nil)
	s := swd.New(fake, nil)

	if err := s.EnterProgrammingMode(); err != nil {
		t.Fatalf("EnterProgrammingMode() error = %v", err)
	}
}

func TestSession_ApRegisterReadWriteRoundTrip(t *testing.T) {
	fake := faketarget.New(nil)
	s := swd.New(fake, nil)

	if err := s.ApRegisterWrite(0x4000_1000, 0xDEADBEEF); err != nil {
		t.Fatalf("ApRegisterWrite() error = %v", err)
	}
	v, err := s.ApRegisterRead(0x4000_1000, false)
	if err != nil {
		t.Fatalf("ApRegisterRead() error = %v", err)
	}
	if v != 0xDEADBEEF {
		t.Errorf("ApRegisterRead() = %#08x, want 0xdeadbeef", v)
	}
}

func TestSession_ApRegisterReadWithDummyPreread(t *testing.T) {
	fake := faketarget.New(nil)
	s := swd.New(fake, nil)

	if err := s.ApRegisterWrite(0x4000_2000, 0x01020304); err != nil {
		t.Fatalf("ApRegisterWrite() error = %v", err)
	}
	v, err := s.ApRegisterRead(0x4000_2000, true)
	if err != nil {
		t.Fatalf("ApRegisterRead(dummyPreread=true) error = %v", err)
	}
	if v != 0x01020304 {
		t.Errorf("ApRegisterRead() = %#08x, want 0x01020304", v)
	}
}

func TestSession_ResetCPU(t *testing.T) {
	fake := faketarget.New(nil)
	s := swd.New(fake, nil)

	if err := s.ResetCPU(); err != nil {
		t.Fatalf("ResetCPU() error = %v", err)
	}
	if fake.ResetAsserted {
		t.Error("ResetAsserted = true after ResetCPU(), want false (released last)")
	}
}
