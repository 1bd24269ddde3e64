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

// Package progerr defines the error taxonomy shared by every layer of the
// programmer, per the source's error propagation design: a failed USB
// transfer fails its verb, the SPC engine never attempts to reset device
// state, and programming commands surface the first failure upward.
package progerr

import (
	"fmt"

	"github.com/pkg/errors"
)

// Wrap and Cause are re-exported so callers never need to import
// github.com/pkg/errors directly just to walk a cause chain.
var (
	Wrap  = errors.Wrap
	Wrapf = errors.Wrapf
	Cause = errors.Cause
)

// HexParseError reports a malformed Intel-HEX record or a bad checksum.
type HexParseError struct {
	Line   int
	Reason string
}

func (e *HexParseError) Error() string {
	return fmt.Sprintf("hex parse error at line %d: %s", e.Line, e.Reason)
}

// BadChecksum is the specific HexParseError raised when a record's
// checksum byte does not satisfy the two's-complement invariant.
type BadChecksum struct {
	Line     int
	Expected uint8
	Got      uint8
}

func (e *BadChecksum) Error() string {
	return fmt.Sprintf("hex checksum mismatch at line %d: expected %#02x, got %#02x", e.Line, e.Expected, e.Got)
}

// UnknownRecordType reports a record type outside {0..5}.
type UnknownRecordType struct {
	Line int
	Type int
}

func (e *UnknownRecordType) Error() string {
	return fmt.Sprintf("unknown hex record type %d at line %d", e.Type, e.Line)
}

// IoError wraps a file open/read/write failure with the path that failed.
type IoError struct {
	Path  string
	Cause error
}

func (e *IoError) Error() string { return fmt.Sprintf("io error on %s: %v", e.Path, e.Cause) }
func (e *IoError) Unwrap() error { return e.Cause }

// UsbError wraps any underlying USB transfer failure with the endpoint
// address that failed.
type UsbError struct {
	Endpoint byte
	Cause    error
}

func (e *UsbError) Error() string {
	return fmt.Sprintf("usb error on endpoint %#02x: %v", e.Endpoint, e.Cause)
}
func (e *UsbError) Unwrap() error { return e.Cause }

// ProbeNotFound means neither the configured nor unconfigured probe VID:PID
// could be opened.
type ProbeNotFound struct {
	VID, PID uint16
}

func (e *ProbeNotFound) Error() string {
	return fmt.Sprintf("probe not found (VID=%#04x PID=%#04x)", e.VID, e.PID)
}

// ConfigureFailed means the FX2 bootstrap sequence failed: either the
// firmware upload to the unconfigured probe failed, or it completed but
// the configured VID:PID never reappeared.
type ConfigureFailed struct {
	Cause error
}

func (e *ConfigureFailed) Error() string { return fmt.Sprintf("probe configure failed: %v", e.Cause) }
func (e *ConfigureFailed) Unwrap() error { return e.Cause }

// SwdFault reports a non-OK status byte observed in a Reply stream.
type SwdFault struct {
	ReplyByte byte
}

func (e *SwdFault) Error() string { return fmt.Sprintf("swd fault: status byte %#02x", e.ReplyByte) }

// SpcTimeout reports that the SPC status-polling budget was exceeded.
type SpcTimeout struct {
	Status byte
}

func (e *SpcTimeout) Error() string {
	return fmt.Sprintf("spc poll timeout, last status %#02x", e.Status)
}

// RangeError reports a payload too large for a row, record, or remaining
// NVL write budget.
type RangeError struct {
	Reason string
}

func (e *RangeError) Error() string { return fmt.Sprintf("range error: %s", e.Reason) }

// GeometryInvalid reports a DeviceGeometry that failed validation.
type GeometryInvalid struct {
	Reason string
}

func (e *GeometryInvalid) Error() string { return fmt.Sprintf("invalid device geometry: %s", e.Reason) }

// DeviceIdMismatch is raised to refuse programming when the file's
// expected device id does not match the id read from the target.
type DeviceIdMismatch struct {
	File, Device uint32
}

func (e *DeviceIdMismatch) Error() string {
	return fmt.Sprintf("device id mismatch: file=%#08x device=%#08x", e.File, e.Device)
}

// VerifyMismatch bits, returned as a success value from NvOps.VerifyDevice
// rather than as an error.
const (
	VerifyCode        = 0x01
	VerifyConfig      = 0x02
	VerifyProtection  = 0x04
	VerifyEeprom      = 0x08
	VerifyWol         = 0x10
	VerifyDevconfig   = 0x20
	VerifyJtagID      = 0x40
	VerifyMissingFile = 0x1000
	VerifyReadFailed  = 0x2000
)
