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

// Package hexfile implements the Intel-HEX record and sparse byte-store
// data model: one HexRecord per physical line of an Intel HEX file, and
// a HexImage that assembles an ordered sequence of such records into
// addressable blocks.
package hexfile

import (
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/master-g/psocprog/pkg/progerr"
)

// RecordType is the second field of an Intel-HEX line (the "TT" byte).
type RecordType uint8

const (
	// RecData carries up to 255 bytes of program data.
	RecData RecordType = 0
	// RecEndOfFile terminates the file; it carries no payload.
	RecEndOfFile RecordType = 1
	// RecExtSegAddr sets the high 16 bits of a 20-bit segment address
	// (shifted left 4 to form the absolute base).
	RecExtSegAddr RecordType = 2
	// RecStartSegAddr records a CS:IP start address; parsed and discarded.
	RecStartSegAddr RecordType = 3
	// RecExtLinAddr sets the high 16 bits of a 32-bit linear address
	// (shifted left 16 to form the absolute base).
	RecExtLinAddr RecordType = 4
	// RecStartLinAddr records a 32-bit start address; parsed and discarded.
	RecStartLinAddr RecordType = 5
)

func (t RecordType) String() string {
	switch t {
	case RecData:
		return "Data"
	case RecEndOfFile:
		return "EndOfFile"
	case RecExtSegAddr:
		return "ExtSegAddr"
	case RecStartSegAddr:
		return "StartSegAddr"
	case RecExtLinAddr:
		return "ExtLinAddr"
	case RecStartLinAddr:
		return "StartLinAddr"
	default:
		return "N/A"
	}
}

// Record is one line of an Intel-HEX file.
//
// Invariant: the low 8 bits of
//
//	low16(Address) + (low16(Address)>>8) + Type + len(Payload) + Σ Payload + Checksum
//
// equal 0. Checksum is the two's complement of the sum of the other
// fields.
type Record struct {
	Address  uint32
	Type     RecordType
	Payload  []byte
	Checksum uint8
}

// checksumSum folds the count/address/type/payload fields (everything but
// the checksum byte itself) down to an 8-bit running sum.
func checksumSum(lowAddr uint16, recType RecordType, payload []byte) uint8 {
	sum := len(payload) + int(byte(lowAddr)) + int(byte(lowAddr>>8)) + int(recType)
	for _, b := range payload {
		sum += int(b)
	}
	return uint8(sum)
}

// computeChecksum returns the checksum byte for a record built from the
// given low-16 address, type and payload: the two's complement of the
// sum of the remaining fields.
func computeChecksum(lowAddr uint16, recType RecordType, payload []byte) uint8 {
	return uint8(-int8(checksumSum(lowAddr, recType, payload)))
}

// parseRecordLine parses one ":"-prefixed ASCII line (without its
// trailing newline) into a Record (Type, Payload, Checksum; Address is
// left zero) and returns the line's low-16 address field separately as
// lowAddr; the caller is responsible for folding in any running
// high_address.
func parseRecordLine(line string, lineNo int) (rec Record, lowAddr uint16, err error) {
	if !strings.HasPrefix(line, ":") {
		err = &progerr.HexParseError{Line: lineNo, Reason: "missing ':' prefix"}
		return
	}
	raw, decodeErr := hex.DecodeString(line[1:])
	if decodeErr != nil {
		err = &progerr.HexParseError{Line: lineNo, Reason: fmt.Sprintf("invalid hex digits: %v", decodeErr)}
		return
	}
	if len(raw) < 5 {
		err = &progerr.HexParseError{Line: lineNo, Reason: "line too short"}
		return
	}

	count := int(raw[0])
	lowAddr = uint16(raw[1])<<8 | uint16(raw[2])
	recType := RecordType(raw[3])

	if len(raw) != 5+count {
		err = &progerr.HexParseError{Line: lineNo, Reason: "byte count does not match payload length"}
		return
	}

	payload := raw[4 : 4+count]
	checksum := raw[4+count]

	expected := computeChecksum(lowAddr, recType, payload)
	if checksum != expected {
		err = &progerr.BadChecksum{Line: lineNo, Expected: expected, Got: checksum}
		return
	}

	rec = Record{
		Type:     recType,
		Payload:  append([]byte(nil), payload...),
		Checksum: checksum,
	}
	return
}

// formatRecordLine renders one Record at the given low-16 address as an
// Intel-HEX ASCII line, without a trailing newline.
func formatRecordLine(lowAddr uint16, recType RecordType, payload []byte) string {
	checksum := computeChecksum(lowAddr, recType, payload)

	raw := make([]byte, 0, 5+len(payload))
	raw = append(raw, byte(len(payload)), byte(lowAddr>>8), byte(lowAddr))
	raw = append(raw, byte(recType))
	raw = append(raw, payload...)
	raw = append(raw, checksum)

	return ":" + strings.ToUpper(hex.EncodeToString(raw))
}
