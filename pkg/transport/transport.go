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

// Transport is the interface SwdSession/SpcEngine/NvOps actually depend
// on. ProbeTransport (backed by github.com/google/gousb) is the only
// implementation in this package; pkg/faketarget provides an in-memory
// stand-in used in tests, mirroring how the teacher's cmd/pure6502 swaps
// a PlainBus in for a real system bus.
type Transport interface {
	SendReceive(req *Request) (*Reply, error)
	ClearStall(endpoint byte) error
	ControlOut(request uint8, value, index uint16, data []byte) error
	ControlIn(request uint8, value, index uint16, length int) ([]byte, error)
}

var _ Transport = (*ProbeTransport)(nil)
