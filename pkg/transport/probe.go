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

import (
	"github.com/google/gousb"

	"github.com/master-g/psocprog/pkg/proglog"
	"github.com/master-g/psocprog/pkg/progerr"
)

// Endpoint addresses and control-transfer request codes from spec.md §6.
const (
	BulkOutEndpoint = 0x02
	BulkInEndpoint  = 0x84

	CtrlTypeVendorOut = 0x40
	CtrlTypeVendorIn  = 0xC0

	ReqRWRAM       = 0xA0
	ReqResetTarget = 100
	ReqWarmupDummy = 95
)

// ProbeTransport owns the paired bulk OUT/bulk IN endpoints of an open
// probe handle and ships exactly one Request per SendReceive call,
// receiving exactly one Reply back. All transfers on a given
// ProbeTransport are strictly ordered — the caller never issues two
// concurrent transfers against the same handle.
type ProbeTransport struct {
	ctx    *gousb.Context
	dev    *gousb.Device
	cfg    *gousb.Config
	iface  *gousb.Interface
	out    *gousb.OutEndpoint
	in     *gousb.InEndpoint
	log    proglog.Logger
}

// Open claims the given interface/config on an already-located gousb
// device and binds its bulk OUT/IN endpoints.
func Open(ctx *gousb.Context, dev *gousb.Device, log proglog.Logger) (*ProbeTransport, error) {
	if log == nil {
		log = proglog.Nop()
	}

	cfg, err := dev.Config(1)
	if err != nil {
		return nil, &progerr.UsbError{Endpoint: 0, Cause: err}
	}
	iface, err := cfg.Interface(0, 0)
	if err != nil {
		cfg.Close()
		return nil, &progerr.UsbError{Endpoint: 0, Cause: err}
	}
	out, err := iface.OutEndpoint(BulkOutEndpoint)
	if err != nil {
		iface.Close()
		cfg.Close()
		return nil, &progerr.UsbError{Endpoint: BulkOutEndpoint, Cause: err}
	}
	in, err := iface.InEndpoint(BulkInEndpoint)
	if err != nil {
		iface.Close()
		cfg.Close()
		return nil, &progerr.UsbError{Endpoint: BulkInEndpoint, Cause: err}
	}

	return &ProbeTransport{ctx: ctx, dev: dev, cfg: cfg, iface: iface, out: out, in: in, log: log}, nil
}

// Close releases the interface, config and device handle, in that
// order, so every exit path pairs with Open.
func (t *ProbeTransport) Close() error {
	if t.iface != nil {
		t.iface.Close()
	}
	if t.cfg != nil {
		t.cfg.Close()
	}
	if t.dev != nil {
		return t.dev.Close()
	}
	return nil
}

// SendReceive transmits req's accumulated bytes in one bulk OUT transfer
// and receives exactly one Reply from the bulk IN endpoint.
func (t *ProbeTransport) SendReceive(req *Request) (*Reply, error) {
	if _, err := t.out.Write(req.Bytes()); err != nil {
		return nil, &progerr.UsbError{Endpoint: BulkOutEndpoint, Cause: err}
	}

	buf := make([]byte, MaxBufferBytes)
	n, err := t.in.Read(buf)
	if err != nil {
		return nil, &progerr.UsbError{Endpoint: BulkInEndpoint, Cause: err}
	}
	t.log.Debugf("transport: sent %d bytes, received %d bytes", len(req.Bytes()), n)
	return NewReply(buf[:n]), nil
}

// ClearStall issues a standard CLEAR_FEATURE(ENDPOINT_HALT) control
// transfer against the given endpoint address, recovering from a
// stalled bulk pipe.
func (t *ProbeTransport) ClearStall(endpoint byte) error {
	const (
		stdRequestTypeOutEndpoint = 0x02 // host-to-device | standard | endpoint
		reqClearFeature           = 0x01
		featureEndpointHalt       = 0x00
	)
	_, err := t.dev.Control(stdRequestTypeOutEndpoint, reqClearFeature, featureEndpointHalt, uint16(endpoint), nil)
	if err != nil {
		return &progerr.UsbError{Endpoint: endpoint, Cause: err}
	}
	return nil
}

// ControlOut issues a vendor OUT control transfer, used for FX2 RAM
// writes and the SWD warmup dummy transfer.
func (t *ProbeTransport) ControlOut(request uint8, value, index uint16, data []byte) error {
	_, err := t.dev.Control(CtrlTypeVendorOut, request, value, index, data)
	if err != nil {
		return &progerr.UsbError{Cause: err}
	}
	return nil
}

// ControlIn issues a vendor IN control transfer, used for the CPU reset
// toggle.
func (t *ProbeTransport) ControlIn(request uint8, value, index uint16, length int) ([]byte, error) {
	data := make([]byte, length)
	n, err := t.dev.Control(CtrlTypeVendorIn, request, value, index, data)
	if err != nil {
		return nil, &progerr.UsbError{Cause: err}
	}
	return data[:n], nil
}
