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

// Package bootstrap opens the probe, uploading the FX2 8051 firmware
// image first if only the unconfigured VID:PID answers, per spec.md
// §4.7's ProbeBootstrap contract.
package bootstrap

import (
	"time"

	"github.com/google/gousb"

	"github.com/master-g/psocprog/pkg/hexfile"
	"github.com/master-g/psocprog/pkg/proglog"
	"github.com/master-g/psocprog/pkg/progerr"
	"github.com/master-g/psocprog/pkg/transport"
)

const (
	cpucsValue  = 0xE600
	cpucsHold   = 0x01
	cpucsReset  = 0x00

	// fx2MaxRecordBytes bounds each RW_RAM write to the FX2's control
	// endpoint, per spec.md §4.7.
	fx2MaxRecordBytes = 2048

	// postBootstrapDelay is the fixed settle time after releasing the
	// 8051 from reset, before the configured VID:PID is expected to
	// re-enumerate.
	postBootstrapDelay = 3 * time.Second
)

// Config names both VID:PID pairs and the FX2 firmware hex file used to
// bring an unconfigured probe up.
type Config struct {
	ConfiguredVID, ConfiguredPID     gousb.ID
	UnconfiguredVID, UnconfiguredPID gousb.ID
	FX2HexPath                       string
}

// Open tries the configured VID:PID first. On miss it opens the
// unconfigured VID:PID, uploads the FX2 image, waits for the device to
// re-enumerate, then opens the configured VID:PID again.
func Open(ctx *gousb.Context, cfg Config, log proglog.Logger) (*transport.ProbeTransport, error) {
	if log == nil {
		log = proglog.Nop()
	}

	if dev, err := ctx.OpenDeviceWithVIDPID(cfg.ConfiguredVID, cfg.ConfiguredPID); err == nil && dev != nil {
		return transport.Open(ctx, dev, log)
	}

	log.Infof("bootstrap: configured probe not present, trying unconfigured %s:%s", cfg.UnconfiguredVID, cfg.UnconfiguredPID)
	dev, err := ctx.OpenDeviceWithVIDPID(cfg.UnconfiguredVID, cfg.UnconfiguredPID)
	if err != nil || dev == nil {
		return nil, &progerr.ProbeNotFound{VID: uint16(cfg.UnconfiguredVID), PID: uint16(cfg.UnconfiguredPID)}
	}

	uploadErr := uploadFX2Image(dev, cfg.FX2HexPath, log)
	dev.Close()
	if uploadErr != nil {
		return nil, &progerr.ConfigureFailed{Cause: uploadErr}
	}

	log.Debugf("bootstrap: waiting %s for re-enumeration", postBootstrapDelay)
	time.Sleep(postBootstrapDelay)

	configured, err := ctx.OpenDeviceWithVIDPID(cfg.ConfiguredVID, cfg.ConfiguredPID)
	if err != nil || configured == nil {
		return nil, &progerr.ConfigureFailed{Cause: err}
	}
	return transport.Open(ctx, configured, log)
}

// uploadFX2Image holds the 8051 in reset, writes the firmware image in
// ≤2048-byte chunks via RW_RAM control transfers, then releases it.
func uploadFX2Image(dev *gousb.Device, hexPath string, log proglog.Logger) error {
	img, err := hexfile.Parse(hexPath, 0)
	if err != nil {
		return err
	}
	img = img.Reshape(fx2MaxRecordBytes)

	if err := setCPUReset(dev, cpucsHold); err != nil {
		return err
	}

	blocks := img.Blocks()
	log.Infof("bootstrap: uploading %d blocks from %s", len(blocks), hexPath)
	for _, b := range blocks {
		if _, err := dev.Control(transport.CtrlTypeVendorOut, transport.ReqRWRAM, uint16(b.Base), 0, b.Data); err != nil {
			return &progerr.UsbError{Cause: err}
		}
	}

	return setCPUReset(dev, cpucsReset)
}

func setCPUReset(dev *gousb.Device, value byte) error {
	_, err := dev.Control(transport.CtrlTypeVendorOut, transport.ReqRWRAM, cpucsValue, 0, []byte{value})
	if err != nil {
		return &progerr.UsbError{Cause: err}
	}
	return nil
}
