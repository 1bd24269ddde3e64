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

// Command psocprog drives a PSoC 5 device programmer probe: it wires
// together bootstrap, swd, spc, nvops, appimage and progcfg behind the
// eight verbs spec.md §6 names, plus two supplemented hex-file utility
// verbs.
package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/gousb"
	"gopkg.in/urfave/cli.v2"

	"github.com/master-g/psocprog/pkg/appimage"
	"github.com/master-g/psocprog/pkg/bootstrap"
	"github.com/master-g/psocprog/pkg/hexfile"
	"github.com/master-g/psocprog/pkg/nvops"
	"github.com/master-g/psocprog/pkg/proglog"
	"github.com/master-g/psocprog/pkg/progerr"
	"github.com/master-g/psocprog/pkg/progcfg"
	"github.com/master-g/psocprog/pkg/spc"
	"github.com/master-g/psocprog/pkg/swd"
	"github.com/master-g/psocprog/pkg/transport"
)

const (
	defaultConfigDir = "/etc/psocprog"
	programmerIniName = "programmer.ini"
	devicesIniName     = "devices.ini"
)

// session bundles everything a verb needs once the probe is open and in
// programming mode: the transport, the SWD/SPC layers built on top of
// it, and the geometry used to interpret NvOps addressing.
type session struct {
	log   proglog.Logger
	usb   *gousb.Context
	probe *transport.ProbeTransport
	swd   *swd.Session
	ops   *nvops.Session
	geom  appimage.DeviceGeometry
}

func (s *session) Close() {
	if s.usb != nil {
		s.usb.Close()
	}
}

// openProbe opens (bootstrapping if needed) the configured probe, but
// does not touch the target's debug port — usb_clear needs exactly
// this much, since a stalled endpoint can make SwitchToSWD itself fail.
func openProbe(c *cli.Context) (*gousb.Context, *transport.ProbeTransport, appimage.DeviceGeometry, proglog.Logger, error) {
	log := proglog.New("psocprog")

	configDir := c.String("config-dir")
	deviceName := c.String("device")
	if deviceName == "" {
		return nil, nil, appimage.DeviceGeometry{}, nil, cli.Exit("a -d/--device name is required", 2)
	}

	progCfg, err := progcfg.LoadProgrammerConfig(filepath.Join(configDir, programmerIniName))
	if err != nil {
		return nil, nil, appimage.DeviceGeometry{}, nil, err
	}
	geom, err := progcfg.LoadDeviceGeometry(filepath.Join(configDir, devicesIniName), deviceName)
	if err != nil {
		return nil, nil, appimage.DeviceGeometry{}, nil, err
	}

	usb := gousb.NewContext()
	probe, err := bootstrap.Open(usb, bootstrap.Config{
		ConfiguredVID:   gousb.ID(progCfg.VID),
		ConfiguredPID:   gousb.ID(progCfg.PID),
		UnconfiguredVID: gousb.ID(progCfg.VIDUnconfigured),
		UnconfiguredPID: gousb.ID(progCfg.PIDUnconfigured),
		FX2HexPath:      progCfg.FX2ConfigFile,
	}, log)
	if err != nil {
		usb.Close()
		return nil, nil, appimage.DeviceGeometry{}, nil, err
	}
	return usb, probe, geom, log, nil
}

func openSession(c *cli.Context) (*session, error) {
	usb, probe, geom, log, err := openProbe(c)
	if err != nil {
		return nil, err
	}

	sw := swd.New(probe, log)
	if err := sw.SwitchToSWD(); err != nil {
		usb.Close()
		return nil, err
	}
	if err := sw.EnterProgrammingMode(); err != nil {
		usb.Close()
		return nil, err
	}

	eng := spc.New(sw, geom.StatusByteLane, log)
	ops := nvops.New(eng, sw, geom, log)

	return &session{log: log, usb: usb, probe: probe, swd: sw, ops: ops, geom: geom}, nil
}

func main() {
	app := &cli.App{
		Name:  "psocprog",
		Usage: "PSoC 5 device programmer",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config-dir",
				Aliases: []string{"C"},
				Usage:   "directory holding programmer.ini and devices.ini",
				Value:   defaultConfigDir,
			},
			&cli.StringFlag{
				Name:    "device",
				Aliases: []string{"d"},
				Usage:   "device geometry section name",
			},
		},
		Commands: []*cli.Command{
			{
				Name:      "program",
				Usage:     "open -> enter programming mode -> check device id -> write device",
				ArgsUsage: "FILE",
				Action:    cmdProgram,
			},
			{
				Name:      "upload",
				Usage:     "enter programming mode -> read device -> write hex file",
				ArgsUsage: "FILE",
				Action:    cmdUpload,
			},
			{
				Name:      "verify",
				Usage:     "enter programming mode -> verify device against hex file",
				ArgsUsage: "FILE",
				Action:    cmdVerify,
			},
			{
				Name:   "reset",
				Usage:  "reset the target CPU",
				Action: cmdReset,
			},
			{
				Name:   "erase",
				Usage:  "enter programming mode -> erase flash",
				Action: cmdErase,
			},
			{
				Name:   "id",
				Usage:  "enter programming mode -> read and print the JTAG IDCODE",
				Action: cmdID,
			},
			{
				Name:   "usb_clear",
				Usage:  "clear a stall on both bulk endpoints",
				Action: cmdUsbClear,
			},
			{
				Name:      "hexinfo",
				Usage:     "print block layout and checksum of a hex file, without touching a probe",
				ArgsUsage: "FILE",
				Action:    cmdHexInfo,
			},
			{
				Name:      "hex2bin",
				Usage:     "flatten a hex file's CODE region to a raw binary file",
				ArgsUsage: "FILE OUT",
				Action:    cmdHex2Bin,
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func cmdProgram(c *cli.Context) error {
	path := c.Args().First()
	if path == "" {
		return cli.Exit("program: missing FILE", 2)
	}
	app, err := appimage.ReadHexFile(path, 0)
	if err != nil {
		return err
	}

	s, err := openSession(c)
	if err != nil {
		return err
	}
	defer s.Close()

	if app.DeviceID != 0 {
		id, err := s.swd.ReadJtagID()
		if err != nil {
			return err
		}
		if id != app.DeviceID {
			return &progerr.DeviceIdMismatch{File: app.DeviceID, Device: id}
		}
	}

	return s.ops.WriteDevice(app, nvops.WriteOptions{})
}

func cmdUpload(c *cli.Context) error {
	path := c.Args().First()
	if path == "" {
		return cli.Exit("upload: missing FILE", 2)
	}

	s, err := openSession(c)
	if err != nil {
		return err
	}
	defer s.Close()

	app, err := s.ops.ReadDevice()
	if err != nil {
		return err
	}
	return app.WriteHexFile(path)
}

func cmdVerify(c *cli.Context) error {
	path := c.Args().First()
	if path == "" {
		return cli.Exit("verify: missing FILE", 2)
	}
	app, err := appimage.ReadHexFile(path, 0)
	if err != nil {
		return err
	}

	s, err := openSession(c)
	if err != nil {
		return err
	}
	defer s.Close()

	mask, err := s.ops.VerifyDevice(app)
	if err != nil {
		return err
	}
	if mask != 0 {
		return cli.Exit(fmt.Sprintf("verify: mismatch mask %#04x", mask), 1)
	}
	fmt.Println("verify: OK")
	return nil
}

func cmdReset(c *cli.Context) error {
	s, err := openSession(c)
	if err != nil {
		return err
	}
	defer s.Close()
	return s.swd.ResetCPU()
}

func cmdErase(c *cli.Context) error {
	s, err := openSession(c)
	if err != nil {
		return err
	}
	defer s.Close()
	return s.ops.EraseFlash()
}

func cmdID(c *cli.Context) error {
	s, err := openSession(c)
	if err != nil {
		return err
	}
	defer s.Close()

	id, err := s.swd.ReadJtagID()
	if err != nil {
		return err
	}
	fmt.Printf("%#08x\n", id)
	return nil
}

func cmdUsbClear(c *cli.Context) error {
	usb, probe, _, _, err := openProbe(c)
	if err != nil {
		return err
	}
	defer usb.Close()

	if err := probe.ClearStall(transport.BulkOutEndpoint); err != nil {
		return err
	}
	return probe.ClearStall(transport.BulkInEndpoint)
}

func cmdHexInfo(c *cli.Context) error {
	path := c.Args().First()
	if path == "" {
		return cli.Exit("hexinfo: missing FILE", 2)
	}
	img, err := hexfile.Parse(path, 0)
	if err != nil {
		return err
	}
	for _, b := range img.Blocks() {
		fmt.Printf("block base=%#08x len=%d end=%#08x\n", b.Base, len(b.Data), b.End())
	}

	app := appimage.FromImage(img)
	fmt.Printf("checksum=%#04x device_id=%#08x version=%#04x silicon_rev=%#02x\n",
		app.CalcChecksum(true), app.DeviceID, app.Version, app.SiliconRev)
	return nil
}

func cmdHex2Bin(c *cli.Context) error {
	inPath := c.Args().Get(0)
	outPath := c.Args().Get(1)
	if inPath == "" || outPath == "" {
		return cli.Exit("hex2bin: usage: hex2bin FILE OUT", 2)
	}

	app, err := appimage.ReadHexFile(inPath, 0)
	if err != nil {
		return err
	}

	out, err := os.Create(outPath)
	if err != nil {
		return &progerr.IoError{Path: outPath, Cause: err}
	}
	defer out.Close()

	if _, err := out.Write(app.Code.ExtractBytes(0, codeExtent(app.Code), nil)); err != nil {
		return &progerr.IoError{Path: outPath, Cause: err}
	}
	return nil
}

func codeExtent(img *hexfile.Image) uint32 {
	var maxEnd uint32
	for _, b := range img.Blocks() {
		if e := b.End(); e > maxEnd {
			maxEnd = e
		}
	}
	return maxEnd
}
