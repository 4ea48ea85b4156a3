// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

// Command speedprobe reads the speed registers of one or more tachometers.
package main

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/ffutop/modbus-tachometer/internal/bridge"
	"github.com/goburrow/modbus"
	"github.com/spf13/pflag"
)

// Reading is the decoded input register block.
type Reading struct {
	RPM          uint32
	LinearSpeed  float64 // m/min
	Frequency    float64 // Hz
	DisplaySpeed float64
	Signal       bool
	Unsaved      bool
	MasterFault  bool
}

const readingRegisters = bridge.InputDisplaySpeed + 2

func decodeReading(b []byte) (Reading, error) {
	if len(b) < readingRegisters*2 {
		return Reading{}, fmt.Errorf("short response: %d bytes", len(b))
	}
	word := func(i int) uint16 { return binary.BigEndian.Uint16(b[2*i:]) }
	long := func(i int) uint32 { return binary.BigEndian.Uint32(b[2*i:]) }
	status := word(bridge.InputStatus)
	return Reading{
		RPM:          long(bridge.InputRPM),
		LinearSpeed:  float64(long(bridge.InputLinearSpeed)) / 100,
		Frequency:    float64(word(bridge.InputFrequency)) / 100,
		DisplaySpeed: float64(long(bridge.InputDisplaySpeed)) / 100,
		Signal:       status&bridge.StatusSignal != 0,
		Unsaved:      status&bridge.StatusUnsaved != 0,
		MasterFault:  status&bridge.StatusMasterFault != 0,
	}, nil
}

func (r Reading) String() string {
	signal := "signal"
	if !r.Signal {
		signal = "no signal"
	}
	return fmt.Sprintf("%d rpm, %.2f m/min, %.2f Hz, display %.2f (%s)", r.RPM, r.LinearSpeed, r.Frequency, r.DisplaySpeed, signal)
}

type probe struct {
	client  modbus.Client
	setUnit func(id byte)
	closer  io.Closer
}

func dial(address, device string, baud int, parity string, timeout time.Duration) (*probe, error) {
	if address != "" {
		h := modbus.NewTCPClientHandler(address)
		h.Timeout = timeout
		if err := h.Connect(); err != nil {
			return nil, err
		}
		return &probe{client: modbus.NewClient(h), setUnit: func(id byte) { h.SlaveId = id }, closer: h}, nil
	}
	if device == "" {
		return nil, errors.New("either --address or --device is required")
	}
	h := modbus.NewRTUClientHandler(device)
	h.BaudRate = baud
	h.DataBits = 8
	h.Parity = parity
	h.StopBits = 1
	h.Timeout = timeout
	if err := h.Connect(); err != nil {
		return nil, err
	}
	return &probe{client: modbus.NewClient(h), setUnit: func(id byte) { h.SlaveId = id }, closer: h}, nil
}

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

// run executes one probe session and returns the process exit code.
func run(args []string, stdout, stderr io.Writer) int {
	fs := pflag.NewFlagSet("speedprobe", pflag.ContinueOnError)
	fs.SetOutput(stderr)
	address := fs.StringP("address", "A", "", "Modbus TCP address of the tachometer.")
	device := fs.StringP("device", "p", "", "Serial device for Modbus RTU.")
	baud := fs.IntP("baud", "s", 9600, "Serial port speed.")
	parity := fs.String("parity", "N", "Serial parity (N, E, O).")
	units := fs.StringP("units", "u", "1", "Unit ids to read, e.g. 1,2,5-10.")
	timeout := fs.Duration("timeout", time.Second, "Response timeout.")
	writePPR := fs.Uint32("write-ppr", 0, "Write this PPR to every unit and save it.")
	watch := fs.Duration("watch", 0, "Repeat the read at this interval.")
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return 0
		}
		return 2
	}

	ids, err := parseUnitIDs(*units)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 2
	}

	p, err := dial(*address, *device, *baud, *parity, *timeout)
	if err != nil {
		fmt.Fprintf(stderr, "connect: %v\n", err)
		return 1
	}
	defer p.closer.Close()

	if *writePPR > 0 {
		for _, id := range ids {
			if err := p.writePPR(id, *writePPR); err != nil {
				fmt.Fprintf(stderr, "unit %d: write ppr: %v\n", id, err)
				return 1
			}
			fmt.Fprintf(stdout, "unit %d: ppr set to %d\n", id, *writePPR)
		}
	}

	for {
		failed := false
		for _, id := range ids {
			r, err := p.read(id)
			if err != nil {
				fmt.Fprintf(stderr, "unit %d: %v\n", id, err)
				failed = true
				continue
			}
			fmt.Fprintf(stdout, "unit %d: %s\n", id, r)
		}
		if *watch <= 0 {
			if failed {
				return 1
			}
			return 0
		}
		time.Sleep(*watch)
	}
}

func (p *probe) read(id byte) (Reading, error) {
	p.setUnit(id)
	b, err := p.client.ReadInputRegisters(bridge.InputRPM, readingRegisters)
	if err != nil {
		return Reading{}, err
	}
	return decodeReading(b)
}

func (p *probe) writePPR(id byte, ppr uint32) error {
	p.setUnit(id)
	value := make([]byte, 4)
	binary.BigEndian.PutUint32(value, ppr)
	if _, err := p.client.WriteMultipleRegisters(bridge.HoldingPPR, 2, value); err != nil {
		return err
	}
	_, err := p.client.WriteSingleRegister(bridge.HoldingSave, 1)
	return err
}
