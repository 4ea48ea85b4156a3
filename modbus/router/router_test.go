// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package router

import (
	"bytes"
	"errors"
	"testing"

	"github.com/ffutop/modbus-tachometer/internal/registers"
	"github.com/ffutop/modbus-tachometer/modbus"
	"github.com/ffutop/modbus-tachometer/modbus/master"
	"github.com/ffutop/modbus-tachometer/modbus/slave"
)

func TestSlaveRole(t *testing.T) {
	out := &bytes.Buffer{}
	regs := registers.New(registers.Sizes{HoldingRegisters: 10})
	r := NewSlave(slave.New(1, modbus.FramingRTU, regs, out))

	if r.Role() != modbus.RoleSlave || r.Framing() != modbus.FramingRTU || r.Master() != nil {
		t.Fatalf("unexpected router state")
	}
	if err := r.HandleFrame([]byte{0x01, 0x03, 0x00, 0x00, 0x00, 0x02, 0xC4, 0x0B}); err != nil {
		t.Fatal(err)
	}
	if out.Len() == 0 {
		t.Error("slave did not answer")
	}
	if err := r.SendRequest(modbus.Request{UnitID: 1, FunctionCode: 3, Quantity: 1}); !errors.Is(err, modbus.ErrWrongRole) {
		t.Errorf("SendRequest() error = %v, want ErrWrongRole", err)
	}
}

func TestMasterRole(t *testing.T) {
	out := &bytes.Buffer{}
	m := master.New(modbus.FramingTCP, out)
	r := NewMaster(m)

	var got []byte
	m.OnResponse(func(frame []byte) { got = frame })

	if r.Role() != modbus.RoleMaster || r.Framing() != modbus.FramingTCP || r.Slave() != nil {
		t.Fatalf("unexpected router state")
	}
	if err := r.SendRequest(modbus.Request{UnitID: 1, FunctionCode: 3, Quantity: 1}); err != nil {
		t.Fatal(err)
	}
	resp := []byte{0x00, 0x01, 0x00, 0x00, 0x00, 0x05, 0x01, 0x03, 0x02, 0x00, 0x2A}
	if err := r.HandleFrame(resp); err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, resp) {
		t.Errorf("master callback got % X", got)
	}
}
