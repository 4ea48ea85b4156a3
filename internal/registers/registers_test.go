// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package registers

import (
	"bytes"
	"errors"
	"testing"
)

func TestBounds(t *testing.T) {
	m := New(Sizes{Coils: 8, DiscreteInputs: 8, HoldingRegisters: 10, InputRegisters: 4})

	tests := []struct {
		name    string
		fn      func() error
		wantErr bool
	}{
		{"HoldingInRange", func() error { _, err := m.ReadHoldingRegisters(8, 2); return err }, false},
		{"HoldingPastEnd", func() error { _, err := m.ReadHoldingRegisters(9, 2); return err }, true},
		{"ZeroQuantity", func() error { _, err := m.ReadInputRegisters(0, 0); return err }, true},
		{"CoilsPastEnd", func() error { _, err := m.ReadCoils(0, 9); return err }, true},
		{"WriteSinglePastEnd", func() error { return m.WriteSingleRegister(10, 1) }, true},
		{"WriteCoilPastEnd", func() error { return m.WriteSingleCoil(8, 0xFF00) }, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.fn()
			if (err != nil) != tt.wantErr {
				t.Fatalf("error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, ErrOutOfRange) {
				t.Errorf("error %v is not ErrOutOfRange", err)
			}
		})
	}
}

func TestReadWrite(t *testing.T) {
	m := New(Sizes{Coils: 16, DiscreteInputs: 4, HoldingRegisters: 4, InputRegisters: 4})

	if err := m.WriteMultipleRegisters(1, 2, []byte{0x12, 0x34, 0xAB, 0xCD}); err != nil {
		t.Fatal(err)
	}
	got, err := m.ReadHoldingRegisters(0, 3)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, []byte{0x00, 0x00, 0x12, 0x34, 0xAB, 0xCD}) {
		t.Errorf("ReadHoldingRegisters() = % X", got)
	}

	if err := m.WriteMultipleCoils(2, 10, []byte{0x05, 0x02}); err != nil {
		t.Fatal(err)
	}
	coils, _ := m.ReadCoils(0, 16)
	if !bytes.Equal(coils, []byte{0x14, 0x08}) {
		t.Errorf("ReadCoils() = % X", coils)
	}

	m.SetInput(2, 7, 8, 9)
	in := m.Input(0, 4)
	if in[2] != 7 || in[3] != 8 {
		t.Errorf("Input() = %v", in)
	}

	m.SetDiscreteInput(3, true)
	di, _ := m.ReadDiscreteInputs(0, 4)
	if !bytes.Equal(di, []byte{0x08}) {
		t.Errorf("ReadDiscreteInputs() = % X", di)
	}
}

type recorder struct {
	reads, writes []Table
	m             *Map
	seen          uint16
}

func (r *recorder) OnRead(table Table, address, quantity uint16) {
	r.reads = append(r.reads, table)
	// Observers may touch the map; the lock is not held here.
	r.m.SetInput(address, 42)
}

func (r *recorder) OnWrite(table Table, address, quantity uint16) {
	r.writes = append(r.writes, table)
	r.seen = r.m.Holding(address, 1)[0]
}

func TestObserver(t *testing.T) {
	m := New(Sizes{HoldingRegisters: 2, InputRegisters: 2})
	rec := &recorder{m: m}
	m.SetObserver(rec)

	got, err := m.ReadInputRegisters(1, 1)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, []byte{0x00, 42}) {
		t.Errorf("refresh in OnRead not visible: % X", got)
	}
	if err := m.WriteSingleRegister(0, 77); err != nil {
		t.Fatal(err)
	}
	if rec.seen != 77 {
		t.Errorf("OnWrite saw %d, want 77", rec.seen)
	}
	if len(rec.reads) != 1 || rec.reads[0] != InputRegisters || len(rec.writes) != 1 || rec.writes[0] != HoldingRegisters {
		t.Errorf("notifications reads=%v writes=%v", rec.reads, rec.writes)
	}

	if _, err := m.ReadInputRegisters(1, 5); err == nil {
		t.Fatal("out of range read succeeded")
	}
	if len(rec.reads) != 1 {
		t.Error("observer called for rejected read")
	}
}
