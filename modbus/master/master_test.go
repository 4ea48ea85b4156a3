// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package master

import (
	"bytes"
	"errors"
	"testing"

	"github.com/ffutop/modbus-tachometer/internal/registers"
	"github.com/ffutop/modbus-tachometer/modbus"
	"github.com/ffutop/modbus-tachometer/modbus/crc"
	"github.com/ffutop/modbus-tachometer/modbus/slave"
)

func TestSendRequestRTU(t *testing.T) {
	out := &bytes.Buffer{}
	m := New(modbus.FramingRTU, out)

	err := m.SendRequest(modbus.Request{UnitID: 1, FunctionCode: modbus.FuncCodeReadHoldingRegisters, Address: 0, Quantity: 2})
	if err != nil {
		t.Fatal(err)
	}
	want := []byte{0x01, 0x03, 0x00, 0x00, 0x00, 0x02, 0xC4, 0x0B}
	if !bytes.Equal(out.Bytes(), want) {
		t.Errorf("frame = % X, want % X", out.Bytes(), want)
	}
}

func TestSendRequestTCPTransactionIDs(t *testing.T) {
	out := &bytes.Buffer{}
	m := New(modbus.FramingTCP, out)

	req := modbus.Request{UnitID: 7, FunctionCode: modbus.FuncCodeReadInputRegisters, Address: 2, Quantity: 1}
	for i, wantTID := range []uint16{1, 2, 0x1234, 3} {
		out.Reset()
		r := req
		if wantTID == 0x1234 {
			r.TransactionID = 0x1234
		}
		if err := m.SendRequest(r); err != nil {
			t.Fatal(err)
		}
		frame := out.Bytes()
		got := uint16(frame[0])<<8 | uint16(frame[1])
		if got != wantTID || m.LastTransactionID() != wantTID {
			t.Errorf("request %d tid = %d, want %d", i, got, wantTID)
		}
		wantRest := []byte{0x00, 0x00, 0x00, 0x06, 0x07, 0x04, 0x00, 0x02, 0x00, 0x01}
		if !bytes.Equal(frame[2:], wantRest) {
			t.Errorf("request %d frame = % X", i, frame)
		}
	}
}

func TestSendRequestUnsupported(t *testing.T) {
	out := &bytes.Buffer{}
	m := New(modbus.FramingRTU, out)
	err := m.SendRequest(modbus.Request{UnitID: 1, FunctionCode: 0x2B})
	if !errors.Is(err, modbus.ErrUnsupportedFunction) {
		t.Fatalf("error = %v", err)
	}
	if out.Len() != 0 {
		t.Error("unsupported request was transmitted")
	}
}

func TestHandleResponse(t *testing.T) {
	tests := []struct {
		name    string
		framing modbus.Framing
		frame   []byte
		want    bool
	}{
		{"RTUValid", modbus.FramingRTU, crc.Append([]byte{0x01, 0x06, 0x00, 0x01, 0x00, 0xFA}), true},
		{"RTUShort", modbus.FramingRTU, []byte{0x01, 0x83, 0x02, 0xC0}, false},
		{"RTUBadCRC", modbus.FramingRTU, []byte{0x01, 0x83, 0x02, 0xC0, 0xF2}, false},
		{"TCPValid", modbus.FramingTCP, []byte{0x00, 0x01, 0x00, 0x00, 0x00, 0x03, 0x01, 0x83, 0x02}, true},
		{"TCPShort", modbus.FramingTCP, []byte{0x00, 0x01, 0x00, 0x00, 0x00, 0x03, 0x01}, false},
		{"TCPProtocolID", modbus.FramingTCP, []byte{0x00, 0x01, 0x00, 0x01, 0x00, 0x03, 0x01, 0x83, 0x02}, false},
		{"TCPIncomplete", modbus.FramingTCP, []byte{0x00, 0x01, 0x00, 0x00, 0x00, 0x05, 0x01, 0x03, 0x02}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := New(tt.framing, &bytes.Buffer{})
			called := false
			m.OnResponse(func(frame []byte) { called = true })

			if got := m.HandleResponse(tt.frame); got != tt.want {
				t.Errorf("HandleResponse() = %v, want %v", got, tt.want)
			}
			if called != tt.want {
				t.Errorf("callback called = %v, want %v", called, tt.want)
			}
		})
	}
}

func TestParseResponseRTU(t *testing.T) {
	m := New(modbus.FramingRTU, &bytes.Buffer{})

	resp, ok := m.ParseResponse(crc.Append([]byte{0x01, 0x03, 0x04, 0x00, 0x64, 0x01, 0x2C}))
	if !ok {
		t.Fatal("read response not parsed")
	}
	rr, isRead := resp.(*modbus.ReadRegistersResponse)
	if !isRead || rr.UnitID != 1 || rr.Quantity != 2 || rr.Registers[0] != 100 || rr.Registers[1] != 300 {
		t.Errorf("ParseResponse() = %+v", resp)
	}

	resp, ok = m.ParseResponse([]byte{0x01, 0x83, 0x02, 0xC0, 0xF1})
	if !ok {
		t.Fatal("exception not parsed")
	}
	if exc, isExc := resp.(*modbus.ExceptionResponse); !isExc || exc.ExceptionCode != modbus.ExceptionCodeIllegalDataAddress || exc.FunctionCode != 0x03 {
		t.Errorf("ParseResponse() = %+v", resp)
	}

	if _, ok := m.ParseResponse(crc.Append([]byte{0x01, 0x03, 0x04, 0x00})); ok {
		t.Error("truncated read parsed")
	}
}

// TestTCPRoundTrip sends a write through a slave and parses the echo.
func TestTCPRoundTrip(t *testing.T) {
	regs := registers.New(registers.Sizes{HoldingRegisters: 10})
	toMaster := &bytes.Buffer{}
	s := slave.New(0x01, modbus.FramingTCP, regs, toMaster)

	toSlave := &bytes.Buffer{}
	m := New(modbus.FramingTCP, toSlave)

	var parsed modbus.Response
	m.OnResponse(func(frame []byte) {
		parsed, _ = m.ParseResponse(frame)
	})

	err := m.SendRequest(modbus.Request{UnitID: 1, FunctionCode: modbus.FuncCodeWriteSingleRegister, Address: 1, Values: []uint16{250}})
	if err != nil {
		t.Fatal(err)
	}
	if err := s.HandleFrame(toSlave.Bytes()); err != nil {
		t.Fatal(err)
	}
	if !m.HandleResponse(toMaster.Bytes()) {
		t.Fatalf("response % X rejected", toMaster.Bytes())
	}

	ack, ok := parsed.(*modbus.WriteAckResponse)
	if !ok {
		t.Fatalf("parsed = %#v, want write ack", parsed)
	}
	if ack.Address != 1 || ack.Value != 250 {
		t.Errorf("ack = %+v, want address 1 value 250", ack)
	}
	if ack.TransactionID != m.LastTransactionID() || ack.UnitID != 1 {
		t.Errorf("ack header = %+v", ack.ResponseHeader)
	}
	if regs.Holding(1, 1)[0] != 250 {
		t.Error("slave register not written")
	}
}
