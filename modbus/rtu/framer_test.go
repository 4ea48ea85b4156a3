// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package rtu

import (
	"bytes"
	"errors"
	"testing"
	"time"

	"github.com/ffutop/modbus-tachometer/modbus"
)

func TestCalculateRequestLength(t *testing.T) {
	tests := []struct {
		name     string
		funcCode byte
		header   []byte
		want     int
		wantErr  bool
	}{
		{"ReadHoldingRegisters", 0x03, []byte{0x01, 0x03, 0x00, 0x00, 0x00, 0x01}, 8, false},
		{"WriteSingleRegister", 0x06, []byte{0x01, 0x06, 0x00, 0x00, 0xAA, 0xBB}, 8, false},
		{"WriteMultipleRegisters_ShortHeader", 0x10, []byte{0x01, 0x10, 0x00, 0x01, 0x00, 0x01}, 0, true},
		{"WriteMultipleRegisters_Valid", 0x10, []byte{0x01, 0x10, 0x00, 0x01, 0x00, 0x01, 0x02}, 7 + 2 + 2, false},
		{"UnknownFunction", 0x99, []byte{0x01, 0x99}, 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := CalculateRequestLength(tt.funcCode, tt.header)
			if (err != nil) != tt.wantErr {
				t.Errorf("CalculateRequestLength() error = %v, wantErr %v", err, tt.wantErr)
				return
			}
			if got != tt.want {
				t.Errorf("CalculateRequestLength() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestCalculateResponseLength(t *testing.T) {
	tests := []struct {
		name    string
		header  []byte
		want    int
		wantErr bool
	}{
		{"ReadHolding", []byte{0x01, 0x03, 0x04}, 9, false},
		{"ReadCoils", []byte{0x01, 0x01, 0x02}, 7, false},
		{"ReadHolding_Short", []byte{0x01, 0x03}, 0, true},
		{"WriteSingle", []byte{0x01, 0x06}, 8, false},
		{"Exception", []byte{0x01, 0x83}, 5, false},
		{"Unknown", []byte{0x01, 0x2B}, 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := CalculateResponseLength(tt.header)
			if (err != nil) != tt.wantErr {
				t.Errorf("CalculateResponseLength() error = %v, wantErr %v", err, tt.wantErr)
				return
			}
			if got != tt.want {
				t.Errorf("CalculateResponseLength() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestFrameDelay(t *testing.T) {
	if got := FrameDelay(9600); got != 3645*time.Microsecond {
		t.Errorf("FrameDelay(9600) = %v", got)
	}
	if got := FrameDelay(115200); got != 1750*time.Microsecond {
		t.Errorf("FrameDelay(115200) = %v", got)
	}
}

func TestADU(t *testing.T) {
	adu := &ApplicationDataUnit{
		SlaveID: 0x01,
		Pdu:     modbus.ProtocolDataUnit{FunctionCode: 0x03, Data: []byte{0x00, 0x00, 0x00, 0x02}},
	}
	raw, err := adu.Encode()
	if err != nil {
		t.Fatal(err)
	}
	want := []byte{0x01, 0x03, 0x00, 0x00, 0x00, 0x02, 0xC4, 0x0B}
	if !bytes.Equal(raw, want) {
		t.Fatalf("Encode() = % X, want % X", raw, want)
	}

	got, err := Decode(raw)
	if err != nil {
		t.Fatal(err)
	}
	if got.SlaveID != 1 || got.Pdu.FunctionCode != 3 || !bytes.Equal(got.Pdu.Data, adu.Pdu.Data) {
		t.Errorf("Decode() = %+v", got)
	}

	raw[7] ^= 0xFF
	if _, err := Decode(raw); !errors.Is(err, ErrChecksum) {
		t.Errorf("Decode() with bad crc error = %v", err)
	}
	if _, err := Decode(raw[:3]); err == nil {
		t.Error("Decode() accepted a short frame")
	}

	big := &ApplicationDataUnit{Pdu: modbus.ProtocolDataUnit{FunctionCode: 0x10, Data: make([]byte, 253)}}
	if _, err := big.Encode(); !errors.Is(err, modbus.ErrFrameTooLarge) {
		t.Errorf("Encode() oversize error = %v", err)
	}
}
