// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package tcp

import (
	"bytes"
	"testing"

	"github.com/ffutop/modbus-tachometer/modbus"
)

func TestEncodeDecode(t *testing.T) {
	adu := &ApplicationDataUnit{
		TransactionID: 0x0102,
		SlaveID:       0x11,
		Pdu:           modbus.ProtocolDataUnit{FunctionCode: 0x06, Data: []byte{0x00, 0x01, 0x00, 0xFA}},
	}
	raw, err := adu.Encode()
	if err != nil {
		t.Fatal(err)
	}
	want := []byte{0x01, 0x02, 0x00, 0x00, 0x00, 0x06, 0x11, 0x06, 0x00, 0x01, 0x00, 0xFA}
	if !bytes.Equal(raw, want) {
		t.Fatalf("Encode() = % X, want % X", raw, want)
	}

	got, err := Decode(append(raw, 0xEE))
	if err != nil {
		t.Fatal(err)
	}
	if got.TransactionID != 0x0102 || got.SlaveID != 0x11 || got.Length != 6 {
		t.Errorf("Decode() header = %+v", got)
	}
	if !bytes.Equal(got.Pdu.Data, adu.Pdu.Data) {
		t.Errorf("Decode() data = % X, trailing byte not trimmed", got.Pdu.Data)
	}
}

func TestDecodeRejects(t *testing.T) {
	tests := map[string][]byte{
		"Short":         {0x00, 0x01, 0x00, 0x00, 0x00, 0x02, 0x01},
		"ProtocolID":    {0x00, 0x01, 0x00, 0x01, 0x00, 0x02, 0x01, 0x03},
		"LengthTooLong": {0x00, 0x01, 0x00, 0x00, 0x00, 0x06, 0x01, 0x03, 0x00},
	}
	for name, raw := range tests {
		t.Run(name, func(t *testing.T) {
			if _, err := Decode(raw); err == nil {
				t.Errorf("Decode(% X) succeeded", raw)
			}
		})
	}
}

func TestFrameLength(t *testing.T) {
	n, err := FrameLength([]byte{0x00, 0x01, 0x00, 0x00, 0x00, 0x06})
	if err != nil || n != 12 {
		t.Errorf("FrameLength() = %v, %v", n, err)
	}
	if _, err := FrameLength([]byte{0x00, 0x01, 0x00, 0x00, 0x01, 0x00}); err == nil {
		t.Error("FrameLength() accepted 256 byte length")
	}
}
