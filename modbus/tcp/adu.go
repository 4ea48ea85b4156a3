// Copyright (c) 2025 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package tcp

import (
	"encoding/binary"
	"fmt"

	"github.com/ffutop/modbus-tachometer/modbus"
)

const (
	HeaderSize = 7
	MinSize    = 8
	MaxSize    = 260
)

// ApplicationDataUnit is an MBAP framed PDU.
type ApplicationDataUnit struct {
	TransactionID uint16
	ProtocolID    uint16
	Length        uint16
	SlaveID       byte
	Pdu           modbus.ProtocolDataUnit
}

// Decode checks the minimum size, the protocol identifier and that raw
// holds at least as many bytes as the length field declares. Extra
// trailing bytes are ignored.
func Decode(raw []byte) (*ApplicationDataUnit, error) {
	if len(raw) < MinSize {
		return nil, fmt.Errorf("modbus: frame length '%v' does not meet minimum '%v'", len(raw), MinSize)
	}
	adu := &ApplicationDataUnit{
		TransactionID: binary.BigEndian.Uint16(raw[0:]),
		ProtocolID:    binary.BigEndian.Uint16(raw[2:]),
		Length:        binary.BigEndian.Uint16(raw[4:]),
		SlaveID:       raw[6],
	}
	if adu.ProtocolID != 0 {
		return nil, fmt.Errorf("modbus: protocol id '%v' is not modbus", adu.ProtocolID)
	}
	if adu.Length < 2 || len(raw) < 6+int(adu.Length) {
		return nil, fmt.Errorf("modbus: declared length '%v' exceeds received '%v'", adu.Length, len(raw)-6)
	}
	adu.Pdu.FunctionCode = raw[7]
	adu.Pdu.Data = raw[8 : 6+int(adu.Length)]
	return adu, nil
}

// Encode fills in the length field from the PDU and returns the wire bytes.
func (adu *ApplicationDataUnit) Encode() ([]byte, error) {
	length := len(adu.Pdu.Data) + MinSize
	if length > MaxSize {
		return nil, fmt.Errorf("%w: tcp length '%v' exceeds '%v'", modbus.ErrFrameTooLarge, length, MaxSize)
	}
	adu.Length = uint16(2 + len(adu.Pdu.Data))

	raw := make([]byte, length)
	binary.BigEndian.PutUint16(raw[0:], adu.TransactionID)
	binary.BigEndian.PutUint16(raw[2:], adu.ProtocolID)
	binary.BigEndian.PutUint16(raw[4:], adu.Length)
	raw[6] = adu.SlaveID
	raw[7] = adu.Pdu.FunctionCode
	copy(raw[8:], adu.Pdu.Data)
	return raw, nil
}

// FrameLength returns the total ADU length announced by an MBAP header.
func FrameLength(header []byte) (int, error) {
	if len(header) < 6 {
		return 0, fmt.Errorf("need 6 bytes to determine length, got %d", len(header))
	}
	length := int(binary.BigEndian.Uint16(header[4:]))
	if length < 2 || 6+length > MaxSize {
		return 0, fmt.Errorf("modbus: invalid mbap length '%v'", length)
	}
	return 6 + length, nil
}
