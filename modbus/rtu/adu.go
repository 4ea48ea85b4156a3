// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package rtu

import (
	"errors"
	"fmt"

	"github.com/ffutop/modbus-tachometer/modbus"
	"github.com/ffutop/modbus-tachometer/modbus/crc"
)

var ErrChecksum = errors.New("modbus: rtu crc mismatch")

// ApplicationDataUnit is an RTU frame:
//
//	Slave Address   : 1 byte
//	Function        : 1 byte
//	Data            : 0 up to 252 bytes
//	CRC             : 2 bytes, low byte first
type ApplicationDataUnit struct {
	SlaveID byte
	Pdu     modbus.ProtocolDataUnit
}

// Decode validates length and checksum of raw. The returned PDU data
// aliases raw.
func Decode(raw []byte) (*ApplicationDataUnit, error) {
	length := len(raw)
	if length < MinFrameSize {
		return nil, fmt.Errorf("modbus: frame length '%v' does not meet minimum '%v'", length, MinFrameSize)
	}
	if !crc.Valid(raw) {
		return nil, ErrChecksum
	}
	return &ApplicationDataUnit{
		SlaveID: raw[0],
		Pdu: modbus.ProtocolDataUnit{
			FunctionCode: raw[1],
			Data:         raw[2 : length-2],
		},
	}, nil
}

// Encode returns the wire bytes including the trailing checksum.
func (adu *ApplicationDataUnit) Encode() ([]byte, error) {
	length := len(adu.Pdu.Data) + 4
	if length > MaxSize {
		return nil, fmt.Errorf("%w: rtu length '%v' exceeds '%v'", modbus.ErrFrameTooLarge, length, MaxSize)
	}
	raw := make([]byte, 0, length)
	raw = append(raw, adu.SlaveID, adu.Pdu.FunctionCode)
	raw = append(raw, adu.Pdu.Data...)
	return crc.Append(raw), nil
}
