// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package modbus

import (
	"encoding/binary"
)

// EncodePDU builds the PDU bytes for req. An empty result means the
// function code is unsupported, the write payload is incomplete or the
// write quantity does not fit one PDU.
func EncodePDU(req Request) []byte {
	pdu := make([]byte, 5, 6+2*int(req.Quantity))
	pdu[0] = req.FunctionCode
	binary.BigEndian.PutUint16(pdu[1:], req.Address)

	switch req.FunctionCode {
	case FuncCodeReadCoils,
		FuncCodeReadDiscreteInputs,
		FuncCodeReadHoldingRegisters,
		FuncCodeReadInputRegisters:
		binary.BigEndian.PutUint16(pdu[3:], req.Quantity)
	case FuncCodeWriteSingleCoil,
		FuncCodeWriteSingleRegister:
		if len(req.Values) < 1 {
			return nil
		}
		binary.BigEndian.PutUint16(pdu[3:], req.Values[0])
	case FuncCodeWriteMultipleCoils:
		if req.Quantity > MaxWriteCoils || len(req.Values) < int(req.Quantity) {
			return nil
		}
		binary.BigEndian.PutUint16(pdu[3:], req.Quantity)
		bits := make([]bool, req.Quantity)
		for i := range bits {
			bits[i] = req.Values[i] != 0
		}
		packed := PackBits(bits)
		pdu = append(pdu, byte(len(packed)))
		pdu = append(pdu, packed...)
	case FuncCodeWriteMultipleRegisters:
		if req.Quantity > MaxWriteRegisters || len(req.Values) < int(req.Quantity) {
			return nil
		}
		binary.BigEndian.PutUint16(pdu[3:], req.Quantity)
		pdu = append(pdu, byte(2*req.Quantity))
		for _, v := range req.Values[:req.Quantity] {
			pdu = binary.BigEndian.AppendUint16(pdu, v)
		}
	default:
		return nil
	}
	return pdu
}

// DecodeResponse interprets a response PDU. It reports false for
// truncated payloads, oversized register counts and function codes it
// does not know.
func DecodeResponse(hdr ResponseHeader, pdu []byte) (Response, bool) {
	if len(pdu) == 0 {
		return nil, false
	}
	fc := pdu[0]
	if fc&ExceptionBit != 0 {
		if len(pdu) < 2 {
			return nil, false
		}
		hdr.FunctionCode = fc &^ ExceptionBit
		return &ExceptionResponse{ResponseHeader: hdr, ExceptionCode: pdu[1]}, true
	}
	hdr.FunctionCode = fc

	switch fc {
	case FuncCodeReadHoldingRegisters, FuncCodeReadInputRegisters:
		if len(pdu) < 2 {
			return nil, false
		}
		byteCount := int(pdu[1])
		if byteCount > MaxParsedRegisters*2 || len(pdu) < 2+byteCount {
			return nil, false
		}
		resp := &ReadRegistersResponse{ResponseHeader: hdr, Quantity: uint16(byteCount / 2)}
		resp.Registers = make([]uint16, resp.Quantity)
		for i := range resp.Registers {
			resp.Registers[i] = binary.BigEndian.Uint16(pdu[2+2*i:])
		}
		return resp, true
	case FuncCodeReadCoils, FuncCodeReadDiscreteInputs:
		if len(pdu) < 2 {
			return nil, false
		}
		byteCount := int(pdu[1])
		if len(pdu) < 2+byteCount {
			return nil, false
		}
		return &ReadBitsResponse{ResponseHeader: hdr, Bits: UnpackBits(pdu[2:2+byteCount], byteCount*8)}, true
	case FuncCodeWriteSingleCoil,
		FuncCodeWriteSingleRegister,
		FuncCodeWriteMultipleCoils,
		FuncCodeWriteMultipleRegisters:
		if len(pdu) < 5 {
			return nil, false
		}
		return &WriteAckResponse{
			ResponseHeader: hdr,
			Address:        binary.BigEndian.Uint16(pdu[1:]),
			Value:          binary.BigEndian.Uint16(pdu[3:]),
		}, true
	}
	return nil, false
}

// PackBits packs bits LSB first, eight to a byte.
func PackBits(bits []bool) []byte {
	out := make([]byte, (len(bits)+7)/8)
	for i, b := range bits {
		if b {
			out[i/8] |= 1 << (uint(i) % 8)
		}
	}
	return out
}

// UnpackBits returns the first n bits of data, LSB first.
func UnpackBits(data []byte, n int) []bool {
	if n > len(data)*8 {
		n = len(data) * 8
	}
	out := make([]bool, n)
	for i := range out {
		out[i] = data[i/8]&(1<<(uint(i)%8)) != 0
	}
	return out
}

// Exception builds an exception PDU for fc.
func Exception(fc, code byte) ProtocolDataUnit {
	return ProtocolDataUnit{
		FunctionCode: fc | ExceptionBit,
		Data:         []byte{code},
	}
}
