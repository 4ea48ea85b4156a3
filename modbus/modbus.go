// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

// Package modbus holds the framing-independent pieces of the protocol:
// function and exception codes, PDUs, requests and parsed responses.
package modbus

import (
	"errors"
	"fmt"
	"strings"
)

// Function Codes
const (
	FuncCodeReadCoils              = 0x01
	FuncCodeReadDiscreteInputs     = 0x02
	FuncCodeReadHoldingRegisters   = 0x03
	FuncCodeReadInputRegisters     = 0x04
	FuncCodeWriteSingleCoil        = 0x05
	FuncCodeWriteSingleRegister    = 0x06
	FuncCodeWriteMultipleCoils     = 0x0F
	FuncCodeWriteMultipleRegisters = 0x10
)

// Exception Codes
const (
	ExceptionCodeIllegalFunction    = 0x01
	ExceptionCodeIllegalDataAddress = 0x02
	ExceptionCodeIllegalDataValue   = 0x03
)

// ExceptionBit marks a response function code as an exception.
const ExceptionBit = 0x80

// CoilOn is the wire value of an energised coil in a write single coil request.
const CoilOn = 0xFF00

var (
	ErrUnsupportedFunction = errors.New("modbus: unsupported function code")
	ErrWrongRole           = errors.New("modbus: operation not available in this role")
	ErrFrameTooLarge       = errors.New("modbus: frame too large")
)

// ProtocolDataUnit (PDU) is independent of underlying communication layers.
type ProtocolDataUnit struct {
	FunctionCode byte
	Data         []byte
}

// Framing selects the application data unit envelope.
type Framing int

const (
	FramingRTU Framing = iota
	FramingTCP
)

func (f Framing) String() string {
	switch f {
	case FramingRTU:
		return "rtu"
	case FramingTCP:
		return "tcp"
	}
	return fmt.Sprintf("framing(%d)", int(f))
}

// ParseFraming accepts "rtu" or "tcp" in any case.
func ParseFraming(s string) (Framing, error) {
	switch strings.ToLower(s) {
	case "rtu", "":
		return FramingRTU, nil
	case "tcp":
		return FramingTCP, nil
	}
	return 0, fmt.Errorf("modbus: unknown framing %q", s)
}

// Role selects whether the engine issues requests or answers them.
type Role int

const (
	RoleSlave Role = iota
	RoleMaster
)

func (r Role) String() string {
	if r == RoleMaster {
		return "master"
	}
	return "slave"
}

// ParseRole accepts "master" or "slave" in any case.
func ParseRole(s string) (Role, error) {
	switch strings.ToLower(s) {
	case "slave", "":
		return RoleSlave, nil
	case "master":
		return RoleMaster, nil
	}
	return 0, fmt.Errorf("modbus: unknown role %q", s)
}

// Request is a single master request.
//
// Values carries the write payload: the raw register value for 0x05 and
// 0x06, one entry per coil (non-zero is ON) for 0x0F and one entry per
// register for 0x10. TransactionID is only used by TCP framing; zero asks
// the master to allocate one.
type Request struct {
	UnitID        byte
	TransactionID uint16
	FunctionCode  byte
	Address       uint16
	Quantity      uint16
	Values        []uint16
}

// Response is one of *ExceptionResponse, *ReadRegistersResponse,
// *ReadBitsResponse or *WriteAckResponse.
type Response interface {
	Header() ResponseHeader
	response()
}

// ResponseHeader is shared by every parsed response.
type ResponseHeader struct {
	TransactionID uint16
	UnitID        byte
	FunctionCode  byte
}

func (h ResponseHeader) Header() ResponseHeader { return h }

type ExceptionResponse struct {
	ResponseHeader
	ExceptionCode byte
}

func (*ExceptionResponse) response() {}

func (e *ExceptionResponse) Error() string {
	return fmt.Sprintf("modbus: exception '%v' for function '%v'", e.ExceptionCode, e.FunctionCode)
}

// Protocol limits on the quantity of one write request.
const (
	MaxWriteCoils     = 1968
	MaxWriteRegisters = 123
)

// MaxParsedRegisters bounds a parsed read response.
const MaxParsedRegisters = 64

type ReadRegistersResponse struct {
	ResponseHeader
	Quantity  uint16
	Registers []uint16
}

func (*ReadRegistersResponse) response() {}

type ReadBitsResponse struct {
	ResponseHeader
	// Bits holds every bit of the payload; the request quantity decides how many are meaningful.
	Bits []bool
}

func (*ReadBitsResponse) response() {}

type WriteAckResponse struct {
	ResponseHeader
	Address uint16
	Value   uint16
}

func (*WriteAckResponse) response() {}
