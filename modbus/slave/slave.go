// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

// Package slave answers Modbus requests against a register map.
package slave

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/ffutop/modbus-tachometer/internal/registers"
	"github.com/ffutop/modbus-tachometer/modbus"
	"github.com/ffutop/modbus-tachometer/modbus/rtu"
	"github.com/ffutop/modbus-tachometer/modbus/tcp"
)

const (
	maxReadBits      = 2000
	maxReadRegisters = 125
	maxWriteBits     = modbus.MaxWriteCoils
	maxWriteRegs     = modbus.MaxWriteRegisters
)

// Slave validates frames addressed to one unit and answers them.
type Slave struct {
	unitID  byte
	framing modbus.Framing
	regs    *registers.Map
	w       io.Writer
}

// New creates a slave for unitID. Responses are written to w, which is
// expected to drive the transceiver direction line around each write.
func New(unitID byte, framing modbus.Framing, regs *registers.Map, w io.Writer) *Slave {
	return &Slave{
		unitID:  unitID,
		framing: framing,
		regs:    regs,
		w:       w,
	}
}

func (s *Slave) UnitID() byte { return s.unitID }

// SetUnitID changes the address the slave answers to. It must be called
// from the goroutine that calls HandleFrame.
func (s *Slave) SetUnitID(id byte) { s.unitID = id }

func (s *Slave) Framing() modbus.Framing { return s.framing }

// HandleFrame answers one received frame. Frames that are malformed or
// addressed to another unit are dropped and return nil. The only error
// returned is a failed response write.
func (s *Slave) HandleFrame(frame []byte) error {
	var raw []byte
	var err error

	switch s.framing {
	case modbus.FramingTCP:
		adu, derr := tcp.Decode(frame)
		if derr != nil {
			slog.Debug("Dropping tcp frame", "err", derr)
			return nil
		}
		if adu.SlaveID != s.unitID {
			return nil
		}
		resp := &tcp.ApplicationDataUnit{
			TransactionID: adu.TransactionID,
			SlaveID:       adu.SlaveID,
			Pdu:           s.Process(adu.Pdu),
		}
		raw, err = resp.Encode()
	default:
		if len(frame) < rtu.MinFrameSize || frame[0] != s.unitID {
			return nil
		}
		adu, derr := rtu.Decode(frame)
		if derr != nil {
			slog.Debug("Dropping rtu frame", "err", derr)
			return nil
		}
		resp := &rtu.ApplicationDataUnit{
			SlaveID: adu.SlaveID,
			Pdu:     s.Process(adu.Pdu),
		}
		raw, err = resp.Encode()
	}
	if err != nil {
		return fmt.Errorf("failed to encode response: %w", err)
	}

	if _, err := s.w.Write(raw); err != nil {
		return fmt.Errorf("failed to transmit response: %w", err)
	}
	return nil
}

// Process executes one request PDU against the register map and returns
// the response PDU, which may be an exception.
func (s *Slave) Process(req modbus.ProtocolDataUnit) modbus.ProtocolDataUnit {
	switch req.FunctionCode {
	case modbus.FuncCodeReadCoils:
		return s.handleReadBits(req, registers.Coils, s.regs.ReadCoils)
	case modbus.FuncCodeReadDiscreteInputs:
		return s.handleReadBits(req, registers.DiscreteInputs, s.regs.ReadDiscreteInputs)
	case modbus.FuncCodeReadHoldingRegisters:
		return s.handleReadRegisters(req, registers.HoldingRegisters, s.regs.ReadHoldingRegisters)
	case modbus.FuncCodeReadInputRegisters:
		return s.handleReadRegisters(req, registers.InputRegisters, s.regs.ReadInputRegisters)
	case modbus.FuncCodeWriteSingleCoil:
		return s.handleWriteSingleCoil(req)
	case modbus.FuncCodeWriteSingleRegister:
		return s.handleWriteSingleRegister(req)
	case modbus.FuncCodeWriteMultipleCoils:
		return s.handleWriteMultipleCoils(req)
	case modbus.FuncCodeWriteMultipleRegisters:
		return s.handleWriteMultipleRegisters(req)
	default:
		return modbus.Exception(req.FunctionCode, modbus.ExceptionCodeIllegalFunction)
	}
}

type readFunc func(address, quantity uint16) ([]byte, error)

// inRange reports whether address+quantity fits table. It runs before the
// protocol maximums are checked.
func (s *Slave) inRange(table registers.Table, address, quantity uint16) bool {
	return quantity > 0 && int(address)+int(quantity) <= s.regs.Len(table)
}

func (s *Slave) handleReadBits(req modbus.ProtocolDataUnit, table registers.Table, read readFunc) modbus.ProtocolDataUnit {
	if len(req.Data) != 4 {
		return modbus.Exception(req.FunctionCode, modbus.ExceptionCodeIllegalDataValue)
	}
	address := binary.BigEndian.Uint16(req.Data[0:2])
	quantity := binary.BigEndian.Uint16(req.Data[2:4])
	if !s.inRange(table, address, quantity) {
		return modbus.Exception(req.FunctionCode, modbus.ExceptionCodeIllegalDataAddress)
	}
	if quantity > maxReadBits {
		return modbus.Exception(req.FunctionCode, modbus.ExceptionCodeIllegalDataValue)
	}
	return s.respondRead(req, read, address, quantity)
}

func (s *Slave) handleReadRegisters(req modbus.ProtocolDataUnit, table registers.Table, read readFunc) modbus.ProtocolDataUnit {
	if len(req.Data) != 4 {
		return modbus.Exception(req.FunctionCode, modbus.ExceptionCodeIllegalDataValue)
	}
	address := binary.BigEndian.Uint16(req.Data[0:2])
	quantity := binary.BigEndian.Uint16(req.Data[2:4])
	if !s.inRange(table, address, quantity) {
		return modbus.Exception(req.FunctionCode, modbus.ExceptionCodeIllegalDataAddress)
	}
	if quantity > maxReadRegisters {
		return modbus.Exception(req.FunctionCode, modbus.ExceptionCodeIllegalDataValue)
	}
	return s.respondRead(req, read, address, quantity)
}

func (s *Slave) respondRead(req modbus.ProtocolDataUnit, read readFunc, address, quantity uint16) modbus.ProtocolDataUnit {
	data, err := read(address, quantity)
	if err != nil {
		return exceptionFor(req.FunctionCode, err)
	}
	respData := make([]byte, 1+len(data))
	respData[0] = byte(len(data))
	copy(respData[1:], data)
	return modbus.ProtocolDataUnit{FunctionCode: req.FunctionCode, Data: respData}
}

func (s *Slave) handleWriteSingleCoil(req modbus.ProtocolDataUnit) modbus.ProtocolDataUnit {
	if len(req.Data) != 4 {
		return modbus.Exception(req.FunctionCode, modbus.ExceptionCodeIllegalDataValue)
	}
	address := binary.BigEndian.Uint16(req.Data[0:2])
	value := binary.BigEndian.Uint16(req.Data[2:4])
	if value != modbus.CoilOn && value != 0x0000 {
		return modbus.Exception(req.FunctionCode, modbus.ExceptionCodeIllegalDataValue)
	}
	if err := s.regs.WriteSingleCoil(address, value); err != nil {
		return exceptionFor(req.FunctionCode, err)
	}
	return echo(req)
}

func (s *Slave) handleWriteSingleRegister(req modbus.ProtocolDataUnit) modbus.ProtocolDataUnit {
	if len(req.Data) != 4 {
		return modbus.Exception(req.FunctionCode, modbus.ExceptionCodeIllegalDataValue)
	}
	address := binary.BigEndian.Uint16(req.Data[0:2])
	value := binary.BigEndian.Uint16(req.Data[2:4])
	if err := s.regs.WriteSingleRegister(address, value); err != nil {
		return exceptionFor(req.FunctionCode, err)
	}
	return echo(req)
}

func (s *Slave) handleWriteMultipleCoils(req modbus.ProtocolDataUnit) modbus.ProtocolDataUnit {
	if len(req.Data) < 5 {
		return modbus.Exception(req.FunctionCode, modbus.ExceptionCodeIllegalDataValue)
	}
	address := binary.BigEndian.Uint16(req.Data[0:2])
	quantity := binary.BigEndian.Uint16(req.Data[2:4])
	byteCount := int(req.Data[4])
	if !s.inRange(registers.Coils, address, quantity) {
		return modbus.Exception(req.FunctionCode, modbus.ExceptionCodeIllegalDataAddress)
	}
	if quantity > maxWriteBits || byteCount != (int(quantity)+7)/8 || len(req.Data) != 5+byteCount {
		return modbus.Exception(req.FunctionCode, modbus.ExceptionCodeIllegalDataValue)
	}
	if err := s.regs.WriteMultipleCoils(address, quantity, req.Data[5:]); err != nil {
		return exceptionFor(req.FunctionCode, err)
	}
	return echo(req)
}

func (s *Slave) handleWriteMultipleRegisters(req modbus.ProtocolDataUnit) modbus.ProtocolDataUnit {
	if len(req.Data) < 5 {
		return modbus.Exception(req.FunctionCode, modbus.ExceptionCodeIllegalDataValue)
	}
	address := binary.BigEndian.Uint16(req.Data[0:2])
	quantity := binary.BigEndian.Uint16(req.Data[2:4])
	byteCount := int(req.Data[4])
	if !s.inRange(registers.HoldingRegisters, address, quantity) {
		return modbus.Exception(req.FunctionCode, modbus.ExceptionCodeIllegalDataAddress)
	}
	if quantity > maxWriteRegs || byteCount != 2*int(quantity) || len(req.Data) != 5+byteCount {
		return modbus.Exception(req.FunctionCode, modbus.ExceptionCodeIllegalDataValue)
	}
	if err := s.regs.WriteMultipleRegisters(address, quantity, req.Data[5:]); err != nil {
		return exceptionFor(req.FunctionCode, err)
	}
	return echo(req)
}

// echo answers a write with its address and value or quantity.
func echo(req modbus.ProtocolDataUnit) modbus.ProtocolDataUnit {
	data := make([]byte, 4)
	copy(data, req.Data[:4])
	return modbus.ProtocolDataUnit{FunctionCode: req.FunctionCode, Data: data}
}

func exceptionFor(fc byte, err error) modbus.ProtocolDataUnit {
	if errors.Is(err, registers.ErrOutOfRange) {
		return modbus.Exception(fc, modbus.ExceptionCodeIllegalDataAddress)
	}
	return modbus.Exception(fc, modbus.ExceptionCodeIllegalDataValue)
}
