// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package rtu

import (
	"fmt"
	"time"

	"github.com/ffutop/modbus-tachometer/modbus"
)

// CalculateRequestLength returns the expected total length of the Request RTU ADU based on the header.
func CalculateRequestLength(funcCode byte, header []byte) (int, error) {
	// [SlaveID, Func, Addr(2), Quant(2), ByteCount]
	switch funcCode {
	case modbus.FuncCodeReadCoils,
		modbus.FuncCodeReadDiscreteInputs,
		modbus.FuncCodeReadHoldingRegisters,
		modbus.FuncCodeReadInputRegisters,
		modbus.FuncCodeWriteSingleCoil,
		modbus.FuncCodeWriteSingleRegister:
		// Fixed 8 bytes: [SlaveID, Func, Addr(2), Val(2), CRC(2)]
		return 8, nil
	case modbus.FuncCodeWriteMultipleCoils,
		modbus.FuncCodeWriteMultipleRegisters:
		if len(header) < headerSize {
			return 0, fmt.Errorf("need %d bytes to determine length for 0x%02X, got %d", headerSize, funcCode, len(header))
		}
		return headerSize + int(header[6]) + 2, nil
	default:
		return 0, fmt.Errorf("unsupported function code: 0x%02X", funcCode)
	}
}

// CalculateResponseLength returns the expected total length of a response
// RTU ADU from its first three bytes.
func CalculateResponseLength(header []byte) (int, error) {
	if len(header) < 2 {
		return 0, fmt.Errorf("need 2 bytes to determine response length, got %d", len(header))
	}
	funcCode := header[1]
	if funcCode&modbus.ExceptionBit != 0 {
		return ExceptionSize, nil
	}
	switch funcCode {
	case modbus.FuncCodeReadCoils,
		modbus.FuncCodeReadDiscreteInputs,
		modbus.FuncCodeReadHoldingRegisters,
		modbus.FuncCodeReadInputRegisters:
		if len(header) < 3 {
			return 0, fmt.Errorf("need 3 bytes to determine length for 0x%02X, got %d", funcCode, len(header))
		}
		return 3 + int(header[2]) + 2, nil
	case modbus.FuncCodeWriteSingleCoil,
		modbus.FuncCodeWriteSingleRegister,
		modbus.FuncCodeWriteMultipleCoils,
		modbus.FuncCodeWriteMultipleRegisters:
		return 8, nil
	default:
		return 0, fmt.Errorf("unsupported function code: 0x%02X", funcCode)
	}
}

// FrameDelay returns the t3.5 inter-frame silence for baudRate. Above
// 19200 baud the fixed 1750us applies.
func FrameDelay(baudRate int) time.Duration {
	if baudRate <= 0 || baudRate > 19200 {
		return 1750 * time.Microsecond
	}
	return time.Duration(35000000/baudRate) * time.Microsecond
}

// CharacterDelay returns the t1.5 inter-character timeout for baudRate.
func CharacterDelay(baudRate int) time.Duration {
	if baudRate <= 0 || baudRate > 19200 {
		return 750 * time.Microsecond
	}
	return time.Duration(15000000/baudRate) * time.Microsecond
}
