// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package bridge

import (
	"github.com/ffutop/modbus-tachometer/internal/proximity"
	"github.com/ffutop/modbus-tachometer/internal/registers"
)

// Input registers. 32-bit values are stored high word first.
const (
	InputRPM          = 0 // 2 words
	InputLinearSpeed  = 2 // 2 words, m/min x100
	InputFrequency    = 4 // Hz x100
	InputStatus       = 5
	InputDisplaySpeed = 6 // 2 words, configured unit x100

	inputCount = 8
)

// Status bits in InputStatus.
const (
	StatusSignal      = 1 << 0
	StatusUnsaved     = 1 << 1
	StatusMasterFault = 1 << 2
)

// Holding registers.
const (
	HoldingPPR        = 0 // 2 words
	HoldingDiameter   = 2 // mm
	HoldingTimeout    = 3 // s
	HoldingAveraging  = 4
	HoldingSpeedUnit  = 5
	HoldingSave       = 6 // write 1 to persist
	HoldingUnitID     = 7
	HoldingHysteresis = 8 // threshold, band pairs

	holdingCount = HoldingHysteresis + 2*proximity.MaxHysteresisEntries
)

// Coils.
const (
	CoilModbusEnabled     = 0 // applied at the next start
	CoilClearHysteresis   = 1
	CoilDefaultHysteresis = 2

	coilCount = 3
)

// DiscreteSignal mirrors StatusSignal.
const DiscreteSignal = 0

// Sizes is the register map size used by the bridge.
var Sizes = registers.Sizes{
	Coils:            coilCount,
	DiscreteInputs:   1,
	HoldingRegisters: holdingCount,
	InputRegisters:   inputCount,
}

func words(v uint32) (uint16, uint16) {
	return uint16(v >> 16), uint16(v)
}

func join(hi, lo uint16) uint32 {
	return uint32(hi)<<16 | uint32(lo)
}

// scaled returns v*100 clamped to the uint32 range.
func scaled(v float32) uint32 {
	x := float64(v) * 100
	switch {
	case x <= 0:
		return 0
	case x >= 0xFFFFFFFF:
		return 0xFFFFFFFF
	}
	return uint32(x + 0.5)
}

func touches(address, quantity, lo, hi uint16) bool {
	end := uint32(address) + uint32(quantity)
	return uint32(address) <= uint32(hi) && end > uint32(lo)
}
