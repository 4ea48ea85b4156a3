// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

// Package registers holds the fixed-size Modbus data tables exposed by
// the slave engine.
package registers

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sync"
)

// ErrOutOfRange is returned when address+quantity falls outside a table
// or the quantity is zero.
var ErrOutOfRange = errors.New("registers: address range out of bounds")

// Table identifies one of the four Modbus data tables.
type Table int

const (
	Coils Table = iota
	DiscreteInputs
	HoldingRegisters
	InputRegisters
)

func (t Table) String() string {
	switch t {
	case Coils:
		return "coils"
	case DiscreteInputs:
		return "discrete_inputs"
	case HoldingRegisters:
		return "holding_registers"
	case InputRegisters:
		return "input_registers"
	}
	return fmt.Sprintf("table(%d)", int(t))
}

// Observer is notified around master access. OnRead runs before the
// values are copied out so it may refresh them; OnWrite runs after the
// values are stored. Both run without the map lock held.
type Observer interface {
	OnRead(table Table, address, quantity uint16)
	OnWrite(table Table, address, quantity uint16)
}

// ObserverFuncs adapts optional functions to Observer.
type ObserverFuncs struct {
	Read  func(table Table, address, quantity uint16)
	Write func(table Table, address, quantity uint16)
}

func (f ObserverFuncs) OnRead(table Table, address, quantity uint16) {
	if f.Read != nil {
		f.Read(table, address, quantity)
	}
}

func (f ObserverFuncs) OnWrite(table Table, address, quantity uint16) {
	if f.Write != nil {
		f.Write(table, address, quantity)
	}
}

// Sizes sets the length of every table.
type Sizes struct {
	Coils            int
	DiscreteInputs   int
	HoldingRegisters int
	InputRegisters   int
}

// Map is the application owned register map.
type Map struct {
	mu sync.RWMutex

	coils            []bool
	discreteInputs   []bool
	holdingRegisters []uint16
	inputRegisters   []uint16

	observer Observer
}

// New allocates zeroed tables of the given sizes.
func New(sizes Sizes) *Map {
	return &Map{
		coils:            make([]bool, sizes.Coils),
		discreteInputs:   make([]bool, sizes.DiscreteInputs),
		holdingRegisters: make([]uint16, sizes.HoldingRegisters),
		inputRegisters:   make([]uint16, sizes.InputRegisters),
	}
}

// SetObserver installs o. A nil o disables notifications.
func (m *Map) SetObserver(o Observer) {
	m.mu.Lock()
	m.observer = o
	m.mu.Unlock()
}

// Len returns the number of entries in table.
func (m *Map) Len(table Table) int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	switch table {
	case Coils:
		return len(m.coils)
	case DiscreteInputs:
		return len(m.discreteInputs)
	case HoldingRegisters:
		return len(m.holdingRegisters)
	case InputRegisters:
		return len(m.inputRegisters)
	}
	return 0
}

func (m *Map) notifyRead(table Table, address, quantity uint16) {
	m.mu.RLock()
	o := m.observer
	m.mu.RUnlock()
	if o != nil {
		o.OnRead(table, address, quantity)
	}
}

func (m *Map) notifyWrite(table Table, address, quantity uint16) {
	m.mu.RLock()
	o := m.observer
	m.mu.RUnlock()
	if o != nil {
		o.OnWrite(table, address, quantity)
	}
}

// ReadCoils returns quantity coils from address packed LSB first.
func (m *Map) ReadCoils(address, quantity uint16) ([]byte, error) {
	if err := m.check(Coils, address, quantity); err != nil {
		return nil, err
	}
	m.notifyRead(Coils, address, quantity)

	m.mu.RLock()
	defer m.mu.RUnlock()
	return packBits(m.coils[address : int(address)+int(quantity)]), nil
}

// ReadDiscreteInputs returns quantity inputs from address packed LSB first.
func (m *Map) ReadDiscreteInputs(address, quantity uint16) ([]byte, error) {
	if err := m.check(DiscreteInputs, address, quantity); err != nil {
		return nil, err
	}
	m.notifyRead(DiscreteInputs, address, quantity)

	m.mu.RLock()
	defer m.mu.RUnlock()
	return packBits(m.discreteInputs[address : int(address)+int(quantity)]), nil
}

// ReadHoldingRegisters returns quantity registers from address as big endian bytes.
func (m *Map) ReadHoldingRegisters(address, quantity uint16) ([]byte, error) {
	if err := m.check(HoldingRegisters, address, quantity); err != nil {
		return nil, err
	}
	m.notifyRead(HoldingRegisters, address, quantity)

	m.mu.RLock()
	defer m.mu.RUnlock()
	return packWords(m.holdingRegisters[address : int(address)+int(quantity)]), nil
}

// ReadInputRegisters returns quantity registers from address as big endian bytes.
func (m *Map) ReadInputRegisters(address, quantity uint16) ([]byte, error) {
	if err := m.check(InputRegisters, address, quantity); err != nil {
		return nil, err
	}
	m.notifyRead(InputRegisters, address, quantity)

	m.mu.RLock()
	defer m.mu.RUnlock()
	return packWords(m.inputRegisters[address : int(address)+int(quantity)]), nil
}

// WriteSingleCoil sets a coil; any non-zero value switches it on.
func (m *Map) WriteSingleCoil(address uint16, value uint16) error {
	if err := m.check(Coils, address, 1); err != nil {
		return err
	}
	m.mu.Lock()
	m.coils[address] = value != 0
	m.mu.Unlock()

	m.notifyWrite(Coils, address, 1)
	return nil
}

// WriteMultipleCoils stores quantity coils unpacked from data.
func (m *Map) WriteMultipleCoils(address, quantity uint16, data []byte) error {
	if err := m.check(Coils, address, quantity); err != nil {
		return err
	}
	if len(data) < (int(quantity)+7)/8 {
		return fmt.Errorf("registers: insufficient data length")
	}
	m.mu.Lock()
	for i := 0; i < int(quantity); i++ {
		m.coils[int(address)+i] = data[i/8]&(1<<(uint(i)%8)) != 0
	}
	m.mu.Unlock()

	m.notifyWrite(Coils, address, quantity)
	return nil
}

// WriteSingleRegister stores one holding register.
func (m *Map) WriteSingleRegister(address uint16, value uint16) error {
	if err := m.check(HoldingRegisters, address, 1); err != nil {
		return err
	}
	m.mu.Lock()
	m.holdingRegisters[address] = value
	m.mu.Unlock()

	m.notifyWrite(HoldingRegisters, address, 1)
	return nil
}

// WriteMultipleRegisters stores quantity big endian registers from data.
func (m *Map) WriteMultipleRegisters(address, quantity uint16, data []byte) error {
	if err := m.check(HoldingRegisters, address, quantity); err != nil {
		return err
	}
	if len(data) < int(quantity)*2 {
		return fmt.Errorf("registers: insufficient data length")
	}
	m.mu.Lock()
	for i := 0; i < int(quantity); i++ {
		m.holdingRegisters[int(address)+i] = binary.BigEndian.Uint16(data[i*2:])
	}
	m.mu.Unlock()

	m.notifyWrite(HoldingRegisters, address, quantity)
	return nil
}

// Coil returns a coil for the application side.
func (m *Map) Coil(address uint16) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if int(address) >= len(m.coils) {
		return false
	}
	return m.coils[address]
}

// SetCoil changes a coil without notifying the observer.
func (m *Map) SetCoil(address uint16, v bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if int(address) < len(m.coils) {
		m.coils[address] = v
	}
}

// SetDiscreteInput changes a discrete input.
func (m *Map) SetDiscreteInput(address uint16, v bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if int(address) < len(m.discreteInputs) {
		m.discreteInputs[address] = v
	}
}

// Holding copies quantity holding registers starting at address.
func (m *Map) Holding(address, quantity uint16) []uint16 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	end := int(address) + int(quantity)
	if end > len(m.holdingRegisters) {
		return nil
	}
	return append([]uint16(nil), m.holdingRegisters[address:end]...)
}

// SetHolding stores values from address without notifying the observer.
// Values past the end of the table are dropped.
func (m *Map) SetHolding(address uint16, values ...uint16) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, v := range values {
		if int(address)+i >= len(m.holdingRegisters) {
			return
		}
		m.holdingRegisters[int(address)+i] = v
	}
}

// SetInput stores values from address. Values past the end of the table are dropped.
func (m *Map) SetInput(address uint16, values ...uint16) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, v := range values {
		if int(address)+i >= len(m.inputRegisters) {
			return
		}
		m.inputRegisters[int(address)+i] = v
	}
}

// Input copies quantity input registers starting at address.
func (m *Map) Input(address, quantity uint16) []uint16 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	end := int(address) + int(quantity)
	if end > len(m.inputRegisters) {
		return nil
	}
	return append([]uint16(nil), m.inputRegisters[address:end]...)
}

func (m *Map) check(table Table, address, quantity uint16) error {
	if quantity == 0 || int(address)+int(quantity) > m.Len(table) {
		return fmt.Errorf("%w: %v %d+%d", ErrOutOfRange, table, address, quantity)
	}
	return nil
}

func packBits(bits []bool) []byte {
	out := make([]byte, (len(bits)+7)/8)
	for i, b := range bits {
		if b {
			out[i/8] |= 1 << (uint(i) % 8)
		}
	}
	return out
}

func packWords(words []uint16) []byte {
	out := make([]byte, 2*len(words))
	for i, w := range words {
		binary.BigEndian.PutUint16(out[i*2:], w)
	}
	return out
}
