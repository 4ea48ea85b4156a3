// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package settings

import (
	"encoding/binary"
	"fmt"
	"os"

	"github.com/edsrzf/mmap-go"
	"github.com/ffutop/modbus-tachometer/internal/proximity"
)

// MmapStore keeps settings in a memory-mapped page of little-endian
// 32-bit words, laid out like a microcontroller flash page. A new file is
// filled with 0xFF, the erased state, and reads back as Defaults.
//
// Layout (word index):
//   - 0: magic
//   - 1: PPR
//   - 2: diameter (mm)
//   - 3: timeout (s)
//   - 4: averaging window
//   - 5: speed unit
//   - 6: unit id | enabled << 8
//   - 7: hysteresis entry count
//   - 8..17: hysteresis entries, threshold << 16 | band
type MmapStore struct {
	path string
	file *os.File
	data mmap.MMap
}

const (
	pageSize  = 1024
	pageMagic = 0x54414348 // "TACH"
)

const (
	wordMagic = iota
	wordPPR
	wordDiameter
	wordTimeout
	wordAveraging
	wordSpeedUnit
	wordModbus
	wordHysteresisCount
	wordHysteresis
)

// NewMmapStore creates a new MmapStore.
func NewMmapStore(path string) *MmapStore {
	return &MmapStore{
		path: path,
	}
}

func (ms *MmapStore) open() error {
	if ms.data != nil {
		return nil
	}
	f, err := os.OpenFile(ms.path, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return fmt.Errorf("failed to open mmap file: %w", err)
	}

	fi, err := f.Stat()
	if err != nil {
		f.Close()
		return err
	}
	fresh := fi.Size() == 0
	if fi.Size() != pageSize {
		if err := f.Truncate(pageSize); err != nil {
			f.Close()
			return fmt.Errorf("failed to resize mmap file: %w", err)
		}
	}

	data, err := mmap.Map(f, mmap.RDWR, 0)
	if err != nil {
		f.Close()
		return fmt.Errorf("mmap failed: %w", err)
	}
	if fresh {
		for i := range data {
			data[i] = 0xFF
		}
	}
	ms.file = f
	ms.data = data
	return nil
}

func (ms *MmapStore) word(i int) uint32 {
	return binary.LittleEndian.Uint32(ms.data[i*4:])
}

func (ms *MmapStore) setWord(i int, v uint32) {
	binary.LittleEndian.PutUint32(ms.data[i*4:], v)
}

// Load maps the page and decodes it.
func (ms *MmapStore) Load() (Settings, error) {
	if err := ms.open(); err != nil {
		return Settings{}, err
	}
	if ms.word(wordMagic) != pageMagic {
		return Defaults(), nil
	}

	s := Settings{
		PPR:             ms.word(wordPPR),
		DiameterMM:      ms.word(wordDiameter),
		TimeoutSeconds:  ms.word(wordTimeout),
		AveragingWindow: uint8(ms.word(wordAveraging)),
		SpeedUnit:       uint8(ms.word(wordSpeedUnit)),
	}
	mb := ms.word(wordModbus)
	s.UnitID = uint8(mb)
	s.ModbusEnabled = mb>>8&1 != 0

	n := int(ms.word(wordHysteresisCount))
	if n > proximity.MaxHysteresisEntries {
		n = 0
	}
	for i := 0; i < n; i++ {
		w := ms.word(wordHysteresis + i)
		s.Hysteresis = append(s.Hysteresis, proximity.HysteresisEntry{
			RPMThreshold: uint16(w >> 16),
			Hysteresis:   uint16(w),
		})
	}
	return s.Normalize(), nil
}

// Save writes the page and flushes it to disk.
func (ms *MmapStore) Save(s Settings) error {
	if err := ms.open(); err != nil {
		return err
	}

	for i := range ms.data {
		ms.data[i] = 0xFF
	}
	ms.setWord(wordPPR, s.PPR)
	ms.setWord(wordDiameter, s.DiameterMM)
	ms.setWord(wordTimeout, s.TimeoutSeconds)
	ms.setWord(wordAveraging, uint32(s.AveragingWindow))
	ms.setWord(wordSpeedUnit, uint32(s.SpeedUnit))
	mb := uint32(s.UnitID)
	if s.ModbusEnabled {
		mb |= 1 << 8
	}
	ms.setWord(wordModbus, mb)

	entries := s.Hysteresis
	if len(entries) > proximity.MaxHysteresisEntries {
		entries = entries[:proximity.MaxHysteresisEntries]
	}
	ms.setWord(wordHysteresisCount, uint32(len(entries)))
	for i, e := range entries {
		ms.setWord(wordHysteresis+i, uint32(e.RPMThreshold)<<16|uint32(e.Hysteresis))
	}
	// Magic last, so a torn write reads back as erased.
	ms.setWord(wordMagic, pageMagic)

	return ms.data.Flush()
}

// Close unmaps and closes the file.
func (ms *MmapStore) Close() error {
	var err error
	if ms.data != nil {
		if e := ms.data.Unmap(); e != nil {
			err = e
		}
		ms.data = nil
	}
	if ms.file != nil {
		if e := ms.file.Close(); e != nil {
			err = e
		}
		ms.file = nil
	}
	return err
}
