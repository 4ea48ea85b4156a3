// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package proximity

import (
	"errors"
	"sort"
)

const (
	// MaxHysteresisEntries is the capacity of the hysteresis table.
	MaxHysteresisEntries = 10
	// DefaultHysteresis applies when no table entry covers the speed.
	DefaultHysteresis = 50
	// MaxHysteresis is the widest band an entry may carry.
	MaxHysteresis = 1000
)

var (
	ErrHysteresisIndex = errors.New("proximity: hysteresis index out of range")
	ErrHysteresisValue = errors.New("proximity: hysteresis must be between 1 and 1000")
)

// HysteresisEntry is the band applied at and above RPMThreshold.
type HysteresisEntry struct {
	RPMThreshold uint16 `yaml:"rpm_threshold" mapstructure:"rpm_threshold" json:"rpm_threshold"`
	Hysteresis   uint16 `yaml:"hysteresis" mapstructure:"hysteresis" json:"hysteresis"`
}

// DefaultHysteresisTable returns the factory table.
func DefaultHysteresisTable() []HysteresisEntry {
	return []HysteresisEntry{
		{0, 5},
		{100, 10},
		{500, 20},
		{800, 30},
		{1100, 50},
	}
}

// hysteresisTable keeps up to MaxHysteresisEntries entries ordered by
// ascending threshold.
type hysteresisTable struct {
	entries [MaxHysteresisEntries]HysteresisEntry
	size    int
}

func (t *hysteresisTable) reset() {
	t.replace(DefaultHysteresisTable())
}

func (t *hysteresisTable) replace(entries []HysteresisEntry) {
	t.size = copy(t.entries[:], entries)
	t.sort()
}

func (t *hysteresisTable) sort() {
	s := t.entries[:t.size]
	sort.SliceStable(s, func(i, j int) bool { return s[i].RPMThreshold < s[j].RPMThreshold })
}

// threshold returns the band of the highest entry not above rpm.
func (t *hysteresisTable) threshold(rpm int32) uint16 {
	for i := t.size - 1; i >= 0; i-- {
		if rpm >= int32(t.entries[i].RPMThreshold) {
			return t.entries[i].Hysteresis
		}
	}
	return DefaultHysteresis
}

// set writes slot index, growing the table when index is past its end,
// and reorders the table.
func (t *hysteresisTable) set(index int, e HysteresisEntry) error {
	if index < 0 || index >= MaxHysteresisEntries {
		return ErrHysteresisIndex
	}
	if e.Hysteresis == 0 || e.Hysteresis > MaxHysteresis {
		return ErrHysteresisValue
	}
	t.entries[index] = e
	if index >= t.size {
		t.size = index + 1
	}
	t.sort()
	return nil
}

func (t *hysteresisTable) get(index int) (HysteresisEntry, bool) {
	if index < 0 || index >= t.size {
		return HysteresisEntry{}, false
	}
	return t.entries[index], true
}

func (t *hysteresisTable) list() []HysteresisEntry {
	out := make([]HysteresisEntry, t.size)
	copy(out, t.entries[:t.size])
	return out
}

// SetHysteresisEntry writes one table slot. The table is reordered by
// threshold afterwards, so the entry may move to another index.
func (c *Counter) SetHysteresisEntry(index int, e HysteresisEntry) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hysteresis.set(index, e)
}

// HysteresisEntry returns slot index, or false past the end of the table.
func (c *Counter) HysteresisEntry(index int) (HysteresisEntry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hysteresis.get(index)
}

// HysteresisTable returns a copy of the table in threshold order.
func (c *Counter) HysteresisTable() []HysteresisEntry {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hysteresis.list()
}

// SetHysteresisTable replaces the table. Entries past
// MaxHysteresisEntries are ignored; an empty slice restores the defaults.
func (c *Counter) SetHysteresisTable(entries []HysteresisEntry) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(entries) == 0 {
		c.hysteresis.reset()
		return
	}
	c.hysteresis.replace(entries)
}

// ClearHysteresis empties the table so every speed uses DefaultHysteresis.
func (c *Counter) ClearHysteresis() {
	c.mu.Lock()
	c.hysteresis.size = 0
	c.mu.Unlock()
}
