// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

// Package settings persists the device configuration across restarts.
package settings

import (
	"fmt"
	"strings"

	"github.com/ffutop/modbus-tachometer/internal/proximity"
)

// erased is the content of an erased flash word.
const erased = 0xFFFFFFFF

// Settings is the persisted device configuration.
type Settings struct {
	PPR             uint32                      `yaml:"ppr"`
	DiameterMM      uint32                      `yaml:"diameter_mm"`
	TimeoutSeconds  uint32                      `yaml:"timeout_s"`
	AveragingWindow uint8                       `yaml:"averaging_window"`
	SpeedUnit       uint8                       `yaml:"speed_unit"`
	UnitID          uint8                       `yaml:"unit_id"`
	ModbusEnabled   bool                        `yaml:"modbus_enabled"`
	Hysteresis      []proximity.HysteresisEntry `yaml:"hysteresis,omitempty"`
}

// Defaults returns the factory configuration.
func Defaults() Settings {
	return Settings{
		PPR:             proximity.DefaultPPR,
		DiameterMM:      uint32(proximity.DefaultDiameter * 1000),
		TimeoutSeconds:  uint32(proximity.DefaultTimeout.Seconds()),
		AveragingWindow: proximity.DefaultAveragingWindow,
		SpeedUnit:       uint8(proximity.UnitRPM),
		UnitID:          1,
		ModbusEnabled:   true,
		Hysteresis:      proximity.DefaultHysteresisTable(),
	}
}

// Normalize replaces unset or out-of-range fields with their defaults.
func (s Settings) Normalize() Settings {
	d := Defaults()
	if s.PPR == 0 || s.PPR == erased {
		s.PPR = d.PPR
	}
	if s.DiameterMM == 0 || s.DiameterMM == erased {
		s.DiameterMM = d.DiameterMM
	}
	if s.TimeoutSeconds == 0 || s.TimeoutSeconds == erased {
		s.TimeoutSeconds = d.TimeoutSeconds
	}
	if s.AveragingWindow == 0 || s.AveragingWindow == 0xFF {
		s.AveragingWindow = d.AveragingWindow
	}
	if s.SpeedUnit > uint8(proximity.UnitMetersPerMinute) {
		s.SpeedUnit = d.SpeedUnit
	}
	if s.UnitID == 0 || s.UnitID > 247 {
		s.UnitID = d.UnitID
		s.ModbusEnabled = d.ModbusEnabled
	}
	if len(s.Hysteresis) == 0 {
		s.Hysteresis = d.Hysteresis
	} else if len(s.Hysteresis) > proximity.MaxHysteresisEntries {
		s.Hysteresis = s.Hysteresis[:proximity.MaxHysteresisEntries]
	}
	return s
}

// Diameter returns the diameter in metres.
func (s Settings) Diameter() float32 {
	return float32(s.DiameterMM) / 1000
}

// Store loads and saves Settings.
type Store interface {
	// Load returns the stored settings, or Defaults when nothing was saved.
	Load() (Settings, error)
	Save(s Settings) error
	Close() error
}

// Open creates the store named by kind: memory, file, mmap or sql.
func Open(kind, path string) (Store, error) {
	switch strings.ToLower(kind) {
	case "", "memory":
		return NewMemoryStore(), nil
	case "file", "yaml":
		return NewFileStore(path), nil
	case "mmap":
		return NewMmapStore(path), nil
	case "sql", "sqlite":
		return NewSQLStore("sqlite", path), nil
	}
	return nil, fmt.Errorf("unknown settings store type: %s", kind)
}
