// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package settings

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/ffutop/modbus-tachometer/internal/proximity"
)

func custom() Settings {
	return Settings{
		PPR:             4,
		DiameterMM:      300,
		TimeoutSeconds:  5,
		AveragingWindow: 5,
		SpeedUnit:       uint8(proximity.UnitMetersPerMinute),
		UnitID:          17,
		ModbusEnabled:   false,
		Hysteresis:      []proximity.HysteresisEntry{{RPMThreshold: 0, Hysteresis: 3}, {RPMThreshold: 200, Hysteresis: 12}},
	}
}

func TestStores(t *testing.T) {
	tests := []struct {
		kind string
		file string
	}{
		{"file", "settings.yaml"},
		{"mmap", "settings.page"},
		{"sql", "settings.db"},
	}

	for _, tt := range tests {
		t.Run(tt.kind, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), tt.file)

			store, err := Open(tt.kind, path)
			if err != nil {
				t.Fatal(err)
			}
			got, err := store.Load()
			if err != nil {
				t.Fatalf("Load() on empty store: %v", err)
			}
			if !reflect.DeepEqual(got, Defaults()) {
				t.Errorf("empty store = %+v, want defaults", got)
			}

			if err := store.Save(custom()); err != nil {
				t.Fatalf("Save() error = %v", err)
			}
			if err := store.Close(); err != nil {
				t.Fatal(err)
			}

			reopened, err := Open(tt.kind, path)
			if err != nil {
				t.Fatal(err)
			}
			defer reopened.Close()
			got, err = reopened.Load()
			if err != nil {
				t.Fatal(err)
			}
			if !reflect.DeepEqual(got, custom()) {
				t.Errorf("reloaded = %+v, want %+v", got, custom())
			}
		})
	}
}

func TestMemoryStore(t *testing.T) {
	ms := NewMemoryStore()
	got, _ := ms.Load()
	if !reflect.DeepEqual(got, Defaults()) {
		t.Errorf("Load() = %+v", got)
	}

	s := custom()
	ms.Save(s)
	s.Hysteresis[0].Hysteresis = 99
	got, _ = ms.Load()
	if !reflect.DeepEqual(got, custom()) {
		t.Errorf("saved settings aliased the caller's slice: %+v", got)
	}
}

func TestMmapFreshPageIsErased(t *testing.T) {
	path := filepath.Join(t.TempDir(), "page")
	ms := NewMmapStore(path)
	if _, err := ms.Load(); err != nil {
		t.Fatal(err)
	}
	ms.Close()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if len(data) != pageSize {
		t.Fatalf("page size = %d", len(data))
	}
	for i, b := range data {
		if b != 0xFF {
			t.Fatalf("byte %d = %#x, want 0xFF", i, b)
		}
	}
}

func TestNormalize(t *testing.T) {
	s := Settings{
		PPR:             erased,
		DiameterMM:      0,
		TimeoutSeconds:  erased,
		AveragingWindow: 0xFF,
		SpeedUnit:       0xFF,
		UnitID:          0xFF,
	}.Normalize()

	if !reflect.DeepEqual(s, Defaults()) {
		t.Errorf("Normalize() = %+v, want defaults", s)
	}

	d := Defaults()
	if d.Diameter() != 0.25 || d.DiameterMM != 250 || d.TimeoutSeconds != 10 {
		t.Errorf("defaults = %+v", d)
	}
}

func TestOpenUnknown(t *testing.T) {
	if _, err := Open("eeprom", ""); err == nil {
		t.Error("unknown store accepted")
	}
}
