// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package main

import (
	"bytes"
	"testing"
)

func TestParseUnitIDs(t *testing.T) {
	tests := []struct {
		input   string
		want    []byte
		wantErr bool
	}{
		{"1", []byte{1}, false},
		{"1, 3,5-7", []byte{1, 3, 5, 6, 7}, false},
		{"247", []byte{247}, false},
		{"0", nil, true},
		{"248", nil, true},
		{"7-5", nil, true},
		{"a", nil, true},
		{"", nil, true},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := parseUnitIDs(tt.input)
			if (err != nil) != tt.wantErr {
				t.Fatalf("parseUnitIDs(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
			if !bytes.Equal(got, tt.want) {
				t.Errorf("parseUnitIDs(%q) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}
}
