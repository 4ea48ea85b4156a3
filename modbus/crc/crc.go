// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

// Package crc implements the Modbus RTU CRC-16 (reflected polynomial
// 0xA001, initial value 0xFFFF).
package crc

const polynomial = 0xA001

var table [256]uint16

func init() {
	for i := range table {
		v := uint16(i)
		for b := 0; b < 8; b++ {
			if v&1 != 0 {
				v = v>>1 ^ polynomial
			} else {
				v >>= 1
			}
		}
		table[i] = v
	}
}

// CRC is an incremental checksum. The zero value must be Reset before use.
type CRC struct {
	value uint16
}

func (crc *CRC) Reset() *CRC {
	crc.value = 0xFFFF
	return crc
}

func (crc *CRC) PushBytes(bs []byte) *CRC {
	v := crc.value
	for _, b := range bs {
		v = v>>8 ^ table[byte(v)^b]
	}
	crc.value = v
	return crc
}

func (crc *CRC) Value() uint16 {
	return crc.value
}

// Checksum returns the CRC-16 of b.
func Checksum(b []byte) uint16 {
	var c CRC
	return c.Reset().PushBytes(b).Value()
}

// Append appends the little-endian checksum of b to b.
func Append(b []byte) []byte {
	sum := Checksum(b)
	return append(b, byte(sum), byte(sum>>8))
}

// Valid reports whether frame ends with a matching little-endian
// checksum. Running the CRC over such a frame yields zero.
func Valid(frame []byte) bool {
	return len(frame) >= 2 && Checksum(frame) == 0
}
