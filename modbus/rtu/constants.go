// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package rtu

const (
	// MinFrameSize is unit id, function code and a payload byte plus CRC.
	MinFrameSize = 5
	MaxSize      = 256

	ExceptionSize = 5

	// headerSize covers the byte count of a multiple write request.
	headerSize = 7
)
