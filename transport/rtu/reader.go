// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package rtu

import (
	"errors"
	"io"
	"time"

	"github.com/ffutop/modbus-tachometer/modbus"
	rtupacket "github.com/ffutop/modbus-tachometer/modbus/rtu"
	"github.com/grid-x/serial"
)

// idleBackoff paces a reader that reports no data without an error.
const idleBackoff = time.Millisecond

// sizer returns the total frame length implied by the bytes received so
// far, or how many bytes are needed to tell. A negative result means the
// length cannot be derived and the frame ends at the next silence.
type sizer func(frame []byte) int

func requestSize(frame []byte) int {
	if len(frame) < 2 {
		return 2
	}
	n, err := rtupacket.CalculateRequestLength(frame[1], frame)
	if err == nil {
		return n
	}
	switch frame[1] {
	case modbus.FuncCodeWriteMultipleCoils, modbus.FuncCodeWriteMultipleRegisters:
		return 7
	}
	return -1
}

func responseSize(frame []byte) int {
	if len(frame) < 2 {
		return 2
	}
	n, err := rtupacket.CalculateResponseLength(frame)
	if err == nil {
		return n
	}
	if frame[1]&modbus.ExceptionBit == 0 && frame[1] <= modbus.FuncCodeReadInputRegisters {
		return 3
	}
	return -1
}

// FrameReader cuts an RTU byte stream into frames. A frame ends when the
// length derived from its header is reached, when a read times out, or
// when the buffer is full. The returned slice is valid until the next
// call.
type FrameReader struct {
	r    io.Reader
	size sizer
	buf  [rtupacket.MaxSize]byte
}

// NewRequestReader returns a reader for the slave side of the bus.
func NewRequestReader(r io.Reader) *FrameReader {
	return &FrameReader{r: r, size: requestSize}
}

// NewResponseReader returns a reader for the master side of the bus.
func NewResponseReader(r io.Reader) *FrameReader {
	return &FrameReader{r: r, size: responseSize}
}

// ReadFrame blocks until a frame is complete or the reader fails. Reads
// that time out on an idle line are retried.
func (fr *FrameReader) ReadFrame() ([]byte, error) {
	n := 0
	for {
		need := fr.size(fr.buf[:n])
		known := need >= 0
		if !known || need > len(fr.buf) {
			need = len(fr.buf)
		}
		if n >= need {
			return fr.buf[:n], nil
		}

		m, err := fr.r.Read(fr.buf[n:need])
		n += m
		if err != nil {
			if isTimeout(err) {
				if n == 0 {
					continue
				}
				return fr.buf[:n], nil
			}
			return nil, err
		}
		if m == 0 {
			if n > 0 {
				return fr.buf[:n], nil
			}
			time.Sleep(idleBackoff)
			continue
		}
		if known && n >= need {
			return fr.buf[:n], nil
		}
	}
}

func isTimeout(err error) bool {
	if errors.Is(err, serial.ErrTimeout) {
		return true
	}
	var te interface{ Timeout() bool }
	return errors.As(err, &te) && te.Timeout()
}
