// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

// Package direction drives the driver-enable line of a half-duplex
// RS-485 transceiver around each transmission.
package direction

import (
	"fmt"
	"io"
	"sync"
	"time"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/host/v3"
)

// DefaultSettle is the delay after switching the line before and after
// the bytes go out.
const DefaultSettle = 10 * time.Millisecond

// Line switches the transceiver between transmit and receive.
type Line interface {
	Set(transmit bool) error
}

// NopLine is a Line for full-duplex links or transceivers with automatic
// direction control.
type NopLine struct{}

func (NopLine) Set(bool) error { return nil }

// GPIOLine drives the enable pin through a GPIO.
type GPIOLine struct {
	pin       gpio.PinOut
	activeLow bool
}

// OpenGPIO initialises the host drivers, looks up the pin by name and
// leaves it in receive.
func OpenGPIO(name string, activeLow bool) (*GPIOLine, error) {
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("periph host init failed: %w", err)
	}
	pin := gpioreg.ByName(name)
	if pin == nil {
		return nil, fmt.Errorf("gpio pin %q not found", name)
	}
	l := &GPIOLine{pin: pin, activeLow: activeLow}
	if err := l.Set(false); err != nil {
		return nil, err
	}
	return l, nil
}

func (l *GPIOLine) Set(transmit bool) error {
	level := gpio.Level(transmit != l.activeLow)
	if err := l.pin.Out(level); err != nil {
		return fmt.Errorf("failed to drive %s: %w", l.pin, err)
	}
	return nil
}

// Drainer is implemented by writers that can block until their output
// buffer is on the wire.
type Drainer interface {
	Drain() error
}

// Transmitter is an io.Writer that asserts the line for the duration of
// each Write. Writes are serialized.
type Transmitter struct {
	w      io.Writer
	line   Line
	settle time.Duration
	sleep  func(time.Duration)

	mu sync.Mutex
}

// NewTransmitter wraps w. A nil line is a NopLine; a negative settle
// uses DefaultSettle.
func NewTransmitter(w io.Writer, line Line, settle time.Duration) *Transmitter {
	if line == nil {
		line = NopLine{}
	}
	if settle < 0 {
		settle = DefaultSettle
	}
	return &Transmitter{w: w, line: line, settle: settle, sleep: time.Sleep}
}

func (t *Transmitter) pause() {
	if t.settle > 0 {
		t.sleep(t.settle)
	}
}

// Write asserts the line, waits, writes p, drains, waits and releases
// the line. The line is released even when the write fails.
func (t *Transmitter) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if err := t.line.Set(true); err != nil {
		return 0, fmt.Errorf("failed to assert transmit enable: %w", err)
	}
	t.pause()

	n, err := t.w.Write(p)
	if err == nil {
		if d, ok := t.w.(Drainer); ok {
			err = d.Drain()
		}
	}

	t.pause()
	if lerr := t.line.Set(false); lerr != nil && err == nil {
		err = fmt.Errorf("failed to release transmit enable: %w", lerr)
	}
	return n, err
}
