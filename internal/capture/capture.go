// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

// Package capture feeds pulse edges to a measurement engine as the
// events of a free-running 16-bit input-capture timer.
package capture

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/host/v3"
)

// Handler receives timer events.
type Handler interface {
	HandleCapture(ticks uint16)
	HandleOverflow()
}

// Source produces edges until ctx is done.
type Source interface {
	Run(ctx context.Context, h Handler) error
}

// Timer converts edge timestamps into overflow and capture events. It
// is owned by a single event goroutine.
type Timer struct {
	frequency uint64
	wrap      uint64
	start     time.Time
	count     uint64
}

// NewTimer returns a timer counting frequency ticks per second from
// start and wrapping after wrap ticks. wrap is limited to 65536.
func NewTimer(frequency, wrap uint32, start time.Time) *Timer {
	if wrap == 0 || wrap > 1<<16 {
		wrap = 1 << 16
	}
	if frequency == 0 {
		frequency = 1_000_000
	}
	return &Timer{frequency: uint64(frequency), wrap: uint64(wrap), start: start}
}

func (t *Timer) ticksAt(at time.Time) uint64 {
	d := at.Sub(t.start)
	if d < 0 {
		return 0
	}
	ns := uint64(d)
	return ns/1e9*t.frequency + ns%1e9*t.frequency/1e9
}

// Edge reports the timer wraps since the previous edge, then the capture
// value of the edge at time at.
func (t *Timer) Edge(at time.Time, h Handler) {
	ticks := t.ticksAt(at)
	if ticks < t.count {
		ticks = t.count
	}
	for w := t.count / t.wrap; w < ticks/t.wrap; w++ {
		h.HandleOverflow()
	}
	t.count = ticks
	h.HandleCapture(uint16(ticks % t.wrap))
}

// GPIOSource watches a pin for rising edges.
type GPIOSource struct {
	Pin   gpio.PinIn
	Timer *Timer
	// Poll bounds each wait so cancellation is noticed.
	Poll time.Duration
}

// OpenGPIO initialises the host drivers and looks up the pin by name.
func OpenGPIO(name string, timer *Timer) (*GPIOSource, error) {
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("periph host init failed: %w", err)
	}
	pin := gpioreg.ByName(name)
	if pin == nil {
		return nil, fmt.Errorf("gpio pin %q not found", name)
	}
	return &GPIOSource{Pin: pin, Timer: timer, Poll: 100 * time.Millisecond}, nil
}

func (s *GPIOSource) Run(ctx context.Context, h Handler) error {
	if err := s.Pin.In(gpio.PullDown, gpio.RisingEdge); err != nil {
		return fmt.Errorf("failed to configure pin %s: %w", s.Pin, err)
	}
	defer s.Pin.In(gpio.PullNoChange, gpio.NoEdge)

	slog.Info("Watching proximity sensor", "pin", s.Pin.Name())
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		if s.Pin.WaitForEdge(s.Poll) {
			s.Timer.Edge(time.Now(), h)
		}
	}
}

// Simulator produces edges at a fixed rate, for bench use without a sensor.
type Simulator struct {
	Interval time.Duration
	Timer    *Timer
}

func (s *Simulator) Run(ctx context.Context, h Handler) error {
	slog.Info("Simulating proximity sensor", "interval", s.Interval)
	ticker := time.NewTicker(s.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case now := <-ticker.C:
			s.Timer.Edge(now, h)
		}
	}
}

// NewSource builds the source named by kind: "gpio" or "simulate".
func NewSource(kind, pin string, interval time.Duration, timer *Timer) (Source, error) {
	switch strings.ToLower(kind) {
	case "gpio":
		return OpenGPIO(pin, timer)
	case "simulate", "simulator":
		if interval <= 0 {
			return nil, fmt.Errorf("simulated pulse interval must be positive")
		}
		return &Simulator{Interval: interval, Timer: timer}, nil
	}
	return nil, fmt.Errorf("unknown capture source %q", kind)
}
