// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

// Package proximity turns input-capture timer events from a proximity
// sensor into a filtered rotational speed.
//
// Two kinds of callers share a Counter. The event source calls
// HandleCapture and HandleOverflow for every timer event; the main loop
// calls ProcessCapture and CheckTimeout periodically. Event handlers do
// constant work under the lock, which plays the part of masking the
// capture interrupt during main loop critical sections.
package proximity

import (
	"fmt"
	"math"
	"strings"
	"sync"
	"time"
)

const (
	// DefaultTimerFrequency is a 72 MHz timer clock divided by 72.
	DefaultTimerFrequency = 72_000_000 / 72
	DefaultTimerWrap      = 65536

	DefaultPPR             = 1
	DefaultDiameter        = 0.25
	DefaultTimeout         = 10 * time.Second
	DefaultAveragingWindow = 3

	// stabilityStreak is the number of consecutive in-band samples after
	// which the filter starts tracking drift.
	stabilityStreak = 10

	pi = 3.14159
)

// SpeedUnit selects how Speed presents the measurement.
type SpeedUnit int

const (
	UnitRPM SpeedUnit = iota
	UnitMetersPerMinute
)

func (u SpeedUnit) String() string {
	if u == UnitMetersPerMinute {
		return "m/min"
	}
	return "rpm"
}

// ParseSpeedUnit accepts "rpm" or "m/min" (also "m_min").
func ParseSpeedUnit(s string) (SpeedUnit, error) {
	switch strings.ToLower(s) {
	case "rpm", "":
		return UnitRPM, nil
	case "m/min", "m_min", "mmin":
		return UnitMetersPerMinute, nil
	}
	return 0, fmt.Errorf("proximity: unknown speed unit %q", s)
}

// Clock returns the current time.
type Clock func() time.Time

// Config holds the measurement parameters. Zero fields take defaults.
type Config struct {
	PPR             uint32
	Diameter        float32 // metres
	Timeout         time.Duration
	AveragingWindow uint8
	TimerFrequency  uint32 // ticks per second
	TimerWrap       uint32 // ticks per timer overflow
	SpeedUnit       SpeedUnit
	// Hysteresis replaces the default table when not empty.
	Hysteresis []HysteresisEntry
}

// State is a copy of the runtime state.
type State struct {
	RPM              float32
	RPMPrevious      int32
	StabilityCounter uint8
	Armed            bool
	FirstMeasurement bool
	Edge1, Edge2     uint16
	OverflowCount    uint32
	PeriodSum        uint64
	PeriodCount      uint8
	Period           uint32
	SampleReady      bool
	LastCaptureAt    time.Time
}

// Counter measures the period between rising edges.
type Counter struct {
	now Clock

	mu sync.Mutex

	ppr             uint32
	diameter        float32
	timeout         time.Duration
	averagingWindow uint8
	timerFrequency  uint32
	timerWrap       uint32
	speedUnit       SpeedUnit
	hysteresis      hysteresisTable

	rpm              float32
	rpmPrevious      int32
	stabilityCounter uint8
	armed            bool
	firstMeasurement bool
	edge1, edge2     uint16
	overflowCount    uint32
	periodSum        uint64
	periodCount      uint8
	period           uint32
	sampleReady      bool
	lastCaptureAt    time.Time
}

// New creates a Counter. A nil now uses time.Now.
func New(cfg Config, now Clock) *Counter {
	if now == nil {
		now = time.Now
	}
	c := &Counter{
		now:             now,
		ppr:             cfg.PPR,
		diameter:        cfg.Diameter,
		timeout:         cfg.Timeout,
		averagingWindow: cfg.AveragingWindow,
		timerFrequency:  cfg.TimerFrequency,
		timerWrap:       cfg.TimerWrap,
		speedUnit:       cfg.SpeedUnit,
	}
	if c.ppr == 0 {
		c.ppr = DefaultPPR
	}
	if !(c.diameter > 0) {
		c.diameter = DefaultDiameter
	}
	if c.timeout <= 0 {
		c.timeout = DefaultTimeout
	}
	if c.averagingWindow == 0 {
		c.averagingWindow = DefaultAveragingWindow
	}
	if c.timerFrequency == 0 {
		c.timerFrequency = DefaultTimerFrequency
	}
	if c.timerWrap == 0 || c.timerWrap > DefaultTimerWrap {
		c.timerWrap = DefaultTimerWrap
	}
	if len(cfg.Hysteresis) > 0 {
		c.hysteresis.replace(cfg.Hysteresis)
	} else {
		c.hysteresis.reset()
	}
	c.resetLocked()
	return c
}

// HandleCapture records a rising edge captured at ticks.
func (c *Counter) HandleCapture(ticks uint16) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.armed {
		c.edge1 = ticks
		c.armed = true
		c.overflowCount = 0
		c.lastCaptureAt = c.now()
		return
	}

	c.edge2 = ticks
	raw := int64(c.overflowCount)*int64(c.timerWrap) + int64(c.edge2) - int64(c.edge1)
	if raw > 0 {
		period := uint64(raw)
		if period > math.MaxUint32 {
			period = math.MaxUint32
		}
		if c.firstMeasurement {
			c.period = uint32(period)
			c.sampleReady = true
			c.firstMeasurement = false
		} else {
			c.periodSum += period
			c.periodCount++
			if c.periodCount >= c.averagingWindow {
				c.period = uint32(c.periodSum / uint64(c.periodCount))
				c.sampleReady = true
				c.periodSum = 0
				c.periodCount = 0
			}
		}
	}

	c.lastCaptureAt = c.now()
	c.edge1 = c.edge2
	c.overflowCount = 0
}

// HandleOverflow counts a timer wrap. Wraps before the first edge are ignored.
func (c *Counter) HandleOverflow() {
	c.mu.Lock()
	if c.armed {
		c.overflowCount++
	}
	c.mu.Unlock()
}

// ProcessCapture converts a ready period into a filtered RPM. It reports
// whether a new value was produced.
func (c *Counter) ProcessCapture() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.sampleReady {
		return false
	}
	c.sampleReady = false
	if c.period == 0 {
		return false
	}

	frequency := float32(c.timerFrequency) / float32(c.period)
	raw := int32(frequency * 60 / float32(c.ppr))
	filtered := c.applyHysteresisLocked(raw, c.rpmPrevious)
	c.rpm = float32(filtered)
	c.rpmPrevious = filtered
	return true
}

// ApplyHysteresis filters candidate against previous and updates the
// stability streak.
//
// A change within the band of the table entry for candidate is held back
// until stabilityStreak consecutive samples agree, after which the output
// moves a quarter of the way per sample. A change outside the band is
// taken as is and restarts the streak.
func (c *Counter) ApplyHysteresis(candidate, previous int32) int32 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.applyHysteresisLocked(candidate, previous)
}

func (c *Counter) applyHysteresisLocked(candidate, previous int32) int32 {
	threshold := int32(c.hysteresis.threshold(candidate))

	diff := candidate - previous
	if diff < 0 {
		diff = -diff
	}
	if diff <= threshold {
		if c.stabilityCounter < stabilityStreak {
			c.stabilityCounter++
		}
		if c.stabilityCounter >= stabilityStreak {
			return previous + (candidate-previous)/4
		}
		return previous
	}
	c.stabilityCounter = 0
	return candidate
}

// CheckTimeout forces the speed to zero and rearms the measurement when
// no edge arrived within the timeout. It reports whether it did so.
func (c *Counter) CheckTimeout() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.now().Sub(c.lastCaptureAt) <= c.timeout {
		return false
	}
	c.rpm = 0
	c.firstMeasurement = true
	c.periodSum = 0
	c.periodCount = 0
	c.armed = false
	c.rpmPrevious = 0
	c.stabilityCounter = 0
	return true
}

// Reset clears all runtime state.
func (c *Counter) Reset() {
	c.mu.Lock()
	c.resetLocked()
	c.mu.Unlock()
}

func (c *Counter) resetLocked() {
	c.rpm = 0
	c.edge1 = 0
	c.edge2 = 0
	c.period = 0
	c.armed = false
	c.overflowCount = 0
	c.sampleReady = false
	c.periodSum = 0
	c.periodCount = 0
	c.firstMeasurement = true
	c.rpmPrevious = 0
	c.stabilityCounter = 0
	c.lastCaptureAt = c.now()
}

// UpdateConfig applies a new PPR and diameter and resets the measurement.
// Invalid values fall back to the defaults.
func (c *Counter) UpdateConfig(ppr uint32, diameter float32) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if ppr == 0 {
		ppr = DefaultPPR
	}
	if !(diameter > 0) {
		diameter = DefaultDiameter
	}
	c.ppr = ppr
	c.diameter = diameter
	c.resetLocked()
}

func (c *Counter) SetPPR(ppr uint32) {
	if ppr == 0 {
		return
	}
	c.mu.Lock()
	c.ppr = ppr
	c.mu.Unlock()
}

func (c *Counter) SetDiameter(diameter float32) {
	if !(diameter > 0) {
		return
	}
	c.mu.Lock()
	c.diameter = diameter
	c.mu.Unlock()
}

func (c *Counter) SetTimeout(timeout time.Duration) {
	if timeout <= 0 {
		return
	}
	c.mu.Lock()
	c.timeout = timeout
	c.mu.Unlock()
}

// SetAveragingWindow changes the number of periods averaged per sample
// and drops a partially filled window.
func (c *Counter) SetAveragingWindow(n uint8) {
	if n == 0 {
		return
	}
	c.mu.Lock()
	c.averagingWindow = n
	c.periodSum = 0
	c.periodCount = 0
	c.mu.Unlock()
}

func (c *Counter) SetSpeedUnit(u SpeedUnit) {
	c.mu.Lock()
	c.speedUnit = u
	c.mu.Unlock()
}

func (c *Counter) PPR() uint32 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ppr
}

func (c *Counter) Diameter() float32 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.diameter
}

func (c *Counter) Timeout() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.timeout
}

func (c *Counter) AveragingWindow() uint8 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.averagingWindow
}

func (c *Counter) SpeedUnit() SpeedUnit {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.speedUnit
}

// RPM returns the filtered rotational speed.
func (c *Counter) RPM() float32 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.rpm
}

// Frequency returns the pulse frequency in Hz.
func (c *Counter) Frequency() float32 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.rpm / 60 * float32(c.ppr)
}

// Speed returns the speed in unit. Linear speed is rpm times the
// circumference, in metres per minute.
func (c *Counter) Speed(unit SpeedUnit) float32 {
	c.mu.Lock()
	defer c.mu.Unlock()
	if unit == UnitMetersPerMinute {
		return c.rpm * pi * c.diameter
	}
	return c.rpm
}

// DisplaySpeed returns the speed in the configured unit.
func (c *Counter) DisplaySpeed() float32 {
	return c.Speed(c.SpeedUnit())
}

// Snapshot copies the runtime state.
func (c *Counter) Snapshot() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return State{
		RPM:              c.rpm,
		RPMPrevious:      c.rpmPrevious,
		StabilityCounter: c.stabilityCounter,
		Armed:            c.armed,
		FirstMeasurement: c.firstMeasurement,
		Edge1:            c.edge1,
		Edge2:            c.edge2,
		OverflowCount:    c.overflowCount,
		PeriodSum:        c.periodSum,
		PeriodCount:      c.periodCount,
		Period:           c.period,
		SampleReady:      c.sampleReady,
		LastCaptureAt:    c.lastCaptureAt,
	}
}
