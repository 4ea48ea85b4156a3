// Copyright (c) 2025-2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

// Package bridge runs the main loop tying the pulse counter, the register
// map and the Modbus engines together.
//
// A Bridge belongs to the loop goroutine. Register observers fire from
// inside the slave engine, which the loop drives, so they touch bridge
// state without locking.
package bridge

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/ffutop/modbus-tachometer/internal/proximity"
	"github.com/ffutop/modbus-tachometer/internal/queue"
	"github.com/ffutop/modbus-tachometer/internal/registers"
	"github.com/ffutop/modbus-tachometer/internal/settings"
	"github.com/ffutop/modbus-tachometer/internal/telemetry"
	"github.com/ffutop/modbus-tachometer/modbus"
	"github.com/ffutop/modbus-tachometer/modbus/router"
)

// MasterConfig describes the periodic write issued in the master role.
type MasterConfig struct {
	UnitID       uint8
	Register     uint16
	PollInterval time.Duration
	Timeout      time.Duration
}

// Options wires a Bridge. Publisher and Store may be nil.
type Options struct {
	Counter   *proximity.Counter
	Registers *registers.Map
	Router    *router.Router
	Queue     *queue.FrameQueue
	Store     settings.Store
	Publisher *telemetry.Publisher

	// Settings is the configuration loaded at start.
	Settings settings.Settings
	Master   MasterConfig

	LoopInterval      time.Duration
	TelemetryInterval time.Duration

	// Now defaults to time.Now.
	Now func() time.Time
}

type pendingRequest struct {
	unitID   byte
	tid      uint16
	deadline time.Time
}

// Bridge owns the main loop.
type Bridge struct {
	counter   *proximity.Counter
	regs      *registers.Map
	router    *router.Router
	queue     *queue.FrameQueue
	store     settings.Store
	publisher *telemetry.Publisher
	master    MasterConfig
	now       func() time.Time

	loopInterval      time.Duration
	telemetryInterval time.Duration

	enabled     bool
	unsaved     bool
	masterFault bool
	dropped     uint64

	pending       *pendingRequest
	nextPoll      time.Time
	nextTelemetry time.Time
}

// New creates a bridge and installs its register observer.
func New(opts Options) *Bridge {
	b := &Bridge{
		counter:           opts.Counter,
		regs:              opts.Registers,
		router:            opts.Router,
		queue:             opts.Queue,
		store:             opts.Store,
		publisher:         opts.Publisher,
		master:            opts.Master,
		now:               opts.Now,
		loopInterval:      opts.LoopInterval,
		telemetryInterval: opts.TelemetryInterval,
		enabled:           opts.Settings.ModbusEnabled,
	}
	if b.now == nil {
		b.now = time.Now
	}
	if b.loopInterval <= 0 {
		b.loopInterval = 10 * time.Millisecond
	}

	b.regs.SetCoil(CoilModbusEnabled, b.enabled)
	b.publishHolding()
	b.publishInputs()
	b.regs.SetObserver(registers.ObserverFuncs{Write: b.onWrite})

	if m := b.router.Master(); m != nil {
		m.OnResponse(b.onResponse)
	}
	return b
}

// Run drives Step on a ticker until ctx is done.
func (b *Bridge) Run(ctx context.Context) error {
	if b.router.Role() == modbus.RoleSlave && !b.enabled {
		slog.Warn("Modbus disabled by settings, received frames are discarded")
	}
	slog.Info("Bridge loop started", "role", b.router.Role(), "framing", b.router.Framing(), "interval", b.loopInterval)

	ticker := time.NewTicker(b.loopInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("Bridge loop stopped")
			return nil
		case <-ticker.C:
			b.Step()
		}
	}
}

// Step runs one loop iteration.
func (b *Bridge) Step() {
	now := b.now()

	b.counter.ProcessCapture()
	if b.counter.CheckTimeout() {
		slog.Debug("Signal timeout, speed reset")
	}
	b.publishInputs()

	b.drainQueue()

	if b.router.Role() == modbus.RoleMaster {
		b.pollMaster(now)
	}
	b.publishTelemetry(now)
}

func (b *Bridge) drainQueue() {
	for {
		frame, ok := b.queue.Pop()
		if !ok {
			break
		}
		if b.router.Role() == modbus.RoleSlave && !b.enabled {
			continue
		}
		if err := b.router.HandleFrame(frame.Bytes()); err != nil {
			slog.Error("Failed to handle frame", "err", err)
		}
	}

	if d := b.queue.Dropped(); d != b.dropped {
		slog.Warn("Frames dropped, queue full", "new", d-b.dropped, "total", d)
		b.dropped = d
	}
}

func (b *Bridge) publishInputs() {
	rpm := b.counter.RPM()
	rpmHi, rpmLo := words(uint32(rpm))
	speedHi, speedLo := words(scaled(b.counter.Speed(proximity.UnitMetersPerMinute)))
	dispHi, dispLo := words(scaled(b.counter.DisplaySpeed()))

	freq := scaled(b.counter.Frequency())
	if freq > 0xFFFF {
		freq = 0xFFFF
	}

	var status uint16
	if rpm > 0 {
		status |= StatusSignal
	}
	if b.unsaved {
		status |= StatusUnsaved
	}
	if b.masterFault {
		status |= StatusMasterFault
	}

	b.regs.SetInput(InputRPM, rpmHi, rpmLo, speedHi, speedLo, uint16(freq), status, dispHi, dispLo)
	b.regs.SetDiscreteInput(DiscreteSignal, rpm > 0)
}

// publishHolding mirrors the counter configuration into the holding
// registers, so a read after a rejected write shows the value in effect.
func (b *Bridge) publishHolding() {
	pprHi, pprLo := words(b.counter.PPR())
	values := []uint16{
		pprHi, pprLo,
		uint16(b.counter.Diameter()*1000 + 0.5),
		uint16(b.counter.Timeout() / time.Second),
		uint16(b.counter.AveragingWindow()),
		uint16(b.counter.SpeedUnit()),
		0,
		uint16(b.unitID()),
	}
	table := b.counter.HysteresisTable()
	for i := 0; i < proximity.MaxHysteresisEntries; i++ {
		if i < len(table) {
			values = append(values, table[i].RPMThreshold, table[i].Hysteresis)
		} else {
			values = append(values, 0, 0)
		}
	}
	b.regs.SetHolding(HoldingPPR, values...)
}

func (b *Bridge) unitID() byte {
	if s := b.router.Slave(); s != nil {
		return s.UnitID()
	}
	return b.master.UnitID
}

func (b *Bridge) onWrite(table registers.Table, address, quantity uint16) {
	switch table {
	case registers.HoldingRegisters:
		b.applyHolding(address, quantity)
	case registers.Coils:
		b.applyCoils(address, quantity)
	}
}

func (b *Bridge) applyHolding(address, quantity uint16) {
	hr := b.regs.Holding(0, holdingCount)
	changed := false

	if touches(address, quantity, HoldingPPR, HoldingDiameter) {
		ppr := join(hr[HoldingPPR], hr[HoldingPPR+1])
		diameter := float32(hr[HoldingDiameter]) / 1000
		if ppr == 0 {
			ppr = b.counter.PPR()
		}
		if diameter <= 0 {
			diameter = b.counter.Diameter()
		}
		b.counter.UpdateConfig(ppr, diameter)
		slog.Info("Measurement configuration updated", "ppr", ppr, "diameter", diameter)
		changed = true
	}
	if touches(address, quantity, HoldingTimeout, HoldingTimeout) && hr[HoldingTimeout] > 0 {
		b.counter.SetTimeout(time.Duration(hr[HoldingTimeout]) * time.Second)
		changed = true
	}
	if touches(address, quantity, HoldingAveraging, HoldingAveraging) && hr[HoldingAveraging] > 0 && hr[HoldingAveraging] <= 0xFF {
		b.counter.SetAveragingWindow(uint8(hr[HoldingAveraging]))
		changed = true
	}
	if touches(address, quantity, HoldingSpeedUnit, HoldingSpeedUnit) && hr[HoldingSpeedUnit] <= uint16(proximity.UnitMetersPerMinute) {
		b.counter.SetSpeedUnit(proximity.SpeedUnit(hr[HoldingSpeedUnit]))
		changed = true
	}
	if touches(address, quantity, HoldingUnitID, HoldingUnitID) {
		if id := hr[HoldingUnitID]; id >= 1 && id <= 247 {
			if s := b.router.Slave(); s != nil {
				s.SetUnitID(byte(id))
				slog.Info("Unit id changed", "unit", id)
				changed = true
			}
		}
	}
	if touches(address, quantity, HoldingHysteresis, holdingCount-1) {
		b.applyHysteresis(hr[HoldingHysteresis:holdingCount])
		changed = true
	}
	if changed {
		b.unsaved = true
	}

	save := touches(address, quantity, HoldingSave, HoldingSave) && hr[HoldingSave] == 1
	b.publishHolding()
	if save {
		if err := b.Save(); err != nil {
			slog.Error("Failed to save settings", "err", err)
		}
	}
}

// applyHysteresis rebuilds the table from the register pairs. Pairs with
// a band outside 1..MaxHysteresis are skipped.
func (b *Bridge) applyHysteresis(pairs []uint16) {
	var entries []proximity.HysteresisEntry
	for i := 0; i+1 < len(pairs); i += 2 {
		e := proximity.HysteresisEntry{RPMThreshold: pairs[i], Hysteresis: pairs[i+1]}
		if e.Hysteresis == 0 || e.Hysteresis > proximity.MaxHysteresis {
			continue
		}
		entries = append(entries, e)
	}
	if len(entries) == 0 {
		b.counter.ClearHysteresis()
		return
	}
	b.counter.SetHysteresisTable(entries)
}

func (b *Bridge) applyCoils(address, quantity uint16) {
	if touches(address, quantity, CoilModbusEnabled, CoilModbusEnabled) {
		b.unsaved = true
		slog.Info("Modbus enable flag changed, applied at next start", "enabled", b.regs.Coil(CoilModbusEnabled))
	}
	if touches(address, quantity, CoilClearHysteresis, CoilClearHysteresis) && b.regs.Coil(CoilClearHysteresis) {
		b.counter.ClearHysteresis()
		b.regs.SetCoil(CoilClearHysteresis, false)
		b.unsaved = true
	}
	if touches(address, quantity, CoilDefaultHysteresis, CoilDefaultHysteresis) && b.regs.Coil(CoilDefaultHysteresis) {
		b.counter.SetHysteresisTable(nil)
		b.regs.SetCoil(CoilDefaultHysteresis, false)
		b.unsaved = true
	}
	b.publishHolding()
}

// Settings returns the configuration currently in effect.
func (b *Bridge) Settings() settings.Settings {
	return settings.Settings{
		PPR:             b.counter.PPR(),
		DiameterMM:      uint32(b.counter.Diameter()*1000 + 0.5),
		TimeoutSeconds:  uint32(b.counter.Timeout() / time.Second),
		AveragingWindow: b.counter.AveragingWindow(),
		SpeedUnit:       uint8(b.counter.SpeedUnit()),
		UnitID:          b.unitID(),
		ModbusEnabled:   b.regs.Coil(CoilModbusEnabled),
		Hysteresis:      b.counter.HysteresisTable(),
	}
}

// Save writes the configuration in effect to the store.
func (b *Bridge) Save() error {
	if b.store == nil {
		return nil
	}
	s := b.Settings()
	if err := b.store.Save(s); err != nil {
		return fmt.Errorf("failed to save settings: %w", err)
	}
	b.unsaved = false
	slog.Info("Settings saved", "ppr", s.PPR, "diameter_mm", s.DiameterMM, "unit", s.UnitID)
	return nil
}

func (b *Bridge) pollMaster(now time.Time) {
	if b.pending != nil {
		if now.Before(b.pending.deadline) {
			return
		}
		slog.Warn("Modbus request timed out", "unit", b.pending.unitID, "tid", b.pending.tid)
		b.pending = nil
		b.masterFault = true
	}
	if now.Before(b.nextPoll) {
		return
	}
	b.nextPoll = now.Add(b.master.PollInterval)

	hi, lo := words(uint32(b.counter.RPM()))
	req := modbus.Request{
		UnitID:       b.master.UnitID,
		FunctionCode: modbus.FuncCodeWriteMultipleRegisters,
		Address:      b.master.Register,
		Quantity:     2,
		Values:       []uint16{hi, lo},
	}
	if err := b.router.SendRequest(req); err != nil {
		slog.Error("Failed to send modbus request", "unit", req.UnitID, "err", err)
		b.masterFault = true
		return
	}
	b.pending = &pendingRequest{
		unitID:   req.UnitID,
		tid:      b.router.Master().LastTransactionID(),
		deadline: now.Add(b.master.Timeout),
	}
}

func (b *Bridge) onResponse(frame []byte) {
	if b.pending == nil {
		slog.Debug("Dropping unsolicited response")
		return
	}
	m := b.router.Master()
	resp, ok := m.ParseResponse(frame)
	if !ok {
		slog.Debug("Dropping unparsable response")
		return
	}
	hdr := resp.Header()
	if hdr.UnitID != b.pending.unitID {
		return
	}
	if m.Framing() == modbus.FramingTCP && hdr.TransactionID != b.pending.tid {
		return
	}
	b.pending = nil

	if ex, isEx := resp.(*modbus.ExceptionResponse); isEx {
		slog.Debug("Exception response", "unit", hdr.UnitID, "func", ex.FunctionCode, "code", ex.ExceptionCode)
		b.masterFault = true
		return
	}
	b.masterFault = false
}

func (b *Bridge) publishTelemetry(now time.Time) {
	if b.publisher == nil || !b.publisher.Enabled() || now.Before(b.nextTelemetry) {
		return
	}
	b.nextTelemetry = now.Add(b.telemetryInterval)

	rpm := b.counter.RPM()
	err := b.publisher.Publish(telemetry.Sample{
		RPM:       rpm,
		Speed:     b.counter.DisplaySpeed(),
		Unit:      b.counter.SpeedUnit().String(),
		Frequency: b.counter.Frequency(),
		Signal:    rpm > 0,
		Timestamp: now,
	})
	if err != nil {
		slog.Warn("Failed to publish telemetry", "err", err)
	}
}
