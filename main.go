// Copyright (c) 2025-2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/ffutop/modbus-tachometer/internal/bridge"
	"github.com/ffutop/modbus-tachometer/internal/capture"
	"github.com/ffutop/modbus-tachometer/internal/config"
	"github.com/ffutop/modbus-tachometer/internal/proximity"
	"github.com/ffutop/modbus-tachometer/internal/queue"
	"github.com/ffutop/modbus-tachometer/internal/registers"
	"github.com/ffutop/modbus-tachometer/internal/settings"
	"github.com/ffutop/modbus-tachometer/internal/telemetry"
	"github.com/ffutop/modbus-tachometer/modbus"
	"github.com/ffutop/modbus-tachometer/modbus/master"
	"github.com/ffutop/modbus-tachometer/modbus/router"
	"github.com/ffutop/modbus-tachometer/modbus/slave"
	"github.com/ffutop/modbus-tachometer/transport"
	"github.com/ffutop/modbus-tachometer/transport/direction"
	"github.com/ffutop/modbus-tachometer/transport/rtu"
	rtuovertcp "github.com/ffutop/modbus-tachometer/transport/rtu-over-tcp"
	"github.com/ffutop/modbus-tachometer/transport/tcp"
	"github.com/spf13/pflag"
)

func main() {
	// Load Configuration
	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			os.Exit(0)
		}
		fmt.Printf("Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	setupLogger(cfg.Log)

	slog.Info("Starting Modbus Tachometer...")

	if err := run(cfg); err != nil {
		slog.Error("Tachometer stopped with error", "err", err)
		os.Exit(1)
	}
	slog.Info("Goodbye.")
}

func run(cfg *config.Config) error {
	role, err := modbus.ParseRole(cfg.Modbus.Role)
	if err != nil {
		return err
	}
	framing, err := modbus.ParseFraming(cfg.Modbus.Framing)
	if err != nil {
		return err
	}

	store, err := settings.Open(cfg.Settings.Type, cfg.Settings.Path)
	if err != nil {
		return err
	}
	defer store.Close()
	saved, err := store.Load()
	if err != nil {
		slog.Warn("Failed to load settings, using defaults", "store", cfg.Settings.Type, "err", err)
		saved = settings.Defaults()
	}
	saved = saved.Normalize()

	counter := proximity.New(proximity.Config{
		PPR:             saved.PPR,
		Diameter:        saved.Diameter(),
		Timeout:         time.Duration(saved.TimeoutSeconds) * time.Second,
		AveragingWindow: saved.AveragingWindow,
		TimerFrequency:  cfg.Sensor.TimerFrequency,
		TimerWrap:       cfg.Sensor.TimerWrap,
		SpeedUnit:       proximity.SpeedUnit(saved.SpeedUnit),
		Hysteresis:      saved.Hysteresis,
	}, nil)

	link, err := newLink(cfg, role)
	if err != nil {
		return err
	}
	defer link.Close()

	line, err := newDirectionLine(cfg.Direction)
	if err != nil {
		return err
	}
	settle := cfg.Direction.Settle
	if _, ok := line.(direction.NopLine); ok {
		settle = 0
	}
	tx := direction.NewTransmitter(link, line, settle)

	regs := registers.New(bridge.Sizes)
	var r *router.Router
	if role == modbus.RoleMaster {
		r = router.NewMaster(master.New(framing, tx))
	} else {
		r = router.NewSlave(slave.New(saved.UnitID, framing, regs, tx))
	}

	timer := capture.NewTimer(cfg.Sensor.TimerFrequency, cfg.Sensor.TimerWrap, time.Now())
	source, err := capture.NewSource(cfg.Sensor.Source, cfg.Sensor.Pin, cfg.Sensor.SimulateInterval, timer)
	if err != nil {
		return err
	}

	publisher := telemetry.New(cfg.Telemetry)
	if err := publisher.Connect(); err != nil {
		slog.Warn("Telemetry broker unavailable, retrying in background", "err", err)
	}
	defer publisher.Close()

	frames := &queue.FrameQueue{}
	b := bridge.New(bridge.Options{
		Counter:   counter,
		Registers: regs,
		Router:    r,
		Queue:     frames,
		Store:     store,
		Publisher: publisher,
		Settings:  saved,
		Master: bridge.MasterConfig{
			UnitID:       cfg.Master.UnitID,
			Register:     cfg.Master.Register,
			PollInterval: cfg.Master.PollInterval,
			Timeout:      cfg.Master.Timeout,
		},
		LoopInterval:      cfg.LoopInterval,
		TelemetryInterval: cfg.Telemetry.Interval,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var wg sync.WaitGroup
	wg.Add(3)
	go func() {
		defer wg.Done()
		if err := link.Start(ctx, frames); err != nil {
			slog.Error("Link stopped with error", "type", cfg.Link.Type, "err", err)
			cancel()
		}
	}()
	go func() {
		defer wg.Done()
		if err := source.Run(ctx, counter); err != nil && !errors.Is(err, context.Canceled) {
			slog.Error("Pulse source stopped with error", "source", cfg.Sensor.Source, "err", err)
			cancel()
		}
	}()
	go func() {
		defer wg.Done()
		b.Run(ctx)
	}()

	// Wait for Signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-sigChan:
		slog.Info("Shutting down...")
	case <-ctx.Done():
	}
	cancel()
	wg.Wait()
	return nil
}

func newLink(cfg *config.Config, role modbus.Role) (transport.Link, error) {
	dial := role == modbus.RoleMaster
	switch cfg.Link.Type {
	case "rtu":
		return rtu.NewLink(cfg.Link.Serial, dial), nil
	case "tcp":
		if dial {
			return tcp.NewClient(cfg.Link.Tcp.Address), nil
		}
		return tcp.NewServer(cfg.Link.Tcp.Address), nil
	case "rtu-over-tcp":
		if dial {
			return rtuovertcp.NewClient(cfg.Link.Tcp.Address, cfg.Link.Serial.FrameTimeout), nil
		}
		return rtuovertcp.NewServer(cfg.Link.Tcp.Address, cfg.Link.Serial.FrameTimeout), nil
	}
	return nil, fmt.Errorf("unknown link type: %s", cfg.Link.Type)
}

func newDirectionLine(cfg config.DirectionConfig) (direction.Line, error) {
	switch strings.ToLower(cfg.Type) {
	case "", "none":
		return direction.NopLine{}, nil
	case "gpio":
		return direction.OpenGPIO(cfg.Pin, cfg.ActiveLow)
	}
	return nil, fmt.Errorf("unknown direction line type: %s", cfg.Type)
}

func setupLogger(cfg config.LogConfig) {
	opts := &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}
	switch cfg.Level {
	case "debug":
		opts.Level = slog.LevelDebug
	case "warn":
		opts.Level = slog.LevelWarn
	case "error":
		opts.Level = slog.LevelError
	}

	var handler slog.Handler
	if cfg.File != "" && cfg.File != "-" {
		f, err := os.OpenFile(cfg.File, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
		if err != nil {
			fmt.Printf("Failed to open log file, falling back to stdout: %v\n", err)
			handler = slog.NewTextHandler(os.Stdout, opts)
		} else {
			handler = slog.NewTextHandler(f, opts)
		}
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	slog.SetDefault(slog.New(handler))
}
