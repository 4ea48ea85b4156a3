// Copyright (c) 2014 Quoc-Viet Nguyen. All rights reserved.
// Copyright (c) 2025-2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package rtu

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/ffutop/modbus-tachometer/internal/config"
	"github.com/ffutop/modbus-tachometer/transport"
	"github.com/grid-x/serial"
)

// ErrClosed is returned by writes after the link was closed.
var ErrClosed = errors.New("rtu: link closed")

// Link carries RTU frames over a serial port.
type Link struct {
	// Serial port configuration.
	serial.Config

	// responses selects the response length rule, for the master role.
	responses bool

	mu sync.Mutex
	// port is platform-dependent data structure for serial port.
	port io.ReadWriteCloser
	// unsent is the length of the last write not yet drained.
	unsent int
	closed bool
}

// NewLink maps cfg onto the serial port settings. The frame timeout
// becomes the read timeout, so a read returning no data marks the end of
// a frame.
func NewLink(cfg config.SerialConfig, responses bool) *Link {
	l := &Link{responses: responses}
	l.Config.Address = cfg.Device
	l.Config.BaudRate = cfg.BaudRate
	l.Config.DataBits = cfg.DataBits
	l.Config.StopBits = cfg.StopBits
	l.Config.Parity = cfg.Parity
	l.Config.Timeout = cfg.FrameTimeout
	l.Config.RS485 = serial.RS485Config{
		Enabled:            cfg.RS485,
		DelayRtsBeforeSend: cfg.DelayRtsBeforeSend,
		DelayRtsAfterSend:  cfg.DelayRtsAfterSend,
		RtsHighDuringSend:  cfg.RtsHighDuringSend,
		RtsHighAfterSend:   cfg.RtsHighAfterSend,
		RxDuringTx:         cfg.RxDuringTx,
	}
	return l
}

// Connect opens the serial port if it is not open yet.
func (l *Link) Connect() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.connect()
}

// connect opens the serial port if it is not connected. Caller must hold the mutex.
func (l *Link) connect() error {
	if l.closed {
		return ErrClosed
	}
	if l.port == nil {
		port, err := serial.Open(&l.Config)
		if err != nil {
			return fmt.Errorf("could not open %s: %w", l.Config.Address, err)
		}
		l.port = port
	}
	return nil
}

// Start reads frames until ctx is done.
func (l *Link) Start(ctx context.Context, sink transport.FrameSink) error {
	if err := l.Connect(); err != nil {
		return err
	}
	l.mu.Lock()
	port := l.port
	l.mu.Unlock()
	slog.Info("RTU link open", "device", l.Config.Address, "baud", l.Config.BaudRate)

	// handle close
	go func() {
		<-ctx.Done()
		l.Close()
	}()

	return l.scanLoop(ctx, port, sink)
}

func (l *Link) scanLoop(ctx context.Context, port io.Reader, sink transport.FrameSink) error {
	fr := NewRequestReader(port)
	if l.responses {
		fr = NewResponseReader(port)
	}
	for {
		frame, err := fr.ReadFrame()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("serial read failed: %w", err)
		}
		transport.Deliver(sink, frame, l.Config.Address)
	}
}

// Write transmits one frame.
func (l *Link) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.connect(); err != nil {
		return 0, err
	}
	n, err := l.port.Write(p)
	l.unsent = n
	return n, err
}

// Drain blocks for the time the last written frame needs on the wire at
// the configured baud rate.
func (l *Link) Drain() error {
	l.mu.Lock()
	d := l.drainTime()
	l.unsent = 0
	l.mu.Unlock()
	if d > 0 {
		time.Sleep(d)
	}
	return nil
}

func (l *Link) drainTime() time.Duration {
	if l.unsent == 0 || l.Config.BaudRate <= 0 {
		return 0
	}
	bits := 1 + l.Config.DataBits + l.Config.StopBits
	if l.Config.Parity != "" && l.Config.Parity != "N" {
		bits++
	}
	return time.Duration(l.unsent*bits) * time.Second / time.Duration(l.Config.BaudRate)
}

func (l *Link) Close() (err error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.closed = true
	if l.port != nil {
		err = l.port.Close()
		l.port = nil
	}
	return
}
