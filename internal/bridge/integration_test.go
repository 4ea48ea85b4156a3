// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package bridge

import (
	"context"
	"encoding/binary"
	"sync"
	"testing"
	"time"

	"github.com/ffutop/modbus-tachometer/internal/proximity"
	"github.com/ffutop/modbus-tachometer/internal/queue"
	"github.com/ffutop/modbus-tachometer/internal/registers"
	"github.com/ffutop/modbus-tachometer/internal/settings"
	"github.com/ffutop/modbus-tachometer/modbus"
	"github.com/ffutop/modbus-tachometer/modbus/router"
	"github.com/ffutop/modbus-tachometer/modbus/slave"
	"github.com/ffutop/modbus-tachometer/transport/tcp"
	goburrow "github.com/goburrow/modbus"
)

func TestTachometerOverModbusTCP(t *testing.T) {
	link := tcp.NewServer("127.0.0.1:0")
	if err := link.Listen(); err != nil {
		t.Fatal(err)
	}

	counter := proximity.New(proximity.Config{}, nil)
	regs := registers.New(Sizes)
	frames := &queue.FrameQueue{}
	store := settings.NewMemoryStore()
	b := New(Options{
		Counter:      counter,
		Registers:    regs,
		Router:       router.NewSlave(slave.New(1, modbus.FramingTCP, regs, link)),
		Queue:        frames,
		Store:        store,
		Settings:     settings.Defaults(),
		LoopInterval: 5 * time.Millisecond,
	})

	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		link.Start(ctx, frames)
	}()
	go func() {
		defer wg.Done()
		b.Run(ctx)
	}()
	defer func() {
		cancel()
		wg.Wait()
	}()

	counter.HandleCapture(0)
	counter.HandleCapture(5000)

	handler := goburrow.NewTCPClientHandler(link.Addr().String())
	handler.Timeout = 2 * time.Second
	handler.SlaveId = 1
	if err := handler.Connect(); err != nil {
		t.Fatalf("Failed to connect: %v", err)
	}
	defer handler.Close()
	client := goburrow.NewClient(handler)

	var rpm uint32
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		results, err := client.ReadInputRegisters(InputRPM, inputCount)
		if err != nil {
			t.Fatalf("ReadInputRegisters failed: %v", err)
		}
		rpm = binary.BigEndian.Uint32(results)
		if rpm == 12000 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if rpm != 12000 {
		t.Fatalf("rpm = %d, want 12000", rpm)
	}

	if _, err := client.WriteMultipleRegisters(HoldingPPR, 2, []byte{0x00, 0x00, 0x00, 0x04}); err != nil {
		t.Fatalf("WriteMultipleRegisters failed: %v", err)
	}
	if counter.PPR() != 4 {
		t.Errorf("ppr = %d, want 4", counter.PPR())
	}

	if _, err := client.WriteSingleRegister(HoldingSave, 1); err != nil {
		t.Fatalf("WriteSingleRegister failed: %v", err)
	}
	saved, err := store.Load()
	if err != nil {
		t.Fatal(err)
	}
	if saved.PPR != 4 {
		t.Errorf("saved ppr = %d, want 4", saved.PPR)
	}

	if _, err := client.ReadHoldingRegisters(holdingCount, 1); err == nil {
		t.Error("read past the holding table succeeded")
	}
}
