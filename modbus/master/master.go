// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

// Package master issues Modbus requests and validates the responses.
//
// The engine keeps no request state beyond the transaction counter;
// response timeouts and retries belong to the caller.
package master

import (
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/ffutop/modbus-tachometer/modbus"
	"github.com/ffutop/modbus-tachometer/modbus/crc"
	"github.com/ffutop/modbus-tachometer/modbus/rtu"
	"github.com/ffutop/modbus-tachometer/modbus/tcp"
)

// ResponseHandler receives every response frame that passes validation.
type ResponseHandler func(frame []byte)

// Master builds request frames and validates response frames.
type Master struct {
	framing modbus.Framing
	w       io.Writer

	mu         sync.Mutex
	nextTID    uint16
	lastTID    uint16
	onResponse ResponseHandler
}

// New creates a master writing requests to w, which is expected to drive
// the transceiver direction line around each write.
func New(framing modbus.Framing, w io.Writer) *Master {
	return &Master{
		framing: framing,
		w:       w,
		nextTID: 1,
	}
}

func (m *Master) Framing() modbus.Framing { return m.framing }

// OnResponse registers h for validated responses.
func (m *Master) OnResponse(h ResponseHandler) {
	m.mu.Lock()
	m.onResponse = h
	m.mu.Unlock()
}

// LastTransactionID returns the transaction id of the last TCP request sent.
func (m *Master) LastTransactionID() uint16 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastTID
}

// SendRequest encodes req and transmits it.
func (m *Master) SendRequest(req modbus.Request) error {
	pdu := modbus.EncodePDU(req)
	if len(pdu) == 0 {
		return fmt.Errorf("%w: 0x%02X", modbus.ErrUnsupportedFunction, req.FunctionCode)
	}

	var frame []byte
	var err error
	switch m.framing {
	case modbus.FramingTCP:
		adu := &tcp.ApplicationDataUnit{
			TransactionID: m.allocateTID(req.TransactionID),
			SlaveID:       req.UnitID,
			Pdu:           modbus.ProtocolDataUnit{FunctionCode: pdu[0], Data: pdu[1:]},
		}
		frame, err = adu.Encode()
	default:
		adu := &rtu.ApplicationDataUnit{
			SlaveID: req.UnitID,
			Pdu:     modbus.ProtocolDataUnit{FunctionCode: pdu[0], Data: pdu[1:]},
		}
		frame, err = adu.Encode()
	}
	if err != nil {
		return err
	}

	slog.Debug("Sending modbus request", "framing", m.framing, "unit", req.UnitID, "func", req.FunctionCode, "frame", fmt.Sprintf("% X", frame))
	if _, err := m.w.Write(frame); err != nil {
		return fmt.Errorf("failed to transmit request: %w", err)
	}
	return nil
}

func (m *Master) allocateTID(tid uint16) uint16 {
	m.mu.Lock()
	defer m.mu.Unlock()
	if tid == 0 {
		tid = m.nextTID
		m.nextTID++
		if m.nextTID == 0 {
			m.nextTID = 1
		}
	}
	m.lastTID = tid
	return tid
}

// HandleResponse validates the envelope of frame and passes it to the
// registered handler. It reports whether the frame was accepted.
func (m *Master) HandleResponse(frame []byte) bool {
	if !m.valid(frame) {
		slog.Debug("Dropping modbus response", "framing", m.framing, "len", len(frame))
		return false
	}
	m.mu.Lock()
	h := m.onResponse
	m.mu.Unlock()
	if h != nil {
		h(frame)
	}
	return true
}

func (m *Master) valid(frame []byte) bool {
	if m.framing == modbus.FramingTCP {
		_, err := tcp.Decode(frame)
		return err == nil
	}
	return len(frame) >= rtu.MinFrameSize && crc.Valid(frame)
}

// ParseResponse strips the framing envelope and decodes the PDU. It
// reports false for truncated frames, oversized register counts and
// function codes it does not know. RTU checksums are not re-checked.
func (m *Master) ParseResponse(frame []byte) (modbus.Response, bool) {
	var hdr modbus.ResponseHeader
	var pdu []byte

	if m.framing == modbus.FramingTCP {
		adu, err := tcp.Decode(frame)
		if err != nil {
			return nil, false
		}
		hdr.TransactionID = adu.TransactionID
		hdr.UnitID = adu.SlaveID
		pdu = frame[7 : 6+int(adu.Length)]
	} else {
		if len(frame) < rtu.MinFrameSize {
			return nil, false
		}
		hdr.UnitID = frame[0]
		pdu = frame[1 : len(frame)-2]
	}
	return modbus.DecodeResponse(hdr, pdu)
}
