// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

// Package rtuovertcp carries raw RTU frames, checksum included, over a
// TCP stream.
package rtuovertcp

import (
	"io"
	"time"

	"github.com/ffutop/modbus-tachometer/transport/rtu"
	"github.com/ffutop/modbus-tachometer/transport/tcp"
)

// DefaultSilence ends a frame whose length cannot be derived from its header.
const DefaultSilence = 20 * time.Millisecond

type deadliner interface {
	SetReadDeadline(t time.Time) error
}

// silenceReader turns a quiet stream into read timeouts, the way a serial
// port with a read timeout reports the gap after a frame.
type silenceReader struct {
	r       io.Reader
	silence time.Duration
}

func (s *silenceReader) Read(p []byte) (int, error) {
	if d, ok := s.r.(deadliner); ok {
		if err := d.SetReadDeadline(time.Now().Add(s.silence)); err != nil {
			return 0, err
		}
	}
	return s.r.Read(p)
}

func frameReader(silence time.Duration, responses bool) tcp.ReadFunc {
	if silence <= 0 {
		silence = DefaultSilence
	}
	return func(r io.Reader) ([]byte, error) {
		sr := &silenceReader{r: r, silence: silence}
		fr := rtu.NewRequestReader(sr)
		if responses {
			fr = rtu.NewResponseReader(sr)
		}
		frame, err := fr.ReadFrame()
		if err != nil {
			return nil, err
		}
		return append([]byte(nil), frame...), nil
	}
}

// NewServer returns a link listening on address. Frames are cut as
// requests, for the slave role.
func NewServer(address string, silence time.Duration) *tcp.Link {
	return tcp.NewStreamServer(address, frameReader(silence, false), "RTU over TCP")
}

// NewClient returns a link dialing address. Frames are cut as responses,
// for the master role.
func NewClient(address string, silence time.Duration) *tcp.Link {
	return tcp.NewStreamClient(address, frameReader(silence, true), "RTU over TCP")
}
