// Copyright (c) 2025 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

// Package transport defines the links that carry Modbus frames between
// the wire and the protocol engines.
package transport

import (
	"context"
	"io"
	"log/slog"
)

// FrameSink accepts complete frames from a link's reader goroutine. It
// must not block; a false return means the frame was dropped.
type FrameSink interface {
	Push(frame []byte) bool
}

// Link is a physical connection carrying Modbus frames.
//
// Start reads frames until ctx is done or the link fails and hands each
// one to sink. It should be called in a goroutine. Write transmits one
// complete frame.
type Link interface {
	Start(ctx context.Context, sink FrameSink) error
	io.Writer
	Close() error
}

// Deliver pushes frame into sink and logs a drop.
func Deliver(sink FrameSink, frame []byte, link string) {
	if !sink.Push(frame) {
		slog.Warn("Dropping received frame, queue full", "link", link, "len", len(frame))
	}
}
