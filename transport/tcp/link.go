// Copyright (c) 2025-2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package tcp

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"time"

	mbap "github.com/ffutop/modbus-tachometer/modbus/tcp"
	"github.com/ffutop/modbus-tachometer/transport"
)

// ErrNotConnected is returned by Write while no peer is connected.
var ErrNotConnected = errors.New("transport: no peer connected")

const redialDelay = 2 * time.Second

// ReadFunc reads one frame from a stream.
type ReadFunc func(r io.Reader) ([]byte, error)

// Link carries frames over TCP. A listening link serves one peer at a
// time; further peers wait in the accept backlog. A dialing link
// reconnects after the peer goes away.
type Link struct {
	Address string

	dial     bool
	read     ReadFunc
	name     string
	listener net.Listener

	mu   sync.Mutex
	conn net.Conn
}

// NewServer returns a link listening on address for MBAP frames.
func NewServer(address string) *Link {
	return NewStreamServer(address, ReadFrame, "Modbus TCP")
}

// NewClient returns a link dialing address for MBAP frames.
func NewClient(address string) *Link {
	return NewStreamClient(address, ReadFrame, "Modbus TCP")
}

// NewStreamServer returns a listening link cutting frames with read.
func NewStreamServer(address string, read ReadFunc, name string) *Link {
	return &Link{Address: address, read: read, name: name}
}

// NewStreamClient returns a dialing link cutting frames with read.
func NewStreamClient(address string, read ReadFunc, name string) *Link {
	return &Link{Address: address, read: read, name: name, dial: true}
}

// ReadFrame reads one MBAP frame. A header announcing an impossible
// length is an error, since the stream cannot be resynchronized.
func ReadFrame(r io.Reader) ([]byte, error) {
	buf := make([]byte, mbap.MaxSize)
	if _, err := io.ReadFull(r, buf[:mbap.HeaderSize]); err != nil {
		return nil, err
	}
	n, err := mbap.FrameLength(buf[:mbap.HeaderSize])
	if err != nil {
		return nil, err
	}
	if _, err := io.ReadFull(r, buf[mbap.HeaderSize:n]); err != nil {
		return nil, err
	}
	return buf[:n], nil
}

// Listen binds the listening socket. Start calls it when needed.
func (l *Link) Listen() error {
	if l.listener != nil {
		return nil
	}
	listener, err := net.Listen("tcp", l.Address)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", l.Address, err)
	}
	l.listener = listener
	return nil
}

// Addr returns the bound address, or nil before Listen.
func (l *Link) Addr() net.Addr {
	if l.listener == nil {
		return nil
	}
	return l.listener.Addr()
}

// Start serves peers until ctx is done.
func (l *Link) Start(ctx context.Context, sink transport.FrameSink) error {
	if l.dial {
		return l.dialLoop(ctx, sink)
	}

	if err := l.Listen(); err != nil {
		return err
	}
	slog.Info("TCP link listening", "link", l.name, "addr", l.listener.Addr())

	go func() {
		<-ctx.Done()
		l.Close()
	}()

	for {
		conn, err := l.listener.Accept()
		if err != nil {
			// Check if closed
			select {
			case <-ctx.Done():
				return nil
			default:
				if errors.Is(err, net.ErrClosed) {
					return nil
				}
				slog.Error("Failed to accept connection", "err", err)
				continue
			}
		}
		l.serve(ctx, conn, sink)
	}
}

func (l *Link) dialLoop(ctx context.Context, sink transport.FrameSink) error {
	var d net.Dialer
	for {
		conn, err := d.DialContext(ctx, "tcp", l.Address)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			slog.Error("Failed to connect", "link", l.name, "addr", l.Address, "err", err)
		} else {
			stop := context.AfterFunc(ctx, func() { conn.Close() })
			l.serve(ctx, conn, sink)
			stop()
		}
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(redialDelay):
		}
	}
}

func (l *Link) serve(ctx context.Context, conn net.Conn, sink transport.FrameSink) {
	l.mu.Lock()
	l.conn = conn
	l.mu.Unlock()
	defer func() {
		l.mu.Lock()
		if l.conn == conn {
			l.conn = nil
		}
		l.mu.Unlock()
		conn.Close()
	}()
	slog.Info("Peer connected", "link", l.name, "addr", conn.RemoteAddr())

	for {
		frame, err := l.read(conn)
		if err != nil {
			switch {
			case ctx.Err() != nil:
			case errors.Is(err, io.EOF):
				slog.Info("Peer disconnected", "link", l.name, "addr", conn.RemoteAddr())
			default:
				slog.Error("Failed to read from connection", "link", l.name, "addr", conn.RemoteAddr(), "err", err)
			}
			return
		}
		transport.Deliver(sink, frame, l.name)
	}
}

// Write sends p to the connected peer.
func (l *Link) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.conn == nil {
		return 0, ErrNotConnected
	}
	return l.conn.Write(p)
}

// Close closes the listener and the active connection.
func (l *Link) Close() error {
	var err error
	if l.listener != nil {
		err = l.listener.Close()
	}
	l.mu.Lock()
	if l.conn != nil {
		l.conn.Close()
	}
	l.mu.Unlock()
	return err
}
