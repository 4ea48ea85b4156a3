// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

// Package queue provides the fixed ring that hands received frames from
// a link reader goroutine to the main loop.
//
// The ring is safe for exactly one producer and one consumer. The
// producer only stores head and the consumer only stores tail; a second
// producer needs an external lock.
package queue

import (
	"sync/atomic"
)

const (
	// Capacity is the number of slots. One slot stays free to tell full from empty.
	Capacity = 8
	// FrameSize is the largest frame a slot holds.
	FrameSize = 256
)

// Frame is one queued frame.
type Frame struct {
	Data [FrameSize]byte
	Len  uint16
}

// Bytes returns the valid part of the frame.
func (f *Frame) Bytes() []byte {
	return f.Data[:f.Len]
}

// FrameQueue is a single-producer single-consumer ring of frames.
type FrameQueue struct {
	slots   [Capacity]Frame
	head    atomic.Uint32
	tail    atomic.Uint32
	dropped atomic.Uint64
}

// Push copies frame into the next free slot. It returns false without
// touching the ring when the ring is full or frame does not fit.
func (q *FrameQueue) Push(frame []byte) bool {
	if len(frame) > FrameSize {
		q.dropped.Add(1)
		return false
	}
	head := q.head.Load()
	next := (head + 1) % Capacity
	if next == q.tail.Load() {
		q.dropped.Add(1)
		return false
	}
	slot := &q.slots[head]
	slot.Len = uint16(copy(slot.Data[:], frame))
	// Publishing head after the copy makes the slot visible to Pop.
	q.head.Store(next)
	return true
}

// Pop removes the oldest frame.
func (q *FrameQueue) Pop() (Frame, bool) {
	tail := q.tail.Load()
	if tail == q.head.Load() {
		return Frame{}, false
	}
	f := q.slots[tail]
	q.tail.Store((tail + 1) % Capacity)
	return f, true
}

func (q *FrameQueue) IsEmpty() bool {
	return q.head.Load() == q.tail.Load()
}

// Dropped returns how many frames Push has refused.
func (q *FrameQueue) Dropped() uint64 {
	return q.dropped.Load()
}
