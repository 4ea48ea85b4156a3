// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package queue

import (
	"bytes"
	"sync"
	"testing"
)

func TestCapacity(t *testing.T) {
	var q FrameQueue
	for i := 0; i < Capacity-1; i++ {
		if !q.Push([]byte{byte(i), 0xAA}) {
			t.Fatalf("push %d failed", i)
		}
	}
	if q.Push([]byte{0xFF}) {
		t.Fatal("push into full queue succeeded")
	}
	if q.Dropped() != 1 {
		t.Errorf("Dropped() = %d, want 1", q.Dropped())
	}

	for i := 0; i < Capacity-1; i++ {
		f, ok := q.Pop()
		if !ok {
			t.Fatalf("pop %d failed", i)
		}
		if !bytes.Equal(f.Bytes(), []byte{byte(i), 0xAA}) {
			t.Errorf("pop %d = % X", i, f.Bytes())
		}
	}
	if !q.IsEmpty() {
		t.Error("queue not empty after draining")
	}
}

func TestPopEmpty(t *testing.T) {
	var q FrameQueue
	head, tail := q.head.Load(), q.tail.Load()
	if _, ok := q.Pop(); ok {
		t.Fatal("pop on empty queue succeeded")
	}
	if q.head.Load() != head || q.tail.Load() != tail {
		t.Error("pop on empty queue moved the indices")
	}
}

func TestOversizedFrame(t *testing.T) {
	var q FrameQueue
	if q.Push(make([]byte, FrameSize+1)) {
		t.Fatal("oversized frame accepted")
	}
	if !q.IsEmpty() || q.Dropped() != 1 {
		t.Error("oversized frame changed the queue")
	}
	if !q.Push(make([]byte, FrameSize)) {
		t.Fatal("full-size frame rejected")
	}
}

func TestWrapAround(t *testing.T) {
	var q FrameQueue
	for i := 0; i < 3*Capacity; i++ {
		if !q.Push([]byte{byte(i)}) {
			t.Fatalf("push %d failed", i)
		}
		f, ok := q.Pop()
		if !ok || f.Bytes()[0] != byte(i) {
			t.Fatalf("pop %d = %v, %v", i, f.Bytes(), ok)
		}
	}
}

func TestConcurrentProducerConsumer(t *testing.T) {
	var q FrameQueue
	const n = 5000

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < n; {
			if q.Push([]byte{byte(i), byte(i >> 8)}) {
				i++
			}
		}
	}()

	for want := 0; want < n; {
		f, ok := q.Pop()
		if !ok {
			continue
		}
		got := int(f.Data[0]) | int(f.Data[1])<<8
		if got != want {
			t.Fatalf("frame %d out of order, got %d", want, got)
		}
		want++
	}
	wg.Wait()
}

func BenchmarkPushPop(b *testing.B) {
	var q FrameQueue
	frame := make([]byte, 8)
	for i := 0; i < b.N; i++ {
		q.Push(frame)
		q.Pop()
	}
}
