// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package settings

import "sync"

// MemoryStore keeps settings for the lifetime of the process only.
type MemoryStore struct {
	mu    sync.Mutex
	saved *Settings
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (ms *MemoryStore) Load() (Settings, error) {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	if ms.saved == nil {
		return Defaults(), nil
	}
	s := *ms.saved
	s.Hysteresis = append(s.Hysteresis[:0:0], s.Hysteresis...)
	return s, nil
}

func (ms *MemoryStore) Save(s Settings) error {
	s.Hysteresis = append(s.Hysteresis[:0:0], s.Hysteresis...)
	ms.mu.Lock()
	ms.saved = &s
	ms.mu.Unlock()
	return nil
}

func (ms *MemoryStore) Close() error {
	return nil
}
