// Copyright (C) 2026 HarborLine AI (engineering@harborline.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package ratelimit

import (
	"context"
	"sync"
	"time"
)

// MemoryCounterStore is an in-process CounterStore for tests and single-node
// deployments without Redis. Counters expire lazily on access.
type MemoryCounterStore struct {
	mu      sync.Mutex
	entries map[string]*memoryCounter

	// now is swappable for tests.
	now func() time.Time
}

type memoryCounter struct {
	count   int64
	expires time.Time
}

// NewMemoryCounterStore creates an empty in-memory store.
func NewMemoryCounterStore() *MemoryCounterStore {
	return &MemoryCounterStore{
		entries: make(map[string]*memoryCounter),
		now:     time.Now,
	}
}

// Incr implements CounterStore.
func (s *MemoryCounterStore) Incr(_ context.Context, key string, window time.Duration) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	entry, ok := s.entries[key]
	if !ok || now.After(entry.expires) {
		entry = &memoryCounter{expires: now.Add(window)}
		s.entries[key] = entry
	}
	entry.count++
	return entry.count, nil
}

// TTL implements CounterStore.
func (s *MemoryCounterStore) TTL(_ context.Context, key string) (time.Duration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.entries[key]
	if !ok {
		return 0, nil
	}
	ttl := entry.expires.Sub(s.now())
	if ttl < 0 {
		return 0, nil
	}
	return ttl, nil
}

// Reset implements CounterStore.
func (s *MemoryCounterStore) Reset(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, key)
	return nil
}

// SetClock overrides the time source. Test hook.
func (s *MemoryCounterStore) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

// Compile-time interface compliance check.
var _ CounterStore = (*MemoryCounterStore)(nil)
