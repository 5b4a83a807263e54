// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package kvstore

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/bureau-foundation/chatcore/lib/clock"
)

// Memory is an in-process Store.
type Memory struct {
	clock clock.Clock

	mu      sync.Mutex
	entries map[string]*memoryEntry
}

type memoryEntry struct {
	counter int64
	value   []byte
	expires time.Time
}

func (e *memoryEntry) expired(now time.Time) bool {
	return !e.expires.IsZero() && !now.Before(e.expires)
}

// NewMemory creates an empty store. A nil clock uses real time.
func NewMemory(c clock.Clock) *Memory {
	if c == nil {
		c = clock.Real()
	}
	return &Memory{clock: c, entries: make(map[string]*memoryEntry)}
}

// live returns the entry at key, dropping it if expired. Caller holds
// mu.
func (m *Memory) live(key string, now time.Time) *memoryEntry {
	entry, ok := m.entries[key]
	if !ok {
		return nil
	}
	if entry.expired(now) {
		delete(m.entries, key)
		return nil
	}
	return entry
}

func (m *Memory) IncrBy(_ context.Context, key string, delta int64, ttl time.Duration) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.clock.Now()
	entry := m.live(key, now)
	if entry == nil || entry.value != nil {
		entry = &memoryEntry{expires: expiry(now, ttl)}
		m.entries[key] = entry
	}
	entry.counter += delta
	return entry.counter, nil
}

func (m *Memory) Counter(_ context.Context, key string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if entry := m.live(key, m.clock.Now()); entry != nil && entry.value == nil {
		return entry.counter, nil
	}
	return 0, nil
}

func (m *Memory) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	stored := make([]byte, len(value))
	copy(stored, value)
	m.entries[key] = &memoryEntry{value: stored, expires: expiry(m.clock.Now(), ttl)}
	return nil
}

func (m *Memory) Get(_ context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry := m.live(key, m.clock.Now())
	if entry == nil || entry.value == nil {
		return nil, ErrNotFound
	}
	result := make([]byte, len(entry.value))
	copy(result, entry.value)
	return result, nil
}

func (m *Memory) Expire(_ context.Context, key string, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.clock.Now()
	entry := m.live(key, now)
	if entry == nil {
		return false, nil
	}
	entry.expires = expiry(now, ttl)
	return true, nil
}

func (m *Memory) Delete(_ context.Context, keys ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, key := range keys {
		delete(m.entries, key)
	}
	return nil
}

func (m *Memory) Keys(_ context.Context, prefix string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.clock.Now()
	var keys []string
	for key := range m.entries {
		if strings.HasPrefix(key, prefix) && m.live(key, now) != nil {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

func (m *Memory) DeletePrefix(_ context.Context, prefix string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.clock.Now()
	removed := 0
	for key, entry := range m.entries {
		if !strings.HasPrefix(key, prefix) {
			continue
		}
		if !entry.expired(now) {
			removed++
		}
		delete(m.entries, key)
	}
	return removed, nil
}
