package cache

import (
	"context"
	"sync"
	"time"
)

// Memory is an in-process ResponseCache for development and tests.
type Memory struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
	clock   func() time.Time
}

type memoryEntry struct {
	entry     Entry
	expiresAt time.Time
}

// NewMemory constructs an empty in-memory cache.
func NewMemory() *Memory {
	return &Memory{
		entries: make(map[string]memoryEntry),
		clock:   time.Now,
	}
}

// Get returns the entry when present and unexpired.
func (m *Memory) Get(_ context.Context, key string) (Entry, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored, ok := m.entries[key]
	if !ok {
		return Entry{}, false, nil
	}
	if m.clock().After(stored.expiresAt) {
		delete(m.entries, key)
		return Entry{}, false, nil
	}
	return stored.entry, true, nil
}

// Set stores the entry for ttl. A non-positive ttl disables caching.
func (m *Memory) Set(_ context.Context, key string, entry Entry, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[key] = memoryEntry{entry: entry, expiresAt: m.clock().Add(ttl)}
	return nil
}

// Purge drops every entry.
func (m *Memory) Purge(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = make(map[string]memoryEntry)
	return nil
}
