package cache

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// DefaultMaxEntries bounds the memory backend when no capacity is configured.
const DefaultMaxEntries = 10000

// Memory is a concurrent-safe LRU store with per-entry expiry.
type Memory struct {
	mu         sync.Mutex
	entries    map[string]*memoryEntry
	order      []string // LRU order: front=oldest, back=newest
	maxEntries int
	now        func() time.Time
	hits       atomic.Int64
	misses     atomic.Int64
}

type memoryEntry struct {
	data      []byte
	expiresAt time.Time
}

// StatsReporter is implemented by stores that track their own hit rate.
type StatsReporter interface {
	Stats() Stats
}

// Stats contains memory backend statistics.
type Stats struct {
	Entries    int     `json:"entries"`
	MaxEntries int     `json:"max_entries"`
	Hits       int64   `json:"hits"`
	Misses     int64   `json:"misses"`
	HitRate    float64 `json:"hit_rate"`
}

// NewMemory creates a Memory store holding at most maxEntries entries.
func NewMemory(maxEntries int) *Memory {
	if maxEntries <= 0 {
		maxEntries = DefaultMaxEntries
	}
	return &Memory{
		entries:    make(map[string]*memoryEntry),
		maxEntries: maxEntries,
		now:        time.Now,
	}
}

// Get returns a copy of the stored bytes.
func (m *Memory) Get(_ context.Context, key string) ([]byte, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, ok := m.entries[key]
	if !ok {
		m.misses.Add(1)
		return nil, false, nil
	}
	if !m.now().Before(entry.expiresAt) {
		delete(m.entries, key)
		m.removeFromOrder(key)
		m.misses.Add(1)
		return nil, false, nil
	}

	m.removeFromOrder(key)
	m.order = append(m.order, key)
	m.hits.Add(1)
	return append([]byte(nil), entry.data...), true, nil
}

// Set stores value, evicting the least recently used entry at capacity.
func (m *Memory) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	entry := &memoryEntry{data: append([]byte(nil), value...), expiresAt: m.now().Add(ttl)}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.entries[key]; ok {
		m.entries[key] = entry
		m.removeFromOrder(key)
		m.order = append(m.order, key)
		return nil
	}

	for len(m.entries) >= m.maxEntries && len(m.order) > 0 {
		oldest := m.order[0]
		m.order = m.order[1:]
		delete(m.entries, oldest)
	}

	m.entries[key] = entry
	m.order = append(m.order, key)
	return nil
}

// Purge drops expired entries.
func (m *Memory) Purge(_ context.Context) (int64, error) {
	now := m.now()

	m.mu.Lock()
	defer m.mu.Unlock()

	var removed int64
	remaining := m.order[:0]
	for _, key := range m.order {
		if !now.Before(m.entries[key].expiresAt) {
			delete(m.entries, key)
			removed++
			continue
		}
		remaining = append(remaining, key)
	}
	m.order = remaining
	return removed, nil
}

// Close is a no-op.
func (m *Memory) Close() error { return nil }

// Stats returns cache statistics.
func (m *Memory) Stats() Stats {
	m.mu.Lock()
	entries := len(m.entries)
	m.mu.Unlock()

	hits := m.hits.Load()
	misses := m.misses.Load()

	var hitRate float64
	if total := hits + misses; total > 0 {
		hitRate = float64(hits) / float64(total)
	}
	return Stats{
		Entries:    entries,
		MaxEntries: m.maxEntries,
		Hits:       hits,
		Misses:     misses,
		HitRate:    hitRate,
	}
}

func (m *Memory) removeFromOrder(key string) {
	for i, k := range m.order {
		if k == key {
			m.order = append(m.order[:i], m.order[i+1:]...)
			return
		}
	}
}
