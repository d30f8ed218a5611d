package cache

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is the in-process freshness cache. It is also the fallback
// when the redis backend is unavailable, so cache trouble never takes down
// an aggregation run.
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[string]Entry
	now     func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		entries: make(map[string]Entry),
		now:     time.Now,
	}
}

// NewMemoryStoreWithClock injects a clock for deterministic tests.
func NewMemoryStoreWithClock(now func() time.Time) *MemoryStore {
	return &MemoryStore{
		entries: make(map[string]Entry),
		now:     now,
	}
}

func (s *MemoryStore) Get(ctx context.Context, key string) (*Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entry, ok := s.entries[key]
	if !ok {
		return nil, nil
	}

	// Copy the payload so callers cannot mutate the cached bytes
	data := make([]byte, len(entry.Data))
	copy(data, entry.Data)

	return &Entry{Data: data, Timestamp: entry.Timestamp}, nil
}

func (s *MemoryStore) Set(ctx context.Context, key string, data []byte) error {
	stored := make([]byte, len(data))
	copy(stored, data)

	s.mu.Lock()
	defer s.mu.Unlock()

	s.entries[key] = Entry{Data: stored, Timestamp: s.now()}
	return nil
}

func (s *MemoryStore) Delete(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.entries, key)
	return nil
}

func (s *MemoryStore) Close() error {
	return nil
}

// Prune drops entries written before the cutoff. Stale entries are
// otherwise only overwritten, never read.
func (s *MemoryStore) Prune(cutoff time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for key, entry := range s.entries {
		if entry.Timestamp.Before(cutoff) {
			delete(s.entries, key)
			removed++
		}
	}
	return removed
}
