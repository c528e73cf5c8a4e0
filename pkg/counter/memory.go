package counter

import (
	"context"
	"sync"
	"time"
)

type memoryEntry struct {
	count     int64
	expiresAt time.Time
}

// MemoryStore is an in-process Store with the same TTL-on-create contract
// as the Redis implementation. Used in tests and single-node deployments.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]*memoryEntry
	now     func() time.Time
}

// NewMemoryStore creates an empty in-memory counter store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		entries: make(map[string]*memoryEntry),
		now:     time.Now,
	}
}

// WithNow overrides the time source (useful for tests).
func (s *MemoryStore) WithNow(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

// IncrementAndGet atomically increments key, setting ttl on first creation.
func (s *MemoryStore) IncrementAndGet(_ context.Context, key string, ttl time.Duration) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	entry, ok := s.entries[key]
	if !ok || now.After(entry.expiresAt) {
		s.entries[key] = &memoryEntry{count: 1, expiresAt: now.Add(ttl)}
		return 1, nil
	}

	entry.count++
	return entry.count, nil
}

// Get returns the current counter value if the key exists and is unexpired.
func (s *MemoryStore) Get(_ context.Context, key string) (int64, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.entries[key]
	if !ok || s.now().After(entry.expiresAt) {
		return 0, false, nil
	}

	return entry.count, true, nil
}

var _ Store = (*MemoryStore)(nil)
