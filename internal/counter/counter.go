// Package counter provides TTL-windowed counters backing intrusion detection
// and issuance rate limiting.
package counter

import (
	"context"
	"sync"
	"time"
)

// Store tracks named counters with a sliding expiry window. Every increment
// refreshes the TTL, so a counter only lapses after a full quiet window.
type Store interface {
	// Increment adds one to the counter, refreshes its TTL, and returns the
	// new value. A counter that does not exist starts at 1.
	Increment(ctx context.Context, key string, ttl time.Duration) (int64, error)

	// Get returns the current value, or 0 when the counter is absent or
	// expired.
	Get(ctx context.Context, key string) (int64, error)

	// Clear removes the counter immediately.
	Clear(ctx context.Context, key string) error
}

// MemoryStore is an in-process Store for single-node deployments and tests.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]*memoryEntry
}

type memoryEntry struct {
	count     int64
	expiresAt time.Time
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[string]*memoryEntry)}
}

// Increment implements Store.
func (s *MemoryStore) Increment(_ context.Context, key string, ttl time.Duration) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	entry, ok := s.entries[key]
	if !ok || now.After(entry.expiresAt) {
		entry = &memoryEntry{}
		s.entries[key] = entry
	}
	entry.count++
	entry.expiresAt = now.Add(ttl)
	return entry.count, nil
}

// Get implements Store.
func (s *MemoryStore) Get(_ context.Context, key string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.entries[key]
	if !ok {
		return 0, nil
	}
	if time.Now().After(entry.expiresAt) {
		delete(s.entries, key)
		return 0, nil
	}
	return entry.count, nil
}

// Clear implements Store.
func (s *MemoryStore) Clear(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, key)
	return nil
}
