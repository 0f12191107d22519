package ratelimit

import (
	"context"
	"sync"
	"time"
)

type ProviderType string

const (
	ProviderMemory ProviderType = "memory"
	ProviderRedis  ProviderType = "redis"
)

// HitResult reports the window state after a hit.
type HitResult struct {
	Allowed bool
	// Count is the number of accepted requests now inside the window.
	Count int
	// Oldest is the earliest accepted request still inside the window.
	Oldest time.Time
}

// Store keeps accepted request instants per key.
type Store interface {
	// Hit drops instants at or before now-window, then records now if fewer
	// than limit instants remain.
	Hit(ctx context.Context, key string, now time.Time, window time.Duration, limit int) (HitResult, error)
	Reset(ctx context.Context, key string) error
	// Sweep removes keys whose newest instant is older than now-idle.
	Sweep(ctx context.Context, now time.Time, idle time.Duration) (int, error)
}

// MemoryStore is the default process-local store.
type MemoryStore struct {
	mu   sync.Mutex
	hits map[string][]time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{hits: make(map[string][]time.Time)}
}

func (s *MemoryStore) Hit(_ context.Context, key string, now time.Time, window time.Duration, limit int) (HitResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := now.Add(-window)
	ts := s.hits[key]

	i := 0
	for i < len(ts) && !ts[i].After(cutoff) {
		i++
	}
	if i > 0 {
		ts = append([]time.Time(nil), ts[i:]...)
	}

	allowed := len(ts) < limit
	if allowed {
		ts = append(ts, now)
	}

	if len(ts) == 0 {
		delete(s.hits, key)
		return HitResult{Allowed: allowed}, nil
	}
	s.hits[key] = ts
	return HitResult{Allowed: allowed, Count: len(ts), Oldest: ts[0]}, nil
}

func (s *MemoryStore) Reset(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.hits, key)
	return nil
}

func (s *MemoryStore) Sweep(_ context.Context, now time.Time, idle time.Duration) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := now.Add(-idle)
	stale := make([]string, 0)
	for key, ts := range s.hits {
		if len(ts) == 0 || ts[len(ts)-1].Before(cutoff) {
			stale = append(stale, key)
		}
	}
	for _, key := range stale {
		delete(s.hits, key)
	}
	return len(stale), nil
}

// Len returns the number of tracked keys.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.hits)
}
