package ratelimit

import (
	"context"
	"sync"
	"time"
)

// Store keeps fixed-window counters. A missing or expired counter reads as
// zero with a window starting now.
//
// Implementations must be safe for concurrent use.
type Store interface {
	Get(ctx context.Context, key string, window time.Duration) (int64, time.Time, error)

	// Increment adds n, opening a new window if the previous one expired,
	// and returns the new count and the window end.
	Increment(ctx context.Context, key string, window time.Duration, n int64) (int64, time.Time, error)

	Delete(ctx context.Context, key string) error
	Close() error
}

var (
	_ Store = (*MemoryStore)(nil)
	_ Store = (*RedisStore)(nil)
)

// sweepEvery is how many increments pass between expired-counter sweeps.
const sweepEvery = 1024

type counter struct {
	count int64
	end   time.Time
}

// MemoryStore is a process-local Store.
type MemoryStore struct {
	mu         sync.Mutex
	counters   map[string]*counter
	increments int
	now        func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{counters: make(map[string]*counter), now: time.Now}
}

func (s *MemoryStore) Get(_ context.Context, key string, window time.Duration) (int64, time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	c, ok := s.counters[key]
	if !ok || !c.end.After(now) {
		return 0, now.Add(window), nil
	}
	return c.count, c.end, nil
}

func (s *MemoryStore) Increment(_ context.Context, key string, window time.Duration, n int64) (int64, time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	s.increments++
	if s.increments%sweepEvery == 0 {
		s.sweep(now)
	}

	c, ok := s.counters[key]
	if !ok || !c.end.After(now) {
		c = &counter{end: now.Add(window)}
		s.counters[key] = c
	}
	c.count += n
	return c.count, c.end, nil
}

func (s *MemoryStore) sweep(now time.Time) {
	for k, c := range s.counters {
		if !c.end.After(now) {
			delete(s.counters, k)
		}
	}
}

func (s *MemoryStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.counters, key)
	return nil
}

func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.counters = make(map[string]*counter)
	return nil
}

// Len reports how many counters are held, expired ones included.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.counters)
}
