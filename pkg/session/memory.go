package session

import (
	"context"
	"sync"
	"time"
)

type memoryEntry struct {
	state     *State
	expiresAt time.Time
}

// MemoryStore keeps sessions in process. Expired entries are evicted lazily
// on access and swept on Create.
type MemoryStore struct {
	ttl time.Duration
	now func() time.Time

	mu       sync.RWMutex
	sessions map[string]*memoryEntry
}

// NewMemoryStore returns an in-process store. A zero ttl never expires.
func NewMemoryStore(ttl time.Duration, opts ...Option) *MemoryStore {
	o := buildOptions(opts)
	return &MemoryStore{
		ttl:      ttl,
		now:      o.now,
		sessions: make(map[string]*memoryEntry),
	}
}

func (s *MemoryStore) expired(e *memoryEntry, now time.Time) bool {
	return s.ttl > 0 && !now.Before(e.expiresAt)
}

func (s *MemoryStore) Create(ctx context.Context) (*State, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	now := s.now()
	st := NewState(now)

	s.mu.Lock()
	defer s.mu.Unlock()
	for id, e := range s.sessions {
		if s.expired(e, now) {
			delete(s.sessions, id)
		}
	}
	s.sessions[st.ID] = &memoryEntry{state: st.Clone(), expiresAt: now.Add(s.ttl)}
	return st, nil
}

func (s *MemoryStore) Get(ctx context.Context, id string) (*State, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	now := s.now()
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}
	if s.expired(e, now) {
		delete(s.sessions, id)
		return nil, ErrNotFound
	}
	return e.state.Clone(), nil
}

func (s *MemoryStore) Save(ctx context.Context, st *State) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	now := s.now()
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.sessions[st.ID]
	if !ok || s.expired(e, now) {
		delete(s.sessions, st.ID)
		return ErrNotFound
	}

	st.UpdatedAt = now
	st.stored = st.Len()
	e.state = st.Clone()
	e.expiresAt = now.Add(s.ttl)
	return nil
}

func (s *MemoryStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, id)
	return nil
}

// Count returns the number of live sessions.
func (s *MemoryStore) Count() int {
	now := s.now()
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, e := range s.sessions {
		if !s.expired(e, now) {
			n++
		}
	}
	return n
}

func (s *MemoryStore) Close() error {
	return nil
}

var _ Store = (*MemoryStore)(nil)
