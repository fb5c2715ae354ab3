// memory.go: In-process counter and abuse stores
package ratelimit

import (
	"context"
	"sync"
	"time"
)

type windowCounter struct {
	count     int
	expiresAt time.Time
}

// MemoryCounterStore is a single-process CounterStore. Expired windows are
// dropped lazily by the next check on the same key.
type MemoryCounterStore struct {
	mu       sync.Mutex
	counters map[string]*windowCounter
	now      Clock
	calls    int
}

// NewMemoryCounterStore creates an empty store. A nil clock uses time.Now.
func NewMemoryCounterStore(clock Clock) *MemoryCounterStore {
	if clock == nil {
		clock = time.Now
	}
	return &MemoryCounterStore{
		counters: make(map[string]*windowCounter),
		now:      clock,
	}
}

// Check implements CounterStore.
func (s *MemoryCounterStore) Check(_ context.Context, key string, limit, windowSeconds int) (Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++

	now := s.now()
	c, ok := s.counters[key]
	if !ok || !now.Before(c.expiresAt) {
		c = &windowCounter{expiresAt: now.Add(time.Duration(windowSeconds) * time.Second)}
		s.counters[key] = c
	}
	if c.count >= limit {
		return windowResult(false, c.count, limit, c.expiresAt.Unix()), nil
	}
	c.count++
	return windowResult(true, c.count, limit, c.expiresAt.Unix()), nil
}

// Count returns the current count of a live window.
func (s *MemoryCounterStore) Count(key string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.counters[key]
	if !ok || !s.now().Before(c.expiresAt) {
		return 0
	}
	return c.count
}

// Calls returns how many checks reached the store.
func (s *MemoryCounterStore) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

// Reset drops every counter.
func (s *MemoryCounterStore) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.counters = make(map[string]*windowCounter)
}

func windowResult(allowed bool, count, limit int, resetAt int64) Result {
	remaining := limit - count
	if remaining < 0 {
		remaining = 0
	}
	return Result{Allowed: allowed, Remaining: remaining, ResetAt: resetAt, Limit: limit}
}

// MemoryAbuseStore keeps abuse records in a map.
type MemoryAbuseStore struct {
	mu     sync.RWMutex
	states map[string]AbuseState
}

// NewMemoryAbuseStore creates an empty store.
func NewMemoryAbuseStore() *MemoryAbuseStore {
	return &MemoryAbuseStore{states: make(map[string]AbuseState)}
}

// Get implements AbuseStore.
func (s *MemoryAbuseStore) Get(_ context.Context, identity string) (AbuseState, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.states[identity]
	return cloneState(st), ok, nil
}

// Put implements AbuseStore.
func (s *MemoryAbuseStore) Put(_ context.Context, identity string, state AbuseState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.states[identity] = cloneState(state)
	return nil
}

// Delete implements AbuseStore.
func (s *MemoryAbuseStore) Delete(_ context.Context, identity string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.states, identity)
	return nil
}

func cloneState(st AbuseState) AbuseState {
	if st.BannedUntil != nil {
		st.BannedUntil = int64Ptr(*st.BannedUntil)
	}
	return st
}
