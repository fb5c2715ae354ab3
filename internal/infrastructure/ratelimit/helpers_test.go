package ratelimit

import (
	"context"
	"errors"
	"sync"
	"time"
)

var errBackendDown = errors.New("connection refused")

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Unix(1_700_000_000, 0)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

// recordingCounter records every call and either fails with err, delegates
// to next, or allows.
type recordingCounter struct {
	mu    sync.Mutex
	calls []Request
	err   error
	next  CounterStore
}

func (r *recordingCounter) Check(ctx context.Context, key string, limit, windowSeconds int) (Result, error) {
	r.mu.Lock()
	r.calls = append(r.calls, Request{Key: key, Limit: limit, WindowSeconds: windowSeconds})
	err, next := r.err, r.next
	r.mu.Unlock()

	if err != nil {
		return Result{}, backendError("fake counter", err)
	}
	if next != nil {
		return next.Check(ctx, key, limit, windowSeconds)
	}
	return Result{Allowed: true, Remaining: limit - 1, Limit: limit}, nil
}

func (r *recordingCounter) last() Request {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.calls) == 0 {
		return Request{}
	}
	return r.calls[len(r.calls)-1]
}

func (r *recordingCounter) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.calls)
}

// flakyAbuseStore wraps a MemoryAbuseStore with injectable failures.
type flakyAbuseStore struct {
	*MemoryAbuseStore
	getErr, putErr, delErr error
	puts                   int
}

func newFlakyAbuseStore() *flakyAbuseStore {
	return &flakyAbuseStore{MemoryAbuseStore: NewMemoryAbuseStore()}
}

func (s *flakyAbuseStore) Get(ctx context.Context, identity string) (AbuseState, bool, error) {
	if s.getErr != nil {
		return AbuseState{}, false, s.getErr
	}
	return s.MemoryAbuseStore.Get(ctx, identity)
}

func (s *flakyAbuseStore) Put(ctx context.Context, identity string, state AbuseState) error {
	s.puts++
	if s.putErr != nil {
		return s.putErr
	}
	return s.MemoryAbuseStore.Put(ctx, identity, state)
}

func (s *flakyAbuseStore) Delete(ctx context.Context, identity string) error {
	if s.delErr != nil {
		return s.delErr
	}
	return s.MemoryAbuseStore.Delete(ctx, identity)
}

type recordingNotifier struct {
	events []AbuseEvent
	err    error
}

func (n *recordingNotifier) Notify(_ context.Context, event AbuseEvent) error {
	n.events = append(n.events, event)
	return n.err
}

func intPtr(v int) *int { return &v }
