package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBreakerStoreOpensAndRecovers(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	backend := &recordingCounter{err: errBackendDown}
	breaker := NewBreakerStore(backend, BreakerConfig{Name: "test", MaxFailures: 3, OpenTimeout: 10 * time.Second}, nil, clock.Now)

	for i := 0; i < 3; i++ {
		_, err := breaker.Check(ctx, "k", 1, 60)
		assert.ErrorIs(t, err, ErrBackendUnavailable)
	}
	assert.Equal(t, StateOpen, breaker.State())
	assert.Equal(t, 3, backend.count())

	_, err := breaker.Check(ctx, "k", 1, 60)
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.ErrorIs(t, err, ErrBackendUnavailable)
	assert.Equal(t, 3, backend.count(), "open circuit does not reach the backend")

	// Failed probe reopens.
	clock.Advance(10 * time.Second)
	_, err = breaker.Check(ctx, "k", 1, 60)
	assert.ErrorIs(t, err, ErrBackendUnavailable)
	assert.Equal(t, 4, backend.count())
	assert.Equal(t, StateOpen, breaker.State())

	// Successful probe closes.
	backend.err = nil
	clock.Advance(10 * time.Second)
	res, err := breaker.Check(ctx, "k", 1, 60)
	require.NoError(t, err)
	assert.True(t, res.Allowed)
	assert.Equal(t, StateClosed, breaker.State())
}

func TestBreakerStoreResetsFailuresOnSuccess(t *testing.T) {
	ctx := context.Background()
	backend := &recordingCounter{}
	breaker := NewBreakerStore(backend, BreakerConfig{MaxFailures: 2}, nil, nil)

	backend.err = errBackendDown
	_, _ = breaker.Check(ctx, "k", 1, 60)
	backend.err = nil
	_, err := breaker.Check(ctx, "k", 1, 60)
	require.NoError(t, err)
	backend.err = errBackendDown
	_, _ = breaker.Check(ctx, "k", 1, 60)

	assert.Equal(t, StateClosed, breaker.State())
}

func TestBreakerStoreAppliesFailMode(t *testing.T) {
	ctx := context.Background()
	breaker := NewBreakerStore(&recordingCounter{err: errBackendDown}, BreakerConfig{MaxFailures: 1}, nil, nil)
	engine := NewEngine(breaker)

	for i := 0; i < 3; i++ {
		login, err := engine.CheckEndpoint(ctx, "POST", "/api/auth/login", "ip:1.2.3.4", nil)
		require.NoError(t, err)
		assert.False(t, login.Allowed)

		posts, err := engine.CheckEndpoint(ctx, "GET", "/api/posts", "ip:1.2.3.4", nil)
		require.NoError(t, err)
		assert.True(t, posts.Allowed)
	}
	assert.Equal(t, StateOpen, breaker.State())
	assert.Equal(t, "half-open", StateHalfOpen.String())
}
