package ratelimit

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestBadger(t *testing.T, clock Clock) *BadgerStore {
	t.Helper()
	store, err := OpenBadgerStore("", clock)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestBadgerCounterStore(t *testing.T) {
	testCounterStore(t, openTestBadger(t, nil), "")
}

func TestBadgerCounterStoreExpiry(t *testing.T) {
	clock := newFakeClock()
	testCounterStoreExpiry(t, openTestBadger(t, clock.Now), clock)
}

func TestBadgerAbuseStore(t *testing.T) {
	testAbuseStore(t, openTestBadger(t, nil), "")
}

func TestBadgerStoreOnDisk(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	store, err := OpenBadgerStore(dir, nil)
	require.NoError(t, err)
	_, err = store.Check(ctx, "persist", 2, 3600)
	require.NoError(t, err)
	require.NoError(t, store.Put(ctx, "user:abc", AbuseState{Violations: 3, LastViolationAt: 42}))
	require.NoError(t, store.Close())

	store, err = OpenBadgerStore(dir, nil)
	require.NoError(t, err)
	defer store.Close()

	res, err := store.Check(ctx, "persist", 2, 3600)
	require.NoError(t, err)
	assert.True(t, res.Allowed)
	assert.Equal(t, 0, res.Remaining)

	st, found, err := store.Get(ctx, "user:abc")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, 3, st.Violations)
}

func TestBadgerStoreHealth(t *testing.T) {
	store, err := OpenBadgerStore("", nil)
	require.NoError(t, err)
	assert.Equal(t, "badger", store.Name())
	assert.NoError(t, store.HealthCheck(context.Background()))

	require.NoError(t, store.Close())
	assert.Error(t, store.HealthCheck(context.Background()))

	_, err = store.Check(context.Background(), "k", 1, 1)
	assert.ErrorIs(t, err, ErrBackendUnavailable)
}
