package ratelimit

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testCounterStore exercises the fixed-window contract every CounterStore
// must keep. Keys are prefixed so shared backends don't collide.
func testCounterStore(t *testing.T, store CounterStore, prefix string) {
	t.Helper()
	ctx := context.Background()

	t.Run("denies at limit without counting", func(t *testing.T) {
		key := prefix + "limit"
		for i := 1; i <= 3; i++ {
			res, err := store.Check(ctx, key, 3, 60)
			require.NoError(t, err)
			assert.True(t, res.Allowed)
			assert.Equal(t, 3-i, res.Remaining)
			assert.Greater(t, res.ResetAt, int64(0))
		}
		for i := 0; i < 3; i++ {
			res, err := store.Check(ctx, key, 3, 60)
			require.NoError(t, err)
			assert.False(t, res.Allowed)
			assert.Equal(t, 0, res.Remaining)
		}
		// A larger limit sees the un-inflated count.
		res, err := store.Check(ctx, key, 5, 60)
		require.NoError(t, err)
		assert.True(t, res.Allowed)
		assert.Equal(t, 1, res.Remaining)
	})

	t.Run("keys are independent", func(t *testing.T) {
		res, err := store.Check(ctx, prefix+"a", 1, 60)
		require.NoError(t, err)
		assert.True(t, res.Allowed)
		res, err = store.Check(ctx, prefix+"a", 1, 60)
		require.NoError(t, err)
		assert.False(t, res.Allowed)
		res, err = store.Check(ctx, prefix+"b", 1, 60)
		require.NoError(t, err)
		assert.True(t, res.Allowed)
	})

	t.Run("concurrent checks never exceed limit", func(t *testing.T) {
		const workers, limit = 20, 7
		var wg sync.WaitGroup
		var mu sync.Mutex
		allowed := 0
		for i := 0; i < workers; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				res, err := store.Check(ctx, prefix+"concurrent", limit, 60)
				if err != nil {
					return
				}
				if res.Allowed {
					mu.Lock()
					allowed++
					mu.Unlock()
				}
			}()
		}
		wg.Wait()
		assert.Equal(t, limit, allowed)
	})
}

// testCounterStoreExpiry checks that a window resets once the store clock
// passes its end.
func testCounterStoreExpiry(t *testing.T, store CounterStore, clock *fakeClock) {
	t.Helper()
	ctx := context.Background()

	first, err := store.Check(ctx, "expiry", 1, 10)
	require.NoError(t, err)
	require.True(t, first.Allowed)
	assert.Equal(t, clock.Now().Unix()+10, first.ResetAt)

	clock.Advance(5 * time.Second)
	res, err := store.Check(ctx, "expiry", 1, 10)
	require.NoError(t, err)
	assert.False(t, res.Allowed)
	assert.Equal(t, first.ResetAt, res.ResetAt)

	clock.Advance(5 * time.Second)
	res, err = store.Check(ctx, "expiry", 1, 10)
	require.NoError(t, err)
	assert.True(t, res.Allowed)
	assert.Equal(t, clock.Now().Unix()+10, res.ResetAt)
}

func testAbuseStore(t *testing.T, store AbuseStore, prefix string) {
	t.Helper()
	ctx := context.Background()
	id := prefix + "user:abc"

	_, found, err := store.Get(ctx, id)
	require.NoError(t, err)
	assert.False(t, found)

	warned := AbuseState{Violations: 2, LastViolationAt: 1_700_000_000}
	require.NoError(t, store.Put(ctx, id, warned))
	got, found, err := store.Get(ctx, id)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, warned, got)

	until := int64(1_700_086_400)
	banned := AbuseState{Violations: 5, LastViolationAt: 1_700_000_000, BannedUntil: &until}
	require.NoError(t, store.Put(ctx, id, banned))
	got, _, err = store.Get(ctx, id)
	require.NoError(t, err)
	require.NotNil(t, got.BannedUntil)
	assert.Equal(t, until, *got.BannedUntil)
	assert.Equal(t, 5, got.Violations)

	require.NoError(t, store.Delete(ctx, id))
	_, found, err = store.Get(ctx, id)
	require.NoError(t, err)
	assert.False(t, found)

	require.NoError(t, store.Delete(ctx, prefix+"never-seen"))
}

func TestMemoryCounterStore(t *testing.T) {
	testCounterStore(t, NewMemoryCounterStore(nil), "")
}

func TestMemoryCounterStoreExpiry(t *testing.T) {
	clock := newFakeClock()
	store := NewMemoryCounterStore(clock.Now)
	testCounterStoreExpiry(t, store, clock)

	assert.Equal(t, 1, store.Count("expiry"))
	store.Reset()
	assert.Zero(t, store.Count("expiry"))
	assert.Equal(t, 3, store.Calls())
}

func TestMemoryAbuseStore(t *testing.T) {
	testAbuseStore(t, NewMemoryAbuseStore(), "")
}

func TestMemoryAbuseStoreCopiesState(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryAbuseStore()
	until := int64(100)
	require.NoError(t, store.Put(ctx, "id", AbuseState{Violations: 5, BannedUntil: &until}))
	until = 999

	got, _, err := store.Get(ctx, "id")
	require.NoError(t, err)
	assert.Equal(t, int64(100), *got.BannedUntil)
}
