package ratelimit

import (
	"context"
	"os"
	"testing"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testRedisClient(t *testing.T) *redis.Client {
	t.Helper()
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		t.Skip("REDIS_ADDR not set")
	}
	client := redis.NewClient(&redis.Options{Addr: addr})
	if err := client.Ping(context.Background()).Err(); err != nil {
		t.Skipf("redis not reachable at %s: %v", addr, err)
	}
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func TestRedisCounterStore(t *testing.T) {
	client := testRedisClient(t)
	prefix := "threshold-test:" + uuid.NewString() + ":"
	testCounterStore(t, NewRedisCounterStore(client, nil), prefix)
}

func TestRedisCounterStoreSetsExpiry(t *testing.T) {
	ctx := context.Background()
	client := testRedisClient(t)
	key := "threshold-test:" + uuid.NewString()
	store := NewRedisCounterStore(client, nil)

	_, err := store.Check(ctx, key, 5, 120)
	require.NoError(t, err)
	ttl, err := client.TTL(ctx, key).Result()
	require.NoError(t, err)
	assert.Greater(t, ttl.Seconds(), 0.0)
	assert.LessOrEqual(t, ttl.Seconds(), 120.0)

	// A key that lost its expiry gets it back.
	require.NoError(t, client.Persist(ctx, key).Err())
	_, err = store.Check(ctx, key, 5, 120)
	require.NoError(t, err)
	ttl, err = client.TTL(ctx, key).Result()
	require.NoError(t, err)
	assert.Greater(t, ttl.Seconds(), 0.0)
}

func TestRedisAbuseStore(t *testing.T) {
	client := testRedisClient(t)
	prefix := "threshold-test:" + uuid.NewString() + ":"
	testAbuseStore(t, NewRedisAbuseStore(client, ""), prefix)
}

func TestRedisStoresUnavailable(t *testing.T) {
	ctx := context.Background()
	client := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1", MaxRetries: -1})
	defer client.Close()

	_, err := NewRedisCounterStore(client, nil).Check(ctx, "k", 1, 1)
	assert.ErrorIs(t, err, ErrBackendUnavailable)

	_, _, err = NewRedisAbuseStore(client, "").Get(ctx, "id")
	assert.ErrorIs(t, err, ErrBackendUnavailable)

	engine := NewEngine(NewRedisCounterStore(client, nil))
	res, err := engine.CheckEndpoint(ctx, "POST", "/api/auth/login", "ip:1.2.3.4", nil)
	require.NoError(t, err)
	assert.False(t, res.Allowed)
}

func TestParseWindowResult(t *testing.T) {
	allowed, count, ttl, err := parseWindowResult([]interface{}{int64(1), int64(3), int64(58)})
	require.NoError(t, err)
	assert.True(t, allowed)
	assert.Equal(t, int64(3), count)
	assert.Equal(t, int64(58), ttl)

	_, _, _, err = parseWindowResult([]interface{}{int64(1)})
	assert.Error(t, err)

	_, _, _, err = parseWindowResult([]interface{}{int64(0), 1.5, int64(2)})
	assert.Error(t, err)
}
