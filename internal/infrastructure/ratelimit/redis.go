// redis.go: Redis-backed fixed-window counter and abuse records
package ratelimit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// Denied checks return without INCR so the stored count never exceeds limit.
// The expiry is set on the first increment of a window and repaired if a key
// somehow lost it.
var fixedWindowScript = redis.NewScript(`
local key = KEYS[1]
local limit = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local count = tonumber(redis.call('GET', key) or '0')
if count >= limit then
  local ttl = redis.call('TTL', key)
  if ttl < 0 then
    redis.call('EXPIRE', key, window)
    ttl = window
  end
  return {0, count, ttl}
end
count = redis.call('INCR', key)
if count == 1 then
  redis.call('EXPIRE', key, window)
end
local ttl = redis.call('TTL', key)
if ttl < 0 then
  redis.call('EXPIRE', key, window)
  ttl = window
end
return {1, count, ttl}
`)

// RedisCounterStore is a CounterStore over a standalone, sentinel or
// cluster Redis deployment.
type RedisCounterStore struct {
	client redis.UniversalClient
	now    Clock
}

// NewRedisCounterStore wraps client. A nil clock uses time.Now.
func NewRedisCounterStore(client redis.UniversalClient, clock Clock) *RedisCounterStore {
	if clock == nil {
		clock = time.Now
	}
	return &RedisCounterStore{client: client, now: clock}
}

// Check implements CounterStore.
func (s *RedisCounterStore) Check(ctx context.Context, key string, limit, windowSeconds int) (Result, error) {
	values, err := fixedWindowScript.Run(ctx, s.client, []string{key}, limit, windowSeconds).Result()
	if err != nil {
		return Result{}, backendError("redis fixed window", err)
	}
	allowed, count, ttl, err := parseWindowResult(values)
	if err != nil {
		return Result{}, backendError("redis fixed window", err)
	}
	return windowResult(allowed, int(count), limit, s.now().Unix()+ttl), nil
}

// Name implements HealthChecker.
func (s *RedisCounterStore) Name() string { return "redis" }

// HealthCheck implements HealthChecker.
func (s *RedisCounterStore) HealthCheck(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func parseWindowResult(values interface{}) (allowed bool, count, ttl int64, err error) {
	arr, ok := values.([]interface{})
	if !ok || len(arr) < 3 {
		return false, 0, 0, fmt.Errorf("unexpected lua result: %v", values)
	}
	flag, err := toInt64(arr[0])
	if err != nil {
		return false, 0, 0, err
	}
	if count, err = toInt64(arr[1]); err != nil {
		return false, 0, 0, err
	}
	if ttl, err = toInt64(arr[2]); err != nil {
		return false, 0, 0, err
	}
	return flag == 1, count, ttl, nil
}

func toInt64(value interface{}) (int64, error) {
	switch v := value.(type) {
	case int64:
		return v, nil
	case int:
		return int64(v), nil
	case string:
		return strconv.ParseInt(v, 10, 64)
	case []byte:
		return strconv.ParseInt(string(v), 10, 64)
	default:
		return 0, fmt.Errorf("unexpected value type %T", value)
	}
}

// RedisAbuseStore keeps one JSON document per identity without a TTL; decay
// is computed on read.
type RedisAbuseStore struct {
	client redis.UniversalClient
	prefix string
}

// NewRedisAbuseStore wraps client. Keys are "{prefix}{identity}"; an empty
// prefix defaults to "abuse:".
func NewRedisAbuseStore(client redis.UniversalClient, prefix string) *RedisAbuseStore {
	if prefix == "" {
		prefix = "abuse:"
	}
	return &RedisAbuseStore{client: client, prefix: prefix}
}

// Get implements AbuseStore.
func (s *RedisAbuseStore) Get(ctx context.Context, identity string) (AbuseState, bool, error) {
	data, err := s.client.Get(ctx, s.prefix+identity).Bytes()
	if errors.Is(err, redis.Nil) {
		return AbuseState{}, false, nil
	}
	if err != nil {
		return AbuseState{}, false, backendError("redis abuse get", err)
	}
	var st AbuseState
	if err := json.Unmarshal(data, &st); err != nil {
		return AbuseState{}, false, fmt.Errorf("decode abuse state for %s: %w", identity, err)
	}
	return st, true, nil
}

// Put implements AbuseStore.
func (s *RedisAbuseStore) Put(ctx context.Context, identity string, state AbuseState) error {
	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("encode abuse state: %w", err)
	}
	if err := s.client.Set(ctx, s.prefix+identity, data, 0).Err(); err != nil {
		return backendError("redis abuse put", err)
	}
	return nil
}

// Delete implements AbuseStore.
func (s *RedisAbuseStore) Delete(ctx context.Context, identity string) error {
	if err := s.client.Del(ctx, s.prefix+identity).Err(); err != nil {
		return backendError("redis abuse delete", err)
	}
	return nil
}
