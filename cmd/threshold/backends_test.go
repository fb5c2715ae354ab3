package main

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Aidin1998/threshold/internal/infrastructure/config"
	"github.com/Aidin1998/threshold/internal/redis"
)

func testConfig(counter, abuse string) *config.Config {
	return &config.Config{
		RateLimit: config.RateLimitConfig{
			Namespace:      "threshold",
			CounterBackend: counter,
			AbuseBackend:   abuse,
		},
		Redis:    *redis.DefaultConfig(),
		Database: config.DatabaseConfig{Driver: "sqlite", DSN: ":memory:"},
	}
}

func TestBuildBackends(t *testing.T) {
	tests := []struct {
		counter, abuse string
		abuseEnabled   bool
		health         []string
	}{
		{"memory", "none", false, []string{"memory"}},
		{"memory", "memory", true, []string{"memory"}},
		{"badger", "badger", true, []string{"badger"}},
		{"memory", "sql", true, []string{"memory", "sql"}},
	}
	for _, tt := range tests {
		t.Run(tt.counter+"/"+tt.abuse, func(t *testing.T) {
			ctx := context.Background()
			b, err := buildBackends(ctx, testConfig(tt.counter, tt.abuse), zap.NewNop())
			require.NoError(t, err)
			defer b.Close(zap.NewNop())

			assert.Equal(t, tt.abuseEnabled, b.engine.Abuse() != nil)
			var names []string
			for _, h := range b.health {
				names = append(names, h.Name())
				assert.NoError(t, h.HealthCheck(ctx))
			}
			assert.ElementsMatch(t, tt.health, names)

			res, err := b.engine.CheckEndpoint(ctx, "POST", "/api/auth/login", "ip:1.2.3.4", nil)
			require.NoError(t, err)
			assert.True(t, res.Allowed)
			assert.Equal(t, 4, res.Remaining)
		})
	}
}

func TestBuildBackendsKafkaNotifier(t *testing.T) {
	cfg := testConfig("memory", "memory")
	cfg.Kafka = config.KafkaConfig{Enabled: true, Brokers: []string{"127.0.0.1:9092"}, Topic: "threshold.abuse"}

	b, err := buildBackends(context.Background(), cfg, zap.NewNop())
	require.NoError(t, err)
	assert.Len(t, b.closers, 1)
	b.Close(zap.NewNop())
}

func TestBuildBackendsErrors(t *testing.T) {
	ctx := context.Background()

	cfg := testConfig("memory", "memory")
	cfg.RateLimit.LimitsFile = filepath.Join(t.TempDir(), "missing.yaml")
	_, err := buildBackends(ctx, cfg, zap.NewNop())
	assert.Error(t, err)

	cfg = testConfig("redis", "none")
	cfg.Redis.Addr = "127.0.0.1:1"
	cfg.Redis.DialTimeout = 200 * time.Millisecond
	cfg.Redis.MaxRetries = -1
	_, err = buildBackends(ctx, cfg, zap.NewNop())
	assert.Error(t, err)

	_, err = buildBackends(ctx, testConfig("carrier-pigeon", "none"), zap.NewNop())
	assert.Error(t, err)
}
