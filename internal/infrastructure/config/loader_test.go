package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(zap.NewNop(), filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)

	assert.Equal(t, "development", cfg.Environment)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "memory", cfg.RateLimit.CounterBackend)
	assert.Equal(t, "threshold", cfg.RateLimit.Namespace)
	assert.Equal(t, "localhost:6379", cfg.Redis.Addr)
	assert.Equal(t, 200*time.Millisecond, cfg.Redis.ReadTimeout)
	assert.False(t, cfg.Kafka.Enabled)
}

func TestLoadFileAndEnvOverride(t *testing.T) {
	path := writeConfig(t, `
environment: staging
server:
  port: 9000
  trusted_cidrs: ["10.0.0.0/8"]
  trusted_proxies: ["172.16.0.0/12"]
ratelimit:
  counter_backend: redis
  abuse_backend: sql
redis:
  addr: redis.internal:6379
`)
	t.Setenv("THRESHOLD_REDIS_ADDR", "redis.override:6380")
	t.Setenv("THRESHOLD_LOGGING_LEVEL", "debug")

	cfg, err := Load(zap.NewNop(), path)
	require.NoError(t, err)

	assert.Equal(t, "staging", cfg.Environment)
	assert.Equal(t, 9000, cfg.Server.Port)
	assert.Equal(t, []string{"10.0.0.0/8"}, cfg.Server.TrustedCIDRs)
	assert.Equal(t, []string{"172.16.0.0/12"}, cfg.Server.TrustedProxies)
	assert.Equal(t, "redis", cfg.RateLimit.CounterBackend)
	assert.Equal(t, "sql", cfg.RateLimit.AbuseBackend)
	assert.Equal(t, "redis.override:6380", cfg.Redis.Addr)
	assert.Equal(t, "debug", cfg.Logging.Level)
}

func TestLoadRejectsInvalid(t *testing.T) {
	path := writeConfig(t, `
ratelimit:
  counter_backend: memcached
`)
	_, err := Load(zap.NewNop(), path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "validation failed")
}

func TestLoadRequiresAdminSecret(t *testing.T) {
	path := writeConfig(t, `
admin:
  enabled: true
`)
	_, err := Load(zap.NewNop(), path)
	require.Error(t, err)
}
