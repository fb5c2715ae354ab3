package redis

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestNewUniversalClientSelectsMode(t *testing.T) {
	cfg := DefaultConfig()
	c := NewUniversalClient(cfg)
	defer c.Close()
	_, ok := c.(*redis.Client)
	assert.True(t, ok)

	cfg = DefaultConfig()
	cfg.EnableCluster = true
	cfg.ClusterAddrs = []string{"127.0.0.1:7000"}
	cc := NewUniversalClient(cfg)
	defer cc.Close()
	_, ok = cc.(*redis.ClusterClient)
	assert.True(t, ok)

	cfg = DefaultConfig()
	cfg.EnableSentinel = true
	cfg.MasterName = "mymaster"
	cfg.SentinelAddrs = []string{"127.0.0.1:26379"}
	fc := NewUniversalClient(cfg)
	defer fc.Close()
	_, ok = fc.(*redis.Client)
	assert.True(t, ok)
}

func TestNewClientUnreachable(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Addr = "127.0.0.1:1"
	cfg.DialTimeout = 200 * time.Millisecond
	cfg.MaxRetries = -1

	_, err := NewClient(context.Background(), cfg, zap.NewNop().Sugar())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to connect to Redis")
}

func TestClientCloseNil(t *testing.T) {
	assert.NoError(t, (&Client{}).Close())
}
