package main

import (
	"context"
	"fmt"
	"io"

	"go.uber.org/zap"

	"github.com/Aidin1998/threshold/internal/database"
	"github.com/Aidin1998/threshold/internal/infrastructure/config"
	"github.com/Aidin1998/threshold/internal/infrastructure/messaging"
	"github.com/Aidin1998/threshold/internal/infrastructure/ratelimit"
	"github.com/Aidin1998/threshold/internal/redis"
)

// backends is everything built from the rate limit configuration.
type backends struct {
	engine  *ratelimit.Engine
	health  []ratelimit.HealthChecker
	closers []io.Closer
}

func (b *backends) Close(logger *zap.Logger) {
	for i := len(b.closers) - 1; i >= 0; i-- {
		if err := b.closers[i].Close(); err != nil {
			logger.Warn("Failed to close backend", zap.Error(err))
		}
	}
}

type memoryHealth struct{}

func (memoryHealth) Name() string                      { return "memory" }
func (memoryHealth) HealthCheck(context.Context) error { return nil }

type sqlCloser struct{ close func() error }

func (c sqlCloser) Close() error { return c.close() }

func buildBackends(ctx context.Context, cfg *config.Config, logger *zap.Logger) (b *backends, err error) {
	b = &backends{}
	defer func() {
		if err != nil {
			b.Close(logger)
		}
	}()

	var (
		redisClient *redis.Client
		badgerStore *ratelimit.BadgerStore
	)
	needs := func(name string) bool {
		return cfg.RateLimit.CounterBackend == name || cfg.RateLimit.AbuseBackend == name
	}
	if needs("redis") {
		redisClient, err = redis.NewClient(ctx, &cfg.Redis, logger.Sugar())
		if err != nil {
			return nil, err
		}
		b.closers = append(b.closers, redisClient)
	}
	if needs("badger") {
		badgerStore, err = ratelimit.OpenBadgerStore(cfg.Badger.Path, nil)
		if err != nil {
			return nil, err
		}
		b.closers = append(b.closers, badgerStore)
		b.health = append(b.health, badgerStore)
	}

	var counter ratelimit.CounterStore
	switch cfg.RateLimit.CounterBackend {
	case "redis":
		store := ratelimit.NewRedisCounterStore(redisClient.GetClient(), nil)
		b.health = append(b.health, store)
		counter = ratelimit.NewBreakerStore(store, ratelimit.BreakerConfig{Name: "redis"}, logger.Named("breaker"), nil)
	case "badger":
		counter = badgerStore
	case "memory":
		counter = ratelimit.NewMemoryCounterStore(nil)
		b.health = append(b.health, memoryHealth{})
	default:
		return nil, fmt.Errorf("unknown counter backend %q", cfg.RateLimit.CounterBackend)
	}

	opts := []ratelimit.Option{
		ratelimit.WithLogger(logger.Named("ratelimit")),
		ratelimit.WithNamespace(cfg.RateLimit.Namespace),
	}

	switch cfg.RateLimit.AbuseBackend {
	case "none":
	case "memory":
		opts = append(opts, ratelimit.WithAbuseStore(ratelimit.NewMemoryAbuseStore()))
	case "redis":
		opts = append(opts, ratelimit.WithAbuseStore(ratelimit.NewRedisAbuseStore(redisClient.GetClient(), cfg.RateLimit.AbusePrefix)))
	case "badger":
		opts = append(opts, ratelimit.WithAbuseStore(badgerStore))
	case "sql":
		db, err := database.Open(cfg.Database)
		if err != nil {
			return nil, err
		}
		sqlDB, err := db.DB()
		if err != nil {
			return nil, err
		}
		b.closers = append(b.closers, sqlCloser{close: sqlDB.Close})
		store, err := ratelimit.NewGormAbuseStore(db)
		if err != nil {
			return nil, err
		}
		b.health = append(b.health, store)
		opts = append(opts, ratelimit.WithAbuseStore(store))
	default:
		return nil, fmt.Errorf("unknown abuse backend %q", cfg.RateLimit.AbuseBackend)
	}

	if cfg.RateLimit.LimitsFile != "" {
		tables, err := ratelimit.LoadTables(cfg.RateLimit.LimitsFile)
		if err != nil {
			return nil, err
		}
		opts = append(opts, ratelimit.WithTables(tables))
	}

	if cfg.Kafka.Enabled && cfg.RateLimit.AbuseBackend != "none" {
		kcfg := messaging.DefaultKafkaConfig()
		kcfg.Brokers = cfg.Kafka.Brokers
		kcfg.Topic = cfg.Kafka.Topic
		notifier := messaging.NewAbuseNotifier(kcfg, logger.Named("kafka"))
		b.closers = append(b.closers, notifier)
		opts = append(opts, ratelimit.WithNotifier(notifier))
	}

	b.engine = ratelimit.NewEngine(counter, opts...)
	logger.Info("Rate limit engine ready",
		zap.String("counter_backend", cfg.RateLimit.CounterBackend),
		zap.String("abuse_backend", cfg.RateLimit.AbuseBackend),
		zap.String("namespace", cfg.RateLimit.Namespace),
		zap.Bool("abuse_events", cfg.Kafka.Enabled))
	return b, nil
}
