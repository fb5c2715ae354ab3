// Config loader: yaml files, THRESHOLD_* environment overrides and validation
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// EnvPrefix prefixes every environment override, e.g. THRESHOLD_REDIS_ADDR.
const EnvPrefix = "THRESHOLD"

// DefaultPaths are tried in order when Load is given no paths.
var DefaultPaths = []string{
	"./config.yaml",
	"./configs/config.yaml",
	"/etc/threshold/config.yaml",
}

// Load merges the yaml files that exist among paths, applies environment
// overrides and validates the result.
func Load(logger *zap.Logger, paths ...string) (*Config, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("config")

	v := viper.New()
	setupViper(v)
	setDefaults(v)

	if len(paths) == 0 {
		paths = DefaultPaths
	}
	if err := loadConfigFiles(v, logger, paths); err != nil {
		return nil, fmt.Errorf("failed to load config files: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := validator.New().Struct(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	logger.Info("Configuration loaded",
		zap.String("environment", cfg.Environment),
		zap.String("counter_backend", cfg.RateLimit.CounterBackend),
		zap.String("abuse_backend", cfg.RateLimit.AbuseBackend))
	return &cfg, nil
}

func setupViper(v *viper.Viper) {
	v.SetConfigType("yaml")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
}

func loadConfigFiles(v *viper.Viper, logger *zap.Logger, paths []string) error {
	var loaded []string
	for _, path := range paths {
		if _, err := os.Stat(path); os.IsNotExist(err) {
			logger.Debug("Config file not found, skipping", zap.String("path", path))
			continue
		}
		v.SetConfigFile(path)
		if err := v.MergeInConfig(); err != nil {
			return fmt.Errorf("failed to load config file %s: %w", path, err)
		}
		loaded = append(loaded, path)
	}
	if len(loaded) == 0 {
		logger.Warn("No configuration files found, using defaults and environment variables")
	} else {
		logger.Info("Loaded configuration files", zap.Strings("files", loaded))
	}
	return nil
}

// setDefaults registers every key so AutomaticEnv can override it.
func setDefaults(v *viper.Viper) {
	v.SetDefault("environment", "development")
	v.SetDefault("logging.level", "info")

	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", 15*time.Second)
	v.SetDefault("server.write_timeout", 15*time.Second)
	v.SetDefault("server.shutdown_timeout", 10*time.Second)
	v.SetDefault("server.metrics_path", "/metrics")
	v.SetDefault("server.trusted_cidrs", []string{})
	v.SetDefault("server.trusted_proxies", []string{})
	v.SetDefault("server.allowed_origins", []string{"*"})

	v.SetDefault("ratelimit.namespace", "threshold")
	v.SetDefault("ratelimit.counter_backend", "memory")
	v.SetDefault("ratelimit.abuse_backend", "memory")
	v.SetDefault("ratelimit.abuse_prefix", "abuse:")
	v.SetDefault("ratelimit.limits_file", "")

	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.pool_size", 50)
	v.SetDefault("redis.min_idle_conns", 5)
	v.SetDefault("redis.conn_max_lifetime", time.Hour)
	v.SetDefault("redis.conn_max_idle_time", 5*time.Minute)
	v.SetDefault("redis.pool_timeout", time.Second)
	v.SetDefault("redis.max_retries", 1)
	v.SetDefault("redis.min_retry_backoff", 8*time.Millisecond)
	v.SetDefault("redis.max_retry_backoff", 64*time.Millisecond)
	v.SetDefault("redis.dial_timeout", 2*time.Second)
	v.SetDefault("redis.read_timeout", 200*time.Millisecond)
	v.SetDefault("redis.write_timeout", 200*time.Millisecond)
	v.SetDefault("redis.enable_cluster", false)
	v.SetDefault("redis.cluster_addrs", []string{})
	v.SetDefault("redis.enable_sentinel", false)
	v.SetDefault("redis.sentinel_addrs", []string{})
	v.SetDefault("redis.sentinel_password", "")
	v.SetDefault("redis.master_name", "")

	v.SetDefault("badger.path", "")

	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.dsn", "threshold.db")
	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 2)
	v.SetDefault("database.conn_max_lifetime", 30*time.Minute)

	v.SetDefault("kafka.enabled", false)
	v.SetDefault("kafka.brokers", []string{"localhost:9092"})
	v.SetDefault("kafka.topic", "threshold.abuse")

	v.SetDefault("admin.enabled", false)
	v.SetDefault("admin.jwt_secret", "")
	v.SetDefault("admin.issuer", "threshold")

	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.metrics", false)
	v.SetDefault("tracing.service_name", "threshold")
}
