package config

import (
	"time"

	"github.com/Aidin1998/threshold/internal/redis"
)

// Config is the process configuration for the threshold service
type Config struct {
	Environment string          `mapstructure:"environment" yaml:"environment" validate:"required,oneof=development staging production test"`
	Logging     LoggingConfig   `mapstructure:"logging" yaml:"logging"`
	Server      ServerConfig    `mapstructure:"server" yaml:"server"`
	RateLimit   RateLimitConfig `mapstructure:"ratelimit" yaml:"ratelimit"`
	Redis       redis.Config    `mapstructure:"redis" yaml:"redis"`
	Badger      BadgerConfig    `mapstructure:"badger" yaml:"badger"`
	Database    DatabaseConfig  `mapstructure:"database" yaml:"database"`
	Kafka       KafkaConfig     `mapstructure:"kafka" yaml:"kafka"`
	Admin       AdminConfig     `mapstructure:"admin" yaml:"admin"`
	Tracing     TracingConfig   `mapstructure:"tracing" yaml:"tracing"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level string `mapstructure:"level" yaml:"level" validate:"required,oneof=debug info warn error"`
}

// ServerConfig represents HTTP server configuration
type ServerConfig struct {
	Host            string        `mapstructure:"host" yaml:"host"`
	Port            int           `mapstructure:"port" yaml:"port" validate:"min=1,max=65535"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout" yaml:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout" yaml:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`
	MetricsPath     string        `mapstructure:"metrics_path" yaml:"metrics_path"`
	// Clients inside these CIDRs are never throttled.
	TrustedCIDRs []string `mapstructure:"trusted_cidrs" yaml:"trusted_cidrs"`
	// Forwarding headers are only believed from peers inside these CIDRs.
	// Behind a forward-auth proxy this must name the proxy, or every request
	// is keyed by the proxy address.
	TrustedProxies []string `mapstructure:"trusted_proxies" yaml:"trusted_proxies"`
	AllowedOrigins []string `mapstructure:"allowed_origins" yaml:"allowed_origins"`
}

// RateLimitConfig selects the engine backends and limit tables
type RateLimitConfig struct {
	Namespace      string `mapstructure:"namespace" yaml:"namespace"`
	CounterBackend string `mapstructure:"counter_backend" yaml:"counter_backend" validate:"required,oneof=memory redis badger"`
	AbuseBackend   string `mapstructure:"abuse_backend" yaml:"abuse_backend" validate:"required,oneof=none memory redis badger sql"`
	AbusePrefix    string `mapstructure:"abuse_prefix" yaml:"abuse_prefix"`
	// LimitsFile optionally replaces the built-in tier and endpoint tables.
	LimitsFile string `mapstructure:"limits_file" yaml:"limits_file"`
}

// BadgerConfig locates the embedded store; an empty path runs in memory
type BadgerConfig struct {
	Path string `mapstructure:"path" yaml:"path"`
}

// DatabaseConfig holds the SQL abuse store connection
type DatabaseConfig struct {
	Driver          string        `mapstructure:"driver" yaml:"driver" validate:"required,oneof=postgres sqlite"`
	DSN             string        `mapstructure:"dsn" yaml:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns" yaml:"max_open_conns" validate:"min=0"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns" yaml:"max_idle_conns" validate:"min=0"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime" yaml:"conn_max_lifetime"`
}

// KafkaConfig configures abuse event publishing
type KafkaConfig struct {
	Enabled bool     `mapstructure:"enabled" yaml:"enabled"`
	Brokers []string `mapstructure:"brokers" yaml:"brokers" validate:"required_if=Enabled true"`
	Topic   string   `mapstructure:"topic" yaml:"topic" validate:"required_if=Enabled true"`
}

// AdminConfig protects the admin API
type AdminConfig struct {
	Enabled   bool   `mapstructure:"enabled" yaml:"enabled"`
	JWTSecret string `mapstructure:"jwt_secret" yaml:"jwt_secret" validate:"required_if=Enabled true"`
	Issuer    string `mapstructure:"issuer" yaml:"issuer"`
}

// TracingConfig enables span export. Metrics additionally installs an
// OpenTelemetry meter provider next to the Prometheus registry.
type TracingConfig struct {
	Enabled     bool   `mapstructure:"enabled" yaml:"enabled"`
	Metrics     bool   `mapstructure:"metrics" yaml:"metrics"`
	ServiceName string `mapstructure:"service_name" yaml:"service_name"`
}
