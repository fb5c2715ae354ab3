// circuit_breaker.go: Fast failure for counter backends that keep erroring
package ratelimit

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

// ErrCircuitOpen is wrapped by checks rejected while the breaker is open.
var ErrCircuitOpen = errors.New("circuit breaker open")

// BreakerState is the state of a BreakerStore.
type BreakerState int32

const (
	// StateClosed passes every check through.
	StateClosed BreakerState = iota
	// StateOpen fails checks without calling the backend.
	StateOpen
	// StateHalfOpen lets a single probe through.
	StateHalfOpen
)

func (s BreakerState) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

var breakerState = promauto.NewGaugeVec(
	prometheus.GaugeOpts{
		Namespace: "threshold",
		Subsystem: "ratelimit",
		Name:      "circuit_breaker_state",
		Help:      "Counter backend circuit breaker state (0=closed, 1=open, 2=half-open)",
	},
	[]string{"backend"},
)

// BreakerConfig configures a BreakerStore.
type BreakerConfig struct {
	Name        string        `yaml:"name" json:"name"`
	MaxFailures int           `yaml:"max_failures" json:"max_failures"`
	OpenTimeout time.Duration `yaml:"open_timeout" json:"open_timeout"`
}

// BreakerStore wraps a CounterStore. After MaxFailures consecutive backend
// errors it fails checks immediately for OpenTimeout, then sends one probe;
// the probe's outcome closes or reopens the circuit. The engine still applies
// the fail mode to the returned error.
type BreakerStore struct {
	next   CounterStore
	cfg    BreakerConfig
	logger *zap.Logger
	now    Clock

	mu       sync.Mutex
	state    BreakerState
	failures int
	openedAt time.Time
	probing  bool
}

// NewBreakerStore wraps next.
func NewBreakerStore(next CounterStore, cfg BreakerConfig, logger *zap.Logger, clock Clock) *BreakerStore {
	if cfg.Name == "" {
		cfg.Name = "counter"
	}
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = 5
	}
	if cfg.OpenTimeout <= 0 {
		cfg.OpenTimeout = 5 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if clock == nil {
		clock = time.Now
	}
	breakerState.WithLabelValues(cfg.Name).Set(float64(StateClosed))
	return &BreakerStore{next: next, cfg: cfg, logger: logger, now: clock}
}

// State returns the current state.
func (b *BreakerStore) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Check implements CounterStore.
func (b *BreakerStore) Check(ctx context.Context, key string, limit, windowSeconds int) (Result, error) {
	if !b.allow() {
		return Result{}, backendError(b.cfg.Name, ErrCircuitOpen)
	}
	res, err := b.next.Check(ctx, key, limit, windowSeconds)
	b.record(err)
	return res, err
}

func (b *BreakerStore) allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	switch b.state {
	case StateOpen:
		if b.now().Sub(b.openedAt) < b.cfg.OpenTimeout {
			return false
		}
		b.setState(StateHalfOpen)
		b.probing = true
		return true
	case StateHalfOpen:
		if b.probing {
			return false
		}
		b.probing = true
		return true
	default:
		return true
	}
}

func (b *BreakerStore) record(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.probing = false
	if err == nil {
		if b.state != StateClosed {
			b.logger.Info("circuit breaker closed", zap.String("name", b.cfg.Name))
		}
		b.failures = 0
		b.setState(StateClosed)
		return
	}
	b.failures++
	if b.state == StateHalfOpen || b.failures >= b.cfg.MaxFailures {
		if b.state != StateOpen {
			b.logger.Warn("circuit breaker opened",
				zap.String("name", b.cfg.Name), zap.Int("failures", b.failures), zap.Error(err))
		}
		b.openedAt = b.now()
		b.setState(StateOpen)
	}
}

func (b *BreakerStore) setState(s BreakerState) {
	b.state = s
	breakerState.WithLabelValues(b.cfg.Name).Set(float64(s))
}
