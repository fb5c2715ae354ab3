// Package ratelimit provides the throttling engine: fixed-window counters,
// tier and endpoint limit resolution and graduated abuse escalation.
package ratelimit

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

var (
	tracer = otel.Tracer("threshold")

	checksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "threshold",
			Subsystem: "ratelimit",
			Name:      "checks_total",
			Help:      "Total number of rate limit checks",
		},
		[]string{"kind", "result"},
	)

	checkDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "threshold",
			Subsystem: "ratelimit",
			Name:      "check_duration_seconds",
			Help:      "Time spent checking rate limits",
			Buckets:   []float64{0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
		},
		[]string{"kind"},
	)

	backendErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "threshold",
			Subsystem: "ratelimit",
			Name:      "backend_errors_total",
			Help:      "Counter and abuse backend failures by operation and fail mode",
		},
		[]string{"operation", "fail_mode"},
	)

	abuseViolations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "threshold",
			Subsystem: "abuse",
			Name:      "violations_total",
			Help:      "Recorded abuse violations by severity",
		},
		[]string{"severity"},
	)

	abuseShortCircuits = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "threshold",
			Subsystem: "abuse",
			Name:      "banned_short_circuits_total",
			Help:      "Checks denied for a banned identity without touching the counter store",
		},
	)
)

// HealthChecker is implemented by stores that can report backend health.
type HealthChecker interface {
	Name() string
	HealthCheck(ctx context.Context) error
}

func resultLabel(r Result) string {
	switch {
	case r.IsBanned():
		return "banned"
	case r.Allowed:
		return "allowed"
	default:
		return "denied"
	}
}

// observeCheck starts a span for one check and returns the function that
// closes it and records the metrics.
func observeCheck(ctx context.Context, kind, key string) (context.Context, func(Result)) {
	ctx, span := tracer.Start(ctx, "ratelimit."+kind, trace.WithAttributes(
		attribute.String("ratelimit.kind", kind),
		attribute.String("ratelimit.key", key),
	))
	start := time.Now()
	return ctx, func(r Result) {
		checkDuration.WithLabelValues(kind).Observe(time.Since(start).Seconds())
		checksTotal.WithLabelValues(kind, resultLabel(r)).Inc()
		span.SetAttributes(
			attribute.Bool("ratelimit.allowed", r.Allowed),
			attribute.Int("ratelimit.remaining", r.Remaining),
			attribute.Int("ratelimit.limit", r.Limit),
		)
		span.End()
	}
}
