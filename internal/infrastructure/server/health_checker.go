package server

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/Aidin1998/threshold/internal/infrastructure/ratelimit"
)

// HealthStatus represents the health status of a component
type HealthStatus string

const (
	HealthStatusUp      HealthStatus = "UP"
	HealthStatusDown    HealthStatus = "DOWN"
	HealthStatusWarning HealthStatus = "WARNING"
)

// ComponentHealth represents the health of a single backend
type ComponentHealth struct {
	Status    HealthStatus  `json:"status"`
	Timestamp time.Time     `json:"timestamp"`
	Duration  time.Duration `json:"duration"`
	Error     string        `json:"error,omitempty"`
}

// HealthReport represents the overall health report
type HealthReport struct {
	Status     HealthStatus                `json:"status"`
	Ready      bool                        `json:"ready"`
	Timestamp  time.Time                   `json:"timestamp"`
	Duration   time.Duration               `json:"duration"`
	Components map[string]*ComponentHealth `json:"components"`
}

// HealthChecker pings the configured backends. A failing backend degrades
// health to WARNING, because checks keep answering through their fail mode,
// but makes the instance not ready.
type HealthChecker struct {
	logger     *zap.Logger
	components []ratelimit.HealthChecker
	timeout    time.Duration

	mu            sync.Mutex
	last          *HealthReport
	cacheDuration time.Duration
}

// NewHealthChecker creates a checker over components.
func NewHealthChecker(logger *zap.Logger, components ...ratelimit.HealthChecker) *HealthChecker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HealthChecker{
		logger:        logger,
		components:    components,
		timeout:       2 * time.Second,
		cacheDuration: 2 * time.Second,
	}
}

// Register adds a component.
func (hc *HealthChecker) Register(c ratelimit.HealthChecker) {
	hc.mu.Lock()
	defer hc.mu.Unlock()
	hc.components = append(hc.components, c)
	hc.last = nil
}

// HealthHandler reports health; it only fails when the process cannot serve.
func (hc *HealthChecker) HealthHandler(c *gin.Context) {
	c.JSON(http.StatusOK, hc.Check(c.Request.Context()))
}

// ReadinessHandler returns 503 while any backend is down.
func (hc *HealthChecker) ReadinessHandler(c *gin.Context) {
	report := hc.Check(c.Request.Context())
	status := http.StatusOK
	if !report.Ready {
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, report)
}

// Check runs every component check concurrently. Results are cached briefly
// so probes don't hammer the backends.
func (hc *HealthChecker) Check(ctx context.Context) *HealthReport {
	hc.mu.Lock()
	if hc.last != nil && time.Since(hc.last.Timestamp) < hc.cacheDuration {
		report := hc.last
		hc.mu.Unlock()
		return report
	}
	components := append([]ratelimit.HealthChecker(nil), hc.components...)
	hc.mu.Unlock()

	start := time.Now()
	report := &HealthReport{
		Status:     HealthStatusUp,
		Ready:      true,
		Components: make(map[string]*ComponentHealth, len(components)),
	}

	var wg sync.WaitGroup
	var mu sync.Mutex
	for _, component := range components {
		wg.Add(1)
		go func(component ratelimit.HealthChecker) {
			defer wg.Done()
			checkCtx, cancel := context.WithTimeout(ctx, hc.timeout)
			defer cancel()

			began := time.Now()
			health := &ComponentHealth{Status: HealthStatusUp, Timestamp: began}
			if err := component.HealthCheck(checkCtx); err != nil {
				health.Status = HealthStatusDown
				health.Error = err.Error()
				hc.logger.Warn("Health check failed", zap.String("component", component.Name()), zap.Error(err))
			}
			health.Duration = time.Since(began)

			mu.Lock()
			report.Components[component.Name()] = health
			if health.Status == HealthStatusDown {
				report.Status = HealthStatusWarning
				report.Ready = false
			}
			mu.Unlock()
		}(component)
	}
	wg.Wait()

	report.Timestamp = time.Now()
	report.Duration = time.Since(start)

	hc.mu.Lock()
	hc.last = report
	hc.mu.Unlock()
	return report
}
