package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-contrib/cors"
	ginzap "github.com/gin-contrib/zap"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.uber.org/zap"

	"github.com/Aidin1998/threshold/internal/infrastructure/config"
	"github.com/Aidin1998/threshold/internal/infrastructure/middleware"
	"github.com/Aidin1998/threshold/internal/infrastructure/ratelimit"
)

// Version is reported by /version; set at build time.
var Version = "dev"

// HTTPServer serves the forward-auth check endpoint, the admin API, health
// probes and metrics.
type HTTPServer struct {
	config config.ServerConfig
	logger *zap.Logger
	router *gin.Engine
	srv    *http.Server
}

// HTTPServerOptions contains options for creating an HTTPServer
type HTTPServerOptions struct {
	Config        config.ServerConfig
	Logger        *zap.Logger
	Engine        *ratelimit.Engine
	Throttle      *middleware.Throttle
	HealthChecker *HealthChecker
	// AdminAuth enables the admin API when set.
	AdminAuth   *ratelimit.AdminAuthenticator
	ServiceName string
}

// NewHTTPServer creates the gin router and the http.Server around it.
func NewHTTPServer(opts HTTPServerOptions) (*HTTPServer, error) {
	if opts.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if opts.Engine == nil {
		return nil, fmt.Errorf("rate limit engine is required")
	}
	if opts.ServiceName == "" {
		opts.ServiceName = "threshold"
	}
	if opts.Throttle == nil {
		opts.Throttle = middleware.NewThrottle(opts.Engine, middleware.Options{
			Logger: opts.Logger,
			Target: middleware.ForwardedTarget,
		})
	}
	if opts.HealthChecker == nil {
		opts.HealthChecker = NewHealthChecker(opts.Logger)
	}

	s := &HTTPServer{
		config: opts.Config,
		logger: opts.Logger,
		router: gin.New(),
	}
	s.setupMiddleware(opts)
	s.setupRoutes(opts)

	s.srv = &http.Server{
		Addr:         net.JoinHostPort(opts.Config.Host, strconv.Itoa(opts.Config.Port)),
		Handler:      s.router,
		ReadTimeout:  opts.Config.ReadTimeout,
		WriteTimeout: opts.Config.WriteTimeout,
	}
	return s, nil
}

func (s *HTTPServer) setupMiddleware(opts HTTPServerOptions) {
	s.router.Use(ginzap.Ginzap(s.logger, time.RFC3339, true))
	s.router.Use(ginzap.RecoveryWithZap(s.logger, true))
	s.router.Use(otelgin.Middleware(opts.ServiceName))

	origins := s.config.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	s.router.Use(cors.New(cors.Config{
		AllowOrigins: origins,
		AllowMethods: []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders: []string{"Origin", "Content-Type", "Accept", "Authorization", "X-Request-ID"},
		ExposeHeaders: []string{
			middleware.HeaderLimit, middleware.HeaderRemaining,
			middleware.HeaderReset, middleware.HeaderRetryAfter,
		},
		MaxAge: 12 * time.Hour,
	}))

	s.router.Use(func(c *gin.Context) {
		c.Header("X-Content-Type-Options", "nosniff")
		c.Header("X-Frame-Options", "DENY")
		c.Next()
	})
}

func (s *HTTPServer) setupRoutes(opts HTTPServerOptions) {
	s.router.GET("/health", opts.HealthChecker.HealthHandler)
	s.router.GET("/ready", opts.HealthChecker.ReadinessHandler)
	if s.config.MetricsPath != "" {
		s.router.GET(s.config.MetricsPath, gin.WrapH(promhttp.Handler()))
	}
	s.router.GET("/version", s.versionHandler)

	// Forward-auth: a proxy sends the original method and URI in headers and
	// forwards the request only on 200.
	v1 := s.router.Group("/v1")
	{
		allow := func(c *gin.Context) { c.Status(http.StatusOK) }
		v1.Any("/authorize", opts.Throttle.Endpoint(), allow)
		v1.Any("/authorize/tenant", opts.Throttle.Tenant(middleware.HeaderTenant), allow)
	}

	if opts.AdminAuth != nil {
		admin := s.router.Group("/admin", opts.AdminAuth.Middleware())
		ratelimit.NewAdminAPI(opts.Engine, s.logger.Named("admin")).RegisterRoutes(admin)
	} else {
		s.logger.Info("Admin API disabled")
	}

	s.router.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{
			"error":   "not_found",
			"message": "The requested resource was not found",
			"path":    c.Request.URL.Path,
		})
	})
}

func (s *HTTPServer) versionHandler(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"service": "threshold",
		"version": Version,
		"time":    time.Now().UTC().Format(time.RFC3339),
	})
}

// Router returns the Gin router instance
func (s *HTTPServer) Router() *gin.Engine {
	return s.router
}

// Addr is the listen address.
func (s *HTTPServer) Addr() string {
	return s.srv.Addr
}

// Start serves until Shutdown is called.
func (s *HTTPServer) Start() error {
	s.logger.Info("Starting HTTP server", zap.String("addr", s.srv.Addr))
	if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("http server: %w", err)
	}
	return nil
}

// Shutdown drains in-flight requests.
func (s *HTTPServer) Shutdown(ctx context.Context) error {
	s.logger.Info("Shutting down HTTP server")
	return s.srv.Shutdown(ctx)
}
