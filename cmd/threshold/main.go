package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/Aidin1998/threshold/internal/infrastructure/config"
	"github.com/Aidin1998/threshold/internal/infrastructure/middleware"
	"github.com/Aidin1998/threshold/internal/infrastructure/ratelimit"
	"github.com/Aidin1998/threshold/internal/infrastructure/server"
	"github.com/Aidin1998/threshold/internal/telemetry"
	"github.com/Aidin1998/threshold/pkg/logger"
)

func main() {
	// Load environment variables
	if err := godotenv.Load(); err != nil {
		log.Println("Warning: .env file not found, using environment variables")
	}

	logLevel := os.Getenv("THRESHOLD_LOGGING_LEVEL")
	if logLevel == "" {
		logLevel = "info"
	}
	zapLogger, err := logger.NewLogger(logLevel)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer zapLogger.Sync()

	var paths []string
	if p := os.Getenv("THRESHOLD_CONFIG"); p != "" {
		paths = []string{p}
	}
	cfg, err := config.Load(zapLogger, paths...)
	if err != nil {
		zapLogger.Fatal("Failed to load configuration", zap.Error(err))
	}
	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTelemetry, err := telemetry.Setup(ctx, telemetry.Config{
		ServiceName: cfg.Tracing.ServiceName,
		Tracing:     cfg.Tracing.Enabled,
		Metrics:     cfg.Tracing.Metrics,
	})
	if err != nil {
		zapLogger.Fatal("Failed to set up telemetry", zap.Error(err))
	}

	b, err := buildBackends(ctx, cfg, zapLogger)
	if err != nil {
		zapLogger.Fatal("Failed to build rate limit backends", zap.Error(err))
	}

	trusted, err := middleware.NewTrustedNetworks(cfg.Server.TrustedCIDRs)
	if err != nil {
		zapLogger.Fatal("Invalid trusted networks", zap.Error(err))
	}
	proxies, err := middleware.NewTrustedNetworks(cfg.Server.TrustedProxies)
	if err != nil {
		zapLogger.Fatal("Invalid trusted proxies", zap.Error(err))
	}
	throttle := middleware.NewThrottle(b.engine, middleware.Options{
		Logger:     zapLogger.Named("throttle"),
		Trusted:    trusted,
		Proxies:    proxies,
		Target:     middleware.ForwardedTarget,
		AbuseAware: b.engine.Abuse() != nil,
	})

	var adminAuth *ratelimit.AdminAuthenticator
	if cfg.Admin.Enabled {
		adminAuth = ratelimit.NewAdminAuthenticator(cfg.Admin.JWTSecret, cfg.Admin.Issuer, zapLogger.Named("admin"))
	}

	httpServer, err := server.NewHTTPServer(server.HTTPServerOptions{
		Config:        cfg.Server,
		Logger:        zapLogger,
		Engine:        b.engine,
		Throttle:      throttle,
		HealthChecker: server.NewHealthChecker(zapLogger.Named("health"), b.health...),
		AdminAuth:     adminAuth,
		ServiceName:   cfg.Tracing.ServiceName,
	})
	if err != nil {
		zapLogger.Fatal("Failed to create HTTP server", zap.Error(err))
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- httpServer.Start()
	}()

	select {
	case <-ctx.Done():
		zapLogger.Info("Shutdown signal received")
	case err := <-errCh:
		if err != nil {
			zapLogger.Error("HTTP server failed", zap.Error(err))
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		zapLogger.Error("HTTP server shutdown failed", zap.Error(err))
	}
	b.Close(zapLogger)
	if err := shutdownTelemetry(shutdownCtx); err != nil {
		zapLogger.Error("Telemetry shutdown failed", zap.Error(err))
	}
	zapLogger.Info("Server exited properly")
}
