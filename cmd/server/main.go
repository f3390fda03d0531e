package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"github.com/irfndi/correlation-regime-go/internal/analytics"
	"github.com/irfndi/correlation-regime-go/internal/api"
	"github.com/irfndi/correlation-regime-go/internal/api/handlers"
	"github.com/irfndi/correlation-regime-go/internal/cache"
	"github.com/irfndi/correlation-regime-go/internal/config"
	"github.com/irfndi/correlation-regime-go/internal/database"
	"github.com/irfndi/correlation-regime-go/internal/logging"
	"github.com/irfndi/correlation-regime-go/internal/middleware"
	"github.com/irfndi/correlation-regime-go/internal/services"
	"github.com/irfndi/correlation-regime-go/internal/telemetry"
)

const serviceName = "correlation-regime"

// version is overridden at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Application failed: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	// .env is optional; real environment variables win.
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger, otlpLogger := logging.NewStandardOTLPLogger(logging.OTLPConfig{
		Enabled:        cfg.Telemetry.Enabled && cfg.Telemetry.Exporter == telemetry.ExporterOTLP,
		Endpoint:       cfg.Telemetry.Endpoint,
		ServiceName:    cfg.Telemetry.ServiceName,
		ServiceVersion: version,
		Environment:    cfg.Environment,
		LogLevel:       cfg.LogLevel,
	})
	if otlpLogger != nil {
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = otlpLogger.Shutdown(shutdownCtx)
		}()
	}
	logrus.SetLevel(logging.ParseLogrusLevel(cfg.LogLevel))
	logrus.SetFormatter(&logrus.JSONFormatter{})

	tcfg := telemetryConfig(cfg)
	provider, err := telemetry.InitTelemetryWithProvider(ctx, &tcfg, logger.Logger())
	if err != nil {
		return fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := provider.Shutdown(shutdownCtx); err != nil {
			logger.WithError(err).Warn("Telemetry shutdown failed")
		}
	}()

	db, err := database.NewPostgresConnection(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer db.Close()
	pool := database.NewTracedPool(db.Pool, logger)

	checks := map[string]handlers.HealthChecker{"database": db}
	var resultCache services.ResultCache
	var cacheHandler *handlers.CacheHandler
	if cfg.Analytics.EnableCache {
		redisClient, err := database.NewRedisConnection(ctx, cfg.Redis)
		if err != nil {
			return fmt.Errorf("failed to connect to redis: %w", err)
		}
		defer redisClient.Close()
		checks["redis"] = redisClient

		analysisCache := cache.NewAnalysisCache(redisClient.Client, cfg.Analytics.GetCacheTTL(), logger)
		resultCache = analysisCache
		cacheHandler = handlers.NewCacheHandler(analysisCache, logger)
	}

	var alerter services.StressAlerter
	if cfg.Telegram.Enabled {
		notifier, err := services.NewStressNotifier(cfg.Telegram.BotToken, cfg.Telegram.ChatID, logger)
		if err != nil {
			return err
		}
		alerter = notifier
	}

	pipeline := analytics.NewPipeline(analytics.PipelineConfig{
		Denoise:                 cfg.Analytics.Denoise,
		SymmetryTolerance:       cfg.Analytics.SymmetryTolerance,
		LowConfidenceSampleSize: cfg.Analytics.LowConfidenceSampleSize,
	})
	analysisService := services.NewAnalysisService(
		database.NewPriceRepository(pool),
		database.NewSentimentRepository(pool, database.DefaultHeadlinesPerTicker),
		resultCache,
		alerter,
		pipeline,
		services.AnalysisServiceConfig{
			WindowDays:  cfg.Analytics.DefaultWindowDays,
			EnableCache: cfg.Analytics.EnableCache,
		},
		logger,
	)

	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := api.NewRouter(api.RouteDeps{
		Analysis:       handlers.NewAnalysisHandler(analysisService, analysisSettings(cfg), logger),
		Cache:          cacheHandler,
		Health:         handlers.NewHealthHandler(checks, version).WithBreakers(analysisService),
		Auth:           middleware.NewAuthMiddleware(cfg.Security.JWTSecret, cfg.Security.RequireAuth),
		Logger:         logger,
		ServiceName:    cfg.Telemetry.ServiceName,
		AllowedOrigins: cfg.Server.AllowedOrigins,
	})

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           router,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      30 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.LogStartup(serviceName, version, cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		return fmt.Errorf("server failed: %w", err)
	case <-ctx.Done():
	}
	logger.LogShutdown(serviceName, "signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout(cfg))
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}
	analysisService.Close()
	logger.Logger().Info("Server exited gracefully")
	return nil
}

func telemetryConfig(cfg *config.Config) telemetry.TelemetryConfig {
	tcfg := *telemetry.DefaultConfig()
	tcfg.Enabled = cfg.Telemetry.Enabled
	tcfg.Exporter = cfg.Telemetry.Exporter
	tcfg.OTLPEndpoint = cfg.Telemetry.Endpoint
	tcfg.ServiceName = cfg.Telemetry.ServiceName
	tcfg.ServiceVersion = version
	tcfg.Environment = cfg.Environment
	tcfg.LogLevel = cfg.LogLevel
	return tcfg
}

func analysisSettings(cfg *config.Config) handlers.AnalysisSettings {
	return handlers.AnalysisSettings{
		MinTickers:              cfg.Analytics.MinTickers,
		MaxTickers:              cfg.Analytics.MaxTickers,
		DefaultAlpha:            cfg.Analytics.DefaultAlpha,
		SymmetryTolerance:       cfg.Analytics.SymmetryTolerance,
		LowConfidenceSampleSize: cfg.Analytics.LowConfidenceSampleSize,
	}
}

func shutdownTimeout(cfg *config.Config) time.Duration {
	d, err := time.ParseDuration(cfg.Server.ShutdownTimeout)
	if err != nil || d <= 0 {
		return 30 * time.Second
	}
	return d
}
