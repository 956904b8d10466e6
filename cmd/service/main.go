package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/kjstillabower/climate-analytics-service/internal/cache"
	"github.com/kjstillabower/climate-analytics-service/internal/client"
	"github.com/kjstillabower/climate-analytics-service/internal/config"
	httphandler "github.com/kjstillabower/climate-analytics-service/internal/http"
	"github.com/kjstillabower/climate-analytics-service/internal/lifecycle"
	"github.com/kjstillabower/climate-analytics-service/internal/models"
	"github.com/kjstillabower/climate-analytics-service/internal/observability"
	"github.com/kjstillabower/climate-analytics-service/internal/service"
	"github.com/kjstillabower/climate-analytics-service/internal/traffic"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	logger, err := observability.NewLogger("")
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	lifecycle.MarkStarted(time.Now())

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("config", zap.Error(err))
	}
	if cfg.TestingMode {
		logger.Warn("testing mode enabled; rate limiting disabled")
	}

	weatherClient, err := client.NewOpenMeteoClientWithOptions(cfg.WeatherAPIURL, client.Options{
		APIKey:         cfg.WeatherAPIKey,
		Timeout:        cfg.WeatherAPITimeout,
		RetryAttempts:  cfg.RetryAttempts,
		RetryBaseDelay: cfg.RetryBaseDelay,
		RetryMaxDelay:  cfg.RetryMaxDelay,
	})
	if err != nil {
		logger.Fatal("weather client", zap.Error(err))
	}

	if cfg.CircuitBreakerEnabled {
		threshold := uint32(cfg.CircuitBreakerFailureThreshold)
		weatherClient.SetCircuitBreaker(gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        "open_meteo",
			MaxRequests: uint32(cfg.CircuitBreakerHalfOpenRequests),
			Timeout:     cfg.CircuitBreakerOpenTimeout,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= threshold
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				logger.Warn("circuit breaker state change",
					zap.String("breaker", name),
					zap.String("from", from.String()),
					zap.String("to", to.String()))
			},
		}))
		logger.Info("circuit breaker enabled",
			zap.Int("failure_threshold", cfg.CircuitBreakerFailureThreshold),
			zap.Duration("open_timeout", cfg.CircuitBreakerOpenTimeout))
	}

	clock := clockwork.NewRealClock()
	var store cache.Cache
	var memcacheCloser *cache.MemcachedCache
	switch cfg.CacheBackend {
	case "memcached":
		mc, err := cache.NewMemcachedCache(cfg.MemcachedAddrs, cfg.MemcachedTimeout, cfg.MemcachedMaxIdleConns)
		if err != nil {
			logger.Fatal("memcached cache", zap.Error(err))
		}
		memcacheCloser = mc
		store = mc
		logger.Info("cache backend: memcached", zap.String("addrs", cfg.MemcachedAddrs))
	default:
		store = cache.NewInMemoryCacheWithLimit(clock, cfg.CacheMaxEntries)
		logger.Info("cache backend: in_memory", zap.Int("max_entries", cfg.CacheMaxEntries))
	}

	analytics := service.NewAnalyticsService(weatherClient, store, service.Options{
		HistoricalYears: cfg.HistoricalYears,
		HistoricalTTL:   cfg.CacheTTL,
		Clock:           clock,
		Logger:          logger,
	})

	tracker := traffic.Default()
	observability.RegisterWindowGauges(tracker, cfg.OverloadWindow)

	healthConfig := &httphandler.HealthConfig{
		OverloadWindow:       cfg.OverloadWindow,
		OverloadThresholdPct: cfg.OverloadThresholdPct,
		RateLimitRPS:         cfg.RateLimitRPS,
		DegradedWindow:       cfg.DegradedWindow,
		DegradedErrorPct:     cfg.DegradedErrorPct,
		Version:              version,
		CircuitState:         weatherClient.CircuitState,
	}
	if memcacheCloser != nil {
		healthConfig.CachePing = memcacheCloser.Ping
	}

	var limiter *rate.Limiter
	if cfg.RateLimitRPS > 0 && !cfg.TestingMode {
		limiter = rate.NewLimiter(rate.Limit(cfg.RateLimitRPS), cfg.RateLimitBurst)
	}

	handler := httphandler.NewHandler(analytics, healthConfig, tracker, clock, logger)
	router := httphandler.NewRouter(handler, logger, httphandler.RouterOptions{
		RequestTimeout: cfg.RequestTimeout,
		Limiter:        limiter,
		Tracker:        tracker,
	})

	var warmer *cache.Warmer
	if cfg.WarmingEnabled {
		points := make([]models.GeoPoint, 0, len(cfg.TrackedPoints))
		for _, p := range cfg.TrackedPoints {
			lat, lon, _ := config.ParsePoint(p) // validated by config.Load
			points = append(points, models.GeoPoint{Lat: lat, Lon: lon})
		}
		warmer = cache.NewWarmer(analytics, logger, 0)
		if err := warmer.Start(context.Background(), points, cfg.WarmingInterval); err != nil {
			logger.Warn("cache warming not started", zap.Error(err))
		}
	}

	srv := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: cfg.RequestTimeout + 5*time.Second,
	}

	go func() {
		logger.Info("server starting", zap.String("addr", ":"+cfg.ServerPort), zap.String("version", version))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server", zap.Error(err))
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	<-ctx.Done()
	stop()

	logger.Info("graceful shutdown triggered")
	lifecycle.SetShuttingDown(true)
	if warmer != nil {
		warmer.Stop()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown", zap.Error(err))
	}

	logger.Info("waiting for in-flight requests", zap.Int64("count", httphandler.InFlightCount()))
	if err := httphandler.WaitForInFlight(shutdownCtx, 100*time.Millisecond); err != nil {
		logger.Warn("in-flight requests not completed", zap.Error(err), zap.Int64("remaining", httphandler.InFlightCount()))
	}

	if err := observability.FlushTelemetry(context.Background(), logger); err != nil {
		logger.Error("telemetry flush", zap.Error(err))
	}

	if memcacheCloser != nil {
		if err := memcacheCloser.Close(); err != nil {
			logger.Error("memcached close", zap.Error(err))
		}
	}
	logger.Info("shutdown complete")
}
