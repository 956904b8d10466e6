package cache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-co-op/gocron"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/kjstillabower/climate-analytics-service/internal/models"
	"github.com/kjstillabower/climate-analytics-service/internal/observability"
)

// maxConcurrentWarms bounds simultaneous archive fetches during a warming pass.
const maxConcurrentWarms = 4

// HistoricalWarmer is implemented by the service layer to load a point's historical
// series into the cache. Keeps this package free of a dependency on service.
type HistoricalWarmer interface {
	WarmHistorical(ctx context.Context, point models.GeoPoint) error
}

// Warmer prefetches historical series for tracked points, once at startup
// and then on a fixed schedule.
type Warmer struct {
	fetcher   HistoricalWarmer
	logger    *zap.Logger
	timeout   time.Duration
	scheduler *gocron.Scheduler
}

// NewWarmer creates a Warmer. timeout bounds one warming pass; zero means 2 minutes.
func NewWarmer(fetcher HistoricalWarmer, logger *zap.Logger, timeout time.Duration) *Warmer {
	if logger == nil {
		logger = zap.NewNop()
	}
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	return &Warmer{
		fetcher:   fetcher,
		logger:    logger,
		timeout:   timeout,
		scheduler: gocron.NewScheduler(time.UTC),
	}
}

// Warm loads every point concurrently and returns the joined per-point failures.
func (w *Warmer) Warm(ctx context.Context, points []models.GeoPoint) error {
	if len(points) == 0 {
		return nil
	}
	start := time.Now()
	w.logger.Info("warming historical cache", zap.Int("points", len(points)))

	var (
		mu   sync.Mutex
		errs []error
	)
	var g errgroup.Group
	g.SetLimit(maxConcurrentWarms)
	for _, p := range points {
		p := p
		g.Go(func() error {
			if err := w.fetcher.WarmHistorical(ctx, p); err != nil {
				observability.CacheWarmingErrors.Inc()
				mu.Lock()
				errs = append(errs, fmt.Errorf("warm %.4f,%.4f: %w", p.Lat, p.Lon, err))
				mu.Unlock()
				return nil
			}
			observability.CacheWarmingTotal.Inc()
			return nil
		})
	}
	_ = g.Wait()

	duration := time.Since(start).Seconds()
	observability.CacheWarmingDuration.Observe(duration)
	w.logger.Info("cache warming complete",
		zap.Int("points", len(points)),
		zap.Int("errors", len(errs)),
		zap.Float64("duration_seconds", duration))

	if len(errs) > 0 {
		return fmt.Errorf("cache warming: %w", errors.Join(errs...))
	}
	return nil
}

// Start runs a warming pass immediately and then every interval until Stop.
// Each pass gets its own timeout-bound context derived from ctx.
func (w *Warmer) Start(ctx context.Context, points []models.GeoPoint, interval time.Duration) error {
	if len(points) == 0 {
		w.logger.Info("cache warming: no tracked points configured")
		return nil
	}
	if interval <= 0 {
		interval = 6 * time.Hour
	}

	_, err := w.scheduler.Every(interval).Do(func() {
		passCtx, cancel := context.WithTimeout(ctx, w.timeout)
		defer cancel()
		if err := w.Warm(passCtx, points); err != nil {
			w.logger.Warn("cache warming pass failed", zap.Error(err))
		}
	})
	if err != nil {
		return fmt.Errorf("schedule cache warming: %w", err)
	}

	w.scheduler.StartAsync()
	return nil
}

// Stop stops the scheduler and cancels future passes.
func (w *Warmer) Stop() {
	if w.scheduler != nil {
		w.scheduler.Stop()
	}
}
