package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/kjstillabower/climate-analytics-service/internal/cache"
	"github.com/kjstillabower/climate-analytics-service/internal/client"
	"github.com/kjstillabower/climate-analytics-service/internal/climate"
	"github.com/kjstillabower/climate-analytics-service/internal/geometry"
	"github.com/kjstillabower/climate-analytics-service/internal/models"
	"github.com/kjstillabower/climate-analytics-service/internal/observability"
	"github.com/kjstillabower/climate-analytics-service/internal/validation"
)

// DefaultHistoricalYears is the normals baseline length in full calendar years.
const DefaultHistoricalYears = 10

// Outcome labels for analyticsRequestsTotal.
const (
	OutcomeSuccess          = "success"
	OutcomeInvalidGeometry  = "invalid_geometry"
	OutcomeInvalidDateRange = "invalid_date_range"
	OutcomeUpstreamError    = "upstream_error"
	OutcomeCanceled         = "canceled"
)

// AnalysisRequest is one analysis: a parcel boundary and an inclusive date range.
type AnalysisRequest struct {
	Boundary  [][]float64
	StartDate string
	EndDate   string
}

// Options configures an AnalyticsService. Zero values select the defaults.
type Options struct {
	HistoricalYears int
	HistoricalTTL   time.Duration
	Clock           clockwork.Clock
	Logger          *zap.Logger
}

// AnalyticsService runs the analysis pipeline: geometry, date validation, the two
// provider fetches, normals, and the monthly and daily derivations.
// It holds no per-request state; the historical cache is the only shared state.
type AnalyticsService struct {
	client          client.WeatherClient
	cache           cache.Cache
	historicalYears int
	historicalTTL   time.Duration
	clock           clockwork.Clock
	logger          *zap.Logger
	inflight        singleflight.Group
}

// NewAnalyticsService creates an AnalyticsService. store may be nil to disable caching.
func NewAnalyticsService(c client.WeatherClient, store cache.Cache, opts Options) *AnalyticsService {
	if opts.HistoricalYears <= 0 {
		opts.HistoricalYears = DefaultHistoricalYears
	}
	if opts.HistoricalTTL <= 0 {
		opts.HistoricalTTL = 24 * time.Hour
	}
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &AnalyticsService{
		client:          c,
		cache:           store,
		historicalYears: opts.HistoricalYears,
		historicalTTL:   opts.HistoricalTTL,
		clock:           opts.Clock,
		logger:          opts.Logger,
	}
}

// Analyze runs the full pipeline for req. Invalid input fails before any provider call.
// Either fetch failing aborts the request; no partial result is ever returned.
func (s *AnalyticsService) Analyze(ctx context.Context, req AnalysisRequest) (models.WeatherAnalyticsData, error) {
	begin := s.clock.Now()
	logger := observability.LoggerFromContext(ctx, s.logger)

	point, err := geometry.Normalize(req.Boundary)
	if err != nil {
		observability.RecordAnalytics(OutcomeInvalidGeometry, s.clock.Since(begin))
		return models.WeatherAnalyticsData{}, err
	}

	start, end, err := validation.ParseDateRange(req.StartDate, req.EndDate)
	if err != nil {
		observability.RecordAnalytics(OutcomeInvalidDateRange, s.clock.Since(begin))
		return models.WeatherAnalyticsData{}, err
	}

	logger.Debug("analysis started",
		zap.Float64("lat", point.Lat),
		zap.Float64("lon", point.Lon),
		zap.String("start", req.StartDate),
		zap.String("end", req.EndDate))

	var current, history []models.DailyObservation
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		series, err := s.client.GetDailySeries(gctx, point, start, end)
		if err != nil {
			return fmt.Errorf("fetch current series: %w", err)
		}
		current = series
		return nil
	})
	g.Go(func() error {
		series, err := s.historical(gctx, point)
		if err != nil {
			return fmt.Errorf("fetch historical series: %w", err)
		}
		history = series
		return nil
	})
	if err := g.Wait(); err != nil {
		outcome := OutcomeUpstreamError
		if ctx.Err() != nil {
			outcome = OutcomeCanceled
		}
		observability.RecordAnalytics(outcome, s.clock.Since(begin))
		if category := client.CategorizeError(err); category != "" {
			observability.ProviderErrorsTotal.WithLabelValues(string(category)).Inc()
		}
		logger.Warn("analysis fetch failed", zap.Error(err))
		return models.WeatherAnalyticsData{}, err
	}

	normals := climate.BuildNormals(history)
	data := models.WeatherAnalyticsData{
		TemperatureSeries: climate.BuildTemperatureSeries(current, normals),
		MonthlyMetrics:    climate.AggregateMonthly(current, normals),
		StartDate:         start.Format(models.DateLayout),
		EndDate:           end.Format(models.DateLayout),
		Location:          point,
	}

	observability.RecordAnalytics(OutcomeSuccess, s.clock.Since(begin))
	logger.Debug("analysis complete",
		zap.Int("days", len(current)),
		zap.Int("history_days", len(history)),
		zap.Int("normals", len(normals)),
		zap.Int("months", len(data.MonthlyMetrics)),
		zap.Duration("duration", s.clock.Since(begin)))
	return data, nil
}

// HistoricalRange returns the normals baseline: Jan 1 of (this year - N) through
// Dec 31 of last year, per the service clock.
func (s *AnalyticsService) HistoricalRange() (time.Time, time.Time) {
	year := s.clock.Now().UTC().Year()
	start := time.Date(year-s.historicalYears, time.January, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(year-1, time.December, 31, 0, 0, 0, 0, time.UTC)
	return start, end
}

// WarmHistorical loads point's historical series into the cache. Implements cache.HistoricalWarmer.
func (s *AnalyticsService) WarmHistorical(ctx context.Context, point models.GeoPoint) error {
	_, err := s.historical(ctx, point)
	return err
}

// historical returns the baseline series for point, cache-aside. Concurrent
// misses for the same key share one provider call.
func (s *AnalyticsService) historical(ctx context.Context, point models.GeoPoint) ([]models.DailyObservation, error) {
	start, end := s.HistoricalRange()
	key := cache.SeriesKey(point, start, end)
	logger := observability.LoggerFromContext(ctx, s.logger)

	if s.cache != nil {
		cached, ok, err := s.cache.Get(ctx, key)
		switch {
		case err != nil:
			observability.CacheErrorsTotal.WithLabelValues("get").Inc()
			logger.Warn("cache get failed", zap.String("key", key), zap.Error(err))
		case ok:
			observability.CacheHitsTotal.WithLabelValues("historical").Inc()
			logger.Debug("cache hit", zap.String("key", key))
			return cached, nil
		default:
			observability.CacheMissesTotal.WithLabelValues("historical").Inc()
		}
	}

	// The shared call outlives any one caller's cancellation; the client's per-call
	// timeout still bounds it.
	ch := s.inflight.DoChan(key, func() (interface{}, error) {
		fetchCtx := context.WithoutCancel(ctx)
		series, err := s.client.GetDailySeries(fetchCtx, point, start, end)
		if err != nil {
			return nil, err
		}
		if s.cache != nil {
			if setErr := s.cache.Set(fetchCtx, key, series, s.historicalTTL); setErr != nil {
				observability.CacheErrorsTotal.WithLabelValues("set").Inc()
				logger.Warn("cache set failed", zap.String("key", key), zap.Error(setErr))
			}
		}
		return series, nil
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		if res.Shared {
			logger.Debug("historical fetch coalesced", zap.String("key", key))
		}
		return res.Val.([]models.DailyObservation), nil
	}
}

// IsClientError reports whether err was caused by invalid input rather than the provider.
func IsClientError(err error) bool {
	return errors.Is(err, geometry.ErrInvalidGeometry) ||
		errors.Is(err, validation.ErrInvalidDateRange) ||
		errors.Is(err, validation.ErrInvalidRequest) ||
		errors.Is(err, validation.ErrUnknownRange)
}
