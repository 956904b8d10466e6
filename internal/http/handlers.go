package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/kjstillabower/climate-analytics-service/internal/client"
	"github.com/kjstillabower/climate-analytics-service/internal/geometry"
	"github.com/kjstillabower/climate-analytics-service/internal/lifecycle"
	"github.com/kjstillabower/climate-analytics-service/internal/models"
	"github.com/kjstillabower/climate-analytics-service/internal/observability"
	"github.com/kjstillabower/climate-analytics-service/internal/service"
	"github.com/kjstillabower/climate-analytics-service/internal/traffic"
	"github.com/kjstillabower/climate-analytics-service/internal/validation"
)

// maxBodyBytes caps request bodies; a parcel boundary is at most a few thousand vertices.
const maxBodyBytes = 1 << 20

// Analyzer runs one analysis. Implemented by *service.AnalyticsService.
type Analyzer interface {
	Analyze(ctx context.Context, req service.AnalysisRequest) (models.WeatherAnalyticsData, error)
}

// HealthConfig holds thresholds and dependency checks for the health handler.
type HealthConfig struct {
	OverloadWindow       time.Duration
	OverloadThresholdPct int
	RateLimitRPS         int
	DegradedWindow       time.Duration
	DegradedErrorPct     int
	Version              string
	// CachePing, when set, is called to check cache reachability. Used when backend is memcached.
	CachePing func() error
	// CircuitState, when set, reports the provider breaker state ("closed", "half-open", "open", "disabled").
	CircuitState func() string
}

// Handler holds dependencies for HTTP handlers.
type Handler struct {
	analyzer         Analyzer
	healthConfig     *HealthConfig
	tracker          *traffic.Tracker
	clock            clockwork.Clock
	logger           *zap.Logger
	healthStatusMu   sync.Mutex
	healthStatusPrev string
}

// NewHandler returns a new Handler. tracker and clock default to the process-wide
// tracker and the wall clock when nil.
func NewHandler(analyzer Analyzer, healthConfig *HealthConfig, tracker *traffic.Tracker, clock clockwork.Clock, logger *zap.Logger) *Handler {
	if tracker == nil {
		tracker = traffic.Default()
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		analyzer:     analyzer,
		healthConfig: healthConfig,
		tracker:      tracker,
		clock:        clock,
		logger:       logger,
	}
}

// PostAnalytics handles POST /analytics.
func (h *Handler) PostAnalytics(w http.ResponseWriter, r *http.Request) {
	var req validation.AnalyticsRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
		return
	}
	boundary, err := geometry.DecodeBoundary(req.Boundary)
	if err != nil {
		writeAnalysisError(w, r, err)
		return
	}
	if err := validation.ValidateAnalyticsRequest(req); err != nil {
		writeAnalysisError(w, r, err)
		return
	}

	start, end, err := validation.ResolveRange(req.Range, req.StartDate, req.EndDate, h.clock.Now())
	if err != nil {
		writeAnalysisError(w, r, err)
		return
	}

	result, err := h.analyzer.Analyze(r.Context(), service.AnalysisRequest{
		Boundary:  boundary,
		StartDate: start,
		EndDate:   end,
	})
	if err != nil {
		// A caller that went away says nothing about provider health.
		if !service.IsClientError(err) && !errors.Is(err, context.Canceled) {
			h.tracker.Record(traffic.Failure)
		}
		writeAnalysisError(w, r, err)
		return
	}
	h.tracker.Record(traffic.Success)
	writeJSON(w, http.StatusOK, result)
}

// normalizeResponse is the POST /geometry/normalize body.
type normalizeResponse struct {
	Location  models.GeoPoint  `json:"location"`
	Projected bool             `json:"projected"`
	Polygon   geometry.Polygon `json:"polygon"`
}

// PostNormalizeGeometry handles POST /geometry/normalize. It runs only the geometry
// step and never calls the weather provider.
func (h *Handler) PostNormalizeGeometry(w http.ResponseWriter, r *http.Request) {
	var req validation.GeometryRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
		return
	}

	boundary, err := geometry.DecodeBoundary(req.Boundary)
	if err != nil {
		writeAnalysisError(w, r, err)
		return
	}
	ring, err := geometry.NormalizeRing(boundary)
	if err != nil {
		writeAnalysisError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, normalizeResponse{
		Location:  ring.Centroid(),
		Projected: geometry.IsWebMercator(boundary),
		Polygon:   ring.GeoJSON(),
	})
}

// healthResult holds the computed health status and metadata for logging.
type healthResult struct {
	status     string
	statusCode int
	reason     string
}

// GetHealth handles GET /health.
func (h *Handler) GetHealth(w http.ResponseWriter, r *http.Request) {
	result := h.computeHealthStatus()

	h.healthStatusMu.Lock()
	prev := h.healthStatusPrev
	if prev != "" && prev != result.status {
		h.logger.Info("health status transition",
			zap.String("previous_status", prev),
			zap.String("current_status", result.status),
			zap.String("reason", result.reason))
	}
	h.healthStatusPrev = result.status
	h.healthStatusMu.Unlock()

	checks := map[string]string{"weatherApi": "healthy"}
	if result.reason == "error_rate_breach" || result.reason == "circuit_open" {
		checks["weatherApi"] = "unhealthy"
	}
	version := "dev"
	if h.healthConfig != nil {
		if h.healthConfig.CachePing != nil {
			if h.healthConfig.CachePing() == nil {
				checks["cache"] = "healthy"
			} else {
				checks["cache"] = "unhealthy"
			}
		}
		if h.healthConfig.CircuitState != nil {
			checks["circuitBreaker"] = h.healthConfig.CircuitState()
		}
		if h.healthConfig.Version != "" {
			version = h.healthConfig.Version
		}
	}

	now := h.clock.Now()
	writeJSON(w, result.statusCode, map[string]interface{}{
		"status":    result.status,
		"service":   "climate-analytics-service",
		"version":   version,
		"checks":    checks,
		"uptime":    lifecycle.Uptime(now).Round(time.Second).String(),
		"timestamp": now.UTC().Format(time.RFC3339),
	})
}

// computeHealthStatus evaluates conditions in priority order:
// shutting-down > overloaded > degraded > healthy.
func (h *Handler) computeHealthStatus() healthResult {
	if lifecycle.IsShuttingDown() {
		return healthResult{"shutting-down", http.StatusServiceUnavailable, "signal"}
	}
	if h.healthConfig == nil {
		return healthResult{"healthy", http.StatusOK, ""}
	}
	cfg := h.healthConfig

	// Overloaded: traffic in the window exceeds the configured share of rate-limit capacity.
	if cfg.RateLimitRPS > 0 && cfg.OverloadWindow > 0 && cfg.OverloadThresholdPct > 0 {
		threshold := float64(cfg.RateLimitRPS) * cfg.OverloadWindow.Seconds() * float64(cfg.OverloadThresholdPct) / 100
		if float64(h.tracker.RequestCount(cfg.OverloadWindow)) > threshold {
			return healthResult{"overloaded", http.StatusServiceUnavailable, "overload_threshold"}
		}
	}

	if cfg.CircuitState != nil && cfg.CircuitState() == "open" {
		return healthResult{"degraded", http.StatusServiceUnavailable, "circuit_open"}
	}

	if cfg.DegradedWindow > 0 && cfg.DegradedErrorPct > 0 {
		failures, total := h.tracker.ErrorRate(cfg.DegradedWindow)
		if total > 0 {
			pct := float64(failures) * 100 / float64(total)
			if pct >= float64(cfg.DegradedErrorPct) {
				return healthResult{"degraded", http.StatusServiceUnavailable, "error_rate_breach"}
			}
		}
	}
	return healthResult{"healthy", http.StatusOK, ""}
}

// decodeBody decodes a size-capped JSON body into v. Unknown fields are rejected.
func decodeBody(w http.ResponseWriter, r *http.Request, v interface{}) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("request body is required")
		}
		return fmt.Errorf("malformed JSON body: %v", err)
	}
	return nil
}

// writeJSON writes a JSON response with the specified HTTP status code.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError writes an error response in the standard error format with code, message,
// and requestId (correlation ID) if available in request context.
func writeError(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	corrID, _ := r.Context().Value("correlation_id").(string)
	writeJSON(w, status, map[string]interface{}{
		"error": map[string]string{
			"code":      code,
			"message":   message,
			"requestId": corrID,
		},
	})
}

// writeAnalysisError maps pipeline errors to status codes. Input errors are 400 with
// their message; everything else is reported as an unavailable upstream.
func writeAnalysisError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, geometry.ErrInvalidGeometry):
		writeError(w, r, http.StatusBadRequest, "INVALID_GEOMETRY", err.Error())
	case errors.Is(err, validation.ErrInvalidDateRange):
		writeError(w, r, http.StatusBadRequest, "INVALID_DATE_RANGE", err.Error())
	case errors.Is(err, validation.ErrInvalidRequest), errors.Is(err, validation.ErrUnknownRange):
		writeError(w, r, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
	default:
		writeServiceError(w, r, err)
	}
}

// writeServiceError writes a 503 for upstream failures, naming the provider's status when known.
// The underlying error is logged at DEBUG with the request logger.
func writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	message := "Unable to fetch weather data"
	var fetchErr *client.UpstreamFetchError
	if errors.As(err, &fetchErr) && fetchErr.Status != "" {
		message = "Unable to fetch weather data: provider returned " + fetchErr.Status
	}
	writeError(w, r, http.StatusServiceUnavailable, "UPSTREAM_UNAVAILABLE", message)
	observability.LoggerFromContext(r.Context(), nil).Debug("upstream error", zap.Error(err))
}
