package http

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/kjstillabower/climate-analytics-service/internal/observability"
	"github.com/kjstillabower/climate-analytics-service/internal/traffic"
)

// RouterOptions configures the middleware on provider-facing routes.
type RouterOptions struct {
	RequestTimeout time.Duration
	Limiter        *rate.Limiter
	Tracker        *traffic.Tracker
}

// NewRouter wires handlers and middleware. /health and /metrics are never rate limited.
func NewRouter(h *Handler, logger *zap.Logger, opts RouterOptions) *mux.Router {
	router := mux.NewRouter()
	router.Use(CorrelationIDMiddleware(logger))
	router.Use(MetricsMiddleware)

	router.HandleFunc("/health", h.GetHealth).Methods(http.MethodGet)
	router.Handle("/metrics", observability.MetricsHandler()).Methods(http.MethodGet)

	api := router.NewRoute().Subrouter()
	api.Use(RateLimitMiddleware(opts.Limiter, opts.Tracker))
	api.Use(TimeoutMiddleware(opts.RequestTimeout))
	api.HandleFunc("/analytics", h.PostAnalytics).Methods(http.MethodPost)
	api.HandleFunc("/geometry/normalize", h.PostNormalizeGeometry).Methods(http.MethodPost)

	return router
}
