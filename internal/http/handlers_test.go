package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/kjstillabower/climate-analytics-service/internal/client"
	"github.com/kjstillabower/climate-analytics-service/internal/geometry"
	"github.com/kjstillabower/climate-analytics-service/internal/lifecycle"
	"github.com/kjstillabower/climate-analytics-service/internal/models"
	"github.com/kjstillabower/climate-analytics-service/internal/service"
	"github.com/kjstillabower/climate-analytics-service/internal/traffic"
)

// mockAnalyzer records the last request and returns a canned result or error.
type mockAnalyzer struct {
	result models.WeatherAnalyticsData
	err    error
	got    *service.AnalysisRequest
}

func (m *mockAnalyzer) Analyze(ctx context.Context, req service.AnalysisRequest) (models.WeatherAnalyticsData, error) {
	m.got = &req
	if m.err != nil {
		return models.WeatherAnalyticsData{}, m.err
	}
	return m.result, nil
}

type errorEnvelope struct {
	Error struct {
		Code      string `json:"code"`
		Message   string `json:"message"`
		RequestID string `json:"requestId"`
	} `json:"error"`
}

var testNow = time.Date(2024, 5, 31, 10, 0, 0, 0, time.UTC)

func newTestHandler(a Analyzer, cfg *HealthConfig) (*Handler, *traffic.Tracker) {
	clock := clockwork.NewFakeClockAt(testNow)
	tracker := traffic.NewTracker(clock)
	return NewHandler(a, cfg, tracker, clock, zap.NewNop()), tracker
}

func postJSON(t *testing.T, h http.HandlerFunc, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req = req.WithContext(context.WithValue(req.Context(), "correlation_id", "test-correlation-id"))
	w := httptest.NewRecorder()
	h(w, req)
	return w
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) errorEnvelope {
	t.Helper()
	var env errorEnvelope
	if err := json.NewDecoder(w.Body).Decode(&env); err != nil {
		t.Fatalf("decode error envelope: %v", err)
	}
	return env
}

func TestHandler_PostAnalytics_Success(t *testing.T) {
	analyzer := &mockAnalyzer{result: models.WeatherAnalyticsData{
		TemperatureSeries: []models.TemperaturePoint{{Date: "2024-01-01", CurrentMean: 14, LTNMean: 10}},
		MonthlyMetrics:    []models.MonthlyMetrics{{Month: "2024-01", DrySpellLTN: 1.5, ShortDrySpellLTN: 4}},
		StartDate:         "2024-01-01",
		EndDate:           "2024-01-31",
		Location:          models.GeoPoint{Lat: 33.54, Lon: -7.56},
	}}
	h, tracker := newTestHandler(analyzer, nil)

	body := `{"boundary":[[-7.6,33.5],[-7.5,33.5],[-7.5,33.6],[-7.6,33.6]],"startDate":"2024-01-01","endDate":"2024-01-31"}`
	w := postJSON(t, h.PostAnalytics, "/analytics", body)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200; body = %s", w.Code, w.Body.String())
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q, want application/json", ct)
	}

	var resp map[string]interface{}
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	for _, key := range []string{"temperatureSeries", "monthlyMetrics", "startDate", "endDate", "location"} {
		if _, ok := resp[key]; !ok {
			t.Errorf("response missing %q", key)
		}
	}

	if analyzer.got == nil || len(analyzer.got.Boundary) != 4 || analyzer.got.StartDate != "2024-01-01" {
		t.Errorf("analyzer received %+v", analyzer.got)
	}
	if f, total := tracker.ErrorRate(time.Minute); f != 0 || total != 1 {
		t.Errorf("tracker ErrorRate = (%d, %d), want (0, 1)", f, total)
	}
}

// TestHandler_PostAnalytics_Presets verifies range presets resolve against the handler clock.
func TestHandler_PostAnalytics_Presets(t *testing.T) {
	tests := []struct {
		body      string
		wantStart string
		wantEnd   string
	}{
		{`{"boundary":[[1,2]],"range":"ytd"}`, "2024-01-01", "2024-05-31"},
		{`{"boundary":[[1,2]],"range":"last-6-months"}`, "2023-12-01", "2024-05-31"},
		{`{"boundary":[[1,2]]}`, "2023-05-31", "2024-05-31"},
		{`{"boundary":[[1,2]],"range":"custom","startDate":"2024-02-01","endDate":"2024-02-29"}`, "2024-02-01", "2024-02-29"},
	}
	for _, tt := range tests {
		t.Run(tt.body, func(t *testing.T) {
			analyzer := &mockAnalyzer{}
			h, _ := newTestHandler(analyzer, nil)

			w := postJSON(t, h.PostAnalytics, "/analytics", tt.body)
			if w.Code != http.StatusOK {
				t.Fatalf("status = %d, want 200; body = %s", w.Code, w.Body.String())
			}
			if analyzer.got.StartDate != tt.wantStart || analyzer.got.EndDate != tt.wantEnd {
				t.Errorf("range = %s..%s, want %s..%s", analyzer.got.StartDate, analyzer.got.EndDate, tt.wantStart, tt.wantEnd)
			}
		})
	}
}

func TestHandler_PostAnalytics_Errors(t *testing.T) {
	upstream := &client.UpstreamFetchError{StatusCode: 502, Status: "502 Bad Gateway", Err: client.ErrUpstreamFailure}
	tests := []struct {
		name        string
		body        string
		analyzerErr error
		wantStatus  int
		wantCode    string
		wantFailure bool
	}{
		{"malformed json", `{"boundary":`, nil, http.StatusBadRequest, "INVALID_REQUEST", false},
		{"empty body", ``, nil, http.StatusBadRequest, "INVALID_REQUEST", false},
		{"unknown field", `{"polygon":[]}`, nil, http.StatusBadRequest, "INVALID_REQUEST", false},
		{"unknown preset", `{"boundary":[[1,2]],"range":"forever"}`, nil, http.StatusBadRequest, "INVALID_REQUEST", false},
		{"bad date format", `{"boundary":[[1,2]],"startDate":"2024/01/01","endDate":"2024-01-31"}`, nil, http.StatusBadRequest, "INVALID_DATE_RANGE", false},
		{"custom missing end", `{"boundary":[[1,2]],"range":"custom","startDate":"2024-01-01"}`, nil, http.StatusBadRequest, "INVALID_DATE_RANGE", false},
		{"null coordinates", `{"boundary":[[null,null]],"range":"ytd"}`, nil, http.StatusBadRequest, "INVALID_GEOMETRY", false},
		{"string coordinate", `{"boundary":[[1,"x"]],"range":"ytd"}`, nil, http.StatusBadRequest, "INVALID_GEOMETRY", false},
		{"missing boundary", `{"range":"ytd"}`, nil, http.StatusBadRequest, "INVALID_GEOMETRY", false},
		{"invalid geometry", `{"boundary":[],"range":"ytd"}`, fmt.Errorf("%w: empty boundary", geometry.ErrInvalidGeometry), http.StatusBadRequest, "INVALID_GEOMETRY", false},
		{"upstream failure", `{"boundary":[[1,2]],"range":"ytd"}`, fmt.Errorf("fetch historical series: %w", upstream), http.StatusServiceUnavailable, "UPSTREAM_UNAVAILABLE", true},
		{"deadline", `{"boundary":[[1,2]],"range":"ytd"}`, context.DeadlineExceeded, http.StatusServiceUnavailable, "UPSTREAM_UNAVAILABLE", true},
		{"caller canceled", `{"boundary":[[1,2]],"range":"ytd"}`, fmt.Errorf("fetch current series: %w", context.Canceled), http.StatusServiceUnavailable, "UPSTREAM_UNAVAILABLE", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			analyzer := &mockAnalyzer{err: tt.analyzerErr}
			h, tracker := newTestHandler(analyzer, nil)

			w := postJSON(t, h.PostAnalytics, "/analytics", tt.body)
			if w.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d; body = %s", w.Code, tt.wantStatus, w.Body.String())
			}
			env := decodeError(t, w)
			if env.Error.Code != tt.wantCode {
				t.Errorf("error.code = %q, want %q", env.Error.Code, tt.wantCode)
			}
			if env.Error.RequestID != "test-correlation-id" {
				t.Errorf("error.requestId = %q, want test-correlation-id", env.Error.RequestID)
			}
			if tt.analyzerErr == nil && analyzer.got != nil {
				t.Errorf("analyzer called with %+v; input errors must fail before analysis", analyzer.got)
			}
			failures, _ := tracker.ErrorRate(time.Minute)
			if (failures == 1) != tt.wantFailure {
				t.Errorf("tracker failures = %d, want failure recorded = %v", failures, tt.wantFailure)
			}
		})
	}
}

func TestHandler_PostAnalytics_UpstreamStatusInMessage(t *testing.T) {
	upstream := &client.UpstreamFetchError{StatusCode: 429, Status: "429 Too Many Requests", Err: client.ErrRateLimited}
	h, _ := newTestHandler(&mockAnalyzer{err: fmt.Errorf("fetch current series: %w", upstream)}, nil)

	w := postJSON(t, h.PostAnalytics, "/analytics", `{"boundary":[[1,2]],"range":"ytd"}`)
	env := decodeError(t, w)
	if !strings.Contains(env.Error.Message, "429 Too Many Requests") {
		t.Errorf("error.message = %q, want provider status text", env.Error.Message)
	}
}

func TestHandler_PostNormalizeGeometry(t *testing.T) {
	h, _ := newTestHandler(&mockAnalyzer{}, nil)

	w := postJSON(t, h.PostNormalizeGeometry, "/geometry/normalize",
		`{"boundary":[[-7.6,33.5],[-7.5,33.5],[-7.5,33.6],[-7.6,33.6]]}`)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200; body = %s", w.Code, w.Body.String())
	}

	var resp normalizeResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Projected {
		t.Error("projected = true, want false for WGS84 input")
	}
	if resp.Polygon.Type != "Polygon" || len(resp.Polygon.Coordinates) != 1 || len(resp.Polygon.Coordinates[0]) != 5 {
		t.Errorf("polygon = %+v, want closed 5-vertex ring", resp.Polygon)
	}
	if d := resp.Location.Lat - 33.54; d > 1e-9 || d < -1e-9 {
		t.Errorf("location.latitude = %v, want 33.54", resp.Location.Lat)
	}
}

func TestHandler_PostNormalizeGeometry_Mercator(t *testing.T) {
	h, _ := newTestHandler(&mockAnalyzer{}, nil)

	w := postJSON(t, h.PostNormalizeGeometry, "/geometry/normalize",
		`{"boundary":[[-845363.0,3966000.0],[-834231.0,3966000.0],[-834231.0,3979000.0],[-845363.0,3979000.0]]}`)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	var resp normalizeResponse
	_ = json.NewDecoder(w.Body).Decode(&resp)
	if !resp.Projected {
		t.Error("projected = false, want true for Web Mercator input")
	}
	if resp.Location.Lon < -8 || resp.Location.Lon > -7 || resp.Location.Lat < 33 || resp.Location.Lat > 34 {
		t.Errorf("location = %+v, want near Casablanca", resp.Location)
	}
}

func TestHandler_PostNormalizeGeometry_Invalid(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"three coordinates", `{"boundary":[[1,2,3]]}`},
		{"null coordinates", `{"boundary":[[null,null]]}`},
		{"string coordinate", `{"boundary":[[1,"x"]]}`},
		{"missing boundary", `{}`},
		{"empty boundary", `{"boundary":[]}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h, _ := newTestHandler(&mockAnalyzer{}, nil)

			w := postJSON(t, h.PostNormalizeGeometry, "/geometry/normalize", tt.body)
			if w.Code != http.StatusBadRequest {
				t.Fatalf("status = %d, want 400; body = %s", w.Code, w.Body.String())
			}
			if env := decodeError(t, w); env.Error.Code != "INVALID_GEOMETRY" {
				t.Errorf("error.code = %q, want INVALID_GEOMETRY", env.Error.Code)
			}
		})
	}
}

func getHealth(h *Handler) (*httptest.ResponseRecorder, map[string]interface{}) {
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()
	h.GetHealth(w, req)
	var body map[string]interface{}
	_ = json.Unmarshal(w.Body.Bytes(), &body)
	return w, body
}

func TestHandler_GetHealth(t *testing.T) {
	lifecycle.SetShuttingDown(false)
	h, _ := newTestHandler(&mockAnalyzer{}, &HealthConfig{Version: "1.2.3"})

	w, body := getHealth(h)
	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", w.Code)
	}
	if body["status"] != "healthy" || body["service"] != "climate-analytics-service" || body["version"] != "1.2.3" {
		t.Errorf("body = %v", body)
	}
	if _, ok := body["uptime"]; !ok {
		t.Error("body missing uptime")
	}
}

func TestHandler_GetHealth_States(t *testing.T) {
	tests := []struct {
		name       string
		cfg        *HealthConfig
		record     map[traffic.Outcome]int
		shutdown   bool
		wantStatus string
		wantCode   int
	}{
		{
			name:       "shutting down wins",
			cfg:        &HealthConfig{},
			shutdown:   true,
			wantStatus: "shutting-down",
			wantCode:   http.StatusServiceUnavailable,
		},
		{
			// threshold = 1 rps * 10s * 50% = 5
			name:       "overloaded",
			cfg:        &HealthConfig{RateLimitRPS: 1, OverloadWindow: 10 * time.Second, OverloadThresholdPct: 50},
			record:     map[traffic.Outcome]int{traffic.Success: 3, traffic.Denied: 3},
			wantStatus: "overloaded",
			wantCode:   http.StatusServiceUnavailable,
		},
		{
			name:       "below overload threshold",
			cfg:        &HealthConfig{RateLimitRPS: 1, OverloadWindow: 10 * time.Second, OverloadThresholdPct: 50},
			record:     map[traffic.Outcome]int{traffic.Success: 5},
			wantStatus: "healthy",
			wantCode:   http.StatusOK,
		},
		{
			name:       "degraded by error rate",
			cfg:        &HealthConfig{DegradedWindow: time.Minute, DegradedErrorPct: 50},
			record:     map[traffic.Outcome]int{traffic.Success: 1, traffic.Failure: 2},
			wantStatus: "degraded",
			wantCode:   http.StatusServiceUnavailable,
		},
		{
			name:       "below error threshold",
			cfg:        &HealthConfig{DegradedWindow: time.Minute, DegradedErrorPct: 50},
			record:     map[traffic.Outcome]int{traffic.Success: 3, traffic.Failure: 1},
			wantStatus: "healthy",
			wantCode:   http.StatusOK,
		},
		{
			name:       "degraded by open circuit",
			cfg:        &HealthConfig{CircuitState: func() string { return "open" }},
			wantStatus: "degraded",
			wantCode:   http.StatusServiceUnavailable,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			lifecycle.SetShuttingDown(tt.shutdown)
			defer lifecycle.SetShuttingDown(false)

			h, tracker := newTestHandler(&mockAnalyzer{}, tt.cfg)
			for outcome, n := range tt.record {
				for i := 0; i < n; i++ {
					tracker.Record(outcome)
				}
			}

			w, body := getHealth(h)
			if w.Code != tt.wantCode {
				t.Errorf("status code = %d, want %d", w.Code, tt.wantCode)
			}
			if body["status"] != tt.wantStatus {
				t.Errorf("status = %v, want %s", body["status"], tt.wantStatus)
			}
		})
	}
}

func TestHandler_GetHealth_Checks(t *testing.T) {
	lifecycle.SetShuttingDown(false)
	h, _ := newTestHandler(&mockAnalyzer{}, &HealthConfig{
		CachePing:    func() error { return errors.New("connection refused") },
		CircuitState: func() string { return "half-open" },
	})

	_, body := getHealth(h)
	checks, ok := body["checks"].(map[string]interface{})
	if !ok {
		t.Fatalf("checks = %v", body["checks"])
	}
	if checks["cache"] != "unhealthy" {
		t.Errorf("checks.cache = %v, want unhealthy", checks["cache"])
	}
	if checks["circuitBreaker"] != "half-open" {
		t.Errorf("checks.circuitBreaker = %v, want half-open", checks["circuitBreaker"])
	}
	if checks["weatherApi"] != "healthy" {
		t.Errorf("checks.weatherApi = %v, want healthy", checks["weatherApi"])
	}
}

// TestHandler_GetHealth_LogsTransition verifies a status change is logged once.
func TestHandler_GetHealth_LogsTransition(t *testing.T) {
	lifecycle.SetShuttingDown(false)
	core, logs := observer.New(zap.DebugLevel)
	clock := clockwork.NewFakeClockAt(testNow)
	tracker := traffic.NewTracker(clock)
	h := NewHandler(&mockAnalyzer{}, &HealthConfig{DegradedWindow: time.Minute, DegradedErrorPct: 50}, tracker, clock, zap.New(core))

	tracker.Record(traffic.Success)
	tracker.Record(traffic.Success)
	if w, _ := getHealth(h); w.Code != http.StatusOK {
		t.Fatalf("first GetHealth status = %d, want 200", w.Code)
	}
	if logs.Len() != 0 {
		t.Fatalf("first call should not log transition; got %d logs", logs.Len())
	}

	tracker.Record(traffic.Failure)
	tracker.Record(traffic.Failure)
	if w, _ := getHealth(h); w.Code != http.StatusServiceUnavailable {
		t.Fatalf("second GetHealth status = %d, want 503", w.Code)
	}

	entries := logs.FilterMessage("health status transition").All()
	if len(entries) != 1 {
		t.Fatalf("want 1 transition log, got %d", len(entries))
	}
	fields := entries[0].ContextMap()
	if fields["previous_status"] != "healthy" || fields["current_status"] != "degraded" || fields["reason"] != "error_rate_breach" {
		t.Errorf("transition fields = %v", fields)
	}

	getHealth(h)
	if logs.Len() != 1 {
		t.Errorf("unchanged status should not log; total logs = %d, want 1", logs.Len())
	}
}

func TestWriteServiceError_LogsAtDebug(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	req := httptest.NewRequest(http.MethodPost, "/analytics", nil)
	req = req.WithContext(context.WithValue(req.Context(), "logger", zap.New(core)))
	w := httptest.NewRecorder()

	writeServiceError(w, req, errors.New("connection reset"))

	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", w.Code)
	}
	if logs.FilterMessage("upstream error").Len() != 1 {
		t.Errorf("expected one upstream error debug log, got %d", logs.Len())
	}
}
