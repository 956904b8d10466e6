package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"math/rand"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/sony/gobreaker"

	"github.com/kjstillabower/climate-analytics-service/internal/models"
	"github.com/kjstillabower/climate-analytics-service/internal/observability"
)

// dailyFields are the Open-Meteo daily variables requested for every series.
const dailyFields = "temperature_2m_min,temperature_2m_mean,temperature_2m_max,precipitation_sum"

// WeatherClient fetches daily observation series for a point and inclusive date range.
type WeatherClient interface {
	GetDailySeries(ctx context.Context, point models.GeoPoint, start, end time.Time) ([]models.DailyObservation, error)
}

var (
	ErrUpstreamFailure   = errors.New("upstream failure")
	ErrRateLimited       = errors.New("rate limited")
	ErrMalformedResponse = errors.New("malformed daily response")
	ErrCircuitOpen       = errors.New("circuit breaker open")
)

// UpstreamFetchError reports a failed provider fetch. Status carries the provider's
// status text when a response was received; StatusCode is 0 for transport failures.
type UpstreamFetchError struct {
	StatusCode int
	Status     string
	Err        error
}

func (e *UpstreamFetchError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("weather provider error: %s: %v", e.Status, e.Err)
	}
	return fmt.Sprintf("weather provider error: %v", e.Err)
}

func (e *UpstreamFetchError) Unwrap() error {
	return e.Err
}

// Is makes every UpstreamFetchError match ErrUpstreamFailure.
func (e *UpstreamFetchError) Is(target error) bool {
	return target == ErrUpstreamFailure
}

// Options configures an OpenMeteoClient. Zero values select the defaults.
type Options struct {
	APIKey         string
	Timeout        time.Duration
	RetryAttempts  int
	RetryBaseDelay time.Duration
	RetryMaxDelay  time.Duration
}

// OpenMeteoClient implements WeatherClient against the Open-Meteo archive API.
type OpenMeteoClient struct {
	apiKey         string
	apiURL         string
	timeout        time.Duration
	client         *http.Client
	retryAttempts  int
	retryBaseDelay time.Duration
	retryMaxDelay  time.Duration
	breaker        *gobreaker.CircuitBreaker
}

// NewOpenMeteoClient returns a client that makes a single attempt per fetch.
func NewOpenMeteoClient(apiURL string, timeout time.Duration) (*OpenMeteoClient, error) {
	return NewOpenMeteoClientWithOptions(apiURL, Options{Timeout: timeout, RetryAttempts: 1})
}

func NewOpenMeteoClientWithOptions(apiURL string, opts Options) (*OpenMeteoClient, error) {
	if strings.TrimSpace(apiURL) == "" {
		return nil, fmt.Errorf("weather API URL is required")
	}
	if _, err := url.Parse(apiURL); err != nil {
		return nil, fmt.Errorf("invalid weather API URL: %w", err)
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	if opts.RetryAttempts <= 0 {
		opts.RetryAttempts = 1
	}
	if opts.RetryBaseDelay <= 0 {
		opts.RetryBaseDelay = 100 * time.Millisecond
	}
	if opts.RetryMaxDelay <= 0 {
		opts.RetryMaxDelay = 2 * time.Second
	}

	return &OpenMeteoClient{
		apiKey:         opts.APIKey,
		apiURL:         apiURL,
		timeout:        opts.Timeout,
		retryAttempts:  opts.RetryAttempts,
		retryBaseDelay: opts.RetryBaseDelay,
		retryMaxDelay:  opts.RetryMaxDelay,
		client: &http.Client{
			Timeout: opts.Timeout,
		},
	}, nil
}

// SetCircuitBreaker routes every provider call through cb. Pass nil to disable.
func (c *OpenMeteoClient) SetCircuitBreaker(cb *gobreaker.CircuitBreaker) {
	c.breaker = cb
}

// CircuitState returns the breaker state name, or "disabled" when none is set.
func (c *OpenMeteoClient) CircuitState() string {
	if c.breaker == nil {
		return "disabled"
	}
	return c.breaker.State().String()
}

type dailyResponse struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Timezone  string  `json:"timezone"`
	Daily     struct {
		Time              []string  `json:"time"`
		Temperature2mMin  []float64 `json:"temperature_2m_min"`
		Temperature2mMean []float64 `json:"temperature_2m_mean"`
		Temperature2mMax  []float64 `json:"temperature_2m_max"`
		PrecipitationSum  []float64 `json:"precipitation_sum"`
	} `json:"daily"`
}

// GetDailySeries fetches the inclusive [start, end] range for point.
// Every failure is returned as *UpstreamFetchError, except context errors from ctx itself.
func (c *OpenMeteoClient) GetDailySeries(ctx context.Context, point models.GeoPoint, start, end time.Time) ([]models.DailyObservation, error) {
	var lastErr error

	for attempt := 0; attempt < c.retryAttempts; attempt++ {
		if attempt > 0 {
			observability.ProviderRetriesTotal.Inc()
			delay := c.calculateBackoff(attempt)
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(delay):
			}
		}

		result, err := c.callWithBreaker(ctx, point, start, end)
		if err == nil {
			return result, nil
		}

		lastErr = err
		if !c.isRetryable(err) {
			return nil, err
		}
	}

	return nil, lastErr
}

func (c *OpenMeteoClient) callWithBreaker(ctx context.Context, point models.GeoPoint, start, end time.Time) ([]models.DailyObservation, error) {
	if c.breaker == nil {
		return c.callAPI(ctx, point, start, end)
	}
	result, err := c.breaker.Execute(func() (interface{}, error) {
		return c.callAPI(ctx, point, start, end)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return nil, &UpstreamFetchError{Err: fmt.Errorf("%w: %v", ErrCircuitOpen, err)}
	}
	if err != nil {
		return nil, err
	}
	return result.([]models.DailyObservation), nil
}

func (c *OpenMeteoClient) callAPI(ctx context.Context, point models.GeoPoint, start, end time.Time) ([]models.DailyObservation, error) {
	begin := time.Now()

	reqCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := c.buildRequest(reqCtx, point, start, end)
	if err != nil {
		observability.ProviderCallsTotal.WithLabelValues("error").Inc()
		return nil, &UpstreamFetchError{Err: fmt.Errorf("build request: %w", err)}
	}

	if corrID := extractCorrelationID(ctx); corrID != "" {
		req.Header.Set("X-Correlation-ID", corrID)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		observability.ProviderCallsTotal.WithLabelValues("error").Inc()
		observability.ProviderDuration.WithLabelValues("error").Observe(time.Since(begin).Seconds())
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, &UpstreamFetchError{Err: fmt.Errorf("request timeout: %w", err)}
		}
		return nil, &UpstreamFetchError{Err: fmt.Errorf("http request failed: %w", err)}
	}
	defer resp.Body.Close()

	status := statusLabel(resp.StatusCode)
	observability.ProviderCallsTotal.WithLabelValues(status).Inc()
	observability.ProviderDuration.WithLabelValues(status).Observe(time.Since(begin).Seconds())

	if err := c.handleErrorResponse(resp); err != nil {
		return nil, err
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &UpstreamFetchError{StatusCode: resp.StatusCode, Status: resp.Status, Err: fmt.Errorf("read response body: %w", err)}
	}

	var apiResp dailyResponse
	if err := json.Unmarshal(body, &apiResp); err != nil {
		return nil, &UpstreamFetchError{StatusCode: resp.StatusCode, Status: resp.Status, Err: fmt.Errorf("parse response: %w", err)}
	}

	series, err := mapResponse(apiResp)
	if err != nil {
		return nil, &UpstreamFetchError{StatusCode: resp.StatusCode, Status: resp.Status, Err: err}
	}
	return series, nil
}

func (c *OpenMeteoClient) isRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrCircuitOpen) || errors.Is(err, ErrMalformedResponse) {
		return false
	}
	if errors.Is(err, ErrRateLimited) {
		return true
	}
	var fetchErr *UpstreamFetchError
	if errors.As(err, &fetchErr) {
		return fetchErr.StatusCode == 0 || fetchErr.StatusCode >= 500
	}
	return false
}

func (c *OpenMeteoClient) calculateBackoff(attempt int) time.Duration {
	delay := float64(c.retryBaseDelay) * math.Pow(2, float64(attempt-1))
	if delay > float64(c.retryMaxDelay) {
		delay = float64(c.retryMaxDelay)
	}

	jitter := delay * 0.1 * rand.Float64()
	return time.Duration(delay + jitter)
}

func (c *OpenMeteoClient) buildRequest(ctx context.Context, point models.GeoPoint, start, end time.Time) (*http.Request, error) {
	baseURL, err := url.Parse(c.apiURL)
	if err != nil {
		return nil, fmt.Errorf("invalid API URL: %w", err)
	}

	params := baseURL.Query()
	params.Set("latitude", strconv.FormatFloat(point.Lat, 'f', -1, 64))
	params.Set("longitude", strconv.FormatFloat(point.Lon, 'f', -1, 64))
	params.Set("start_date", start.Format(models.DateLayout))
	params.Set("end_date", end.Format(models.DateLayout))
	params.Set("daily", dailyFields)
	params.Set("timezone", "auto")
	if c.apiKey != "" {
		params.Set("apikey", c.apiKey)
	}
	baseURL.RawQuery = params.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("Accept", "application/json")
	return req, nil
}

func (c *OpenMeteoClient) handleErrorResponse(resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	cause := ErrUpstreamFailure
	if resp.StatusCode == http.StatusTooManyRequests {
		cause = ErrRateLimited
	}
	return &UpstreamFetchError{
		StatusCode: resp.StatusCode,
		Status:     resp.Status,
		Err:        fmt.Errorf("%w: HTTP %d", cause, resp.StatusCode),
	}
}

// mapResponse zips the parallel daily arrays by index.
func mapResponse(apiResp dailyResponse) ([]models.DailyObservation, error) {
	d := apiResp.Daily
	n := len(d.Time)
	if len(d.Temperature2mMin) != n || len(d.Temperature2mMean) != n ||
		len(d.Temperature2mMax) != n || len(d.PrecipitationSum) != n {
		return nil, fmt.Errorf("%w: field arrays differ in length (time=%d min=%d mean=%d max=%d precipitation=%d)",
			ErrMalformedResponse, n, len(d.Temperature2mMin), len(d.Temperature2mMean), len(d.Temperature2mMax), len(d.PrecipitationSum))
	}

	series := make([]models.DailyObservation, 0, n)
	for i, raw := range d.Time {
		date, err := time.Parse(models.DateLayout, raw)
		if err != nil {
			return nil, fmt.Errorf("%w: date %q at index %d", ErrMalformedResponse, raw, i)
		}
		series = append(series, models.DailyObservation{
			Date:          date,
			TempMin:       d.Temperature2mMin[i],
			TempMean:      d.Temperature2mMean[i],
			TempMax:       d.Temperature2mMax[i],
			Precipitation: d.PrecipitationSum[i],
		})
	}
	return series, nil
}

func extractCorrelationID(ctx context.Context) string {
	if corrIDVal := ctx.Value("correlation_id"); corrIDVal != nil {
		if corrID, ok := corrIDVal.(string); ok {
			return corrID
		}
	}
	return ""
}

func statusLabel(statusCode int) string {
	if statusCode >= 200 && statusCode < 300 {
		return "success"
	}
	if statusCode == 429 {
		return "rate_limited"
	}
	if statusCode >= 400 && statusCode < 500 {
		return "client_error"
	}
	if statusCode >= 500 {
		return "server_error"
	}
	return "error"
}
