//go:build integration
// +build integration

package testhelpers

import (
	"os"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"github.com/kjstillabower/climate-analytics-service/internal/cache"
	"github.com/kjstillabower/climate-analytics-service/internal/client"
	"github.com/kjstillabower/climate-analytics-service/internal/service"
)

// IntegrationTestConfig holds configuration for integration tests against the live provider.
type IntegrationTestConfig struct {
	APIKey        string
	APIURL        string
	CacheBackend  string // "in_memory" or "memcached"
	MemcachedAddr string
}

// GetIntegrationConfig loads integration test configuration from environment.
// Skips the test unless INTEGRATION_OPEN_METEO=1; the archive API needs no key but
// is rate limited, so live calls are opt-in.
func GetIntegrationConfig(t *testing.T) IntegrationTestConfig {
	t.Helper()
	if os.Getenv("INTEGRATION_OPEN_METEO") != "1" {
		t.Skip("INTEGRATION_OPEN_METEO not set, skipping live provider test")
	}

	apiURL := os.Getenv("WEATHER_API_URL")
	if apiURL == "" {
		apiURL = "https://archive-api.open-meteo.com/v1/archive"
	}
	memcachedAddr := os.Getenv("MEMCACHED_ADDRS")
	if memcachedAddr == "" {
		memcachedAddr = "localhost:11211"
	}

	return IntegrationTestConfig{
		APIKey:        os.Getenv("WEATHER_API_KEY"),
		APIURL:        apiURL,
		CacheBackend:  os.Getenv("INTEGRATION_CACHE_BACKEND"),
		MemcachedAddr: memcachedAddr,
	}
}

// SetupIntegrationClient creates a provider client for integration tests.
func SetupIntegrationClient(t *testing.T, cfg IntegrationTestConfig) *client.OpenMeteoClient {
	t.Helper()
	c, err := client.NewOpenMeteoClientWithOptions(cfg.APIURL, client.Options{
		APIKey:  cfg.APIKey,
		Timeout: 30 * time.Second,
	})
	if err != nil {
		t.Fatalf("NewOpenMeteoClientWithOptions() error = %v", err)
	}
	return c
}

// SetupIntegrationService creates a fully configured analytics service for integration tests.
// Falls back to the in-memory cache when memcached is requested but unreachable.
// Returns the service, its cache, and a cleanup function.
func SetupIntegrationService(t *testing.T, cfg IntegrationTestConfig) (*service.AnalyticsService, cache.Cache, func()) {
	t.Helper()
	weatherClient := SetupIntegrationClient(t, cfg)

	var store cache.Cache = cache.NewInMemoryCache()
	cleanup := func() {}
	if cfg.CacheBackend == "memcached" {
		mc, err := cache.NewMemcachedCache(cfg.MemcachedAddr, 500*time.Millisecond, 2)
		if err == nil && mc.Ping() == nil {
			store = mc
			cleanup = func() { _ = mc.Close() }
			t.Logf("Using Memcached cache at %s", cfg.MemcachedAddr)
		} else {
			t.Logf("Memcached not available, using in-memory cache")
		}
	}

	svc := service.NewAnalyticsService(weatherClient, store, service.Options{
		Logger: zaptest.NewLogger(t),
	})
	return svc, store, cleanup
}
