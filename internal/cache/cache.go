package cache

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/kjstillabower/climate-analytics-service/internal/models"
	"github.com/kjstillabower/climate-analytics-service/internal/observability"
)

// Cache stores daily observation series keyed by point and date range.
// Get returns cached data if present and not expired, Set stores data with TTL.
type Cache interface {
	Get(ctx context.Context, key string) ([]models.DailyObservation, bool, error)
	Set(ctx context.Context, key string, value []models.DailyObservation, ttl time.Duration) error
}

// SeriesKey builds the cache key for a point and inclusive date range.
// Coordinates are rounded to 4 decimals (~11m), finer than the provider grid.
func SeriesKey(point models.GeoPoint, start, end time.Time) string {
	return fmt.Sprintf("%.4f,%.4f:%s:%s", point.Lat, point.Lon,
		start.Format(models.DateLayout), end.Format(models.DateLayout))
}

// DefaultMaxEntries bounds an InMemoryCache. A ten-year daily series is roughly
// 3,650 observations, so the default holds on the order of 100 MB.
const DefaultMaxEntries = 512

// sweepInterval is the minimum gap between full expiry sweeps triggered from Set.
const sweepInterval = time.Minute

// InMemoryCache implements Cache using a mutex-guarded map with TTL-based expiration.
// Expired entries are removed on access and by periodic sweeps from Set. When the
// cache is full, the entry closest to expiry is evicted.
type InMemoryCache struct {
	mu         sync.Mutex
	clock      clockwork.Clock
	data       map[string]cacheEntry
	maxEntries int
	lastSweep  time.Time
}

type cacheEntry struct {
	value     []models.DailyObservation
	expiresAt time.Time
}

// NewInMemoryCache creates a new in-memory cache using the wall clock and DefaultMaxEntries.
func NewInMemoryCache() *InMemoryCache {
	return NewInMemoryCacheWithClock(clockwork.NewRealClock())
}

// NewInMemoryCacheWithClock creates an in-memory cache that expires entries against clock.
func NewInMemoryCacheWithClock(clock clockwork.Clock) *InMemoryCache {
	return NewInMemoryCacheWithLimit(clock, DefaultMaxEntries)
}

// NewInMemoryCacheWithLimit creates an in-memory cache holding at most maxEntries.
// maxEntries <= 0 selects DefaultMaxEntries.
func NewInMemoryCacheWithLimit(clock clockwork.Clock, maxEntries int) *InMemoryCache {
	if maxEntries <= 0 {
		maxEntries = DefaultMaxEntries
	}
	return &InMemoryCache{
		clock:      clock,
		data:       make(map[string]cacheEntry),
		maxEntries: maxEntries,
		lastSweep:  clock.Now(),
	}
}

// Get returns (series, true, nil) on hit and (nil, false, nil) on miss or expiration.
// The returned slice is a copy; callers may modify it.
func (c *InMemoryCache) Get(ctx context.Context, key string) ([]models.DailyObservation, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.data[key]
	if !ok {
		return nil, false, nil
	}

	if c.clock.Now().After(entry.expiresAt) {
		delete(c.data, key)
		return nil, false, nil
	}

	return copySeries(entry.value), true, nil
}

// Set stores a copy of value with the given TTL, sweeping expired entries and
// evicting when the cache is full.
func (c *InMemoryCache) Set(ctx context.Context, key string, value []models.DailyObservation, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.clock.Now()
	if now.Sub(c.lastSweep) >= sweepInterval {
		c.sweepLocked(now)
	}
	if _, exists := c.data[key]; !exists && len(c.data) >= c.maxEntries {
		c.sweepLocked(now)
		if len(c.data) >= c.maxEntries {
			c.evictLocked()
		}
	}

	c.data[key] = cacheEntry{
		value:     copySeries(value),
		expiresAt: now.Add(ttl),
	}
	return nil
}

// sweepLocked drops every expired entry. Must be called with mu held.
func (c *InMemoryCache) sweepLocked(now time.Time) {
	for k, e := range c.data {
		if now.After(e.expiresAt) {
			delete(c.data, k)
		}
	}
	c.lastSweep = now
}

// evictLocked drops the entry that would expire first. Must be called with mu held.
func (c *InMemoryCache) evictLocked() {
	var victim string
	var earliest time.Time
	found := false
	for k, e := range c.data {
		if !found || e.expiresAt.Before(earliest) {
			victim, earliest, found = k, e.expiresAt, true
		}
	}
	if found {
		delete(c.data, victim)
		observability.CacheEvictionsTotal.Inc()
	}
}

// Len returns the number of stored entries, expired or not.
func (c *InMemoryCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.data)
}

func copySeries(in []models.DailyObservation) []models.DailyObservation {
	if in == nil {
		return nil
	}
	out := make([]models.DailyObservation, len(in))
	copy(out, in)
	return out
}
