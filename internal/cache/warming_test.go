package cache

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/kjstillabower/climate-analytics-service/internal/models"
)

type mockHistoricalWarmer struct {
	mu     sync.Mutex
	warmed []models.GeoPoint
	failOn map[models.GeoPoint]error
	calls  chan struct{}
}

func (m *mockHistoricalWarmer) WarmHistorical(ctx context.Context, point models.GeoPoint) error {
	m.mu.Lock()
	m.warmed = append(m.warmed, point)
	err := m.failOn[point]
	m.mu.Unlock()
	if m.calls != nil {
		select {
		case m.calls <- struct{}{}:
		default:
		}
	}
	return err
}

func (m *mockHistoricalWarmer) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.warmed)
}

var (
	casablanca = models.GeoPoint{Lat: 33.57, Lon: -7.59}
	nairobi    = models.GeoPoint{Lat: -1.29, Lon: 36.82}
	lima       = models.GeoPoint{Lat: -12.05, Lon: -77.04}
)

func TestWarmer_Warm_Success(t *testing.T) {
	fetcher := &mockHistoricalWarmer{}
	w := NewWarmer(fetcher, nil, time.Second)

	if err := w.Warm(context.Background(), []models.GeoPoint{casablanca, nairobi, lima}); err != nil {
		t.Fatalf("Warm() error = %v, want nil", err)
	}
	if fetcher.count() != 3 {
		t.Errorf("warmed %d points, want 3", fetcher.count())
	}
}

func TestWarmer_Warm_EmptyPoints(t *testing.T) {
	fetcher := &mockHistoricalWarmer{}
	w := NewWarmer(fetcher, nil, time.Second)

	if err := w.Warm(context.Background(), nil); err != nil {
		t.Fatalf("Warm(nil) error = %v, want nil", err)
	}
	if fetcher.count() != 0 {
		t.Errorf("warmed %d points, want 0", fetcher.count())
	}
}

// TestWarmer_Warm_PartialFailure verifies one failing point does not stop the others
// and is reported in the joined error.
func TestWarmer_Warm_PartialFailure(t *testing.T) {
	apiDown := errors.New("api down")
	fetcher := &mockHistoricalWarmer{failOn: map[models.GeoPoint]error{nairobi: apiDown}}
	core, logs := observer.New(zap.InfoLevel)
	w := NewWarmer(fetcher, zap.New(core), time.Second)

	err := w.Warm(context.Background(), []models.GeoPoint{casablanca, nairobi, lima})
	if !errors.Is(err, apiDown) {
		t.Fatalf("Warm() error = %v, want wrapping %v", err, apiDown)
	}
	if !strings.Contains(err.Error(), "-1.2900,36.8200") {
		t.Errorf("Warm() error = %q, want failing point in message", err)
	}
	if fetcher.count() != 3 {
		t.Errorf("warmed %d points, want all 3 attempted", fetcher.count())
	}

	done := logs.FilterMessage("cache warming complete").All()
	if len(done) != 1 {
		t.Fatalf("expected 1 completion log, got %d", len(done))
	}
	if got := done[0].ContextMap()["errors"]; got != int64(1) {
		t.Errorf("completion log errors = %v, want 1", got)
	}
}

func TestWarmer_Start_RunsImmediately(t *testing.T) {
	fetcher := &mockHistoricalWarmer{calls: make(chan struct{}, 4)}
	w := NewWarmer(fetcher, nil, time.Second)
	defer w.Stop()

	if err := w.Start(context.Background(), []models.GeoPoint{casablanca}, time.Hour); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	select {
	case <-fetcher.calls:
	case <-time.After(2 * time.Second):
		t.Fatal("Start() did not run an initial warming pass")
	}
}

func TestWarmer_Start_NoPoints(t *testing.T) {
	w := NewWarmer(&mockHistoricalWarmer{}, nil, time.Second)
	if err := w.Start(context.Background(), nil, time.Hour); err != nil {
		t.Fatalf("Start() with no points error = %v, want nil", err)
	}
	w.Stop()
}
