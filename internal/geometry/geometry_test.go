package geometry

import (
	"encoding/json"
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// forwardMercator is the spherical Mercator forward transform, used to build fixtures.
func forwardMercator(lon, lat float64) []float64 {
	x := lon * mercatorHalfExtent / 180
	y := math.Log(math.Tan((90+lat)*math.Pi/360)) / (math.Pi / 180) * mercatorHalfExtent / 180
	return []float64{x, y}
}

func TestNormalize_WGS84UnclosedBoundary(t *testing.T) {
	boundary := [][]float64{{-7.6, 33.5}, {-7.6, 33.6}, {-7.5, 33.6}, {-7.5, 33.5}}

	got, err := Normalize(boundary)
	require.NoError(t, err)

	// Closed ring has five vertices; the first is counted twice.
	assert.InDelta(t, 33.54, got.Lat, 1e-9)
	assert.InDelta(t, -7.56, got.Lon, 1e-9)
	assert.InDelta(t, 33.55, got.Lat, 0.05)
	assert.InDelta(t, -7.55, got.Lon, 0.05)
	assert.Len(t, boundary, 4, "input must not be mutated")
}

func TestNormalize_EmptyBoundary(t *testing.T) {
	_, err := Normalize(nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvalidGeometry))

	_, err = Normalize([][]float64{})
	assert.True(t, errors.Is(err, ErrInvalidGeometry))
}

func TestNormalizeRing_MalformedVertex(t *testing.T) {
	tests := []struct {
		name     string
		boundary [][]float64
	}{
		{"single coordinate", [][]float64{{1, 2}, {3}}},
		{"three coordinates", [][]float64{{1, 2, 3}}},
		{"NaN", [][]float64{{math.NaN(), 2}}},
		{"infinity", [][]float64{{1, math.Inf(1)}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NormalizeRing(tt.boundary)
			assert.ErrorIs(t, err, ErrInvalidGeometry)
		})
	}
}

func TestRing_CloseIsIdempotent(t *testing.T) {
	boundary := [][]float64{{0, 0}, {0, 1}, {1, 1}, {1, 0}}

	once, err := NormalizeRing(boundary)
	require.NoError(t, err)
	require.Len(t, once, 5)
	assert.Equal(t, once[0], once[len(once)-1])

	twice := once.Close()
	assert.Equal(t, once, twice)

	closedInput := [][]float64{{0, 0}, {0, 1}, {1, 1}, {1, 0}, {0, 0}}
	fromClosed, err := NormalizeRing(closedInput)
	require.NoError(t, err)
	assert.Equal(t, once, fromClosed)
}

func TestNormalizeRing_WebMercatorConversion(t *testing.T) {
	boundary := [][]float64{
		forwardMercator(-7.6, 33.5),
		forwardMercator(-7.6, 33.6),
		forwardMercator(-7.5, 33.6),
		forwardMercator(-7.5, 33.5),
	}

	ring, err := NormalizeRing(boundary)
	require.NoError(t, err)
	require.Len(t, ring, 5)
	assert.InDelta(t, -7.6, ring[0].Lon, 1e-6)
	assert.InDelta(t, 33.5, ring[0].Lat, 1e-6)
	assert.InDelta(t, -7.5, ring[2].Lon, 1e-6)
	assert.InDelta(t, 33.6, ring[2].Lat, 1e-6)

	origin := mercatorToWGS84(0, 0)
	assert.InDelta(t, 0, origin.Lon, 1e-12)
	assert.InDelta(t, 0, origin.Lat, 1e-12)
}

func TestNormalizeRing_ProjectionDetectionIsBoundaryWide(t *testing.T) {
	// The first vertex is within the WGS84 range; the second is not.
	boundary := [][]float64{{10, 10}, forwardMercator(10, 10), {20, 5}}
	require.True(t, IsWebMercator(boundary))

	ring, err := NormalizeRing(boundary)
	require.NoError(t, err)

	// Every vertex, including the small-valued ones, is treated as meters.
	assert.InDelta(t, 10*180/mercatorHalfExtent, ring[0].Lon, 1e-9)
	assert.Less(t, math.Abs(ring[0].Lat), 1e-3)
	assert.InDelta(t, 10, ring[1].Lon, 1e-6)
	assert.InDelta(t, 10, ring[1].Lat, 1e-6)
	assert.Less(t, math.Abs(ring[2].Lon), 1e-3)
}

func TestIsWebMercator_BoundaryValues(t *testing.T) {
	assert.False(t, IsWebMercator([][]float64{{180, 90}, {-180, -90}}))
	assert.True(t, IsWebMercator([][]float64{{180.0001, 0}}))
	assert.True(t, IsWebMercator([][]float64{{0, -90.5}}))
}

func TestRing_GeoJSON(t *testing.T) {
	ring, err := NormalizeRing([][]float64{{1, 2}, {3, 4}, {5, 2}})
	require.NoError(t, err)

	raw, err := json.Marshal(ring.GeoJSON())
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"Polygon","coordinates":[[[1,2],[3,4],[5,2],[1,2]]]}`, string(raw))
}
