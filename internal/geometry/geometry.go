// Package geometry resolves a field boundary polygon to a single WGS84 analysis point.
//
// Boundaries arrive as ordered [x, y] vertex pairs in either geographic degrees
// (x = longitude, y = latitude) or Web Mercator meters (EPSG:3857). The projection is
// detected once for the whole boundary, never per vertex.
package geometry

import (
	"errors"
	"fmt"
	"math"

	"github.com/kjstillabower/climate-analytics-service/internal/models"
)

// ErrInvalidGeometry is returned when the boundary is empty or malformed.
var ErrInvalidGeometry = errors.New("invalid geometry")

// mercatorHalfExtent is the spherical Mercator half-circumference in meters.
const mercatorHalfExtent = 20037508.34

// Vertex is a WGS84 [lon, lat] pair.
type Vertex struct {
	Lon float64
	Lat float64
}

// Ring is a closed WGS84 ring: the last vertex equals the first.
type Ring []Vertex

// Normalize resolves boundary to its vertex-average centroid.
func Normalize(boundary [][]float64) (models.GeoPoint, error) {
	ring, err := NormalizeRing(boundary)
	if err != nil {
		return models.GeoPoint{}, err
	}
	return ring.Centroid(), nil
}

// NormalizeRing validates boundary, converts it to WGS84 when it is projected,
// and closes it. The input slice is not modified.
func NormalizeRing(boundary [][]float64) (Ring, error) {
	if len(boundary) == 0 {
		return nil, fmt.Errorf("%w: empty boundary", ErrInvalidGeometry)
	}
	for i, v := range boundary {
		if len(v) != 2 {
			return nil, fmt.Errorf("%w: vertex %d has %d coordinates, want 2", ErrInvalidGeometry, i, len(v))
		}
		if !isFinite(v[0]) || !isFinite(v[1]) {
			return nil, fmt.Errorf("%w: vertex %d is not finite", ErrInvalidGeometry, i)
		}
	}

	projected := IsWebMercator(boundary)
	ring := make(Ring, 0, len(boundary)+1)
	for _, v := range boundary {
		if projected {
			ring = append(ring, mercatorToWGS84(v[0], v[1]))
		} else {
			ring = append(ring, Vertex{Lon: v[0], Lat: v[1]})
		}
	}
	return ring.Close(), nil
}

// IsWebMercator reports whether any vertex lies outside the WGS84 range
// (|x| > 180 or |y| > 90), which marks the whole boundary as projected.
func IsWebMercator(boundary [][]float64) bool {
	for _, v := range boundary {
		if len(v) < 2 {
			continue
		}
		if math.Abs(v[0]) > 180 || math.Abs(v[1]) > 90 {
			return true
		}
	}
	return false
}

// Close returns r with the first vertex appended when first and last differ.
// Already-closed rings are returned unchanged.
func (r Ring) Close() Ring {
	if len(r) == 0 {
		return r
	}
	if r[0] == r[len(r)-1] {
		return r
	}
	return append(r, r[0])
}

// Centroid returns the arithmetic mean of all vertices, including the closing one.
// This is a vertex average, not an area-weighted centroid; it is adequate for small,
// roughly convex field polygons.
func (r Ring) Centroid() models.GeoPoint {
	if len(r) == 0 {
		return models.GeoPoint{}
	}
	var sumLat, sumLon float64
	for _, v := range r {
		sumLat += v.Lat
		sumLon += v.Lon
	}
	n := float64(len(r))
	return models.GeoPoint{Lat: sumLat / n, Lon: sumLon / n}
}

func mercatorToWGS84(x, y float64) Vertex {
	lon := (x / mercatorHalfExtent) * 180
	lat := (math.Atan(math.Exp((y/mercatorHalfExtent)*math.Pi)) * 360 / math.Pi) - 90
	return Vertex{Lon: lon, Lat: lat}
}

func isFinite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}
