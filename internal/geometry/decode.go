package geometry

import (
	"bytes"
	"encoding/json"
	"fmt"
)

var jsonNull = []byte("null")

// DecodeBoundary parses a JSON array of [x, y] vertices. Every coordinate must be a
// JSON number; null, strings and other types are rejected with ErrInvalidGeometry
// rather than decoding to 0. Vertex arity is checked later by NormalizeRing.
func DecodeBoundary(raw json.RawMessage) ([][]float64, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, jsonNull) {
		return nil, fmt.Errorf("%w: boundary is required", ErrInvalidGeometry)
	}

	var vertices []json.RawMessage
	if err := json.Unmarshal(raw, &vertices); err != nil {
		return nil, fmt.Errorf("%w: boundary must be an array of [x, y] pairs", ErrInvalidGeometry)
	}

	boundary := make([][]float64, len(vertices))
	for i, rv := range vertices {
		var coords []json.RawMessage
		if bytes.Equal(bytes.TrimSpace(rv), jsonNull) || json.Unmarshal(rv, &coords) != nil {
			return nil, fmt.Errorf("%w: vertex %d is not an array", ErrInvalidGeometry, i)
		}
		boundary[i] = make([]float64, len(coords))
		for j, rc := range coords {
			if bytes.Equal(bytes.TrimSpace(rc), jsonNull) {
				return nil, fmt.Errorf("%w: vertex %d coordinate %d is null", ErrInvalidGeometry, i, j)
			}
			if err := json.Unmarshal(rc, &boundary[i][j]); err != nil {
				return nil, fmt.Errorf("%w: vertex %d coordinate %d is not a number", ErrInvalidGeometry, i, j)
			}
		}
	}
	return boundary, nil
}
