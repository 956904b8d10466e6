package geometry

// Polygon is a GeoJSON Polygon geometry with a single exterior ring.
type Polygon struct {
	Type        string        `json:"type"`
	Coordinates [][][]float64 `json:"coordinates"`
}

// GeoJSON renders the ring as a GeoJSON Polygon in [lon, lat] order.
func (r Ring) GeoJSON() Polygon {
	coords := make([][]float64, 0, len(r))
	for _, v := range r {
		coords = append(coords, []float64{v.Lon, v.Lat})
	}
	return Polygon{
		Type:        "Polygon",
		Coordinates: [][][]float64{coords},
	}
}
