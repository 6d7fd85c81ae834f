package geo

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"

	"github.com/srec-ev/tracker/pkg/core"
	geom "github.com/peterstace/simplefeatures/geom"
)

// ParsePolylineToCore parses reference polyline rows into a core.Polyline.
// Accepted formats: "[[lat,lng],...]" or "[{"lat":..,"lng":..},...]".
func ParsePolylineToCore(input string) (core.Polyline, error) {
	data := bytes.TrimSpace([]byte(input))

	var polyline core.Polyline
	var pairs [][]float64
	if err := json.Unmarshal(data, &pairs); err == nil {
		polyline = make(core.Polyline, len(pairs))
		for i, coord := range pairs {
			if len(coord) < 2 {
				return nil, fmt.Errorf("coordinate %d has insufficient values", i)
			}
			polyline[i] = core.Position{Lat: coord[0], Lng: coord[1]}
		}
	} else if err := json.Unmarshal(data, &polyline); err != nil {
		return nil, fmt.Errorf("failed to parse polyline JSON: %w", err)
	}

	if len(polyline) < 2 {
		return nil, fmt.Errorf("polyline must have at least 2 points, got %d", len(polyline))
	}
	for i, p := range polyline {
		if err := ValidatePosition(p.Lat, p.Lng); err != nil {
			return nil, fmt.Errorf("waypoint %d: %w", i, err)
		}
	}

	return polyline, nil
}

// LoadPolylineFile reads a polyline file in either ParsePolylineToCore format.
func LoadPolylineFile(path string) (core.Polyline, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read polyline file: %w", err)
	}
	return ParsePolylineToCore(string(data))
}

// LineStringFromPolyline converts a core.Polyline to a geom.LineString
// with X=lng and Y=lat.
func LineStringFromPolyline(p core.Polyline) geom.LineString {
	if len(p) == 0 {
		return geom.LineString{}
	}
	coords := make([]float64, 0, len(p)*2)
	for _, pt := range p {
		coords = append(coords, pt.Lng, pt.Lat)
	}
	return geom.NewLineString(geom.NewSequence(coords, geom.DimXY))
}

// PathLength returns the planar length of the polyline in degrees.
func PathLength(p core.Polyline) float64 {
	return LineStringFromPolyline(p).Length()
}
