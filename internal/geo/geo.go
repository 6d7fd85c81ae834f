package geo

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/srec-ev/tracker/pkg/core"
	geom "github.com/peterstace/simplefeatures/geom"
	"github.com/wroge/wgs84"
)

// Track centers are persisted as EPSG:3857 points so SQLite and PostGIS rows
// share one representation. Live positions stay in WGS84 degrees.

// ErrInvalidCoordinates is returned when the coordinates are invalid
var ErrInvalidCoordinates = errors.New("invalid coordinates provided")

// ValidatePosition checks that lat/lng are finite and inside WGS84 bounds.
func ValidatePosition(lat, lng float64) error {
	if math.IsNaN(lat) || math.IsInf(lat, 0) || math.IsNaN(lng) || math.IsInf(lng, 0) {
		return fmt.Errorf("%w: non-finite value (%v, %v)", ErrInvalidCoordinates, lat, lng)
	}
	if lat < -90 || lat > 90 || lng < -180 || lng > 180 {
		return fmt.Errorf("%w: out of range (%v, %v)", ErrInvalidCoordinates, lat, lng)
	}
	return nil
}

// PositionFromString parses a "lat,lng" string into a core.Position.
func PositionFromString(coords string) (core.Position, error) {
	coordsSplit := strings.Split(coords, ",")
	if len(coordsSplit) != 2 {
		return core.Position{}, ErrInvalidCoordinates
	}
	lat, err := strconv.ParseFloat(strings.TrimSpace(coordsSplit[0]), 64)
	if err != nil {
		return core.Position{}, ErrInvalidCoordinates
	}
	lng, err := strconv.ParseFloat(strings.TrimSpace(coordsSplit[1]), 64)
	if err != nil {
		return core.Position{}, ErrInvalidCoordinates
	}
	if err := ValidatePosition(lat, lng); err != nil {
		return core.Position{}, err
	}
	return core.Position{Lat: lat, Lng: lng}, nil
}

// Coords3857From4326 creates a web mercator point from a longitude and latitude
func Coords3857From4326(
	longitude float64,
	latitude float64,
) (
	point geom.Point,
	err error,
) {
	if err := ValidatePosition(latitude, longitude); err != nil {
		return geom.Point{}, err
	}
	epsg := wgs84.EPSG()
	f := epsg.Transform(4326, 3857)
	x, y, _ := f(longitude, latitude, 0)
	point = geom.NewPoint(
		geom.Coordinates{
			XY: geom.XY{X: x, Y: y},
		},
	)
	return point, nil
}

// Coords4326From3857 is the inverse of Coords3857From4326.
func Coords4326From3857(point geom.Point) (core.Position, error) {
	xy, ok := point.XY()
	if !ok {
		return core.Position{}, ErrInvalidCoordinates
	}
	epsg := wgs84.EPSG()
	f := epsg.Transform(3857, 4326)
	lng, lat, _ := f(xy.X, xy.Y, 0)
	return core.Position{Lat: lat, Lng: lng}, nil
}

// PlanarDistance is the Euclidean distance in (lat,lng) degree space.
// It is only meaningful for small spans; no spherical correction is applied.
func PlanarDistance(a, b core.Position) float64 {
	return math.Hypot(a.Lat-b.Lat, a.Lng-b.Lng)
}

// FindClosestPoint scans every waypoint and returns the index and value of the
// one nearest to pos. Ties resolve to the earliest waypoint. Cost is
// O(len(polyline)) per call, which is fine for paths in the low thousands.
func FindClosestPoint(pos core.Position, polyline core.Polyline) (int, core.Position, bool) {
	if len(polyline) == 0 {
		return -1, core.Position{}, false
	}
	best := 0
	bestDist := math.Inf(1)
	for i, wp := range polyline {
		if d := PlanarDistance(pos, wp); d < bestDist {
			best = i
			bestDist = d
		}
	}
	return best, polyline[best], true
}
