// pkg/core/vehicle.go
package core

import "time"

// Position is a WGS84 coordinate in decimal degrees.
type Position struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// Polyline is an ordered sequence of waypoints. Once loaded as the
// reference path it is treated as immutable.
type Polyline []Position

// Vehicle is the live state of one tracked entity.
// ID is always the canonical form produced by util.CanonicalID.
type Vehicle struct {
	ID          string    `json:"carId"`
	Position    Position  `json:"position"`
	Speed       float64   `json:"speed"`            // km/h
	Course      *float64  `json:"course,omitempty"` // degrees, [0,360)
	LastUpdated time.Time `json:"lastUpdated"`
}

// RawPositionEvent is a single element of an inbound locationUpdate batch.
// CarID is whatever the transport delivered (number or string); nil pointer
// fields were absent from the payload.
type RawPositionEvent struct {
	CarID     any
	Latitude  *float64
	Longitude *float64
	Speed     *float64
	Course    *float64
}

// PositionUpdate is a RawPositionEvent that passed identity normalization
// and coordinate validation.
type PositionUpdate struct {
	ID       string
	Position Position
	Speed    *float64
	Course   *float64
}
