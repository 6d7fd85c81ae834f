// Package storage defines the persistence backends for track definitions,
// landmarks and the reference polyline. Storage never touches live fleet
// state; its errors are reported to the caller and logged.
package storage

import (
	"context"
	"errors"

	"github.com/srec-ev/tracker/pkg/core"
)

var (
	// ErrUnknownType is returned by the backend factory for an unsupported storage.type.
	ErrUnknownType = errors.New("unknown storage type")
	// ErrNoPolyline is returned by LoadPolyline when nothing is stored.
	ErrNoPolyline = errors.New("no reference polyline stored")
	// ErrDuplicateTrack is returned by AddTrack when the name is taken.
	ErrDuplicateTrack = errors.New("track already exists")
	// ErrInvalidTrack is returned by AddTrack for an empty name or bad coordinates.
	ErrInvalidTrack = errors.New("invalid track")
)

// DefaultPolyline names the reference polyline loaded at startup.
const DefaultPolyline = "default"

// Backend is the interface all storage implementations must satisfy
type Backend interface {
	// Lifecycle
	Init() error
	Close() error

	// Tracks (AddTrack assigns the ID to the passed pointer)
	ListTracks(ctx context.Context) ([]core.Track, error)
	AddTrack(ctx context.Context, t *core.Track) error

	ListLandmarks(ctx context.Context) ([]core.Landmark, error)
	LoadPolyline(ctx context.Context) (core.Polyline, error)
}

// AlertRecorder is an optional interface for backends that keep an audit
// trail of accepted alerts. RecordAlert must not block.
type AlertRecorder interface {
	RecordAlert(sessionID string, a core.Alert) error
}

// DefaultLandmarks are the campus points of interest seeded into empty
// backends.
func DefaultLandmarks() []core.Landmark {
	return []core.Landmark{
		{ID: "food-court", Name: "Food Court", Lat: 11.101040, Lng: 76.964291, Description: "Campus Food Court", Category: "dining"},
		{ID: "library", Name: "Library", Lat: 11.102444, Lng: 76.966510, Description: "Campus Library", Category: "academic"},
		{ID: "IT", Name: "IT Block", Lat: 11.101260, Lng: 76.965972, Description: "Information Technology Department", Category: "academic"},
		{ID: "G", Name: "G Block", Lat: 11.101125, Lng: 76.965353, Description: "G Block", Category: "academic"},
		{ID: "ECE_EEE", Name: "ECE / EEE Block", Lat: 11.100971, Lng: 76.966034, Description: "Electronics and Electrical Engineering Block", Category: "academic"},
		{ID: "C", Name: "C Block", Lat: 11.101729, Lng: 76.965843, Description: "C Block", Category: "academic"},
		{ID: "ADMIN", Name: "Admin Block", Lat: 11.102224, Lng: 76.965714, Description: "Administrative Block", Category: "administrative"},
		{ID: "SPARK", Name: "Spark", Lat: 11.101820, Lng: 76.966408, Description: "Innovation Center", Category: "innovation"},
	}
}
