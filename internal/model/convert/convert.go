// Package convert provides functions to convert GORM models to core models
package convert

import (
	"encoding/json"
	"fmt"

	"github.com/srec-ev/tracker/internal/geo"
	"github.com/srec-ev/tracker/internal/model"
	"github.com/srec-ev/tracker/pkg/core"
)

// TrackToCore converts a GORM Track to a core.Track. Rows that only carry
// the projected center get their coordinates back from it.
func TrackToCore(t model.Track) core.Track {
	out := core.Track{
		ID:        t.ID,
		Name:      t.Name,
		Latitude:  t.Latitude,
		Longitude: t.Longitude,
		Zoom:      t.Zoom,
	}
	if out.Latitude == 0 && out.Longitude == 0 && !t.Center.IsEmpty() {
		if pos, err := geo.Coords4326From3857(t.Center); err == nil {
			out.Latitude, out.Longitude = pos.Lat, pos.Lng
		}
	}
	return out
}

// TracksToCore converts a slice of GORM Tracks.
func TracksToCore(tracks []model.Track) []core.Track {
	out := make([]core.Track, len(tracks))
	for i, t := range tracks {
		out[i] = TrackToCore(t)
	}
	return out
}

// PolylineToCore decodes the stored [[lat,lng],...] points.
func PolylineToCore(p model.ReferencePolyline) (core.Polyline, error) {
	var pairs [][2]float64
	if err := json.Unmarshal(p.Points, &pairs); err != nil {
		return nil, fmt.Errorf("polyline %q: %w", p.Name, err)
	}
	out := make(core.Polyline, len(pairs))
	for i, pair := range pairs {
		out[i] = core.Position{Lat: pair[0], Lng: pair[1]}
	}
	return out, nil
}

// LandmarkToCore converts a GORM Landmark. The slug becomes the core id.
func LandmarkToCore(l model.Landmark) core.Landmark {
	return core.Landmark{
		ID:          l.Slug,
		Name:        l.Name,
		Lat:         l.Lat,
		Lng:         l.Lng,
		Description: l.Description,
		Category:    l.Category,
	}
}

func LandmarksToCore(landmarks []model.Landmark) []core.Landmark {
	out := make([]core.Landmark, len(landmarks))
	for i, l := range landmarks {
		out[i] = LandmarkToCore(l)
	}
	return out
}
