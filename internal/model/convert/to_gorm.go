package convert

import (
	"encoding/json"
	"fmt"
	"time"

	"gorm.io/datatypes"

	"github.com/srec-ev/tracker/internal/geo"
	"github.com/srec-ev/tracker/internal/model"
	"github.com/srec-ev/tracker/pkg/core"
)

// CoreToTrack converts a core.Track to a GORM Track, projecting its
// center to web mercator.
func CoreToTrack(t core.Track) (model.Track, error) {
	center, err := geo.Coords3857From4326(t.Longitude, t.Latitude)
	if err != nil {
		return model.Track{}, fmt.Errorf("track %q: %w", t.Name, err)
	}
	return model.Track{
		ID:        t.ID,
		Name:      t.Name,
		Latitude:  t.Latitude,
		Longitude: t.Longitude,
		Zoom:      t.Zoom,
		Center:    center,
	}, nil
}

// CoreToPolyline encodes p as a named GORM ReferencePolyline.
func CoreToPolyline(name string, p core.Polyline) (model.ReferencePolyline, error) {
	pairs := make([][2]float64, len(p))
	for i, pt := range p {
		pairs[i] = [2]float64{pt.Lat, pt.Lng}
	}
	data, err := json.Marshal(pairs)
	if err != nil {
		return model.ReferencePolyline{}, err
	}
	return model.ReferencePolyline{
		Name:   name,
		Points: datatypes.JSON(data),
		Length: geo.PathLength(p),
	}, nil
}

func CoreToLandmark(l core.Landmark) model.Landmark {
	return model.Landmark{
		Slug:        l.ID,
		Name:        l.Name,
		Lat:         l.Lat,
		Lng:         l.Lng,
		Description: l.Description,
		Category:    l.Category,
	}
}

// CoreToAlertRecord converts an accepted alert into an audit row.
func CoreToAlertRecord(sessionID string, a core.Alert) model.AlertRecord {
	at := a.RaisedAt
	if at.IsZero() {
		at = time.Now()
	}
	return model.AlertRecord{
		Time:      at,
		SessionID: sessionID,
		VehicleID: a.VehicleID,
		Kind:      a.Kind.String(),
		Message:   a.Message,
	}
}
