package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTableNames(t *testing.T) {
	tests := []struct {
		name     string
		model    interface{ TableName() string }
		expected string
	}{
		{"TrackerInfo", &TrackerInfo{}, "tracker_infos"},
		{"Track", &Track{}, "tracks"},
		{"ReferencePolyline", &ReferencePolyline{}, "reference_polylines"},
		{"Landmark", &Landmark{}, "landmarks"},
		{"AlertRecord", &AlertRecord{}, "alert_records"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.model.TableName())
		})
	}
}

func TestDatabaseModelsCoverTables(t *testing.T) {
	assert.Len(t, DatabaseModels, 5)
}
