package model

import (
	"time"

	geom "github.com/peterstace/simplefeatures/geom"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

////////////////////////
// DATABASE STRUCTURES //
////////////////////////

// DatabaseModels is a list of all the structs exported here which represent tables in the database schema
var DatabaseModels = []interface{}{
	&TrackerInfo{},
	&Track{},
	&ReferencePolyline{},
	&Landmark{},
	&AlertRecord{},
}

////////////////////////
// SYSTEM MODELS
////////////////////////

// TrackerInfo describes the deployment owning the database
type TrackerInfo struct {
	gorm.Model
	GroupName        string `json:"groupName" gorm:"size:127"`
	GroupDescription string `json:"groupDescription" gorm:"size:255"`
	GroupWebsite     string `json:"groupURL" gorm:"size:255"`
}

func (*TrackerInfo) TableName() string {
	return "tracker_infos"
}

////////////////////////
// TRACK MODELS
////////////////////////

// Track is a named monitoring area the operator can jump the camera to
type Track struct {
	ID        uint      `json:"id" gorm:"primarykey;autoIncrement;"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`

	Name      string     `json:"name" gorm:"size:128;uniqueIndex:idx_track_name"`
	Latitude  float64    `json:"latitude"`
	Longitude float64    `json:"longitude"`
	Zoom      int        `json:"zoom"`
	Center    geom.Point `json:"center"` // EPSG:3857 projection of Latitude/Longitude
}

func (*Track) TableName() string {
	return "tracks"
}

// ReferencePolyline is the ordered route vehicles are constrained to
type ReferencePolyline struct {
	ID        uint      `json:"id" gorm:"primarykey;autoIncrement;"`
	CreatedAt time.Time `json:"createdAt"`

	Name   string         `json:"name" gorm:"size:128;uniqueIndex:idx_polyline_name"`
	Points datatypes.JSON `json:"points"` // [[lat,lng],...]
	Length float64        `json:"length"` // planar length in degrees
}

func (*ReferencePolyline) TableName() string {
	return "reference_polylines"
}

// Landmark is a static point of interest shown on the map
type Landmark struct {
	ID          uint    `json:"-" gorm:"primarykey;autoIncrement;"`
	Slug        string  `json:"id" gorm:"size:64;uniqueIndex:idx_landmark_slug"`
	Name        string  `json:"name" gorm:"size:128"`
	Lat         float64 `json:"lat"`
	Lng         float64 `json:"lng"`
	Description string  `json:"description" gorm:"size:256"`
	Category    string  `json:"category" gorm:"size:32"`
}

func (*Landmark) TableName() string {
	return "landmarks"
}

////////////////////////
// EVENT MODELS
////////////////////////

// AlertRecord is an audit row for every accepted alert
type AlertRecord struct {
	ID        uint      `json:"id" gorm:"primarykey;autoIncrement;"`
	Time      time.Time `json:"time" gorm:"index:idx_alert_time"`
	SessionID string    `json:"sessionId" gorm:"size:36;index:idx_alert_session"`
	VehicleID string    `json:"carId" gorm:"size:64;index:idx_alert_vehicle"`
	Kind      string    `json:"kind" gorm:"size:16"`
	Message   string    `json:"message" gorm:"size:512"`
}

func (*AlertRecord) TableName() string {
	return "alert_records"
}
