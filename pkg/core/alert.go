package core

import "time"

// AlertKind identifies the channel an alert record belongs to.
type AlertKind uint8

const (
	AlertNone AlertKind = iota
	AlertSOS
	AlertWarning
	AlertOK
)

func (k AlertKind) String() string {
	switch k {
	case AlertSOS:
		return "SOS"
	case AlertWarning:
		return "WARNING"
	case AlertOK:
		return "OK"
	default:
		return "NONE"
	}
}

// MarshalText lets AlertKind render as its name in JSON payloads.
func (k AlertKind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// Alert is one active alert record for a vehicle.
// ExpiresAt is only set for warnings.
type Alert struct {
	VehicleID string    `json:"carId"`
	Kind      AlertKind `json:"kind"`
	Message   string    `json:"message"`
	RaisedAt  time.Time `json:"raisedAt"`
	ExpiresAt time.Time `json:"expiresAt,omitzero"`
}

// AlertEvent is a decoded sos/ok/warning payload.
type AlertEvent struct {
	CarID   any
	Message string
}
