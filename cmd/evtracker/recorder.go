package main

import (
	"log/slog"

	"github.com/srec-ev/tracker/internal/engine"
	"github.com/srec-ev/tracker/internal/session"
	"github.com/srec-ev/tracker/internal/storage"
	"github.com/srec-ev/tracker/pkg/core"
)

// multiRecorder fans telemetry out to every recorder in order.
type multiRecorder []engine.Recorder

func (m multiRecorder) RecordPosition(v core.Vehicle) {
	for _, r := range m {
		r.RecordPosition(v)
	}
}

func (m multiRecorder) RecordAlert(a core.Alert) {
	for _, r := range m {
		r.RecordAlert(a)
	}
}

// alertAudit stores accepted alerts under the running session id.
type alertAudit struct {
	rec     storage.AlertRecorder
	session *session.Context
	logger  *slog.Logger
}

func (alertAudit) RecordPosition(core.Vehicle) {}

func (a alertAudit) RecordAlert(al core.Alert) {
	if err := a.rec.RecordAlert(a.session.Get().ID.String(), al); err != nil {
		a.logger.Error("Failed to record alert", "carId", al.VehicleID, "error", err)
	}
}
