// Package alert tracks the SOS, OK and warning channels of every vehicle and
// drives the notification sink from their transitions.
//
// A Manager is not safe for concurrent use. All calls, including the warning
// expiry callbacks it schedules, must happen on one scheduler.
package alert

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/srec-ev/tracker/internal/scheduler"
	"github.com/srec-ev/tracker/pkg/core"
)

const (
	DefaultWarningTTL = 10 * time.Second
	DefaultSOSPhrase  = "SOS Alert"
)

// Sink receives the side effects of alert transitions. Implementations must
// not block; announcements are queued, never awaited.
type Sink interface {
	// RaiseAlert starts the looping alarm.
	RaiseAlert()
	// Clear stops the alarm and rewinds it.
	Clear()
	// Announce queues a spoken utterance.
	Announce(text string)
	// CancelAnnouncements drops every queued or playing utterance.
	CancelAnnouncements()
}

type Config struct {
	WarningTTL time.Duration
	// DismissClearsWarnings makes DismissAll drop warnings as well.
	DismissClearsWarnings bool
	SOSPhrase             string
}

func DefaultConfig() Config {
	return Config{
		WarningTTL: DefaultWarningTTL,
		SOSPhrase:  DefaultSOSPhrase,
	}
}

type warning struct {
	alert core.Alert
	timer scheduler.Timer
	seq   uint64
}

// Snapshot is a copy of every active alert.
type Snapshot struct {
	SOS         map[string]core.Alert `json:"sos"`
	OK          map[string]core.Alert `json:"ok"`
	Warnings    map[string]core.Alert `json:"warnings"`
	AlarmActive bool                  `json:"alarmActive"`
}

type Manager struct {
	sched  scheduler.Scheduler
	sink   Sink
	cfg    Config
	logger *slog.Logger

	sos      map[string]core.Alert
	ok       map[string]core.Alert
	warnings map[string]*warning
	seq      uint64
	alarm    bool

	// OnExpire, if set, is called on the scheduler after a warning times out.
	OnExpire func(id string)
}

func NewManager(sched scheduler.Scheduler, sink Sink, cfg Config, logger *slog.Logger) *Manager {
	if cfg.WarningTTL <= 0 {
		cfg.WarningTTL = DefaultWarningTTL
	}
	if cfg.SOSPhrase == "" {
		cfg.SOSPhrase = DefaultSOSPhrase
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		sched:    sched,
		sink:     sink,
		cfg:      cfg,
		logger:   logger,
		sos:      make(map[string]core.Alert),
		ok:       make(map[string]core.Alert),
		warnings: make(map[string]*warning),
	}
}

// OnSos records an SOS for id, replacing any earlier one, and announces it.
// The alarm is raised only when it is not already sounding.
func (m *Manager) OnSos(id, message string) {
	m.sos[id] = core.Alert{
		VehicleID: id,
		Kind:      core.AlertSOS,
		Message:   message,
		RaisedAt:  m.sched.Now(),
	}
	if !m.alarm {
		m.alarm = true
		m.sink.RaiseAlert()
	}
	m.sink.Announce(m.cfg.SOSPhrase)
	m.sink.Announce(fmt.Sprintf("%s: %s", id, message))
	m.logger.Warn("SOS raised", "carId", id, "message", message, "activeSOS", len(m.sos))
}

// OnOk records an OK for id and clears its SOS. The alarm is silenced once
// no vehicle has an SOS left.
func (m *Manager) OnOk(id, message string) {
	m.ok[id] = core.Alert{
		VehicleID: id,
		Kind:      core.AlertOK,
		Message:   message,
		RaisedAt:  m.sched.Now(),
	}
	_, hadSOS := m.sos[id]
	delete(m.sos, id)
	if len(m.sos) == 0 {
		m.alarm = false
		m.sink.Clear()
	}
	m.logger.Info("OK received", "carId", id, "message", message, "clearedSOS", hadSOS, "activeSOS", len(m.sos))
}

// OnWarning records a self-expiring warning for id. A newer warning for the
// same id replaces the message and restarts the expiry.
func (m *Manager) OnWarning(id, message string) {
	if prev, ok := m.warnings[id]; ok {
		prev.timer.Stop()
	}

	now := m.sched.Now()
	m.seq++
	w := &warning{
		alert: core.Alert{
			VehicleID: id,
			Kind:      core.AlertWarning,
			Message:   message,
			RaisedAt:  now,
			ExpiresAt: now.Add(m.cfg.WarningTTL),
		},
		seq: m.seq,
	}
	seq := w.seq
	w.timer = m.sched.AfterFunc(m.cfg.WarningTTL, func() { m.expire(id, seq) })
	m.warnings[id] = w
	m.logger.Info("Warning raised", "carId", id, "message", message, "ttl", m.cfg.WarningTTL)
}

func (m *Manager) expire(id string, seq uint64) {
	w, ok := m.warnings[id]
	if !ok || w.seq != seq {
		return
	}
	delete(m.warnings, id)
	m.logger.Debug("Warning expired", "carId", id)
	if m.OnExpire != nil {
		m.OnExpire(id)
	}
}

// DismissAll clears every SOS and OK, silences the alarm and drops pending
// announcements. Warnings survive unless DismissClearsWarnings is set.
func (m *Manager) DismissAll() {
	m.sos = make(map[string]core.Alert)
	m.ok = make(map[string]core.Alert)
	m.alarm = false
	m.sink.Clear()
	m.sink.CancelAnnouncements()
	if m.cfg.DismissClearsWarnings {
		m.clearWarnings()
	}
	m.logger.Info("All alerts dismissed", "warningsKept", len(m.warnings))
}

// DismissWarning clears id's warning. Reports whether one was active.
func (m *Manager) DismissWarning(id string) bool {
	w, ok := m.warnings[id]
	if !ok {
		return false
	}
	w.timer.Stop()
	delete(m.warnings, id)
	return true
}

// Status returns the most severe active state of id. A warning is hidden
// behind an active SOS.
func (m *Manager) Status(id string) core.AlertKind {
	if _, ok := m.sos[id]; ok {
		return core.AlertSOS
	}
	if _, ok := m.warnings[id]; ok {
		return core.AlertWarning
	}
	if _, ok := m.ok[id]; ok {
		return core.AlertOK
	}
	return core.AlertNone
}

func (m *Manager) AlarmActive() bool {
	return m.alarm
}

func (m *Manager) Snapshot() Snapshot {
	s := Snapshot{
		SOS:         make(map[string]core.Alert, len(m.sos)),
		OK:          make(map[string]core.Alert, len(m.ok)),
		Warnings:    make(map[string]core.Alert, len(m.warnings)),
		AlarmActive: m.alarm,
	}
	for id, a := range m.sos {
		s.SOS[id] = a
	}
	for id, a := range m.ok {
		s.OK[id] = a
	}
	for id, w := range m.warnings {
		s.Warnings[id] = w.alert
	}
	return s
}

// Stop cancels every pending warning expiry.
func (m *Manager) Stop() {
	for _, w := range m.warnings {
		w.timer.Stop()
	}
}

func (m *Manager) clearWarnings() {
	for id, w := range m.warnings {
		w.timer.Stop()
		delete(m.warnings, id)
	}
}
