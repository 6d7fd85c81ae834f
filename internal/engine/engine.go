// Package engine is the fleet state core. It owns the registry, trails,
// alerts, camera and motion interpolator and runs every mutation on one
// scheduler so none of them need to coordinate.
package engine

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/srec-ev/tracker/internal/alert"
	"github.com/srec-ev/tracker/internal/cache"
	"github.com/srec-ev/tracker/internal/camera"
	"github.com/srec-ev/tracker/internal/geo"
	"github.com/srec-ev/tracker/internal/motion"
	"github.com/srec-ev/tracker/internal/scheduler"
	"github.com/srec-ev/tracker/internal/trail"
	"github.com/srec-ev/tracker/internal/util"
	"github.com/srec-ev/tracker/pkg/core"
)

var (
	ErrMissingMessage = errors.New("missing alert message")
	ErrUnknownVehicle = errors.New("unknown vehicle")
	ErrUnknownTrack   = errors.New("unknown track")
)

// Recorder receives accepted positions and alerts for telemetry.
// Implementations must not block.
type Recorder interface {
	RecordPosition(v core.Vehicle)
	RecordAlert(a core.Alert)
}

type nopRecorder struct{}

func (nopRecorder) RecordPosition(core.Vehicle) {}
func (nopRecorder) RecordAlert(core.Alert)      {}

type Config struct {
	TrailLimit int
	Home       core.Position
	// Constrained routes positions through the motion interpolator.
	Constrained bool
	Alerts      alert.Config
	Motion      motion.Config
}

func DefaultConfig() Config {
	return Config{
		TrailLimit: trail.DefaultLimit,
		Home:       camera.DefaultHome,
		Alerts:     alert.DefaultConfig(),
		Motion:     motion.DefaultConfig(),
	}
}

type Option func(*Engine)

func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) { e.logger = logger }
}

func WithRecorder(r Recorder) Option {
	return func(e *Engine) { e.recorder = r }
}

// WithTracks sets the cache FocusTrack resolves names against.
func WithTracks(tracks *cache.TrackCache) Option {
	return func(e *Engine) { e.tracks = tracks }
}

// Stats are running totals since startup.
type Stats struct {
	Vehicles  int `json:"vehicles"`
	Positions int `json:"positions"`
	Rejected  int `json:"rejected"`
	Alerts    int `json:"alerts"`
}

type Engine struct {
	sched    scheduler.Scheduler
	cfg      Config
	logger   *slog.Logger
	recorder Recorder

	registry *cache.EntityCache
	trails   *trail.Buffer
	alerts   *alert.Manager
	camera   *camera.Controller
	motion   *motion.Interpolator
	tracks   *cache.TrackCache

	positions cache.SafeCounter
	rejected  cache.SafeCounter
	alertsIn  cache.SafeCounter

	subMu   sync.Mutex
	subs    map[int]func(core.View)
	nextSub int
}

func New(sched scheduler.Scheduler, sink alert.Sink, cfg Config, opts ...Option) *Engine {
	e := &Engine{
		sched:    sched,
		cfg:      cfg,
		logger:   slog.Default(),
		recorder: nopRecorder{},
		subs:     make(map[int]func(core.View)),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.tracks == nil {
		e.tracks = cache.NewTrackCache()
	}

	e.registry = cache.NewEntityCache(sched.Now, e.logger)
	e.trails = trail.New(cfg.TrailLimit)
	e.alerts = alert.NewManager(sched, sink, cfg.Alerts, e.logger)
	e.alerts.OnExpire = func(string) { e.publish() }
	e.camera = camera.NewController(cfg.Home)
	e.motion = motion.New(sched, e.moveVehicle, cfg.Motion, e.logger)
	return e
}

// ApplyPositions ingests one locationUpdate batch and returns how many
// records were accepted.
func (e *Engine) ApplyPositions(events []core.RawPositionEvent) int {
	var accepted int
	e.sched.Do(func() {
		if e.cfg.Constrained {
			accepted = e.applyConstrained(events)
		} else {
			accepted = e.applyDirect(events)
		}
		e.positions.Add(accepted)
		e.rejected.Add(len(events) - accepted)
		e.publish()
	})
	return accepted
}

func (e *Engine) applyDirect(events []core.RawPositionEvent) int {
	updates := e.registry.Apply(events)
	for _, u := range updates {
		if u.Moved {
			e.trails.Append(u.Vehicle.ID, u.Vehicle.Position)
		}
		if u.Changed {
			e.recorder.RecordPosition(u.Vehicle)
		}
	}
	e.camera.Update(e.registry.Positions())
	return len(updates)
}

func (e *Engine) applyConstrained(events []core.RawPositionEvent) int {
	updates := e.registry.Normalize(events)
	for _, u := range updates {
		speed := 0.0
		if u.Speed != nil {
			speed = *u.Speed
		} else if v, ok := e.registry.Get(u.ID); ok {
			speed = v.Speed
		}
		e.motion.Target(u.ID, u.Position, speed)
		e.registry.SetMotion(u.ID, u.Speed, u.Course)
	}
	return len(updates)
}

// moveVehicle is the interpolator's callback; it runs on the scheduler.
func (e *Engine) moveVehicle(id string, pos core.Position) {
	u := e.registry.MoveTo(id, pos)
	if u.Moved {
		e.trails.Append(id, pos)
		e.recorder.RecordPosition(u.Vehicle)
	}
	e.camera.Update(e.registry.Positions())
	e.publish()
}

func (e *Engine) alertArgs(ev core.AlertEvent) (string, error) {
	id, err := util.CanonicalID(ev.CarID)
	if err != nil {
		return "", err
	}
	if ev.Message == "" {
		return "", fmt.Errorf("%w for vehicle %s", ErrMissingMessage, id)
	}
	return id, nil
}

func (e *Engine) OnSos(ev core.AlertEvent) error {
	return e.onAlert(ev, core.AlertSOS, e.alerts.OnSos)
}

func (e *Engine) OnOk(ev core.AlertEvent) error {
	return e.onAlert(ev, core.AlertOK, e.alerts.OnOk)
}

func (e *Engine) OnWarning(ev core.AlertEvent) error {
	return e.onAlert(ev, core.AlertWarning, e.alerts.OnWarning)
}

func (e *Engine) onAlert(ev core.AlertEvent, kind core.AlertKind, apply func(id, message string)) error {
	id, err := e.alertArgs(ev)
	if err != nil {
		return err
	}
	e.sched.Do(func() {
		apply(id, ev.Message)
		e.alertsIn.Inc()
		e.recorder.RecordAlert(core.Alert{
			VehicleID: id,
			Kind:      kind,
			Message:   ev.Message,
			RaisedAt:  e.sched.Now(),
		})
		e.publish()
	})
	return nil
}

// DismissAll clears SOS and OK alerts and returns the camera home.
func (e *Engine) DismissAll() {
	e.sched.Do(func() {
		e.alerts.DismissAll()
		e.camera.Reset(e.registry.Positions())
		e.publish()
	})
}

// DismissWarning clears one vehicle's warning. Reports whether it had one.
func (e *Engine) DismissWarning(rawID any) (bool, error) {
	id, err := util.CanonicalID(rawID)
	if err != nil {
		return false, err
	}
	var cleared bool
	e.sched.Do(func() {
		cleared = e.alerts.DismissWarning(id)
		if cleared {
			e.publish()
		}
	})
	return cleared, nil
}

func (e *Engine) SetManualCenter(lat, lng float64) (core.CameraState, error) {
	if err := geo.ValidatePosition(lat, lng); err != nil {
		return core.CameraState{}, err
	}
	var st core.CameraState
	e.sched.Do(func() {
		st = e.camera.SetManualCenter(core.Position{Lat: lat, Lng: lng})
		e.publish()
	})
	return st, nil
}

// FocusVehicle pins the camera on a vehicle's current position.
func (e *Engine) FocusVehicle(rawID any) (core.CameraState, error) {
	id, err := util.CanonicalID(rawID)
	if err != nil {
		return core.CameraState{}, err
	}
	var st core.CameraState
	e.sched.Do(func() {
		v, ok := e.registry.Get(id)
		if !ok {
			err = fmt.Errorf("%w: %s", ErrUnknownVehicle, id)
			return
		}
		st = e.camera.SetManualCenter(v.Position)
		e.publish()
	})
	return st, err
}

// FocusTrack pins the camera on a stored track definition.
func (e *Engine) FocusTrack(name string) (core.CameraState, error) {
	t, ok := e.tracks.Get(name)
	if !ok {
		return core.CameraState{}, fmt.Errorf("%w: %s", ErrUnknownTrack, name)
	}
	return e.SetManualCenter(t.Latitude, t.Longitude)
}

func (e *Engine) ToggleFollow() core.CameraState {
	var st core.CameraState
	e.sched.Do(func() {
		st = e.camera.ToggleFollow(e.registry.Positions())
		e.publish()
	})
	return st
}

func (e *Engine) ResetCamera() core.CameraState {
	var st core.CameraState
	e.sched.Do(func() {
		st = e.camera.Reset(e.registry.Positions())
		e.publish()
	})
	return st
}

func (e *Engine) Camera() core.CameraState {
	return e.camera.State()
}

// LoadPolyline installs the reference path for constrained motion.
func (e *Engine) LoadPolyline(p core.Polyline) error {
	var err error
	e.sched.Do(func() {
		err = e.motion.Load(p)
	})
	return err
}

func (e *Engine) Polyline() core.Polyline {
	var p core.Polyline
	e.sched.Do(func() {
		p = e.motion.Polyline()
	})
	return p
}

func (e *Engine) Tracks() *cache.TrackCache {
	return e.tracks
}

// View returns a consistent snapshot of the whole state.
func (e *Engine) View() core.View {
	var v core.View
	e.sched.Do(func() {
		v = e.view()
	})
	return v
}

func (e *Engine) view() core.View {
	alerts := e.alerts.Snapshot()
	return core.View{
		Vehicles:    e.registry.All(),
		Trails:      e.trails.All(),
		SOS:         alerts.SOS,
		OK:          alerts.OK,
		Warnings:    alerts.Warnings,
		AlarmActive: alerts.AlarmActive,
		Camera:      e.camera.State(),
	}
}

func (e *Engine) Vehicles() []core.Vehicle {
	return e.registry.All()
}

func (e *Engine) Vehicle(rawID any) (core.Vehicle, error) {
	id, err := util.CanonicalID(rawID)
	if err != nil {
		return core.Vehicle{}, err
	}
	v, ok := e.registry.Get(id)
	if !ok {
		return core.Vehicle{}, fmt.Errorf("%w: %s", ErrUnknownVehicle, id)
	}
	return v, nil
}

// Trail returns id's trail. Unknown ids yield an empty trail.
func (e *Engine) Trail(rawID any) ([]core.Position, error) {
	id, err := util.CanonicalID(rawID)
	if err != nil {
		return nil, err
	}
	return e.trails.Get(id), nil
}

func (e *Engine) Alerts() alert.Snapshot {
	var s alert.Snapshot
	e.sched.Do(func() {
		s = e.alerts.Snapshot()
	})
	return s
}

func (e *Engine) Status(rawID any) (core.AlertKind, error) {
	id, err := util.CanonicalID(rawID)
	if err != nil {
		return core.AlertNone, err
	}
	var k core.AlertKind
	e.sched.Do(func() {
		k = e.alerts.Status(id)
	})
	return k, nil
}

func (e *Engine) Stats() Stats {
	return Stats{
		Vehicles:  e.registry.Len(),
		Positions: e.positions.Value(),
		Rejected:  e.rejected.Value(),
		Alerts:    e.alertsIn.Value(),
	}
}

// Subscribe registers fn to receive a fresh View after every mutation. fn is
// called on the scheduler and must not block or call back into the engine.
func (e *Engine) Subscribe(fn func(core.View)) (unsubscribe func()) {
	e.subMu.Lock()
	id := e.nextSub
	e.nextSub++
	e.subs[id] = fn
	e.subMu.Unlock()

	return func() {
		e.subMu.Lock()
		delete(e.subs, id)
		e.subMu.Unlock()
	}
}

func (e *Engine) publish() {
	e.subMu.Lock()
	subs := make([]func(core.View), 0, len(e.subs))
	for _, fn := range e.subs {
		subs = append(subs, fn)
	}
	e.subMu.Unlock()
	if len(subs) == 0 {
		return
	}

	v := e.view()
	for _, fn := range subs {
		fn(v)
	}
}

// Close cancels every pending walk and warning timer.
func (e *Engine) Close() {
	e.sched.Do(func() {
		e.motion.Stop()
		e.alerts.Stop()
	})
}
