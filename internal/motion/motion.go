// Package motion animates vehicles along a reference polyline. Raw positions
// are snapped to the nearest waypoint and the vehicle is walked there one
// waypoint per tick instead of jumping.
//
// An Interpolator is not safe for concurrent use; it must be driven from the
// scheduler it was given.
package motion

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/srec-ev/tracker/internal/geo"
	"github.com/srec-ev/tracker/internal/scheduler"
	"github.com/srec-ev/tracker/pkg/core"
)

var (
	ErrPolylineLoaded   = errors.New("reference polyline already loaded")
	ErrPolylineTooShort = errors.New("reference polyline needs at least two waypoints")
	ErrNotLoaded        = errors.New("reference polyline not loaded")
	ErrIndexOutOfRange  = errors.New("waypoint index out of range")
)

const (
	// DefaultStepConstant gives one waypoint per second at 10 km/h.
	DefaultStepConstant = 10.0
	DefaultMinInterval  = 20 * time.Millisecond
)

// MoveFunc applies a position produced by the walk.
type MoveFunc func(id string, pos core.Position)

type Config struct {
	// StepConstant is seconds·km/h; the tick interval is StepConstant/speed seconds.
	StepConstant float64
	MinInterval  time.Duration
}

func DefaultConfig() Config {
	return Config{StepConstant: DefaultStepConstant, MinInterval: DefaultMinInterval}
}

// Interval returns the tick period for speed and false when the vehicle
// should hold position.
func (c Config) Interval(speed float64) (time.Duration, bool) {
	if speed <= 0 || math.IsNaN(speed) || math.IsInf(speed, 0) {
		return 0, false
	}
	d := time.Duration(c.StepConstant / speed * float64(time.Second))
	if d < c.MinInterval {
		d = c.MinInterval
	}
	return d, true
}

type walk struct {
	target   int
	interval time.Duration
	due      time.Time
	timer    scheduler.Timer
}

type pendingTarget struct {
	raw   core.Position
	speed float64
}

type Interpolator struct {
	sched  scheduler.Scheduler
	move   MoveFunc
	cfg    Config
	logger *slog.Logger

	polyline core.Polyline
	index    map[string]int
	walks    map[string]*walk

	pending      map[string]pendingTarget
	pendingOrder []string
}

func New(sched scheduler.Scheduler, move MoveFunc, cfg Config, logger *slog.Logger) *Interpolator {
	if cfg.StepConstant <= 0 {
		cfg.StepConstant = DefaultStepConstant
	}
	if cfg.MinInterval <= 0 {
		cfg.MinInterval = DefaultMinInterval
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Interpolator{
		sched:   sched,
		move:    move,
		cfg:     cfg,
		logger:  logger,
		index:   make(map[string]int),
		walks:   make(map[string]*walk),
		pending: make(map[string]pendingTarget),
	}
}

// Load installs the reference polyline and replays targets that arrived
// before it. It can only succeed once.
func (ip *Interpolator) Load(polyline core.Polyline) error {
	if ip.polyline != nil {
		return ErrPolylineLoaded
	}
	if len(polyline) < 2 {
		return fmt.Errorf("%w: got %d", ErrPolylineTooShort, len(polyline))
	}
	ip.polyline = append(core.Polyline(nil), polyline...)
	ip.logger.Info("Reference polyline loaded",
		"waypoints", len(ip.polyline),
		"lengthDeg", geo.PathLength(ip.polyline),
		"replaying", len(ip.pendingOrder),
	)

	order := ip.pendingOrder
	pending := ip.pending
	ip.pendingOrder = nil
	ip.pending = make(map[string]pendingTarget)
	for _, id := range order {
		p := pending[id]
		ip.Target(id, p.raw, p.speed)
	}
	return nil
}

func (ip *Interpolator) Loaded() bool {
	return ip.polyline != nil
}

// Polyline returns a copy of the loaded reference polyline.
func (ip *Interpolator) Polyline() core.Polyline {
	return append(core.Polyline(nil), ip.polyline...)
}

// Target snaps raw onto the polyline and walks id toward it, superseding any
// walk already in progress. A target equal to the running walk's only updates
// its pace. The first target for an id is applied directly. Before Load, only
// the latest target per id is kept.
func (ip *Interpolator) Target(id string, raw core.Position, speed float64) {
	if ip.polyline == nil {
		if _, ok := ip.pending[id]; ok {
			ip.dropPending(id)
		}
		ip.pending[id] = pendingTarget{raw: raw, speed: speed}
		ip.pendingOrder = append(ip.pendingOrder, id)
		ip.logger.Debug("Buffered target until polyline is loaded", "carId", id)
		return
	}

	to, point, _ := geo.FindClosestPoint(raw, ip.polyline)
	from, known := ip.index[id]
	if !known {
		ip.Cancel(id)
		ip.index[id] = to
		ip.move(id, point)
		return
	}
	if w, ok := ip.walks[id]; ok && w.target == to {
		interval, ok := ip.cfg.Interval(speed)
		if !ok {
			ip.Cancel(id)
			ip.logger.Debug("Holding position", "carId", id, "speed", speed)
			return
		}
		w.interval = interval
		return
	}
	if err := ip.StepMotion(id, from, to, speed); err != nil {
		ip.logger.Warn("Failed to start walk", "carId", id, "error", err)
	}
}

// StepMotion walks id from waypoint from to waypoint to, advancing one
// waypoint per tick and wrapping past the end of the polyline. A walk
// already running for id is replaced; the first tick of the new walk keeps the
// old walk's deadline when that is sooner than a full interval. A speed that
// is not a positive finite number holds the vehicle at from.
func (ip *Interpolator) StepMotion(id string, from, to int, speed float64) error {
	if ip.polyline == nil {
		return ErrNotLoaded
	}
	n := len(ip.polyline)
	if from < 0 || from >= n || to < 0 || to >= n {
		return fmt.Errorf("%w: %d -> %d of %d", ErrIndexOutOfRange, from, to, n)
	}

	var due time.Time
	if old, ok := ip.walks[id]; ok {
		due = old.due
	}
	ip.Cancel(id)
	ip.index[id] = from
	if from == to {
		return nil
	}
	interval, ok := ip.cfg.Interval(speed)
	if !ok {
		ip.logger.Debug("Holding position", "carId", id, "speed", speed)
		return nil
	}

	delay := interval
	if !due.IsZero() {
		delay = min(max(due.Sub(ip.sched.Now()), 0), interval)
	}
	w := &walk{target: to, interval: interval}
	ip.walks[id] = w
	ip.schedule(id, w, delay)
	return nil
}

func (ip *Interpolator) schedule(id string, w *walk, d time.Duration) {
	w.due = ip.sched.Now().Add(d)
	w.timer = ip.sched.AfterFunc(d, func() { ip.tick(id, w) })
}

func (ip *Interpolator) tick(id string, w *walk) {
	if ip.walks[id] != w {
		return
	}
	next := (ip.index[id] + 1) % len(ip.polyline)
	ip.index[id] = next
	ip.move(id, ip.polyline[next])

	if next == w.target {
		delete(ip.walks, id)
		return
	}
	ip.schedule(id, w, w.interval)
}

// Cancel stops id's walk, leaving it at its current waypoint.
func (ip *Interpolator) Cancel(id string) {
	if w, ok := ip.walks[id]; ok {
		w.timer.Stop()
		delete(ip.walks, id)
	}
}

// Stop cancels every walk and drops buffered targets.
func (ip *Interpolator) Stop() {
	for id := range ip.walks {
		ip.Cancel(id)
	}
	ip.pending = make(map[string]pendingTarget)
	ip.pendingOrder = nil
}

// Walking reports whether id has a walk in progress.
func (ip *Interpolator) Walking(id string) bool {
	_, ok := ip.walks[id]
	return ok
}

// Index returns the waypoint id currently sits on.
func (ip *Interpolator) Index(id string) (int, bool) {
	i, ok := ip.index[id]
	return i, ok
}

// Pending returns the number of ids waiting for the polyline.
func (ip *Interpolator) Pending() int {
	return len(ip.pending)
}

func (ip *Interpolator) dropPending(id string) {
	delete(ip.pending, id)
	for i, p := range ip.pendingOrder {
		if p == id {
			ip.pendingOrder = append(ip.pendingOrder[:i], ip.pendingOrder[i+1:]...)
			return
		}
	}
}
