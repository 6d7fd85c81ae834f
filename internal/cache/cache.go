package cache

import (
	"log/slog"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/srec-ev/tracker/internal/geo"
	"github.com/srec-ev/tracker/internal/util"
	"github.com/srec-ev/tracker/pkg/core"
)

// Update describes what one accepted position event did to the registry.
type Update struct {
	Vehicle core.Vehicle
	Created bool
	Changed bool
	Moved   bool
}

// EntityCache is the live registry of vehicles keyed by canonical id.
// Every mutation path goes through upsert so a vehicle can never be stored twice.
type EntityCache struct {
	m        sync.Mutex
	vehicles map[string]core.Vehicle
	now      func() time.Time
	logger   *slog.Logger
}

func NewEntityCache(now func() time.Time, logger *slog.Logger) *EntityCache {
	if now == nil {
		now = time.Now
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &EntityCache{
		m:        sync.Mutex{},
		vehicles: make(map[string]core.Vehicle),
		now:      now,
		logger:   logger,
	}
}

func (c *EntityCache) Reset() {
	c.m.Lock()
	defer c.m.Unlock()
	c.vehicles = make(map[string]core.Vehicle)
}

// Normalize canonicalizes ids and validates coordinates. Bad records are
// logged and skipped; the rest of the batch is kept in order.
func (c *EntityCache) Normalize(events []core.RawPositionEvent) []core.PositionUpdate {
	out := make([]core.PositionUpdate, 0, len(events))
	for i, ev := range events {
		id, err := util.CanonicalID(ev.CarID)
		if err != nil {
			c.logger.Warn("Skipping position event", "index", i, "carId", ev.CarID, "error", err)
			continue
		}
		if ev.Latitude == nil || ev.Longitude == nil {
			c.logger.Warn("Skipping position event without coordinates", "index", i, "carId", id)
			continue
		}
		if err := geo.ValidatePosition(*ev.Latitude, *ev.Longitude); err != nil {
			c.logger.Warn("Skipping position event", "index", i, "carId", id, "error", err)
			continue
		}

		upd := core.PositionUpdate{
			ID:       id,
			Position: core.Position{Lat: *ev.Latitude, Lng: *ev.Longitude},
		}
		if ev.Speed != nil {
			if s := *ev.Speed; s >= 0 && !math.IsInf(s, 0) && !math.IsNaN(s) {
				upd.Speed = &s
			} else {
				c.logger.Warn("Ignoring invalid speed", "carId", id, "speed", s)
			}
		}
		if ev.Course != nil {
			if course, ok := normalizeCourse(*ev.Course); ok {
				upd.Course = &course
			} else {
				c.logger.Warn("Ignoring invalid course", "carId", id, "course", *ev.Course)
			}
		}
		out = append(out, upd)
	}
	return out
}

// Apply normalizes and upserts a batch. Later events for the same id win.
func (c *EntityCache) Apply(events []core.RawPositionEvent) []Update {
	updates := c.Normalize(events)
	out := make([]Update, 0, len(updates))

	c.m.Lock()
	defer c.m.Unlock()
	for _, u := range updates {
		out = append(out, c.upsert(u))
	}
	return out
}

// MoveTo sets a vehicle's position, creating it when missing.
// Speed and course are preserved.
func (c *EntityCache) MoveTo(id string, pos core.Position) Update {
	c.m.Lock()
	defer c.m.Unlock()
	return c.upsert(core.PositionUpdate{ID: id, Position: pos})
}

// SetMotion records speed/course for an existing vehicle without moving it.
func (c *EntityCache) SetMotion(id string, speed, course *float64) bool {
	c.m.Lock()
	defer c.m.Unlock()
	v, ok := c.vehicles[id]
	if !ok {
		return false
	}
	changed := false
	if speed != nil && *speed != v.Speed {
		v.Speed = *speed
		changed = true
	}
	if course != nil && (v.Course == nil || *v.Course != *course) {
		cv := *course
		v.Course = &cv
		changed = true
	}
	if changed {
		v.LastUpdated = c.now()
		c.vehicles[id] = v
	}
	return changed
}

func (c *EntityCache) upsert(u core.PositionUpdate) Update {
	prev, exists := c.vehicles[u.ID]
	next := prev
	next.ID = u.ID
	next.Position = u.Position
	if u.Speed != nil {
		next.Speed = *u.Speed
	}
	if u.Course != nil {
		cv := *u.Course
		next.Course = &cv
	}

	res := Update{
		Created: !exists,
		Moved:   !exists || prev.Position != next.Position,
	}
	res.Changed = res.Moved || prev.Speed != next.Speed || !sameCourse(prev.Course, next.Course)
	if !res.Changed {
		res.Vehicle = prev
		return res
	}

	next.LastUpdated = c.now()
	c.vehicles[u.ID] = next
	res.Vehicle = next
	return res
}

func (c *EntityCache) Get(id string) (core.Vehicle, bool) {
	c.m.Lock()
	defer c.m.Unlock()
	v, ok := c.vehicles[id]
	return v, ok
}

// All returns every vehicle ordered by id.
func (c *EntityCache) All() []core.Vehicle {
	c.m.Lock()
	defer c.m.Unlock()
	out := make([]core.Vehicle, 0, len(c.vehicles))
	for _, v := range c.vehicles {
		out = append(out, v)
	}
	sort.Slice(out, func(i, j int) bool {
		return util.CompareIDs(out[i].ID, out[j].ID) < 0
	})
	return out
}

// Positions returns the current positions ordered by id.
func (c *EntityCache) Positions() []core.Position {
	all := c.All()
	out := make([]core.Position, len(all))
	for i, v := range all {
		out[i] = v.Position
	}
	return out
}

func (c *EntityCache) Len() int {
	c.m.Lock()
	defer c.m.Unlock()
	return len(c.vehicles)
}

func normalizeCourse(course float64) (float64, bool) {
	if math.IsNaN(course) || math.IsInf(course, 0) {
		return 0, false
	}
	course = math.Mod(course, 360)
	if course < 0 {
		course += 360
	}
	return course, true
}

func sameCourse(a, b *float64) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

// SafeCounter is a thread-safe counter
type SafeCounter struct {
	mu sync.Mutex
	v  int
}

func (c *SafeCounter) Value() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.v
}

func (c *SafeCounter) Set(v int) {
	c.mu.Lock()
	c.v = v
	c.mu.Unlock()
}

func (c *SafeCounter) Inc() {
	c.mu.Lock()
	c.v++
	c.mu.Unlock()
}

func (c *SafeCounter) Add(n int) {
	c.mu.Lock()
	c.v += n
	c.mu.Unlock()
}
