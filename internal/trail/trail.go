// Package trail keeps the bounded recent-position history drawn behind each vehicle.
package trail

import (
	"sync"

	"github.com/srec-ev/tracker/internal/queue"
	"github.com/srec-ev/tracker/pkg/core"
)

// DefaultLimit is the number of points kept per vehicle.
const DefaultLimit = 100

// Buffer holds one bounded queue per vehicle id.
type Buffer struct {
	mu     sync.RWMutex
	limit  int
	trails map[string]*queue.Queue[core.Position]
}

// New returns a Buffer keeping at most limit points per vehicle.
// A non-positive limit falls back to DefaultLimit.
func New(limit int) *Buffer {
	if limit <= 0 {
		limit = DefaultLimit
	}
	return &Buffer{
		limit:  limit,
		trails: make(map[string]*queue.Queue[core.Position]),
	}
}

// Append adds point to the tail of id's trail. A point equal to the current
// tail is not added again. Reports whether the trail grew or shifted.
func (b *Buffer) Append(id string, point core.Position) bool {
	b.mu.Lock()
	q, ok := b.trails[id]
	if !ok {
		q = queue.NewBounded[core.Position](b.limit)
		b.trails[id] = q
	}
	b.mu.Unlock()

	if last, ok := q.Last(); ok && last == point {
		return false
	}
	q.Push(point)
	return true
}

// Get returns a copy of id's trail, oldest first. Unknown ids yield an empty slice.
func (b *Buffer) Get(id string) []core.Position {
	b.mu.RLock()
	q, ok := b.trails[id]
	b.mu.RUnlock()
	if !ok {
		return []core.Position{}
	}
	return q.Snapshot()
}

// All returns a copy of every trail keyed by vehicle id.
func (b *Buffer) All() map[string][]core.Position {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make(map[string][]core.Position, len(b.trails))
	for id, q := range b.trails {
		out[id] = q.Snapshot()
	}
	return out
}

// Limit returns the per-vehicle bound.
func (b *Buffer) Limit() int {
	return b.limit
}

// Reset drops every trail.
func (b *Buffer) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.trails = make(map[string]*queue.Queue[core.Position])
}
