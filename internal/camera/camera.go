// Package camera derives the map focal point from live vehicle positions and
// user overrides.
package camera

import (
	"sync"

	"github.com/srec-ev/tracker/pkg/core"
)

// DefaultHome is the campus center used at startup and on reset.
var DefaultHome = core.Position{Lat: 11.10223, Lng: 76.9659}

// Recompute returns the camera center for the given positions.
// With follow off the manual center is kept. With follow on a single vehicle
// is centered directly, several are averaged in degree space, and an empty
// fleet leaves previous in place.
func Recompute(positions []core.Position, follow bool, manual, previous core.Position) core.Position {
	if !follow {
		return manual
	}
	switch len(positions) {
	case 0:
		return previous
	case 1:
		return positions[0]
	}
	var sumLat, sumLng float64
	for _, p := range positions {
		sumLat += p.Lat
		sumLng += p.Lng
	}
	n := float64(len(positions))
	return core.Position{Lat: sumLat / n, Lng: sumLng / n}
}

// Controller holds the camera state between updates.
type Controller struct {
	mu     sync.Mutex
	home   core.Position
	manual core.Position
	center core.Position
	follow bool
}

// NewController starts centered on home with follow on.
func NewController(home core.Position) *Controller {
	return &Controller{
		home:   home,
		manual: home,
		center: home,
		follow: true,
	}
}

// Update recomputes the center after a registry change.
func (c *Controller) Update(positions []core.Position) core.CameraState {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.center = Recompute(positions, c.follow, c.manual, c.center)
	return c.state()
}

// SetManualCenter pins the camera and disengages follow.
func (c *Controller) SetManualCenter(pos core.Position) core.CameraState {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.manual = pos
	c.follow = false
	c.center = pos
	return c.state()
}

// ToggleFollow flips follow mode. Turning it on recenters immediately.
func (c *Controller) ToggleFollow(positions []core.Position) core.CameraState {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.follow = !c.follow
	if !c.follow {
		// keep the view where it is
		c.manual = c.center
	}
	c.center = Recompute(positions, c.follow, c.manual, c.center)
	return c.state()
}

// Reset returns to the home center with follow on.
func (c *Controller) Reset(positions []core.Position) core.CameraState {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.manual = c.home
	c.follow = true
	c.center = Recompute(positions, c.follow, c.manual, c.home)
	return c.state()
}

func (c *Controller) State() core.CameraState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state()
}

func (c *Controller) Home() core.Position {
	return c.home
}

func (c *Controller) state() core.CameraState {
	return core.CameraState{Center: c.center, Follow: c.follow}
}
