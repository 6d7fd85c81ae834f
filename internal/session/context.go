// Package session tracks the running tracker session: its id, start time
// and the track currently being monitored.
package session

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Session identifies one run of the tracker.
type Session struct {
	ID      uuid.UUID `json:"id"`
	Started time.Time `json:"started"`
	Track   string    `json:"track"`
}

// Context holds the current session
type Context struct {
	mu      sync.RWMutex
	session Session
}

// NewContext starts a fresh session at now.
func NewContext(now time.Time) *Context {
	return &Context{session: Session{
		ID:      uuid.New(),
		Started: now,
		Track:   "No track selected",
	}}
}

// Get returns a copy of the current session
func (c *Context) Get() Session {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.session
}

// SetTrack records which track the operator is watching.
func (c *Context) SetTrack(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.session.Track = name
}

// Restart replaces the session id and start time, keeping the track.
func (c *Context) Restart(now time.Time) Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.session.ID = uuid.New()
	c.session.Started = now
	return c.session
}
