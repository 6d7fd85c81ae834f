package cache

import (
	"sort"
	"strings"
	"sync"

	"github.com/srec-ev/tracker/pkg/core"
)

// TrackCache maps track names to their stored definitions so camera focus
// requests don't hit the storage backend.
type TrackCache struct {
	mu     sync.RWMutex
	tracks map[string]core.Track
}

// NewTrackCache creates a new TrackCache
func NewTrackCache() *TrackCache {
	return &TrackCache{
		tracks: make(map[string]core.Track),
	}
}

// Names are matched case-insensitively.
func trackKey(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// Get retrieves a track by name
func (c *TrackCache) Get(name string) (core.Track, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	t, ok := c.tracks[trackKey(name)]
	return t, ok
}

// Set stores a track under its name
func (c *TrackCache) Set(t core.Track) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tracks[trackKey(t.Name)] = t
}

// Load replaces the cache contents with tracks
func (c *TrackCache) Load(tracks []core.Track) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tracks = make(map[string]core.Track, len(tracks))
	for _, t := range tracks {
		c.tracks[trackKey(t.Name)] = t
	}
}

// Delete removes a track by name
func (c *TrackCache) Delete(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.tracks, trackKey(name))
}

// All returns the cached tracks ordered by id
func (c *TrackCache) All() []core.Track {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]core.Track, 0, len(c.tracks))
	for _, t := range c.tracks {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Reset clears all tracks from the cache
func (c *TrackCache) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tracks = make(map[string]core.Track)
}
