// Package memory is a storage backend kept in process memory and
// optionally persisted as a JSON document.
package memory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/srec-ev/tracker/internal/config"
	"github.com/srec-ev/tracker/internal/geo"
	"github.com/srec-ev/tracker/internal/storage"
	"github.com/srec-ev/tracker/pkg/core"
)

// document is the on-disk layout of cfg.TracksFile.
type document struct {
	Tracks    []core.Track    `json:"tracks"`
	Landmarks []core.Landmark `json:"landmarks,omitempty"`
	Polyline  [][2]float64    `json:"polyline,omitempty"`
}

// Backend stores tracks in memory and writes them back to the tracks file
// on Close
type Backend struct {
	cfg       config.MemoryConfig
	tracks    map[string]core.Track // keyed by lowercase name
	landmarks []core.Landmark
	polyline  core.Polyline

	idCounter uint
	mu        sync.RWMutex
}

// New creates a new memory backend
func New(cfg config.MemoryConfig) *Backend {
	return &Backend{
		cfg:       cfg,
		tracks:    make(map[string]core.Track),
		landmarks: storage.DefaultLandmarks(),
	}
}

func trackKey(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// Init loads the tracks file if one is configured. A missing file is not an
// error; it is created on Close.
func (b *Backend) Init() error {
	if b.cfg.TracksFile == "" {
		return nil
	}
	data, err := os.ReadFile(b.cfg.TracksFile)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read tracks file: %w", err)
	}

	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("failed to parse tracks file %s: %w", b.cfg.TracksFile, err)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	for _, t := range doc.Tracks {
		b.tracks[trackKey(t.Name)] = t
		if t.ID > b.idCounter {
			b.idCounter = t.ID
		}
	}
	if len(doc.Landmarks) > 0 {
		b.landmarks = doc.Landmarks
	}
	if len(doc.Polyline) > 0 {
		b.polyline = make(core.Polyline, len(doc.Polyline))
		for i, p := range doc.Polyline {
			b.polyline[i] = core.Position{Lat: p[0], Lng: p[1]}
		}
	}
	return nil
}

// Close writes the tracks file, if configured.
func (b *Backend) Close() error {
	if b.cfg.TracksFile == "" {
		return nil
	}
	b.mu.RLock()
	doc := document{Tracks: b.sortedTracks(), Landmarks: b.landmarks}
	for _, p := range b.polyline {
		doc.Polyline = append(doc.Polyline, [2]float64{p.Lat, p.Lng})
	}
	b.mu.RUnlock()

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return err
	}
	if dir := filepath.Dir(b.cfg.TracksFile); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create tracks dir: %w", err)
		}
	}
	tmp := b.cfg.TracksFile + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("failed to write tracks file: %w", err)
	}
	return os.Rename(tmp, b.cfg.TracksFile)
}

func (b *Backend) sortedTracks() []core.Track {
	out := make([]core.Track, 0, len(b.tracks))
	for _, t := range b.tracks {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// ListTracks returns every track ordered by id
func (b *Backend) ListTracks(context.Context) ([]core.Track, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.sortedTracks(), nil
}

// AddTrack registers a new track and assigns its id
func (b *Backend) AddTrack(_ context.Context, t *core.Track) error {
	t.Name = strings.TrimSpace(t.Name)
	if t.Name == "" {
		return fmt.Errorf("%w: empty name", storage.ErrInvalidTrack)
	}
	if err := geo.ValidatePosition(t.Latitude, t.Longitude); err != nil {
		return fmt.Errorf("%w: %v", storage.ErrInvalidTrack, err)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	key := trackKey(t.Name)
	if _, ok := b.tracks[key]; ok {
		return fmt.Errorf("%w: %s", storage.ErrDuplicateTrack, t.Name)
	}
	b.idCounter++
	t.ID = b.idCounter
	b.tracks[key] = *t
	return nil
}

func (b *Backend) ListLandmarks(context.Context) ([]core.Landmark, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]core.Landmark, len(b.landmarks))
	copy(out, b.landmarks)
	return out, nil
}

func (b *Backend) LoadPolyline(context.Context) (core.Polyline, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if len(b.polyline) == 0 {
		return nil, storage.ErrNoPolyline
	}
	out := make(core.Polyline, len(b.polyline))
	copy(out, b.polyline)
	return out, nil
}

// SetPolyline replaces the stored reference polyline.
func (b *Backend) SetPolyline(p core.Polyline) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.polyline = append(core.Polyline(nil), p...)
}
