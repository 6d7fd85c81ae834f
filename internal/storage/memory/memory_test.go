package memory

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/srec-ev/tracker/internal/config"
	"github.com/srec-ev/tracker/internal/storage"
	"github.com/srec-ev/tracker/pkg/core"
)

// Verify Backend implements storage.Backend interface
var _ storage.Backend = (*Backend)(nil)

func TestNew(t *testing.T) {
	b := New(config.MemoryConfig{TracksFile: "/tmp/test.json"})

	require.NotNil(t, b)
	assert.Equal(t, "/tmp/test.json", b.cfg.TracksFile)
	assert.NotNil(t, b.tracks)
	assert.Len(t, b.landmarks, len(storage.DefaultLandmarks()))
}

func TestInitAndClose_NoFile(t *testing.T) {
	b := New(config.MemoryConfig{})

	require.NoError(t, b.Init())
	require.NoError(t, b.Close())
}

func TestAddTrack_AssignsSequentialIDs(t *testing.T) {
	b := New(config.MemoryConfig{})
	ctx := context.Background()

	first := &core.Track{Name: "Oval", Latitude: 11, Longitude: 77}
	second := &core.Track{Name: " North ", Latitude: 12, Longitude: 77}
	require.NoError(t, b.AddTrack(ctx, first))
	require.NoError(t, b.AddTrack(ctx, second))

	assert.Equal(t, uint(1), first.ID)
	assert.Equal(t, uint(2), second.ID)
	assert.Equal(t, "North", second.Name)

	tracks, err := b.ListTracks(ctx)
	require.NoError(t, err)
	require.Len(t, tracks, 2)
	assert.Equal(t, "Oval", tracks[0].Name)
}

func TestAddTrack_Rejects(t *testing.T) {
	b := New(config.MemoryConfig{})
	ctx := context.Background()
	require.NoError(t, b.AddTrack(ctx, &core.Track{Name: "Oval", Latitude: 11, Longitude: 77}))

	err := b.AddTrack(ctx, &core.Track{Name: "OVAL", Latitude: 11, Longitude: 77})
	assert.ErrorIs(t, err, storage.ErrDuplicateTrack)

	err = b.AddTrack(ctx, &core.Track{Name: "  ", Latitude: 11, Longitude: 77})
	assert.ErrorIs(t, err, storage.ErrInvalidTrack)

	err = b.AddTrack(ctx, &core.Track{Name: "Bad", Latitude: 100, Longitude: 77})
	assert.ErrorIs(t, err, storage.ErrInvalidTrack)
}

func TestLoadPolyline_EmptyThenSet(t *testing.T) {
	b := New(config.MemoryConfig{})
	ctx := context.Background()

	_, err := b.LoadPolyline(ctx)
	assert.ErrorIs(t, err, storage.ErrNoPolyline)

	b.SetPolyline(core.Polyline{{Lat: 1, Lng: 2}, {Lat: 3, Lng: 4}})
	p, err := b.LoadPolyline(ctx)
	require.NoError(t, err)
	assert.Len(t, p, 2)
}

func TestTracksFile_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "tracks.json")
	ctx := context.Background()

	b := New(config.MemoryConfig{TracksFile: path})
	require.NoError(t, b.Init())
	require.NoError(t, b.AddTrack(ctx, &core.Track{Name: "Oval", Latitude: 11, Longitude: 77, Zoom: 17}))
	b.SetPolyline(core.Polyline{{Lat: 1, Lng: 2}, {Lat: 3, Lng: 4}})
	require.NoError(t, b.Close())

	reloaded := New(config.MemoryConfig{TracksFile: path})
	require.NoError(t, reloaded.Init())

	tracks, err := reloaded.ListTracks(ctx)
	require.NoError(t, err)
	require.Len(t, tracks, 1)
	assert.Equal(t, core.Track{ID: 1, Name: "Oval", Latitude: 11, Longitude: 77, Zoom: 17}, tracks[0])

	p, err := reloaded.LoadPolyline(ctx)
	require.NoError(t, err)
	assert.Equal(t, core.Polyline{{Lat: 1, Lng: 2}, {Lat: 3, Lng: 4}}, p)

	next := &core.Track{Name: "North", Latitude: 1, Longitude: 1}
	require.NoError(t, reloaded.AddTrack(ctx, next))
	assert.Equal(t, uint(2), next.ID)
}

func TestInit_MalformedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tracks.json")
	require.NoError(t, os.WriteFile(path, []byte(`{`), 0o644))

	err := New(config.MemoryConfig{TracksFile: path}).Init()
	assert.Error(t, err)
}

func TestConcurrentAddTrack(t *testing.T) {
	b := New(config.MemoryConfig{})
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_ = b.AddTrack(ctx, &core.Track{Name: string(rune('A'+i%26)) + string(rune('a'+i/26)), Latitude: 1, Longitude: 1})
		}(i)
	}
	wg.Wait()

	tracks, err := b.ListTracks(ctx)
	require.NoError(t, err)
	assert.Len(t, tracks, 50)
}
