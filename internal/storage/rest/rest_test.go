package rest

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/srec-ev/tracker/internal/api"
	"github.com/srec-ev/tracker/internal/storage"
	"github.com/srec-ev/tracker/pkg/core"
)

// Compile-time interface check
var _ storage.Backend = (*Backend)(nil)

type fakeClient struct {
	mu          sync.Mutex
	tracks      []core.Track
	landmarks   []core.Landmark
	landmarkErr error
	polyline    []byte
	polylineErr error
	insertErr   error
}

func (f *fakeClient) Healthcheck(context.Context) error { return nil }

func (f *fakeClient) ListTracks(context.Context) ([]core.Track, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]core.Track(nil), f.tracks...), nil
}

func (f *fakeClient) InsertTrack(_ context.Context, t *core.Track) error {
	if f.insertErr != nil {
		return f.insertErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	t.ID = uint(len(f.tracks) + 1)
	f.tracks = append(f.tracks, *t)
	return nil
}

func (f *fakeClient) ListLandmarks(context.Context) ([]core.Landmark, error) {
	return f.landmarks, f.landmarkErr
}

func (f *fakeClient) GetPolyline(context.Context, string) ([]byte, error) {
	return f.polyline, f.polylineErr
}

func TestInit_RequiresURL(t *testing.T) {
	assert.ErrorIs(t, New("", "", nil).Init(), ErrNoURL)
}

func TestInit_UnreachableIsNotFatal(t *testing.T) {
	b := New("http://127.0.0.1:1", "key", nil)
	assert.NoError(t, b.Init())
}

func TestAddTrack(t *testing.T) {
	fc := &fakeClient{}
	b := NewWithClient(fc, nil)
	ctx := context.Background()

	track := &core.Track{Name: " Oval ", Latitude: 11, Longitude: 77, Zoom: 16}
	require.NoError(t, b.AddTrack(ctx, track))
	assert.Equal(t, uint(1), track.ID)
	assert.Equal(t, "Oval", track.Name)

	assert.ErrorIs(t, b.AddTrack(ctx, &core.Track{Name: "OVAL", Latitude: 11, Longitude: 77}), storage.ErrDuplicateTrack)
	assert.ErrorIs(t, b.AddTrack(ctx, &core.Track{Name: "", Latitude: 11, Longitude: 77}), storage.ErrInvalidTrack)
	assert.ErrorIs(t, b.AddTrack(ctx, &core.Track{Name: "Far", Latitude: 91, Longitude: 77}), storage.ErrInvalidTrack)
}

func TestAddTrack_ConflictStatus(t *testing.T) {
	fc := &fakeClient{insertErr: &api.StatusError{Status: http.StatusConflict}}
	b := NewWithClient(fc, nil)
	assert.ErrorIs(t, b.AddTrack(context.Background(), &core.Track{Name: "Oval", Latitude: 11, Longitude: 77}), storage.ErrDuplicateTrack)
}

func TestListLandmarks_FallsBackToDefaults(t *testing.T) {
	ctx := context.Background()

	b := NewWithClient(&fakeClient{landmarkErr: &api.StatusError{Status: http.StatusNotFound}}, nil)
	landmarks, err := b.ListLandmarks(ctx)
	require.NoError(t, err)
	assert.Equal(t, storage.DefaultLandmarks(), landmarks)

	b = NewWithClient(&fakeClient{}, nil)
	landmarks, err = b.ListLandmarks(ctx)
	require.NoError(t, err)
	assert.Equal(t, storage.DefaultLandmarks(), landmarks)

	b = NewWithClient(&fakeClient{landmarkErr: errors.New("boom")}, nil)
	_, err = b.ListLandmarks(ctx)
	assert.Error(t, err)
}

func TestLoadPolyline(t *testing.T) {
	ctx := context.Background()

	b := NewWithClient(&fakeClient{polyline: []byte(`[[11.1,76.9],[11.2,76.95]]`)}, nil)
	p, err := b.LoadPolyline(ctx)
	require.NoError(t, err)
	assert.Equal(t, core.Polyline{{Lat: 11.1, Lng: 76.9}, {Lat: 11.2, Lng: 76.95}}, p)

	b = NewWithClient(&fakeClient{polylineErr: api.ErrNotFound}, nil)
	_, err = b.LoadPolyline(ctx)
	assert.ErrorIs(t, err, storage.ErrNoPolyline)
}

func TestBackend_AgainstServer(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/rest/v1/tracks":
			_ = json.NewEncoder(w).Encode([]core.Track{{ID: 3, Name: "Oval", Latitude: 11, Longitude: 77, Zoom: 16}})
		case "/rest/v1/reference_polylines":
			_, _ = w.Write([]byte(`[]`))
		default:
			w.WriteHeader(http.StatusOK)
		}
	}))
	defer srv.Close()

	b := New(srv.URL, "key", nil)
	require.NoError(t, b.Init())
	ctx := context.Background()

	tracks, err := b.ListTracks(ctx)
	require.NoError(t, err)
	require.Len(t, tracks, 1)
	assert.Equal(t, uint(3), tracks[0].ID)

	_, err = b.LoadPolyline(ctx)
	assert.ErrorIs(t, err, storage.ErrNoPolyline)
}
