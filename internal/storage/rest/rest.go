// Package rest implements storage.Backend against a PostgREST-style
// service such as the hosted database the dashboard reads its tracks from.
package rest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/srec-ev/tracker/internal/api"
	"github.com/srec-ev/tracker/internal/geo"
	"github.com/srec-ev/tracker/internal/storage"
	"github.com/srec-ev/tracker/pkg/core"
)

// ErrNoURL is returned by Init when no service URL is configured.
var ErrNoURL = errors.New("rest storage requires api.serverUrl")

const healthcheckTimeout = 5 * time.Second

// Client is the subset of api.Client the backend uses.
type Client interface {
	Healthcheck(ctx context.Context) error
	ListTracks(ctx context.Context) ([]core.Track, error)
	InsertTrack(ctx context.Context, t *core.Track) error
	ListLandmarks(ctx context.Context) ([]core.Landmark, error)
	GetPolyline(ctx context.Context, name string) ([]byte, error)
}

// apiClient adapts api.Client's json.RawMessage return.
type apiClient struct {
	*api.Client
}

func (c apiClient) GetPolyline(ctx context.Context, name string) ([]byte, error) {
	return c.Client.GetPolyline(ctx, name)
}

// Backend stores tracks in the remote service.
type Backend struct {
	client Client
	url    string
	log    *slog.Logger
}

// New creates a backend for the service at baseURL.
func New(baseURL, apiKey string, logger *slog.Logger) *Backend {
	if logger == nil {
		logger = slog.Default()
	}
	return &Backend{
		client: apiClient{api.New(baseURL, apiKey)},
		url:    baseURL,
		log:    logger,
	}
}

// NewWithClient creates a backend over an existing client.
func NewWithClient(c Client, logger *slog.Logger) *Backend {
	if logger == nil {
		logger = slog.Default()
	}
	return &Backend{client: c, url: "client", log: logger}
}

// Init checks the service is reachable. An unreachable service is logged,
// not fatal; every call reports its own error.
func (b *Backend) Init() error {
	if b.url == "" {
		return ErrNoURL
	}
	ctx, cancel := context.WithTimeout(context.Background(), healthcheckTimeout)
	defer cancel()
	if err := b.client.Healthcheck(ctx); err != nil {
		b.log.Warn("REST storage unreachable", "url", b.url, "error", err)
	}
	return nil
}

func (b *Backend) Close() error {
	return nil
}

func (b *Backend) ListTracks(ctx context.Context) ([]core.Track, error) {
	return b.client.ListTracks(ctx)
}

// AddTrack validates t, rejects names already present (ignoring case) and
// inserts it remotely.
func (b *Backend) AddTrack(ctx context.Context, t *core.Track) error {
	t.Name = strings.TrimSpace(t.Name)
	if t.Name == "" {
		return fmt.Errorf("%w: empty name", storage.ErrInvalidTrack)
	}
	if err := geo.ValidatePosition(t.Latitude, t.Longitude); err != nil {
		return fmt.Errorf("%w: %v", storage.ErrInvalidTrack, err)
	}

	existing, err := b.client.ListTracks(ctx)
	if err != nil {
		return err
	}
	for _, e := range existing {
		if strings.EqualFold(e.Name, t.Name) {
			return fmt.Errorf("%w: %s", storage.ErrDuplicateTrack, t.Name)
		}
	}

	err = b.client.InsertTrack(ctx, t)
	var se *api.StatusError
	if errors.As(err, &se) && se.Status == http.StatusConflict {
		return fmt.Errorf("%w: %s", storage.ErrDuplicateTrack, t.Name)
	}
	return err
}

// ListLandmarks returns the remote landmarks, or the built-in set when the
// service has none.
func (b *Backend) ListLandmarks(ctx context.Context) ([]core.Landmark, error) {
	landmarks, err := b.client.ListLandmarks(ctx)
	var se *api.StatusError
	if errors.As(err, &se) && se.Status == http.StatusNotFound {
		return storage.DefaultLandmarks(), nil
	}
	if err != nil {
		return nil, err
	}
	if len(landmarks) == 0 {
		return storage.DefaultLandmarks(), nil
	}
	return landmarks, nil
}

func (b *Backend) LoadPolyline(ctx context.Context) (core.Polyline, error) {
	raw, err := b.client.GetPolyline(ctx, storage.DefaultPolyline)
	var se *api.StatusError
	if errors.Is(err, api.ErrNotFound) || (errors.As(err, &se) && se.Status == http.StatusNotFound) {
		return nil, storage.ErrNoPolyline
	}
	if err != nil {
		return nil, err
	}
	return geo.ParsePolylineToCore(string(raw))
}
