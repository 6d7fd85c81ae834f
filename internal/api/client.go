// Package api is a client for a PostgREST-style REST service (Supabase
// compatible) holding track definitions, landmarks and the reference
// polyline.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/srec-ev/tracker/pkg/core"
)

// ErrNotFound is returned when a queried row does not exist.
var ErrNotFound = errors.New("not found")

// StatusError is a non-2xx response.
type StatusError struct {
	Status int
	Body   string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("request returned status %d", e.Status)
	}
	return fmt.Sprintf("request returned status %d: %s", e.Status, e.Body)
}

// Client handles communication with the REST service.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// New creates a new API client.
func New(baseURL, apiKey string) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// Healthcheck checks if the REST service is reachable.
func (c *Client) Healthcheck(ctx context.Context) error {
	req, err := c.newRequest(ctx, http.MethodGet, "/rest/v1/", nil, nil)
	if err != nil {
		return err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("healthcheck request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("healthcheck returned status %d", resp.StatusCode)
	}
	return nil
}

func (c *Client) newRequest(ctx context.Context, method, path string, query url.Values, body any) (*http.Request, error) {
	var r io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to encode body: %w", err)
		}
		r = bytes.NewReader(data)
	}

	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, method, u, r)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set("apikey", c.apiKey)
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	return req, nil
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s failed: %w", req.Method, req.URL.Path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &StatusError{Status: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode %s response: %w", req.URL.Path, err)
	}
	return nil
}

// ListTracks returns every row of the tracks table.
func (c *Client) ListTracks(ctx context.Context) ([]core.Track, error) {
	req, err := c.newRequest(ctx, http.MethodGet, "/rest/v1/tracks", url.Values{
		"select": {"*"},
		"order":  {"id.asc"},
	}, nil)
	if err != nil {
		return nil, err
	}
	var tracks []core.Track
	if err := c.do(req, &tracks); err != nil {
		return nil, err
	}
	return tracks, nil
}

type trackRow struct {
	Name      string  `json:"name"`
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Zoom      int     `json:"zoom"`
}

// InsertTrack creates t and copies the server-assigned id back.
func (c *Client) InsertTrack(ctx context.Context, t *core.Track) error {
	row := trackRow{Name: t.Name, Latitude: t.Latitude, Longitude: t.Longitude, Zoom: t.Zoom}
	req, err := c.newRequest(ctx, http.MethodPost, "/rest/v1/tracks", nil, []trackRow{row})
	if err != nil {
		return err
	}
	req.Header.Set("Prefer", "return=representation")

	var created []core.Track
	if err := c.do(req, &created); err != nil {
		return err
	}
	if len(created) == 0 {
		return fmt.Errorf("insert track %q: empty response", t.Name)
	}
	t.ID = created[0].ID
	return nil
}

// ListLandmarks returns every row of the landmarks table.
func (c *Client) ListLandmarks(ctx context.Context) ([]core.Landmark, error) {
	req, err := c.newRequest(ctx, http.MethodGet, "/rest/v1/landmarks", url.Values{"select": {"*"}}, nil)
	if err != nil {
		return nil, err
	}
	var landmarks []core.Landmark
	if err := c.do(req, &landmarks); err != nil {
		return nil, err
	}
	return landmarks, nil
}

type polylineRow struct {
	Name   string          `json:"name"`
	Points json.RawMessage `json:"points"`
}

// GetPolyline returns the raw [[lat,lng],...] points of the named
// reference polyline.
func (c *Client) GetPolyline(ctx context.Context, name string) (json.RawMessage, error) {
	req, err := c.newRequest(ctx, http.MethodGet, "/rest/v1/reference_polylines", url.Values{
		"select": {"name,points"},
		"name":   {"eq." + name},
		"limit":  {"1"},
	}, nil)
	if err != nil {
		return nil, err
	}
	var rows []polylineRow
	if err := c.do(req, &rows); err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("polyline %q: %w", name, ErrNotFound)
	}
	return rows[0].Points, nil
}
