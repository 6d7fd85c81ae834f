// Package server is the renderer-facing HTTP API and WebSocket hub.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/srec-ev/tracker/internal/engine"
	"github.com/srec-ev/tracker/internal/geo"
	"github.com/srec-ev/tracker/internal/session"
	"github.com/srec-ev/tracker/internal/util"
	"github.com/srec-ev/tracker/pkg/core"
)

// TrackStore persists named track definitions.
type TrackStore interface {
	ListTracks(ctx context.Context) ([]core.Track, error)
	AddTrack(ctx context.Context, t *core.Track) error
}

// Upstream reports the feed connection state for health checks.
type Upstream interface {
	Connected() bool
}

type Config struct {
	Addr            string
	ShutdownTimeout time.Duration
}

type Dependencies struct {
	Engine    *engine.Engine
	Hub       *Hub
	Tracks    TrackStore
	Landmarks []core.Landmark
	Upstream  Upstream
	// Session, when set, is reported by health and follows FocusTrack.
	Session *session.Context
	Logger  *slog.Logger
}

type Server struct {
	cfg  Config
	deps Dependencies
	http *http.Server
}

func New(cfg Config, deps Dependencies) *Server {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Hub == nil {
		deps.Hub = NewHub(deps.Logger)
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = 10 * time.Second
	}
	s := &Server{cfg: cfg, deps: deps}

	mux := http.NewServeMux()
	s.registerRoutes(mux)
	s.http = &http.Server{
		Addr:              cfg.Addr,
		Handler:           s.withLogging(mux),
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

func (s *Server) registerRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/health", s.handleHealth)
	mux.HandleFunc("GET /api/view", s.handleView)
	mux.HandleFunc("GET /api/vehicles", s.handleVehicles)
	mux.HandleFunc("GET /api/vehicles/{id}", s.handleVehicle)
	mux.HandleFunc("GET /api/trails/{id}", s.handleTrail)
	mux.HandleFunc("GET /api/alerts", s.handleAlerts)
	mux.HandleFunc("POST /api/alerts/dismiss", s.handleDismissAll)
	mux.HandleFunc("DELETE /api/alerts/warnings/{id}", s.handleDismissWarning)
	mux.HandleFunc("POST /api/camera/center", s.handleCameraCenter)
	mux.HandleFunc("POST /api/camera/follow", s.handleCameraFollow)
	mux.HandleFunc("POST /api/camera/reset", s.handleCameraReset)
	mux.HandleFunc("POST /api/camera/vehicle/{id}", s.handleFocusVehicle)
	mux.HandleFunc("POST /api/camera/track/{name}", s.handleFocusTrack)
	mux.HandleFunc("POST /api/camera/landmark/{id}", s.handleFocusLandmark)
	mux.HandleFunc("GET /api/tracks", s.handleListTracks)
	mux.HandleFunc("POST /api/tracks", s.handleAddTrack)
	mux.HandleFunc("GET /api/landmarks", s.handleLandmarks)
	mux.HandleFunc("GET /api/polyline", s.handlePolyline)
	mux.Handle("GET /ws", s.deps.Hub)
}

// Handler returns the routed handler, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.http.Handler
}

// Start serves in the background. Listen errors are logged.
func (s *Server) Start() {
	go func() {
		s.deps.Logger.Info("HTTP server starting", "addr", s.cfg.Addr)
		if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.deps.Logger.Error("HTTP server error", "error", err)
		}
	}()
}

// Shutdown stops accepting requests and disconnects renderers.
func (s *Server) Shutdown(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.ShutdownTimeout)
	defer cancel()
	s.deps.Hub.Close()
	return s.http.Shutdown(ctx)
}

func (s *Server) withLogging(h http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		h.ServeHTTP(w, r)
		s.deps.Logger.Debug("HTTP request", "method", r.Method, "path", r.URL.Path, "duration", time.Since(start))
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, errorResponse{Error: err.Error()})
}

// statusFor maps engine errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, util.ErrMissingID), errors.Is(err, util.ErrInvalidID),
		errors.Is(err, geo.ErrInvalidCoordinates), errors.Is(err, errBadRequest):
		return http.StatusBadRequest
	case errors.Is(err, engine.ErrUnknownVehicle), errors.Is(err, engine.ErrUnknownTrack),
		errors.Is(err, errNotFound):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

var (
	errBadRequest = errors.New("bad request")
	errNotFound   = errors.New("not found")
)

func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<16))
	if err := dec.Decode(v); err != nil {
		return errors.Join(errBadRequest, err)
	}
	return nil
}

type healthResponse struct {
	Status    string           `json:"status"`
	Upstream  *bool            `json:"upstream,omitempty"`
	Renderers int              `json:"renderers"`
	Stats     engine.Stats     `json:"stats"`
	Session   *session.Session `json:"session,omitempty"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{
		Status:    "ok",
		Renderers: s.deps.Hub.Clients(),
		Stats:     s.deps.Engine.Stats(),
	}
	if s.deps.Session != nil {
		sess := s.deps.Session.Get()
		resp.Session = &sess
	}
	if s.deps.Upstream != nil {
		up := s.deps.Upstream.Connected()
		resp.Upstream = &up
		if !up {
			resp.Status = "degraded"
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleView(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.deps.Engine.View())
}

func (s *Server) handleVehicles(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.deps.Engine.Vehicles())
}

type vehicleResponse struct {
	core.Vehicle
	Status core.AlertKind `json:"status"`
}

func (s *Server) handleVehicle(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	v, err := s.deps.Engine.Vehicle(id)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	status, _ := s.deps.Engine.Status(id)
	writeJSON(w, http.StatusOK, vehicleResponse{Vehicle: v, Status: status})
}

func (s *Server) handleTrail(w http.ResponseWriter, r *http.Request) {
	trail, err := s.deps.Engine.Trail(r.PathValue("id"))
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, trail)
}

func (s *Server) handleAlerts(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.deps.Engine.Alerts())
}

func (s *Server) handleDismissAll(w http.ResponseWriter, r *http.Request) {
	s.deps.Engine.DismissAll()
	writeJSON(w, http.StatusOK, s.deps.Engine.Alerts())
}

func (s *Server) handleDismissWarning(w http.ResponseWriter, r *http.Request) {
	cleared, err := s.deps.Engine.DismissWarning(r.PathValue("id"))
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	if !cleared {
		writeError(w, http.StatusNotFound, errors.New("no active warning"))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type centerRequest struct {
	Lat *float64 `json:"lat"`
	Lng *float64 `json:"lng"`
}

func (s *Server) handleCameraCenter(w http.ResponseWriter, r *http.Request) {
	var req centerRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if req.Lat == nil || req.Lng == nil {
		writeError(w, http.StatusBadRequest, errors.New("lat and lng are required"))
		return
	}
	st, err := s.deps.Engine.SetManualCenter(*req.Lat, *req.Lng)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (s *Server) handleCameraFollow(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.deps.Engine.ToggleFollow())
}

func (s *Server) handleCameraReset(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.deps.Engine.ResetCamera())
}

func (s *Server) handleFocusVehicle(w http.ResponseWriter, r *http.Request) {
	st, err := s.deps.Engine.FocusVehicle(r.PathValue("id"))
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (s *Server) handleFocusTrack(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	st, err := s.deps.Engine.FocusTrack(name)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	if s.deps.Session != nil {
		if t, ok := s.deps.Engine.Tracks().Get(name); ok {
			s.deps.Session.SetTrack(t.Name)
		}
	}
	writeJSON(w, http.StatusOK, st)
}

func (s *Server) handleFocusLandmark(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	for _, l := range s.deps.Landmarks {
		if strings.EqualFold(l.ID, id) {
			st, err := s.deps.Engine.SetManualCenter(l.Lat, l.Lng)
			if err != nil {
				writeError(w, statusFor(err), err)
				return
			}
			writeJSON(w, http.StatusOK, st)
			return
		}
	}
	writeError(w, http.StatusNotFound, errors.Join(errNotFound, errors.New("unknown landmark "+id)))
}

func (s *Server) handleListTracks(w http.ResponseWriter, r *http.Request) {
	if s.deps.Tracks == nil {
		writeJSON(w, http.StatusOK, s.deps.Engine.Tracks().All())
		return
	}
	tracks, err := s.deps.Tracks.ListTracks(r.Context())
	if err != nil {
		s.deps.Logger.Error("Failed to list tracks", "error", err)
		writeError(w, http.StatusBadGateway, err)
		return
	}
	s.deps.Engine.Tracks().Load(tracks)
	writeJSON(w, http.StatusOK, tracks)
}

type trackRequest struct {
	Name      string   `json:"name"`
	Latitude  *float64 `json:"latitude"`
	Longitude *float64 `json:"longitude"`
	Zoom      int      `json:"zoom"`
}

func (s *Server) handleAddTrack(w http.ResponseWriter, r *http.Request) {
	var req trackRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" || req.Latitude == nil || req.Longitude == nil {
		writeError(w, http.StatusBadRequest, errors.New("name, latitude and longitude are required"))
		return
	}
	if err := geo.ValidatePosition(*req.Latitude, *req.Longitude); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	track := core.Track{
		Name:      req.Name,
		Latitude:  *req.Latitude,
		Longitude: *req.Longitude,
		Zoom:      req.Zoom,
	}
	if s.deps.Tracks != nil {
		if err := s.deps.Tracks.AddTrack(r.Context(), &track); err != nil {
			s.deps.Logger.Error("Failed to add track", "name", track.Name, "error", err)
			writeError(w, http.StatusBadGateway, err)
			return
		}
	}
	s.deps.Engine.Tracks().Set(track)
	writeJSON(w, http.StatusCreated, track)
}

func (s *Server) handleLandmarks(w http.ResponseWriter, r *http.Request) {
	landmarks := s.deps.Landmarks
	if landmarks == nil {
		landmarks = []core.Landmark{}
	}
	writeJSON(w, http.StatusOK, landmarks)
}

func (s *Server) handlePolyline(w http.ResponseWriter, r *http.Request) {
	p := s.deps.Engine.Polyline()
	if p == nil {
		p = core.Polyline{}
	}
	writeJSON(w, http.StatusOK, p)
}
