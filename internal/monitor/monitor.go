// Package monitor samples tracker health on an interval, writes it to a
// status file and forwards it to the performance recorder.
package monitor

import (
	"encoding/json"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/srec-ev/tracker/internal/engine"
	"github.com/srec-ev/tracker/internal/notify"
)

const defaultInterval = time.Minute

// PerformanceRecorder stores one status sample.
type PerformanceRecorder interface {
	RecordPerformance(at time.Time, fields map[string]any) error
}

// Dependencies holds all dependencies for the monitor service
type Dependencies struct {
	Stats     func() engine.Stats
	Clients   func() int
	Connected func() bool
	// Received counts upstream envelopes since startup.
	Received   func() int64
	Alarm      func() notify.AlarmStatus
	Recorder   PerformanceRecorder
	Logger     *slog.Logger
	StatusFile string
	Interval   time.Duration
}

// Status is one health sample.
type Status struct {
	Time      time.Time          `json:"time"`
	Uptime    string             `json:"uptime"`
	Engine    engine.Stats       `json:"engine"`
	Clients   int                `json:"clients"`
	Connected bool               `json:"upstreamConnected"`
	Received  int64              `json:"received"`
	Alarm     notify.AlarmStatus `json:"alarm"`
}

// Service manages status monitoring
type Service struct {
	deps      Dependencies
	started   time.Time
	isRunning bool
	mu        sync.RWMutex
	stopChan  chan struct{}
	done      chan struct{}
}

// NewService creates a new monitor service
func NewService(deps Dependencies) *Service {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Interval <= 0 {
		deps.Interval = defaultInterval
	}
	return &Service{
		deps:    deps,
		started: time.Now(),
	}
}

// IsRunning returns whether the status monitor is running
func (s *Service) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.isRunning
}

// GetStatus returns the current program status
func (s *Service) GetStatus() Status {
	now := time.Now()
	st := Status{
		Time:   now,
		Uptime: now.Sub(s.started).Truncate(time.Second).String(),
	}
	if s.deps.Stats != nil {
		st.Engine = s.deps.Stats()
	}
	if s.deps.Clients != nil {
		st.Clients = s.deps.Clients()
	}
	if s.deps.Connected != nil {
		st.Connected = s.deps.Connected()
	}
	if s.deps.Received != nil {
		st.Received = s.deps.Received()
	}
	if s.deps.Alarm != nil {
		st.Alarm = s.deps.Alarm()
	}
	return st
}

func (s *Service) sample() {
	st := s.GetStatus()
	logger := s.deps.Logger

	logger.Info("Status",
		"vehicles", st.Engine.Vehicles,
		"positions", st.Engine.Positions,
		"rejected", st.Engine.Rejected,
		"alerts", st.Engine.Alerts,
		"clients", st.Clients,
		"upstream", st.Connected,
		"alarm", st.Alarm.Playing,
	)

	if s.deps.StatusFile != "" {
		data, err := json.MarshalIndent(st, "", "  ")
		if err == nil {
			err = os.WriteFile(s.deps.StatusFile, append(data, '\n'), 0o644)
		}
		if err != nil {
			logger.Error("Error writing status file", "error", err)
		}
	}

	if s.deps.Recorder != nil {
		connected := 0
		if st.Connected {
			connected = 1
		}
		err := s.deps.Recorder.RecordPerformance(st.Time, map[string]any{
			"vehicles":       st.Engine.Vehicles,
			"positions":      st.Engine.Positions,
			"rejected":       st.Engine.Rejected,
			"alerts":         st.Engine.Alerts,
			"clients":        st.Clients,
			"connected":      connected,
			"received":       st.Received,
			"alarmPlaying":   st.Alarm.Playing,
			"alarmRestarts":  st.Alarm.Restarts,
			"alarmElapsedMs": st.Alarm.Elapsed.Milliseconds(),
		})
		if err != nil {
			logger.Debug("Error recording performance", "error", err)
		}
	}
}

// Start starts the status monitor goroutine
func (s *Service) Start() error {
	s.mu.Lock()
	if s.isRunning {
		s.mu.Unlock()
		return nil
	}
	s.isRunning = true
	s.stopChan = make(chan struct{})
	s.done = make(chan struct{})
	stop, done := s.stopChan, s.done
	s.mu.Unlock()

	go func() {
		defer close(done)
		defer func() {
			s.mu.Lock()
			s.isRunning = false
			s.mu.Unlock()
		}()

		s.deps.Logger.Debug("Starting status monitor goroutine", "interval", s.deps.Interval)
		ticker := time.NewTicker(s.deps.Interval)
		defer ticker.Stop()

		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				s.sample()
			}
		}
	}()

	return nil
}

// Stop stops the status monitor and waits for the goroutine to exit.
func (s *Service) Stop() {
	s.mu.Lock()
	if !s.isRunning {
		s.mu.Unlock()
		return
	}
	close(s.stopChan)
	done := s.done
	s.isRunning = false
	s.mu.Unlock()
	<-done
}
