package worker

import (
	"fmt"

	"github.com/srec-ev/tracker/internal/dispatcher"
	"github.com/srec-ev/tracker/pkg/streaming"
)

// LocationBufferSize bounds the locationUpdate queue.
const LocationBufferSize = 10000

// RegisterHandlers registers all event handlers with the dispatcher.
func (m *Manager) RegisterHandlers(d *dispatcher.Dispatcher) {
	// High-volume position batches - buffered
	d.Register(streaming.EventLocationUpdate, m.handleLocationUpdate, dispatcher.Buffered(LocationBufferSize), dispatcher.Logged())

	// Alerts - sync so they are never dropped behind a position backlog
	d.Register(streaming.EventSOS, m.handleSos, dispatcher.Logged())
	d.Register(streaming.EventOK, m.handleOk, dispatcher.Logged())
	d.Register(streaming.EventWarning, m.handleWarning, dispatcher.Logged())
}

func (m *Manager) handleLocationUpdate(e dispatcher.Event) (any, error) {
	events, err := m.deps.Parser.ParseLocationUpdate(e.Payload)
	if err != nil {
		return nil, fmt.Errorf("failed to parse location update: %w", err)
	}
	if len(events) == 0 {
		return 0, nil
	}
	return m.deps.Engine.ApplyPositions(events), nil
}

func (m *Manager) handleSos(e dispatcher.Event) (any, error) {
	ev, err := m.deps.Parser.ParseSos(e.Payload)
	if err != nil {
		return nil, fmt.Errorf("failed to parse sos: %w", err)
	}
	if err := m.deps.Engine.OnSos(ev); err != nil {
		return nil, fmt.Errorf("failed to apply sos: %w", err)
	}
	return nil, nil
}

func (m *Manager) handleOk(e dispatcher.Event) (any, error) {
	ev, err := m.deps.Parser.ParseOk(e.Payload)
	if err != nil {
		return nil, fmt.Errorf("failed to parse ok: %w", err)
	}
	if err := m.deps.Engine.OnOk(ev); err != nil {
		return nil, fmt.Errorf("failed to apply ok: %w", err)
	}
	return nil, nil
}

func (m *Manager) handleWarning(e dispatcher.Event) (any, error) {
	ev, err := m.deps.Parser.ParseWarning(e.Payload)
	if err != nil {
		return nil, fmt.Errorf("failed to parse warning: %w", err)
	}
	if err := m.deps.Engine.OnWarning(ev); err != nil {
		return nil, fmt.Errorf("failed to apply warning: %w", err)
	}
	return nil, nil
}
