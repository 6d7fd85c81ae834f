package worker

import (
	"log/slog"

	"github.com/srec-ev/tracker/internal/parser"
	"github.com/srec-ev/tracker/pkg/core"
)

// Engine is the part of the fleet engine the handlers drive.
type Engine interface {
	ApplyPositions(events []core.RawPositionEvent) int
	OnSos(ev core.AlertEvent) error
	OnOk(ev core.AlertEvent) error
	OnWarning(ev core.AlertEvent) error
}

// Dependencies holds all dependencies for the worker manager
type Dependencies struct {
	Engine Engine
	Parser *parser.Parser
	Logger *slog.Logger
}

// Manager turns dispatched transport events into engine calls.
type Manager struct {
	deps Dependencies
}

// NewManager creates a new worker manager
func NewManager(deps Dependencies) *Manager {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Parser == nil {
		deps.Parser = parser.NewParser(deps.Logger)
	}
	return &Manager{deps: deps}
}
