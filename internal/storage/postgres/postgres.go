// Package postgres implements the storage.Backend interface on PostgreSQL.
// When the server is unreachable it falls back to a local SQLite file so
// the tracker keeps its track list.
package postgres

import (
	"fmt"
	"log/slog"

	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/srec-ev/tracker/internal/database"
	gormstorage "github.com/srec-ev/tracker/internal/storage/gorm"
)

// Dependencies holds all dependencies for the postgres storage backend.
type Dependencies struct {
	// DB skips connecting when set.
	DB *gorm.DB
	// FallbackPath is the SQLite file used when postgres is down. Empty
	// means in memory.
	FallbackPath string
	Logger       *slog.Logger
	// DBLogger receives the connection manager's output.
	DBLogger zerolog.Logger
}

// Backend wraps the GORM backend with postgres connection handling.
type Backend struct {
	*gormstorage.Backend
	deps    Dependencies
	manager *database.Manager
}

// New creates a new postgres storage backend. The connection is made in Init.
func New(deps Dependencies) *Backend {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	return &Backend{deps: deps}
}

// Fallback reports whether Init fell back to SQLite.
func (b *Backend) Fallback() bool {
	return b.manager != nil && b.manager.ShouldSaveLocal
}

// Init connects, migrates the schema and starts the alert writer.
func (b *Backend) Init() error {
	db := b.deps.DB
	if db == nil {
		b.manager = database.NewManager(b.deps.DBLogger)
		b.manager.SqliteFilePath = b.deps.FallbackPath
		if err := b.manager.Connect(); err != nil {
			return fmt.Errorf("failed to connect to database: %w", err)
		}
		if err := b.manager.Setup(); err != nil {
			return fmt.Errorf("failed to setup DB: %w", err)
		}
		if b.Fallback() {
			b.deps.Logger.Warn("Postgres unavailable, storing tracks in SQLite", "path", b.deps.FallbackPath)
		}
		db = b.manager.DB
	}

	b.Backend = gormstorage.New(gormstorage.Dependencies{
		DB:     db,
		Logger: b.deps.Logger,
	})
	return b.Backend.Init()
}

// Close flushes pending alert records and closes a connection opened by Init.
func (b *Backend) Close() error {
	if b.Backend == nil {
		return nil
	}
	if err := b.Backend.Close(); err != nil {
		return err
	}
	if b.manager != nil && b.manager.SqlDB != nil {
		return b.manager.SqlDB.Close()
	}
	return nil
}
