package main

import (
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/srec-ev/tracker/internal/config"
	"github.com/srec-ev/tracker/internal/storage"
	"github.com/srec-ev/tracker/internal/storage/memory"
	gormstorage "github.com/srec-ev/tracker/internal/storage/gorm"
	pgstorage "github.com/srec-ev/tracker/internal/storage/postgres"
	reststorage "github.com/srec-ev/tracker/internal/storage/rest"
	sqlitestorage "github.com/srec-ev/tracker/internal/storage/sqlite"
)

// openStorage creates and initializes the configured backend.
func openStorage(storageCfg config.StorageConfig, dbLogger zerolog.Logger) (storage.Backend, error) {
	backend, err := createStorageBackend(storageCfg, dbLogger)
	if err != nil {
		return nil, err
	}
	if err := backend.Init(); err != nil {
		return nil, fmt.Errorf("failed to initialize %s storage: %w", storageCfg.Type, err)
	}
	return backend, nil
}

func createStorageBackend(storageCfg config.StorageConfig, dbLogger zerolog.Logger) (storage.Backend, error) {
	switch strings.ToLower(storageCfg.Type) {
	case "postgres":
		Logger.Info("Postgres storage backend initialized")
		return pgstorage.New(pgstorage.Dependencies{
			FallbackPath: storageCfg.SQLite.DumpPath,
			Logger:       Logger,
			DBLogger:     dbLogger,
		}), nil

	case "sqlite":
		backend, err := sqlitestorage.New(sqlitestorage.Config{
			Path:         storageCfg.SQLite.Path,
			DumpInterval: storageCfg.SQLite.DumpInterval,
			DumpPath:     storageCfg.SQLite.DumpPath,
		}, Logger)
		if err != nil {
			return nil, fmt.Errorf("failed to create SQLite backend: %w", err)
		}
		Logger.Info("SQLite storage backend initialized")
		return backend, nil

	case "rest":
		Logger.Info("REST storage backend initialized", "url", storageCfg.Rest.URL)
		return reststorage.New(storageCfg.Rest.URL, storageCfg.Rest.APIKey, Logger), nil

	case "memory", "":
		Logger.Info("Memory storage backend initialized")
		return newMemoryBackend(storageCfg), nil

	default:
		return nil, fmt.Errorf("%w: %q", storage.ErrUnknownType, storageCfg.Type)
	}
}

func newMemoryBackend(storageCfg config.StorageConfig) storage.Backend {
	return memory.New(storageCfg.Memory)
}

// sqlAccess is a SQL-backed storage backend with its GORM layer exposed.
type sqlAccess struct {
	storage.Backend
	gorm *gormstorage.Backend
}

// gormBackend returns the configured backend when it is SQL-backed; the
// CLI commands that read audit rows need one.
func gormBackend(dbLogger zerolog.Logger) (*sqlAccess, error) {
	cfg := config.GetStorageConfig()
	switch strings.ToLower(cfg.Type) {
	case "postgres", "sqlite":
	default:
		return nil, fmt.Errorf("storage.type %q has no SQL database", cfg.Type)
	}
	backend, err := openStorage(cfg, dbLogger)
	if err != nil {
		return nil, err
	}
	switch b := backend.(type) {
	case *pgstorage.Backend:
		return &sqlAccess{Backend: b, gorm: b.Backend}, nil
	case *sqlitestorage.Backend:
		return &sqlAccess{Backend: b, gorm: b.Backend}, nil
	}
	_ = backend.Close()
	return nil, fmt.Errorf("storage.type %q has no SQL database", cfg.Type)
}
