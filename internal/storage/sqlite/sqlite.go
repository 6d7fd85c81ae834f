// Package sqlitestorage implements the storage.Backend interface using an in-memory
// SQLite database with periodic disk dumps via VACUUM INTO.
// It wraps the GORM backend; the SQLite-specific parts are creating the
// in-memory DB, restoring the last dump on start, and the periodic dump.
package sqlitestorage

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"gorm.io/gorm"

	"github.com/srec-ev/tracker/internal/database"
	gormstorage "github.com/srec-ev/tracker/internal/storage/gorm"
)

// Config holds configuration for the SQLite storage backend.
type Config struct {
	// Path opens a file database instead of an in-memory one. Dumps are
	// skipped in that case.
	Path         string
	DumpInterval time.Duration
	DumpPath     string // Path for periodic VACUUM INTO dumps
}

// Backend wraps the GORM backend for SQLite-specific behavior.
type Backend struct {
	*gormstorage.Backend
	db       *gorm.DB
	cfg      Config
	log      *slog.Logger
	stopChan chan struct{}
	wg       sync.WaitGroup
	once     sync.Once
}

// New creates a new SQLite storage backend.
func New(cfg Config, logger *slog.Logger) (*Backend, error) {
	if logger == nil {
		logger = slog.Default()
	}
	db, err := database.GetSqliteDBStandalone(cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to create SQLite DB: %w", err)
	}

	gormBackend := gormstorage.New(gormstorage.Dependencies{
		DB:     db,
		Logger: logger,
	})

	return &Backend{
		Backend:  gormBackend,
		db:       db,
		cfg:      cfg,
		log:      logger,
		stopChan: make(chan struct{}),
	}, nil
}

func (b *Backend) inMemory() bool {
	return b.cfg.Path == ""
}

// Init restores the last dump into the in-memory DB, initializes the
// embedded GORM backend and starts the dump goroutine.
func (b *Backend) Init() error {
	if b.inMemory() && b.cfg.DumpPath != "" {
		if err := database.Migrate(b.db); err != nil {
			return fmt.Errorf("failed to setup DB: %w", err)
		}
		if err := b.restore(); err != nil {
			return err
		}
	}

	if err := b.Backend.Init(); err != nil {
		return err
	}

	if b.inMemory() && b.cfg.DumpPath != "" && b.cfg.DumpInterval > 0 {
		b.wg.Add(1)
		go b.dumpLoop()
	}

	return nil
}

// restore copies the rows of the previous dump into the migrated in-memory
// DB. Tables the current schema does not know are skipped.
func (b *Backend) restore() error {
	if _, err := os.Stat(b.cfg.DumpPath); errors.Is(err, os.ErrNotExist) {
		return nil
	}

	restored := 0
	// ATTACH is per connection, so pin one for the whole copy
	err := b.db.Connection(func(conn *gorm.DB) error {
		if err := conn.Exec("ATTACH DATABASE ? AS dump", b.cfg.DumpPath).Error; err != nil {
			return fmt.Errorf("failed to attach dump %s: %w", b.cfg.DumpPath, err)
		}
		defer conn.Exec("DETACH DATABASE dump")

		var tables []string
		if err := conn.Raw("SELECT name FROM dump.sqlite_master WHERE type = 'table' AND name NOT LIKE 'sqlite_%'").Scan(&tables).Error; err != nil {
			return fmt.Errorf("failed to list dump tables: %w", err)
		}
		for _, t := range tables {
			if !conn.Migrator().HasTable(t) {
				continue
			}
			if err := conn.Exec(fmt.Sprintf("INSERT OR IGNORE INTO main.%q SELECT * FROM dump.%q", t, t)).Error; err != nil {
				return fmt.Errorf("failed to restore table %s: %w", t, err)
			}
			restored++
		}
		return nil
	})
	if err != nil {
		return err
	}
	b.log.Info("Restored SQLite dump", "path", b.cfg.DumpPath, "tables", restored)
	return nil
}

// Close stops the dump goroutine, flushes the GORM backend and writes a
// final dump.
func (b *Backend) Close() error {
	b.once.Do(func() {
		close(b.stopChan)
	})
	b.wg.Wait()

	err := b.Backend.Close()
	if b.inMemory() && b.cfg.DumpPath != "" {
		if dumpErr := database.DumpMemoryDBToDisk(b.db, b.cfg.DumpPath); dumpErr != nil {
			err = errors.Join(err, dumpErr)
		}
	}
	return err
}

// dumpLoop periodically dumps the in-memory SQLite database to disk via VACUUM INTO.
// VACUUM INTO creates a point-in-time snapshot, so no pause mechanism is needed.
func (b *Backend) dumpLoop() {
	defer b.wg.Done()
	ticker := time.NewTicker(b.cfg.DumpInterval)
	defer ticker.Stop()

	for {
		select {
		case <-b.stopChan:
			return
		case <-ticker.C:
			start := time.Now()
			if err := database.DumpMemoryDBToDisk(b.db, b.cfg.DumpPath); err != nil {
				b.log.Error("Error dumping to disk", "error", err)
			} else {
				b.log.Debug("Dumped to disk", "duration", time.Since(start))
			}
		}
	}
}
