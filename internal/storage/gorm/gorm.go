// Package gormstorage implements storage.Backend on any GORM dialect. The
// sqlite and postgres backends wrap it.
package gormstorage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/srec-ev/tracker/internal/database"
	"github.com/srec-ev/tracker/internal/geo"
	"github.com/srec-ev/tracker/internal/model"
	"github.com/srec-ev/tracker/internal/model/convert"
	"github.com/srec-ev/tracker/internal/queue"
	"github.com/srec-ev/tracker/internal/storage"
	"github.com/srec-ev/tracker/pkg/core"
)

// ErrNoDB is returned by Init when no connection was injected.
var ErrNoDB = errors.New("gorm backend has no database")

const defaultFlushInterval = 2 * time.Second

// Dependencies holds all dependencies for the GORM storage backend.
type Dependencies struct {
	DB     *gorm.DB
	Logger *slog.Logger
	// FlushInterval is how often queued alert records are written.
	FlushInterval time.Duration
}

// Backend implements storage.Backend using GORM with a queued alert writer.
type Backend struct {
	deps   Dependencies
	alerts *queue.Queue[model.AlertRecord]

	stopChan chan struct{}
	wg       sync.WaitGroup
	once     sync.Once
}

// New creates a new GORM storage backend.
func New(deps Dependencies) *Backend {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.FlushInterval <= 0 {
		deps.FlushInterval = defaultFlushInterval
	}
	return &Backend{
		deps:     deps,
		alerts:   queue.New[model.AlertRecord](),
		stopChan: make(chan struct{}),
	}
}

// DB exposes the underlying connection.
func (b *Backend) DB() *gorm.DB {
	return b.deps.DB
}

// Init migrates the schema, seeds landmarks on first run and starts the
// alert writer.
func (b *Backend) Init() error {
	if b.deps.DB == nil {
		return ErrNoDB
	}
	if err := database.Migrate(b.deps.DB); err != nil {
		return fmt.Errorf("failed to setup DB: %w", err)
	}
	if err := b.seedLandmarks(); err != nil {
		return err
	}

	b.wg.Add(1)
	go b.writeLoop()
	return nil
}

func (b *Backend) seedLandmarks() error {
	var count int64
	if err := b.deps.DB.Model(&model.Landmark{}).Count(&count).Error; err != nil {
		return fmt.Errorf("failed to count landmarks: %w", err)
	}
	if count > 0 {
		return nil
	}
	rows := make([]model.Landmark, 0, len(storage.DefaultLandmarks()))
	for _, l := range storage.DefaultLandmarks() {
		rows = append(rows, convert.CoreToLandmark(l))
	}
	if err := b.deps.DB.Create(&rows).Error; err != nil {
		return fmt.Errorf("failed to seed landmarks: %w", err)
	}
	b.deps.Logger.Info("Seeded landmarks", "count", len(rows))
	return nil
}

// Close stops the writer goroutine after a final flush.
func (b *Backend) Close() error {
	b.once.Do(func() {
		close(b.stopChan)
	})
	b.wg.Wait()
	return nil
}

func (b *Backend) ListTracks(ctx context.Context) ([]core.Track, error) {
	var rows []model.Track
	if err := b.deps.DB.WithContext(ctx).Order("id").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to list tracks: %w", err)
	}
	return convert.TracksToCore(rows), nil
}

// AddTrack inserts t and copies the DB-assigned id back. Names are unique
// ignoring case.
func (b *Backend) AddTrack(ctx context.Context, t *core.Track) error {
	t.Name = strings.TrimSpace(t.Name)
	if t.Name == "" {
		return fmt.Errorf("%w: empty name", storage.ErrInvalidTrack)
	}
	row, err := convert.CoreToTrack(*t)
	if err != nil {
		return fmt.Errorf("%w: %v", storage.ErrInvalidTrack, err)
	}
	row.ID = 0

	db := b.deps.DB.WithContext(ctx)
	var existing int64
	if err := db.Model(&model.Track{}).Where("LOWER(name) = ?", strings.ToLower(t.Name)).Count(&existing).Error; err != nil {
		return fmt.Errorf("failed to check track name: %w", err)
	}
	if existing > 0 {
		return fmt.Errorf("%w: %s", storage.ErrDuplicateTrack, t.Name)
	}

	if err := db.Create(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return fmt.Errorf("%w: %s", storage.ErrDuplicateTrack, t.Name)
		}
		return fmt.Errorf("failed to insert track: %w", err)
	}
	t.ID = row.ID
	return nil
}

func (b *Backend) ListLandmarks(ctx context.Context) ([]core.Landmark, error) {
	var rows []model.Landmark
	if err := b.deps.DB.WithContext(ctx).Order("id").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to list landmarks: %w", err)
	}
	return convert.LandmarksToCore(rows), nil
}

// LoadPolyline returns the polyline named storage.DefaultPolyline, or the
// oldest stored one.
func (b *Backend) LoadPolyline(ctx context.Context) (core.Polyline, error) {
	db := b.deps.DB.WithContext(ctx)

	var row model.ReferencePolyline
	err := db.Where("name = ?", storage.DefaultPolyline).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		err = db.Order("id").First(&row).Error
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, storage.ErrNoPolyline
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load polyline: %w", err)
	}
	return convert.PolylineToCore(row)
}

// SavePolyline stores p under name, replacing an existing one.
func (b *Backend) SavePolyline(ctx context.Context, name string, p core.Polyline) error {
	if len(p) < 2 {
		return fmt.Errorf("polyline %q: need at least 2 points", name)
	}
	for _, pt := range p {
		if err := geo.ValidatePosition(pt.Lat, pt.Lng); err != nil {
			return fmt.Errorf("polyline %q: %w", name, err)
		}
	}
	row, err := convert.CoreToPolyline(name, p)
	if err != nil {
		return err
	}
	return b.deps.DB.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "name"}},
		DoUpdates: clause.AssignmentColumns([]string{"points", "length"}),
	}).Create(&row).Error
}

// RecordAlert queues an audit row for the next write cycle.
func (b *Backend) RecordAlert(sessionID string, a core.Alert) error {
	b.alerts.Push(convert.CoreToAlertRecord(sessionID, a))
	return nil
}

// Alerts returns the stored alert audit rows for a session, oldest first.
func (b *Backend) Alerts(ctx context.Context, sessionID string) ([]model.AlertRecord, error) {
	var rows []model.AlertRecord
	err := b.deps.DB.WithContext(ctx).Where("session_id = ?", sessionID).Order("id").Find(&rows).Error
	return rows, err
}

// writeQueue writes all items from a queue to the database in a transaction.
func writeQueue[T any](db *gorm.DB, q *queue.Queue[T], name string, log *slog.Logger) {
	if q.Empty() {
		return
	}

	items := q.GetAndEmpty()
	tx := db.Begin()
	if err := tx.Create(&items).Error; err != nil {
		log.Error("DB write failed", "table", name, "count", len(items), "error", err)
		tx.Rollback()
		q.Push(items...)
		return
	}
	if err := tx.Commit().Error; err != nil {
		log.Error("DB commit failed", "table", name, "error", err)
		q.Push(items...)
	}
}

// writeLoop periodically drains queues into the DB until Close.
func (b *Backend) writeLoop() {
	defer b.wg.Done()
	ticker := time.NewTicker(b.deps.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-b.stopChan:
			writeQueue(b.deps.DB, b.alerts, "alert_records", b.deps.Logger)
			return
		case <-ticker.C:
			writeQueue(b.deps.DB, b.alerts, "alert_records", b.deps.Logger)
		}
	}
}
