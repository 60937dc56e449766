// Package sqlite persists recordings in a SQL database through gorm.
// Open uses the pure-Go SQLite driver; NewFromDB accepts any gorm dialect.
package sqlite

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	driver "github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"github.com/Open-Harness/open-harness-sub011/pkg/domain"
	"github.com/Open-Harness/open-harness-sub011/pkg/ports"
)

var _ ports.RunStore = (*Store)(nil)

// runRow holds one snapshot. The summary columns are duplicated out of the
// JSON body so listings filter and sort in SQL.
type runRow struct {
	RunID       string `gorm:"primaryKey;size:128"`
	Flow        string `gorm:"size:255;index:idx_runs_flow"`
	Status      string `gorm:"size:32;index:idx_runs_status"`
	StartedAt   int64  `gorm:"index:idx_runs_started"`
	CompletedAt int64
	Body        []byte
}

func (runRow) TableName() string { return "runs" }

type eventRow struct {
	ID    uint   `gorm:"primaryKey"`
	RunID string `gorm:"size:128;not null;index:idx_events_run_seq"`
	Seq   uint64 `gorm:"index:idx_events_run_seq"`
	Name  string `gorm:"size:64"`
	Body  []byte
}

func (eventRow) TableName() string { return "run_events" }

// Store implements ports.RunStore on gorm.
type Store struct {
	db *gorm.DB
}

// Open opens (or creates) the SQLite database at dsn and migrates it.
// Use ":memory:" for a throwaway database.
func Open(dsn string) (*Store, error) {
	db, err := gorm.Open(driver.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if dsn == ":memory:" {
		// Every pooled connection would see its own empty in-memory database.
		sqlDB, err := db.DB()
		if err != nil {
			return nil, err
		}
		sqlDB.SetMaxOpenConns(1)
	}
	return NewFromDB(db)
}

// NewFromDB wraps an existing connection and migrates the schema.
func NewFromDB(db *gorm.DB) (*Store, error) {
	if err := db.AutoMigrate(&runRow{}, &eventRow{}); err != nil {
		return nil, fmt.Errorf("failed to auto migrate: %w", err)
	}
	return &Store{db: db}, nil
}

// AppendEvent inserts one event row.
func (s *Store) AppendEvent(ctx context.Context, runID string, event domain.Event) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	row := eventRow{RunID: runID, Seq: event.Seq, Name: string(event.Name()), Body: body}
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		return fmt.Errorf("failed to append event: %w", err)
	}
	return nil
}

// SaveSnapshot upserts the run row.
func (s *Store) SaveSnapshot(ctx context.Context, snapshot *domain.Snapshot) error {
	body, err := json.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot: %w", err)
	}
	row := runRow{
		RunID:       snapshot.RunID,
		Flow:        snapshot.Flow,
		Status:      string(snapshot.Status),
		StartedAt:   snapshot.StartedAt.UnixMilli(),
		CompletedAt: snapshot.CompletedAt.UnixMilli(),
		Body:        body,
	}
	err = s.db.WithContext(ctx).
		Clauses(clause.OnConflict{UpdateAll: true}).
		Create(&row).Error
	if err != nil {
		return fmt.Errorf("failed to save snapshot: %w", err)
	}
	return nil
}

// GetSnapshot reads the snapshot of a run.
func (s *Store) GetSnapshot(ctx context.Context, runID string) (*domain.Snapshot, error) {
	var row runRow
	err := s.db.WithContext(ctx).Where("run_id = ?", runID).Take(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrRunNotFound
		}
		return nil, fmt.Errorf("failed to read snapshot: %w", err)
	}
	return decodeSnapshot(row.Body)
}

func decodeSnapshot(body []byte) (*domain.Snapshot, error) {
	var snap domain.Snapshot
	if err := json.Unmarshal(body, &snap); err != nil {
		return nil, fmt.Errorf("failed to unmarshal snapshot: %w", err)
	}
	return &snap, nil
}

// Load reads the snapshot (if any) and the events of a run in sequence order.
func (s *Store) Load(ctx context.Context, runID string) (*domain.Recording, error) {
	db := s.db.WithContext(ctx)

	var rows []eventRow
	if err := db.Where("run_id = ?", runID).Order("seq ASC, id ASC").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to read events: %w", err)
	}

	rec := &domain.Recording{Snapshot: domain.Snapshot{RunID: runID}}
	snap, err := s.GetSnapshot(ctx, runID)
	switch {
	case err == nil:
		rec.Snapshot = *snap
	case errors.Is(err, domain.ErrRunNotFound):
		if len(rows) == 0 {
			return nil, domain.ErrRunNotFound
		}
	default:
		return nil, err
	}

	rec.Events = make([]domain.Event, 0, len(rows))
	for _, row := range rows {
		var ev domain.Event
		if err := json.Unmarshal(row.Body, &ev); err != nil {
			return nil, fmt.Errorf("failed to decode event %d: %w", row.Seq, err)
		}
		rec.Events = append(rec.Events, ev)
	}
	return rec, nil
}

// List queries the runs table, most recent first.
func (s *Store) List(ctx context.Context, query domain.RunQuery) ([]domain.RunSummary, error) {
	q := s.db.WithContext(ctx).Model(&runRow{}).
		Select("run_id", "flow", "status", "started_at", "completed_at")
	if query.Flow != "" {
		q = q.Where("flow = ?", query.Flow)
	}
	if query.Status != "" {
		q = q.Where("status = ?", string(query.Status))
	}
	q = q.Order("started_at DESC, run_id DESC")
	if query.Limit > 0 {
		q = q.Limit(query.Limit)
	}

	var rows []runRow
	if err := q.Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	out := make([]domain.RunSummary, len(rows))
	for i, row := range rows {
		out[i] = domain.RunSummary{
			RunID:       row.RunID,
			Flow:        row.Flow,
			Status:      domain.RunStatus(row.Status),
			StartedAt:   time.UnixMilli(row.StartedAt),
			CompletedAt: time.UnixMilli(row.CompletedAt),
		}
	}
	return out, nil
}

// Delete removes the run row and its events in one transaction.
func (s *Store) Delete(ctx context.Context, runID string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("run_id = ?", runID).Delete(&eventRow{}).Error; err != nil {
			return fmt.Errorf("failed to delete events: %w", err)
		}
		if err := tx.Where("run_id = ?", runID).Delete(&runRow{}).Error; err != nil {
			return fmt.Errorf("failed to delete run: %w", err)
		}
		return nil
	})
}

// Close releases the underlying connection pool.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
