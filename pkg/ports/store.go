package ports

import (
	"context"

	"github.com/Open-Harness/open-harness-sub011/pkg/domain"
)

// RunStore persists recordings. The engine is agnostic to the backend.
type RunStore interface {
	// AppendEvent adds one event to the log of a run. Events arrive in sequence order.
	AppendEvent(ctx context.Context, runID string, event domain.Event) error

	// SaveSnapshot stores the final state of a run, replacing any previous snapshot.
	SaveSnapshot(ctx context.Context, snapshot *domain.Snapshot) error

	// GetSnapshot returns domain.ErrRunNotFound if the run has no snapshot.
	GetSnapshot(ctx context.Context, runID string) (*domain.Snapshot, error)

	// Load returns the snapshot and the full event log of a run.
	// Returns domain.ErrRunNotFound if nothing was recorded for the id.
	Load(ctx context.Context, runID string) (*domain.Recording, error)

	// List returns summaries of snapshotted runs, most recent first.
	List(ctx context.Context, query domain.RunQuery) ([]domain.RunSummary, error)

	// Delete removes every trace of a run. Deleting an unknown run is not an error.
	Delete(ctx context.Context, runID string) error
}
