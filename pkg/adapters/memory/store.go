package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/Open-Harness/open-harness-sub011/pkg/domain"
)

type run struct {
	events   []domain.Event
	snapshot *domain.Snapshot
}

// Store implements ports.RunStore in memory.
// Safe for concurrent use.
type Store struct {
	data map[string]*run
	mu   sync.RWMutex
}

// NewStore creates a new in-memory store.
func NewStore() *Store {
	return &Store{
		data: make(map[string]*run),
	}
}

func (s *Store) runLocked(runID string) *run {
	r, ok := s.data[runID]
	if !ok {
		r = &run{}
		s.data[runID] = r
	}
	return r
}

// AppendEvent adds an event to the run log.
func (s *Store) AppendEvent(ctx context.Context, runID string, event domain.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r := s.runLocked(runID)
	r.events = append(r.events, event)
	return nil
}

// SaveSnapshot persists a copy of the snapshot.
func (s *Store) SaveSnapshot(ctx context.Context, snapshot *domain.Snapshot) error {
	copied := copySnapshot(snapshot)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.runLocked(snapshot.RunID).snapshot = copied
	return nil
}

// GetSnapshot retrieves a copy of the snapshot so callers can't mutate store state.
func (s *Store) GetSnapshot(ctx context.Context, runID string) (*domain.Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.data[runID]
	if !ok || r.snapshot == nil {
		return nil, domain.ErrRunNotFound
	}
	return copySnapshot(r.snapshot), nil
}

// Load returns the snapshot (if any) and the events of a run.
func (s *Store) Load(ctx context.Context, runID string) (*domain.Recording, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.data[runID]
	if !ok {
		return nil, domain.ErrRunNotFound
	}
	rec := &domain.Recording{Snapshot: domain.Snapshot{RunID: runID}}
	if r.snapshot != nil {
		rec.Snapshot = *copySnapshot(r.snapshot)
	}
	rec.Events = make([]domain.Event, len(r.events))
	copy(rec.Events, r.events)
	return rec, nil
}

// List returns the snapshotted runs matching query, most recent first.
func (s *Store) List(ctx context.Context, query domain.RunQuery) ([]domain.RunSummary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.RunSummary, 0, len(s.data))
	for _, r := range s.data {
		if r.snapshot == nil {
			continue
		}
		if sum := r.snapshot.Summary(); query.Match(sum) {
			out = append(out, sum)
		}
	}
	return SortAndLimit(out, query.Limit), nil
}

// Delete removes the run.
func (s *Store) Delete(ctx context.Context, runID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data, runID)
	return nil
}

// SortAndLimit orders summaries most recent first and truncates to limit (if positive).
// Other adapters reuse it for backends without native ordering.
func SortAndLimit(runs []domain.RunSummary, limit int) []domain.RunSummary {
	sort.Slice(runs, func(i, j int) bool {
		if runs[i].StartedAt.Equal(runs[j].StartedAt) {
			return runs[i].RunID > runs[j].RunID
		}
		return runs[i].StartedAt.After(runs[j].StartedAt)
	})
	if limit > 0 && len(runs) > limit {
		runs = runs[:limit]
	}
	return runs
}

func copySnapshot(s *domain.Snapshot) *domain.Snapshot {
	ret := *s
	if s.Outputs != nil {
		ret.Outputs = make(map[string]any, len(s.Outputs))
		for k, v := range s.Outputs {
			ret.Outputs[k] = v
		}
	}
	if s.Fixtures != nil {
		ret.Fixtures = make(map[string]domain.Fixture, len(s.Fixtures))
		for k, v := range s.Fixtures {
			ret.Fixtures[k] = v
		}
	}
	return &ret
}
