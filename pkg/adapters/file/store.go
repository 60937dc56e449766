// Package file persists recordings and loads flow definitions from the local filesystem.
package file

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/Open-Harness/open-harness-sub011/pkg/adapters/memory"
	"github.com/Open-Harness/open-harness-sub011/pkg/domain"
	"github.com/Open-Harness/open-harness-sub011/pkg/ports"
)

const (
	eventsFile   = "events.jsonl"
	snapshotFile = "snapshot.json"
)

var _ ports.RunStore = (*Store)(nil)

// Store implements ports.RunStore using the local filesystem.
// Each run gets a directory holding an append-only events.jsonl and a snapshot.json.
type Store struct {
	BasePath string

	mu sync.Mutex
}

// NewStore creates a new Store with the given base path.
// If basePath is empty, it defaults to ".harness/runs".
func NewStore(basePath string) *Store {
	if basePath == "" {
		basePath = filepath.Join(".harness", "runs")
	}
	return &Store{BasePath: basePath}
}

func (s *Store) runDir(runID string) (string, error) {
	if runID == "" {
		return "", fmt.Errorf("runID cannot be empty")
	}
	if strings.ContainsAny(runID, `/\`) || runID == "." || runID == ".." {
		return "", fmt.Errorf("invalid runID %q", runID)
	}
	return filepath.Join(s.BasePath, runID), nil
}

// AppendEvent writes one JSON line to the event log of the run.
func (s *Store) AppendEvent(ctx context.Context, runID string, event domain.Event) error {
	dir, err := s.runDir(runID)
	if err != nil {
		return err
	}
	line, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to ensure run directory: %w", err)
	}
	f, err := os.OpenFile(filepath.Join(dir, eventsFile), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("failed to open event log: %w", err)
	}
	if _, err := f.Write(append(line, '\n')); err != nil {
		_ = f.Close()
		return fmt.Errorf("failed to append event: %w", err)
	}
	return f.Close()
}

// SaveSnapshot persists the snapshot atomically.
// It writes to a temporary file first, syncs via fsync, and then renames it to the destination.
func (s *Store) SaveSnapshot(ctx context.Context, snapshot *domain.Snapshot) error {
	dir, err := s.runDir(snapshot.RunID)
	if err != nil {
		return err
	}
	data, err := json.MarshalIndent(snapshot, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to ensure run directory: %w", err)
	}
	return writeAtomic(dir, filepath.Join(dir, snapshotFile), data)
}

// writeAtomic replaces dest with data. The temp file lives in the same
// directory so the rename stays on one filesystem.
func writeAtomic(dir, dest string, data []byte) error {
	tmpFile, err := os.CreateTemp(dir, "tmp-*.json")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmpFile.Name()
	defer func() {
		_ = tmpFile.Close()
		_ = os.Remove(tmpPath)
	}()

	if _, err := tmpFile.Write(data); err != nil {
		return fmt.Errorf("failed to write to temp file: %w", err)
	}
	if err := tmpFile.Sync(); err != nil {
		return fmt.Errorf("failed to fsync temp file: %w", err)
	}
	// Cannot rename an open file on Windows.
	if err := tmpFile.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}

	// os.Rename fails on Windows if dest exists.
	if _, err := os.Stat(dest); err == nil {
		if err := os.Remove(dest); err != nil {
			return fmt.Errorf("failed to remove existing snapshot for overwrite: %w", err)
		}
	}
	if err := os.Rename(tmpPath, dest); err != nil {
		return fmt.Errorf("failed to rename temp file: %w", err)
	}
	return nil
}

// GetSnapshot reads the snapshot of a run.
func (s *Store) GetSnapshot(ctx context.Context, runID string) (*domain.Snapshot, error) {
	dir, err := s.runDir(runID)
	if err != nil {
		return nil, err
	}
	return readSnapshot(dir)
}

func readSnapshot(dir string) (*domain.Snapshot, error) {
	data, err := os.ReadFile(filepath.Join(dir, snapshotFile))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, domain.ErrRunNotFound
		}
		return nil, fmt.Errorf("failed to read snapshot: %w", err)
	}
	var snap domain.Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("failed to unmarshal snapshot: %w", err)
	}
	return &snap, nil
}

// Load returns the snapshot (if any) and the events of a run.
func (s *Store) Load(ctx context.Context, runID string) (*domain.Recording, error) {
	dir, err := s.runDir(runID)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := os.Stat(dir); err != nil {
		if os.IsNotExist(err) {
			return nil, domain.ErrRunNotFound
		}
		return nil, err
	}

	rec := &domain.Recording{Snapshot: domain.Snapshot{RunID: runID}}
	snap, err := readSnapshot(dir)
	switch {
	case err == nil:
		rec.Snapshot = *snap
	case !errors.Is(err, domain.ErrRunNotFound):
		return nil, err
	}

	events, err := readEvents(filepath.Join(dir, eventsFile))
	if err != nil {
		return nil, err
	}
	rec.Events = events
	return rec, nil
}

func readEvents(path string) ([]domain.Event, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return []domain.Event{}, nil
		}
		return nil, fmt.Errorf("failed to open event log: %w", err)
	}
	defer f.Close()

	events := []domain.Event{}
	dec := json.NewDecoder(bufio.NewReader(f))
	for {
		var ev domain.Event
		if err := dec.Decode(&ev); err != nil {
			if errors.Is(err, io.EOF) {
				return events, nil
			}
			return nil, fmt.Errorf("failed to decode event #%d: %w", len(events)+1, err)
		}
		events = append(events, ev)
	}
}

// List returns the snapshotted runs matching query, most recent first.
func (s *Store) List(ctx context.Context, query domain.RunQuery) ([]domain.RunSummary, error) {
	entries, err := os.ReadDir(s.BasePath)
	if err != nil {
		if os.IsNotExist(err) {
			return []domain.RunSummary{}, nil
		}
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}

	out := make([]domain.RunSummary, 0, len(entries))
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		snap, err := readSnapshot(filepath.Join(s.BasePath, entry.Name()))
		if err != nil {
			if errors.Is(err, domain.ErrRunNotFound) {
				continue
			}
			return nil, err
		}
		if sum := snap.Summary(); query.Match(sum) {
			out = append(out, sum)
		}
	}
	return memory.SortAndLimit(out, query.Limit), nil
}

// Delete removes the run directory.
func (s *Store) Delete(ctx context.Context, runID string) error {
	dir, err := s.runDir(runID)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("failed to delete run: %w", err)
	}
	return nil
}
