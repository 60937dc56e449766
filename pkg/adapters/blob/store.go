// Package blob archives recordings in object storage through gocloud.dev/blob.
// Bucket URLs with the mem:// and file:// schemes are supported out of the box;
// link further drivers (s3blob, gcsblob, azureblob) into the binary to use others.
package blob

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"gocloud.dev/blob"
	"gocloud.dev/gcerrors"

	_ "gocloud.dev/blob/fileblob"
	_ "gocloud.dev/blob/memblob"

	"github.com/Open-Harness/open-harness-sub011/pkg/adapters/memory"
	"github.com/Open-Harness/open-harness-sub011/pkg/domain"
	"github.com/Open-Harness/open-harness-sub011/pkg/ports"
)

const (
	eventsObject   = "events.json"
	snapshotObject = "snapshot.json"
)

var _ ports.RunStore = (*Store)(nil)

// Store implements ports.RunStore over a blob bucket.
// Objects cannot be appended to, so events of a run in progress are buffered
// in memory and written together with its snapshot.
type Store struct {
	bucket *blob.Bucket
	prefix string

	mu      sync.Mutex
	pending map[string][]domain.Event
}

// Open opens the bucket at bucketURL, e.g. "mem://" or "file:///var/lib/harness".
func Open(ctx context.Context, bucketURL, prefix string) (*Store, error) {
	bucket, err := blob.OpenBucket(ctx, bucketURL)
	if err != nil {
		return nil, err
	}
	return NewFromBucket(bucket, prefix), nil
}

// NewFromBucket wraps an open bucket. The store takes ownership of it.
func NewFromBucket(bucket *blob.Bucket, prefix string) *Store {
	return &Store{
		bucket:  bucket,
		prefix:  prefix,
		pending: make(map[string][]domain.Event),
	}
}

func (s *Store) keyFor(runID, object string) string {
	return s.prefix + runID + "/" + object
}

// AppendEvent buffers the event until the next SaveSnapshot of the run.
func (s *Store) AppendEvent(ctx context.Context, runID string, event domain.Event) error {
	if runID == "" {
		return fmt.Errorf("runID cannot be empty")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending[runID] = append(s.pending[runID], event)
	return nil
}

// SaveSnapshot flushes the buffered events, then writes the snapshot.
func (s *Store) SaveSnapshot(ctx context.Context, snapshot *domain.Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	runID := snapshot.RunID
	if buffered := s.pending[runID]; len(buffered) > 0 {
		stored, err := s.readEvents(ctx, runID)
		if err != nil {
			return err
		}
		if err := s.writeJSON(ctx, s.keyFor(runID, eventsObject), append(stored, buffered...)); err != nil {
			return fmt.Errorf("failed to write events: %w", err)
		}
		delete(s.pending, runID)
	}
	if err := s.writeJSON(ctx, s.keyFor(runID, snapshotObject), snapshot); err != nil {
		return fmt.Errorf("failed to write snapshot: %w", err)
	}
	return nil
}

func (s *Store) writeJSON(ctx context.Context, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return s.bucket.WriteAll(ctx, key, data, &blob.WriterOptions{ContentType: "application/json"})
}

func (s *Store) readEvents(ctx context.Context, runID string) ([]domain.Event, error) {
	data, err := s.bucket.ReadAll(ctx, s.keyFor(runID, eventsObject))
	if err != nil {
		if gcerrors.Code(err) == gcerrors.NotFound {
			return nil, nil
		}
		return nil, err
	}
	var events []domain.Event
	if err := json.Unmarshal(data, &events); err != nil {
		return nil, fmt.Errorf("failed to unmarshal events: %w", err)
	}
	return events, nil
}

func (s *Store) readSnapshot(ctx context.Context, key string) (*domain.Snapshot, error) {
	data, err := s.bucket.ReadAll(ctx, key)
	if err != nil {
		if gcerrors.Code(err) == gcerrors.NotFound {
			return nil, domain.ErrRunNotFound
		}
		return nil, err
	}
	var snap domain.Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("failed to unmarshal snapshot: %w", err)
	}
	return &snap, nil
}

// GetSnapshot reads the snapshot object of a run.
func (s *Store) GetSnapshot(ctx context.Context, runID string) (*domain.Snapshot, error) {
	return s.readSnapshot(ctx, s.keyFor(runID, snapshotObject))
}

// Load merges the archived events with any still buffered.
func (s *Store) Load(ctx context.Context, runID string) (*domain.Recording, error) {
	s.mu.Lock()
	buffered := append([]domain.Event(nil), s.pending[runID]...)
	s.mu.Unlock()

	rec := &domain.Recording{Snapshot: domain.Snapshot{RunID: runID}}
	snap, err := s.GetSnapshot(ctx, runID)
	found := err == nil
	switch {
	case found:
		rec.Snapshot = *snap
	case !errors.Is(err, domain.ErrRunNotFound):
		return nil, err
	}

	stored, err := s.readEvents(ctx, runID)
	if err != nil {
		return nil, err
	}
	if !found && stored == nil && len(buffered) == 0 {
		return nil, domain.ErrRunNotFound
	}
	rec.Events = append(append(make([]domain.Event, 0, len(stored)+len(buffered)), stored...), buffered...)
	return rec, nil
}

// List reads every snapshot object under the prefix, most recent first.
func (s *Store) List(ctx context.Context, query domain.RunQuery) ([]domain.RunSummary, error) {
	out := []domain.RunSummary{}
	iter := s.bucket.List(&blob.ListOptions{Prefix: s.prefix})
	for {
		obj, err := iter.Next(ctx)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to list runs: %w", err)
		}
		if obj.IsDir || !strings.HasSuffix(obj.Key, "/"+snapshotObject) {
			continue
		}
		snap, err := s.readSnapshot(ctx, obj.Key)
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

// Delete removes both objects and the buffered events of a run.
func (s *Store) Delete(ctx context.Context, runID string) error {
	s.mu.Lock()
	delete(s.pending, runID)
	s.mu.Unlock()

	for _, object := range []string{eventsObject, snapshotObject} {
		err := s.bucket.Delete(ctx, s.keyFor(runID, object))
		if err != nil && gcerrors.Code(err) != gcerrors.NotFound {
			return err
		}
	}
	return nil
}

// Close closes the bucket.
func (s *Store) Close() error {
	return s.bucket.Close()
}
