// Package redis persists recordings in Redis and provides a Redis-backed distributed lock.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	backend "github.com/redis/go-redis/v9"

	"github.com/Open-Harness/open-harness-sub011/pkg/domain"
	"github.com/Open-Harness/open-harness-sub011/pkg/ports"
)

// DefaultPrefix namespaces every key written by the store.
const DefaultPrefix = "harness:run:"

var _ ports.RunStore = (*Store)(nil)

// Store implements ports.RunStore using Redis.
// Events live in a list per run, the snapshot in a string key, and a sorted set
// indexes snapshotted runs by start time.
type Store struct {
	client *backend.Client
	prefix string
	ttl    time.Duration
}

type Option func(*Store)

// WithTTL sets the expiration for recordings.
func WithTTL(ttl time.Duration) Option {
	return func(s *Store) {
		s.ttl = ttl
	}
}

// WithPrefix sets the key prefix for recordings.
func WithPrefix(prefix string) Option {
	return func(s *Store) {
		s.prefix = prefix
	}
}

// New creates a new Redis store with options.
func New(address, password string, db int, opts ...Option) *Store {
	rdb := backend.NewClient(&backend.Options{
		Addr:     address,
		Password: password,
		DB:       db,
	})
	return NewFromClient(rdb, opts...)
}

// NewFromClient creates a new Redis store from an existing client.
func NewFromClient(client *backend.Client, opts ...Option) *Store {
	store := &Store{
		client: client,
		prefix: DefaultPrefix,
	}
	for _, opt := range opts {
		opt(store)
	}
	return store
}

// Client exposes the underlying connection, e.g. to share it with a Locker.
func (s *Store) Client() *backend.Client {
	return s.client
}

func (s *Store) eventsKey(runID string) string {
	return s.prefix + runID + ":events"
}

func (s *Store) snapshotKey(runID string) string {
	return s.prefix + runID + ":snapshot"
}

func (s *Store) indexKey() string {
	return s.prefix + "index"
}

// AppendEvent pushes the event onto the run's list.
func (s *Store) AppendEvent(ctx context.Context, runID string, event domain.Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	pipe := s.client.Pipeline()
	pipe.RPush(ctx, s.eventsKey(runID), data)
	if s.ttl > 0 {
		pipe.Expire(ctx, s.eventsKey(runID), s.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to append to redis: %w", err)
	}
	return nil
}

// SaveSnapshot stores the snapshot and indexes the run by start time.
func (s *Store) SaveSnapshot(ctx context.Context, snapshot *domain.Snapshot) error {
	data, err := json.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot: %w", err)
	}

	pipe := s.client.Pipeline()
	// A zero ttl means no expiration.
	pipe.Set(ctx, s.snapshotKey(snapshot.RunID), data, s.ttl)
	if s.ttl > 0 {
		pipe.Expire(ctx, s.eventsKey(snapshot.RunID), s.ttl)
	}
	pipe.ZAdd(ctx, s.indexKey(), backend.Z{
		Score:  float64(snapshot.StartedAt.UnixMilli()),
		Member: snapshot.RunID,
	})
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to save to redis: %w", err)
	}
	return nil
}

// GetSnapshot retrieves the snapshot of a run.
func (s *Store) GetSnapshot(ctx context.Context, runID string) (*domain.Snapshot, error) {
	val, err := s.client.Get(ctx, s.snapshotKey(runID)).Result()
	if err != nil {
		if errors.Is(err, backend.Nil) {
			return nil, domain.ErrRunNotFound
		}
		return nil, fmt.Errorf("failed to get from redis: %w", err)
	}
	return decodeSnapshot(val)
}

func decodeSnapshot(val string) (*domain.Snapshot, error) {
	var snap domain.Snapshot
	if err := json.Unmarshal([]byte(val), &snap); err != nil {
		return nil, fmt.Errorf("failed to unmarshal snapshot: %w", err)
	}
	return &snap, nil
}

// Load retrieves the snapshot (if any) and the event list of a run.
func (s *Store) Load(ctx context.Context, runID string) (*domain.Recording, error) {
	pipe := s.client.Pipeline()
	eventsCmd := pipe.LRange(ctx, s.eventsKey(runID), 0, -1)
	snapCmd := pipe.Get(ctx, s.snapshotKey(runID))
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, backend.Nil) {
		return nil, fmt.Errorf("failed to load from redis: %w", err)
	}

	raw := eventsCmd.Val()
	snapVal, snapErr := snapCmd.Result()
	if snapErr != nil && !errors.Is(snapErr, backend.Nil) {
		return nil, fmt.Errorf("failed to get from redis: %w", snapErr)
	}
	if len(raw) == 0 && errors.Is(snapErr, backend.Nil) {
		return nil, domain.ErrRunNotFound
	}

	rec := &domain.Recording{Snapshot: domain.Snapshot{RunID: runID}}
	if snapErr == nil {
		snap, err := decodeSnapshot(snapVal)
		if err != nil {
			return nil, err
		}
		rec.Snapshot = *snap
	}
	rec.Events = make([]domain.Event, 0, len(raw))
	for i, item := range raw {
		var ev domain.Event
		if err := json.Unmarshal([]byte(item), &ev); err != nil {
			return nil, fmt.Errorf("failed to decode event #%d: %w", i+1, err)
		}
		rec.Events = append(rec.Events, ev)
	}
	return rec, nil
}

// List walks the index most recent first.
// Index entries whose snapshot expired are pruned lazily.
func (s *Store) List(ctx context.Context, query domain.RunQuery) ([]domain.RunSummary, error) {
	ids, err := s.client.ZRevRange(ctx, s.indexKey(), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	if len(ids) == 0 {
		return []domain.RunSummary{}, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = s.snapshotKey(id)
	}
	vals, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read snapshots: %w", err)
	}

	out := make([]domain.RunSummary, 0, len(ids))
	var expired []any
	for i, v := range vals {
		str, ok := v.(string)
		if !ok {
			expired = append(expired, ids[i])
			continue
		}
		snap, err := decodeSnapshot(str)
		if err != nil {
			return nil, err
		}
		sum := snap.Summary()
		if !query.Match(sum) {
			continue
		}
		if query.Limit <= 0 || len(out) < query.Limit {
			out = append(out, sum)
		}
	}

	if len(expired) > 0 {
		if err := s.client.ZRem(ctx, s.indexKey(), expired...).Err(); err != nil {
			return nil, fmt.Errorf("failed to prune expired runs: %w", err)
		}
	}
	return out, nil
}

// Delete removes the run keys and its index entry.
func (s *Store) Delete(ctx context.Context, runID string) error {
	pipe := s.client.Pipeline()
	pipe.Del(ctx, s.eventsKey(runID), s.snapshotKey(runID))
	pipe.ZRem(ctx, s.indexKey(), runID)
	_, err := pipe.Exec(ctx)
	return err
}

// Close closes the redis client.
func (s *Store) Close() error {
	return s.client.Close()
}
