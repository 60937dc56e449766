package session_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Open-Harness/open-harness-sub011/pkg/adapters/memory"
	"github.com/Open-Harness/open-harness-sub011/pkg/domain"
	"github.com/Open-Harness/open-harness-sub011/pkg/ports"
	"github.com/Open-Harness/open-harness-sub011/pkg/session"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// SlowStore simulates latency to provoke race conditions if locking is missing.
type SlowStore struct {
	*memory.Store
	inFlight atomic.Int32
	overlap  atomic.Bool
}

func (s *SlowStore) SaveSnapshot(ctx context.Context, snap *domain.Snapshot) error {
	if s.inFlight.Add(1) > 1 {
		s.overlap.Store(true)
	}
	defer s.inFlight.Add(-1)
	time.Sleep(5 * time.Millisecond) // Simulate IO
	return s.Store.SaveSnapshot(ctx, snap)
}

func TestManager_Locking(t *testing.T) {
	store := &SlowStore{Store: memory.NewStore()}
	manager := session.NewManager(store)
	ctx := context.Background()
	id := "race-test"

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := manager.Save(ctx, &domain.Snapshot{RunID: id, Flow: "f", Status: domain.StatusComplete})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.False(t, store.overlap.Load(), "writes to one run are serialized")

	snap, err := manager.Snapshot(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "f", snap.Flow)
}

func TestManager_SaveRequiresRunID(t *testing.T) {
	manager := session.NewManager(memory.NewStore())
	assert.Error(t, manager.Save(context.Background(), &domain.Snapshot{}))
}

type recordingLocker struct {
	mu     sync.Mutex
	keys   []string
	ttls   []time.Duration
	unlock int
}

func (l *recordingLocker) Lock(_ context.Context, key string, ttl time.Duration) (ports.UnlockFunc, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.keys = append(l.keys, key)
	l.ttls = append(l.ttls, ttl)
	return func(context.Context) error {
		l.mu.Lock()
		defer l.mu.Unlock()
		l.unlock++
		return nil
	}, nil
}

func TestManager_DistributedLock(t *testing.T) {
	locker := &recordingLocker{}
	manager := session.NewManager(memory.NewStore(), session.WithLocker(locker), session.WithLockTTL(time.Minute))

	ctx, cancel := context.WithCancel(context.Background())
	err := manager.WithLock(ctx, "run-1", func(context.Context) error {
		cancel()
		return nil
	})
	require.NoError(t, err)

	assert.Equal(t, []string{"run-1"}, locker.keys)
	assert.Equal(t, []time.Duration{time.Minute}, locker.ttls)
	assert.Equal(t, 1, locker.unlock, "lock is released even when the context ended")
}

func TestManager_LoadAndDelete(t *testing.T) {
	store := memory.NewStore()
	manager := session.NewManager(store)
	ctx := context.Background()

	require.NoError(t, store.AppendEvent(ctx, "r1", domain.Event{Seq: 1, Payload: &domain.RunStart{Flow: "f"}}))
	require.NoError(t, manager.Save(ctx, &domain.Snapshot{RunID: "r1", Flow: "f", Status: domain.StatusComplete}))

	rec, err := manager.Load(ctx, "r1")
	require.NoError(t, err)
	assert.Len(t, rec.Events, 1)

	runs, err := manager.List(ctx, domain.RunQuery{})
	require.NoError(t, err)
	assert.Len(t, runs, 1)

	require.NoError(t, manager.Delete(ctx, "r1"))
	_, err = manager.Load(ctx, "r1")
	assert.ErrorIs(t, err, domain.ErrRunNotFound)
}
