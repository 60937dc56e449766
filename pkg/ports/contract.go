package ports

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/Open-Harness/open-harness-sub011/pkg/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// RunStoreContract runs a suite of tests to verify that a RunStore implementation
// adheres to the defined interface contract.
func RunStoreContract(t *testing.T, store RunStore) {
	ctx := context.Background()
	runID := "contract-run-" + time.Now().Format("20060102150405.000000")
	base := time.UnixMilli(1700000000000)

	events := []domain.Event{
		{Seq: 1, Timestamp: base, Payload: &domain.RunStart{Flow: "contract", Input: map[string]any{"n": 1}}},
		{Seq: 2, Timestamp: base.Add(time.Millisecond), Context: domain.EventContext{Task: "A"}, Payload: &domain.TaskStart{NodeID: "A", Type: "noop"}},
		{Seq: 3, Timestamp: base.Add(2 * time.Millisecond), Context: domain.EventContext{Task: "A"}, Payload: &domain.TaskComplete{NodeID: "A", Output: "ok"}},
		{Seq: 4, Timestamp: base.Add(3 * time.Millisecond), Payload: &domain.RunComplete{Status: domain.StatusComplete}},
	}
	snapshot := &domain.Snapshot{
		RunID:   runID,
		Flow:    "contract",
		Status:  domain.StatusComplete,
		Input:   map[string]any{"n": 1},
		Outputs: map[string]any{"A": "ok"},
		Fixtures: map[string]domain.Fixture{
			"k1": {NodeID: "A", Type: "noop", Output: "ok"},
		},
		StartedAt:   base,
		CompletedAt: base.Add(3 * time.Millisecond),
	}

	t.Run("Append and Load", func(t *testing.T) {
		for _, ev := range events {
			require.NoError(t, store.AppendEvent(ctx, runID, ev))
		}
		require.NoError(t, store.SaveSnapshot(ctx, snapshot))

		rec, err := store.Load(ctx, runID)
		require.NoError(t, err)
		require.Len(t, rec.Events, len(events))
		for i, ev := range rec.Events {
			assert.Equal(t, events[i].Seq, ev.Seq, "events keep sequence order")
			assert.Equal(t, events[i].Name(), ev.Name())
		}
		assert.Equal(t, "A", rec.Events[1].Context.Task)
		assert.Equal(t, domain.StatusComplete, rec.Status)
		assert.Equal(t, "contract", rec.Flow)
		assert.Contains(t, rec.Fixtures, "k1")
	})

	t.Run("GetSnapshot", func(t *testing.T) {
		snap, err := store.GetSnapshot(ctx, runID)
		require.NoError(t, err)
		assert.Equal(t, runID, snap.RunID)
		assert.Equal(t, "ok", snap.Outputs["A"])
		assert.Equal(t, base.UnixMilli(), snap.StartedAt.UnixMilli())
	})

	t.Run("Load Non-Existent", func(t *testing.T) {
		_, err := store.Load(ctx, "non-existent-"+runID)
		assert.ErrorIs(t, err, domain.ErrRunNotFound)

		_, err = store.GetSnapshot(ctx, "non-existent-"+runID)
		assert.ErrorIs(t, err, domain.ErrRunNotFound)
	})

	t.Run("List", func(t *testing.T) {
		ids := make([]string, 3)
		for i := range ids {
			ids[i] = fmt.Sprintf("%s-list-%d", runID, i)
			status := domain.StatusComplete
			if i == 2 {
				status = domain.StatusFailed
			}
			require.NoError(t, store.SaveSnapshot(ctx, &domain.Snapshot{
				RunID:       ids[i],
				Flow:        "listed",
				Status:      status,
				StartedAt:   base.Add(time.Duration(i) * time.Second),
				CompletedAt: base.Add(time.Duration(i)*time.Second + time.Millisecond),
			}))
		}
		defer func() {
			for _, id := range ids {
				_ = store.Delete(ctx, id)
			}
		}()

		all, err := store.List(ctx, domain.RunQuery{Flow: "listed"})
		require.NoError(t, err)
		require.Len(t, all, 3)
		assert.Equal(t, ids[2], all[0].RunID, "most recent first")

		failed, err := store.List(ctx, domain.RunQuery{Flow: "listed", Status: domain.StatusFailed})
		require.NoError(t, err)
		require.Len(t, failed, 1)
		assert.Equal(t, ids[2], failed[0].RunID)

		limited, err := store.List(ctx, domain.RunQuery{Flow: "listed", Limit: 2})
		require.NoError(t, err)
		assert.Len(t, limited, 2)
	})

	t.Run("Delete", func(t *testing.T) {
		require.NoError(t, store.Delete(ctx, runID))

		_, err := store.Load(ctx, runID)
		assert.ErrorIs(t, err, domain.ErrRunNotFound, "Load after Delete should return ErrRunNotFound")

		assert.NoError(t, store.Delete(ctx, runID), "deleting twice is not an error")
	})
}
