package file_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/Open-Harness/open-harness-sub011/pkg/adapters/file"
	"github.com/Open-Harness/open-harness-sub011/pkg/domain"
	"github.com/Open-Harness/open-harness-sub011/pkg/ports"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileStore_Contract(t *testing.T) {
	store := file.NewStore(t.TempDir())
	ports.RunStoreContract(t, store)
}

func TestFileStore_Layout(t *testing.T) {
	dir := t.TempDir()
	store := file.NewStore(dir)
	ctx := context.Background()

	require.NoError(t, store.AppendEvent(ctx, "r1", domain.Event{Seq: 1, Payload: &domain.RunStart{Flow: "f"}}))
	require.NoError(t, store.AppendEvent(ctx, "r1", domain.Event{Seq: 2, Payload: &domain.RunComplete{Status: domain.StatusComplete}}))
	require.NoError(t, store.SaveSnapshot(ctx, &domain.Snapshot{RunID: "r1", Flow: "f", Status: domain.StatusComplete}))
	require.NoError(t, store.SaveSnapshot(ctx, &domain.Snapshot{RunID: "r1", Flow: "f", Status: domain.StatusFailed}))

	assert.FileExists(t, filepath.Join(dir, "r1", "events.jsonl"))
	assert.FileExists(t, filepath.Join(dir, "r1", "snapshot.json"))

	entries, err := os.ReadDir(filepath.Join(dir, "r1"))
	require.NoError(t, err)
	assert.Len(t, entries, 2, "no temp files are left behind")

	snap, err := store.GetSnapshot(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusFailed, snap.Status, "snapshot is replaced")
}

func TestFileStore_EventsWithoutSnapshot(t *testing.T) {
	store := file.NewStore(t.TempDir())
	ctx := context.Background()
	require.NoError(t, store.AppendEvent(ctx, "live", domain.Event{Seq: 1, Payload: &domain.RunStart{}}))

	rec, err := store.Load(ctx, "live")
	require.NoError(t, err)
	assert.Equal(t, "live", rec.RunID)
	assert.Len(t, rec.Events, 1)

	runs, err := store.List(ctx, domain.RunQuery{})
	require.NoError(t, err)
	assert.Empty(t, runs)
}

func TestFileStore_InvalidRunID(t *testing.T) {
	store := file.NewStore(t.TempDir())
	ctx := context.Background()

	for _, id := range []string{"", "../escape", "a/b", ".."} {
		assert.Error(t, store.AppendEvent(ctx, id, domain.Event{Seq: 1, Payload: &domain.RunStart{}}), id)
	}
}

func TestFileStore_ListMissingBase(t *testing.T) {
	store := file.NewStore(filepath.Join(t.TempDir(), "absent"))
	runs, err := store.List(context.Background(), domain.RunQuery{})
	require.NoError(t, err)
	assert.Empty(t, runs)
}
