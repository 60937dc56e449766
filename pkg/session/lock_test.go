package session

import (
	"context"
	"fmt"
	"testing"

	"github.com/Open-Harness/open-harness-sub011/pkg/adapters/memory"
	"github.com/Open-Harness/open-harness-sub011/pkg/domain"
)

func TestManager_LockLifecycle(t *testing.T) {
	mgr := NewManager(memory.NewStore())
	ctx := context.Background()
	count := 10000

	for i := 0; i < count; i++ {
		id := fmt.Sprintf("run-%d", i)
		_ = mgr.Save(ctx, &domain.Snapshot{RunID: id})
		_ = mgr.Delete(ctx, id)
	}

	if n := mgr.activeLocks(); n != 0 {
		t.Errorf("Memory Leak Detected: %d locks remaining in memory after Delete", n)
	}
}
