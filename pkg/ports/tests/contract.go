package tests

import (
	"context"
	"errors"
	"testing"

	"github.com/Open-Harness/open-harness-sub011/pkg/domain"
	"github.com/Open-Harness/open-harness-sub011/pkg/ports"
)

// FlowLoaderContractTest is a reusable test suite that verifies if an adapter complies with ports.FlowLoader.
// want maps each flow name the loader was seeded with to its expected node count.
func FlowLoaderContractTest(t *testing.T, loader ports.FlowLoader, want map[string]int) {
	t.Helper()
	ctx := context.Background()

	t.Run("Load_Success", func(t *testing.T) {
		for name, nodes := range want {
			flow, err := loader.Load(ctx, name)
			if err != nil {
				t.Fatalf("unexpected error loading flow %s: %v", name, err)
			}
			if flow.Name != name {
				t.Errorf("flow name mismatch: got %q, want %q", flow.Name, name)
			}
			if len(flow.Nodes) != nodes {
				t.Errorf("flow %s: got %d nodes, want %d", name, len(flow.Nodes), nodes)
			}
		}
	})

	t.Run("Load_NotFound", func(t *testing.T) {
		_, err := loader.Load(ctx, "non-existent-flow")
		if err == nil {
			t.Fatal("expected error for non-existent flow, got nil")
		}
		if !errors.Is(err, domain.ErrFlowNotFound) {
			t.Errorf("expected domain.ErrFlowNotFound, got %v", err)
		}
	})

	t.Run("List", func(t *testing.T) {
		names, err := loader.List(ctx)
		if err != nil {
			t.Fatalf("unexpected error listing flows: %v", err)
		}
		found := make(map[string]bool, len(names))
		for _, n := range names {
			found[n] = true
		}
		for name := range want {
			if !found[name] {
				t.Errorf("List() is missing flow %q (got %v)", name, names)
			}
		}
		for i := 1; i < len(names); i++ {
			if names[i-1] > names[i] {
				t.Errorf("List() is not sorted: %v", names)
				break
			}
		}
	})
}
