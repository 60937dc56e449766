package ports

import (
	"context"

	"github.com/Open-Harness/open-harness-sub011/pkg/domain"
)

// FlowLoader defines how the engine retrieves flow definitions.
type FlowLoader interface {
	// Load returns the parsed flow with the given name, or domain.ErrFlowNotFound.
	Load(ctx context.Context, name string) (*domain.FlowSpec, error)

	// List returns the names of all available flows, sorted.
	List(ctx context.Context) ([]string, error)
}

// Watchable defines an interface for loaders that can notify about backend changes.
// This is typically used for hot-reload or dev-mode functionality.
type Watchable interface {
	// Watch returns a channel that is signaled when the underlying flows change.
	// It abstracts away the specific event details, signaling only that a reload is required.
	Watch(ctx context.Context) (<-chan struct{}, error)
}
