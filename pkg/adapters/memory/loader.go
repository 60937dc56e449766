package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/Open-Harness/open-harness-sub011/pkg/domain"
)

// Loader implements ports.FlowLoader using an in-memory map.
type Loader struct {
	mu    sync.RWMutex
	flows map[string]*domain.FlowSpec
}

// NewLoader creates a new Loader holding the given flows, keyed by name.
func NewLoader(flows ...*domain.FlowSpec) (*Loader, error) {
	l := &Loader{flows: make(map[string]*domain.FlowSpec, len(flows))}
	for _, f := range flows {
		if err := l.Add(f); err != nil {
			return nil, err
		}
	}
	return l, nil
}

// Add registers or replaces a flow.
func (l *Loader) Add(flow *domain.FlowSpec) error {
	if flow == nil || flow.Name == "" {
		return fmt.Errorf("flow missing name")
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.flows[flow.Name] = flow
	return nil
}

// Load retrieves a flow by name.
func (l *Loader) Load(ctx context.Context, name string) (*domain.FlowSpec, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	flow, ok := l.flows[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrFlowNotFound, name)
	}
	return flow, nil
}

// List returns all available flow names.
func (l *Loader) List(ctx context.Context) ([]string, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	names := make([]string, 0, len(l.flows))
	for k := range l.flows {
		names = append(names, k)
	}
	sort.Strings(names) // Deterministic order
	return names, nil
}
