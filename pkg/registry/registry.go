// Package registry maps node type names to their executable definitions.
package registry

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/mitchellh/mapstructure"

	"github.com/Open-Harness/open-harness-sub011/pkg/domain"
	"github.com/Open-Harness/open-harness-sub011/pkg/inbox"
)

// Emitter publishes events into the run of the invocation.
type Emitter interface {
	Emit(ctx context.Context, payload domain.Payload, overrides ...domain.EventContext) domain.Event
}

// Prompter asks a human for input and blocks until the reply.
type Prompter interface {
	Prompt(ctx context.Context, req domain.PromptRequest) (any, error)
}

// Invocation is everything one execution of a node receives.
type Invocation struct {
	NodeID string
	Type   string
	Input  any
	Config map[string]any

	// Iteration counts the executions of this node within the run, from 1.
	// It only exceeds 1 inside a loop.
	Iteration int

	// InvocationID and Stream are set for agent nodes only.
	InvocationID string
	Stream       *inbox.Stream

	Events   Emitter
	Prompter Prompter
}

// Emit publishes payload with the ambient context of ctx.
func (inv *Invocation) Emit(ctx context.Context, payload domain.Payload) {
	if inv.Events != nil {
		inv.Events.Emit(ctx, payload)
	}
}

// DecodeConfig decodes the node config map into out (a pointer to a struct),
// accepting loosely typed YAML values such as "5s" for durations.
func (inv *Invocation) DecodeConfig(out any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           out,
		WeaklyTypedInput: true,
		DecodeHook:       mapstructure.StringToTimeDurationHookFunc(),
	})
	if err != nil {
		return err
	}
	if err := dec.Decode(inv.Config); err != nil {
		return fmt.Errorf("node %q config: %w", inv.NodeID, err)
	}
	return nil
}

// NodeFunc executes one node. It returns the node output or an error.
type NodeFunc func(ctx context.Context, inv *Invocation) (any, error)

// Definition is an executable node type.
type Definition struct {
	Type         string
	Capabilities domain.NodeCapabilities
	Run          NodeFunc
}

// ErrInvalidDefinition is returned by Register for definitions missing a type or a Run func.
var ErrInvalidDefinition = errors.New("invalid node definition")

// Registry manages the available node types.
type Registry struct {
	mu   sync.RWMutex
	defs map[string]Definition
}

// NewRegistry creates a new empty registry.
func NewRegistry() *Registry {
	return &Registry{
		defs: make(map[string]Definition),
	}
}

// Register adds a node type to the registry.
// If a type with the same name exists, it is overwritten.
func (r *Registry) Register(def Definition) error {
	if def.Type == "" || def.Run == nil {
		return fmt.Errorf("%w: %q", ErrInvalidDefinition, def.Type)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.defs[def.Type] = def
	return nil
}

// RegisterFunc is shorthand for a definition without capabilities.
func (r *Registry) RegisterFunc(nodeType string, fn NodeFunc) error {
	return r.Register(Definition{Type: nodeType, Run: fn})
}

// Get looks up a node type.
func (r *Registry) Get(nodeType string) (Definition, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	def, ok := r.defs[nodeType]
	return def, ok
}

// Capabilities returns the capabilities of a node type.
func (r *Registry) Capabilities(nodeType string) (domain.NodeCapabilities, bool) {
	def, ok := r.Get(nodeType)
	return def.Capabilities, ok
}

// Types lists the registered node types, sorted.
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.defs))
	for t := range r.defs {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// Execute looks up the node type of inv and runs it.
// Returns an error if the type is not found.
func (r *Registry) Execute(ctx context.Context, inv *Invocation) (any, error) {
	def, ok := r.Get(inv.Type)
	if !ok {
		return nil, &domain.UnknownNodeTypeError{NodeID: inv.NodeID, Type: inv.Type}
	}
	return def.Run(ctx, inv)
}
