package dsl

import (
	"fmt"

	"github.com/Open-Harness/open-harness-sub011/pkg/adapters/memory"
	"github.com/Open-Harness/open-harness-sub011/pkg/domain"
)

// Builder manages the flow construction.
type Builder struct {
	name   string
	inputs map[string]string
	nodes  []*NodeBuilder
	index  map[string]*NodeBuilder
	edges  []domain.Edge
}

// New creates a builder for a flow called name.
func New(name string) *Builder {
	return &Builder{
		name:  name,
		index: make(map[string]*NodeBuilder),
	}
}

// Inputs declares flow input fields as name/type pairs.
func (b *Builder) Inputs(pairs ...string) *Builder {
	if b.inputs == nil {
		b.inputs = make(map[string]string)
	}
	for i := 0; i+1 < len(pairs); i += 2 {
		b.inputs[pairs[i]] = pairs[i+1]
	}
	return b
}

// Add creates a node. If the node already exists, it returns its builder.
func (b *Builder) Add(id string) *NodeBuilder {
	if nb, ok := b.index[id]; ok {
		return nb
	}
	nb := &NodeBuilder{node: domain.NodeSpec{ID: id, Type: "noop"}, builder: b}
	b.index[id] = nb
	b.nodes = append(b.nodes, nb)
	return nb
}

// Edge links two nodes; a non-empty when makes the edge conditional.
func (b *Builder) Edge(from, to, when string) *Builder {
	b.edges = append(b.edges, domain.Edge{From: from, To: to, When: when})
	return b
}

// Spec returns the flow. Validation happens when the flow is compiled.
func (b *Builder) Spec() *domain.FlowSpec {
	spec := &domain.FlowSpec{Name: b.name, Edges: append([]domain.Edge(nil), b.edges...)}
	if len(b.inputs) > 0 {
		spec.Inputs = make(map[string]string, len(b.inputs))
		for k, v := range b.inputs {
			spec.Inputs[k] = v
		}
	}
	for _, nb := range b.nodes {
		spec.Nodes = append(spec.Nodes, nb.Build())
	}
	return spec
}

// Build wraps the flow in a memory loader.
func (b *Builder) Build() (*memory.Loader, error) {
	loader, err := memory.NewLoader(b.Spec())
	if err != nil {
		return nil, fmt.Errorf("failed to build memory loader: %w", err)
	}
	return loader, nil
}
