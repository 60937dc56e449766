package dsl

import (
	"time"

	"github.com/Open-Harness/open-harness-sub011/pkg/domain"
)

// NodeBuilder provides a fluent API for configuring a node.
type NodeBuilder struct {
	node    domain.NodeSpec
	builder *Builder
}

// Type sets the node type. Nodes default to noop.
func (n *NodeBuilder) Type(nodeType string) *NodeBuilder {
	n.node.Type = nodeType
	return n
}

// Input sets the input template.
func (n *NodeBuilder) Input(template any) *NodeBuilder {
	n.node.Input = template
	return n
}

// When sets the node condition.
func (n *NodeBuilder) When(condition string) *NodeBuilder {
	n.node.When = condition
	return n
}

// Config sets one config entry.
func (n *NodeBuilder) Config(key string, value any) *NodeBuilder {
	if n.node.Config == nil {
		n.node.Config = make(map[string]any)
	}
	n.node.Config[key] = value
	return n
}

// Timeout bounds each execution of the node.
func (n *NodeBuilder) Timeout(d time.Duration) *NodeBuilder {
	n.node.Policy.Timeout = d
	return n
}

// ContinueOnError lets the run go on when the node fails.
func (n *NodeBuilder) ContinueOnError() *NodeBuilder {
	n.node.Policy.OnError = domain.ContinueOnError
	return n
}

// MaxTurns bounds agent mailbox turns, or loop iterations on a loop node.
func (n *NodeBuilder) MaxTurns(turns int) *NodeBuilder {
	n.node.Policy.MaxTurns = turns
	return n
}

// MergeAny starts the node on its first fired incoming edge.
func (n *NodeBuilder) MergeAny() *NodeBuilder {
	n.node.Merge = &domain.MergePolicy{Mode: domain.MergeAny}
	return n
}

// Go adds an unconditional edge to target.
func (n *NodeBuilder) Go(target string) *NodeBuilder {
	n.builder.Edge(n.node.ID, target, "")
	return n
}

// Branch adds a conditional edge to target.
func (n *NodeBuilder) Branch(condition, target string) *NodeBuilder {
	n.builder.Edge(n.node.ID, target, condition)
	return n
}

// Build returns the node spec.
func (n *NodeBuilder) Build() domain.NodeSpec {
	spec := n.node
	if n.node.Config != nil {
		spec.Config = make(map[string]any, len(n.node.Config))
		for k, v := range n.node.Config {
			spec.Config[k] = v
		}
	}
	return spec
}
