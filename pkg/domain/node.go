package domain

// NodeCapabilities is attached to a node type definition.
// The executor queries it to decide whether to allocate an invocation id and mailbox.
type NodeCapabilities struct {
	IsStreaming   bool `json:"isStreaming,omitempty"`
	SupportsInbox bool `json:"supportsInbox,omitempty"`
	IsLongLived   bool `json:"isLongLived,omitempty"`
	IsAgent       bool `json:"isAgent,omitempty"`

	// LoopControl marks node types whose outgoing edges may close a cycle.
	LoopControl bool `json:"loopControl,omitempty"`
}

// Substitutable reports whether replay serves this node type from fixtures
// instead of executing it.
func (c NodeCapabilities) Substitutable() bool {
	return c.IsAgent || c.IsLongLived
}

// NodeState is the execution state of one node within a run.
type NodeState string

const (
	NodePending  NodeState = "pending"
	NodeReady    NodeState = "ready"
	NodeRunning  NodeState = "running"
	NodeComplete NodeState = "complete"
	NodeFailed   NodeState = "failed"
	NodeSkipped  NodeState = "skipped"
)

// Terminal reports whether the state is final.
func (s NodeState) Terminal() bool {
	return s == NodeComplete || s == NodeFailed || s == NodeSkipped
}

// EdgeState is the resolution of one edge within a run.
type EdgeState string

const (
	EdgePending EdgeState = "pending"
	EdgeFired   EdgeState = "fired"
	EdgeSkipped EdgeState = "skipped"
)
