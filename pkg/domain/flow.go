package domain

import "time"

// InputRef is the binding root that exposes the flow input to templates and conditions.
const InputRef = "input"

// FlowSpec is a declarative graph of computation nodes.
// It is immutable once compiled.
type FlowSpec struct {
	Name string `json:"name" yaml:"name"`

	// Inputs optionally declares the expected flow input fields and their type names.
	Inputs map[string]string `json:"inputs,omitempty" yaml:"inputs,omitempty"`

	Nodes []NodeSpec `json:"nodes" yaml:"nodes"`
	Edges []Edge     `json:"edges,omitempty" yaml:"edges,omitempty"`
}

// Node returns the spec of the node with the given id.
func (f *FlowSpec) Node(id string) (NodeSpec, bool) {
	for _, n := range f.Nodes {
		if n.ID == id {
			return n, true
		}
	}
	return NodeSpec{}, false
}

// NodeSpec describes one unit of computation in a flow.
type NodeSpec struct {
	ID   string `json:"id" yaml:"id"`
	Type string `json:"type" yaml:"type"`

	// Input is a template: any YAML value whose strings may interpolate
	// the flow input or outputs of other nodes, e.g. "${fetch.body}".
	Input any `json:"input,omitempty" yaml:"input,omitempty"`

	// When is a boolean expression. An empty condition always holds.
	When string `json:"when,omitempty" yaml:"when,omitempty"`

	Policy Policy         `json:"policy,omitempty" yaml:"policy,omitempty"`
	Merge  *MergePolicy   `json:"merge,omitempty" yaml:"merge,omitempty"`
	Config map[string]any `json:"config,omitempty" yaml:"config,omitempty"`
}

// Edge is a directed link between two nodes, optionally gated by a condition.
type Edge struct {
	From string `json:"from" yaml:"from"`
	To   string `json:"to" yaml:"to"`
	When string `json:"when,omitempty" yaml:"when,omitempty"`
}

// ErrorPolicy decides what a node failure does to the run.
type ErrorPolicy string

const (
	// FailFast aborts the run on the first failure. It is the default.
	FailFast ErrorPolicy = "failFast"
	// ContinueOnError records an ErrorMarker as the node output and proceeds.
	ContinueOnError ErrorPolicy = "continueOnError"
)

// Policy holds per-node execution options.
type Policy struct {
	OnError ErrorPolicy   `json:"onError,omitempty" yaml:"onError,omitempty"`
	Timeout time.Duration `json:"timeout,omitempty" yaml:"timeout,omitempty"`

	// MaxTurns bounds the number of mailbox turns an agent node may consume.
	// Zero means unbounded.
	MaxTurns int `json:"maxTurns,omitempty" yaml:"maxTurns,omitempty"`
}

// ErrorPolicyOrDefault returns the configured policy, falling back to FailFast.
func (p Policy) ErrorPolicyOrDefault() ErrorPolicy {
	if p.OnError == "" {
		return FailFast
	}
	return p.OnError
}

// MergeMode controls how a node with several incoming edges becomes ready.
type MergeMode string

const (
	MergeAll MergeMode = "all"
	MergeAny MergeMode = "any"
)

// MergePolicy overrides the default readiness rule of a node.
type MergePolicy struct {
	Mode MergeMode `json:"mode" yaml:"mode"`
}
