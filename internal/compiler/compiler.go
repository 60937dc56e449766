package compiler

import (
	"fmt"

	"github.com/Open-Harness/open-harness-sub011/pkg/domain"
)

// TypeCatalog resolves node types to their capabilities.
// *registry.Registry satisfies it.
type TypeCatalog interface {
	Capabilities(nodeType string) (domain.NodeCapabilities, bool)
}

// PlannedEdge is a validated edge with its compiled condition.
type PlannedEdge struct {
	domain.Edge
	Index int

	// Back marks an edge leaving a loop-control node that closes a cycle.
	// Back edges never count towards readiness.
	Back bool

	When *Condition
}

// PlannedNode is a validated node with its compiled bindings.
type PlannedNode struct {
	Spec         domain.NodeSpec
	Capabilities domain.NodeCapabilities
	Index        int

	Input *Template
	When  *Condition

	Incoming []*PlannedEdge
	Outgoing []*PlannedEdge
	Loops    []*PlannedEdge
}

// ID returns the node id.
func (n *PlannedNode) ID() string { return n.Spec.ID }

// MergeMode returns the configured merge mode, defaulting to all.
func (n *PlannedNode) MergeMode() domain.MergeMode {
	if n.Spec.Merge == nil || n.Spec.Merge.Mode == "" {
		return domain.MergeAll
	}
	return n.Spec.Merge.Mode
}

// Plan is a compiled flow: validated nodes in a stable topological order.
type Plan struct {
	Flow  *domain.FlowSpec
	Edges []*PlannedEdge

	order    []*PlannedNode
	position map[string]int
	nodes    map[string]*PlannedNode
}

// Order returns the nodes in topological order. Ties keep declaration order.
func (p *Plan) Order() []*PlannedNode {
	return p.order
}

// Node looks up a planned node by id.
func (p *Plan) Node(id string) (*PlannedNode, bool) {
	n, ok := p.nodes[id]
	return n, ok
}

// Position is the rank of a node in the topological order.
func (p *Plan) Position(id string) int {
	if i, ok := p.position[id]; ok {
		return i
	}
	return -1
}

// LoopBody lists the nodes a back edge re-runs when it fires: its target,
// the loop-control node and everything on a forward path between them,
// in topological order.
func (p *Plan) LoopBody(e *PlannedEdge) []*PlannedNode {
	fromTarget := p.reachable(e.To, func(pe *PlannedEdge) (string, string) { return pe.From, pe.To })
	toSource := p.reachable(e.From, func(pe *PlannedEdge) (string, string) { return pe.To, pe.From })

	var body []*PlannedNode
	for _, n := range p.order {
		if fromTarget[n.Spec.ID] && toSource[n.Spec.ID] {
			body = append(body, n)
		}
	}
	return body
}

// reachable walks forward edges from start; dir orients each edge.
func (p *Plan) reachable(start string, dir func(*PlannedEdge) (string, string)) map[string]bool {
	seen := map[string]bool{start: true}
	stack := []string{start}
	for len(stack) > 0 {
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		for _, e := range p.Edges {
			if e.Back {
				continue
			}
			if from, to := dir(e); from == cur && !seen[to] {
				seen[to] = true
				stack = append(stack, to)
			}
		}
	}
	return seen
}

// Compile validates spec against the available node types and builds a Plan.
// Every error it returns matches domain.ErrCompile.
func Compile(spec *domain.FlowSpec, types TypeCatalog) (*Plan, error) {
	plan := &Plan{
		Flow:  spec,
		nodes: make(map[string]*PlannedNode, len(spec.Nodes)),
	}

	declared := make(map[string]bool, len(spec.Nodes))
	nodes := make([]*PlannedNode, 0, len(spec.Nodes))
	for i, ns := range spec.Nodes {
		if ns.ID == domain.InputRef || declared[ns.ID] {
			return nil, &domain.DuplicateNodeError{NodeID: ns.ID}
		}
		declared[ns.ID] = true

		caps, ok := types.Capabilities(ns.Type)
		if !ok {
			return nil, &domain.UnknownNodeTypeError{NodeID: ns.ID, Type: ns.Type}
		}
		if err := checkPolicy(ns); err != nil {
			return nil, err
		}
		n := &PlannedNode{Spec: ns, Capabilities: caps, Index: i}
		nodes = append(nodes, n)
		plan.nodes[ns.ID] = n
	}

	for _, n := range nodes {
		where := fmt.Sprintf("node %q input", n.Spec.ID)
		tmpl, err := compileTemplate(where, n.Spec.Input)
		if err != nil {
			return nil, err
		}
		if err := tmpl.walk(func(e *expression) error { return e.check(where, declared) }); err != nil {
			return nil, err
		}
		n.Input = tmpl

		where = fmt.Sprintf("node %q when", n.Spec.ID)
		cond, err := compileCondition(where, n.Spec.When)
		if err != nil {
			return nil, err
		}
		if cond != nil {
			if err := cond.check(where, declared); err != nil {
				return nil, err
			}
		}
		n.When = cond
	}

	for i, e := range spec.Edges {
		for _, end := range []string{e.From, e.To} {
			if !declared[end] {
				return nil, &domain.DanglingEdgeError{From: e.From, To: e.To, Missing: end}
			}
		}
		where := fmt.Sprintf("edge %s -> %s when", e.From, e.To)
		cond, err := compileCondition(where, e.When)
		if err != nil {
			return nil, err
		}
		if cond != nil {
			if err := cond.check(where, declared); err != nil {
				return nil, err
			}
		}
		plan.Edges = append(plan.Edges, &PlannedEdge{Edge: e, Index: i, When: cond})
	}

	markBackEdges(plan)
	for _, e := range plan.Edges {
		from, to := plan.nodes[e.From], plan.nodes[e.To]
		if e.Back {
			from.Loops = append(from.Loops, e)
			continue
		}
		from.Outgoing = append(from.Outgoing, e)
		to.Incoming = append(to.Incoming, e)
	}

	order, err := topoSort(nodes)
	if err != nil {
		return nil, err
	}
	plan.order = order
	plan.position = make(map[string]int, len(order))
	for i, n := range order {
		plan.position[n.Spec.ID] = i
	}
	return plan, nil
}

func checkPolicy(ns domain.NodeSpec) error {
	switch ns.Policy.OnError {
	case "", domain.FailFast, domain.ContinueOnError:
	default:
		return fmt.Errorf("%w: node %q: unknown onError policy %q", domain.ErrCompile, ns.ID, ns.Policy.OnError)
	}
	if ns.Policy.Timeout < 0 || ns.Policy.MaxTurns < 0 {
		return fmt.Errorf("%w: node %q: negative policy value", domain.ErrCompile, ns.ID)
	}
	if ns.Merge != nil {
		switch ns.Merge.Mode {
		case "", domain.MergeAll, domain.MergeAny:
		default:
			return fmt.Errorf("%w: node %q: unknown merge mode %q", domain.ErrCompile, ns.ID, ns.Merge.Mode)
		}
	}
	return nil
}

// markBackEdges flags edges that leave a loop-control node and point at a
// node that can already reach it without loop edges.
func markBackEdges(plan *Plan) {
	for _, e := range plan.Edges {
		if plan.nodes[e.From].Capabilities.LoopControl {
			e.Back = true
		}
	}
	forward := func(pe *PlannedEdge) (string, string) { return pe.From, pe.To }
	for _, e := range plan.Edges {
		if !e.Back {
			continue
		}
		if !plan.reachable(e.To, forward)[e.From] {
			// A loop-control edge that closes no cycle is an ordinary edge.
			e.Back = false
		}
	}
}

// topoSort is Kahn's algorithm over forward edges, always picking the ready
// node declared first.
func topoSort(nodes []*PlannedNode) ([]*PlannedNode, error) {
	indegree := make(map[string]int, len(nodes))
	for _, n := range nodes {
		indegree[n.Spec.ID] = len(n.Incoming)
	}

	order := make([]*PlannedNode, 0, len(nodes))
	done := make(map[string]bool, len(nodes))
	for len(order) < len(nodes) {
		var next *PlannedNode
		for _, n := range nodes {
			if !done[n.Spec.ID] && indegree[n.Spec.ID] == 0 {
				next = n
				break
			}
		}
		if next == nil {
			return nil, &domain.CycleError{Path: findCycle(nodes, done)}
		}
		done[next.Spec.ID] = true
		order = append(order, next)
		for _, e := range next.Outgoing {
			indegree[e.To]--
		}
	}
	return order, nil
}

// findCycle returns one cycle among the nodes Kahn could not order,
// closed by repeating its first node.
func findCycle(nodes []*PlannedNode, done map[string]bool) []string {
	byID := make(map[string]*PlannedNode, len(nodes))
	for _, n := range nodes {
		byID[n.Spec.ID] = n
	}

	const (
		unvisited = iota
		onStack
		finished
	)
	state := make(map[string]int)
	var stack []string
	var cycle []string

	var visit func(id string) bool
	visit = func(id string) bool {
		state[id] = onStack
		stack = append(stack, id)
		for _, e := range byID[id].Outgoing {
			if done[e.To] {
				continue
			}
			switch state[e.To] {
			case onStack:
				for i, s := range stack {
					if s == e.To {
						cycle = append(append([]string{}, stack[i:]...), e.To)
						return true
					}
				}
			case unvisited:
				if visit(e.To) {
					return true
				}
			}
		}
		stack = stack[:len(stack)-1]
		state[id] = finished
		return false
	}

	for _, n := range nodes {
		if !done[n.Spec.ID] && state[n.Spec.ID] == unvisited && visit(n.Spec.ID) {
			return cycle
		}
	}
	return nil
}
