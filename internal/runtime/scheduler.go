package runtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/Open-Harness/open-harness-sub011/internal/compiler"
	"github.com/Open-Harness/open-harness-sub011/internal/logging"
	"github.com/Open-Harness/open-harness-sub011/pkg/domain"
	"github.com/Open-Harness/open-harness-sub011/pkg/hub"
)

// completion is what a node goroutine hands back to the scheduler.
type completion struct {
	node     *compiler.PlannedNode
	output   any
	err      error
	duration time.Duration
}

// scheduler owns the state of one run. Node states, edge states and outputs
// are only touched from the goroutine that calls run.
type scheduler struct {
	e      *Executor
	req    Run
	hub    *hub.Hub
	logger *slog.Logger

	runCtx   context.Context
	phaseCtx context.Context
	nodesCtx context.Context
	halt     context.CancelCauseFunc

	input      any
	states     map[string]domain.NodeState
	edges      map[int]domain.EdgeState
	outputs    map[string]any
	iterations map[string]int
	loops      map[int]int

	ready   []*compiler.PlannedNode
	sem     *semaphore.Weighted
	running int
	done    chan completion

	failure error // first node failure under failFast
	fatal   error // binding or replay error
}

func newScheduler(e *Executor, req Run, runCtx context.Context) *scheduler {
	s := &scheduler{
		e:          e,
		req:        req,
		hub:        req.Hub,
		logger:     e.logger.With(logging.RunID(req.ID), logging.Flow(req.Plan.Flow.Name)),
		runCtx:     runCtx,
		states:     make(map[string]domain.NodeState),
		edges:      make(map[int]domain.EdgeState),
		outputs:    make(map[string]any),
		iterations: make(map[string]int),
		loops:      make(map[int]int),
		sem:        semaphore.NewWeighted(int64(e.maxConcurrency)),
		done:       make(chan completion, e.maxConcurrency),
	}
	for _, n := range req.Plan.Order() {
		s.states[n.ID()] = domain.NodePending
	}
	for _, pe := range req.Plan.Edges {
		s.edges[pe.Index] = domain.EdgePending
	}
	return s
}

func (s *scheduler) run() (*domain.RunResult, error) {
	started := s.e.clock()
	plan := s.req.Plan

	input, err := domain.Normalize(s.req.Input)
	if err != nil {
		return nil, &domain.InputValidationError{Flow: plan.Flow.Name, Err: err}
	}
	s.input = input

	s.hub.Emit(s.runCtx, &domain.RunStart{Flow: plan.Flow.Name, Input: detach(input)})
	s.phaseCtx = hub.Scoped(s.runCtx, domain.EventContext{Phase: PhaseMain})
	s.hub.Emit(s.phaseCtx, &domain.PhaseStart{Name: PhaseMain})

	var halt context.CancelCauseFunc
	s.nodesCtx, halt = context.WithCancelCause(s.phaseCtx)
	defer halt(nil)
	s.halt = halt

	s.logger.Debug("run started", "nodes", len(plan.Order()), "max_concurrency", s.e.maxConcurrency)

	for _, n := range plan.Order() {
		if len(n.Incoming) == 0 {
			s.markReady(n)
		}
	}
	s.loop()
	s.skipRemaining()

	status, runErr := s.status()
	result := &domain.RunResult{
		RunID:    s.req.ID,
		Status:   status,
		Outputs:  s.snapshotOutputs(),
		Duration: s.e.clock().Sub(started),
		Error:    runErr,
	}

	s.hub.Emit(s.phaseCtx, &domain.PhaseComplete{Name: PhaseMain, Status: status})
	complete := &domain.RunComplete{Status: status, Outputs: s.snapshotOutputs(), DurationMs: result.DurationMs()}
	if runErr != nil {
		complete.Error = runErr.Error()
	}
	s.hub.Emit(s.runCtx, complete)
	s.hub.Flush()
	result.Events = s.hub.History()

	s.logger.Info("run finished", logging.Status(status), "duration", result.Duration)
	if s.fatal != nil {
		return result, s.fatal
	}
	return result, nil
}

// loop dispatches ready nodes and collects completions until nothing is
// ready or running.
func (s *scheduler) loop() {
	for {
		for len(s.ready) > 0 && !s.halted() && s.sem.TryAcquire(1) {
			n := s.ready[0]
			s.ready = s.ready[1:]
			if !s.dispatch(n) {
				s.sem.Release(1)
			}
		}
		if s.running == 0 && (len(s.ready) == 0 || s.halted()) {
			return
		}
		c := <-s.done
		s.running--
		s.sem.Release(1)
		s.settle(c)
	}
}

func (s *scheduler) halted() bool {
	return s.failure != nil || s.fatal != nil || s.runCtx.Err() != nil
}

// markReady queues n keeping the ready list in topological order, so the
// sequential scheduler always picks the earliest node.
func (s *scheduler) markReady(n *compiler.PlannedNode) {
	if s.states[n.ID()] != domain.NodePending {
		return
	}
	s.states[n.ID()] = domain.NodeReady
	s.ready = append(s.ready, n)
	plan := s.req.Plan
	sort.SliceStable(s.ready, func(i, j int) bool {
		return plan.Position(s.ready[i].ID()) < plan.Position(s.ready[j].ID())
	})
}

// dispatch evaluates the node condition, emits task:start, resolves the
// input and starts the node. It reports whether a goroutine was started.
func (s *scheduler) dispatch(n *compiler.PlannedNode) bool {
	id := n.ID()
	ctx := hub.Scoped(s.phaseCtx, domain.EventContext{Task: id})
	scope := compiler.Scope{Input: s.input, Outputs: s.outputs}

	holds, err := n.When.Holds(id, scope)
	if err != nil {
		s.failFatal(ctx, n, bindingError(id, err), 0)
		return false
	}
	if !holds {
		s.skip(ctx, n, "condition is false")
		return false
	}

	startEv, ok := s.hub.EmitUnlessAborted(ctx, &domain.TaskStart{NodeID: id, Type: n.Spec.Type})
	if !ok {
		s.states[id] = domain.NodePending
		return false
	}
	started := s.e.clock()
	s.iterations[id]++

	input, err := n.Input.Resolve(id, scope)
	if err != nil {
		s.failFatal(ctx, n, bindingError(id, err), 0)
		return false
	}

	s.states[id] = domain.NodeRunning
	s.running++
	exec := execution{
		node:      n,
		input:     input,
		iteration: s.iterations[id],
		call: Call{
			RunID:    s.req.ID,
			NodeID:   id,
			Type:     n.Spec.Type,
			Input:    input,
			StartSeq: startEv.Seq,
		},
	}
	go func() {
		out, err := s.invoke(hub.Scoped(s.nodesCtx, domain.EventContext{Task: id}), exec)
		s.done <- completion{node: n, output: out, err: err, duration: s.e.clock().Sub(started)}
	}()
	return true
}

// detach returns a deep copy of an already normalized value, so event
// payloads and results never alias the outputs bindings read from.
func detach(v any) any {
	out, err := domain.Normalize(v)
	if err != nil {
		return v
	}
	return out
}

func (s *scheduler) snapshotOutputs() map[string]any {
	out := make(map[string]any, len(s.outputs))
	for id, v := range s.outputs {
		out[id] = detach(v)
	}
	return out
}

// settle records a completion and resolves the outgoing edges of the node.
func (s *scheduler) settle(c completion) {
	n := c.node
	id := n.ID()
	ctx := hub.Scoped(s.phaseCtx, domain.EventContext{Task: id})

	if c.err == nil {
		s.states[id] = domain.NodeComplete
		s.outputs[id] = c.output
		s.hub.Emit(ctx, &domain.TaskComplete{NodeID: id, Output: detach(c.output), DurationMs: c.duration.Milliseconds()})
		s.resolve(ctx, n)
		return
	}

	kind := domain.FailureKindOf(c.err)
	switch {
	case kind == domain.FailureReplay || kind == domain.FailureBinding:
		s.failFatal(ctx, n, c.err, c.duration)
		return
	case kind == domain.FailureAborted && s.halted():
		// Cancelled by an abort or by another node failing.
		s.states[id] = domain.NodeFailed
		s.emitFailed(ctx, n, c.err, kind, c.duration)
		return
	}

	s.states[id] = domain.NodeFailed
	s.emitFailed(ctx, n, c.err, kind, c.duration)
	s.logger.Warn("node failed", logging.NodeID(id), "kind", kind, logging.Err(c.err))

	if n.Spec.Policy.ErrorPolicyOrDefault() == domain.ContinueOnError {
		marker, _ := domain.Normalize(domain.ErrorMarker{Error: c.err.Error(), Kind: kind})
		s.outputs[id] = marker
		s.resolve(ctx, n)
		return
	}
	if s.failure == nil {
		s.failure = c.err
		s.stop(id)
	}
}

// stop cancels every running node after id failed.
func (s *scheduler) stop(id string) {
	s.halt(&domain.AbortError{Reason: fmt.Sprintf("node %q failed", id)})
}

func (s *scheduler) emitFailed(ctx context.Context, n *compiler.PlannedNode, err error, kind domain.FailureKind, d time.Duration) {
	s.hub.Emit(ctx, &domain.TaskFailed{NodeID: n.ID(), Error: err.Error(), Kind: kind, DurationMs: d.Milliseconds()})
}

// failFatal fails n with an error that ends the run regardless of policy.
func (s *scheduler) failFatal(ctx context.Context, n *compiler.PlannedNode, err error, d time.Duration) {
	s.states[n.ID()] = domain.NodeFailed
	s.emitFailed(ctx, n, err, domain.FailureKindOf(err), d)
	s.logger.Error("run failed", logging.NodeID(n.ID()), logging.Err(err))
	if s.fatal == nil {
		s.fatal = err
		s.stop(n.ID())
	}
}

func (s *scheduler) skip(ctx context.Context, n *compiler.PlannedNode, reason string) {
	s.states[n.ID()] = domain.NodeSkipped
	s.hub.Emit(ctx, &domain.TaskSkipped{NodeID: n.ID(), Reason: reason})
	for _, e := range n.Outgoing {
		s.resolveEdge(e, domain.EdgeSkipped)
	}
}

// resolve evaluates the edges leaving a node that produced an output.
// A loop-control node whose back edge fires restarts its loop body and
// leaves its forward edges pending until the loop exits.
func (s *scheduler) resolve(ctx context.Context, n *compiler.PlannedNode) {
	scope := compiler.Scope{Input: s.input, Outputs: s.outputs}

	for _, back := range n.Loops {
		fired, err := back.When.Holds(n.ID(), scope)
		if err != nil {
			s.failEdge(ctx, back, err)
			return
		}
		if !fired {
			continue
		}
		if s.loopAgain(ctx, n, back) {
			return
		}
	}

	for _, e := range n.Outgoing {
		fired, err := e.When.Holds(e.To, scope)
		if err != nil {
			s.failEdge(ctx, e, err)
			return
		}
		if fired {
			s.resolveEdge(e, domain.EdgeFired)
		} else {
			s.resolveEdge(e, domain.EdgeSkipped)
		}
	}
}

func (s *scheduler) failEdge(ctx context.Context, e *compiler.PlannedEdge, err error) {
	target, _ := s.req.Plan.Node(e.To)
	if s.states[e.To].Terminal() || s.states[e.To] == domain.NodeRunning {
		s.hub.Diagnose(ctx, "edge condition failed", map[string]any{"from": e.From, "to": e.To, "error": err.Error()})
		if s.fatal == nil {
			s.fatal = bindingError(e.To, err)
			s.stop(e.From)
		}
		return
	}
	s.failFatal(hub.Scoped(s.phaseCtx, domain.EventContext{Task: e.To}), target, bindingError(e.To, err), 0)
}

func (s *scheduler) loopAgain(ctx context.Context, n *compiler.PlannedNode, back *compiler.PlannedEdge) bool {
	limit := DefaultMaxLoopIterations
	if n.Spec.Policy.MaxTurns > 0 {
		limit = n.Spec.Policy.MaxTurns
	}
	if s.loops[back.Index] >= limit {
		s.hub.Diagnose(ctx, "loop limit reached", map[string]any{"from": back.From, "to": back.To, "limit": limit})
		return false
	}
	s.loops[back.Index]++

	body := s.req.Plan.LoopBody(back)
	inBody := make(map[string]bool, len(body))
	for _, b := range body {
		inBody[b.ID()] = true
	}
	for _, b := range body {
		s.states[b.ID()] = domain.NodePending
		for _, e := range b.Incoming {
			if inBody[e.From] {
				s.edges[e.Index] = domain.EdgePending
			}
		}
	}
	target, _ := s.req.Plan.Node(back.To)
	s.markReady(target)
	return true
}

// resolveEdge settles one edge and re-evaluates the readiness of its target.
func (s *scheduler) resolveEdge(e *compiler.PlannedEdge, state domain.EdgeState) {
	if s.edges[e.Index] != domain.EdgePending {
		return
	}
	s.edges[e.Index] = state

	target, _ := s.req.Plan.Node(e.To)
	if s.states[target.ID()] != domain.NodePending {
		// Already started through merge any, or reset state is handled elsewhere.
		return
	}

	resolved, fired := 0, 0
	for _, in := range target.Incoming {
		switch s.edges[in.Index] {
		case domain.EdgeFired:
			resolved++
			fired++
		case domain.EdgeSkipped:
			resolved++
		}
	}

	switch {
	case fired > 0 && target.MergeMode() == domain.MergeAny:
		s.markReady(target)
	case resolved < len(target.Incoming):
		return
	case fired > 0:
		s.markReady(target)
	default:
		ctx := hub.Scoped(s.phaseCtx, domain.EventContext{Task: target.ID()})
		s.skip(ctx, target, "no incoming edge fired")
	}
}

// skipRemaining gives every node that never reached a terminal state its
// skipped event, so each node ends with exactly one terminal event.
func (s *scheduler) skipRemaining() {
	reason := "run ended"
	switch {
	case s.runCtx.Err() != nil:
		reason = "run aborted"
	case s.fatal != nil || s.failure != nil:
		reason = "run failed"
	}
	for _, n := range s.req.Plan.Order() {
		if st := s.states[n.ID()]; !st.Terminal() {
			s.states[n.ID()] = domain.NodeSkipped
			s.hub.Emit(hub.Scoped(s.phaseCtx, domain.EventContext{Task: n.ID()}), &domain.TaskSkipped{NodeID: n.ID(), Reason: reason})
		}
	}
}

func (s *scheduler) status() (domain.RunStatus, error) {
	switch {
	case s.fatal != nil:
		return domain.StatusFailed, s.fatal
	case s.runCtx.Err() != nil:
		cause := context.Cause(s.runCtx)
		var abort *domain.AbortError
		if !errors.As(cause, &abort) {
			cause = &domain.AbortError{Reason: cause.Error()}
		}
		return domain.StatusAborted, cause
	case s.failure != nil:
		return domain.StatusFailed, s.failure
	}
	return domain.StatusComplete, nil
}

// bindingError keeps UnresolvedBindingError as is and files every other
// evaluation failure under it too.
func bindingError(nodeID string, err error) error {
	if errors.Is(err, domain.ErrUnresolvedBinding) {
		return err
	}
	return &bindingEvalError{nodeID: nodeID, err: err}
}

type bindingEvalError struct {
	nodeID string
	err    error
}

func (e *bindingEvalError) Error() string { return e.err.Error() }

func (e *bindingEvalError) Unwrap() error { return e.err }

func (e *bindingEvalError) Is(target error) bool { return target == domain.ErrUnresolvedBinding }
