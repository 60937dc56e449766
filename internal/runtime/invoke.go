package runtime

import (
	"context"
	"errors"
	"fmt"

	"github.com/Open-Harness/open-harness-sub011/internal/compiler"
	"github.com/Open-Harness/open-harness-sub011/pkg/domain"
	"github.com/Open-Harness/open-harness-sub011/pkg/hub"
	"github.com/Open-Harness/open-harness-sub011/pkg/registry"
)

type execution struct {
	node      *compiler.PlannedNode
	input     any
	iteration int
	call      Call
}

// invoke runs one node execution on its own goroutine and returns the
// normalized output or a classified error.
func (s *scheduler) invoke(ctx context.Context, x execution) (any, error) {
	caps := x.node.Capabilities
	intercept := s.req.Interceptor != nil && caps.Substitutable()

	if intercept {
		out, handled, err := s.req.Interceptor.Substitute(ctx, x.call)
		if err != nil {
			return nil, err
		}
		if handled {
			return out.Output, out.Err
		}
	}

	out, err := s.execute(ctx, x)
	if err == nil {
		out, err = domain.Normalize(out)
		if err != nil {
			err = &domain.NodeExecutionError{NodeID: x.node.ID(), Err: err}
		}
	}
	if intercept {
		s.req.Interceptor.Capture(x.call, Outcome{Output: out, Err: err})
	}
	return out, err
}

type result struct {
	output any
	err    error
}

// execute calls the node definition, bounded by the node timeout and the
// run context. A node that ignores cancellation is abandoned.
func (s *scheduler) execute(ctx context.Context, x execution) (any, error) {
	n := x.node
	id := n.ID()
	nodeCtx, cancel := context.WithCancel(ctx)
	if timeout := n.Spec.Policy.Timeout; timeout > 0 {
		cancel()
		nodeCtx, cancel = context.WithTimeoutCause(ctx, timeout, &domain.TimeoutError{NodeID: id, Timeout: timeout})
	}
	defer cancel()

	inv := &registry.Invocation{
		NodeID:    id,
		Type:      n.Spec.Type,
		Input:     x.input,
		Config:    n.Spec.Config,
		Iteration: x.iteration,
		Events:    s.hub,
		Prompter:  s.req.Prompter,
	}

	caps := n.Capabilities
	if caps.IsAgent || caps.SupportsInbox {
		stream := s.req.Router.Open(id, x.input, n.Spec.Policy.MaxTurns)
		inv.InvocationID = stream.ID()
		inv.Stream = stream
		nodeCtx = hub.Scoped(nodeCtx, domain.EventContext{Agent: stream.ID()})

		agentCtx := nodeCtx
		s.hub.Emit(agentCtx, &domain.AgentStart{NodeID: id, InvocationID: stream.ID()})
		stream.OnTurn(func(msg domain.Message) {
			s.hub.Emit(agentCtx, &domain.AgentMessage{InvocationID: stream.ID(), Content: msg.Content})
		})
		defer func() {
			stream.Close()
			s.req.Router.Release(stream.ID())
			s.hub.Emit(agentCtx, &domain.AgentComplete{InvocationID: stream.ID(), Turns: stream.Turns()})
		}()
	}

	done := make(chan result, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- result{err: fmt.Errorf("panic: %v", r)}
			}
		}()
		out, err := s.e.registry.Execute(nodeCtx, inv)
		done <- result{output: out, err: err}
	}()

	var res result
	select {
	case res = <-done:
	case <-nodeCtx.Done():
		select {
		case res = <-done:
		default:
			res = result{err: context.Cause(nodeCtx)}
		}
	}
	if res.err == nil {
		return res.output, nil
	}
	return nil, classify(id, nodeCtx, res.err)
}

// classify maps a node error onto the error taxonomy.
func classify(nodeID string, nodeCtx context.Context, err error) error {
	if nodeCtx.Err() != nil {
		cause := context.Cause(nodeCtx)
		var timeout *domain.TimeoutError
		var abort *domain.AbortError
		switch {
		case errors.As(cause, &timeout):
			return timeout
		case errors.As(cause, &abort):
			return abort
		default:
			return &domain.AbortError{Reason: cause.Error()}
		}
	}
	switch {
	case errors.Is(err, domain.ErrTimeout),
		errors.Is(err, domain.ErrAborted),
		errors.Is(err, domain.ErrNodeExecution):
		return err
	}
	return &domain.NodeExecutionError{NodeID: nodeID, Err: err}
}
