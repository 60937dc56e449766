package runtime_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Open-Harness/open-harness-sub011/internal/compiler"
	"github.com/Open-Harness/open-harness-sub011/internal/runtime"
	"github.com/Open-Harness/open-harness-sub011/pkg/domain"
	"github.com/Open-Harness/open-harness-sub011/pkg/hub"
	"github.com/Open-Harness/open-harness-sub011/pkg/nodes"
	"github.com/Open-Harness/open-harness-sub011/pkg/registry"
	"github.com/Open-Harness/open-harness-sub011/pkg/session"
)

func newRegistry(t *testing.T) *registry.Registry {
	t.Helper()
	reg := registry.NewRegistry()
	require.NoError(t, nodes.Register(reg))
	return reg
}

type harness struct {
	reg  *registry.Registry
	hub  *hub.Hub
	opts []runtime.Option
}

func newHarness(t *testing.T, opts ...runtime.Option) *harness {
	return &harness{reg: newRegistry(t), hub: hub.New(), opts: opts}
}

func (h *harness) run(t *testing.T, flow *domain.FlowSpec, input any, prompter registry.Prompter) (*domain.RunResult, error) {
	t.Helper()
	plan, err := compiler.Compile(flow, h.reg)
	require.NoError(t, err)
	return runtime.New(h.reg, h.opts...).Execute(context.Background(), runtime.Run{
		ID: "run-1", Plan: plan, Input: input, Hub: h.hub, Prompter: prompter,
	})
}

func names(events []domain.Event) []string {
	out := make([]string, 0, len(events))
	for _, ev := range events {
		n := string(ev.Name())
		switch p := ev.Payload.(type) {
		case *domain.TaskStart:
			n += " " + p.NodeID
		case *domain.TaskComplete:
			n += " " + p.NodeID
		case *domain.TaskFailed:
			n += " " + p.NodeID
		case *domain.TaskSkipped:
			n += " " + p.NodeID
		}
		out = append(out, n)
	}
	return out
}

func skipped(events []domain.Event) map[string]string {
	out := map[string]string{}
	for _, ev := range events {
		if p, ok := ev.Payload.(*domain.TaskSkipped); ok {
			out[p.NodeID] = p.Reason
		}
	}
	return out
}

func failed(events []domain.Event, nodeID string) *domain.TaskFailed {
	for _, ev := range events {
		if p, ok := ev.Payload.(*domain.TaskFailed); ok && p.NodeID == nodeID {
			return p
		}
	}
	return nil
}

func count(events []domain.Event, name domain.EventName, nodeID string) int {
	n := 0
	for _, ev := range events {
		if ev.Name() == name && ev.Context.Task == nodeID {
			n++
		}
	}
	return n
}

func TestExecute_Sequence(t *testing.T) {
	h := newHarness(t)
	flow := &domain.FlowSpec{
		Name: "seq",
		Nodes: []domain.NodeSpec{
			{ID: "a", Type: nodes.TypePassthrough, Input: map[string]any{"greeting": "hi ${input.name}"}},
			{ID: "b", Type: nodes.TypePassthrough, Input: "${upper(a.greeting)}"},
		},
		Edges: []domain.Edge{{From: "a", To: "b"}},
	}

	res, err := h.run(t, flow, map[string]any{"name": "ana"}, nil)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusComplete, res.Status)
	assert.Equal(t, "HI ANA", res.Outputs["b"])

	assert.Equal(t, []string{
		"run:start", "phase:start",
		"task:start a", "task:complete a",
		"task:start b", "task:complete b",
		"phase:complete", "run:complete",
	}, names(res.Events))

	for i, ev := range res.Events {
		assert.Equal(t, uint64(i+1), ev.Seq)
	}
	start := res.Events[2]
	assert.Equal(t, domain.EventContext{Phase: runtime.PhaseMain, Task: "a"}, start.Context)
}

func TestExecute_Conditions(t *testing.T) {
	t.Run("node condition false skips it and its dependents", func(t *testing.T) {
		h := newHarness(t)
		flow := &domain.FlowSpec{
			Name: "cond",
			Nodes: []domain.NodeSpec{
				{ID: "a", Type: nodes.TypeNoop, When: "input.enabled"},
				{ID: "b", Type: nodes.TypeNoop},
			},
			Edges: []domain.Edge{{From: "a", To: "b"}},
		}
		res, err := h.run(t, flow, map[string]any{"enabled": false}, nil)
		require.NoError(t, err)
		assert.Equal(t, domain.StatusComplete, res.Status)
		assert.Equal(t, map[string]string{"a": "condition is false", "b": "no incoming edge fired"}, skipped(res.Events))
	})

	t.Run("edge condition picks a branch", func(t *testing.T) {
		h := newHarness(t)
		flow := &domain.FlowSpec{
			Name: "branch",
			Nodes: []domain.NodeSpec{
				{ID: "route", Type: nodes.TypePassthrough, Input: "${input.kind}"},
				{ID: "left", Type: nodes.TypeNoop},
				{ID: "right", Type: nodes.TypeNoop},
			},
			Edges: []domain.Edge{
				{From: "route", To: "left", When: `route == "left"`},
				{From: "route", To: "right", When: `route == "right"`},
			},
		}
		res, err := h.run(t, flow, map[string]any{"kind": "right"}, nil)
		require.NoError(t, err)
		assert.Equal(t, map[string]string{"left": "no incoming edge fired"}, skipped(res.Events))
		assert.Equal(t, 1, count(res.Events, domain.EventTaskComplete, "right"))
	})
}

func TestExecute_ErrorPolicies(t *testing.T) {
	t.Run("fail fast", func(t *testing.T) {
		h := newHarness(t)
		flow := &domain.FlowSpec{
			Name: "ff",
			Nodes: []domain.NodeSpec{
				{ID: "boom", Type: nodes.TypeFail, Config: map[string]any{"message": "kaput"}},
				{ID: "after", Type: nodes.TypeNoop},
			},
			Edges: []domain.Edge{{From: "boom", To: "after"}},
		}
		res, err := h.run(t, flow, nil, nil)
		require.NoError(t, err, "a node failure is reported in the result")
		assert.Equal(t, domain.StatusFailed, res.Status)
		assert.ErrorIs(t, res.Error, domain.ErrNodeExecution)

		f := failed(res.Events, "boom")
		require.NotNil(t, f)
		assert.Equal(t, domain.FailureExecution, f.Kind)
		assert.Contains(t, f.Error, "kaput")
		assert.Equal(t, map[string]string{"after": "run failed"}, skipped(res.Events))

		last := res.Events[len(res.Events)-1].Payload.(*domain.RunComplete)
		assert.Equal(t, domain.StatusFailed, last.Status)
		assert.NotEmpty(t, last.Error)
	})

	t.Run("continue on error passes a marker", func(t *testing.T) {
		h := newHarness(t)
		flow := &domain.FlowSpec{
			Name: "coe",
			Nodes: []domain.NodeSpec{
				{ID: "boom", Type: nodes.TypeFail, Config: map[string]any{"message": "kaput"},
					Policy: domain.Policy{OnError: domain.ContinueOnError}},
				{ID: "after", Type: nodes.TypePassthrough, Input: "${boom.kind}"},
			},
			Edges: []domain.Edge{{From: "boom", To: "after"}},
		}
		res, err := h.run(t, flow, nil, nil)
		require.NoError(t, err)
		assert.Equal(t, domain.StatusComplete, res.Status)
		assert.Equal(t, "execution", res.Outputs["after"])
		marker := res.Outputs["boom"].(map[string]any)
		assert.Contains(t, marker["error"], "kaput")
	})

	t.Run("panic is an execution failure", func(t *testing.T) {
		h := newHarness(t)
		require.NoError(t, h.reg.RegisterFunc("panics", func(context.Context, *registry.Invocation) (any, error) {
			panic("oh no")
		}))
		res, err := h.run(t, &domain.FlowSpec{Name: "p", Nodes: []domain.NodeSpec{{ID: "x", Type: "panics"}}}, nil, nil)
		require.NoError(t, err)
		assert.Equal(t, domain.StatusFailed, res.Status)
		f := failed(res.Events, "x")
		require.NotNil(t, f)
		assert.Contains(t, f.Error, "oh no")
	})
}

func TestExecute_Merge(t *testing.T) {
	flow := func(mode domain.MergeMode) *domain.FlowSpec {
		return &domain.FlowSpec{
			Name: "merge",
			Nodes: []domain.NodeSpec{
				{ID: "a", Type: nodes.TypeNoop},
				{ID: "b", Type: nodes.TypeNoop, When: "false"},
				{ID: "c", Type: nodes.TypeNoop},
				{ID: "join", Type: nodes.TypeNoop, Merge: &domain.MergePolicy{Mode: mode}},
			},
			Edges: []domain.Edge{
				{From: "a", To: "join"},
				{From: "b", To: "join"},
				{From: "c", To: "join"},
			},
		}
	}

	for _, mode := range []domain.MergeMode{domain.MergeAll, domain.MergeAny} {
		t.Run(string(mode), func(t *testing.T) {
			h := newHarness(t)
			res, err := h.run(t, flow(mode), nil, nil)
			require.NoError(t, err)
			assert.Equal(t, 1, count(res.Events, domain.EventTaskComplete, "join"), "join runs exactly once")
			assert.Equal(t, map[string]string{"b": "condition is false"}, skipped(res.Events))
		})
	}

	t.Run("all waits for every incoming edge", func(t *testing.T) {
		h := newHarness(t)
		res, err := h.run(t, flow(domain.MergeAll), nil, nil)
		require.NoError(t, err)
		assert.Equal(t, []string{
			"run:start", "phase:start",
			"task:start a", "task:complete a",
			"task:skipped b",
			"task:start c", "task:complete c",
			"task:start join", "task:complete join",
			"phase:complete", "run:complete",
		}, names(res.Events))
	})
}

func TestExecute_Timeout(t *testing.T) {
	h := newHarness(t)
	flow := &domain.FlowSpec{
		Name: "slow",
		Nodes: []domain.NodeSpec{{
			ID: "wait", Type: nodes.TypeDelay,
			Config: map[string]any{"duration": "5s"},
			Policy: domain.Policy{Timeout: 20 * time.Millisecond},
		}},
	}
	res, err := h.run(t, flow, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusFailed, res.Status)
	assert.ErrorIs(t, res.Error, domain.ErrTimeout)
	assert.Equal(t, domain.FailureTimeout, failed(res.Events, "wait").Kind)
}

func TestExecute_Abort(t *testing.T) {
	h := newHarness(t)
	h.hub.Subscribe(func(ev domain.Event) {
		if ev.Context.Task == "wait" {
			go h.hub.Abort("operator")
		}
	}, string(domain.EventTaskStart))

	flow := &domain.FlowSpec{
		Name: "abort",
		Nodes: []domain.NodeSpec{
			{ID: "wait", Type: nodes.TypeDelay, Config: map[string]any{"duration": "5s"}},
			{ID: "after", Type: nodes.TypeNoop},
		},
		Edges: []domain.Edge{{From: "wait", To: "after"}},
	}
	res, err := h.run(t, flow, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusAborted, res.Status)

	var abort *domain.AbortError
	require.ErrorAs(t, res.Error, &abort)
	assert.Equal(t, "operator", abort.Reason)

	assert.Equal(t, domain.FailureAborted, failed(res.Events, "wait").Kind)
	assert.Equal(t, map[string]string{"after": "run aborted"}, skipped(res.Events))
	assert.Equal(t, domain.EventRunComplete, res.Events[len(res.Events)-1].Name())
	assert.Equal(t, domain.HubError, h.hub.Status())
}

func TestExecute_BindingErrorIsFatal(t *testing.T) {
	h := newHarness(t)
	flow := &domain.FlowSpec{
		Name: "bind",
		Nodes: []domain.NodeSpec{
			{ID: "a", Type: nodes.TypePassthrough, Input: map[string]any{"x": 1}, Policy: domain.Policy{OnError: domain.ContinueOnError}},
			{ID: "b", Type: nodes.TypePassthrough, Input: "${a.missing}", Policy: domain.Policy{OnError: domain.ContinueOnError}},
			{ID: "c", Type: nodes.TypeNoop},
		},
		Edges: []domain.Edge{{From: "a", To: "b"}, {From: "b", To: "c"}},
	}
	res, err := h.run(t, flow, nil, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrUnresolvedBinding)
	assert.Equal(t, domain.StatusFailed, res.Status)
	assert.Equal(t, domain.FailureBinding, failed(res.Events, "b").Kind, "continueOnError does not cover binding errors")
	assert.Equal(t, map[string]string{"c": "run failed"}, skipped(res.Events))
}

func TestExecute_InvalidInput(t *testing.T) {
	h := newHarness(t)
	res, err := h.run(t, &domain.FlowSpec{Name: "x", Nodes: []domain.NodeSpec{{ID: "a", Type: nodes.TypeNoop}}}, map[string]any{"f": func() {}}, nil)
	assert.Nil(t, res)
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
	assert.Empty(t, h.hub.History(), "no event precedes input validation")
}

func TestExecute_AgentMailbox(t *testing.T) {
	h := newHarness(t)
	h.hub.Subscribe(func(ev domain.Event) {
		start := ev.Payload.(*domain.AgentStart)
		go h.hub.SendToRun(start.InvocationID, domain.Message{Content: "second"})
	}, string(domain.EventAgentStart))

	flow := &domain.FlowSpec{
		Name:  "agent",
		Nodes: []domain.NodeSpec{{ID: "chat", Type: nodes.TypeEchoAgent, Input: "first", Config: map[string]any{"turns": 1}}},
	}
	res, err := h.run(t, flow, nil, nil)
	require.NoError(t, err)
	require.Equal(t, domain.StatusComplete, res.Status)
	assert.Equal(t, map[string]any{"text": "second", "transcript": []any{"first", "second"}}, res.Outputs["chat"])

	assert.Equal(t, []string{
		"run:start", "phase:start",
		"task:start chat", "agent:start", "node:stream", "agent:message", "node:stream", "agent:complete", "task:complete chat",
		"phase:complete", "run:complete",
	}, names(res.Events))
	assert.Equal(t, "chat#1", res.Events[3].Context.Agent)
}

func TestExecute_GatePrompt(t *testing.T) {
	h := newHarness(t)
	ctrl := session.NewController(h.hub)
	h.hub.BindPrompts(ctrl)
	h.hub.Subscribe(func(ev domain.Event) {
		p := ev.Payload.(*domain.SessionPrompt)
		go h.hub.Reply(p.PromptID, "yes")
	}, string(domain.EventSessionPrompt))

	flow := &domain.FlowSpec{
		Name: "gate",
		Nodes: []domain.NodeSpec{
			{ID: "ask", Type: nodes.TypeGate, Config: map[string]any{"prompt": "Ship it?", "choices": []any{"yes", "no"}}},
			{ID: "ship", Type: nodes.TypeNoop, When: `ask == "yes"`},
		},
		Edges: []domain.Edge{{From: "ask", To: "ship"}},
	}
	res, err := h.run(t, flow, nil, ctrl)
	require.NoError(t, err)
	assert.Equal(t, "yes", res.Outputs["ask"])
	assert.Equal(t, 1, count(res.Events, domain.EventTaskComplete, "ship"))
	assert.Equal(t, 1, count(res.Events, domain.EventSessionPrompt, "ask"))
	assert.Equal(t, 1, count(res.Events, domain.EventSessionReply, "ask"))
}

func TestExecute_ObserversCannotMutateOutputs(t *testing.T) {
	h := newHarness(t)
	h.hub.Subscribe(func(ev domain.Event) {
		switch p := ev.Payload.(type) {
		case *domain.TaskComplete:
			if out, ok := p.Output.(map[string]any); ok {
				out["x"] = "tampered"
			}
		case *domain.RunComplete:
			p.Outputs["a"] = "tampered"
		}
	}, string(domain.EventTaskComplete), string(domain.EventRunComplete))

	flow := &domain.FlowSpec{
		Name: "isolated",
		Nodes: []domain.NodeSpec{
			{ID: "a", Type: nodes.TypePassthrough, Input: map[string]any{"x": "orig"}},
			{ID: "b", Type: nodes.TypePassthrough, Input: "${a.x}"},
		},
		Edges: []domain.Edge{{From: "a", To: "b"}},
	}
	res, err := h.run(t, flow, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, "orig", res.Outputs["b"])
	assert.Equal(t, map[string]any{"x": "orig"}, res.Outputs["a"])
}

func TestExecute_AbandonedPromptResumesStatus(t *testing.T) {
	h := newHarness(t)
	ctrl := session.NewController(h.hub)
	h.hub.BindPrompts(ctrl)

	statuses := make(chan domain.HubStatus, 1)
	h.hub.Subscribe(func(ev domain.Event) {
		if ev.Context.Task == "d" {
			go func() { statuses <- h.hub.Status() }()
		}
	}, string(domain.EventTaskStart))

	flow := &domain.FlowSpec{
		Name: "abandoned",
		Nodes: []domain.NodeSpec{
			{ID: "g", Type: nodes.TypeGate, Config: map[string]any{"prompt": "Anyone?"},
				Policy: domain.Policy{OnError: domain.ContinueOnError, Timeout: 20 * time.Millisecond}},
			{ID: "d", Type: nodes.TypeDelay, Config: map[string]any{"duration": "300ms"}},
		},
		Edges: []domain.Edge{{From: "g", To: "d"}},
	}
	res, err := h.run(t, flow, nil, ctrl)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusComplete, res.Status)
	assert.Equal(t, domain.FailureTimeout, failed(res.Events, "g").Kind)

	select {
	case st := <-statuses:
		assert.Equal(t, domain.HubRunning, st)
	case <-time.After(time.Second):
		t.Fatal("d never started")
	}

	var reply *domain.SessionReply
	for _, ev := range res.Events {
		if p, ok := ev.Payload.(*domain.SessionReply); ok {
			reply = p
		}
	}
	require.NotNil(t, reply)
	assert.True(t, reply.Cancelled)
}

func loopFlow(maxTurns int, again string) *domain.FlowSpec {
	return &domain.FlowSpec{
		Name: "loop",
		Nodes: []domain.NodeSpec{
			{ID: "start", Type: nodes.TypeNoop},
			{ID: "work", Type: nodes.TypePassthrough, Input: "${input.step}"},
			{ID: "check", Type: nodes.TypeLoop, Policy: domain.Policy{MaxTurns: maxTurns}},
			{ID: "done", Type: nodes.TypePassthrough, Input: "${check.iteration}"},
		},
		Edges: []domain.Edge{
			{From: "start", To: "work"},
			{From: "work", To: "check"},
			{From: "check", To: "work", When: again},
			{From: "check", To: "done"},
		},
	}
}

func TestExecute_Loop(t *testing.T) {
	t.Run("back edge repeats the body", func(t *testing.T) {
		h := newHarness(t)
		res, err := h.run(t, loopFlow(0, "check.iteration < 3"), map[string]any{"step": "go"}, nil)
		require.NoError(t, err)
		assert.Equal(t, domain.StatusComplete, res.Status)
		assert.Equal(t, 3, count(res.Events, domain.EventTaskStart, "work"))
		assert.Equal(t, 3, count(res.Events, domain.EventTaskComplete, "check"))
		assert.Equal(t, 1, count(res.Events, domain.EventTaskComplete, "done"))
		assert.Equal(t, float64(3), res.Outputs["done"])
	})

	t.Run("iteration limit ends the loop", func(t *testing.T) {
		h := newHarness(t)
		res, err := h.run(t, loopFlow(2, "true"), nil, nil)
		require.NoError(t, err)
		assert.Equal(t, 3, count(res.Events, domain.EventTaskComplete, "check"))
		assert.Equal(t, float64(3), res.Outputs["done"])

		var limited bool
		for _, ev := range res.Events {
			if d, ok := ev.Payload.(*domain.Diagnostic); ok && d.Message == "loop limit reached" {
				limited = true
			}
		}
		assert.True(t, limited)
	})
}

func TestExecute_Concurrency(t *testing.T) {
	h := newHarness(t, runtime.WithMaxConcurrency(2))

	var wg sync.WaitGroup
	wg.Add(2)
	require.NoError(t, h.reg.RegisterFunc("rendezvous", func(ctx context.Context, inv *registry.Invocation) (any, error) {
		wg.Done()
		done := make(chan struct{})
		go func() { wg.Wait(); close(done) }()
		select {
		case <-done:
			return inv.NodeID, nil
		case <-time.After(2 * time.Second):
			return nil, errors.New("sibling never started")
		}
	}))

	flow := &domain.FlowSpec{
		Name: "par",
		Nodes: []domain.NodeSpec{
			{ID: "left", Type: "rendezvous"},
			{ID: "right", Type: "rendezvous"},
			{ID: "join", Type: nodes.TypeNoop},
		},
		Edges: []domain.Edge{{From: "left", To: "join"}, {From: "right", To: "join"}},
	}
	res, err := h.run(t, flow, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusComplete, res.Status, "both branches run at once")
	assert.Equal(t, "left", res.Outputs["left"])
	assert.Equal(t, "right", res.Outputs["right"])
}
