package nodes_test

import (
	"context"
	"testing"
	"time"

	"github.com/Open-Harness/open-harness-sub011/pkg/domain"
	"github.com/Open-Harness/open-harness-sub011/pkg/inbox"
	"github.com/Open-Harness/open-harness-sub011/pkg/nodes"
	"github.com/Open-Harness/open-harness-sub011/pkg/registry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakePrompter struct {
	got      domain.PromptRequest
	response any
}

func (f *fakePrompter) Prompt(_ context.Context, req domain.PromptRequest) (any, error) {
	f.got = req
	return f.response, nil
}

type collector struct {
	events []domain.Payload
}

func (c *collector) Emit(_ context.Context, p domain.Payload, _ ...domain.EventContext) domain.Event {
	c.events = append(c.events, p)
	return domain.Event{Payload: p}
}

func TestRegister(t *testing.T) {
	reg := registry.NewRegistry()
	require.NoError(t, nodes.Register(reg))

	assert.Equal(t, []string{"delay", "echo-agent", "fail", "gate", "loop", "noop", "passthrough"}, reg.Types())

	caps, _ := reg.Capabilities(nodes.TypeEchoAgent)
	assert.True(t, caps.IsAgent)
	assert.True(t, caps.Substitutable())
	caps, _ = reg.Capabilities(nodes.TypeLoop)
	assert.True(t, caps.LoopControl)
}

func TestSimpleNodes(t *testing.T) {
	ctx := context.Background()

	out, err := nodes.Passthrough(ctx, &registry.Invocation{Input: map[string]any{"a": 1}})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"a": 1}, out)

	out, err = nodes.Noop(ctx, &registry.Invocation{Input: "ignored"})
	require.NoError(t, err)
	assert.Nil(t, out)

	_, err = nodes.Fail(ctx, &registry.Invocation{Config: map[string]any{"message": "kaput"}})
	assert.EqualError(t, err, "kaput")

	_, err = nodes.Fail(ctx, &registry.Invocation{Input: "from input"})
	assert.EqualError(t, err, "from input")

	out, err = nodes.Loop(ctx, &registry.Invocation{Iteration: 3})
	require.NoError(t, err)
	assert.Equal(t, 3, out.(map[string]any)["iteration"])
}

func TestDelay(t *testing.T) {
	inv := &registry.Invocation{Input: "x", Config: map[string]any{"duration": "10ms"}}
	out, err := nodes.Delay(context.Background(), inv)
	require.NoError(t, err)
	assert.Equal(t, "x", out)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	inv.Config["duration"] = "1h"
	_, err = nodes.Delay(ctx, inv)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestGate(t *testing.T) {
	p := &fakePrompter{response: "yes"}
	inv := &registry.Invocation{
		NodeID:   "approve",
		Config:   map[string]any{"prompt": "Ship it?", "choices": []any{"yes", "no"}},
		Prompter: p,
	}

	out, err := nodes.Gate(context.Background(), inv)
	require.NoError(t, err)
	assert.Equal(t, "yes", out)
	assert.Equal(t, domain.PromptRequest{NodeID: "approve", Text: "Ship it?", Choices: []string{"yes", "no"}}, p.got)

	inv.Prompter = nil
	_, err = nodes.Gate(context.Background(), inv)
	assert.ErrorIs(t, err, nodes.ErrNoPrompter)
}

func TestEchoAgent(t *testing.T) {
	router := inbox.NewRouter(4)
	stream := router.Open("agent", "hello", 0)
	events := &collector{}

	inv := &registry.Invocation{
		NodeID:       "agent",
		Input:        "hello",
		Config:       map[string]any{"turns": 1, "prefix": "> "},
		InvocationID: stream.ID(),
		Stream:       stream,
		Events:       events,
	}

	require.NoError(t, router.SendToRun(stream.ID(), domain.Message{Content: map[string]any{"text": "again"}}))

	done := make(chan any, 1)
	go func() {
		out, err := nodes.EchoAgent(context.Background(), inv)
		assert.NoError(t, err)
		done <- out
	}()

	select {
	case out := <-done:
		assert.Equal(t, map[string]any{
			"text":       "> again",
			"transcript": []any{"hello", map[string]any{"text": "again"}},
		}, out)
	case <-time.After(time.Second):
		t.Fatal("echo-agent did not finish")
	}

	require.Len(t, events.events, 2)
	assert.Equal(t, "> hello", events.events[0].(*domain.NodeStream).Chunk)
	assert.True(t, stream.Closed())
}
