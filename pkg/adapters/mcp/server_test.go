package mcp_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	harness "github.com/Open-Harness/open-harness-sub011"
	mcpadapter "github.com/Open-Harness/open-harness-sub011/pkg/adapters/mcp"
	"github.com/Open-Harness/open-harness-sub011/pkg/dsl"
	"github.com/Open-Harness/open-harness-sub011/pkg/nodes"
	"github.com/Open-Harness/open-harness-sub011/pkg/runner"
)

type client struct {
	t      *testing.T
	server *mcpadapter.Server
	nextID int
}

func newClient(t *testing.T) *client {
	t.Helper()

	approve := dsl.New("approve")
	approve.Add("ask").Type(nodes.TypeGate).Config("prompt", "Ship it?").Config("choices", []any{"yes", "no"}).Go("ship")
	approve.Add("ship").Type(nodes.TypePassthrough).Input("${ask}")
	loader, err := approve.Build()
	require.NoError(t, err)

	eng, err := harness.New(harness.WithLoader(loader))
	require.NoError(t, err)
	m := runner.NewManager(eng)
	t.Cleanup(func() { _ = m.Close(context.Background()) })

	c := &client{t: t, server: mcpadapter.NewServer(m)}
	c.rpc("initialize", map[string]any{
		"protocolVersion": "2024-11-05",
		"capabilities":    map[string]any{},
		"clientInfo":      map[string]any{"name": "test", "version": "0"},
	})
	return c
}

// rpc sends one JSON-RPC request and returns the marshaled response.
func (c *client) rpc(method string, params any) gjson.Result {
	c.t.Helper()
	c.nextID++
	req, err := json.Marshal(map[string]any{"jsonrpc": "2.0", "id": c.nextID, "method": method, "params": params})
	require.NoError(c.t, err)

	resp := c.server.MCPServer().HandleMessage(context.Background(), req)
	require.NotNil(c.t, resp)
	data, err := json.Marshal(resp)
	require.NoError(c.t, err)
	return gjson.ParseBytes(data)
}

// call invokes a tool and returns the JSON it produced, or the error text.
func (c *client) call(tool string, args map[string]any) (gjson.Result, bool) {
	c.t.Helper()
	res := c.rpc("tools/call", map[string]any{"name": tool, "arguments": args})
	require.False(c.t, res.Get("error").Exists(), res.Raw)
	text := res.Get("result.content.0.text").String()
	if res.Get("result.isError").Bool() {
		return gjson.Result{Type: gjson.String, Str: text}, false
	}
	return gjson.Parse(text), true
}

func TestServer_ListsTools(t *testing.T) {
	c := newClient(t)
	res := c.rpc("tools/list", map[string]any{})

	var names []string
	for _, tool := range res.Get("result.tools").Array() {
		names = append(names, tool.Get("name").String())
	}
	assert.ElementsMatch(t, []string{
		"list_flows", "start_run", "get_run", "list_runs", "reply", "send_message", "abort_run", "get_graph",
	}, names)
}

func TestServer_ApprovalRun(t *testing.T) {
	c := newClient(t)

	flows, ok := c.call("list_flows", nil)
	require.True(t, ok, flows.String())
	assert.Equal(t, `["approve"]`, flows.Get("flows").Raw)

	started, ok := c.call("start_run", map[string]any{"flow": "approve", "run_id": "m1"})
	require.True(t, ok, started.String())
	assert.Equal(t, "m1", started.Get("runId").String())

	var promptID string
	require.Eventually(t, func() bool {
		view, ok := c.call("get_run", map[string]any{"run_id": "m1"})
		promptID = view.Get("prompt.promptId").String()
		return ok && promptID != ""
	}, 2*time.Second, 5*time.Millisecond)

	_, ok = c.call("reply", map[string]any{"run_id": "m1", "prompt_id": promptID, "response": "yes"})
	require.True(t, ok)

	require.Eventually(t, func() bool {
		view, _ := c.call("get_run", map[string]any{"run_id": "m1"})
		return view.Get("status").String() == "complete" && view.Get("outputs.ship").String() == "yes"
	}, 2*time.Second, 5*time.Millisecond)

	graph, ok := c.call("get_graph", map[string]any{"flow": "approve", "run_id": "m1"})
	require.True(t, ok, graph.String())
	assert.Contains(t, graph.Get("mermaid").String(), "class ship complete;")

	require.Eventually(t, func() bool {
		list, _ := c.call("list_runs", map[string]any{"status": "complete"})
		return list.Get("recorded.#").Int() == 1 && list.Get("recorded.0.runId").String() == "m1"
	}, time.Second, 5*time.Millisecond)
}

func TestServer_AbortRun(t *testing.T) {
	c := newClient(t)

	_, ok := c.call("start_run", map[string]any{"flow": "approve", "run_id": "m2"})
	require.True(t, ok)

	view, ok := c.call("abort_run", map[string]any{"run_id": "m2"})
	require.True(t, ok, view.String())
	assert.Equal(t, "aborted", view.Get("status").String())
}

func TestServer_ToolErrors(t *testing.T) {
	c := newClient(t)

	tests := []struct {
		name string
		tool string
		args map[string]any
		want string
	}{
		{"missing flow", "start_run", map[string]any{}, "missing argument: flow"},
		{"bad input", "start_run", map[string]any{"flow": "approve", "input": "{"}, "input is not JSON"},
		{"unknown flow", "start_run", map[string]any{"flow": "nope"}, "not found"},
		{"unknown run", "get_run", map[string]any{"run_id": "missing"}, "not found"},
		{"reply to unknown run", "reply", map[string]any{"run_id": "missing", "prompt_id": "p"}, "reply rejected"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, ok := c.call(tt.tool, tt.args)
			require.False(t, ok)
			assert.Contains(t, res.String(), tt.want)
		})
	}
}

func TestServer_FlowsResource(t *testing.T) {
	c := newClient(t)
	res := c.rpc("resources/read", map[string]any{"uri": "harness://flows"})
	text := res.Get("result.contents.0.text").String()
	assert.JSONEq(t, `{"flows":["approve"]}`, text)
}
