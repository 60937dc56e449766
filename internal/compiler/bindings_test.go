package compiler_test

import (
	"testing"

	"github.com/Open-Harness/open-harness-sub011/internal/compiler"
	"github.com/Open-Harness/open-harness-sub011/pkg/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func compileNode(t *testing.T, spec domain.NodeSpec, others ...string) *compiler.PlannedNode {
	t.Helper()
	f := flow(others)
	spec.Type = "noop"
	f.Nodes = append(f.Nodes, spec)
	plan, err := compiler.Compile(f, testRegistry(t))
	require.NoError(t, err)
	n, ok := plan.Node(spec.ID)
	require.True(t, ok)
	return n
}

func TestTemplate_Resolve(t *testing.T) {
	scope := compiler.Scope{
		Input: map[string]any{"name": "Ada", "n": 2},
		Outputs: map[string]any{
			"fetch": map[string]any{"text": "hello", "items": []any{"x", "y"}, "score": 4.0},
		},
	}

	tests := []struct {
		name  string
		input any
		want  any
	}{
		{"literal string", "plain", "plain"},
		{"literal scalar", 42, 42},
		{"single interpolation keeps type", "${fetch.score}", 4.0},
		{"single interpolation of object", "${fetch.items}", []any{"x", "y"}},
		{"mixed template is a string", "Hello ${input.name}, ${fetch.text}!", "Hello Ada, hello!"},
		{"number in template", "n=${input.n}", "n=2"},
		{"nested map", map[string]any{"msg": "${upper(fetch.text)}", "keep": true}, map[string]any{"msg": "HELLO", "keep": true}},
		{"list", []any{"${input.name}", 1}, []any{"Ada", 1}},
		{"function", "${length(fetch.items)}", 2.0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			n := compileNode(t, domain.NodeSpec{ID: "node", Input: tt.input}, "fetch")
			got, err := n.Input.Resolve("node", scope)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestTemplate_UnresolvedBinding(t *testing.T) {
	n := compileNode(t, domain.NodeSpec{ID: "b", Input: "${a.text}"}, "a")

	t.Run("Unexecuted Node", func(t *testing.T) {
		_, err := n.Input.Resolve("b", compiler.Scope{})
		var unresolved *domain.UnresolvedBindingError
		require.ErrorAs(t, err, &unresolved)
		assert.Equal(t, "b", unresolved.NodeID)
		assert.Equal(t, "a.text", unresolved.Reference)
		assert.ErrorIs(t, err, domain.ErrUnresolvedBinding)
	})

	t.Run("Missing Field", func(t *testing.T) {
		_, err := n.Input.Resolve("b", compiler.Scope{Outputs: map[string]any{"a": map[string]any{"other": 1}}})
		assert.ErrorIs(t, err, domain.ErrUnresolvedBinding)
	})

	t.Run("Nil Output", func(t *testing.T) {
		_, err := n.Input.Resolve("b", compiler.Scope{Outputs: map[string]any{"a": nil}})
		assert.ErrorIs(t, err, domain.ErrUnresolvedBinding)
	})
}

func TestCondition_Holds(t *testing.T) {
	scope := compiler.Scope{
		Input:   map[string]any{"enabled": true, "flag": "true"},
		Outputs: map[string]any{"a": map[string]any{"score": 5.0}},
	}

	tests := []struct {
		when string
		want bool
	}{
		{"", true},
		{"false", false},
		{"a.score > 3 && input.enabled", true},
		{"a.score > 10", false},
		{`input.flag`, true},
		{`contains(keys(a), "score")`, true},
	}
	for _, tt := range tests {
		t.Run(tt.when, func(t *testing.T) {
			n := compileNode(t, domain.NodeSpec{ID: "c", When: tt.when}, "a")
			got, err := n.When.Holds("c", scope)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestCondition_NotBool(t *testing.T) {
	n := compileNode(t, domain.NodeSpec{ID: "c", When: "input.items"})
	_, err := n.When.Holds("c", compiler.Scope{Input: map[string]any{"items": []any{1}}})
	assert.Error(t, err)
}

func TestTemplate_References(t *testing.T) {
	n := compileNode(t, domain.NodeSpec{ID: "c", Input: map[string]any{
		"x": "${b.v} ${a.v}",
		"y": []any{"${input.q}"},
	}}, "a", "b")
	assert.Equal(t, []string{"a", "b", "input"}, n.Input.References())
}
