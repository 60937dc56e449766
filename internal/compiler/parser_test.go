package compiler_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/Open-Harness/open-harness-sub011/internal/compiler"
	"github.com/Open-Harness/open-harness-sub011/pkg/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const reviewFlow = `
name: review
inputs:
  topic: string
nodes:
  - id: draft
    type: echo-agent
    input: "Write about ${input.topic}"
    policy:
      timeout: 30s
      maxTurns: 3
  - id: approve
    type: gate
    config:
      prompt: Ship it?
      choices: [yes, no]
  - id: publish
    type: noop
    input:
      text: "${draft.text}"
    merge:
      mode: any
    policy:
      onError: continueOnError
edges:
  - from: draft
    to: approve
  - from: approve
    to: publish
    when: approve == "yes"
`

func TestParser_Parse(t *testing.T) {
	spec, err := compiler.NewParser().Parse([]byte(reviewFlow))
	require.NoError(t, err)

	assert.Equal(t, "review", spec.Name)
	assert.Equal(t, map[string]string{"topic": "string"}, spec.Inputs)
	require.Len(t, spec.Nodes, 3)

	draft := spec.Nodes[0]
	assert.Equal(t, "Write about ${input.topic}", draft.Input)
	assert.Equal(t, 30*time.Second, draft.Policy.Timeout)
	assert.Equal(t, 3, draft.Policy.MaxTurns)

	assert.Equal(t, "Ship it?", spec.Nodes[1].Config["prompt"])

	publish := spec.Nodes[2]
	assert.Equal(t, domain.ContinueOnError, publish.Policy.OnError)
	require.NotNil(t, publish.Merge)
	assert.Equal(t, domain.MergeAny, publish.Merge.Mode)
	assert.Equal(t, map[string]any{"text": "${draft.text}"}, publish.Input)

	require.Len(t, spec.Edges, 2)
	assert.Equal(t, `approve == "yes"`, spec.Edges[1].When)
}

func TestParser_Errors(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"Empty", ""},
		{"Unknown Field", "name: x\nnodes:\n  - id: a\n    type: noop\n    retries: 3\n"},
		{"Missing Id", "nodes:\n  - type: noop\n"},
		{"Missing Type", "nodes:\n  - id: a\n"},
		{"Malformed", "nodes: [\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := compiler.NewParser().Parse([]byte(tt.yaml))
			assert.ErrorIs(t, err, domain.ErrCompile)
		})
	}
}

func TestParser_ParseFileDefaultsName(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "hello.yaml")
	require.NoError(t, os.WriteFile(path, []byte("nodes:\n  - id: a\n    type: noop\n"), 0o644))

	spec, err := compiler.NewParser().ParseFile(path)
	require.NoError(t, err)
	assert.Equal(t, "hello", spec.Name)
}
