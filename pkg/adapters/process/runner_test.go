package process_test

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/Open-Harness/open-harness-sub011/pkg/adapters/process"
	"github.com/Open-Harness/open-harness-sub011/pkg/registry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func skipWithoutShell(t *testing.T) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("requires sh")
	}
}

func invoke(tool string, input any) *registry.Invocation {
	return &registry.Invocation{NodeID: "run", Type: process.NodeType, Input: input, Config: map[string]any{"tool": tool}}
}

func TestRunner_Run(t *testing.T) {
	skipWithoutShell(t)

	runner := process.NewRunner()
	runner.Register("echo_stdin", "sh", "-c", "cat")
	runner.Register("echo_env", "sh", "-c", "echo $HARNESS_ARG_MSG")
	runner.Register("explode", "sh", "-c", "echo boom >&2; exit 3")
	ctx := context.Background()

	t.Run("Input On Stdin Parses As JSON", func(t *testing.T) {
		out, err := runner.Run(ctx, invoke("echo_stdin", map[string]any{"a": 1.0}))
		require.NoError(t, err)
		assert.Equal(t, map[string]any{"a": 1.0}, out)
	})

	t.Run("Passes Arguments via Env Vars", func(t *testing.T) {
		out, err := runner.Run(ctx, invoke("echo_env", map[string]any{"msg": "SecretMessage"}))
		require.NoError(t, err)
		assert.Equal(t, "SecretMessage", out)
	})

	t.Run("Fails For Unregistered Command", func(t *testing.T) {
		_, err := runner.Run(ctx, invoke("hacker_script", nil))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "not registered")
	})

	t.Run("Non Zero Exit Carries Stderr", func(t *testing.T) {
		_, err := runner.Run(ctx, invoke("explode", nil))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "boom")
	})
}

func TestRunner_Cancellation(t *testing.T) {
	skipWithoutShell(t)

	runner := process.NewRunner()
	runner.Register("sleepy", "sh", "-c", "exec sleep 5")

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := runner.Run(ctx, invoke("sleepy", nil))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestLoadTools(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "tools.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
tools:
  - name: lint
    command: golangci-lint
    args: [run]
  - command: nameless
`), 0o644))

	tools, err := process.LoadTools(path)
	require.NoError(t, err)
	require.Len(t, tools, 1)
	assert.Equal(t, []string{"run"}, tools["lint"].Args)

	runner := process.NewRunner(process.WithTools(tools))
	assert.Equal(t, []string{"lint"}, runner.Tools())

	missing, err := process.LoadTools(filepath.Join(dir, "absent.yaml"))
	require.NoError(t, err)
	assert.Empty(t, missing)
}
