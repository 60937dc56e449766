// Package process runs allow-listed local commands as flow nodes.
package process

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"sort"
	"strings"
	"time"

	"github.com/Open-Harness/open-harness-sub011/pkg/domain"
	"github.com/Open-Harness/open-harness-sub011/pkg/registry"
)

// NodeType is the node type the runner registers under.
const NodeType = "exec"

// waitDelay bounds how long a killed process may hold its output pipes open.
const waitDelay = 500 * time.Millisecond

// Runner executes local processes for exec nodes.
// Only registered commands can run (allow-listing).
type Runner struct {
	registry map[string]RegisteredProcess
	baseDir  string
}

// RegisteredProcess defines an allowed command execution.
type RegisteredProcess struct {
	Command string
	Args    []string
	Env     map[string]string
}

// RunnerOption configures the runner.
type RunnerOption func(*Runner)

// WithTools populates the allow-list from a loaded config.
func WithTools(tools map[string]ProcessConfig) RunnerOption {
	return func(r *Runner) {
		for name, tool := range tools {
			r.registry[name] = RegisteredProcess{Command: tool.Command, Args: tool.Args, Env: tool.Environment}
		}
	}
}

// WithBaseDir sets the working directory for executed processes.
func WithBaseDir(dir string) RunnerOption {
	return func(r *Runner) {
		r.baseDir = dir
	}
}

// NewRunner creates a new Process Runner.
func NewRunner(opts ...RunnerOption) *Runner {
	r := &Runner{
		registry: make(map[string]RegisteredProcess),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register adds a trusted command to the allow-list.
func (r *Runner) Register(name string, command string, args ...string) {
	r.registry[name] = RegisteredProcess{
		Command: command,
		Args:    args,
	}
}

// Tools lists the allow-listed tool names.
func (r *Runner) Tools() []string {
	names := make([]string, 0, len(r.registry))
	for n := range r.registry {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Definition returns the exec node type. It is long-lived, so replay serves
// it from fixtures instead of spawning the process again.
func (r *Runner) Definition() registry.Definition {
	return registry.Definition{
		Type:         NodeType,
		Capabilities: domain.NodeCapabilities{IsLongLived: true},
		Run:          r.Run,
	}
}

type execConfig struct {
	Tool string `mapstructure:"tool"`
}

// Run executes the tool named in the node config.
//
// The resolved input goes to stdin as JSON, and top-level input fields are
// exported as HARNESS_ARG_<NAME> environment variables. Nothing from the input
// ever reaches the command line. Stdout that parses as JSON becomes the
// output; anything else is returned as trimmed text.
func (r *Runner) Run(ctx context.Context, inv *registry.Invocation) (any, error) {
	var cfg execConfig
	if err := inv.DecodeConfig(&cfg); err != nil {
		return nil, err
	}
	proc, ok := r.registry[cfg.Tool]
	if !ok {
		return nil, fmt.Errorf("process tool not registered: %q", cfg.Tool)
	}

	stdin, err := json.Marshal(inv.Input)
	if err != nil {
		return nil, fmt.Errorf("encode input: %w", err)
	}

	cmd := exec.CommandContext(ctx, proc.Command, proc.Args...)
	cmd.Dir = r.baseDir
	cmd.WaitDelay = waitDelay
	cmd.Stdin = bytes.NewReader(stdin)
	cmd.Env = append(cmd.Environ(), environment(proc.Env, inv.Input)...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return nil, context.Cause(ctx)
		}
		return nil, fmt.Errorf("execution failed: %w: %s", err, strings.TrimSpace(stderr.String()))
	}

	trimmed := strings.TrimSpace(stdout.String())
	if (strings.HasPrefix(trimmed, "{") && strings.HasSuffix(trimmed, "}")) ||
		(strings.HasPrefix(trimmed, "[") && strings.HasSuffix(trimmed, "]")) {
		var out any
		if err := json.Unmarshal([]byte(trimmed), &out); err == nil {
			return out, nil
		}
	}
	return trimmed, nil
}

func environment(static map[string]string, input any) []string {
	var env []string
	for k, v := range static {
		env = append(env, k+"="+v)
	}
	fields, ok := input.(map[string]any)
	if !ok {
		return env
	}
	for k, v := range fields {
		var val string
		switch v.(type) {
		case string, int, int64, float64, bool:
			val = fmt.Sprintf("%v", v)
		case nil:
		default:
			if b, err := json.Marshal(v); err == nil {
				val = string(b)
			} else {
				val = fmt.Sprintf("%v", v)
			}
		}
		env = append(env, fmt.Sprintf("HARNESS_ARG_%s=%s", strings.ToUpper(k), val))
	}
	return env
}
