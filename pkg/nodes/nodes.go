// Package nodes provides the built-in node types.
package nodes

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Open-Harness/open-harness-sub011/pkg/domain"
	"github.com/Open-Harness/open-harness-sub011/pkg/registry"
)

// Built-in node type names.
const (
	TypeNoop        = "noop"
	TypePassthrough = "passthrough"
	TypeDelay       = "delay"
	TypeFail        = "fail"
	TypeGate        = "gate"
	TypeEchoAgent   = "echo-agent"
	TypeLoop        = "loop"
)

// ErrNoPrompter is returned by gate nodes run without a session controller.
var ErrNoPrompter = errors.New("gate node requires a prompter")

// Definitions returns every built-in node type.
func Definitions() []registry.Definition {
	return []registry.Definition{
		{Type: TypeNoop, Run: Noop},
		{Type: TypePassthrough, Run: Passthrough},
		{Type: TypeDelay, Run: Delay, Capabilities: domain.NodeCapabilities{IsLongLived: true}},
		{Type: TypeFail, Run: Fail},
		{Type: TypeGate, Run: Gate},
		{Type: TypeEchoAgent, Run: EchoAgent, Capabilities: domain.NodeCapabilities{
			IsAgent: true, IsStreaming: true, SupportsInbox: true,
		}},
		{Type: TypeLoop, Run: Loop, Capabilities: domain.NodeCapabilities{LoopControl: true}},
	}
}

// Register adds every built-in node type to reg.
func Register(reg *registry.Registry) error {
	for _, def := range Definitions() {
		if err := reg.Register(def); err != nil {
			return err
		}
	}
	return nil
}

// Noop does nothing and outputs nothing.
func Noop(context.Context, *registry.Invocation) (any, error) {
	return nil, nil
}

// Passthrough outputs its input unchanged.
func Passthrough(_ context.Context, inv *registry.Invocation) (any, error) {
	return inv.Input, nil
}

type delayConfig struct {
	Duration time.Duration `mapstructure:"duration"`
}

// Delay waits for config.duration, then outputs its input.
func Delay(ctx context.Context, inv *registry.Invocation) (any, error) {
	var cfg delayConfig
	if err := inv.DecodeConfig(&cfg); err != nil {
		return nil, err
	}
	timer := time.NewTimer(cfg.Duration)
	defer timer.Stop()
	select {
	case <-timer.C:
		return inv.Input, nil
	case <-ctx.Done():
		return nil, context.Cause(ctx)
	}
}

type failConfig struct {
	Message string `mapstructure:"message"`
}

// Fail always fails, with config.message or the input as the error text.
func Fail(_ context.Context, inv *registry.Invocation) (any, error) {
	var cfg failConfig
	if err := inv.DecodeConfig(&cfg); err != nil {
		return nil, err
	}
	msg := cfg.Message
	if msg == "" {
		if s, ok := inv.Input.(string); ok && s != "" {
			msg = s
		} else {
			msg = "failed"
		}
	}
	return nil, errors.New(msg)
}

type gateConfig struct {
	Prompt  string   `mapstructure:"prompt"`
	Choices []string `mapstructure:"choices"`
}

// Gate asks a human and outputs the reply. A string input overrides the
// configured prompt text.
func Gate(ctx context.Context, inv *registry.Invocation) (any, error) {
	if inv.Prompter == nil {
		return nil, ErrNoPrompter
	}
	var cfg gateConfig
	if err := inv.DecodeConfig(&cfg); err != nil {
		return nil, err
	}
	text := cfg.Prompt
	if s, ok := inv.Input.(string); ok && s != "" {
		text = s
	}
	if text == "" {
		text = fmt.Sprintf("Continue past %s?", inv.NodeID)
	}
	return inv.Prompter.Prompt(ctx, domain.PromptRequest{NodeID: inv.NodeID, Text: text, Choices: cfg.Choices})
}

// Loop outputs the iteration count so back edges can decide whether to go round again.
func Loop(_ context.Context, inv *registry.Invocation) (any, error) {
	return map[string]any{"iteration": inv.Iteration, "input": inv.Input}, nil
}
