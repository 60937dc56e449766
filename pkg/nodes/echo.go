package nodes

import (
	"context"
	"errors"
	"fmt"

	"github.com/Open-Harness/open-harness-sub011/pkg/domain"
	"github.com/Open-Harness/open-harness-sub011/pkg/registry"
)

type echoConfig struct {
	// Turns is how many injected messages to wait for after the input.
	Turns  int    `mapstructure:"turns"`
	Prefix string `mapstructure:"prefix"`
}

// EchoAgent is a stand-in agent: it streams back its input and every
// injected turn, then outputs the last text and the full transcript.
func EchoAgent(ctx context.Context, inv *registry.Invocation) (any, error) {
	if inv.Stream == nil {
		return nil, errors.New("echo-agent requires a mailbox")
	}
	var cfg echoConfig
	if err := inv.DecodeConfig(&cfg); err != nil {
		return nil, err
	}

	var transcript []any
	var last string
	for {
		msg, ok, err := inv.Stream.Next(ctx)
		if err != nil {
			return nil, err
		}
		if !ok {
			break
		}
		last = cfg.Prefix + text(msg.Content)
		transcript = append(transcript, msg.Content)
		inv.Emit(ctx, &domain.NodeStream{NodeID: inv.NodeID, Chunk: last})

		if len(transcript) > cfg.Turns {
			inv.Stream.Close()
		}
	}
	return map[string]any{"text": last, "transcript": transcript}, nil
}

func text(v any) string {
	switch tv := v.(type) {
	case nil:
		return ""
	case string:
		return tv
	case map[string]any:
		if s, ok := tv["text"].(string); ok {
			return s
		}
	}
	return fmt.Sprint(v)
}
