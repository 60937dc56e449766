package runner

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/Open-Harness/open-harness-sub011/pkg/domain"
	"github.com/Open-Harness/open-harness-sub011/pkg/registry"
)

// ErrDenied fails an invocation blocked by an Interceptor.
var ErrDenied = errors.New("execution denied by policy")

// Interceptor is a middleware that can allow or block a node invocation.
// It returns true if execution should proceed.
type Interceptor func(ctx context.Context, inv *registry.Invocation) (bool, error)

// MultiInterceptor chains multiple interceptors. The first denial wins.
func MultiInterceptor(interceptors ...Interceptor) Interceptor {
	return func(ctx context.Context, inv *registry.Invocation) (bool, error) {
		for _, interceptor := range interceptors {
			allowed, err := interceptor(ctx, inv)
			if err != nil {
				return false, err
			}
			if !allowed {
				return false, nil
			}
		}
		return true, nil
	}
}

// ConfirmationMiddleware asks a human through the session prompt of the run
// before allowing execution. The question and the answer are part of the event stream.
func ConfirmationMiddleware() Interceptor {
	return func(ctx context.Context, inv *registry.Invocation) (bool, error) {
		if inv.Prompter == nil {
			return false, fmt.Errorf("node %q needs approval but the run has no prompter", inv.NodeID)
		}
		answer, err := inv.Prompter.Prompt(ctx, approvalPrompt(inv))
		if err != nil {
			return false, err
		}
		text := strings.TrimSpace(strings.ToLower(fmt.Sprint(answer)))
		return text == "y" || text == "yes", nil
	}
}

// AutoApproveMiddleware allows everything.
func AutoApproveMiddleware() Interceptor {
	return func(context.Context, *registry.Invocation) (bool, error) {
		return true, nil
	}
}

// Guard wraps a node definition so every invocation passes interceptor first.
func Guard(def registry.Definition, interceptor Interceptor) registry.Definition {
	run := def.Run
	def.Run = func(ctx context.Context, inv *registry.Invocation) (any, error) {
		allowed, err := interceptor(ctx, inv)
		if err != nil {
			return nil, err
		}
		if !allowed {
			return nil, fmt.Errorf("%w: node %q", ErrDenied, inv.NodeID)
		}
		return run(ctx, inv)
	}
	return def
}

func approvalPrompt(inv *registry.Invocation) domain.PromptRequest {
	return domain.PromptRequest{
		NodeID:  inv.NodeID,
		Text:    fmt.Sprintf("Allow %s (%s) to run with input %v?", inv.NodeID, inv.Type, inv.Input),
		Choices: []string{"yes", "no"},
	}
}
