package runner

import (
	"context"

	"github.com/Open-Harness/open-harness-sub011/pkg/domain"
)

// IOHandler defines the strategy for interacting with the user.
// This allows switching between Text (terminal) and JSON (structured) modes.
type IOHandler interface {
	// Output presents one event to the user.
	// Returns true if the event asks for an answer (a session prompt).
	Output(ctx context.Context, event domain.Event) (bool, error)

	// Input reads a response from the user.
	Input(ctx context.Context) (string, error)

	// SystemOutput presents a meta-message to the user (e.g. an approval request).
	// This is distinct from event rendering.
	SystemOutput(ctx context.Context, msg string) error
}

// ContentRenderer transforms text before it is printed, e.g. markdown to ANSI.
type ContentRenderer func(string) (string, error)
