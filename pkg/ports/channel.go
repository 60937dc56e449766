package ports

import (
	"context"

	"github.com/Open-Harness/open-harness-sub011/pkg/domain"
)

// Controls is the command surface a channel may use on a running hub.
type Controls interface {
	Send(msg domain.Message)
	SendTo(name string, msg domain.Message)
	SendToRun(invocationID string, msg domain.Message)
	Reply(promptID string, response any)
	Abort(reason string)
	Status() domain.HubStatus
}

// Channel attaches to a hub to observe events and send commands.
// All fields but Name are optional; the hub treats channels as opaque subscribers.
type Channel struct {
	Name string

	// OnStart runs before the first event of the run is emitted.
	OnStart func(ctx context.Context, controls Controls)

	// OnComplete runs after run:complete has been delivered.
	OnComplete func(ctx context.Context, result *domain.RunResult)

	// On maps event name patterns ("task:*", "*") to handlers.
	On map[string]func(domain.Event)
}
