package session

import (
	"context"
	"fmt"
	"sync"

	"github.com/Open-Harness/open-harness-sub011/pkg/domain"
)

// Emitter publishes prompt and reply events.
type Emitter interface {
	Emit(ctx context.Context, payload domain.Payload, overrides ...domain.EventContext) domain.Event
}

type outcome struct {
	response any
	err      error
}

type pendingPrompt struct {
	id   string
	done chan outcome
}

// Controller pauses a run on human-in-the-loop prompts.
// At most one prompt is outstanding at a time.
type Controller struct {
	events Emitter

	mu        sync.Mutex
	counter   int
	pending   *pendingPrompt
	cancelled bool
	reason    string
}

// NewController creates a controller that emits through events.
func NewController(events Emitter) *Controller {
	return &Controller{events: events}
}

// Prompt emits session:prompt and suspends until Resolve, Cancel or ctx is done.
// The reply is emitted as session:reply from the calling goroutine, so it is
// ordered with the other events of the prompting node. A prompt that ends
// without an answer still emits session:reply, marked cancelled.
func (c *Controller) Prompt(ctx context.Context, req domain.PromptRequest) (any, error) {
	c.mu.Lock()
	if c.cancelled {
		reason := c.reason
		c.mu.Unlock()
		return nil, &domain.AbortError{Reason: reason}
	}
	if c.pending != nil {
		id := c.pending.id
		c.mu.Unlock()
		return nil, &domain.ConcurrentPromptError{PendingID: id}
	}
	c.counter++
	p := &pendingPrompt{
		id:   fmt.Sprintf("prompt-%d", c.counter),
		done: make(chan outcome, 1),
	}
	c.pending = p
	c.mu.Unlock()

	c.events.Emit(ctx, &domain.SessionPrompt{
		PromptID: p.id,
		NodeID:   req.NodeID,
		Text:     req.Text,
		Choices:  req.Choices,
	})

	var out outcome
	select {
	case out = <-p.done:
	case <-ctx.Done():
		out = outcome{err: context.Cause(ctx)}
	}

	c.mu.Lock()
	if c.pending == p {
		c.pending = nil
	}
	c.mu.Unlock()

	if out.err != nil {
		c.events.Emit(ctx, &domain.SessionReply{PromptID: p.id, Cancelled: true})
		return nil, out.err
	}
	c.events.Emit(ctx, &domain.SessionReply{PromptID: p.id, Response: out.response})
	return out.response, nil
}

// Resolve answers the pending prompt with the given id.
func (c *Controller) Resolve(promptID string, response any) error {
	c.mu.Lock()
	p := c.pending
	if p == nil || p.id != promptID {
		c.mu.Unlock()
		return fmt.Errorf("%w: %q", domain.ErrUnknownPrompt, promptID)
	}
	c.pending = nil
	c.mu.Unlock()

	p.done <- outcome{response: response}
	return nil
}

// Cancel resolves the pending prompt with an abort and refuses new prompts.
func (c *Controller) Cancel(reason string) {
	c.mu.Lock()
	c.cancelled = true
	c.reason = reason
	p := c.pending
	c.pending = nil
	c.mu.Unlock()

	if p != nil {
		p.done <- outcome{err: &domain.AbortError{Reason: reason}}
	}
}

// Pending returns the id of the outstanding prompt, if any.
func (c *Controller) Pending() (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.pending == nil {
		return "", false
	}
	return c.pending.id, true
}
