package hub

import (
	"context"

	"github.com/Open-Harness/open-harness-sub011/pkg/domain"
	"github.com/Open-Harness/open-harness-sub011/pkg/ports"
)

var _ ports.Controls = (*Hub)(nil)

// BindRouter connects the inbox router that receives injected messages.
func (h *Hub) BindRouter(r MessageRouter) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.router = r
}

// BindPrompts connects the session controller that settles prompts.
func (h *Hub) BindPrompts(p PromptResolver) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.prompts = p
}

// Bind derives the run context from ctx. Abort cancels it with an *domain.AbortError
// cause; if the hub was aborted before Bind, the returned context is already done.
func (h *Hub) Bind(ctx context.Context) (context.Context, context.CancelCauseFunc) {
	ctx, cancel := context.WithCancelCause(ctx)
	h.mu.Lock()
	h.cancel = cancel
	aborted, reason := h.aborted, h.reason
	h.mu.Unlock()
	if aborted {
		cancel(&domain.AbortError{Reason: reason})
	}
	return Scoped(ctx, h.base), cancel
}

// Send delivers msg to the most recently started agent still running.
func (h *Hub) Send(msg domain.Message) {
	h.route("send", "", msg, func(r MessageRouter) error { return r.Send(msg) })
}

// SendTo delivers msg to the running agent node with the given id.
func (h *Hub) SendTo(name string, msg domain.Message) {
	h.route("sendTo", name, msg, func(r MessageRouter) error { return r.SendTo(name, msg) })
}

// SendToRun delivers msg to the mailbox of one invocation. An unknown or closed
// invocation id is a no-op that emits a diagnostic.
func (h *Hub) SendToRun(invocationID string, msg domain.Message) {
	h.route("sendToRun", invocationID, msg, func(r MessageRouter) error { return r.SendToRun(invocationID, msg) })
}

func (h *Hub) route(command, target string, msg domain.Message, fn func(MessageRouter) error) {
	h.mu.Lock()
	r := h.router
	h.mu.Unlock()

	err := domain.ErrUnknownTarget
	if r != nil {
		err = fn(r)
	}
	if err == nil {
		return
	}
	h.logger.Warn("message dropped", "command", command, "target", target, "err", err)
	h.Diagnose(context.Background(), "message dropped", map[string]any{
		"command": command,
		"target":  target,
		"reason":  err.Error(),
	})
}

// Reply answers a pending prompt. Replies to unknown prompts emit a diagnostic.
func (h *Hub) Reply(promptID string, response any) {
	h.mu.Lock()
	p := h.prompts
	h.mu.Unlock()

	err := domain.ErrUnknownPrompt
	if p != nil {
		err = p.Resolve(promptID, response)
	}
	if err == nil {
		return
	}
	h.logger.Warn("reply dropped", "prompt_id", promptID, "err", err)
	h.Diagnose(context.Background(), "reply dropped", map[string]any{
		"promptId": promptID,
		"reason":   err.Error(),
	})
}

// Abort cancels the run: it signals the run context, resolves any pending prompt
// with cancellation and closes every open mailbox. The executor then emits the
// terminal run:complete{aborted}. Abort is idempotent and a no-op once the run ended.
func (h *Hub) Abort(reason string) {
	h.mu.Lock()
	if h.aborted || h.status.Terminal() {
		h.mu.Unlock()
		return
	}
	h.aborted = true
	h.reason = reason
	cancel, r, p := h.cancel, h.router, h.prompts
	h.mu.Unlock()

	h.logger.Info("run aborted", "reason", reason)
	h.Emit(context.Background(), &domain.SessionAbort{Reason: reason})
	if cancel != nil {
		cancel(&domain.AbortError{Reason: reason})
	}
	if p != nil {
		p.Cancel(reason)
	}
	if r != nil {
		r.CloseAll()
	}
}

// Aborted reports whether Abort was called, and why.
func (h *Hub) Aborted() (bool, string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.aborted, h.reason
}

// Attach subscribes the handlers of a channel. OnStart and OnComplete are invoked
// by Start and Complete.
func (h *Hub) Attach(ch ports.Channel) (detach func()) {
	var unsubs []func()
	for pattern, handler := range ch.On {
		if handler == nil {
			continue
		}
		unsubs = append(unsubs, h.Subscribe(Listener(handler), pattern))
	}
	h.mu.Lock()
	h.channels = append(h.channels, ch)
	h.mu.Unlock()
	return func() {
		for _, u := range unsubs {
			u()
		}
	}
}

// Start runs OnStart of every attached channel.
func (h *Hub) Start(ctx context.Context) {
	for _, ch := range h.attached() {
		if ch.OnStart != nil {
			ch.OnStart(ctx, h)
		}
	}
}

// Complete waits for pending deliveries then runs OnComplete of every attached channel.
func (h *Hub) Complete(ctx context.Context, result *domain.RunResult) {
	h.Flush()
	for _, ch := range h.attached() {
		if ch.OnComplete != nil {
			ch.OnComplete(ctx, result)
		}
	}
}

func (h *Hub) attached() []ports.Channel {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]ports.Channel, len(h.channels))
	copy(out, h.channels)
	return out
}
