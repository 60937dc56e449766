// Package hub implements the per-run event bus and command channel.
//
// A Hub stamps every emitted payload with the ambient EventContext, a strictly
// increasing sequence number and a timestamp, and delivers it synchronously, in
// order, to the active recorder and to every matching subscriber. Commands
// (messages, replies, abort) flow the other way, to the inbox router and the
// session controller bound to the hub.
package hub

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/Open-Harness/open-harness-sub011/internal/logging"
	"github.com/Open-Harness/open-harness-sub011/pkg/domain"
	"github.com/Open-Harness/open-harness-sub011/pkg/ports"
)

// Listener receives events in emission order.
type Listener func(domain.Event)

// Recorder receives every event before subscribers do.
type Recorder interface {
	Record(domain.Event)
}

// MessageRouter delivers injected messages to agent mailboxes.
type MessageRouter interface {
	Send(msg domain.Message) error
	SendTo(name string, msg domain.Message) error
	SendToRun(invocationID string, msg domain.Message) error
	CloseAll()
}

// PromptResolver settles human-in-the-loop prompts.
type PromptResolver interface {
	Resolve(promptID string, response any) error
	Cancel(reason string)
}

type subscription struct {
	id       int
	patterns []string
	fn       Listener
	minSeq   uint64
}

func (s *subscription) matches(ev domain.Event) bool {
	if ev.Seq <= s.minSeq {
		return false
	}
	if len(s.patterns) == 0 {
		return true
	}
	for _, p := range s.patterns {
		if domain.MatchName(p, ev.Name()) {
			return true
		}
	}
	return false
}

// Hub governs the events and commands of exactly one run.
type Hub struct {
	logger *slog.Logger
	clock  func() time.Time
	base   domain.EventContext

	mu       sync.Mutex
	idle     *sync.Cond
	seq      uint64
	history  []domain.Event
	queue    []domain.Event
	draining bool
	subs     []*subscription
	nextSub  int
	recorder Recorder
	status   domain.HubStatus
	channels []ports.Channel

	router  MessageRouter
	prompts PromptResolver
	cancel  context.CancelCauseFunc
	aborted bool
	reason  string
}

// Option configures a Hub.
type Option func(*Hub)

// WithLogger sets the logger used for listener failures and dropped commands.
func WithLogger(logger *slog.Logger) Option {
	return func(h *Hub) {
		h.logger = logger
	}
}

// WithSessionID stamps every event with the given session id.
func WithSessionID(id string) Option {
	return func(h *Hub) {
		h.base.SessionID = id
	}
}

// WithClock replaces time.Now, mostly for tests.
func WithClock(clock func() time.Time) Option {
	return func(h *Hub) {
		h.clock = clock
	}
}

// New creates a hub in the connecting state.
func New(opts ...Option) *Hub {
	h := &Hub{
		logger: logging.NewNop(),
		clock:  time.Now,
		status: domain.HubConnecting,
	}
	h.idle = sync.NewCond(&h.mu)
	for _, opt := range opts {
		opt(h)
	}
	h.logger = h.logger.With("component", "hub")
	return h
}

// SessionID returns the session id stamped on every event.
func (h *Hub) SessionID() string {
	return h.base.SessionID
}

// Subscribe registers a listener for events whose name matches any of patterns
// (all events when none are given). It returns the function that removes it.
func (h *Hub) Subscribe(fn Listener, patterns ...string) (unsubscribe func()) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.subscribeLocked(fn, patterns, 0)
}

// Tail returns the events emitted so far and subscribes fn to every later one,
// with no gap or duplicate between the two.
func (h *Hub) Tail(fn Listener, patterns ...string) ([]domain.Event, func()) {
	h.mu.Lock()
	defer h.mu.Unlock()
	past := make([]domain.Event, 0, len(h.history))
	for _, ev := range h.history {
		s := subscription{patterns: patterns}
		if s.matches(ev) {
			past = append(past, ev)
		}
	}
	return past, h.subscribeLocked(fn, patterns, h.seq)
}

func (h *Hub) subscribeLocked(fn Listener, patterns []string, minSeq uint64) func() {
	h.nextSub++
	sub := &subscription{id: h.nextSub, patterns: patterns, fn: fn, minSeq: minSeq}
	subs := make([]*subscription, len(h.subs), len(h.subs)+1)
	copy(subs, h.subs)
	h.subs = append(subs, sub)

	var once sync.Once
	return func() {
		once.Do(func() {
			h.mu.Lock()
			defer h.mu.Unlock()
			kept := make([]*subscription, 0, len(h.subs))
			for _, s := range h.subs {
				if s.id != sub.id {
					kept = append(kept, s)
				}
			}
			h.subs = kept
		})
	}
}

// SetRecorder installs the recorder that sees every event first.
func (h *Hub) SetRecorder(r Recorder) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.recorder = r
}

// Emit stamps payload with the ambient context of ctx merged with overrides,
// assigns the next sequence number and delivers it. Emit never fails; an event
// emitted from inside a listener is queued and delivered after the current one.
func (h *Hub) Emit(ctx context.Context, payload domain.Payload, overrides ...domain.EventContext) domain.Event {
	ev, _ := h.emit(ctx, payload, false, overrides)
	return ev
}

// EmitUnlessAborted emits payload only if Abort has not been called yet.
// The check and the sequence number are taken atomically, so an event it
// emits always precedes session:abort.
func (h *Hub) EmitUnlessAborted(ctx context.Context, payload domain.Payload, overrides ...domain.EventContext) (domain.Event, bool) {
	return h.emit(ctx, payload, true, overrides)
}

func (h *Hub) emit(ctx context.Context, payload domain.Payload, guard bool, overrides []domain.EventContext) (domain.Event, bool) {
	h.mu.Lock()
	if guard && h.aborted {
		h.mu.Unlock()
		return domain.Event{}, false
	}
	ec := h.base.Merge(Current(ctx))
	for _, o := range overrides {
		ec = ec.Merge(o)
	}
	h.seq++
	ev := domain.Event{Seq: h.seq, Timestamp: h.clock(), Context: ec, Payload: payload}
	h.history = append(h.history, ev)
	h.queue = append(h.queue, ev)
	h.trackStatus(ev)

	if h.draining {
		h.mu.Unlock()
		return ev, true
	}
	h.draining = true
	for len(h.queue) > 0 {
		next := h.queue[0]
		h.queue = h.queue[1:]
		subs, rec := h.subs, h.recorder
		h.mu.Unlock()
		h.deliver(next, rec, subs)
		h.mu.Lock()
	}
	h.draining = false
	h.idle.Broadcast()
	h.mu.Unlock()
	return ev, true
}

// Diagnose emits a diagnostic event.
func (h *Hub) Diagnose(ctx context.Context, message string, detail map[string]any) {
	h.Emit(ctx, &domain.Diagnostic{Level: "warn", Message: message, Detail: detail})
}

func (h *Hub) deliver(ev domain.Event, rec Recorder, subs []*subscription) {
	if rec != nil {
		h.safely(ev, "recorder", rec.Record)
	}
	for _, s := range subs {
		if s.matches(ev) {
			h.safely(ev, fmt.Sprintf("subscriber %d", s.id), s.fn)
		}
	}
}

func (h *Hub) safely(ev domain.Event, who string, fn func(domain.Event)) {
	defer func() {
		r := recover()
		if r == nil {
			return
		}
		h.logger.Error("listener panicked", "listener", who, "event", ev.Name(), "panic", r)
		if ev.Name() == domain.EventDiagnostic {
			return
		}
		h.Emit(context.Background(), &domain.Diagnostic{
			Level:   "error",
			Message: "listener panicked",
			Detail: map[string]any{
				"listener": who,
				"event":    string(ev.Name()),
				"seq":      ev.Seq,
				"panic":    fmt.Sprint(r),
			},
		}, ev.Context)
	}()
	fn(ev)
}

// Flush blocks until every queued event has been delivered.
// It must not be called from inside a listener.
func (h *Hub) Flush() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for h.draining || len(h.queue) > 0 {
		h.idle.Wait()
	}
}

// History returns a copy of every event emitted so far.
func (h *Hub) History() []domain.Event {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]domain.Event, len(h.history))
	copy(out, h.history)
	return out
}

// Status reports the connection status of the run.
func (h *Hub) Status() domain.HubStatus {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.status
}

func (h *Hub) trackStatus(ev domain.Event) {
	if h.status.Terminal() {
		return
	}
	switch p := ev.Payload.(type) {
	case *domain.RunStart:
		h.status = domain.HubRunning
	case *domain.SessionPrompt:
		h.status = domain.HubPaused
	case *domain.SessionReply:
		if h.status == domain.HubPaused {
			h.status = domain.HubRunning
		}
	case *domain.RunComplete:
		if p.Status == domain.StatusComplete {
			h.status = domain.HubComplete
		} else {
			h.status = domain.HubError
		}
	}
}
