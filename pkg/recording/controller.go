// Package recording captures runs into a store and replays them.
//
// In live mode the controller is the hub recorder: every event is appended to
// the run store, and each agent or long-lived node leaves a fixture holding
// its output or error and the events it emitted. In replay mode those nodes
// never run; their fixture events are re-emitted and the recorded outcome is
// returned. A missing fixture is fatal.
package recording

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/Open-Harness/open-harness-sub011/internal/logging"
	"github.com/Open-Harness/open-harness-sub011/internal/runtime"
	"github.com/Open-Harness/open-harness-sub011/pkg/domain"
	"github.com/Open-Harness/open-harness-sub011/pkg/hub"
	"github.com/Open-Harness/open-harness-sub011/pkg/ports"
)

// Mode selects live recording or replay.
type Mode string

const (
	ModeLive   Mode = "live"
	ModeReplay Mode = "replay"
)

var _ runtime.Interceptor = (*Controller)(nil)

// Controller records one run, or replays a recorded one into a new run.
type Controller struct {
	mode   Mode
	runID  string
	store  ports.RunStore
	hub    *hub.Hub
	source *domain.Recording
	logger *slog.Logger

	mu        sync.Mutex
	fixtures  map[string]domain.Fixture
	appendErr error
}

// Option configures a Controller.
type Option func(*Controller)

// WithLogger sets the logger used for store failures.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Controller) {
		c.logger = logger
	}
}

func newController(mode Mode, runID string, store ports.RunStore, h *hub.Hub, opts []Option) *Controller {
	c := &Controller{
		mode:     mode,
		runID:    runID,
		store:    store,
		hub:      h,
		logger:   logging.NewNop(),
		fixtures: make(map[string]domain.Fixture),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With("component", "recording", logging.RunID(runID), "mode", string(mode))
	return c
}

// NewLive creates a controller that records run runID into store.
// A nil store keeps fixtures in memory only.
func NewLive(runID string, store ports.RunStore, h *hub.Hub, opts ...Option) *Controller {
	return newController(ModeLive, runID, store, h, opts)
}

// NewReplay replays source into run runID. The new run is recorded into
// store, which may be nil.
func NewReplay(runID string, source *domain.Recording, store ports.RunStore, h *hub.Hub, opts ...Option) *Controller {
	c := newController(ModeReplay, runID, store, h, opts)
	c.source = source
	return c
}

// Mode reports whether the controller records or replays.
func (c *Controller) Mode() Mode { return c.mode }

// Source returns the recording being replayed, or nil in live mode.
func (c *Controller) Source() *domain.Recording { return c.source }

// Record appends ev to the store. It is installed as the hub recorder.
func (c *Controller) Record(ev domain.Event) {
	if c.store == nil {
		return
	}
	if err := c.store.AppendEvent(context.Background(), c.runID, ev); err != nil {
		c.mu.Lock()
		if c.appendErr == nil {
			c.appendErr = err
		}
		c.mu.Unlock()
		c.logger.Error("append event failed", "seq", ev.Seq, logging.Err(err))
	}
}

// Substitute serves agent and long-lived nodes from fixtures in replay mode.
func (c *Controller) Substitute(ctx context.Context, call runtime.Call) (runtime.Outcome, bool, error) {
	if c.mode != ModeReplay {
		return runtime.Outcome{}, false, nil
	}
	key, err := Key(call.NodeID, call.Type, call.Input)
	if err != nil {
		return runtime.Outcome{}, false, err
	}
	fx, ok := c.source.Fixtures[key]
	if !ok {
		return runtime.Outcome{}, false, &domain.ReplayFixtureMissingError{RunID: c.source.RunID, NodeID: call.NodeID, Key: key}
	}

	for _, ev := range fx.Events {
		c.hub.Emit(ctx, ev.Payload, domain.EventContext{Agent: ev.Context.Agent})
	}
	c.keep(key, fx)

	if fx.Error != "" {
		return runtime.Outcome{Err: &fixtureError{msg: fx.Error, kind: fx.Kind}}, true, nil
	}
	return runtime.Outcome{Output: fx.Output}, true, nil
}

// Capture stores the outcome of a live execution with the events the node
// emitted since its task:start.
func (c *Controller) Capture(call runtime.Call, out runtime.Outcome) {
	key, err := Key(call.NodeID, call.Type, call.Input)
	if err != nil {
		c.logger.Warn("fixture skipped", logging.NodeID(call.NodeID), logging.Err(err))
		return
	}

	var events []domain.Event
	for _, ev := range c.hub.History() {
		if ev.Seq > call.StartSeq && ev.Context.Task == call.NodeID {
			events = append(events, ev)
		}
	}
	fx := domain.Fixture{NodeID: call.NodeID, Type: call.Type, Output: out.Output, Events: events}
	if out.Err != nil {
		fx.Output = nil
		fx.Error = out.Err.Error()
		fx.Kind = domain.FailureKindOf(out.Err)
	}
	c.keep(key, fx)
}

func (c *Controller) keep(key string, fx domain.Fixture) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.fixtures[key] = fx
}

// Fixtures returns a copy of the fixtures captured so far.
func (c *Controller) Fixtures() map[string]domain.Fixture {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]domain.Fixture, len(c.fixtures))
	for k, v := range c.fixtures {
		out[k] = v
	}
	return out
}

// Finish saves the snapshot of the finished run, fixtures included.
func (c *Controller) Finish(ctx context.Context, flow, sessionID string, input any, result *domain.RunResult, startedAt time.Time) error {
	c.mu.Lock()
	appendErr := c.appendErr
	c.mu.Unlock()
	if c.store == nil {
		return nil
	}

	snap := &domain.Snapshot{
		RunID:       c.runID,
		Flow:        flow,
		SessionID:   sessionID,
		Status:      result.Status,
		Input:       input,
		Outputs:     result.Outputs,
		Fixtures:    c.Fixtures(),
		StartedAt:   startedAt,
		CompletedAt: startedAt.Add(result.Duration),
	}
	if result.Error != nil {
		snap.Error = result.Error.Error()
	}
	if err := c.store.SaveSnapshot(ctx, snap); err != nil {
		return fmt.Errorf("save snapshot: %w", err)
	}
	if appendErr != nil {
		return fmt.Errorf("recording incomplete: %w", appendErr)
	}
	return nil
}

// fixtureError replays a recorded failure with its message and kind.
type fixtureError struct {
	msg  string
	kind domain.FailureKind
}

func (e *fixtureError) Error() string { return e.msg }

func (e *fixtureError) Is(target error) bool {
	switch e.kind {
	case domain.FailureTimeout:
		return target == domain.ErrTimeout
	case domain.FailureAborted:
		return target == domain.ErrAborted
	case domain.FailureBinding:
		return target == domain.ErrUnresolvedBinding
	case domain.FailureReplay:
		return target == domain.ErrReplayFixtureMissing
	}
	return target == domain.ErrNodeExecution
}
