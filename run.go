package harness

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/Open-Harness/open-harness-sub011/internal/logging"
	"github.com/Open-Harness/open-harness-sub011/internal/runtime"
	"github.com/Open-Harness/open-harness-sub011/pkg/domain"
	"github.com/Open-Harness/open-harness-sub011/pkg/hub"
	"github.com/Open-Harness/open-harness-sub011/pkg/inbox"
	"github.com/Open-Harness/open-harness-sub011/pkg/ports"
	"github.com/Open-Harness/open-harness-sub011/pkg/recording"
	"github.com/Open-Harness/open-harness-sub011/pkg/session"
)

type runConfig struct {
	id        string
	sessionID string
	channels  []ports.Channel
	record    bool
	replay    string
}

// RunOption configures one run.
type RunOption func(*runConfig)

// WithRunID fixes the run id instead of generating a UUID.
func WithRunID(id string) RunOption {
	return func(c *runConfig) {
		c.id = id
	}
}

// WithSessionID stamps every event of the run with id.
func WithSessionID(id string) RunOption {
	return func(c *runConfig) {
		c.sessionID = id
	}
}

// WithChannels attaches observers to the run before its first event.
func WithChannels(channels ...ports.Channel) RunOption {
	return func(c *runConfig) {
		c.channels = append(c.channels, channels...)
	}
}

// WithRecording records the run, events and fixtures, into the engine store.
func WithRecording() RunOption {
	return func(c *runConfig) {
		c.record = true
	}
}

// WithReplay replays the recorded run sourceID: agent and long-lived nodes
// are served from its fixtures. The replay is itself recorded.
func WithReplay(sourceID string) RunOption {
	return func(c *runConfig) {
		c.replay = sourceID
	}
}

// Run is a started run.
type Run struct {
	id   string
	flow *Flow
	hub  *hub.Hub
	mode recording.Mode

	done   chan struct{}
	result *domain.RunResult
	err    error
}

// ID returns the run id.
func (r *Run) ID() string { return r.id }

// Flow returns the flow being run.
func (r *Run) Flow() *Flow { return r.flow }

// Hub returns the hub of the run, to subscribe to events or send commands.
func (r *Run) Hub() *hub.Hub { return r.hub }

// Replaying reports whether the run is a replay.
func (r *Run) Replaying() bool { return r.mode == recording.ModeReplay }

// Done is closed once the run has finished and its recording is saved.
func (r *Run) Done() <-chan struct{} { return r.done }

// Abort cancels the run.
func (r *Run) Abort(reason string) { r.hub.Abort(reason) }

// Wait blocks until the run finishes or ctx is done. A done ctx does not
// stop the run.
func (r *Run) Wait(ctx context.Context) (*domain.RunResult, error) {
	select {
	case <-r.done:
		return r.result, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Start validates input and launches flow in the background.
// Input validation and replay lookup errors are returned before any event.
func (e *Engine) Start(ctx context.Context, flow *Flow, input any, opts ...RunOption) (*Run, error) {
	var cfg runConfig
	for _, opt := range opts {
		opt(&cfg)
	}
	if err := flow.ValidateInput(input); err != nil {
		return nil, err
	}
	input, _ = domain.Normalize(input)
	if cfg.id == "" {
		cfg.id = uuid.NewString()
	}

	var source *domain.Recording
	if cfg.replay != "" {
		src, err := e.sessions.Load(ctx, cfg.replay)
		if err != nil {
			return nil, fmt.Errorf("replay %q: %w", cfg.replay, err)
		}
		source = src
		if cfg.sessionID == "" {
			cfg.sessionID = src.SessionID
		}
	}

	logger := e.logger.With(logging.RunID(cfg.id), logging.Flow(flow.Name()))
	h := hub.New(hub.WithLogger(logger), hub.WithSessionID(cfg.sessionID))
	prompts := session.NewController(h)
	h.BindPrompts(prompts)

	var rec *recording.Controller
	switch {
	case source != nil:
		rec = recording.NewReplay(cfg.id, source, e.store, h, recording.WithLogger(logger))
	case cfg.record:
		rec = recording.NewLive(cfg.id, e.store, h, recording.WithLogger(logger))
	}
	req := runtime.Run{
		ID:       cfg.id,
		Plan:     flow.plan,
		Input:    input,
		Hub:      h,
		Router:   inbox.NewRouter(e.mailboxCapacity),
		Prompter: prompts,
	}
	if rec != nil {
		h.SetRecorder(rec)
		req.Interceptor = rec
	}
	for _, ch := range cfg.channels {
		h.Attach(ch)
	}

	r := &Run{id: cfg.id, flow: flow, hub: h, done: make(chan struct{})}
	if rec != nil {
		r.mode = rec.Mode()
	}
	logger.Info("run starting", "replay_of", cfg.replay, "recorded", rec != nil)

	go func() {
		defer close(r.done)
		if rec == nil {
			r.result, r.err = e.execute(ctx, req, nil, flow.Name(), input)
			return
		}
		err := e.sessions.WithLock(ctx, cfg.id, func(ctx context.Context) error {
			r.result, r.err = e.execute(ctx, req, rec, flow.Name(), input)
			return nil
		})
		if err != nil {
			r.err = fmt.Errorf("lock run %s: %w", cfg.id, err)
		}
	}()
	return r, nil
}

func (e *Engine) execute(ctx context.Context, req runtime.Run, rec *recording.Controller, flowName string, input any) (*domain.RunResult, error) {
	started := time.Now()
	req.Hub.Start(ctx)

	res, err := e.executor.Execute(ctx, req)
	if res == nil {
		return nil, err
	}
	if rec != nil {
		// The snapshot is saved even when the caller's context is done.
		if ferr := rec.Finish(context.WithoutCancel(ctx), flowName, req.Hub.SessionID(), input, res, started); ferr != nil {
			e.logger.Error("recording not saved", logging.RunID(req.ID), logging.Err(ferr))
			if err == nil {
				err = ferr
			}
		}
	}
	req.Hub.Complete(ctx, res)
	return res, err
}
