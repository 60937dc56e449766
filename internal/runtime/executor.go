// Package runtime schedules and executes compiled flows.
package runtime

import (
	"context"
	"log/slog"
	"time"

	"github.com/Open-Harness/open-harness-sub011/internal/compiler"
	"github.com/Open-Harness/open-harness-sub011/internal/logging"
	"github.com/Open-Harness/open-harness-sub011/pkg/domain"
	"github.com/Open-Harness/open-harness-sub011/pkg/hub"
	"github.com/Open-Harness/open-harness-sub011/pkg/inbox"
	"github.com/Open-Harness/open-harness-sub011/pkg/registry"
)

// PhaseMain is the single phase every run goes through.
const PhaseMain = "main"

// DefaultMaxLoopIterations bounds how often a back edge may fire when the
// loop-control node sets no policy.maxTurns.
const DefaultMaxLoopIterations = 100

// Executor runs compiled plans. One Executor may run many plans concurrently;
// all per-run state lives in the run.
type Executor struct {
	registry       *registry.Registry
	logger         *slog.Logger
	maxConcurrency int
	clock          func() time.Time
}

// Option configures an Executor.
type Option func(*Executor)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Executor) {
		e.logger = logger
	}
}

// WithMaxConcurrency lets up to n independent ready nodes run at once.
// The default of 1 runs nodes strictly one after another in topological order.
func WithMaxConcurrency(n int) Option {
	return func(e *Executor) {
		if n > 0 {
			e.maxConcurrency = n
		}
	}
}

// WithClock replaces time.Now for durations.
func WithClock(clock func() time.Time) Option {
	return func(e *Executor) {
		e.clock = clock
	}
}

// New creates an executor that runs node types from reg.
func New(reg *registry.Registry, opts ...Option) *Executor {
	e := &Executor{
		registry:       reg,
		logger:         logging.NewNop(),
		maxConcurrency: 1,
		clock:          time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	e.logger = e.logger.With("component", "executor")
	return e
}

// Run is one execution request.
type Run struct {
	ID    string
	Plan  *compiler.Plan
	Input any

	// Hub receives every event of the run. Required.
	Hub *hub.Hub
	// Router owns the mailboxes of agent nodes. A fresh one is created when nil.
	Router *inbox.Router
	// Prompter is handed to nodes that ask for human input.
	Prompter registry.Prompter
	// Interceptor records or substitutes agent and long-lived nodes.
	Interceptor Interceptor
}

// Execute runs the plan to completion and returns its result.
//
// A failing node under failFast yields a failed result and a nil error, as
// does an abort. Binding and replay failures are fatal: the result is failed
// and the error is returned as well.
func (e *Executor) Execute(ctx context.Context, req Run) (*domain.RunResult, error) {
	if req.Router == nil {
		req.Router = inbox.NewRouter(inbox.DefaultCapacity)
	}
	req.Hub.BindRouter(req.Router)

	runCtx, cancel := req.Hub.Bind(ctx)
	defer cancel(nil)

	s := newScheduler(e, req, runCtx)
	return s.run()
}
