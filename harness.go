package harness

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/Open-Harness/open-harness-sub011/internal/compiler"
	"github.com/Open-Harness/open-harness-sub011/internal/logging"
	"github.com/Open-Harness/open-harness-sub011/internal/runtime"
	"github.com/Open-Harness/open-harness-sub011/pkg/adapters/memory"
	"github.com/Open-Harness/open-harness-sub011/pkg/domain"
	"github.com/Open-Harness/open-harness-sub011/pkg/inbox"
	"github.com/Open-Harness/open-harness-sub011/pkg/nodes"
	"github.com/Open-Harness/open-harness-sub011/pkg/ports"
	"github.com/Open-Harness/open-harness-sub011/pkg/registry"
	"github.com/Open-Harness/open-harness-sub011/pkg/session"
)

// ErrNoLoader is returned by Load and Flows when the engine has no flow loader.
var ErrNoLoader = errors.New("no flow loader configured")

// Engine is the high-level entry point of the library. It compiles flows and
// starts runs; every run gets its own hub.
type Engine struct {
	registry *registry.Registry
	loader   ports.FlowLoader
	store    ports.RunStore
	locker   ports.DistributedLocker
	lockTTL  time.Duration
	logger   *slog.Logger

	maxConcurrency  int
	mailboxCapacity int

	executor *runtime.Executor
	sessions *session.Manager
}

// Option defines a functional option for configuring the Engine.
type Option func(*Engine)

// WithLogger sets the structured logger of the engine and its runs.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		e.logger = logger
	}
}

// WithRegistry replaces the node type registry. The built-in node types are
// only registered into the default registry.
func WithRegistry(reg *registry.Registry) Option {
	return func(e *Engine) {
		e.registry = reg
	}
}

// WithLoader sets where Load finds flows by name.
func WithLoader(l ports.FlowLoader) Option {
	return func(e *Engine) {
		e.loader = l
	}
}

// WithStore sets where recordings go. The default is an in-memory store.
func WithStore(s ports.RunStore) Option {
	return func(e *Engine) {
		e.store = s
	}
}

// WithLocker holds a distributed lock on the run id while a recorded run executes.
func WithLocker(l ports.DistributedLocker, ttl time.Duration) Option {
	return func(e *Engine) {
		e.locker = l
		e.lockTTL = ttl
	}
}

// WithMaxConcurrency lets up to n independent nodes run at once. The default is 1.
func WithMaxConcurrency(n int) Option {
	return func(e *Engine) {
		e.maxConcurrency = n
	}
}

// WithMailboxCapacity bounds the mailbox of each agent invocation.
func WithMailboxCapacity(n int) Option {
	return func(e *Engine) {
		e.mailboxCapacity = n
	}
}

// New creates an engine.
func New(opts ...Option) (*Engine, error) {
	e := &Engine{
		maxConcurrency:  1,
		mailboxCapacity: inbox.DefaultCapacity,
	}
	for _, opt := range opts {
		opt(e)
	}

	if e.logger == nil {
		e.logger = logging.NewNop()
	}
	if e.registry == nil {
		e.registry = registry.NewRegistry()
		if err := nodes.Register(e.registry); err != nil {
			return nil, fmt.Errorf("register built-in nodes: %w", err)
		}
	}
	if e.store == nil {
		e.store = memory.NewStore()
	}

	sessionOpts := []session.Option{session.WithLogger(e.logger)}
	if e.locker != nil {
		sessionOpts = append(sessionOpts, session.WithLocker(e.locker), session.WithLockTTL(e.lockTTL))
	}
	e.sessions = session.NewManager(e.store, sessionOpts...)
	e.executor = runtime.New(e.registry,
		runtime.WithLogger(e.logger),
		runtime.WithMaxConcurrency(e.maxConcurrency),
	)
	return e, nil
}

// Registry returns the node types the engine compiles against.
func (e *Engine) Registry() *registry.Registry { return e.registry }

// Store returns the run store holding recordings.
func (e *Engine) Store() ports.RunStore { return e.store }

// Sessions returns the manager that serializes access to recorded runs.
func (e *Engine) Sessions() *session.Manager { return e.sessions }

// Loader returns the flow loader, which may be nil.
func (e *Engine) Loader() ports.FlowLoader { return e.loader }

// Compile validates spec against the registered node types.
// Every error it returns matches domain.ErrCompile.
func (e *Engine) Compile(spec *domain.FlowSpec) (*Flow, error) {
	if spec == nil {
		return nil, fmt.Errorf("%w: nil flow", domain.ErrCompile)
	}
	plan, err := compiler.Compile(spec, e.registry)
	if err != nil {
		return nil, err
	}
	inputs, err := parseInputs(spec)
	if err != nil {
		return nil, err
	}
	return &Flow{plan: plan, inputs: inputs}, nil
}

// Load fetches a flow from the loader and compiles it.
func (e *Engine) Load(ctx context.Context, name string) (*Flow, error) {
	if e.loader == nil {
		return nil, ErrNoLoader
	}
	spec, err := e.loader.Load(ctx, name)
	if err != nil {
		return nil, err
	}
	return e.Compile(spec)
}

// Flows lists the names the loader knows.
func (e *Engine) Flows(ctx context.Context) ([]string, error) {
	if e.loader == nil {
		return nil, ErrNoLoader
	}
	return e.loader.List(ctx)
}

// Watch signals when the flows behind the loader change.
// It fails if the loader does not support watching.
func (e *Engine) Watch(ctx context.Context) (<-chan struct{}, error) {
	if w, ok := e.loader.(ports.Watchable); ok {
		return w.Watch(ctx)
	}
	return nil, fmt.Errorf("current loader does not support watching")
}

// Run starts flow and waits for its result.
func (e *Engine) Run(ctx context.Context, flow *Flow, input any, opts ...RunOption) (*domain.RunResult, error) {
	r, err := e.Start(ctx, flow, input, opts...)
	if err != nil {
		return nil, err
	}
	return r.Wait(ctx)
}
