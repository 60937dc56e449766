package runner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	harness "github.com/Open-Harness/open-harness-sub011"
	"github.com/Open-Harness/open-harness-sub011/internal/logging"
	"github.com/Open-Harness/open-harness-sub011/pkg/domain"
	"github.com/Open-Harness/open-harness-sub011/pkg/ports"
)

// DefaultRetention is how long a finished run stays addressable in memory.
const DefaultRetention = 5 * time.Minute

// ErrClosed is returned by Start after Close.
var ErrClosed = errors.New("run manager closed")

// Manager tracks the runs started for remote clients.
// Runs outlive the request that started them: they run under the manager's
// own context until they finish or Close aborts them.
type Manager struct {
	engine    *harness.Engine
	logger    *slog.Logger
	sanitizer Sanitizer
	record    bool
	retention time.Duration
	channels  func() []ports.Channel

	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.RWMutex
	runs   map[string]*harness.Run
	closed bool
	wg     sync.WaitGroup
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithManagerLogger sets the logger.
func WithManagerLogger(logger *slog.Logger) ManagerOption {
	return func(m *Manager) {
		m.logger = logger
	}
}

// WithSanitizer sets the limits applied to injected text.
func WithSanitizer(s Sanitizer) ManagerOption {
	return func(m *Manager) {
		m.sanitizer = s
	}
}

// WithRecordRuns records every run into the engine store (the default).
func WithRecordRuns(record bool) ManagerOption {
	return func(m *Manager) {
		m.record = record
	}
}

// WithRetention sets how long finished runs stay in memory.
func WithRetention(d time.Duration) ManagerOption {
	return func(m *Manager) {
		m.retention = d
	}
}

// WithRunChannels attaches fresh channels from factory to every run,
// e.g. a metrics channel per run.
func WithRunChannels(factory func() []ports.Channel) ManagerOption {
	return func(m *Manager) {
		m.channels = factory
	}
}

// NewManager creates a manager starting runs on engine.
func NewManager(engine *harness.Engine, opts ...ManagerOption) *Manager {
	m := &Manager{
		engine:    engine,
		logger:    logging.NewNop(),
		record:    true,
		retention: DefaultRetention,
		runs:      make(map[string]*harness.Run),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.ctx, m.cancel = context.WithCancel(context.Background())
	return m
}

// Engine returns the engine runs are started on.
func (m *Manager) Engine() *harness.Engine { return m.engine }

// Start loads the named flow and starts it in the background.
func (m *Manager) Start(ctx context.Context, flowName string, input any, opts ...harness.RunOption) (*harness.Run, error) {
	flow, err := m.engine.Load(ctx, flowName)
	if err != nil {
		return nil, err
	}
	return m.StartFlow(flow, input, opts...)
}

// StartFlow starts a compiled flow in the background.
func (m *Manager) StartFlow(flow *harness.Flow, input any, opts ...harness.RunOption) (*harness.Run, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, ErrClosed
	}

	if m.record {
		opts = append([]harness.RunOption{harness.WithRecording()}, opts...)
	}
	if m.channels != nil {
		opts = append(opts, harness.WithChannels(m.channels()...))
	}
	run, err := m.engine.Start(m.ctx, flow, input, opts...)
	if err != nil {
		return nil, err
	}
	m.runs[run.ID()] = run
	m.wg.Add(1)
	go m.track(run)

	m.logger.Info("run started", logging.RunID(run.ID()), logging.Flow(flow.Name()))
	return run, nil
}

func (m *Manager) track(run *harness.Run) {
	defer m.wg.Done()
	<-run.Done()
	time.AfterFunc(m.retention, func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		if m.runs[run.ID()] == run {
			delete(m.runs, run.ID())
		}
	})
}

// Get returns an in-memory run.
func (m *Manager) Get(runID string) (*harness.Run, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	run, ok := m.runs[runID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrRunNotFound, runID)
	}
	return run, nil
}

// Active returns views of every in-memory run, sorted by id.
func (m *Manager) Active() []RunView {
	m.mu.RLock()
	runs := make([]*harness.Run, 0, len(m.runs))
	for _, run := range m.runs {
		runs = append(runs, run)
	}
	m.mu.RUnlock()

	views := make([]RunView, len(runs))
	for i, run := range runs {
		views[i] = liveView(run)
	}
	sort.Slice(views, func(i, j int) bool { return views[i].RunID < views[j].RunID })
	return views
}

// View describes a run: from memory when it is tracked, else from the store.
func (m *Manager) View(ctx context.Context, runID string) (*RunView, error) {
	if run, err := m.Get(runID); err == nil {
		view := liveView(run)
		return &view, nil
	}
	snap, err := m.engine.Store().GetSnapshot(ctx, runID)
	if err != nil {
		return nil, err
	}
	view := snapshotView(snap)
	return &view, nil
}

// Send delivers a sanitized message to the most recent running agent of a run.
func (m *Manager) Send(runID string, msg domain.Message) error {
	return m.command(runID, func(run *harness.Run) error {
		clean, err := m.cleanMessage(msg)
		if err != nil {
			return err
		}
		run.Hub().Send(clean)
		return nil
	})
}

// SendTo delivers a sanitized message to one invocation mailbox.
func (m *Manager) SendTo(runID, invocationID string, msg domain.Message) error {
	return m.command(runID, func(run *harness.Run) error {
		clean, err := m.cleanMessage(msg)
		if err != nil {
			return err
		}
		run.Hub().SendToRun(invocationID, clean)
		return nil
	})
}

// Reply answers a pending prompt of a run.
func (m *Manager) Reply(runID, promptID string, response any) error {
	return m.command(runID, func(run *harness.Run) error {
		clean, err := m.sanitizer.Value(response)
		if err != nil {
			return err
		}
		run.Hub().Reply(promptID, clean)
		return nil
	})
}

// Abort cancels a run.
func (m *Manager) Abort(runID, reason string) error {
	return m.command(runID, func(run *harness.Run) error {
		clean, err := m.sanitizer.String(reason)
		if err != nil {
			return err
		}
		run.Abort(clean)
		return nil
	})
}

func (m *Manager) command(runID string, fn func(*harness.Run) error) error {
	run, err := m.Get(runID)
	if err != nil {
		return err
	}
	return fn(run)
}

func (m *Manager) cleanMessage(msg domain.Message) (domain.Message, error) {
	content, err := m.sanitizer.Value(msg.Content)
	if err != nil {
		return msg, err
	}
	from, err := m.sanitizer.String(msg.From)
	if err != nil {
		return msg, err
	}
	return domain.Message{Content: content, From: from}, nil
}

// Close aborts every unfinished run and waits for them, or for ctx.
func (m *Manager) Close(ctx context.Context) error {
	m.mu.Lock()
	m.closed = true
	for _, run := range m.runs {
		run.Abort("shutdown")
	}
	m.mu.Unlock()

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()
	defer m.cancel()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
