package runner

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	harness "github.com/Open-Harness/open-harness-sub011"
	"github.com/Open-Harness/open-harness-sub011/internal/logging"
	"github.com/Open-Harness/open-harness-sub011/pkg/domain"
	"github.com/Open-Harness/open-harness-sub011/pkg/ports"
)

// Runner drives one run at a time against an IOHandler.
type Runner struct {
	// Handler is the strategy for IO. Defaults to a TextHandler on stdin/stdout.
	Handler IOHandler

	// Logger is used for internal debug logging.
	// If nil, a no-op logger is used.
	Logger *slog.Logger

	// Signals aborts the run on SIGINT/SIGTERM.
	Signals bool

	runOptions []harness.RunOption
}

// Option defines a functional option for configuring the Runner.
type Option func(*Runner)

// WithLogger configures the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Runner) {
		r.Logger = logger
	}
}

// WithInputHandler configures a custom IOHandler.
func WithInputHandler(handler IOHandler) Option {
	return func(r *Runner) {
		r.Handler = handler
	}
}

// WithSignals aborts the run when the process is interrupted.
func WithSignals(enabled bool) Option {
	return func(r *Runner) {
		r.Signals = enabled
	}
}

// WithRunOptions forwards options (recording, replay, session id) to every run.
func WithRunOptions(opts ...harness.RunOption) Option {
	return func(r *Runner) {
		r.runOptions = append(r.runOptions, opts...)
	}
}

// New creates a Runner.
func New(opts ...Option) *Runner {
	r := &Runner{}
	for _, opt := range opts {
		opt(r)
	}
	if r.Handler == nil {
		r.Handler = NewTextHandler(os.Stdout, WithStdin())
	}
	if r.Logger == nil {
		r.Logger = logging.NewNop()
	}
	return r
}

// Run starts flow and blocks until it finishes. Prompts are answered with the
// handler input; closed input aborts the run.
func (r *Runner) Run(ctx context.Context, engine *harness.Engine, flow *harness.Flow, input any) (*domain.RunResult, error) {
	runCtx, stop := context.WithCancel(ctx)
	defer stop()

	opts := append([]harness.RunOption{harness.WithChannels(r.Channel(runCtx))}, r.runOptions...)
	run, err := engine.Start(runCtx, flow, input, opts...)
	if err != nil {
		return nil, err
	}

	var interrupted <-chan struct{}
	if r.Signals {
		sigCtx, cancel := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
		defer cancel()
		interrupted = sigCtx.Done()
	}

	select {
	case <-run.Done():
	case <-interrupted:
		r.Logger.Info("interrupt received, aborting run", logging.RunID(run.ID()))
		run.Abort("interrupted")
	}
	// Wait must not give up before the run has settled.
	return run.Wait(context.WithoutCancel(ctx))
}

// Channel renders every event through the handler and answers prompts.
// Answers are read until ctx is done.
func (r *Runner) Channel(ctx context.Context) ports.Channel {
	var controls ports.Controls

	return ports.Channel{
		Name: "runner",
		OnStart: func(_ context.Context, c ports.Controls) {
			controls = c
		},
		On: map[string]func(domain.Event){
			"*": func(ev domain.Event) {
				needsInput, err := r.Handler.Output(ctx, ev)
				if err != nil {
					r.Logger.Warn("output failed", logging.Err(err))
					return
				}
				prompt, ok := ev.Payload.(*domain.SessionPrompt)
				if !needsInput || !ok || controls == nil {
					return
				}
				// Listeners run inline with emission; reading input must not block it.
				go r.answer(ctx, controls, prompt.PromptID)
			},
		},
	}
}

func (r *Runner) answer(ctx context.Context, controls ports.Controls, promptID string) {
	text, err := r.Handler.Input(ctx)
	switch {
	case err == nil:
		controls.Reply(promptID, text)
	case errors.Is(err, io.EOF):
		controls.Abort("input closed")
	case ctx.Err() != nil:
	default:
		r.Logger.Warn("input failed", logging.Err(err))
		controls.Abort(err.Error())
	}
}
