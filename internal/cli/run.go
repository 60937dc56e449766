package cli

import (
	"context"
	"errors"
	"io"
	"os"

	harness "github.com/Open-Harness/open-harness-sub011"
	"github.com/Open-Harness/open-harness-sub011/pkg/adapters/console"
	"github.com/Open-Harness/open-harness-sub011/pkg/domain"
	"github.com/Open-Harness/open-harness-sub011/pkg/runner"
)

// RunOptions contains all the configuration for the run command.
type RunOptions struct {
	Flow      string
	Input     string // inline JSON or @file
	JSON      bool
	Verbose   bool
	Record    bool
	Replay    string
	RunID     string
	SessionID string
	Watch     bool

	In  io.Reader
	Out io.Writer
}

// Execute handles the run command, dispatching to a single run or watch mode.
func Execute(ctx context.Context, env *Environment, opts RunOptions) error {
	if opts.In == nil {
		opts.In = os.Stdin
	}
	if opts.Out == nil {
		opts.Out = os.Stdout
	}
	input, err := ParseInput(opts.Input)
	if err != nil {
		return err
	}

	if opts.Watch {
		if opts.JSON {
			return errors.New("--watch and --json cannot be used together")
		}
		return RunWatch(ctx, env, opts, input)
	}

	res, err := runOnce(ctx, env, opts, newHandler(opts), input)
	if err != nil {
		return err
	}
	if opts.Record && !opts.JSON {
		printSystemMessage(opts.Out, "Recorded as '%s'.", res.RunID)
	}
	return outcome(res)
}

func newHandler(opts RunOptions) runner.IOHandler {
	if opts.JSON {
		return runner.NewJSONHandler(opts.In, opts.Out)
	}
	hopts := append(console.HandlerOptions(opts.Out),
		runner.WithReader(opts.In),
		runner.WithVerbose(opts.Verbose),
	)
	return runner.NewTextHandler(opts.Out, hopts...)
}

func runOnce(ctx context.Context, env *Environment, opts RunOptions, handler runner.IOHandler, input any) (*domain.RunResult, error) {
	flow, err := env.Engine.Load(ctx, opts.Flow)
	if err != nil {
		return nil, err
	}

	var runOpts []harness.RunOption
	if opts.RunID != "" {
		runOpts = append(runOpts, harness.WithRunID(opts.RunID))
	}
	if opts.SessionID != "" {
		runOpts = append(runOpts, harness.WithSessionID(opts.SessionID))
	}
	if opts.Record {
		runOpts = append(runOpts, harness.WithRecording())
	}
	if opts.Replay != "" {
		runOpts = append(runOpts, harness.WithReplay(opts.Replay))
	}

	r := runner.New(
		runner.WithInputHandler(handler),
		runner.WithLogger(env.Logger),
		runner.WithRunOptions(runOpts...),
	)
	return r.Run(ctx, env.Engine, flow, input)
}
