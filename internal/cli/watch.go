package cli

import (
	"context"
	"errors"

	harness "github.com/Open-Harness/open-harness-sub011"
	"github.com/Open-Harness/open-harness-sub011/internal/logging"
	"github.com/Open-Harness/open-harness-sub011/pkg/adapters/console"
	"github.com/Open-Harness/open-harness-sub011/pkg/domain"
)

type watchResult struct {
	res *domain.RunResult
	err error
}

// RunWatch runs the flow in development mode: a change to the flow files
// aborts the current run and starts a fresh one. It returns when ctx is done.
func RunWatch(ctx context.Context, env *Environment, opts RunOptions, input any) error {
	logger := env.Logger.With("component", "watch")
	changes, err := env.Engine.Watch(ctx)
	if err != nil {
		return err
	}
	if console.IsTerminal(opts.Out) {
		console.PrintBanner(opts.Out, harness.Version)
	}

	// One handler for every iteration, so stdin has a single reader.
	handler := newHandler(opts)

	logger.Info("Starting Watcher", "dir", env.Config.Flows.Dir, logging.Flow(opts.Flow))
	printSystemMessage(opts.Out, "Watching '%s' for changes.", env.Config.Flows.Dir)

	for {
		runCtx, cancel := context.WithCancel(ctx)
		done := make(chan watchResult, 1)
		go func() {
			res, err := runOnce(runCtx, env, opts, handler, input)
			done <- watchResult{res, err}
		}()

		select {
		case <-ctx.Done():
			cancel()
			<-done
			return nil

		case _, ok := <-changes:
			cancel()
			<-done
			if !ok {
				return nil
			}
			logger.Info("Change detected, restarting run")
			printSystemMessage(opts.Out, "Change detected, restarting '%s'.", opts.Flow)
			continue

		case r := <-done:
			cancel()
			switch {
			case r.err != nil && errors.Is(r.err, context.Canceled):
				return nil
			case r.err != nil:
				logger.Error("Run could not start", logging.Err(r.err))
				printSystemMessage(opts.Out, "Error: %v", r.err)
			default:
				logger.Info("Run finished", logging.Status(r.res.Status))
			}
			printSystemMessage(opts.Out, "Waiting for changes...")
		}

		select {
		case <-ctx.Done():
			return nil
		case _, ok := <-changes:
			if !ok {
				return nil
			}
			printSystemMessage(opts.Out, "Change detected, restarting '%s'.", opts.Flow)
		}
	}
}
