package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"

	httpadapter "github.com/Open-Harness/open-harness-sub011/pkg/adapters/http"
	"github.com/Open-Harness/open-harness-sub011/pkg/adapters/mcp"
	"github.com/Open-Harness/open-harness-sub011/pkg/observability"
	"github.com/Open-Harness/open-harness-sub011/pkg/ports"
	"github.com/Open-Harness/open-harness-sub011/pkg/runner"
)

// NewManager creates the run manager shared by the network surfaces. Every
// run it starts feeds the returned metrics registry.
func NewManager(env *Environment) (*runner.Manager, *prometheus.Registry) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := observability.NewMetrics(reg)

	m := runner.NewManager(env.Engine,
		runner.WithManagerLogger(env.Logger),
		runner.WithSanitizer(env.Sanitizer()),
		runner.WithRunChannels(func() []ports.Channel {
			return []ports.Channel{metrics.Channel()}
		}),
	)
	return m, reg
}

// Serve runs the HTTP API on addr until ctx is done, then stops accepting
// requests and aborts the runs still in flight.
func Serve(ctx context.Context, env *Environment, addr string) error {
	m, reg := NewManager(env)
	handler, err := httpadapter.NewHandler(m, httpadapter.WithLogger(env.Logger), httpadapter.WithMetrics(reg))
	if err != nil {
		return err
	}

	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		env.Logger.Info("Starting HTTP server", "addr", addr, "flows", env.Config.Flows.Dir)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		env.Logger.Info("Start shutdown...")

		// Give outstanding requests a deadline for completion.
		shutdownCtx, cancel := context.WithTimeout(context.Background(), env.Config.HTTP.ShutdownTimeout)
		defer cancel()

		err := srv.Shutdown(shutdownCtx)
		if err != nil {
			env.Logger.Warn("Graceful shutdown did not complete", "timeout", env.Config.HTTP.ShutdownTimeout, "err", err)
			_ = srv.Close()
		}
		return errors.Join(err, m.Close(shutdownCtx))
	})

	if err := g.Wait(); err != nil {
		return err
	}
	env.Logger.Info("HTTP server stopped gracefully")
	return nil
}

// ServeMCP exposes the flows as MCP tools over stdio, or over SSE on addr.
func ServeMCP(ctx context.Context, env *Environment, transport, addr string) error {
	m, _ := NewManager(env)
	defer func() { _ = m.Close(context.Background()) }()

	srv := mcp.NewServer(m, mcp.WithLogger(env.Logger))
	switch transport {
	case "stdio":
		env.Logger.Info("Starting MCP server (stdio)")
		return srv.ServeStdio()
	case "sse":
		return srv.ServeSSE(ctx, addr)
	default:
		return fmt.Errorf("unknown transport %q (supported: stdio, sse)", transport)
	}
}
