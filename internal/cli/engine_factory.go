package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	harness "github.com/Open-Harness/open-harness-sub011"
	"github.com/Open-Harness/open-harness-sub011/internal/config"
	"github.com/Open-Harness/open-harness-sub011/pkg/adapters/blob"
	"github.com/Open-Harness/open-harness-sub011/pkg/adapters/file"
	"github.com/Open-Harness/open-harness-sub011/pkg/adapters/memory"
	"github.com/Open-Harness/open-harness-sub011/pkg/adapters/process"
	"github.com/Open-Harness/open-harness-sub011/pkg/adapters/redis"
	"github.com/Open-Harness/open-harness-sub011/pkg/adapters/sqlite"
	"github.com/Open-Harness/open-harness-sub011/pkg/nodes"
	"github.com/Open-Harness/open-harness-sub011/pkg/persistence/middleware"
	"github.com/Open-Harness/open-harness-sub011/pkg/ports"
	"github.com/Open-Harness/open-harness-sub011/pkg/registry"
	"github.com/Open-Harness/open-harness-sub011/pkg/runner"
)

const (
	blobPrefix = "runs/"
	lockPrefix = "harness:lock:"
)

// Environment is what every command shares: the configuration, a logger and
// an engine wired to the configured loader, store and node types.
type Environment struct {
	Config *config.Config
	Logger *slog.Logger
	Engine *harness.Engine
	Tools  []string

	closers []func() error
}

// Setup builds the Environment for cfg. Close releases the store.
func Setup(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Environment, error) {
	env := &Environment{Config: cfg, Logger: logger}

	store, locker, err := env.openStore(ctx)
	if err != nil {
		return nil, err
	}
	store, err = wrapStore(store, cfg.Store)
	if err != nil {
		_ = env.Close()
		return nil, err
	}

	reg, err := env.newRegistry()
	if err != nil {
		_ = env.Close()
		return nil, err
	}

	opts := []harness.Option{
		harness.WithLogger(logger),
		harness.WithRegistry(reg),
		harness.WithLoader(file.NewLoader(cfg.Flows.Dir)),
		harness.WithStore(store),
		harness.WithMaxConcurrency(cfg.Runtime.MaxConcurrency),
		harness.WithMailboxCapacity(cfg.Runtime.MailboxCapacity),
	}
	if locker != nil {
		opts = append(opts, harness.WithLocker(locker, cfg.Lock.TTL))
	}

	env.Engine, err = harness.New(opts...)
	if err != nil {
		_ = env.Close()
		return nil, fmt.Errorf("error initializing engine: %w", err)
	}
	return env, nil
}

// Close releases every backend connection.
func (e *Environment) Close() error {
	var errs []error
	for i := len(e.closers) - 1; i >= 0; i-- {
		errs = append(errs, e.closers[i]())
	}
	e.closers = nil
	return errors.Join(errs...)
}

// Sanitizer applies the configured input size limit.
func (e *Environment) Sanitizer() runner.Sanitizer {
	return runner.Sanitizer{MaxSize: e.Config.Runtime.MaxInputSize}
}

func (e *Environment) openStore(ctx context.Context) (ports.RunStore, ports.DistributedLocker, error) {
	sc := e.Config.Store
	switch sc.Driver {
	case config.DriverMemory:
		return memory.NewStore(), nil, nil
	case config.DriverFile:
		return file.NewStore(sc.Path), nil, nil
	case config.DriverSQLite:
		st, err := sqlite.Open(sc.Path)
		if err != nil {
			return nil, nil, fmt.Errorf("open sqlite store: %w", err)
		}
		e.closers = append(e.closers, st.Close)
		return st, nil, nil
	case config.DriverBlob:
		st, err := blob.Open(ctx, sc.BucketURL, blobPrefix)
		if err != nil {
			return nil, nil, fmt.Errorf("open blob store: %w", err)
		}
		e.closers = append(e.closers, st.Close)
		return st, nil, nil
	case config.DriverRedis:
		st := redis.New(sc.RedisAddr, "", 0)
		e.closers = append(e.closers, st.Close)
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := st.Client().Ping(pingCtx).Err(); err != nil {
			return nil, nil, fmt.Errorf("connect to redis at %s: %w", sc.RedisAddr, err)
		}
		if !e.Config.Lock.Enabled {
			return st, nil, nil
		}
		return st, redis.NewLocker(st.Client(), lockPrefix), nil
	default:
		return nil, nil, fmt.Errorf("unknown store driver %q", sc.Driver)
	}
}

// wrapStore redacts before it encrypts, so masked values never reach the cipher.
func wrapStore(store ports.RunStore, sc config.StoreConfig) (ports.RunStore, error) {
	var mws []middleware.Middleware
	if len(sc.Redact) > 0 {
		mw, err := middleware.NewPIIMiddleware(sc.Redact)
		if err != nil {
			return nil, err
		}
		mws = append(mws, mw)
	}
	key, err := sc.Key()
	if err != nil {
		return nil, err
	}
	if key != nil {
		mw, err := middleware.NewEncryptionMiddleware(middleware.EncryptionConfig{ActiveKey: key})
		if err != nil {
			return nil, err
		}
		mws = append(mws, mw)
	}
	return middleware.Chain(store, mws...), nil
}

// newRegistry registers the built-in node types plus exec, guarded by an
// approval prompt unless exec.auto_approve is set.
func (e *Environment) newRegistry() (*registry.Registry, error) {
	reg := registry.NewRegistry()
	if err := nodes.Register(reg); err != nil {
		return nil, err
	}

	tools, err := process.LoadTools(e.Config.Exec.Tools)
	if err != nil {
		return nil, err
	}
	proc := process.NewRunner(process.WithTools(tools), process.WithBaseDir(e.Config.Flows.Dir))
	e.Tools = proc.Tools()

	guard := runner.ConfirmationMiddleware()
	if e.Config.Exec.AutoApprove {
		guard = runner.AutoApproveMiddleware()
	}
	if err := reg.Register(runner.Guard(proc.Definition(), guard)); err != nil {
		return nil, err
	}
	return reg, nil
}
