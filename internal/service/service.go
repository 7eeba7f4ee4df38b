package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"time"

	gocron "github.com/go-co-op/gocron/v2"
	"github.com/google/uuid"

	"github.com/CZERTAINLY/Mutiny/internal/control"
	"github.com/CZERTAINLY/Mutiny/internal/factory"
	"github.com/CZERTAINLY/Mutiny/internal/log"
	"github.com/CZERTAINLY/Mutiny/internal/model"
	"github.com/CZERTAINLY/Mutiny/internal/pool"
	"github.com/CZERTAINLY/Mutiny/internal/scheduler"
)

const shutdownTimeout = 5 * time.Second

type runOptions struct {
	runID     string
	listeners []model.ResultListener
	factory   func(*factory.Config)
	listen    string
}

type Option func(*runOptions)

// WithRunID sets the run id, a random UUID is used otherwise.
func WithRunID(id string) Option {
	return func(o *runOptions) {
		o.runID = id
	}
}

func WithListeners(listeners ...model.ResultListener) Option {
	return func(o *runOptions) {
		o.listeners = append(o.listeners, listeners...)
	}
}

// WithFactoryConfig adjusts how minions are launched.
func WithFactoryConfig(f func(*factory.Config)) Option {
	return func(o *runOptions) {
		o.factory = f
	}
}

// WithListenAddress sets the address of the control server, loopback with
// a random port by default.
func WithListenAddress(addr string) Option {
	return func(o *runOptions) {
		o.listen = addr
	}
}

// Run analyses units with a pool of minions and blocks until every unit is
// resolved, a run-fatal error occurs or ctx is done.
func Run(ctx context.Context, cfg model.Config, units []model.MutationUnit, opts ...Option) error {
	o := runOptions{listen: "127.0.0.1:0"}
	for _, opt := range opts {
		opt(&o)
	}
	if o.runID == "" {
		o.runID = uuid.NewString()
	}
	if len(units) == 0 {
		return model.ErrNoUnits
	}
	ctx = log.ContextAttrs(ctx, slog.String("run", o.runID))

	constant, err := cfg.Timeout.ConstantDuration()
	if err != nil {
		return fmt.Errorf("timeout.constant: %w", err)
	}
	interval, err := cfg.Reaper.IntervalDuration()
	if err != nil {
		return fmt.Errorf("reaper.interval: %w", err)
	}
	policy := pool.TimeoutPolicy{Percent: cfg.Timeout.Percent, Constant: constant}

	// the address must be known before the first minion starts
	ln, err := net.Listen("tcp", o.listen)
	if err != nil {
		return fmt.Errorf("reserving control address: %w", err)
	}

	sched := scheduler.New(units, Listeners(o.listeners))

	fcfg := factoryConfig(cfg, o.runID, "http://"+ln.Addr().String())
	if o.factory != nil {
		o.factory(&fcfg)
	}
	fac, err := factory.New(fcfg)
	if err != nil {
		_ = ln.Close()
		return err
	}

	p := pool.New(sched, fac, policy)
	srv := control.NewServer(ln, p, cfg.SharedConfig())
	srv.Start(ctx)
	defer func() {
		sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(sctx); err != nil {
			slog.WarnContext(ctx, "shutting down control server", "error", err)
		}
	}()
	defer func() {
		if err := p.Shutdown(); err != nil {
			slog.WarnContext(ctx, "shutting down pool", "error", err)
		}
	}()

	size := min(cfg.Pool.Size, len(units))
	slog.InfoContext(ctx, "starting analysis", "units", len(units), "minions", size,
		"address", srv.BaseURL(), "timeout_percent", policy.Percent, "timeout_constant", policy.Constant)
	if err := p.Start(ctx, size); err != nil {
		return fmt.Errorf("starting pool: %w", err)
	}

	reaper, err := newReaper(ctx, interval, func() { p.ReapZombies(ctx) })
	if err != nil {
		return err
	}
	reaper.Start()
	defer func() {
		if err := reaper.Shutdown(); err != nil {
			slog.ErrorContext(ctx, "shutting down gocron has failed", "error", err)
		}
	}()

	select {
	case <-sched.Completed():
		stats := sched.Stats()
		slog.InfoContext(ctx, "analysis finished", "resolved", stats.Resolved, "launch_failures", p.LaunchFailures())
		return nil
	case err := <-p.Fatal():
		return fmt.Errorf("analysis failed: %w", err)
	case <-ctx.Done():
		return ctx.Err()
	}
}

func factoryConfig(cfg model.Config, runID, address string) factory.Config {
	fcfg := factory.Config{
		RunID:      runID,
		Args:       cfg.Pool.Args,
		Env:        cfg.Pool.Env,
		SearchPath: cfg.Pool.SearchPath,
		InheritEnv: cfg.Pool.InheritEnv,
		Address:    address,
	}
	if cfg.Pool.Executable != nil {
		fcfg.Executable = *cfg.Pool.Executable
	}
	if cfg.Pool.Dir != nil {
		fcfg.Dir = *cfg.Pool.Dir
	}
	return fcfg
}

func newReaper(ctx context.Context, interval time.Duration, reap func()) (gocron.Scheduler, error) {
	if interval <= 0 {
		return nil, errors.New("reaper interval must be positive")
	}
	s, err := gocron.NewScheduler()
	if err != nil {
		return nil, fmt.Errorf("initializing gocron scheduler: %w", err)
	}
	_, err = s.NewJob(
		gocron.DurationJob(interval),
		gocron.NewTask(reap),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		return nil, fmt.Errorf("initializing gocron job: %w", err)
	}
	slog.DebugContext(ctx, "reaper scheduled", "interval", interval.String())
	return s, nil
}
