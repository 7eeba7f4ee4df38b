// Package factory launches minion processes and hands them to the pool.
package factory

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"os"
	"slices"
	"strings"
	"sync/atomic"

	"github.com/CZERTAINLY/Mutiny/internal/log"
	"github.com/CZERTAINLY/Mutiny/internal/proc"
)

var ErrLaunch = errors.New("minion launch failed")

const (
	DefaultSubcommand = "_minion"
	EnvSearchPath     = "MUTINY_SEARCH_PATH"
	EnvRunID          = "MUTINY_RUN_ID"
)

// Inviter receives every started minion before it can say hello.
type Inviter interface {
	Invite(name string, p proc.Process)
}

type Config struct {
	RunID      string
	Executable string
	// Args go before the subcommand, e.g. global flags of the binary.
	Args       []string
	Subcommand string
	Dir        string
	Env        map[string]string
	SearchPath []string
	InheritEnv bool
	// Address is where minions call home.
	Address string
	// Stderr receives minion stderr lines, they are logged on debug level when nil.
	Stderr proc.StderrFunc
}

type Factory struct {
	cfg     Config
	counter atomic.Uint64
}

func New(cfg Config) (*Factory, error) {
	if cfg.Address == "" {
		return nil, errors.New("factory: address is empty")
	}
	if cfg.Executable == "" {
		exe, err := os.Executable()
		if err != nil {
			return nil, fmt.Errorf("factory: resolving executable: %w", err)
		}
		cfg.Executable = exe
	}
	if cfg.Subcommand == "" {
		cfg.Subcommand = DefaultSubcommand
	}
	if cfg.Stderr == nil {
		cfg.Stderr = logStderr
	}
	return &Factory{cfg: cfg}, nil
}

// RequestNewMinion starts one minion under a fresh name and invites it.
// The process outlives ctx; it is stopped through its proc.Process.
func (f *Factory) RequestNewMinion(ctx context.Context, inviter Inviter) error {
	name := fmt.Sprintf("minion-%d", f.counter.Add(1))
	ctx = log.ContextAttrs(ctx, slog.String("minion", name))

	cmd := f.Command(name)
	h, err := proc.Start(context.WithoutCancel(ctx), cmd, f.cfg.Stderr)
	if err != nil {
		return fmt.Errorf("%w: %s: %w", ErrLaunch, name, err)
	}
	slog.InfoContext(ctx, "minion launched", "pid", h.Pid())
	inviter.Invite(name, h)
	return nil
}

// Command assembles the command line and environment of a minion.
func (f *Factory) Command(name string) proc.Command {
	args := slices.Clone(f.cfg.Args)
	args = append(args, f.cfg.Subcommand, name, f.cfg.Address)
	return proc.Command{
		Path: f.cfg.Executable,
		Args: args,
		Env:  f.environ(),
		Dir:  f.cfg.Dir,
	}
}

func (f *Factory) environ() []string {
	var env []string
	if f.cfg.InheritEnv {
		env = os.Environ()
	}
	for _, k := range slices.Sorted(maps.Keys(f.cfg.Env)) {
		env = append(env, k+"="+f.cfg.Env[k])
	}
	if len(f.cfg.SearchPath) > 0 {
		env = append(env, EnvSearchPath+"="+strings.Join(f.cfg.SearchPath, string(os.PathListSeparator)))
	}
	if f.cfg.RunID != "" {
		env = append(env, EnvRunID+"="+f.cfg.RunID)
	}
	if env == nil {
		// exec treats a nil environment as inherit
		env = []string{}
	}
	return env
}

func logStderr(ctx context.Context, line string) {
	slog.DebugContext(ctx, "minion stderr", "line", line)
}
