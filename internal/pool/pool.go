// Package pool supervises minions: it tracks the command each one is
// working on, reaps the crashed and the hung, and launches replacements.
package pool

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/CZERTAINLY/Mutiny/internal/factory"
	"github.com/CZERTAINLY/Mutiny/internal/log"
	"github.com/CZERTAINLY/Mutiny/internal/model"
	"github.com/CZERTAINLY/Mutiny/internal/parallel"
	"github.com/CZERTAINLY/Mutiny/internal/proc"
)

var (
	ErrUnknownWorker = errors.New("unknown worker")
	ErrPoolExhausted = errors.New("no live minion left while work remains")
)

// Scheduler decides what each minion works on and records the outcomes.
type Scheduler interface {
	Next(worker string) model.Command
	Done(worker string, cmd model.Command, status model.ExecutionStatus) error
	Retire(worker string)
	HasWork() bool
}

// Factory launches minions and invites them into the pool.
type Factory interface {
	RequestNewMinion(ctx context.Context, inviter factory.Inviter) error
}

// WorkerState is the lifecycle of a minion, names are never reused.
type WorkerState int

const (
	StateStarting WorkerState = iota
	StateActive
	StateDead
)

func (s WorkerState) String() string {
	switch s {
	case StateStarting:
		return "STARTING"
	case StateActive:
		return "ACTIVE"
	case StateDead:
		return "DEAD"
	default:
		return fmt.Sprintf("WorkerState(%d)", int(s))
	}
}

// Worker is a snapshot of one minion.
type Worker struct {
	Name  string
	State WorkerState
	Pid   int
	Busy  bool
}

type worker struct {
	name    string
	state   WorkerState
	proc    proc.Process
	pulling bool // asking the scheduler for a command
}

// job is a command issued to a worker and not resolved yet. A claimed job
// is being reported or reaped and stays in the table until the scheduler
// has the outcome.
type job struct {
	worker  string
	cmd     model.Command
	issued  time.Time
	allowed time.Duration
	claimed bool
}

func (j *job) overdue(now time.Time) bool {
	return now.After(j.issued.Add(j.allowed))
}

// Option configures a Pool.
type Option func(*Pool)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(p *Pool) {
		p.now = now
	}
}

// Pool tracks minions and their outstanding commands.
type Pool struct {
	sched   Scheduler
	factory Factory
	policy  TimeoutPolicy
	now     func() time.Time

	mx             sync.Mutex
	workers        map[string]*worker
	jobs           map[string]*job
	launchFailures int

	fatal chan error
}

func New(sched Scheduler, f Factory, policy TimeoutPolicy, opts ...Option) *Pool {
	p := &Pool{
		sched:   sched,
		factory: f,
		policy:  policy,
		now:     time.Now,
		workers: make(map[string]*worker),
		jobs:    make(map[string]*job),
		fatal:   make(chan error, 1),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Start launches n minions concurrently. Any failure is returned, minions
// that did start stay in the pool.
func (p *Pool) Start(ctx context.Context, n int) error {
	launch := func(ctx context.Context, _ int) (struct{}, error) {
		return struct{}{}, p.factory.RequestNewMinion(ctx, p)
	}
	var errs []error
	for _, err := range parallel.NewMap(ctx, n, launch).Iter(parallel.Range(n)) {
		if err != nil {
			errs = append(errs, err)
		}
	}
	if err := ctx.Err(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// Invite records a freshly started minion.
func (p *Pool) Invite(name string, pr proc.Process) {
	p.mx.Lock()
	defer p.mx.Unlock()
	if _, ok := p.workers[name]; ok {
		slog.Warn("minion already invited: ignoring", "minion", name)
		return
	}
	p.workers[name] = &worker{name: name, state: StateStarting, proc: pr}
}

// Join marks an invited minion as active.
func (p *Pool) Join(name string) error {
	p.mx.Lock()
	defer p.mx.Unlock()
	w, ok := p.workers[name]
	if !ok || w.state == StateDead {
		return fmt.Errorf("%s: %w", name, ErrUnknownWorker)
	}
	w.state = StateActive
	return nil
}

// Next returns the command for a minion and starts its timeout. Unknown
// and retired minions are told to die.
func (p *Pool) Next(ctx context.Context, name string) (model.Command, error) {
	p.mx.Lock()
	w, ok := p.workers[name]
	if !ok || w.state == StateDead {
		p.mx.Unlock()
		return model.Command{Action: model.ActionDie}, nil
	}
	if j, ok := p.jobs[name]; ok {
		// repeated pull, the previous reply got lost
		p.mx.Unlock()
		return j.cmd, nil
	}
	w.state = StateActive
	w.pulling = true
	p.mx.Unlock()

	cmd := p.sched.Next(name)

	p.mx.Lock()
	w.pulling = false
	if w.state == StateDead {
		p.mx.Unlock()
		p.sched.Retire(name)
		return model.Command{Action: model.ActionDie}, nil
	}
	p.jobs[name] = &job{
		worker:  name,
		cmd:     cmd,
		issued:  p.now(),
		allowed: p.policy.Allowed(cmd),
	}
	p.mx.Unlock()
	slog.DebugContext(ctx, "command issued", "minion", name, "command", cmd.String())
	return cmd, nil
}

// Report records the outcome of the minion's current command. A report
// without an outstanding command is ignored.
func (p *Pool) Report(ctx context.Context, name string, action model.Action, status model.ExecutionStatus) error {
	if action != model.ActionAnalyse && action != model.ActionDie {
		return p.raise(fmt.Errorf("minion %s reported action %q: %w", name, action, model.ErrProtocol))
	}

	p.mx.Lock()
	j, ok := p.jobs[name]
	if !ok || j.claimed {
		p.mx.Unlock()
		slog.DebugContext(ctx, "late report: ignoring", "minion", name, "status", status)
		return nil
	}
	if j.cmd.Action != action {
		p.mx.Unlock()
		return p.raise(fmt.Errorf("minion %s reported %s while running %s: %w", name, action, j.cmd.Action, model.ErrProtocol))
	}
	j.claimed = true
	p.mx.Unlock()

	err := p.sched.Done(name, j.cmd, status)
	p.release(j)
	if err != nil {
		return p.raise(err)
	}
	if action == model.ActionDie {
		p.retire(ctx, name)
	}
	return nil
}

// ReapZombies resolves commands of minions that died or ran out of time,
// and replaces those minions.
func (p *Pool) ReapZombies(ctx context.Context) {
	now := p.now()

	p.mx.Lock()
	jobs := slices.Collect(maps.Values(p.jobs))
	var idle []*worker
	for _, w := range p.workers {
		if _, busy := p.jobs[w.name]; !busy && w.state != StateDead {
			idle = append(idle, w)
		}
	}
	p.mx.Unlock()

	for _, j := range jobs {
		p.reapJob(ctx, j, now)
	}
	for _, w := range idle {
		if w.proc.IsAlive() {
			continue
		}
		p.mx.Lock()
		_, busy := p.jobs[w.name]
		if busy || w.pulling || w.state == StateDead {
			p.mx.Unlock()
			continue
		}
		w.state = StateDead
		p.mx.Unlock()

		wctx := log.ContextAttrs(ctx, slog.String("minion", w.name))
		slog.WarnContext(wctx, "idle minion died")
		p.bury(wctx, w)
		p.replace(wctx)
	}
	p.checkExhausted()
}

func (p *Pool) reapJob(ctx context.Context, j *job, now time.Time) {
	p.mx.Lock()
	w := p.workers[j.worker]
	p.mx.Unlock()
	if w == nil {
		return
	}

	var status model.ExecutionStatus
	switch {
	case !w.proc.IsAlive():
		status = model.StatusUnexpectedError
	case j.overdue(now):
		status = model.StatusTimedOut
	default:
		return
	}

	p.mx.Lock()
	if p.jobs[j.worker] != j || j.claimed || w.state == StateDead {
		// reported or reaped meanwhile
		p.mx.Unlock()
		return
	}
	// DEAD before the outcome is recorded: a pull from now on gets DIE
	j.claimed = true
	w.state = StateDead
	p.mx.Unlock()

	ctx = log.ContextAttrs(ctx, slog.String("minion", j.worker))
	slog.WarnContext(ctx, "reaping minion", "status", status, "command", j.cmd.String(),
		"issued", j.issued, "allowed", j.allowed)
	p.kill(ctx, w)
	if err := p.sched.Done(j.worker, j.cmd, status); err != nil {
		_ = p.raise(err)
	}
	p.release(j)
	p.sched.Retire(j.worker)
	if j.cmd.Action != model.ActionDie {
		p.replace(ctx)
	}
}

func (p *Pool) retire(ctx context.Context, name string) {
	p.mx.Lock()
	w, ok := p.workers[name]
	if !ok || w.state == StateDead {
		p.mx.Unlock()
		return
	}
	w.state = StateDead
	p.mx.Unlock()
	p.bury(ctx, w)
}

// bury kills a minion already marked DEAD and resolves whatever it held.
func (p *Pool) bury(ctx context.Context, w *worker) {
	p.kill(ctx, w)
	p.sched.Retire(w.name)
}

func (p *Pool) kill(ctx context.Context, w *worker) {
	if err := w.proc.Kill(); err != nil {
		slog.ErrorContext(ctx, "killing minion", "minion", w.name, "error", err)
	}
}

// release drops a claimed job once the scheduler has its outcome.
func (p *Pool) release(j *job) {
	p.mx.Lock()
	defer p.mx.Unlock()
	if p.jobs[j.worker] == j {
		delete(p.jobs, j.worker)
	}
}

func (p *Pool) replace(ctx context.Context) {
	if !p.sched.HasWork() {
		return
	}
	err := p.factory.RequestNewMinion(ctx, p)
	if err == nil {
		return
	}
	p.mx.Lock()
	p.launchFailures++
	failures := p.launchFailures
	p.mx.Unlock()
	slog.ErrorContext(ctx, "replacing minion", "error", err, "failures", failures)
}

func (p *Pool) checkExhausted() {
	if p.Size() == 0 && p.sched.HasWork() {
		_ = p.raise(ErrPoolExhausted)
	}
}

func (p *Pool) raise(err error) error {
	select {
	case p.fatal <- err:
	default:
	}
	return err
}

// Fatal delivers the first run-fatal error.
func (p *Pool) Fatal() <-chan error {
	return p.fatal
}

// Shutdown kills every minion still alive.
func (p *Pool) Shutdown() error {
	p.mx.Lock()
	var procs []proc.Process
	for _, w := range p.workers {
		if w.state != StateDead {
			w.state = StateDead
			procs = append(procs, w.proc)
		}
	}
	clear(p.jobs)
	p.mx.Unlock()

	var errs []error
	for _, pr := range procs {
		if err := pr.Kill(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Size is the number of minions not retired.
func (p *Pool) Size() int {
	p.mx.Lock()
	defer p.mx.Unlock()
	n := 0
	for _, w := range p.workers {
		if w.state != StateDead {
			n++
		}
	}
	return n
}

func (p *Pool) LaunchFailures() int {
	p.mx.Lock()
	defer p.mx.Unlock()
	return p.launchFailures
}

// Workers returns a snapshot ordered by name.
func (p *Pool) Workers() []Worker {
	p.mx.Lock()
	defer p.mx.Unlock()
	ret := make([]Worker, 0, len(p.workers))
	for _, w := range p.workers {
		_, busy := p.jobs[w.name]
		ret = append(ret, Worker{Name: w.name, State: w.state, Pid: w.proc.Pid(), Busy: busy})
	}
	slices.SortFunc(ret, func(a, b Worker) int {
		return cmp.Compare(a.Name, b.Name)
	})
	return ret
}
