// Package scheduler hands mutation units to workers and walks each unit's
// covering tests until the mutant is killed or the tests run out.
package scheduler

import (
	"context"
	"fmt"
	"sync"

	"github.com/CZERTAINLY/Mutiny/internal/model"
)

// assignment is a worker's cursor over one unit.
type assignment struct {
	unit   model.MutationUnit
	cursor int
}

// Stats counts units by progress.
type Stats struct {
	Total       int
	Resolved    int
	Outstanding int
	Backlog     int
}

// Scheduler owns the backlog and every worker's assignment.
type Scheduler struct {
	mx       sync.Mutex
	backlog  []model.MutationUnit
	assigned map[string]*assignment
	listener model.ResultListener
	total    int
	resolved int

	done     chan struct{}
	doneOnce sync.Once
}

// New creates a scheduler over units in the given order. listener receives
// every Result exactly once, while the scheduler lock is held, so it must
// not call back into the scheduler.
func New(units []model.MutationUnit, listener model.ResultListener) *Scheduler {
	if listener == nil {
		listener = model.ResultListenerFunc(func(model.Result) {})
	}
	s := &Scheduler{
		backlog:  append([]model.MutationUnit(nil), units...),
		assigned: make(map[string]*assignment),
		listener: listener,
		total:    len(units),
		done:     make(chan struct{}),
	}
	s.mx.Lock()
	s.checkCompletion()
	s.mx.Unlock()
	return s
}

// Next returns the command the worker should run. A worker holding an
// assignment continues it, otherwise it gets the next unit from the backlog.
// An empty backlog yields DIE.
func (s *Scheduler) Next(worker string) model.Command {
	s.mx.Lock()
	defer s.mx.Unlock()

	if a, ok := s.assigned[worker]; ok {
		return a.command()
	}

	for len(s.backlog) > 0 {
		unit := s.backlog[0]
		s.backlog = s.backlog[1:]
		if len(unit.Tests) == 0 {
			s.emit(model.Result{Unit: unit, Status: model.DetectionSurvived})
			continue
		}
		a := &assignment{unit: unit}
		s.assigned[worker] = a
		return a.command()
	}

	s.checkCompletion()
	return model.Command{Action: model.ActionDie}
}

// Done records the outcome of a command previously returned by Next.
// Outcomes for commands the worker no longer holds are ignored.
func (s *Scheduler) Done(worker string, cmd model.Command, status model.ExecutionStatus) error {
	s.mx.Lock()
	defer s.mx.Unlock()

	switch cmd.Action {
	case model.ActionAnalyse:
		a, ok := s.assigned[worker]
		if !ok || a.unit.ID != cmd.Mutation || a.current() != cmd.Test {
			return nil
		}
		if status == model.StatusTestPassed && a.cursor+1 < len(a.unit.Tests) {
			a.cursor++
			return nil
		}
		delete(s.assigned, worker)
		result := model.Result{
			Unit:     a.unit,
			Status:   status.Detection(),
			TestsRun: a.cursor + 1,
		}
		if status == model.StatusTestFailed {
			killer := a.current()
			result.KillingTest = &killer
		}
		s.emit(result)
	case model.ActionDie:
		s.retire(worker)
	default:
		return fmt.Errorf("worker %s: action %q: %w", worker, cmd.Action, model.ErrProtocol)
	}

	s.checkCompletion()
	return nil
}

// Retire forgets a worker that is gone. A unit it still held is resolved
// as RUN_ERROR with the tests it completed, never requeued.
func (s *Scheduler) Retire(worker string) {
	s.mx.Lock()
	defer s.mx.Unlock()
	s.retire(worker)
	s.checkCompletion()
}

func (s *Scheduler) retire(worker string) {
	a, ok := s.assigned[worker]
	if !ok {
		return
	}
	delete(s.assigned, worker)
	s.emit(model.Result{Unit: a.unit, Status: model.DetectionRunError, TestsRun: a.cursor})
}

// AwaitCompletion blocks until every unit is resolved or ctx is done.
func (s *Scheduler) AwaitCompletion(ctx context.Context) error {
	select {
	case <-s.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Completed returns a channel closed once every unit is resolved.
func (s *Scheduler) Completed() <-chan struct{} {
	return s.done
}

// HasWork reports whether any unit is still unresolved.
func (s *Scheduler) HasWork() bool {
	s.mx.Lock()
	defer s.mx.Unlock()
	return len(s.backlog) > 0 || len(s.assigned) > 0
}

func (s *Scheduler) Stats() Stats {
	s.mx.Lock()
	defer s.mx.Unlock()
	return Stats{
		Total:       s.total,
		Resolved:    s.resolved,
		Outstanding: len(s.assigned),
		Backlog:     len(s.backlog),
	}
}

func (s *Scheduler) emit(r model.Result) {
	s.resolved++
	s.listener.Accept(r)
}

func (s *Scheduler) checkCompletion() {
	if len(s.backlog) != 0 || len(s.assigned) != 0 {
		return
	}
	s.doneOnce.Do(func() { close(s.done) })
}

func (a *assignment) current() model.CoveringTest {
	return a.unit.Tests[a.cursor]
}

func (a *assignment) command() model.Command {
	return model.Command{
		Mutation: a.unit.ID,
		Test:     a.current(),
		Action:   model.ActionAnalyse,
	}
}
