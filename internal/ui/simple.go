package ui

import (
	"fmt"
	"io"
	"sync"

	"github.com/CZERTAINLY/Mutiny/internal/model"
)

// Simple prints one line per resolved mutant.
type Simple struct {
	w     io.Writer
	mx    sync.Mutex
	total int
	done  int
}

func NewSimple(w io.Writer) *Simple {
	return &Simple{w: w}
}

func (s *Simple) Start(total int) error {
	s.mx.Lock()
	defer s.mx.Unlock()
	s.total = total
	_, err := fmt.Fprintf(s.w, "Analysing %d mutants\n", total)
	return err
}

func (s *Simple) Accept(r model.Result) {
	s.mx.Lock()
	defer s.mx.Unlock()
	s.done++
	_, _ = fmt.Fprintf(s.w, "[%d/%d] %-12s %s%s\n", s.done, s.total, r.Status, r.Unit.ID, detail(r))
}

func (s *Simple) Close() {}

func detail(r model.Result) string {
	switch {
	case r.KillingTest != nil:
		return " by " + r.KillingTest.String()
	case r.TestsRun == 1:
		return " after 1 test"
	case r.TestsRun > 1:
		return fmt.Sprintf(" after %d tests", r.TestsRun)
	default:
		return ""
	}
}
