package parallel

import (
	"context"
	"iter"

	"golang.org/x/sync/errgroup"
)

type result[D any] struct {
	d D
	e error
}

// Map is a parallel mapping function, which can run the mapFuncs in a parallel and wait for
// completions. The input and output are represented as iterators, so the typical usage is
// below. Map is context aware, so canceled context ends the processing. Input errors are skipped.
//
//	for result, err := range pmap.Iter(input) {}
type Map[E, D any] struct {
	parentCtx    context.Context
	cancelParent context.CancelFunc
	g            *errgroup.Group
	gctx         context.Context
	mapped       chan result[D]
	mapFunc      func(context.Context, E) (D, error)
}

func NewMap[E, D any](parentCtx context.Context, limit int, mapFunc func(context.Context, E) (D, error)) *Map[E, D] {
	parentCtx, cancelParent := context.WithCancel(parentCtx)
	g, gctx := errgroup.WithContext(parentCtx)
	g.SetLimit(limit + 1)

	mapped := make(chan result[D], limit)

	return &Map[E, D]{
		parentCtx:    parentCtx,
		cancelParent: cancelParent,
		g:            g,
		gctx:         gctx,
		mapped:       mapped,
		mapFunc:      mapFunc,
	}
}

func (s *Map[E, D]) goWorkers(seq iter.Seq2[E, error]) {
	s.g.Go(func() error {
		for entry, nerr := range seq {
			if nerr != nil {
				continue
			}
			if s.gctx.Err() != nil {
				return s.gctx.Err()
			}
			s.g.Go(func() error {
				d, err := s.mapFunc(s.gctx, entry)
				select {
				case <-s.gctx.Done():
					return s.gctx.Err()
				case s.mapped <- result[D]{d: d, e: err}:
				}
				return nil
			})
		}
		return nil
	})
}

// Iter starts the mapping and yields results in completion order.
func (s *Map[E, D]) Iter(seq iter.Seq2[E, error]) iter.Seq2[D, error] {
	return func(yield func(D, error) bool) {
		defer s.cancelParent()
		s.goWorkers(seq)

		go func() {
			_ = s.g.Wait()
			close(s.mapped)
		}()

		for {
			select {
			case <-s.parentCtx.Done():
				return
			case r, ok := <-s.mapped:
				if !ok || s.parentCtx.Err() != nil {
					return
				}
				if !yield(r.d, r.e) {
					return
				}
			}
		}
	}
}

// Range is an input sequence of 0..n-1, e.g. n workers to launch.
func Range(n int) iter.Seq2[int, error] {
	return func(yield func(int, error) bool) {
		for i := range n {
			if !yield(i, nil) {
				return
			}
		}
	}
}
