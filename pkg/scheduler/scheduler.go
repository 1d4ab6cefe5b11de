// Package scheduler runs one task per board under a bounded-parallelism
// limit, generalizing the teacher's hand-rolled sync.WaitGroup+mutex
// fan-out in Network.Scan into the idiomatic golang.org/x/sync/errgroup
// form used elsewhere in the example pack.
package scheduler

import (
	"context"
	"errors"
	"sync"

	"golang.org/x/sync/errgroup"
)

// Task is one board's unit of work.
type Task struct {
	Label string
	Run   func(ctx context.Context) error
}

// Scheduler runs Tasks with at most Limit running concurrently.
type Scheduler struct {
	Limit int
}

// New constructs a Scheduler bounded to the given PARALLEL_SIZE.
func New(limit int) *Scheduler {
	return &Scheduler{Limit: limit}
}

// Run executes every task, returning the first error encountered with
// every other task's error attached via errors.Join — the idiomatic
// equivalent of "first exception thrown, the rest suppressed", since Go
// has no checked suppressed-exception list. Ordering across boards is
// unconstrained.
func (s *Scheduler) Run(ctx context.Context, tasks []Task) error {
	g, gctx := errgroup.WithContext(ctx)
	if s.Limit > 0 {
		g.SetLimit(s.Limit)
	}

	var mu sync.Mutex
	var errs []error

	for _, task := range tasks {
		task := task
		g.Go(func() error {
			if err := task.Run(gctx); err != nil {
				mu.Lock()
				errs = append(errs, labeledError{task.Label, err})
				mu.Unlock()
				return err
			}
			return nil
		})
	}

	_ = g.Wait()
	if len(errs) == 0 {
		return nil
	}
	joined := make([]error, len(errs))
	for i, e := range errs {
		joined[i] = e
	}
	return errors.Join(joined...)
}

type labeledError struct {
	label string
	err   error
}

func (e labeledError) Error() string { return e.label + ": " + e.err.Error() }
func (e labeledError) Unwrap() error { return e.err }
