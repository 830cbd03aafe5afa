// Package dispatch runs a fixed-size pool of workers over an independent
// unit of work (one shard, in both create and extract sessions). Shards
// have no dependency graph between them - a file belongs to exactly one
// shard and shards share no state - so the pool needs no topological
// scheduling, just a worker count and a task queue.
package dispatch

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// Task is one unit of dispatchable work, identified by ID so callers can
// correlate it with a progress event.
type Task struct {
	ID  uint32
	Run func(ctx context.Context) error
}

// Pool runs tasks across a fixed number of workers.
type Pool struct {
	Workers int
}

// NewPool returns a Pool with the given worker count, clamped to at least
// one.
func NewPool(workers int) *Pool {
	if workers < 1 {
		workers = 1
	}
	return &Pool{Workers: workers}
}

// Run dispatches every task to the pool and blocks until all have
// completed or the context is cancelled or a task returns a fatal error.
// The first error returned by any task cancels the remaining tasks and is
// returned to the caller (errgroup semantics). Pool reports no progress of
// its own; that is the caller-supplied sink's job, so a Pool embedded in
// any process - CLI or GUI - never writes to stdout behind the caller's
// back.
func (p *Pool) Run(ctx context.Context, tasks []Task) error {
	work := make(chan Task, len(tasks))
	for _, t := range tasks {
		work <- t
	}
	close(work)

	eg, ctx := errgroup.WithContext(ctx)
	for i := 0; i < p.Workers; i++ {
		eg.Go(func() error {
			for t := range work {
				if err := ctx.Err(); err != nil {
					return err
				}
				if err := t.Run(ctx); err != nil {
					return err
				}
			}
			return nil
		})
	}
	return eg.Wait()
}
