package scheduler

import (
	"context"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
)

// Pool bounds the number of match/execute tasks running concurrently,
// the same role the teacher's workerManager plays with its fixed
// freeWorkers slice in worker.go, reimplemented here on top of
// golang.org/x/sync's errgroup and semaphore so task submission doesn't
// need its own channel plumbing: Go returns a task's error through the
// errgroup the same way PostJob/ReportResult round-tripped a job's error
// through workerManager's resultChan.
type Pool struct {
	sem *semaphore.Weighted
	eg  *errgroup.Group
	ctx context.Context
}

// NewPool creates a pool bounding concurrency to numWorkers, cancelling
// ctx (and thereby every still-queued task) on the first error unless
// the caller wraps it to swallow errors (keep_going is implemented one
// layer up, in Scheduler, by not letting a per-target failure cancel the
// shared context).
func NewPool(ctx context.Context, numWorkers int) *Pool {
	if numWorkers < 1 {
		numWorkers = 1
	}
	eg, egCtx := errgroup.WithContext(ctx)
	return &Pool{sem: semaphore.NewWeighted(int64(numWorkers)), eg: eg, ctx: egCtx}
}

// Context returns the pool's (possibly already-cancelled) context.
func (p *Pool) Context() context.Context { return p.ctx }

// Go submits fn to run on the pool without blocking the caller; fn's
// goroutine waits for a concurrency slot before running it.
func (p *Pool) Go(fn func(ctx context.Context) error) {
	p.eg.Go(func() error {
		if err := p.sem.Acquire(p.ctx, 1); err != nil {
			return err
		}
		defer p.sem.Release(1)
		return fn(p.ctx)
	})
}

// Wait blocks until every submitted task has returned, and reports the
// first non-nil error (if any), mirroring errgroup.Group.Wait.
func (p *Pool) Wait() error { return p.eg.Wait() }

// RunAll fan-outs fns across the pool and waits for all of them,
// returning the first error. This is the shape the compile and link
// rules use to match a set of sibling prerequisites concurrently (spec
// §4.6 step 3).
func RunAll(ctx context.Context, numWorkers int, fns ...func(ctx context.Context) error) error {
	p := NewPool(ctx, numWorkers)
	for _, fn := range fns {
		fn := fn
		p.Go(fn)
	}
	return p.Wait()
}
