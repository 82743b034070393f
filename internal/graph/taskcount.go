package graph

import (
	"context"
	"sync/atomic"

	"github.com/sasha-s/go-deadlock"
)

// Offset is a target's lifecycle position within one action, per spec §3
// "Opstate task_count": tried < touched < matched < applied < executed.
// OffsetBusy is the transient value a worker CASes a target into while it
// advances the target's state; it is never a value a waiter should treat
// as a steady-state offset.
type Offset int32

const (
	OffsetTried Offset = iota
	OffsetTouched
	OffsetMatched
	OffsetApplied
	OffsetExecuted
	OffsetBusy
	OffsetFailed
)

func (o Offset) String() string {
	switch o {
	case OffsetTried:
		return "tried"
	case OffsetTouched:
		return "touched"
	case OffsetMatched:
		return "matched"
	case OffsetApplied:
		return "applied"
	case OffsetExecuted:
		return "executed"
	case OffsetBusy:
		return "busy"
	case OffsetFailed:
		return "failed"
	default:
		return "offset(?)"
	}
}

// TaskCount is the atomic lifecycle counter described in spec §3 and
// §4.2: reads of the steady-state offset are lock-free; transitions
// between steady states go through OffsetBusy via compare-and-swap so
// that exactly one worker is ever advancing a given target at a time.
//
// A waiter blocks on a private, swapped-out channel rather than polling,
// the same trade-off the teacher's workerManager makes with its
// doneChan/waitChan pair in worker.go, generalized here to arbitrary
// many-reader/one-writer fan-in instead of a fixed worker count.
type TaskCount struct {
	v  atomic.Int32
	mu deadlock.Mutex
	ch chan struct{}
}

// NewTaskCount creates a TaskCount initialized to the given steady-state
// offset.
func NewTaskCount(initial Offset) *TaskCount {
	tc := &TaskCount{ch: make(chan struct{})}
	tc.v.Store(int32(initial))
	return tc
}

// Load returns the current offset without blocking, including
// OffsetBusy if a worker currently holds the target locked.
func (tc *TaskCount) Load() Offset { return Offset(tc.v.Load()) }

// TryLock attempts to transition from the given steady-state offset to
// OffsetBusy. It fails (returns false) if the current offset is not
// exactly `from` — including when it is already OffsetBusy, which is
// the caller's cue to consult cycle detection (spec §4.2).
func (tc *TaskCount) TryLock(from Offset) bool {
	return tc.v.CompareAndSwap(int32(from), int32(OffsetBusy))
}

// Unlock transitions out of OffsetBusy to `to` and wakes any goroutines
// blocked in Wait.
func (tc *TaskCount) Unlock(to Offset) {
	tc.v.Store(int32(to))
	tc.mu.Lock()
	ch := tc.ch
	tc.ch = make(chan struct{})
	tc.mu.Unlock()
	close(ch)
}

// Wait blocks until the offset is no longer OffsetBusy, or ctx is
// cancelled, and returns whatever offset it observed. This is the
// suspension point named in spec §4.1/§5: it runs with no lock held, so
// a concurrent phase switch is free to proceed while a target lock is
// contested.
func (tc *TaskCount) Wait(ctx context.Context) Offset {
	for {
		if cur := tc.Load(); cur != OffsetBusy {
			return cur
		}
		tc.mu.Lock()
		ch := tc.ch
		tc.mu.Unlock()
		select {
		case <-ch:
		case <-ctx.Done():
			return tc.Load()
		}
	}
}
