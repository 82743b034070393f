// Package scheduler implements the three-phase match/apply/execute
// driver of spec §4.1–§4.5: phase exclusivity, target locking with
// cycle detection, rule selection, and recipe execution.
package scheduler

import (
	"context"

	"github.com/golang/glog"

	"github.com/buildcore/cxxcore/internal/action"
	"github.com/buildcore/cxxcore/internal/graph"
	"github.com/buildcore/cxxcore/internal/rule"
)

// Scheduler drives one build action over a target graph. It is the
// object a driver (cmd/cxxcore) constructs once per action, per spec §9
// "Global mutable state": "initialize at action start, tear down on
// exit."
type Scheduler struct {
	Registry *rule.Registry
	Scope    *rule.Scope
	Targets  *graph.Map

	Phases *PhaseController

	// NumWorkers bounds concurrent match/execute tasks (spec §4.1
	// "fixed pool of worker threads").
	NumWorkers int

	// KeepGoing, when true, lets independent subtrees finish after a
	// failure instead of aborting at the first one (spec §5
	// "Cancellation").
	KeepGoing bool

	failures failureSink
	waits    *waitGraph
}

// New creates a Scheduler over reg/scope/targets.
func New(reg *rule.Registry, scope *rule.Scope, targets *graph.Map, numWorkers int) *Scheduler {
	return &Scheduler{
		Registry:   reg,
		Scope:      scope,
		Targets:    targets,
		Phases:     NewPhaseController(),
		NumWorkers: numWorkers,
		waits:      newWaitGraph(),
	}
}

// Build runs act (match then execute) over roots, per spec §2 "Data
// flow": "a driver hands the scheduler a set of root targets under an
// action. The scheduler moves each reachable target through phases load
// -> match -> execute."
//
// Build assumes Load has already populated the target graph (buildfile
// evaluation is out of scope, spec §1) and so moves straight to match.
func (s *Scheduler) Build(ctx context.Context, act action.Action, roots []*graph.Target) error {
	s.failures = failureSink{}
	s.waits = newWaitGraph()

	s.Phases.EnterPhase(PhaseMatch)
	matchCtx := WithMatcher(ctx, s)
	pool := NewPool(matchCtx, s.NumWorkers)
	for _, root := range roots {
		root := root
		pool.Go(func(ctx context.Context) error {
			err := s.matchOne(ctx, act, root, nil, "")
			if err != nil {
				s.recordFailure(root, err)
				if !s.KeepGoing {
					return err
				}
			}
			return nil
		})
	}
	matchErr := pool.Wait()
	s.runPosthocPass(matchCtx, act, roots)
	s.Phases.LeavePhase()

	if matchErr != nil && !s.KeepGoing {
		return s.buildResult()
	}

	s.Phases.EnterPhase(PhaseExecute)
	execPool := NewPool(ctx, s.NumWorkers)
	for _, root := range roots {
		root := root
		execPool.Go(func(ctx context.Context) error {
			if os, ok := root.PeekOpState(act.Meta.Name, act.Op.Name); ok && os.IsFailed() {
				return nil // already recorded during match
			}
			_, err := s.executeOne(ctx, act, root)
			if err != nil {
				s.recordFailure(root, err)
				if !s.KeepGoing {
					return err
				}
			}
			return nil
		})
	}
	_ = execPool.Wait()
	s.Phases.LeavePhase()

	return s.buildResult()
}

// Match implements the Matcher interface for rule Apply callbacks: a
// blocking match that also waits out the target's eventual execute is
// not offered at this layer (that would defeat the match/execute
// phase split), so Match here only drives through OffsetApplied.
func (s *Scheduler) Match(ctx context.Context, act action.Action, t *graph.Target, hint string) error {
	return s.matchOne(ctx, act, t, nil, hint)
}

// MatchUnsafe matches t the same way Match does; the distinction named
// in spec §4.6 step 3 (library prerequisites must not block their own
// execute) is enforced by callers never following up a MatchUnsafe call
// with an ExecuteNow — the match/execute phase split already prevents
// match-phase code from observing execute's effects.
func (s *Scheduler) MatchUnsafe(ctx context.Context, act action.Action, t *graph.Target, hint string) error {
	return s.matchOne(ctx, act, t, nil, hint)
}

func (s *Scheduler) recordFailure(t *graph.Target, err error) {
	if _, isCycle := err.(*CycleError); isCycle {
		glog.Errorf("%v", err)
	}
	s.failures.add(t, err)
}

func (s *Scheduler) buildResult() error {
	if len(s.failures.items) == 0 {
		return nil
	}
	return &BuildError{Failures: s.failures.items}
}

type failureSink struct {
	items []TargetError
}

func (f *failureSink) add(t *graph.Target, err error) {
	f.items = append(f.items, TargetError{Target: t, Err: err})
}
