package scheduler

import (
	"context"
	"fmt"

	"github.com/buildcore/cxxcore/internal/action"
	"github.com/buildcore/cxxcore/internal/graph"
	"github.com/buildcore/cxxcore/internal/rule"
)

// matchOne drives t's opstate for act from wherever it currently sits up
// through OffsetApplied (or reports why it couldn't get there), per the
// match_impl table of spec §4.4. chain is the calling task's target-lock
// stack (nil at the root); it is extended with t before any recursive
// match a rule's Apply triggers through the Matcher interface.
func (s *Scheduler) matchOne(ctx context.Context, act action.Action, t *graph.Target, chain *Chain, hint string) error {
	os := t.OpState(act.Meta.Name, act.Op.Name)
	next := chain.Push(t)

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		cur := os.TC.Load()
		switch cur {
		case graph.OffsetFailed:
			return fmt.Errorf("%s: %s: previously failed", act, t)

		case graph.OffsetBusy:
			if chain.Contains(t) {
				return &CycleError{Chain: next.Targets()}
			}
			if chain != nil {
				// chain.Contains only catches a cycle within this task's own
				// recursive call tree. Two independently rooted tasks that
				// come to depend on each other build disjoint chains that
				// never contain one another, so the scheduler also tracks a
				// global wait-for graph keyed by the target each task's
				// innermost Apply is blocked on (spec §4.2).
				if path, ok := s.waits.lock(chain.target, t); !ok {
					return &CycleError{Chain: path}
				}
				os.TC.Wait(ctx)
				s.waits.unlock(chain.target, t)
				continue
			}
			os.TC.Wait(ctx)
			continue

		case graph.OffsetTried, graph.OffsetTouched:
			if !os.TC.TryLock(cur) {
				continue // lost the race to another worker; re-read
			}
			if err := s.selectRule(ctx, act, t, os, chain, hint); err != nil {
				os.MarkFailed()
				return err
			}
			os.TC.Unlock(graph.OffsetMatched)
			continue

		case graph.OffsetMatched:
			if !os.TC.TryLock(cur) {
				continue
			}
			if err := s.applyRule(ctx, act, t, os, next); err != nil {
				os.MarkFailed()
				return err
			}
			os.TC.Unlock(graph.OffsetApplied)
			return nil

		case graph.OffsetApplied:
			return s.reapplyIfNeeded(ctx, act, t, os, next)

		case graph.OffsetExecuted:
			if os.GetMatchExtra().NeedsReapply() {
				os.MarkFailed()
				return &OptionsReLockError{Target: t}
			}
			return nil

		default:
			return &InvariantError{Msg: fmt.Sprintf("%s: unknown task_count offset %v", t, cur)}
		}
	}
}

// selectRule runs the rule-selection algorithm (spec §4.3) and records
// the winner. It is called with the target locked (OffsetBusy).
func (s *Scheduler) selectRule(ctx context.Context, act action.Action, t *graph.Target, os *graph.OpState, chain *Chain, hint string) error {
	groupRule := func(g *graph.Target) (graph.Rule, bool) {
		if err := s.matchOne(ctx, act, g, chain, ""); err != nil {
			return nil, false
		}
		gos := g.OpState(act.Meta.Name, act.Op.Name)
		r := gos.GetRule()
		return r, r != nil
	}

	r, err := rule.Select(ctx, s.Registry, s.Scope, act, t, hint, groupRule)
	if err != nil {
		return err
	}
	os.SetRule(r)
	return nil
}

// applyRule runs the matched rule's Apply, stores the resulting recipe,
// and collects any post-hoc prerequisites it declares (spec §4.4
// "matched" row). It is called with the target locked.
func (s *Scheduler) applyRule(ctx context.Context, act action.Action, t *graph.Target, os *graph.OpState, chain *Chain) error {
	r := os.GetRule()
	applyCtx := WithMatcher(ctx, &chainedMatcher{s: s, chain: chain})

	recipe, err := r.Apply(applyCtx, act, t, os.GetMatchExtra())
	if err != nil {
		return err
	}
	// RecipeKeep (retaining MatchData for a dependent to read back, e.g.
	// install reading the compile rule's object list) is opted into
	// explicitly by a rule via os.SetRecipe itself if it needs that; the
	// generic path here has no rule-specific knowledge of who needs what.
	os.SetRecipe(recipe, false)

	if pa, ok := r.(graph.PosthocApplier); ok {
		extra, err := pa.ApplyPosthoc(applyCtx, act, t, os.GetMatchExtra())
		if err != nil {
			return err
		}
		for _, e := range extra {
			os.AddPosthoc(e)
		}
	}
	return nil
}

// reapplyIfNeeded handles the spec §4.4 "applied" row: a target relocked
// with match options not already covered by CurOptions gets a chance to
// re-run Apply (via Reapplier, if the rule implements it) before the
// scheduler lets execute proceed.
func (s *Scheduler) reapplyIfNeeded(ctx context.Context, act action.Action, t *graph.Target, os *graph.OpState, chain *Chain) error {
	me := os.GetMatchExtra()
	if !me.NeedsReapply() {
		return nil
	}
	if !os.TC.TryLock(graph.OffsetApplied) {
		return s.matchOne(ctx, act, t, chain, "") // lost the race; re-evaluate from scratch
	}

	r := os.GetRule()
	merged := graph.MatchExtra{CurOptions: me.CurOptions | me.NewOptions, NewOptions: me.NewOptions}
	applyCtx := WithMatcher(ctx, &chainedMatcher{s: s, chain: chain})

	var recipe graph.Recipe
	var err error
	if ra, ok := r.(graph.Reapplier); ok {
		recipe, err = ra.Reapply(applyCtx, act, t, merged)
	} else {
		recipe, err = r.Apply(applyCtx, act, t, merged)
	}
	if err != nil {
		os.MarkFailed()
		os.TC.Unlock(graph.OffsetApplied)
		return err
	}
	os.SetMatchExtra(graph.MatchExtra{CurOptions: merged.CurOptions})
	os.SetRecipe(recipe, false)
	os.TC.Unlock(graph.OffsetApplied)
	return nil
}

// chainedMatcher is the Matcher a rule's Apply sees via context: it
// extends the calling task's chain with the target already being
// applied, so a rule that matches its own prerequisites gets correct
// cycle detection without needing to know about Chain itself.
type chainedMatcher struct {
	s     *Scheduler
	chain *Chain
}

func (m *chainedMatcher) Match(ctx context.Context, act action.Action, t *graph.Target, hint string) error {
	return m.s.matchOne(ctx, act, t, m.chain, hint)
}

func (m *chainedMatcher) MatchUnsafe(ctx context.Context, act action.Action, t *graph.Target, hint string) error {
	return m.s.matchOne(ctx, act, t, m.chain, hint)
}

// runPosthocPass matches every post-hoc prerequisite declared during the
// main match fan-out (spec §4.4 "Post-hoc prerequisites"), repeating
// until a full sweep discovers nothing new.
func (s *Scheduler) runPosthocPass(ctx context.Context, act action.Action, roots []*graph.Target) {
	for {
		var extra []*graph.Target
		s.Targets.Range(func(t *graph.Target) bool {
			if os, ok := t.PeekOpState(act.Meta.Name, act.Op.Name); ok {
				if cur := os.TC.Load(); cur == graph.OffsetApplied || cur == graph.OffsetExecuted {
					extra = append(extra, os.TakePosthoc()...)
				}
			}
			return true
		})
		if len(extra) == 0 {
			return
		}
		pool := NewPool(ctx, s.NumWorkers)
		for _, e := range extra {
			e := e
			pool.Go(func(ctx context.Context) error {
				if err := s.matchOne(ctx, act, e, nil, ""); err != nil {
					s.recordFailure(e, err)
				}
				return nil
			})
		}
		_ = pool.Wait()
	}
}
