package scheduler

import (
	"context"
	"fmt"

	"github.com/buildcore/cxxcore/internal/action"
	"github.com/buildcore/cxxcore/internal/graph"
)

// executeOne runs t's recipe, per the execute_impl state machine of spec
// §4.5. It assumes t has already reached OffsetApplied (the scheduler
// only enters the execute phase after a clean match sweep); a target
// that failed to match is reported once, during match, and Build does
// not execute it again.
func (s *Scheduler) executeOne(ctx context.Context, act action.Action, t *graph.Target) (Result, error) {
	os := t.OpState(act.Meta.Name, act.Op.Name)

	for {
		if err := ctx.Err(); err != nil {
			return ResultFailed, err
		}

		cur := os.TC.Load()
		switch cur {
		case graph.OffsetFailed:
			return ResultFailed, fmt.Errorf("%s: %s: previously failed", act, t)

		case graph.OffsetExecuted:
			return ResultUnchanged, nil

		case graph.OffsetBusy:
			os.TC.Wait(ctx)
			continue

		case graph.OffsetApplied:
			if !os.TC.TryLock(cur) {
				continue
			}
			res, err := s.runRecipe(ctx, act, t, os)
			if err != nil {
				os.MarkFailed()
				return ResultFailed, err
			}
			os.DropRecipeUnlessKept()
			os.TC.Unlock(graph.OffsetExecuted)
			return res, nil

		default:
			return ResultFailed, &InvariantError{
				Msg: fmt.Sprintf("%s: execute reached with task_count offset %v", t, cur),
			}
		}
	}
}

// runRecipe runs t's recipe. A Last recipe (clean's perform_clean) is
// reported as ResultPostponed, without running, while the opstate's
// Dependents count is above zero; the scheduler never sets or decrements
// that count, and a postponed recipe is not run later.
func (s *Scheduler) runRecipe(ctx context.Context, act action.Action, t *graph.Target, os *graph.OpState) (Result, error) {
	rc, ok := os.GetRecipe().(Recipe)
	if !ok {
		// A rule stored a graph.Recipe that isn't the scheduler's concrete
		// type (e.g. forwarding to a group target constructed elsewhere);
		// fall back to just reporting it unchanged, since there is no Run
		// closure to invoke.
		return ResultUnchanged, nil
	}

	if rc.Kind() == "group" {
		if group := t.Group(); group != nil {
			return s.executeOne(ctx, act, group)
		}
		return ResultUnchanged, nil
	}

	if rc.Last {
		if os.Dependents > 0 {
			return ResultPostponed, nil
		}
	}

	res, err := rc.Run()
	if err != nil {
		return ResultFailed, err
	}
	return res, nil
}
