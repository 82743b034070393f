package rule

import (
	"context"

	"github.com/buildcore/cxxcore/internal/action"
	"github.com/buildcore/cxxcore/internal/graph"
)

// Func is a graph.Rule built from plain functions, the same shape the
// compile and link rules are implemented with: most rules in this
// module have exactly one piece of identity (a name) and two behaviors
// (match, apply), so a closure-based adapter avoids a one-off named type
// per rule.
type Func struct {
	Name string

	MatchFn func(ctx context.Context, a action.Action, t *graph.Target, hint string, me graph.MatchExtra) (bool, error)
	ApplyFn func(ctx context.Context, a action.Action, t *graph.Target, me graph.MatchExtra) (graph.Recipe, error)

	ReverseFallbackFn func(a action.Action, typeID string) bool
	ApplyPosthocFn    func(ctx context.Context, a action.Action, t *graph.Target, me graph.MatchExtra) ([]*graph.Target, error)
	ReapplyFn         func(ctx context.Context, a action.Action, t *graph.Target, me graph.MatchExtra) (graph.Recipe, error)
}

func (f *Func) ID() string { return f.Name }

func (f *Func) Match(ctx context.Context, a action.Action, t *graph.Target, hint string, me graph.MatchExtra) (bool, error) {
	return f.MatchFn(ctx, a, t, hint, me)
}

func (f *Func) Apply(ctx context.Context, a action.Action, t *graph.Target, me graph.MatchExtra) (graph.Recipe, error) {
	return f.ApplyFn(ctx, a, t, me)
}

func (f *Func) ReverseFallback(a action.Action, typeID string) bool {
	if f.ReverseFallbackFn == nil {
		return false
	}
	return f.ReverseFallbackFn(a, typeID)
}

// ApplyPosthoc satisfies graph.PosthocApplier unconditionally; when no
// ApplyPosthocFn was supplied it reports no additional prerequisites
// rather than panicking, so the scheduler can always type-assert for the
// capability without also having to probe for whether it is "really"
// there.
func (f *Func) ApplyPosthoc(ctx context.Context, a action.Action, t *graph.Target, me graph.MatchExtra) ([]*graph.Target, error) {
	if f.ApplyPosthocFn == nil {
		return nil, nil
	}
	return f.ApplyPosthocFn(ctx, a, t, me)
}

// Reapply satisfies graph.Reapplier unconditionally; absent a
// ReapplyFn it re-runs Apply, the natural default for a rule that
// doesn't distinguish "apply for the first time" from "apply again with
// new options".
func (f *Func) Reapply(ctx context.Context, a action.Action, t *graph.Target, me graph.MatchExtra) (graph.Recipe, error) {
	if f.ReapplyFn == nil {
		return f.Apply(ctx, a, t, me)
	}
	return f.ReapplyFn(ctx, a, t, me)
}

var (
	_ graph.Rule              = (*Func)(nil)
	_ graph.ReverseFallbacker = (*Func)(nil)
	_ graph.PosthocApplier    = (*Func)(nil)
	_ graph.Reapplier         = (*Func)(nil)
)
