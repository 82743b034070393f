package scheduler

import (
	"context"

	"github.com/buildcore/cxxcore/internal/action"
	"github.com/buildcore/cxxcore/internal/graph"
)

// Matcher is the callback a rule's Apply implementation uses to
// recursively trigger match of its prerequisites, per spec §2 "Data
// flow": "In match, each target's rule is selected and its apply
// function runs, which recursively triggers match of prerequisites."
// The compile and link rules retrieve one from context via
// MatcherFromContext rather than taking it as an explicit parameter, so
// that graph.Rule's signature stays independent of the scheduler
// package (avoiding an import cycle: scheduler depends on graph and
// rule, so graph/rule cannot depend back on scheduler).
type Matcher interface {
	// Match runs the match state machine (spec §4.4) for t under act,
	// using hint to steer rule selection, and blocks until t reaches
	// OffsetApplied or fails.
	Match(ctx context.Context, act action.Action, t *graph.Target, hint string) error

	// MatchUnsafe matches t without blocking on its execute — used for
	// library prerequisites during compile (spec §4.6 step 3:
	// "libraries are match-only (unmatch::safe) so as not to block on
	// their execute").
	MatchUnsafe(ctx context.Context, act action.Action, t *graph.Target, hint string) error
}

type matcherCtxKey struct{}

// WithMatcher returns a context carrying m, retrievable with
// MatcherFromContext.
func WithMatcher(ctx context.Context, m Matcher) context.Context {
	return context.WithValue(ctx, matcherCtxKey{}, m)
}

// MatcherFromContext retrieves the Matcher stashed by WithMatcher. Rule
// implementations that need to recursively match prerequisites (the
// compile and link rules) call this; it panics if none is present,
// since that indicates the rule was invoked outside the scheduler
// (a programming error, not a user-facing one).
func MatcherFromContext(ctx context.Context) Matcher {
	m, ok := ctx.Value(matcherCtxKey{}).(Matcher)
	if !ok {
		panic(&InvariantError{Msg: "rule apply() invoked without a Matcher in context"})
	}
	return m
}
