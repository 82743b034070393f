package scheduler

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/buildcore/cxxcore/internal/action"
	"github.com/buildcore/cxxcore/internal/graph"
)

type fakeMatcher struct{}

func (fakeMatcher) Match(context.Context, action.Action, *graph.Target, string) error       { return nil }
func (fakeMatcher) MatchUnsafe(context.Context, action.Action, *graph.Target, string) error { return nil }

func TestMatcherRoundTripsThroughContext(t *testing.T) {
	m := fakeMatcher{}
	ctx := WithMatcher(context.Background(), m)
	assert.Equal(t, m, MatcherFromContext(ctx))
}

func TestMatcherFromContextPanicsWithoutOne(t *testing.T) {
	assert.Panics(t, func() { MatcherFromContext(context.Background()) })
}
