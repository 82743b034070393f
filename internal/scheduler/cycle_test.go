package scheduler

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/buildcore/cxxcore/internal/action"
	"github.com/buildcore/cxxcore/internal/graph"
	"github.com/buildcore/cxxcore/internal/rule"
)

func TestChainContainsAndTargets(t *testing.T) {
	a := graph.New(graph.Key{Type: "obj", Dir: "d", Name: "a"}, graph.TypeObj)
	b := graph.New(graph.Key{Type: "obj", Dir: "d", Name: "b"}, graph.TypeObj)
	c := graph.New(graph.Key{Type: "obj", Dir: "d", Name: "c"}, graph.TypeObj)

	var chain *Chain
	chain = chain.Push(a).Push(b)

	assert.True(t, chain.Contains(a))
	assert.True(t, chain.Contains(b))
	assert.False(t, chain.Contains(c))

	assert.Equal(t, []*graph.Target{a, b}, chain.Targets())
}

func TestChainCycleDetectionOnRepeatedPush(t *testing.T) {
	a := graph.New(graph.Key{Type: "obj", Dir: "d", Name: "a"}, graph.TypeObj)
	b := graph.New(graph.Key{Type: "obj", Dir: "d", Name: "b"}, graph.TypeObj)

	var chain *Chain
	chain = chain.Push(a).Push(b)

	if chain.Contains(a) {
		chain = chain.Push(a)
		err := &CycleError{Chain: chain.Targets()}
		assert.Contains(t, err.Error(), "dependency cycle detected")
	} else {
		t.Fatal("expected a to already be in the chain")
	}
}

func TestChainNilIsEmpty(t *testing.T) {
	var chain *Chain
	a := graph.New(graph.Key{Type: "obj", Dir: "d", Name: "a"}, graph.TypeObj)
	assert.False(t, chain.Contains(a))
	assert.Nil(t, chain.Targets())
}

func TestWaitGraphDetectsTwoPartyCycle(t *testing.T) {
	a := graph.New(graph.Key{Type: "obj", Dir: "d", Name: "a"}, graph.TypeObj)
	b := graph.New(graph.Key{Type: "obj", Dir: "d", Name: "b"}, graph.TypeObj)

	g := newWaitGraph()
	_, ok := g.lock(a, b)
	require.True(t, ok, "a waiting on b is not yet a cycle")

	path, ok := g.lock(b, a)
	assert.False(t, ok, "b waiting on a closes the a->b->a cycle")
	assert.Equal(t, []*graph.Target{b, a, b}, path)
}

func TestWaitGraphAllowsIndependentWaitsAndReleasesThem(t *testing.T) {
	a := graph.New(graph.Key{Type: "obj", Dir: "d", Name: "a"}, graph.TypeObj)
	b := graph.New(graph.Key{Type: "obj", Dir: "d", Name: "b"}, graph.TypeObj)
	c := graph.New(graph.Key{Type: "obj", Dir: "d", Name: "c"}, graph.TypeObj)

	g := newWaitGraph()
	_, ok := g.lock(a, b)
	require.True(t, ok)
	_, ok = g.lock(b, c)
	require.True(t, ok, "a->b->c is a chain, not a cycle")

	g.unlock(a, b)
	_, ok = g.lock(c, a)
	assert.True(t, ok, "releasing a->b removed it from the graph, so c->a no longer closes a cycle")
}

// cycleRule is a graph.Rule whose Apply rendezvouses with a sibling
// target's Apply (via start) before recursively matching it, so a test
// can force two independently rooted matches to observe each other as
// OffsetBusy at the same time, rather than relying on scheduling luck.
type cycleRule struct {
	self  *graph.Target
	other func() *graph.Target
	start *sync.WaitGroup
}

func (r *cycleRule) ID() string { return "cycle-rule(" + r.self.Key.Name + ")" }
func (r *cycleRule) Match(_ context.Context, _ action.Action, t *graph.Target, _ string, _ graph.MatchExtra) (bool, error) {
	return t == r.self, nil
}
func (r *cycleRule) Apply(ctx context.Context, act action.Action, t *graph.Target, _ graph.MatchExtra) (graph.Recipe, error) {
	r.start.Done()
	r.start.Wait()
	m := MatcherFromContext(ctx)
	if err := m.Match(ctx, act, r.other(), ""); err != nil {
		return nil, err
	}
	return NoopRecipe(), nil
}

// TestBuildDetectsCrossTaskDeadlock drives Scheduler.Build with two root
// targets whose rules mutually match each other (A's apply matches B, B's
// apply matches A) on two concurrently running root tasks. Each root
// builds its own independent Chain (nil at the root, per Build's pool.Go
// loop), so Chain.Contains alone can never see the other side; this
// exercises the scheduler-global wait-for graph instead. Without it this
// test would hang forever, so it bounds the wait with a context timeout.
func TestBuildDetectsCrossTaskDeadlock(t *testing.T) {
	a := graph.New(graph.Key{Type: "obj", Dir: "d", Name: "a"}, graph.TypeObj)
	b := graph.New(graph.Key{Type: "obj", Dir: "d", Name: "b"}, graph.TypeObj)

	var start sync.WaitGroup
	start.Add(2)
	ruleA := &cycleRule{self: a, other: func() *graph.Target { return b }, start: &start}
	ruleB := &cycleRule{self: b, other: func() *graph.Target { return a }, start: &start}

	reg := rule.NewRegistry()
	reg.Register(rule.Global, action.Perform, action.Update, graph.TypeObj.ID, "", ruleA)
	reg.Register(rule.Global, action.Perform, action.Update, graph.TypeObj.ID, "", ruleB)

	targets := graph.NewMap()
	s := New(reg, rule.Global, targets, 4)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- s.Build(ctx, action.New(action.Perform, action.Update), []*graph.Target{a, b}) }()

	select {
	case err := <-done:
		require.Error(t, err)
		var cycleErr *CycleError
		buildErr, ok := err.(*BuildError)
		require.True(t, ok, "expected a *BuildError wrapping the cycle, got %T: %v", err, err)
		found := false
		for _, f := range buildErr.Failures {
			if ce, ok := f.Err.(*CycleError); ok {
				cycleErr = ce
				found = true
			}
		}
		require.True(t, found, "expected one failure to be a *CycleError, got %v", buildErr.Failures)
		assert.Contains(t, cycleErr.Error(), "dependency cycle detected")
	case <-time.After(4 * time.Second):
		t.Fatal("Scheduler.Build deadlocked on a cross-task dependency cycle instead of detecting it")
	}
}
