package scheduler

import (
	"fmt"
	"strings"
	"sync"

	"github.com/buildcore/cxxcore/internal/graph"
)

// Chain is the per-task target-lock stack of spec §4.1: "Each task
// carries a captured ... target-lock stack so that cross-thread
// diagnostics and cycle detection behave as if the task ran inline."
// Because a task's chain is threaded explicitly through recursive match
// calls (rather than discovered via a goroutine-local), it behaves
// correctly even when a recursive match is handed off to a different
// worker goroutine by the pool.
type Chain struct {
	target *graph.Target
	parent *Chain
}

// Push returns a new chain with t appended.
func (c *Chain) Push(t *graph.Target) *Chain {
	return &Chain{target: t, parent: c}
}

// Contains reports whether t already appears somewhere in the chain,
// i.e. the current call path already passed through t once.
func (c *Chain) Contains(t *graph.Target) bool {
	for n := c; n != nil; n = n.parent {
		if n.target == t {
			return true
		}
	}
	return false
}

// Targets returns the chain from root to tip, for diagnostics.
func (c *Chain) Targets() []*graph.Target {
	var out []*graph.Target
	for n := c; n != nil; n = n.parent {
		out = append(out, n.target)
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out
}

// CycleError is the fatal diagnostic of spec §7 "Dependency cycle":
// detected at target-lock acquisition, naming the full chain from the
// lock stack (spec §4.2, §8 property 3).
type CycleError struct {
	Chain []*graph.Target
}

func (e *CycleError) Error() string {
	names := make([]string, len(e.Chain))
	for i, t := range e.Chain {
		names[i] = t.String()
	}
	return fmt.Sprintf("dependency cycle detected involving target %s (%s)",
		e.Chain[len(e.Chain)-1], strings.Join(names, " -> "))
}

// waitGraph is the global wait-for graph spec §4.2 requires alongside the
// per-task Chain: "some thread's lock chain reachable through pending
// waits." Chain alone only catches a cycle a single goroutine walks
// through its own recursive Apply calls; two independently rooted tasks
// that come to depend on each other (root A matches B while root B
// concurrently matches A) build disjoint chains that never contain one
// another, so without this they'd both call TaskCount.Wait forever.
// waitGraph instead tracks, across every in-flight task, which target
// each is currently blocked on, and refuses to add an edge that would
// close a cycle.
type waitGraph struct {
	mu    sync.Mutex
	edges map[*graph.Target]map[*graph.Target]bool // owner -> targets it awaits
}

func newWaitGraph() *waitGraph {
	return &waitGraph{edges: map[*graph.Target]map[*graph.Target]bool{}}
}

// lock records that owner is about to wait on target. If target can
// already (transitively) reach owner in the graph, adding this edge would
// close a cycle; lock refuses it and returns the path instead of
// recording anything.
func (g *waitGraph) lock(owner, target *graph.Target) (path []*graph.Target, ok bool) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if owner == target {
		return []*graph.Target{owner, target}, false
	}
	if p := g.reach(target, owner); p != nil {
		return append([]*graph.Target{owner}, p...), false
	}

	set := g.edges[owner]
	if set == nil {
		set = map[*graph.Target]bool{}
		g.edges[owner] = set
	}
	set[target] = true
	return nil, true
}

// unlock removes the owner-waits-on-target edge lock added, once the wait
// resolves (the target unlocked or the wait was abandoned).
func (g *waitGraph) unlock(owner, target *graph.Target) {
	g.mu.Lock()
	defer g.mu.Unlock()

	set := g.edges[owner]
	delete(set, target)
	if len(set) == 0 {
		delete(g.edges, owner)
	}
}

// reach returns a path from -> ... -> to following recorded wait edges,
// or nil if to is unreachable from from. Caller holds g.mu.
func (g *waitGraph) reach(from, to *graph.Target) []*graph.Target {
	visited := map[*graph.Target]bool{from: true}
	type step struct {
		t    *graph.Target
		path []*graph.Target
	}
	queue := []step{{t: from, path: []*graph.Target{from}}}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		if cur.t == to {
			return cur.path
		}
		for next := range g.edges[cur.t] {
			if visited[next] {
				continue
			}
			visited[next] = true
			queue = append(queue, step{t: next, path: append(append([]*graph.Target{}, cur.path...), next)})
		}
	}
	return nil
}
