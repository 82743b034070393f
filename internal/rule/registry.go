// Package rule implements the rule registry and selection algorithm of
// spec §4.3: per-meta-operation, per-operation, per-target-type ordered
// rule maps scanned from the innermost scope (the target's own scope)
// outward, with hint-based filtering and wildcard-operation fallback
// carriers.
package rule

import (
	"fmt"
	"sync"

	"github.com/buildcore/cxxcore/internal/action"
	"github.com/buildcore/cxxcore/internal/graph"
)

// entry is one registered rule together with the hint it was registered
// under ("" meaning "no hint", matched only in the second, hint-less
// pass described by spec §4.3 step 4).
type entry struct {
	hint string
	rule graph.Rule
}

type opKey struct {
	meta, op, typ string
}

// Registry is the per-process rule map: entries partitioned by scope,
// then by (meta-operation, operation, target-type). op == "" registers a
// wildcard-operation fallback carrier (spec §4.3 step 4's "Wildcard
// operation entries").
type Registry struct {
	mu      sync.RWMutex
	byScope map[*Scope]map[opKey][]entry
}

// NewRegistry creates an empty rule registry.
func NewRegistry() *Registry {
	return &Registry{byScope: make(map[*Scope]map[opKey][]entry)}
}

// Register attaches r to scope for the given meta-operation/operation/
// target-type, under the given hint ("" for none). An operation with an
// empty name (action.Noop) registers a wildcard carrier consulted only
// for its ReverseFallback capability.
func (reg *Registry) Register(scope *Scope, mo action.MetaOperation, op action.Operation, typeID, hint string, r graph.Rule) {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	m, ok := reg.byScope[scope]
	if !ok {
		m = make(map[opKey][]entry)
		reg.byScope[scope] = m
	}
	k := opKey{meta: mo.Name, op: op.Name, typ: typeID}
	m[k] = append(m[k], entry{hint: hint, rule: r})
}

func (reg *Registry) lookup(scope *Scope, mo, op, typeID string) []entry {
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	m, ok := reg.byScope[scope]
	if !ok {
		return nil
	}
	return m[opKey{meta: mo, op: op, typ: typeID}]
}

// AmbiguousRuleError is the fatal diagnostic of spec §4.3 step 5: two
// rules matched at the same scope/type priority.
type AmbiguousRuleError struct {
	Target     fmt.Stringer
	Candidates []string
}

func (e *AmbiguousRuleError) Error() string {
	return fmt.Sprintf("%s: ambiguous rule match between %q and %q", e.Target, e.Candidates[0], e.Candidates[1])
}
