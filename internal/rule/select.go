package rule

import (
	"context"
	"fmt"

	"github.com/buildcore/cxxcore/internal/action"
	"github.com/buildcore/cxxcore/internal/graph"
)

// MissingRuleError is the fatal diagnostic of spec §7 "Missing rule": no
// rule matched target under action. The message is a best-effort
// human-facing guess at the likely cause, since a build system's most
// common user error is exactly this.
type MissingRuleError struct {
	Target fmt.Stringer
	Action fmt.Stringer
}

func (e *MissingRuleError) Error() string {
	return fmt.Sprintf("%s: no rule to update %s (check that the source is declared, "+
		"that it lives in the directory the rule expects, or that a src/out mapping is missing)",
		e.Action, e.Target)
}

// Select implements the rule-selection algorithm of spec §4.3.
//
// groupRule lets the caller (the scheduler, which alone knows whether a
// group has already completed match for this action) answer "what rule,
// if any, has t's enclosing group already matched", covering both step 1
// (dyn_members groups) and step 2 (ad hoc-recipe groups): in both cases
// a member simply inherits whatever its group matched.
func Select(ctx context.Context, reg *Registry, scope *Scope, act action.Action, t *graph.Target, hint string,
	groupRule func(*graph.Target) (graph.Rule, bool)) (graph.Rule, error) {

	// Steps 1-2: group inheritance.
	if g := t.Group(); g != nil {
		if r, ok := groupRule(g); ok {
			return r, nil
		}
	}

	// Step 3: ad hoc recipes attached directly to t.
	adhoc := t.AdhocRecipes()
	var fallback graph.Rule
	for _, r := range adhoc {
		ok, err := r.Match(ctx, act, t, hint, graph.MatchExtra{})
		if err != nil {
			return nil, err
		}
		if ok {
			return r, nil
		}
		if fallback == nil {
			if rf, ok := r.(graph.ReverseFallbacker); ok && rf.ReverseFallback(act, t.TypeInfo.ID) {
				fallback = r
			}
		}
	}
	if fallback != nil {
		return fallback, nil
	}

	// Step 4: walk the rule map, innermost scope outward, then the
	// meta-operation's fallback (configure/dist -> perform).
	metas := []action.MetaOperation{act.Meta}
	if fb, ok := act.Fallback(); ok {
		metas = append(metas, fb)
	}

	for _, mo := range metas {
		if r, err := selectInScopeChain(ctx, reg, scope, mo, act.Op, t, hint); r != nil || err != nil {
			return r, err
		}
		// Second, hint-less pass for non-perform meta-operations.
		if hint != "" && mo != action.Perform {
			if r, err := selectInScopeChain(ctx, reg, scope, mo, act.Op, t, ""); r != nil || err != nil {
				return r, err
			}
		}
	}

	return nil, &MissingRuleError{Target: t, Action: act}
}

func selectInScopeChain(ctx context.Context, reg *Registry, scope *Scope, mo action.MetaOperation, op action.Operation, t *graph.Target, hint string) (graph.Rule, error) {
	for _, sc := range scope.Chain() {
		if r, err := selectInScope(ctx, reg, sc, mo, op, t, hint); r != nil || err != nil {
			return r, err
		}
	}
	return nil, nil
}

func selectInScope(ctx context.Context, reg *Registry, sc *Scope, mo action.MetaOperation, op action.Operation, t *graph.Target, hint string) (graph.Rule, error) {
	var found []entry
	for _, ti := range t.TypeInfo.Chain() {
		es := reg.lookup(sc, mo.Name, op.Name, ti.ID)
		for _, e := range es {
			if e.hint == hint {
				found = append(found, e)
			}
		}
		if len(found) > 0 {
			break // most-derived type wins; don't also consider base types
		}
	}

	var matched []entry
	for _, e := range found {
		ok, err := e.rule.Match(ctx, action.New(mo, op), t, hint, graph.MatchExtra{})
		if err != nil {
			return nil, err
		}
		if ok {
			matched = append(matched, e)
		}
	}
	if len(matched) > 1 {
		return nil, &AmbiguousRuleError{Target: t, Candidates: []string{matched[0].rule.ID(), matched[1].rule.ID()}}
	}
	if len(matched) == 1 {
		return matched[0].rule, nil
	}

	// Wildcard-operation fallback carriers.
	for _, ti := range t.TypeInfo.Chain() {
		for _, e := range reg.lookup(sc, mo.Name, "", ti.ID) {
			if rf, ok := e.rule.(graph.ReverseFallbacker); ok && rf.ReverseFallback(action.New(mo, op), t.TypeInfo.ID) {
				return e.rule, nil
			}
		}
	}
	return nil, nil
}
