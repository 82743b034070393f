package scheduler

import "github.com/buildcore/cxxcore/internal/graph"

// Result is the outcome of running a recipe, per spec §4.5.
type Result int

const (
	ResultUnchanged Result = iota
	ResultChanged
	ResultPostponed
	ResultGroup
	ResultFailed
)

func (r Result) String() string {
	switch r {
	case ResultUnchanged:
		return "unchanged"
	case ResultChanged:
		return "changed"
	case ResultPostponed:
		return "postponed"
	case ResultGroup:
		return "group"
	case ResultFailed:
		return "failed"
	default:
		return "result(?)"
	}
}

// RunFunc performs the recipe's externally visible effect: spawning the
// compiler, linking, copying a backlink, and so on.
type RunFunc func() (Result, error)

// Recipe is the tagged-variant closure of spec §9 "Recipe closures": a
// value captured at apply() time and invoked once during execute. Last
// marks the "last" execution mode used by clean: execute postpones such a
// recipe while its opstate's Dependents count is above zero. Nothing in
// the scheduler sets that count, so a Last recipe runs when its target
// is executed.
type Recipe struct {
	kind string
	Run  RunFunc
	Last bool
}

func (r Recipe) Kind() string { return r.kind }

// NoopRecipe is returned by apply() when the target is already
// up-to-date: execute observes it and reports ResultUnchanged without
// calling Run.
func NoopRecipe() Recipe {
	return Recipe{kind: "noop", Run: func() (Result, error) { return ResultUnchanged, nil }}
}

// GroupRecipe forwards execution to t's group, per spec §3 "Ad hoc
// members share the group's matched rule; their recipe is a forwarding
// 'group recipe'."
func GroupRecipe(group *graph.Target) Recipe {
	return Recipe{kind: "group", Run: func() (Result, error) { return ResultGroup, nil }}
}

// UpdateRecipe wraps fn (the rule's perform_update) as a Recipe.
func UpdateRecipe(fn RunFunc) Recipe {
	return Recipe{kind: "perform_update", Run: fn}
}

// CleanRecipe wraps fn (the rule's perform_clean) as a "last"-mode
// Recipe, per spec §4.5.
func CleanRecipe(fn RunFunc) Recipe {
	return Recipe{kind: "perform_clean", Run: fn, Last: true}
}

var _ graph.Recipe = Recipe{}
