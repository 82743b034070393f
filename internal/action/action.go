// Package action defines the (meta-operation, operation) pair that
// drives a single build pass, per spec §3 "Action".
package action

// MetaOperation identifies an outer build mode: perform, configure,
// dist, and so on. It is opaque outside this package beyond its name and
// an identity comparison, the same way the teacher treats variable
// origins as an enum compared by value rather than by behavior.
type MetaOperation struct {
	Name string
}

// Operation identifies the inner verb within a meta-operation: update,
// clean, test, install, ...
type Operation struct {
	Name string
}

// Well-known meta-operations and operations. Additional ones may be
// registered by embedding projects; these are the ones the core itself
// treats specially (§4.3 rule 6, §4.5 "last" execution mode).
var (
	Perform   = MetaOperation{Name: "perform"}
	Configure = MetaOperation{Name: "configure"}
	Dist      = MetaOperation{Name: "dist"}

	Update = Operation{Name: "update"}
	Clean  = Operation{Name: "clean"}
	Test   = Operation{Name: "test"}
	Noop   = Operation{Name: ""}
)

// Action is the (meta-operation, operation) pair named in spec §3. Inner
// is the action the scheduler actually runs recipes under; Meta/Op form
// the outer part, the action consulted during rule selection (with
// Fallback naming the meta-operation to try when Meta has no rule of its
// own, e.g. configure/dist falling back to perform, spec §4.3 rule 6).
type Action struct {
	Meta  MetaOperation
	Op    Operation
	Inner Action2
}

// Action2 avoids a self-referential struct definition; it carries the
// inner action a rule's apply() actually executes under, which may
// differ from the action match() was selected for (e.g. "test" rules
// select under test but apply/execute under update).
type Action2 struct {
	Meta MetaOperation
	Op   Operation
}

// New builds an Action whose Inner defaults to itself.
func New(mo MetaOperation, op Operation) Action {
	return Action{Meta: mo, Op: op, Inner: Action2{Meta: mo, Op: op}}
}

// WithInner returns a copy of a with a different inner action.
func (a Action) WithInner(mo MetaOperation, op Operation) Action {
	a.Inner = Action2{Meta: mo, Op: op}
	return a
}

func (a Action) String() string {
	if a.Op.Name == "" {
		return a.Meta.Name
	}
	return a.Meta.Name + "(" + a.Op.Name + ")"
}

// Fallback returns the meta-operation an action should also be looked up
// under when no rule matches a.Meta directly, per spec §4.3 rule 6:
// configure and dist inherit from perform.
func (a Action) Fallback() (MetaOperation, bool) {
	switch a.Meta {
	case Configure, Dist:
		return Perform, true
	}
	return MetaOperation{}, false
}
