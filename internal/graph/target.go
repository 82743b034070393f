package graph

import (
	"context"
	"fmt"
	"time"

	"github.com/sasha-s/go-deadlock"

	"github.com/buildcore/cxxcore/internal/action"
)

// Key identifies a target uniquely, per spec §3: (type, dir, out, name,
// ext?). Out lets a target's out-of-tree location differ from the
// directory its name is scoped under (src/out pairing).
type Key struct {
	Type string
	Dir  string
	Out  string
	Name string
	Ext  string // "" means "no/default extension"
}

func (k Key) String() string {
	ext := ""
	if k.Ext != "" {
		ext = "." + k.Ext
	}
	return fmt.Sprintf("%s{%s%s%s}", k.Type, k.Dir, k.Name, ext)
}

// Rule is the interface a matched rule presents to the scheduler, per
// spec §3 ("Rule"). The rule package's registry produces values
// implementing this; graph only needs to call through it, never to
// construct one, which keeps this package free of a dependency on rule
// selection policy.
type Rule interface {
	ID() string
	Match(ctx context.Context, a action.Action, t *Target, hint string, me MatchExtra) (bool, error)
	Apply(ctx context.Context, a action.Action, t *Target, me MatchExtra) (Recipe, error)
}

// ReverseFallbacker is an optional Rule capability: a rule that can act
// as a fallback when no other rule's Match returns true for the given
// target type, per spec §4.3 step 3/step 4.
type ReverseFallbacker interface {
	ReverseFallback(a action.Action, typeID string) bool
}

// PosthocApplier is an optional Rule capability for rules that declare
// additional prerequisites only discoverable after apply() has run; they
// are matched in a later pass by the meta-operation driver (spec §4.4
// "Post-hoc prerequisites").
type PosthocApplier interface {
	ApplyPosthoc(ctx context.Context, a action.Action, t *Target, me MatchExtra) ([]*Target, error)
}

// Reapplier is an optional Rule capability invoked when a target that is
// already Applied is relocked with new match options (spec §4.4 row
// "applied").
type Reapplier interface {
	Reapply(ctx context.Context, a action.Action, t *Target, me MatchExtra) (Recipe, error)
}

// Recipe is the tagged variant spec §9 describes: the result of a
// successful apply(), run during execute. The scheduler package defines
// the concrete recipe kinds (noop, group, perform_update, ...); graph
// only needs to store and forward it.
type Recipe interface {
	// Kind is a short tag used for diagnostics and the "group" forwarding
	// rule in spec §4.5.
	Kind() string
}

// MatchExtra carries the per-target negotiated match options of spec §3:
// CurOptions is sticky across a rematch, NewOptions is the incoming
// request compared against it to decide whether re-apply is needed.
type MatchExtra struct {
	CurOptions uint64
	NewOptions uint64
}

// NeedsReapply reports whether any bit requested in NewOptions is not already
// satisfied by CurOptions, per spec §4.2's relock rule.
func (m MatchExtra) NeedsReapply() bool {
	return m.NewOptions&^m.CurOptions != 0
}

// Target is the abstract build artifact of spec §3. Targets are interned
// by identity and never move; all mutable per-action state lives in an
// OpState keyed by the inner (meta-operation, operation) pair so that
// re-entering an action (§3 "Lifecycle") starts from a clean slate
// without losing the target's own identity or its cross-action disk
// state (Path, ModTime).
type Target struct {
	Key      Key
	TypeInfo *TypeInfo

	mu           deadlock.Mutex
	path         string
	hasPath      bool
	mtime        time.Time
	hasMtime     bool
	prereqs      []*Target // unordered multiset
	adhocMembers []*Target // ordered
	group        *Target   // immutable once set, per spec §3 invariants
	adhocRecipes []Rule

	opstates map[actionKey]*OpState
}

type actionKey struct {
	Meta string
	Op   string
}

// New creates an unattached Target. Callers normally go through Map.Intern
// instead of calling New directly, so that identity is unique.
func New(key Key, ti *TypeInfo) *Target {
	return &Target{Key: key, TypeInfo: ti, opstates: make(map[actionKey]*OpState)}
}

func (t *Target) String() string { return t.Key.String() }

// Path returns the target's on-disk path, if it has one.
func (t *Target) Path() (string, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.path, t.hasPath
}

// SetPath assigns the target's on-disk path. It is idempotent; rules
// call it once during apply() when they know the on-disk name.
func (t *Target) SetPath(p string) {
	t.mu.Lock()
	t.path, t.hasPath = p, true
	t.mu.Unlock()
}

// MTime returns the cached modification time, if one has been recorded.
func (t *Target) MTime() (time.Time, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.mtime, t.hasMtime
}

// SetMTime records the target's modification time, typically after a
// stat() or after a recipe finished writing the target.
func (t *Target) SetMTime(m time.Time) {
	t.mu.Lock()
	t.mtime, t.hasMtime = m, true
	t.mu.Unlock()
}

// AddPrerequisite appends p to t's unordered prerequisite multiset.
// Prerequisites may repeat (spec §3: "an unordered multiset").
func (t *Target) AddPrerequisite(p *Target) {
	t.mu.Lock()
	t.prereqs = append(t.prereqs, p)
	t.mu.Unlock()
}

// Prerequisites returns a snapshot of t's prerequisite list.
func (t *Target) Prerequisites() []*Target {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]*Target, len(t.prereqs))
	copy(out, t.prereqs)
	return out
}

// AddAdhocMember appends m to t's ordered ad hoc group member list. Only
// meaningful when t.TypeInfo.DynMembers (or similar group semantics)
// applies; enforcing that is the rule's job, not this type's.
func (t *Target) AddAdhocMember(m *Target) {
	t.mu.Lock()
	t.adhocMembers = append(t.adhocMembers, m)
	m.mu.Lock()
	// A member's group pointer is set through SetGroup by the caller,
	// not here, to keep the "immutable once set" invariant centralized.
	m.mu.Unlock()
	t.mu.Unlock()
}

// AdhocMembers returns a snapshot of t's ordered ad hoc member list.
func (t *Target) AdhocMembers() []*Target {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]*Target, len(t.adhocMembers))
	copy(out, t.adhocMembers)
	return out
}

// Group returns t's enclosing explicit group, if any.
func (t *Target) Group() *Target {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.group
}

// SetGroup sets t's enclosing group. Per spec §3, this pointer is
// immutable once set for the lifetime of the target (across actions, not
// just within one): a second call with a different group panics, since
// that would indicate two rules both claiming the same ad hoc member.
func (t *Target) SetGroup(g *Target) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.group != nil && t.group != g {
		panic(fmt.Sprintf("%s: group already set to %s, cannot rebind to %s", t, t.group, g))
	}
	t.group = g
}

// AddAdhocRecipe attaches an ad hoc rule directly to t, the in-scope
// counterpart of a buildfile's per-target recipe block (spec §4.3 step
// 3). Buildfile evaluation itself is out of scope; this is the narrow
// attachment point it would call into.
func (t *Target) AddAdhocRecipe(r Rule) {
	t.mu.Lock()
	t.adhocRecipes = append(t.adhocRecipes, r)
	t.mu.Unlock()
}

// AdhocRecipes returns a snapshot of t's ad hoc rules in attachment
// order, the order spec §4.3 step 3 scans them in.
func (t *Target) AdhocRecipes() []Rule {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]Rule, len(t.adhocRecipes))
	copy(out, t.adhocRecipes)
	return out
}

// OpState returns (creating if necessary) t's operation-state record for
// the inner action (mo, op). Per spec §3 "Lifecycle", this is reset on
// first entry to a new action and persists for the remainder of it.
func (t *Target) OpState(mo, op string) *OpState {
	k := actionKey{Meta: mo, Op: op}
	t.mu.Lock()
	defer t.mu.Unlock()
	os, ok := t.opstates[k]
	if !ok {
		os = newOpState()
		t.opstates[k] = os
	}
	return os
}

// PeekOpState returns t's existing opstate for (mo, op) without creating
// one, so callers that scan every interned target (the scheduler's
// post-hoc pass) don't spuriously start a lifecycle for targets outside
// the current action.
func (t *Target) PeekOpState(mo, op string) (*OpState, bool) {
	k := actionKey{Meta: mo, Op: op}
	t.mu.Lock()
	defer t.mu.Unlock()
	os, ok := t.opstates[k]
	return os, ok
}

// ResetOpState discards any opstate for (mo, op), forcing the next
// OpState call to start a fresh lifecycle. Used when a driver begins a
// brand new action over a target map that targets from a prior action
// are still interned in (spec §3 "opstate is reset on entering each new
// action").
func (t *Target) ResetOpState(mo, op string) {
	k := actionKey{Meta: mo, Op: op}
	t.mu.Lock()
	delete(t.opstates, k)
	t.mu.Unlock()
}

// OpState holds the per-action state named in spec §3: the task
// counter, the matched rule, the compiled recipe, the resolved
// prerequisite-target list, and match_extra.
type OpState struct {
	TC *TaskCount

	mu              deadlock.Mutex
	Rule            Rule
	Recipe          Recipe
	RecipeKeep      bool
	MatchData       interface{}
	MatchExtra      MatchExtra
	ResolvedPrereqs []*Target
	Posthoc         []*Target
	Dependents      int32 // remaining dependents for the "last" execute mode (spec §4.5)
	Failed          bool
}

func newOpState() *OpState {
	return &OpState{TC: NewTaskCount(OffsetTried)}
}

// SetRule records the matched rule. Per spec §3's invariant, a target
// never has both a Rule and a directly-assigned Recipe set at once; the
// scheduler enforces that by only ever calling one of SetRule/SetRecipe
// per opstate before execute.
func (o *OpState) SetRule(r Rule) {
	o.mu.Lock()
	o.Rule = r
	o.mu.Unlock()
}

func (o *OpState) GetRule() Rule {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.Rule
}

func (o *OpState) SetRecipe(r Recipe, keep bool) {
	o.mu.Lock()
	o.Recipe = r
	o.RecipeKeep = keep
	o.mu.Unlock()
}

func (o *OpState) GetRecipe() Recipe {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.Recipe
}

// DropRecipeUnlessKept clears the recipe after execution unless
// RecipeKeep was requested — e.g. by an install rule that needs to read
// back the compile rule's MatchData after the fact (spec §3
// "Lifecycle").
func (o *OpState) DropRecipeUnlessKept() {
	o.mu.Lock()
	if !o.RecipeKeep {
		o.Recipe = nil
	}
	o.mu.Unlock()
}

func (o *OpState) SetMatchExtra(m MatchExtra) {
	o.mu.Lock()
	o.MatchExtra = m
	o.mu.Unlock()
}

func (o *OpState) GetMatchExtra() MatchExtra {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.MatchExtra
}

func (o *OpState) SetResolvedPrereqs(ts []*Target) {
	o.mu.Lock()
	o.ResolvedPrereqs = ts
	o.mu.Unlock()
}

func (o *OpState) GetResolvedPrereqs() []*Target {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]*Target, len(o.ResolvedPrereqs))
	copy(out, o.ResolvedPrereqs)
	return out
}

func (o *OpState) AddPosthoc(t *Target) {
	o.mu.Lock()
	o.Posthoc = append(o.Posthoc, t)
	o.mu.Unlock()
}

func (o *OpState) TakePosthoc() []*Target {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := o.Posthoc
	o.Posthoc = nil
	return out
}

// MarkFailed records that this target's match/apply/execute raised an
// error, and forces CurOptions to all-ones so that no further relock
// with new options can be attempted (spec §4.4 "On exception").
func (o *OpState) MarkFailed() {
	o.mu.Lock()
	o.Failed = true
	o.MatchExtra.CurOptions = ^uint64(0)
	o.mu.Unlock()
	o.TC.Unlock(OffsetFailed)
}

func (o *OpState) IsFailed() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.Failed
}
