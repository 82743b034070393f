// Package link implements the C/C++ link rule of spec §4.7: classifying
// a target as executable, static/shared/utility library, traversing its
// library closure with hoisting and binless propagation, emitting
// deduplicated rpaths, and materializing a versioned shared-library
// symlink chain.
package link

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/golang/glog"
	"golang.org/x/mod/semver"

	"github.com/buildcore/cxxcore/internal/action"
	"github.com/buildcore/cxxcore/internal/graph"
	"github.com/buildcore/cxxcore/internal/scheduler"
)

// Kind classifies the link target, per spec §4.7's opening sentence.
type Kind int

const (
	Executable Kind = iota
	StaticLibrary
	SharedLibrary
	UtilityLibrary
)

// VersionMap is `bin.lib.version`: a per-OS version string, with "*" as
// the platform-independent fallback entry (SPEC_FULL.md §4's
// "bin.lib.version's per-OS wildcard fallback entry").
type VersionMap map[string]string

// Lookup resolves os's version, falling back to the wildcard entry.
func (vm VersionMap) Lookup(osName string) (string, bool) {
	if v, ok := vm[osName]; ok {
		return v, true
	}
	v, ok := vm["*"]
	return v, ok
}

// Rule implements graph.Rule for the link step.
type Rule struct {
	RuleID  string
	Targets *graph.Map
	OSName  string // e.g. "linux", "darwin", "windows" — drives name/symlink policy

	// Classify returns t's link kind and, for libraries, its
	// bin.lib.version map.
	Classify func(t *graph.Target) (Kind, VersionMap)
	// LibPrefix/LibSuffix return bin.lib.prefix/bin.lib.suffix for t
	// ("lib", ".so"/".a"/".dylib"/".dll").
	LibPrefix func(t *graph.Target) string
	LibSuffix func(t *graph.Target, k Kind) string

	// ExportLibs/ImplLibs return t's export.libs and export.impl.libs
	// prerequisite lists (interface vs implementation closures, spec
	// §4.7 step 3's "Interface vs implementation").
	ExportLibs func(t *graph.Target) []*graph.Target
	ImplLibs   func(t *graph.Target) []*graph.Target

	// Binful reports whether t itself contributes object/source input
	// (spec §4.7 step 2's binless test).
	Binful func(t *graph.Target) bool

	// IsSystemLib excludes well-known system libraries from rpath
	// emission (spec §4.7 step 3's rpath bullet: "skip system
	// libraries").
	IsSystemLib func(t *graph.Target) bool

	// LinkerArgs assembles the portion of argv specific to linking
	// (compiler-driver invocation, MSVC /OUT //IMPLIB, GNU -shared,
	// Apple -install_name, LTO job flags); spec §4.7 steps 4 and 6.
	LinkerArgs func(t *graph.Target, k Kind, objs, libArgv []string, rpaths []string) []string
	// Spawn runs the assembled link command.
	Spawn func(ctx context.Context, argv []string) error
	// Symlink creates (or on Windows, copies) oldname -> newname.
	Symlink func(oldname, newname string) error
	// Remove deletes a stale file during clean-pattern cleanup, and an
	// existing alias before its symlink is recreated.
	Remove func(path string) error
	// Glob enumerates files matching a doublestar pattern rooted at dir.
	Glob func(dir, pattern string) ([]string, error)
}

func (r *Rule) ID() string { return r.RuleID }

func (r *Rule) Match(_ context.Context, _ action.Action, t *graph.Target, _ string, _ graph.MatchExtra) (bool, error) {
	return t.TypeInfo.IsA(graph.TypeLiba.ID) || t.TypeInfo.IsA(graph.TypeLibs.ID) ||
		t.TypeInfo.IsA(graph.TypeLibu.ID) || t.TypeInfo.IsA(graph.TypeExe.ID), nil
}

// names holds the on-disk names derived in apply step 3.
type names struct {
	kind Kind
	// libsPaths mirrors cc.LibsPaths for a shared library.
	link, load, soname, interim, real string
	cleanLoad, cleanVersion           string
}

func (r *Rule) Apply(ctx context.Context, a action.Action, t *graph.Target, me graph.MatchExtra) (graph.Recipe, error) {
	kind, vmap := r.Classify(t)
	matcher := scheduler.MatcherFromContext(ctx)

	// Step 5: update-during-match for headers/ad hoc inputs is left to
	// the driver's own prerequisite flags (out of scope for this core);
	// the rule still needs every prerequisite matched before it can
	// decide binlessness and compute the closure.
	var fns []func(ctx context.Context) error
	for _, p := range t.Prerequisites() {
		p := p
		fns = append(fns, func(ctx context.Context) error { return matcher.Match(ctx, a, p, "") })
	}
	if err := scheduler.RunAll(ctx, 8, fns...); err != nil {
		return nil, err
	}

	// Step 2: binless classification.
	binless := r.binless(t)

	// Step 3: derive on-disk names.
	nm := r.deriveNames(t, kind, vmap, binless)
	if nm.real != "" {
		t.SetPath(nm.real)
	}

	// Step 4: pkg-config is not handled by this rule: it creates no
	// pca{}/pcs{}/pc{} member targets, records no .pc paths, and writes
	// no .pc file.

	if binless {
		return scheduler.NoopRecipe(), nil
	}

	return scheduler.UpdateRecipe(func() (scheduler.Result, error) {
		return r.performUpdate(ctx, a, t, kind, nm)
	}), nil
}

// binless implements spec §4.7 step 2 in its recursive form: a library
// is binless if it contributes no object/source input (Binful is false)
// and every library in its export and implementation lists is itself
// binless. Simple -l/.lib items are not modeled, so they play no part in
// the decision.
func (r *Rule) binless(t *graph.Target) bool {
	if r.Binful(t) {
		return false
	}
	for _, l := range r.allLibs(t) {
		if isLibraryTarget(l) && !r.binless(l) {
			return false
		}
	}
	return true
}

func (r *Rule) allLibs(t *graph.Target) []*graph.Target {
	var out []*graph.Target
	out = append(out, r.ExportLibs(t)...)
	out = append(out, r.ImplLibs(t)...)
	return out
}

func isLibraryTarget(t *graph.Target) bool {
	return t.TypeInfo.IsA(graph.TypeLiba.ID) || t.TypeInfo.IsA(graph.TypeLibs.ID) || t.TypeInfo.IsA(graph.TypeLibu.ID)
}

func (r *Rule) deriveNames(t *graph.Target, kind Kind, vmap VersionMap, binless bool) names {
	if binless || kind != SharedLibrary {
		return names{kind: kind}
	}
	prefix, suffix := r.LibPrefix(t), r.LibSuffix(t, kind)
	base := filepath.Join(t.Key.Dir, prefix+t.Key.Name)
	nm := names{kind: kind, link: base + suffix}

	version, ok := vmap.Lookup(r.OSName)
	if !ok {
		nm.real = nm.link
		nm.load, nm.soname, nm.interim = nm.link, nm.link, nm.link
		return nm
	}

	parts := strings.Split(version, ".")
	// Canonicalize through semver even though bin.lib.version isn't
	// itself a Go module path, so "1.2" yields the components 1, 2, 0.
	// A version that is not valid semver is not rejected: it is split on
	// "." as written.
	if semver.IsValid("v" + version) {
		parts = strings.Split(semver.Canonical("v"+version)[1:], ".")
	}

	switch r.OSName {
	case "darwin":
		nm.real = fmt.Sprintf("%s.%s%s", base, version, suffix)
		nm.soname = fmt.Sprintf("%s.%s%s", base, parts[0], suffix)
		nm.interim = nm.soname
		nm.load = nm.real
		nm.link = base + suffix
	default: // linux and other ELF platforms
		nm.real = fmt.Sprintf("%s%s.%s", base, suffix, version)
		nm.soname = fmt.Sprintf("%s%s.%s", base, suffix, parts[0])
		if len(parts) >= 2 {
			nm.interim = fmt.Sprintf("%s%s.%s.%s", base, suffix, parts[0], parts[1])
		} else {
			nm.interim = nm.soname
		}
		nm.load = nm.soname
		nm.link = base + suffix
	}
	nm.cleanLoad = base + suffix + ".*"
	nm.cleanVersion = base + suffix + ".[0-9]*"
	return nm
}

// rpathEmitter accumulates deduplicated -Wl,-rpath entries, per spec §4.7
// step 3's rpath bullet and §8 property 7.
type rpathEmitter struct {
	seen  map[string]bool
	order []string
}

func newRpathEmitter() *rpathEmitter { return &rpathEmitter{seen: map[string]bool{}} }

func (e *rpathEmitter) add(dir string) {
	if dir == "" || e.seen[dir] {
		return
	}
	e.seen[dir] = true
	e.order = append(e.order, dir)
}

func (e *rpathEmitter) flags() []string {
	out := make([]string, 0, len(e.order))
	for _, d := range e.order {
		out = append(out, "-Wl,-rpath,"+d)
	}
	return out
}

// appended tracks the first argv range a library contributed, for the
// hoist-on-repeat behavior of spec §4.7 step 3's duplicate-suppression
// bullet and §8 property 8.
type appended struct {
	seen map[*graph.Target][2]int // target -> [start, end) in argv
}

func newAppended() *appended { return &appended{seen: map[*graph.Target][2]int{}} }

// closure walks t's library closure in link order, per spec §4.7 step 3,
// returning the final object/library argv with hoisting applied and the
// rpath set for every transitively linked shared library.
func (r *Rule) closure(t *graph.Target, kind Kind) (argv []string, rp *rpathEmitter) {
	rp = newRpathEmitter()
	app := newAppended()
	var out []string

	var walk func(lib *graph.Target, deep bool)
	walk = func(lib *graph.Target, deep bool) {
		if r.binless(lib) {
			// Recursively-binless libraries short-circuit the hoist: they
			// contribute no argv of their own, only their own closure.
			for _, sub := range r.linkList(lib, deep) {
				walk(sub, deep)
			}
			return
		}

		if rng, ok := app.seen[lib]; ok {
			// Second occurrence: move the previously emitted range to the
			// end of argv so static archives satisfy later symbol refs.
			moved := append([]string{}, out[rng[0]:rng[1]]...)
			out = append(out[:rng[0]:rng[0]], out[rng[1]:]...)
			shift := rng[1] - rng[0]
			for target, r2 := range app.seen {
				if r2[0] > rng[0] {
					app.seen[target] = [2]int{r2[0] - shift, r2[1] - shift}
				}
			}
			start := len(out)
			out = append(out, moved...)
			app.seen[lib] = [2]int{start, len(out)}
			return
		}

		start := len(out)
		if deep && r.Classify != nil && r.isUtility(lib) {
			// Thin-archive semantics (spec §4.7 step 3 "Utility
			// libraries"): a utility never has an on-disk archive of its
			// own, so linking it into a static archive (or any other deep
			// link) pulls in its object files directly instead of an
			// -l/path reference.
			out = append(out, r.objectFiles(lib)...)
		} else {
			out = append(out, r.libArgvItem(lib))
		}
		app.seen[lib] = [2]int{start, len(out)}

		if path, ok := lib.Path(); ok && lib.TypeInfo.IsA(graph.TypeLibs.ID) && !r.IsSystemLib(lib) {
			rp.add(filepath.Dir(path))
		}

		for _, sub := range r.linkList(lib, deep) {
			walk(sub, deep)
		}
	}

	// Interface vs implementation (spec §4.7 step 3): shared-library
	// target link uses only export.libs; a static-library target uses
	// both interface and implementation lists. A binless library met in
	// the walk is expanded at the same depth as its dependent; it does
	// not switch the walk to the implementation lists by itself.
	deep := kind == StaticLibrary
	for _, l := range r.ExportLibs(t) {
		walk(l, deep)
	}
	if deep {
		for _, l := range r.ImplLibs(t) {
			walk(l, deep)
		}
	}

	return out, rp
}

func (r *Rule) linkList(lib *graph.Target, deep bool) []*graph.Target {
	if deep {
		return r.allLibs(lib)
	}
	return r.ExportLibs(lib)
}

func (r *Rule) isUtility(lib *graph.Target) bool {
	k, _ := r.Classify(lib)
	return k == UtilityLibrary
}

func (r *Rule) libArgvItem(lib *graph.Target) string {
	if path, ok := lib.Path(); ok {
		return path
	}
	return lib.Key.Name
}

// objectFiles collects t's own object-file prerequisites, including the
// ad hoc obj*{} member of any binless bmi*{} prerequisite. This is the
// same prerequisite walk performUpdate uses to assemble an ordinary
// target's own objs; closure's walk reuses it to expand a utility
// library into its constituent .o files (spec §4.7 step 3).
func (r *Rule) objectFiles(t *graph.Target) []string {
	var objs []string
	for _, p := range t.Prerequisites() {
		if p.TypeInfo.IsA(graph.TypeObj.ID) {
			if path, ok := p.Path(); ok {
				objs = append(objs, path)
			}
		}
		if p.TypeInfo.IsA(graph.TypeBMI.ID) {
			for _, m := range p.AdhocMembers() {
				if m.TypeInfo.IsA(graph.TypeObj.ID) {
					if path, ok := m.Path(); ok {
						objs = append(objs, path)
					}
				}
			}
		}
	}
	return objs
}

// performUpdate implements spec §4.7's "On perform_update" steps.
func (r *Rule) performUpdate(ctx context.Context, a action.Action, t *graph.Target, kind Kind, nm names) (scheduler.Result, error) {
	// Step 1: decide out of date via any newer input.
	outOfDate := false
	var latest time.Time
	for _, p := range t.Prerequisites() {
		if mt, ok := p.MTime(); ok {
			if mt.After(latest) {
				latest = mt
			}
		}
	}
	if tmt, ok := t.MTime(); !ok || latest.After(tmt) {
		outOfDate = true
	}
	if !outOfDate {
		return scheduler.ResultUnchanged, nil
	}

	// Step 3: traverse closure.
	libArgv, rp := r.closure(t, kind)

	// Binless module object files (spec §4.7 step 3's last bullet): link a
	// binless bmi{}'s ad hoc obj{} member directly.
	objs := r.objectFiles(t)

	rpaths := rp.flags()
	if glog.V(2) {
		glog.V(2).Infof("%s: %d deduplicated rpath entries", t, len(rpaths))
	}

	argv := r.LinkerArgs(t, kind, objs, libArgv, rpaths)
	if err := r.Spawn(ctx, argv); err != nil {
		return scheduler.ResultFailed, fmt.Errorf("%s: link failed: %w", t, err)
	}

	// Step 7: clean stale versioned symlinks before materializing the
	// new chain, except the names this build is about to (re)create.
	if kind == SharedLibrary && nm.cleanVersion != "" {
		if err := r.cleanStaleSymlinks(nm); err != nil {
			glog.Warningf("%s: cleaning stale symlinks: %v", t, err)
		}
	}

	// Step 8: materialize the symlink chain real <- interim <- soname <- load <- link.
	if kind == SharedLibrary {
		done := map[string]bool{nm.real: true}
		for _, alias := range []string{nm.interim, nm.soname, nm.load, nm.link} {
			if alias == "" || done[alias] {
				continue
			}
			done[alias] = true
			_ = r.Remove(alias) // replace a link left by a previous build; absence is fine
			if err := r.Symlink(nm.real, alias); err != nil {
				return scheduler.ResultFailed, fmt.Errorf("%s: symlink %s -> %s: %w", t, alias, nm.real, err)
			}
		}
	}

	t.SetMTime(time.Now())
	return scheduler.ResultChanged, nil
}

// cleanStaleSymlinks implements spec §4.7 step 7 using doublestar's
// clean-pattern globbing to find `libfoo.so.[0-9]*`-style siblings left
// behind by a prior build under a different version, removing everything
// that doesn't match one of the four names this build just produced.
func (r *Rule) cleanStaleSymlinks(nm names) error {
	dir := filepath.Dir(nm.real)
	pattern, err := filepath.Rel(dir, nm.cleanVersion)
	if err != nil {
		pattern = filepath.Base(nm.cleanVersion)
	}
	if !doublestar.ValidatePattern(pattern) {
		return fmt.Errorf("invalid clean pattern %q", pattern)
	}
	matches, err := r.Glob(dir, pattern)
	if err != nil {
		return err
	}
	keep := map[string]bool{nm.real: true, nm.interim: true, nm.soname: true, nm.link: true}
	for _, m := range matches {
		full := filepath.Join(dir, m)
		if keep[full] {
			continue
		}
		if err := r.Remove(full); err != nil {
			glog.Warningf("removing stale symlink %s: %v", full, err)
		}
	}
	return nil
}
