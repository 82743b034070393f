// Package compile implements the C/C++ compile rule of spec §4.6:
// turning a source (or module-interface, or header-unit) prerequisite
// into an object file and/or BMI, driving the header extractor and
// module resolver, and recording everything in depdb.
package compile

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"path/filepath"
	"time"

	"github.com/buildcore/cxxcore/internal/action"
	"github.com/buildcore/cxxcore/internal/cc"
	"github.com/buildcore/cxxcore/internal/cc/hdrdeps"
	"github.com/buildcore/cxxcore/internal/cc/modresolve"
	"github.com/buildcore/cxxcore/internal/depdb"
	"github.com/buildcore/cxxcore/internal/graph"
	"github.com/buildcore/cxxcore/internal/scheduler"
)

// PPState is the per-target preprocessed-state hint of spec §4.6
// "Inputs": how much of the header/module extraction work has already
// been done for this source (e.g. by a distributed preprocessing step
// upstream of this build).
type PPState int

const (
	PPNone PPState = iota
	PPIncludes
	PPModules
	PPAll
)

// Rule implements graph.Rule, graph.PosthocApplier is not needed here
// (the compile rule resolves everything synchronously during apply);
// its collaborators are
// supplied by the driver (cmd/cxxcore), keeping this package free of
// any concrete compiler/parsing dependency per spec §1's collaborator
// boundary.
type Rule struct {
	RuleID      string // depdb line 1 identifier, e.g. "cxx.compile"
	RuleVersion int    // depdb line 1 version, incremented to invalidate old caches

	Compiler cc.CompilerInfo
	Spawner  cc.Spawner
	Diag     cc.DiagnosticSink
	Parser   cc.TUParser
	Dialect  hdrdeps.Dialect
	Targets  *graph.Map

	ModulesEnabled bool

	// Options returns the inputs depdb line 3 hashes (spec §3 item 3):
	// enabled preprocessor/compile options, extra system include dirs,
	// PIC policy, the __symexport flag.
	Options func(t *graph.Target) []string
	// DepdbPath returns the `<target>.d` path for t.
	DepdbPath func(t *graph.Target) string
	// BaseArgv returns the compiler invocation's fixed prefix (compiler
	// path, language flags, include paths) before extraction- or
	// compile-specific flags are appended.
	BaseArgv func(t *graph.Target) []string
	// CompileArgv returns the full compile-and-emit-output argv.
	CompileArgv func(t *graph.Target, srcPath, outPath string) []string
	// PPLevel reports t's preprocessed-state hint.
	PPLevel func(t *graph.Target) PPState
	// ResolverFactory builds the header Resolver for t's extraction run.
	ResolverFactory func(t *graph.Target, srcPath string) hdrdeps.Resolver
	// ModuleNameOf returns a target's explicit cc.module_name, if any.
	ModuleNameOf func(t *graph.Target) (string, bool)
	// Siblings returns t's sibling module-interface sources in the same
	// library, the candidate pool for fuzzy module-name resolution.
	Siblings func(t *graph.Target) []*graph.Target
}

func (r *Rule) ID() string { return r.RuleID }

func (r *Rule) Match(_ context.Context, _ action.Action, t *graph.Target, _ string, _ graph.MatchExtra) (bool, error) {
	if !t.TypeInfo.IsA(graph.TypeObj.ID) && !t.TypeInfo.IsA(graph.TypeBMI.ID) {
		return false, nil
	}
	return findSource(t) != nil, nil
}

func findSource(t *graph.Target) *graph.Target {
	for _, p := range t.Prerequisites() {
		if p.TypeInfo.IsA(graph.TypeModImpl.ID) || p.TypeInfo.IsA(graph.TypeModIface.ID) || p.TypeInfo.IsA(graph.TypeHeader.ID) {
			return p
		}
	}
	return nil
}

// Apply runs steps 1-9 of spec §4.6.
func (r *Rule) Apply(ctx context.Context, a action.Action, t *graph.Target, me graph.MatchExtra) (graph.Recipe, error) {
	src := findSource(t)
	if src == nil {
		return nil, fmt.Errorf("%s: no source prerequisite", t)
	}

	// Step 1: classify and derive the on-disk name.
	ext := r.Compiler.ObjExt()
	if t.TypeInfo.IsA(graph.TypeBMI.ID) {
		ext = r.Compiler.BMIExt()
	}
	outPath := t.Key.Dir + "/" + t.Key.Name + ext
	t.SetPath(outPath)

	matcher := scheduler.MatcherFromContext(ctx)

	// Step 2: fsdir{} ad hoc prerequisite for the output directory.
	outDir := filepath.Dir(outPath)
	fsdirTarget := r.Targets.Intern(graph.Key{Type: graph.TypeFsDir.ID, Dir: outDir, Name: outDir}, graph.TypeFsDir)
	t.AddPrerequisite(fsdirTarget)
	if err := matcher.Match(ctx, a, fsdirTarget, ""); err != nil {
		return nil, err
	}

	// Step 3: search-and-match the remaining prerequisites concurrently;
	// libraries are match-only so they don't block on their own execute.
	prereqs := t.Prerequisites()
	var libs []*graph.Target
	for _, p := range prereqs {
		if isLibrary(p) {
			libs = append(libs, p)
		}
	}
	var fns []func(ctx context.Context) error
	for _, p := range prereqs {
		p := p
		if p == fsdirTarget || p == src {
			continue
		}
		if isLibrary(p) {
			fns = append(fns, func(ctx context.Context) error { return matcher.MatchUnsafe(ctx, a, p, "") })
		} else {
			fns = append(fns, func(ctx context.Context) error { return matcher.Match(ctx, a, p, "") })
		}
	}
	fns = append(fns, func(ctx context.Context) error { return matcher.Match(ctx, a, src, "") })
	if err := scheduler.RunAll(ctx, 8, fns...); err != nil {
		return nil, err
	}

	srcPath, _ := src.Path()

	// Step 4: open depdb and compare lines 1-4.
	db, err := depdb.Open(r.DepdbPath(t))
	if err != nil {
		return nil, err
	}
	force := false
	expect := func(line string) {
		if _, ok := db.Expect(line); !ok {
			force = true
			_ = db.Write(line)
		}
	}
	expect(fmt.Sprintf("%s %d", r.RuleID, r.RuleVersion))
	expect(r.Compiler.Checksum())
	expect(hashStrings(r.Options(t)))
	expect(srcPath)

	closeFailed := func(err error) (graph.Recipe, error) {
		_ = db.Close(false, outPath)
		return nil, err
	}

	// Step 5: header extraction.
	if r.PPLevel(t) < PPIncludes {
		resolver := r.ResolverFactory(t, srcPath)
		ex := &hdrdeps.Extractor{
			Dialect: r.Dialect, Compiler: r.Compiler, Spawner: r.Spawner, Diag: r.Diag, Resolver: resolver,
		}
		headers, err := ex.Run(ctx, db, r.BaseArgv(t))
		if err != nil {
			return closeFailed(err)
		}
		for _, h := range headers {
			if ht, ok := h.(*graph.Target); ok {
				t.AddPrerequisite(ht)
			}
		}
	}

	// Step 6: translation-unit parse.
	checksum, info, err := r.Parser.Parse(ctx, srcPath)
	if err != nil {
		return closeFailed(err)
	}
	tuUnchanged := false
	if _, ok := db.Expect(checksum); ok {
		tuUnchanged = true
	} else {
		force = true
		_ = db.Write(checksum)
	}
	if r.ModulesEnabled {
		if _, ok := db.Expect(info.Line()); !ok {
			force = true
			_ = db.Write(info.Line())
		}
	}

	// Step 7: TU type vs target variant.
	if err := checkVariant(t, info.Type); err != nil {
		return closeFailed(err)
	}

	// Step 8: module resolution.
	if r.ModulesEnabled && len(info.Imports) > 0 {
		libBMIs, siblings := r.moduleCandidates(libs, t)
		bindings, _, err := modresolve.Resolve(info.Imports, libBMIs, siblings, nil)
		if err != nil {
			return closeFailed(err)
		}
		var bmiPaths []string
		for _, b := range bindings {
			bt, ok := b.Target.(*graph.Target)
			if !ok {
				continue
			}
			if err := matcher.Match(ctx, a, bt, ""); err != nil {
				return closeFailed(err)
			}
			t.AddPrerequisite(bt)
			if p, ok := bt.Path(); ok {
				bmiPaths = append(bmiPaths, p)
			}
			if name, ok := r.ModuleNameOf(bt); ok {
				if verr := modresolve.VerifyGuess(b, name); verr != nil {
					return closeFailed(verr)
				}
			}
		}
		if _, ok := db.Expect(hashStrings(bmiPaths)); !ok {
			force = true
			_ = db.Write(hashStrings(bmiPaths))
		}
	}

	// Step 9: close and decide the recipe.
	changed := force || !tuUnchanged
	if !changed {
		db.Touch()
	}
	if err := db.Close(false, outPath); err != nil {
		return nil, err
	}
	if !changed {
		return scheduler.NoopRecipe(), nil
	}

	argv := r.CompileArgv(t, srcPath, outPath)
	return scheduler.UpdateRecipe(func() (scheduler.Result, error) {
		if _, _, err := r.Spawner.Run(ctx, argv, nil); err != nil {
			return scheduler.ResultFailed, err
		}
		t.SetMTime(time.Now())
		return scheduler.ResultChanged, nil
	}), nil
}

func isLibrary(t *graph.Target) bool {
	return t.TypeInfo.IsA(graph.TypeLib.ID) || t.TypeInfo.IsA(graph.TypeLiba.ID) ||
		t.TypeInfo.IsA(graph.TypeLibs.ID) || t.TypeInfo.IsA(graph.TypeLibu.ID)
}

// checkVariant implements spec §4.6 step 7: fail if the parsed TU's
// actual kind disagrees with what the target's type promised.
func checkVariant(t *graph.Target, tuType cc.TUType) error {
	wantBMI := t.TypeInfo.IsA(graph.TypeBMI.ID)
	switch tuType {
	case cc.ModuleIface, cc.ModuleHeader:
		if !wantBMI {
			return fmt.Errorf("%s: source is a module interface/header unit but the target is not a bmi{}; "+
				"use bmi{} (or mxx{}) for this source instead", t)
		}
	case cc.ModuleImpl, cc.NonModular:
		if wantBMI {
			return fmt.Errorf("%s: source has no module interface but the target is a bmi{}; "+
				"use obj{} (or cxx{}) for this source instead", t)
		}
	}
	return nil
}

func (r *Rule) moduleCandidates(libs []*graph.Target, t *graph.Target) ([]modresolve.LibraryBMI, []modresolve.Candidate) {
	var libBMIs []modresolve.LibraryBMI
	for _, l := range libs {
		for _, p := range l.Prerequisites() {
			if !p.TypeInfo.IsA(graph.TypeBMI.ID) {
				continue
			}
			if name, ok := r.ModuleNameOf(p); ok {
				libBMIs = append(libBMIs, modresolve.LibraryBMI{ModuleName: name, Target: p})
			}
		}
	}
	var siblings []modresolve.Candidate
	if r.Siblings != nil {
		for _, s := range r.Siblings(t) {
			name, ok := r.ModuleNameOf(s)
			path, _ := s.Path()
			if path == "" {
				path = s.Key.Name
			}
			siblings = append(siblings, modresolve.Candidate{
				Leaf: filepath.Base(path), ModuleName: name, HasModuleName: ok, Target: s,
			})
		}
	}
	return libBMIs, siblings
}

func hashStrings(ss []string) string {
	h := sha256.New()
	for _, s := range ss {
		h.Write([]byte(s))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}
