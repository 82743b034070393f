// Package modresolve implements the C++20 module resolver of spec
// §4.6.2: binding a translation unit's `import` names to BMI targets,
// first by exact `cc.module_name`, then by fuzzy leaf-name matching
// against sibling module-interface sources, with re-exported imports
// moved to the end of the prerequisite list.
package modresolve

import (
	"fmt"
	"path/filepath"

	"github.com/buildcore/cxxcore/internal/cc"
	"github.com/buildcore/cxxcore/internal/patmatch"
)

// Ref is an opaque handle to whatever the caller's graph.Target
// equivalent is; modresolve never dereferences it, only hands it back in
// a Binding, so this package carries no dependency on the graph package.
type Ref interface{}

// LibraryBMI is a BMI exposed by one of the translation unit's library
// prerequisites (spec §4.6.2 step 1): "scan library prerequisites' own
// BMI prerequisites; if any carries a cc.module_name matching exactly,
// bind it."
type LibraryBMI struct {
	ModuleName string
	Target     Ref
}

// Candidate is a sibling module-interface source in the same library
// (spec §4.6.2 step 2's `x_mod{}` prerequisites): Leaf is the source
// file's leaf name (without directory), ModuleName is its explicit
// `cc.module_name` if declared.
type Candidate struct {
	Leaf          string
	ModuleName    string
	HasModuleName bool
	Target        Ref
}

// Binding is the resolved target for one import.
type Binding struct {
	Import cc.Import
	Target Ref
	Score  int
}

// Positions records the three prerequisite-list boundaries spec
// §4.6.2 step 5 names: Start is the index of the first module
// prerequisite, Exported is where re-exported imports begin (after
// being moved to the end), Copied is where their duplicated transitive
// BMIs were appended.
type Positions struct {
	Start    int
	Exported int
	Copied   int
}

// UnresolvedImportError is the fatal diagnostic of spec §4.6.2 step 4 /
// §7 "Missing/unbuildable header or module".
type UnresolvedImportError struct {
	Import string
}

func (e *UnresolvedImportError) Error() string {
	return fmt.Sprintf("unresolved module import %q: no library or sibling source provides it", e.Import)
}

// GuessMismatchError is spec §4.6.2's "Guess verification" diagnostic:
// the fuzzy match picked a sibling whose actual recorded cc.module_name
// disagrees with the import name it was matched against.
type GuessMismatchError struct {
	Import, Guessed, Actual string
}

func (e *GuessMismatchError) Error() string {
	return fmt.Sprintf("module %q: fuzzy match guessed %q but the target's cc.module_name is %q; "+
		"rename the source or set cc.module_name explicitly", e.Import, e.Guessed, e.Actual)
}

// Resolve binds every entry of imports to a target, per spec §4.6.2
// steps 1-5. exportTransitive, keyed by the Ref of an exported
// LibraryBMI/Candidate match, supplies the transitive BMIs that get
// duplicated onto the tail of the list when that import turns out to be
// re-exported (step 5's "after matching them, their re-exported
// transitive BMIs are appended as duplicates").
func Resolve(imports []cc.Import, libBMIs []LibraryBMI, siblings []Candidate,
	exportTransitive func(Ref) []Ref) ([]Binding, Positions, error) {

	var direct []Binding
	var exported []Binding

	for _, imp := range imports {
		b, err := resolveOne(imp, libBMIs, siblings)
		if err != nil {
			return nil, Positions{}, err
		}
		if b.Import.Exported {
			exported = append(exported, b)
		} else {
			direct = append(direct, b)
		}
	}

	pos := Positions{Start: 0, Exported: len(direct)}
	out := append(append([]Binding{}, direct...), exported...)

	copiedStart := len(out)
	if exportTransitive != nil {
		for _, b := range exported {
			for _, t := range exportTransitive(b.Target) {
				out = append(out, Binding{Import: b.Import, Target: t})
			}
		}
	}
	pos.Copied = copiedStart

	return out, pos, nil
}

func resolveOne(imp cc.Import, libBMIs []LibraryBMI, siblings []Candidate) (Binding, error) {
	isStd := len(imp.Name) >= 4 && imp.Name[:4] == "std." || imp.Name == "std"

	// Step 1: exact cc.module_name match against library-provided BMIs.
	for _, lb := range libBMIs {
		if lb.ModuleName == imp.Name {
			return Binding{Import: imp, Target: lb.Target, Score: patmatch.ExactBonus(imp.Name)}, nil
		}
	}

	// Step 2: fuzzy match against sibling module-interface sources,
	// exact cc.module_name always outranking any fuzzy score.
	best := -1
	var bestTarget Ref
	for _, c := range siblings {
		var score int
		if c.HasModuleName {
			if c.ModuleName == imp.Name {
				score = patmatch.ExactBonus(imp.Name)
			} else {
				continue // an explicit, non-matching module name opts out of fuzzy matching
			}
		} else {
			score = patmatch.FuzzyScore(filepath.Base(c.Leaf), imp.Name)
		}
		if score > best {
			best = score
			bestTarget = c.Target
		}
	}
	if best > 0 {
		return Binding{Import: imp, Target: bestTarget, Score: best}, nil
	}

	// Step 3: std.* imports that remain unresolved are assumed pre-built.
	if isStd {
		return Binding{Import: imp}, nil
	}

	// Step 4: anything else unresolved is fatal.
	return Binding{}, &UnresolvedImportError{Import: imp.Name}
}

// VerifyGuess implements spec §4.6.2's post-match guess verification:
// compare the fuzzy-matched binding against the actual cc.module_name
// recorded on whatever target it resolved to.
func VerifyGuess(b Binding, actualModuleName string) error {
	if b.Target == nil || actualModuleName == "" {
		return nil
	}
	if b.Score == patmatch.ExactBonus(b.Import.Name) {
		return nil // resolved by an explicit module name, nothing to guess-check
	}
	if actualModuleName != b.Import.Name {
		return &GuessMismatchError{Import: b.Import.Name, Guessed: b.Import.Name, Actual: actualModuleName}
	}
	return nil
}
