// Package patmatch provides the two string-matching primitives the rest
// of the module builds on: "%"-style pattern matching used by ad hoc
// rules and target-type extension rules, and the word-boundary fuzzy
// scorer the module resolver (spec §4.6.2) uses to bind an import name
// to a module-interface source file's leaf name.
package patmatch

import "strings"

// Pattern is a single-wildcard "%" pattern, the same shape the teacher's
// make-rule patterns use, generalized here to target-type and ad hoc
// recipe matching instead of makefile rule matching.
type Pattern struct {
	Prefix, Suffix string
}

// Parse splits s on its first '%' into a Pattern. ok is false if s has no
// wildcard.
func Parse(s string) (p Pattern, ok bool) {
	i := strings.IndexByte(s, '%')
	if i < 0 {
		return Pattern{}, false
	}
	return Pattern{Prefix: s[:i], Suffix: s[i+1:]}, true
}

func (p Pattern) String() string { return p.Prefix + "%" + p.Suffix }

// Match reports whether s has p's prefix and suffix.
func (p Pattern) Match(s string) bool {
	return strings.HasPrefix(s, p.Prefix) && strings.HasSuffix(s, p.Suffix) &&
		len(s) >= len(p.Prefix)+len(p.Suffix)
}

// Stem returns the portion of s matched by the wildcard, and whether s
// matched p at all.
func (p Pattern) Stem(s string) (string, bool) {
	if !p.Match(s) {
		return "", false
	}
	return s[len(p.Prefix) : len(s)-len(p.Suffix)], true
}

// isBoundary reports whether r is one of the characters spec §4.6.2
// treats as a word separator: underscore, hyphen, dot, or a path
// separator. A case transition is a word boundary too, but it occupies
// no character of its own, so FuzzyScore needs no skip for it: the
// case-insensitive comparison lets the 'C' of "fooCore" match the 'c'
// of "foo.core".
func isBoundary(r byte) bool {
	switch r {
	case '_', '-', '.', '/', '\\':
		return true
	}
	return false
}

// FuzzyScore implements the module-interface fuzzy matcher of spec
// §4.6.2 step 2: walk both strings right-to-left, treating `_`, `-`,
// `.`, path separators, and upper/lower case transitions as equivalent
// (and mutually skippable) word boundaries. Each pair of matching
// non-boundary characters contributes 1 to the score; a boundary on
// either side is consumed without being required to line up with a
// boundary on the other side. The function is symmetric in the sense
// that FuzzyScore(a, b) == FuzzyScore(b, a).
func FuzzyScore(leaf, moduleName string) int {
	i, j := len(leaf)-1, len(moduleName)-1
	score := 0
	for i >= 0 && j >= 0 {
		li, lj := leaf[i], moduleName[j]
		if isBoundary(li) {
			i--
			continue
		}
		if isBoundary(lj) {
			j--
			continue
		}
		if lower(li) == lower(lj) {
			score++
			i--
			j--
			continue
		}
		break
	}
	return score
}

// caseBoundary reports whether the character at i is immediately
// preceded by a case transition (e.g. the 'C' in "fooCore"), which spec
// §4.6.2 treats as an equivalent-to-separator word boundary.
func caseBoundary(s string, i int) bool {
	if i <= 0 || i >= len(s) {
		return false
	}
	prev, cur := s[i-1], s[i]
	return isUpper(cur) && isLower(prev)
}

func isUpper(b byte) bool { return b >= 'A' && b <= 'Z' }
func isLower(b byte) bool { return b >= 'a' && b <= 'z' }

func lower(b byte) byte {
	if isUpper(b) {
		return b - 'A' + 'a'
	}
	return b
}

// ExactBonus is the score an exact, non-fuzzy name match (e.g. an
// explicit cc.module_name) is assigned so it always outranks a fuzzy
// match: spec §4.6.2 step 2 requires it to score len(moduleName)+1.
func ExactBonus(moduleName string) int { return len(moduleName) + 1 }
