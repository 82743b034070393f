// Package fsutil holds the path-normalization primitives shared by the
// header extractor and the compile/link rules: cleaning a path the way a
// compiler's dependency output names it, deciding when a symlink needs to
// be realized, and remapping between an -I src and -I out search pair.
package fsutil

import (
	"os"
	"path/filepath"
	"strings"
)

// Clean normalizes path the way build2's core does it for dependency
// output: it collapses "." segments and only collapses ".." segments when
// the parent component on disk is not a symlinked directory, since
// resolving ".." through a symlink changes which directory a relative
// include actually lives in.
func Clean(path string) string {
	var names []string
	abs := filepath.IsAbs(path)
	if abs {
		names = append(names, "")
	}
	for _, n := range strings.Split(path, string(filepath.Separator)) {
		switch n {
		case "", ".":
			continue
		case "..":
			if len(names) > 0 && names[len(names)-1] != ".." {
				parent := strings.Join(names[:len(names)-1], string(filepath.Separator))
				if parent == "" {
					parent = "."
					if abs {
						parent = string(filepath.Separator)
					}
				}
				if !dirIsSymlink(parent, names[len(names)-1]) {
					names = names[:len(names)-1]
					continue
				}
			}
			names = append(names, "..")
		default:
			names = append(names, n)
		}
	}
	if len(names) == 0 {
		return "."
	}
	joined := strings.Join(names, string(filepath.Separator))
	if joined == "" {
		joined = string(filepath.Separator)
	}
	return joined
}

func dirIsSymlink(parentDir, leaf string) bool {
	p := filepath.Join(parentDir, leaf)
	fi, err := os.Lstat(p)
	if err != nil || fi.Mode()&os.ModeSymlink == 0 {
		return false
	}
	st, err := os.Stat(p)
	return err == nil && st.IsDir()
}

// NeedsRealize reports whether path must have its symlinks resolved before
// it can be used as a stable target identity. Per spec §4.6.1 step 2a,
// realization only happens when the raw path contains a "..": plain
// relative/absolute paths are left as the compiler reported them so two
// different-looking-but-equal names don't cause duplicate targets, while a
// ".." traversal is ambiguous without knowing whether an intermediate
// component is a symlink.
func NeedsRealize(path string) bool {
	return strings.Contains(path, "..")
}

// Realize resolves symlinks in path, falling back to Clean(path) if the
// path does not (yet) exist on disk — a header that a generated-header
// rule has not produced yet is still a valid, not-yet-existing target.
func Realize(path string) string {
	real, err := filepath.EvalSymlinks(path)
	if err != nil {
		return Clean(path)
	}
	return real
}

// SrcOutRemap represents one -I<out> -I<src> (or -I<src> -I<out>) pair
// used to redirect a header include from the source tree to the
// corresponding generated-header location in the output tree, per
// spec §4.6.1 step 2a.
type SrcOutRemap struct {
	Src string
	Out string
}

// Apply redirects path from under r.Src to the corresponding location
// under r.Out when that redirected path names a file that exists (an
// already-generated header); otherwise it returns path unchanged.
func (r SrcOutRemap) Apply(path string, exists func(string) bool) (string, bool) {
	rel, err := filepath.Rel(r.Src, path)
	if err != nil || strings.HasPrefix(rel, "..") {
		return path, false
	}
	candidate := filepath.Join(r.Out, rel)
	if exists != nil && exists(candidate) {
		return candidate, true
	}
	return path, false
}

// IncludePrefixMap translates a relative include path into the location
// of an auto-generated-header target, mirroring the buildfile-level
// include-prefix-map facility referenced by spec §4.6.1 step 2a. The map
// itself is a build2-buildfile concern (out of scope); this type is the
// narrow lookup contract the extractor needs from it.
type IncludePrefixMap interface {
	// Translate returns the generated-header path for rel, and whether a
	// mapping applies at all.
	Translate(rel string) (string, bool)
}
