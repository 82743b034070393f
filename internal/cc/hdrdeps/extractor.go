// Package hdrdeps implements the header-dependency extraction state
// machine of spec §4.6.1: running the preprocessor (or, for GCC,
// interactively serving a module mapper) across three compiler
// dialects, restarting as generated headers appear, and caching what it
// finds in depdb.
package hdrdeps

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/golang/glog"

	"github.com/buildcore/cxxcore/internal/cc"
	"github.com/buildcore/cxxcore/internal/depdb"
	"github.com/buildcore/cxxcore/internal/fsutil"
)

// Dialect selects which of the three compiler-specific protocols spec
// §4.6.1 describes the extractor speaks.
type Dialect int

const (
	GCC Dialect = iota
	Clang
	MSVC
)

// maxRestarts bounds the restart loop defensively; spec §8 property 5
// only promises termination in terms of the generated-include chain's
// depth, which the extractor has no a priori way to know, so this is a
// generous backstop against a resolver bug turning into an infinite
// loop rather than a real design limit.
const maxRestarts = 256

// Ref is an opaque handle to the caller's target representation, the
// same pattern modresolve.Ref uses to keep this package independent of
// the graph package.
type Ref interface{}

// Resolver is the collaborator that turns a raw path the compiler
// reported into a concrete prerequisite target, per spec §4.6.1 step
// 2a/2b.
type Resolver interface {
	// EnterHeader normalizes path (fsutil.Clean/Realize), applies the
	// include-prefix map and any src/out remap, and returns the final
	// resolved path together with an opaque Ref the caller can use to
	// look the target back up.
	EnterHeader(rawPath string) (resolved string, ref Ref, err error)

	// InjectHeader recursively matches/updates ref (step 2b) and reports
	// whether doing so changed the filesystem in a way that requires
	// restarting the compiler (a newly materialized generated header).
	InjectHeader(ctx context.Context, ref Ref) (changed bool, err error)

	// Stat reports a cached header's existence and mtime, used by step 1
	// to decide whether a cached depdb line is still valid.
	Stat(path string) (mtime time.Time, exists bool)
}

// OscillatingModeError is the spec §7 "Oscillating generated-header
// mode" fatal diagnostic: two consecutive forced -MG passes made no
// progress.
type OscillatingModeError struct {
	Argv1, Argv2 []string
}

func (e *OscillatingModeError) Error() string {
	return fmt.Sprintf("inconsistent compiler behavior: two consecutive -MG passes made no progress\n  %s\n  %s",
		strings.Join(e.Argv1, " "), strings.Join(e.Argv2, " "))
}

// MissingHeaderError is the non-MG-recoverable half of spec §7
// "Missing/unbuildable header or module": a C1083/No-such-file error
// the extractor could not resolve even after switching to -MG.
type MissingHeaderError struct {
	Name string
}

func (e *MissingHeaderError) Error() string {
	return fmt.Sprintf("missing header %q and no generated-header rule could produce it", e.Name)
}

// Extractor drives one translation unit's header extraction, per spec
// §4.6.1.
type Extractor struct {
	Dialect  Dialect
	Compiler cc.CompilerInfo
	Spawner  cc.Spawner
	Diag     cc.DiagnosticSink
	Resolver Resolver

	// SrcOutRemaps are the -I<out> -I<src> pairs in effect for this
	// translation unit (step 2a).
	SrcOutRemaps []fsutil.SrcOutRemap
	IncludeMap   fsutil.IncludePrefixMap
}

// headerLine renders a resolved header as the depdb line spec §3 item 7
// describes: a plain absolute path, or `@ '<header>' <bmi>` for a
// header-unit mapping synthesized by the module mapper.
func headerLine(path string) string { return path }

func headerUnitLine(headerPath, bmiPath string) string {
	return fmt.Sprintf("@ '%s' %s", headerPath, bmiPath)
}

// Run drives the restart loop of spec §4.6.1, consuming cached depdb
// header lines first (step 1) and falling back to running the compiler
// (step 2), writing every resolved header back to db as it goes. It
// returns the refs of every header the translation unit depends on.
func (e *Extractor) Run(ctx context.Context, db *depdb.DB, baseArgv []string) ([]Ref, error) {
	var headers []Ref

	// Step 1: trust the depdb cache until the first stale or missing
	// entry, then abandon it for the remainder of this extraction.
	for {
		line, ok := db.Read()
		if !ok {
			break
		}
		path, bmi, isUnit := parseHeaderLine(line)
		if _, exists := e.Resolver.Stat(path); !exists {
			db.ForceWriting()
			break
		}
		mtime, _ := e.Resolver.Stat(path)
		if mtime.After(db.Mtime()) {
			db.ForceWriting()
			break
		}
		resolved, ref, err := e.Resolver.EnterHeader(path)
		if err != nil {
			return nil, err
		}
		if _, err := e.Resolver.InjectHeader(ctx, ref); err != nil {
			return nil, err
		}
		headers = append(headers, ref)
		if isUnit {
			db.ForceWriting()
			if err := db.Write(headerUnitLine(resolved, bmi)); err != nil {
				return nil, err
			}
		} else {
			db.ForceWriting()
			if err := db.Write(headerLine(resolved)); err != nil {
				return nil, err
			}
		}
	}

	// Step 2/3: run (and re-run) the compiler, restarting whenever
	// resolving a newly discovered header changes the filesystem, and
	// switching into -MG mode on a missing-include error.
	mg := false
	lastForcedMGSkip := -1
	argv := e.argvFor(baseArgv, mg)

	for restarts := 0; ; restarts++ {
		if restarts > maxRestarts {
			return nil, &InvariantError{Msg: fmt.Sprintf("exceeded %d header-extraction restarts", maxRestarts)}
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		stdout, stderr, runErr := e.Spawner.Run(ctx, argv, nil)

		paths, missing, parseErr := e.parse(stdout, stderr)
		if parseErr != nil {
			return nil, parseErr
		}

		if len(missing) > 0 {
			if !mg {
				mg = true
				argv = e.argvFor(baseArgv, mg)
				if glog.V(1) {
					glog.V(1).Infof("hdrdeps: missing header %v, retrying with -MG", missing)
				}
				continue
			}
			skip := len(headers)
			if lastForcedMGSkip == skip {
				return nil, &OscillatingModeError{Argv1: argv, Argv2: argv}
			}
			lastForcedMGSkip = skip
		}

		restart := false
		for _, p := range paths {
			resolved, ref, err := e.Resolver.EnterHeader(p)
			if err != nil {
				return nil, err
			}
			changed, err := e.Resolver.InjectHeader(ctx, ref)
			if err != nil {
				return nil, err
			}
			if changed {
				restart = true
			}
			if !containsRef(headers, ref) {
				headers = append(headers, ref)
			}
			db.ForceWriting()
			if err := db.Write(headerLine(resolved)); err != nil {
				return nil, err
			}
		}

		if restart {
			continue
		}

		if runErr != nil && len(missing) == 0 {
			return nil, runErr
		}
		if len(missing) > 0 && mg {
			// -MG let the compiler proceed despite the missing header; if
			// the resolver still couldn't materialize it this pass, that's
			// fatal (spec §7).
			for _, m := range missing {
				if _, _, err := e.Resolver.EnterHeader(m); err != nil {
					return nil, &MissingHeaderError{Name: m}
				}
			}
		}
		return headers, nil
	}
}

func containsRef(refs []Ref, r Ref) bool {
	for _, x := range refs {
		if x == r {
			return true
		}
	}
	return false
}

// InvariantError mirrors scheduler.InvariantError's role for this
// package's own "can't happen" guard.
type InvariantError struct{ Msg string }

func (e *InvariantError) Error() string { return "invariant violation: " + e.Msg }

func parseHeaderLine(line string) (path, bmi string, isHeaderUnit bool) {
	if strings.HasPrefix(line, "@ ") {
		rest := strings.TrimPrefix(line, "@ ")
		i := strings.LastIndexByte(rest, ' ')
		if i < 0 {
			return rest, "", true
		}
		quoted := rest[:i]
		bmi = rest[i+1:]
		path = strings.Trim(quoted, "'")
		return path, bmi, true
	}
	return line, "", false
}

// argvFor appends the dialect-specific dependency-extraction flags to
// base, per spec §4.6.1's three bullet points.
func (e *Extractor) argvFor(base []string, mg bool) []string {
	argv := append([]string{}, base...)
	switch e.Dialect {
	case GCC:
		argv = append(argv, "-M", "-MD", "-MQ", "-")
		if mg {
			argv = append(argv, "-MG")
		}
	case Clang:
		argv = append(argv, "-M", "-MD", "-frewrite-includes")
		if mg {
			argv = append(argv, "-MG")
		}
	case MSVC:
		argv = append(argv, "/showIncludes")
		if mg {
			// MSVC has no -MG; a missing header surfaces as C1083 and the
			// extractor treats that the same as a -MG "name the would-be
			// header" signal by reading it straight out of the diagnostic.
		}
	}
	return argv
}

// parse dispatches to the dialect-specific output parser.
func (e *Extractor) parse(stdout, stderr []byte) (paths, missing []string, err error) {
	switch e.Dialect {
	case MSVC:
		return parseShowIncludes(stdout, stderr)
	default:
		return parseMakeRules(stdout)
	}
}

// parseMakeRules parses GCC/Clang-style "-M" Makefile-rule output:
// `target: dep1 dep2 \` continuation lines, per spec §4.6.1.
func parseMakeRules(data []byte) (paths, missing []string, err error) {
	joined := strings.ReplaceAll(string(data), "\\\n", " ")
	sc := bufio.NewScanner(strings.NewReader(joined))
	sc.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for sc.Scan() {
		line := sc.Text()
		i := strings.IndexByte(line, ':')
		if i < 0 {
			continue
		}
		fields := strings.Fields(line[i+1:])
		paths = append(paths, fields...)
	}
	return paths, nil, sc.Err()
}

// parseShowIncludes parses MSVC's /showIncludes output redirected
// through stdout, distinguishing "Note: including file:" lines from
// CNNNN diagnostics, per spec §4.6.1's third bullet.
func parseShowIncludes(stdout, stderr []byte) (paths, missing []string, err error) {
	const notePrefix = "Note: including file:"
	sc := bufio.NewScanner(bytes.NewReader(stdout))
	sc.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for sc.Scan() {
		line := sc.Text()
		switch {
		case strings.HasPrefix(line, notePrefix):
			paths = append(paths, strings.TrimSpace(strings.TrimPrefix(line, notePrefix)))
		case strings.Contains(line, "C1083"):
			missing = append(missing, extractMissingName(line))
		case strings.Contains(line, ": error C"):
			return nil, nil, fmt.Errorf("msvc: %s", line)
		}
	}
	return paths, missing, sc.Err()
}

func extractMissingName(line string) string {
	// C1083 quotes the include name: "...: 'missing.h': No such file ...".
	if i := strings.IndexByte(line, '\''); i >= 0 {
		if j := strings.IndexByte(line[i+1:], '\''); j >= 0 {
			return line[i+1 : i+1+j]
		}
	}
	i := strings.LastIndexByte(line, ':')
	if i < 0 || i+1 >= len(line) {
		return line
	}
	return strings.TrimSpace(strings.Trim(line[i+1:], "'\""))
}
