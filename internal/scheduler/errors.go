package scheduler

import (
	"fmt"
	"strings"

	"github.com/buildcore/cxxcore/internal/graph"
)

// InvariantError signals a "can't happen" internal state, the same role
// the teacher's worker.go reserves plain panics for (e.g. a runner result
// for a job nobody posted). MatcherFromContext panics with one; match and
// execute return one as an error for an unknown task_count offset.
type InvariantError struct {
	Msg string
}

func (e *InvariantError) Error() string { return "invariant violation: " + e.Msg }

// OptionsReLockError is the fatal diagnostic of spec §4.4's "executed"
// row and spec §7 "Inconsistent option re-request": a target that has
// already executed cannot be relocked with new match options.
type OptionsReLockError struct {
	Target *graph.Target
}

func (e *OptionsReLockError) Error() string {
	return fmt.Sprintf("%s: change of options after execute", e.Target)
}

// BuildError aggregates one error per failed target under keep_going
// mode (spec §5 "Cancellation"), listed in the order the failures were
// recorded once the whole action has finished rather than aborting at
// the first failure.
type BuildError struct {
	Failures []TargetError
}

// TargetError pairs a target with the error its match/apply/execute
// raised.
type TargetError struct {
	Target *graph.Target
	Err    error
}

func (e *BuildError) Error() string {
	if len(e.Failures) == 1 {
		return e.Failures[0].Err.Error()
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%d targets failed:\n", len(e.Failures))
	for _, f := range e.Failures {
		fmt.Fprintf(&b, "  %s: %v\n", f.Target, f.Err)
	}
	return b.String()
}

func (e *BuildError) Unwrap() []error {
	errs := make([]error, len(e.Failures))
	for i, f := range e.Failures {
		errs[i] = f.Err
	}
	return errs
}
