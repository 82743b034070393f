package scheduler

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/buildcore/cxxcore/internal/graph"
)

func TestBuildErrorSingleFailureUnwrapsToItsMessage(t *testing.T) {
	inner := errors.New("compile failed")
	tgt := graph.New(graph.Key{Type: "obj", Dir: "d", Name: "n"}, graph.TypeObj)
	be := &BuildError{Failures: []TargetError{{Target: tgt, Err: inner}}}
	assert.Equal(t, "compile failed", be.Error())
	assert.Equal(t, []error{inner}, be.Unwrap())
}

func TestBuildErrorMultipleFailuresListsEach(t *testing.T) {
	t1 := graph.New(graph.Key{Type: "obj", Dir: "d", Name: "a"}, graph.TypeObj)
	t2 := graph.New(graph.Key{Type: "obj", Dir: "d", Name: "b"}, graph.TypeObj)
	be := &BuildError{Failures: []TargetError{
		{Target: t1, Err: errors.New("e1")},
		{Target: t2, Err: errors.New("e2")},
	}}
	msg := be.Error()
	assert.Contains(t, msg, "2 targets failed")
	assert.Contains(t, msg, "e1")
	assert.Contains(t, msg, "e2")
}

func TestOptionsReLockErrorMessage(t *testing.T) {
	tgt := graph.New(graph.Key{Type: "obj", Dir: "d", Name: "n"}, graph.TypeObj)
	err := &OptionsReLockError{Target: tgt}
	assert.Contains(t, err.Error(), "change of options after execute")
}
