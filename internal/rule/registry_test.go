package rule

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/buildcore/cxxcore/internal/action"
	"github.com/buildcore/cxxcore/internal/graph"
)

func TestRegistryLookupIsScopedAndKeyed(t *testing.T) {
	reg := NewRegistry()
	r := &fakeRule{id: "r", matches: true}
	reg.Register(Global, action.Perform, action.Update, graph.TypeObj.ID, "cxx", r)

	assert.Len(t, reg.lookup(Global, "perform", "update", "obj"), 1)
	assert.Empty(t, reg.lookup(Global, "perform", "update", "obja"), "wrong type must not match")
	assert.Empty(t, reg.lookup(Global, "perform", "clean", "obj"), "wrong operation must not match")

	other := &Scope{Name: "other", Parent: Global}
	assert.Empty(t, reg.lookup(other, "perform", "update", "obj"), "registration does not leak across scopes")
}

func TestRegistryMultipleRegistrationsAccumulate(t *testing.T) {
	reg := NewRegistry()
	reg.Register(Global, action.Perform, action.Update, graph.TypeObj.ID, "", &fakeRule{id: "a"})
	reg.Register(Global, action.Perform, action.Update, graph.TypeObj.ID, "", &fakeRule{id: "b"})
	assert.Len(t, reg.lookup(Global, "perform", "update", "obj"), 2)
}

func TestScopeChainEndsAtGlobal(t *testing.T) {
	mid := &Scope{Name: "mid", Parent: Global}
	leaf := &Scope{Name: "leaf", Parent: mid}

	chain := leaf.Chain()
	var names []string
	for _, s := range chain {
		names = append(names, s.Name)
	}
	assert.Equal(t, []string{"leaf", "mid", "global"}, names)
}
