package compile

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/buildcore/cxxcore/internal/action"
	"github.com/buildcore/cxxcore/internal/cc"
	"github.com/buildcore/cxxcore/internal/graph"
)

func TestHashStringsIsStableAndSensitiveToOrder(t *testing.T) {
	h1 := hashStrings([]string{"a", "b"})
	h2 := hashStrings([]string{"a", "b"})
	h3 := hashStrings([]string{"b", "a"})
	assert.Equal(t, h1, h2)
	assert.NotEqual(t, h1, h3)
}

func TestHashStringsDistinguishesConcatenationBoundary(t *testing.T) {
	// Without a separator byte, ["ab"] and ["a", "b"] would hash the same.
	h1 := hashStrings([]string{"ab"})
	h2 := hashStrings([]string{"a", "b"})
	assert.NotEqual(t, h1, h2)
}

func TestIsLibraryRecognizesAllLibraryKinds(t *testing.T) {
	for _, ti := range []*graph.TypeInfo{graph.TypeLib, graph.TypeLiba, graph.TypeLibs, graph.TypeLibu} {
		tgt := graph.New(graph.Key{Type: ti.ID, Dir: "d", Name: "n"}, ti)
		assert.True(t, isLibrary(tgt), "%s must be recognized as a library", ti.ID)
	}
	obj := graph.New(graph.Key{Type: "obj", Dir: "d", Name: "n"}, graph.TypeObj)
	assert.False(t, isLibrary(obj))
}

func TestCheckVariantRejectsModuleInterfaceAgainstNonBMITarget(t *testing.T) {
	obj := graph.New(graph.Key{Type: "obj", Dir: "d", Name: "n"}, graph.TypeObj)
	require.Error(t, checkVariant(obj, cc.ModuleIface))
}

func TestCheckVariantRejectsNonModularSourceAgainstBMITarget(t *testing.T) {
	bmi := graph.New(graph.Key{Type: "bmi", Dir: "d", Name: "n"}, graph.TypeBMI)
	require.Error(t, checkVariant(bmi, cc.NonModular))
}

func TestCheckVariantAcceptsMatchingCombinations(t *testing.T) {
	obj := graph.New(graph.Key{Type: "obj", Dir: "d", Name: "n"}, graph.TypeObj)
	bmi := graph.New(graph.Key{Type: "bmi", Dir: "d", Name: "n"}, graph.TypeBMI)
	assert.NoError(t, checkVariant(obj, cc.NonModular))
	assert.NoError(t, checkVariant(obj, cc.ModuleImpl))
	assert.NoError(t, checkVariant(bmi, cc.ModuleIface))
	assert.NoError(t, checkVariant(bmi, cc.ModuleHeader))
}

func TestFindSourcePicksSourcePrerequisite(t *testing.T) {
	obj := graph.New(graph.Key{Type: "obj", Dir: "d", Name: "n"}, graph.TypeObj)
	other := graph.New(graph.Key{Type: "obj", Dir: "d", Name: "other"}, graph.TypeObj)
	src := graph.New(graph.Key{Type: "cxx", Dir: "d", Name: "n"}, graph.TypeModImpl)
	obj.AddPrerequisite(other)
	obj.AddPrerequisite(src)

	assert.Same(t, src, findSource(obj))
	assert.Nil(t, findSource(other))
}

func TestMatchRequiresObjOrBMITargetWithSource(t *testing.T) {
	r := &Rule{}
	lib := graph.New(graph.Key{Type: "liba", Dir: "d", Name: "n"}, graph.TypeLiba)
	ok, err := r.Match(nil, action.New(action.Perform, action.Update), lib, "", graph.MatchExtra{})
	require.NoError(t, err)
	assert.False(t, ok, "a non-obj/bmi target never matches the compile rule")

	obj := graph.New(graph.Key{Type: "obj", Dir: "d", Name: "n"}, graph.TypeObj)
	ok, err = r.Match(nil, action.New(action.Perform, action.Update), obj, "", graph.MatchExtra{})
	require.NoError(t, err)
	assert.False(t, ok, "an obj{} with no source prerequisite does not match")

	src := graph.New(graph.Key{Type: "cxx", Dir: "d", Name: "n"}, graph.TypeModImpl)
	obj.AddPrerequisite(src)
	ok, err = r.Match(nil, action.New(action.Perform, action.Update), obj, "", graph.MatchExtra{})
	require.NoError(t, err)
	assert.True(t, ok)
}
