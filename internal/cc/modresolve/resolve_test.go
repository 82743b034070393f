package modresolve

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/buildcore/cxxcore/internal/cc"
)

func TestResolveExactLibraryModuleNameWins(t *testing.T) {
	libBMIs := []LibraryBMI{{ModuleName: "widgets.core", Target: "lib-target"}}
	siblings := []Candidate{{Leaf: "core.mxx", HasModuleName: false, Target: "sibling-target"}}

	bindings, _, err := Resolve([]cc.Import{{Name: "widgets.core"}}, libBMIs, siblings, nil)
	require.NoError(t, err)
	require.Len(t, bindings, 1)
	assert.Equal(t, "lib-target", bindings[0].Target)
}

func TestResolveFuzzyMatchesSiblingLeafName(t *testing.T) {
	siblings := []Candidate{
		{Leaf: "core", Target: "core-target"},
		{Leaf: "widgets", Target: "widgets-target"},
	}
	bindings, _, err := Resolve([]cc.Import{{Name: "core"}}, nil, siblings, nil)
	require.NoError(t, err)
	require.Len(t, bindings, 1)
	assert.Equal(t, "core-target", bindings[0].Target)
}

func TestResolveExplicitNonMatchingModuleNameOptsOutOfFuzzy(t *testing.T) {
	siblings := []Candidate{
		{Leaf: "core", HasModuleName: true, ModuleName: "something.else", Target: "core-target"},
	}
	_, _, err := Resolve([]cc.Import{{Name: "core"}}, nil, siblings, nil)
	require.Error(t, err)
	var unresolved *UnresolvedImportError
	assert.ErrorAs(t, err, &unresolved)
}

func TestResolveUnresolvedStdImportIsAssumedPrebuilt(t *testing.T) {
	bindings, _, err := Resolve([]cc.Import{{Name: "std.io"}}, nil, nil, nil)
	require.NoError(t, err)
	require.Len(t, bindings, 1)
	assert.Nil(t, bindings[0].Target)
}

func TestResolveUnresolvedNonStdImportIsFatal(t *testing.T) {
	_, _, err := Resolve([]cc.Import{{Name: "widgets.missing"}}, nil, nil, nil)
	require.Error(t, err)
	var unresolved *UnresolvedImportError
	assert.ErrorAs(t, err, &unresolved)
}

func TestResolveExportedImportsMoveToEndAndDuplicateTransitiveBMIs(t *testing.T) {
	libBMIs := []LibraryBMI{
		{ModuleName: "a", Target: "a-target"},
		{ModuleName: "b", Target: "b-target"},
	}
	imports := []cc.Import{
		{Name: "a", Exported: false},
		{Name: "b", Exported: true},
	}
	exportTransitive := func(r Ref) []Ref {
		if r == "b-target" {
			return []Ref{"b-transitive"}
		}
		return nil
	}

	bindings, pos, err := Resolve(imports, libBMIs, nil, exportTransitive)
	require.NoError(t, err)
	require.Len(t, bindings, 3)
	assert.Equal(t, "a-target", bindings[0].Target, "non-exported import stays first")
	assert.Equal(t, "b-target", bindings[1].Target, "exported import moves after direct ones")
	assert.Equal(t, "b-transitive", bindings[2].Target, "transitive BMI duplicated at the tail")

	assert.Equal(t, 0, pos.Start)
	assert.Equal(t, 1, pos.Exported)
	assert.Equal(t, 2, pos.Copied)
}

func TestVerifyGuessDetectsMismatch(t *testing.T) {
	b := Binding{Import: cc.Import{Name: "core"}, Target: "t", Score: 1}
	err := VerifyGuess(b, "notcore")
	require.Error(t, err)
	var mismatch *GuessMismatchError
	assert.ErrorAs(t, err, &mismatch)
}

func TestVerifyGuessSkipsExactMatches(t *testing.T) {
	b := Binding{Import: cc.Import{Name: "core"}, Target: "t", Score: len("core") + 1}
	assert.NoError(t, VerifyGuess(b, "notcore"))
}
