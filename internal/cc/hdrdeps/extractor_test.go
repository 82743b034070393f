package hdrdeps

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseHeaderLinePlainPath(t *testing.T) {
	path, bmi, isUnit := parseHeaderLine("/usr/include/stdio.h")
	assert.Equal(t, "/usr/include/stdio.h", path)
	assert.Empty(t, bmi)
	assert.False(t, isUnit)
}

func TestParseHeaderLineHeaderUnit(t *testing.T) {
	path, bmi, isUnit := parseHeaderLine("@ '/usr/include/vector' /out/vector.bmi")
	assert.True(t, isUnit)
	assert.Equal(t, "/usr/include/vector", path)
	assert.Equal(t, "/out/vector.bmi", bmi)
}

func TestHeaderUnitLineRoundTrips(t *testing.T) {
	line := headerUnitLine("/usr/include/vector", "/out/vector.bmi")
	path, bmi, isUnit := parseHeaderLine(line)
	assert.True(t, isUnit)
	assert.Equal(t, "/usr/include/vector", path)
	assert.Equal(t, "/out/vector.bmi", bmi)
}

func TestArgvForGCCDialect(t *testing.T) {
	e := &Extractor{Dialect: GCC}
	argv := e.argvFor([]string{"g++", "-c", "a.cxx"}, false)
	assert.Equal(t, []string{"g++", "-c", "a.cxx", "-M", "-MD", "-MQ", "-"}, argv)

	argv = e.argvFor([]string{"g++"}, true)
	assert.Contains(t, argv, "-MG")
}

func TestArgvForClangDialect(t *testing.T) {
	e := &Extractor{Dialect: Clang}
	argv := e.argvFor([]string{"clang++"}, false)
	assert.Equal(t, []string{"clang++", "-M", "-MD", "-frewrite-includes"}, argv)
}

func TestArgvForMSVCDialectHasNoMGFlag(t *testing.T) {
	e := &Extractor{Dialect: MSVC}
	argv := e.argvFor([]string{"cl"}, true)
	assert.Equal(t, []string{"cl", "/showIncludes"}, argv)
}

func TestParseMakeRulesExtractsDependencies(t *testing.T) {
	data := []byte("a.o: a.cxx \\\n  a.hxx \\\n  b.hxx\n")
	paths, missing, err := parseMakeRules(data)
	assert.NoError(t, err)
	assert.Nil(t, missing)
	assert.Equal(t, []string{"a.cxx", "a.hxx", "b.hxx"}, paths)
}

func TestParseShowIncludesSplitsNotesAndMissing(t *testing.T) {
	stdout := []byte("Note: including file:  c:\\inc\\a.h\r\n" +
		"a.cxx(3): fatal error C1083: Cannot open include file: 'missing.h': No such file or directory\r\n")
	paths, missing, err := parseShowIncludes(stdout, nil)
	assert.NoError(t, err)
	assert.Equal(t, []string{"c:\\inc\\a.h"}, paths)
	assert.Equal(t, []string{"missing.h"}, missing)
}

func TestParseShowIncludesErrorPropagates(t *testing.T) {
	stdout := []byte("a.cxx(1): error C2065: undeclared identifier\r\n")
	_, _, err := parseShowIncludes(stdout, nil)
	assert.Error(t, err)
}

func TestContainsRef(t *testing.T) {
	a, b, c := "a", "b", "c"
	refs := []Ref{a, b}
	assert.True(t, containsRef(refs, a))
	assert.False(t, containsRef(refs, c))
}

func TestOscillatingModeErrorMessageIncludesBothArgv(t *testing.T) {
	err := &OscillatingModeError{Argv1: []string{"cc", "-c"}, Argv2: []string{"cc", "-MG"}}
	assert.Contains(t, err.Error(), "cc -c")
	assert.Contains(t, err.Error(), "cc -MG")
}

func TestMissingHeaderErrorMessage(t *testing.T) {
	err := &MissingHeaderError{Name: "foo.h"}
	assert.Contains(t, err.Error(), "foo.h")
}
