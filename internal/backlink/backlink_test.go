package backlink

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fakeLinker() (*Linker, *[]string) {
	var calls []string
	existing := map[string]bool{}
	l := &Linker{
		Symlink:  func(old, new string) error { calls = append(calls, "symlink:"+old+"->"+new); existing[new] = true; return nil },
		Link:     func(old, new string) error { calls = append(calls, "link:"+old+"->"+new); existing[new] = true; return nil },
		Copy:     func(src, dst string) error { calls = append(calls, "copy:"+src+"->"+dst); existing[dst] = true; return nil },
		Remove:   func(path string) error { calls = append(calls, "remove:"+path); delete(existing, path); return nil },
		Lstat:    func(path string) (os.FileInfo, error) { if existing[path] { return nil, nil }; return nil, os.ErrNotExist },
		MkdirAll: func(dir string) error { return nil },
	}
	return l, &calls
}

func TestBacklinkNoopWhenNotForwarded(t *testing.T) {
	l, calls := fakeLinker()
	err := l.Backlink(false, Member{Mode: ModeSymbolic, OutPath: "out", SrcPath: "src"})
	require.NoError(t, err)
	assert.Empty(t, *calls)
}

func TestBacklinkNoopWithNoMode(t *testing.T) {
	l, calls := fakeLinker()
	err := l.Backlink(true, Member{Mode: ModeNone, OutPath: "out", SrcPath: "src"})
	require.NoError(t, err)
	assert.Empty(t, *calls)
}

func TestBacklinkTrueModeSymbolicOnPosix(t *testing.T) {
	l, calls := fakeLinker()
	l.Windows = false
	require.NoError(t, l.Backlink(true, Member{Mode: ModeTrue, OutPath: "out", SrcPath: "src"}))
	assert.Contains(t, *calls, "symlink:out->src")
}

func TestBacklinkTrueModeHardOnWindows(t *testing.T) {
	l, calls := fakeLinker()
	l.Windows = true
	require.NoError(t, l.Backlink(true, Member{Mode: ModeTrue, OutPath: "out", SrcPath: "src"}))
	assert.Contains(t, *calls, "link:out->src")
}

func TestBacklinkDLLAssemblyAlwaysCopiesOnWindows(t *testing.T) {
	l, calls := fakeLinker()
	l.Windows = true
	require.NoError(t, l.Backlink(true, Member{Mode: ModeSymbolic, IsDLLAssembly: true, OutPath: "out", SrcPath: "src"}))
	assert.Contains(t, *calls, "copy:out->src")
}

func TestBacklinkHardLinkFallsBackToCopyOnFailure(t *testing.T) {
	l, calls := fakeLinker()
	l.Link = func(old, new string) error { return os.ErrPermission }
	require.NoError(t, l.Backlink(true, Member{Mode: ModeHard, OutPath: "out", SrcPath: "src"}))
	assert.Contains(t, *calls, "copy:out->src")
}

func TestBacklinkRemovesStaleLinkBeforeRelinking(t *testing.T) {
	l, calls := fakeLinker()
	require.NoError(t, l.Backlink(true, Member{Mode: ModeSymbolic, OutPath: "out1", SrcPath: "src"}))
	require.NoError(t, l.Backlink(true, Member{Mode: ModeSymbolic, OutPath: "out2", SrcPath: "src"}))
	assert.Contains(t, *calls, "remove:src")
}

func TestBacklinkOverwriteModeRemovesUnconditionallyBestEffort(t *testing.T) {
	l, calls := fakeLinker()
	l.Remove = func(path string) error { return os.ErrNotExist }
	err := l.Backlink(true, Member{Mode: ModeOverwrite, OutPath: "out", SrcPath: "src"})
	require.NoError(t, err, "overwrite tolerates Remove failing on an absent file")
	assert.Contains(t, *calls, "copy:out->src")
}

func TestBacklinkGroupInheritsModeFromGroup(t *testing.T) {
	l, calls := fakeLinker()
	group := Member{Mode: ModeSymbolic, OutPath: "gout", SrcPath: "gsrc"}
	member := Member{Mode: ModeGroup, OutPath: "mout", SrcPath: "msrc"}

	require.NoError(t, l.BacklinkGroup(true, group, []Member{member}))
	assert.Contains(t, *calls, "symlink:gout->gsrc")
	assert.Contains(t, *calls, "symlink:mout->msrc")
}

func TestBacklinkUnknownModeIsAnError(t *testing.T) {
	l, _ := fakeLinker()
	err := l.Backlink(true, Member{Mode: Mode("bogus"), OutPath: "out", SrcPath: "src"})
	assert.Error(t, err)
}
