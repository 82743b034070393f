package depdb

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpenMissingFileStartsWriting(t *testing.T) {
	dir := t.TempDir()
	db, err := Open(filepath.Join(dir, "a.o.d"))
	require.NoError(t, err)
	assert.True(t, db.IsNew())
	assert.True(t, db.Writing())
}

func TestRoundTripWriteThenReadMatches(t *testing.T) {
	path := filepath.Join(t.TempDir(), "a.o.d")

	db, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, db.Write("cc"))
	require.NoError(t, db.Write("/usr/include/stdio.h"))
	require.NoError(t, db.Close(false, path))

	db2, err := Open(path)
	require.NoError(t, err)
	assert.False(t, db2.Writing(), "a cleanly closed depdb starts in reading mode")

	_, matched := db2.Expect("cc")
	assert.True(t, matched)
	_, matched = db2.Expect("/usr/include/stdio.h")
	assert.True(t, matched)
	assert.False(t, db2.Writing())
}

func TestExpectMismatchSwitchesToWritingAndReturnsStaleValue(t *testing.T) {
	path := filepath.Join(t.TempDir(), "a.o.d")

	db, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, db.Write("cc"))
	require.NoError(t, db.Close(false, path))

	db2, err := Open(path)
	require.NoError(t, err)
	old, matched := db2.Expect("clang")
	assert.False(t, matched)
	assert.Equal(t, "cc", old)
	assert.True(t, db2.Writing())
}

func TestInterruptedWriteTreatedAsStaleCache(t *testing.T) {
	path := filepath.Join(t.TempDir(), "a.o.d")

	db, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, db.Write("cc"))
	// No Close: no terminating blank line is ever written, simulating a
	// crash mid-write.
	require.NoError(t, db.w.Flush())

	db2, err := Open(path)
	require.NoError(t, err)
	assert.True(t, db2.Writing(), "a depdb with no terminating blank line must be treated as interrupted")
}

func TestCheckMtimeDetectsSkew(t *testing.T) {
	now := time.Now()
	depdbMtime := now.Add(-time.Minute)
	targetMtime := now.Add(-2 * time.Minute)

	assert.Error(t, CheckMtime(depdbMtime, "a.d", "a.o", targetMtime, now), "depdb newer than its target is skew")
	assert.NoError(t, CheckMtime(targetMtime, "a.d", "a.o", depdbMtime, now))
	assert.Error(t, CheckMtime(depdbMtime, "a.d", "a.o", now.Add(time.Hour), now), "target timestamped in the future is skew")
}

func TestDiffRendersBothSides(t *testing.T) {
	out := Diff("cc", "clang")
	assert.NotEmpty(t, out)
}
