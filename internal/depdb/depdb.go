// Package depdb implements the line-oriented, append-only dependency
// cache described in spec §3 ("depdb") and §4.8 ("depdb engine"): a file
// colocated with a target as `<target>.d` that records, in a fixed line
// order, everything a compile or link rule needs to decide whether its
// target is still up to date.
package depdb

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/golang/glog"
	"github.com/sergi/go-diff/diffmatchpatch"
)

// DB is one open depdb file. It starts in reading mode if the file
// already existed; the first call to Expect that sees a mismatch (or
// runs past the cached lines) switches it to writing mode for the
// remainder of its lifetime, per spec §4.8: "the first mismatching line
// triggers re-derivation from that point; any subsequent valid lines are
// truncated."
type DB struct {
	path  string
	cache []string // lines read from the file when it was opened
	pos   int      // index into cache of the next line Expect/Read will see
	mtime time.Time
	isNew bool // the file did not exist before Open

	writing bool
	out     *os.File
	w       *bufio.Writer

	touch bool
}

// Open opens (or begins creating) the depdb file at path. A missing file
// is not an error: DB starts directly in writing mode, matching a cold
// build where no prior depdb exists.
func Open(path string) (*DB, error) {
	db := &DB{path: path}

	f, err := os.Open(path)
	if os.IsNotExist(err) {
		db.isNew = true
		db.writing = true
		return db, nil
	}
	if err != nil {
		return nil, fmt.Errorf("depdb: open %s: %w", path, err)
	}
	defer f.Close()

	st, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("depdb: stat %s: %w", path, err)
	}
	db.mtime = st.ModTime()

	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	closedClean := false
	for sc.Scan() {
		line := sc.Text()
		if line == "" {
			// The blank terminator: a clean prior close. Anything after it
			// (there shouldn't be anything) is ignored.
			closedClean = true
			break
		}
		db.cache = append(db.cache, line)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("depdb: read %s: %w", path, err)
	}
	if !closedClean {
		glog.Warningf("depdb: %s has no terminating blank line, treating as interrupted write", path)
		db.writing = true
		db.cache = nil
	}
	return db, nil
}

// Mtime is the depdb file's modification time at the moment it was
// opened, or the zero time for a brand new depdb.
func (db *DB) Mtime() time.Time { return db.mtime }

// IsNew reports whether no depdb file existed before Open.
func (db *DB) IsNew() bool { return db.isNew }

// Writing reports whether the db has switched to (or started in)
// writing mode: once true, Read and Expect no longer consult the cache.
func (db *DB) Writing() bool { return db.writing }

// Read returns the next cached line, or ("", false) if there is none or
// the db is already writing. Unlike Expect, Read never switches modes —
// it is for content a rule wants to inspect without yet deciding whether
// it still matches (e.g. peeking at the module-info line's shape before
// validating it).
func (db *DB) Read() (string, bool) {
	if db.writing || db.pos >= len(db.cache) {
		return "", false
	}
	line := db.cache[db.pos]
	db.pos++
	return line, true
}

// Expect compares the next cached line against line. If they match, it
// advances past it and reports matched=true. Otherwise — including when
// there is no next cached line — it switches the db to writing mode for
// good (spec §4.8: "seek truncate here and switch to writing"), returns
// the stale cached value (empty if there wasn't one) and matched=false.
// The caller is expected to Write(line) itself; Expect does not do that
// on the caller's behalf since some mismatches call for writing a
// different value than the one that failed to match (e.g. re-deriving a
// checksum).
func (db *DB) Expect(line string) (old string, matched bool) {
	if !db.writing && db.pos < len(db.cache) {
		cur := db.cache[db.pos]
		db.pos++
		if cur == line {
			return "", true
		}
		if glog.V(2) {
			glog.V(2).Infof("depdb: %s: line %d mismatch:\n%s", db.path, db.pos, Diff(cur, line))
		}
		db.startWriting()
		return cur, false
	}
	db.startWriting()
	return "", false
}

// ForceWriting switches the db to writing mode without comparing
// against a candidate line, for callers (the header extractor) that
// decide to abandon the cache based on something other than a line
// mismatch — e.g. falling through to "run compiler" because a cached
// header no longer exists on disk.
func (db *DB) ForceWriting() { db.startWriting() }

func (db *DB) startWriting() {
	if db.writing {
		return
	}
	db.writing = true
}

// Write appends line to the db. It requires Writing() to already be
// true, per spec §4.8 ("write(line): append in writing state"); a rule
// that wants to write unconditionally (e.g. a fresh header line
// discovered by the extractor) calls Expect first even against an empty
// sentinel, or relies on having already forced writing via a prior
// mismatch.
func (db *DB) Write(line string) error {
	if !db.writing {
		panic("depdb: Write called while still in reading mode")
	}
	if db.w == nil {
		if err := db.openForWrite(); err != nil {
			return err
		}
	}
	if _, err := io.WriteString(db.w, line); err != nil {
		return fmt.Errorf("depdb: write %s: %w", db.path, err)
	}
	if err := db.w.WriteByte('\n'); err != nil {
		return fmt.Errorf("depdb: write %s: %w", db.path, err)
	}
	return nil
}

func (db *DB) openForWrite() error {
	if err := os.MkdirAll(filepath.Dir(db.path), 0o777); err != nil {
		return fmt.Errorf("depdb: mkdir for %s: %w", db.path, err)
	}
	f, err := os.Create(db.path)
	if err != nil {
		return fmt.Errorf("depdb: create %s: %w", db.path, err)
	}
	db.out = f
	db.w = bufio.NewWriter(f)
	return nil
}

// Touch requests that Close bump the file's mtime even if Write was
// never called, the "revalidation succeeded but the compiler still ran"
// case of spec §4.6 step 6 ("flips touch=true").
func (db *DB) Touch() { db.touch = true }

// Close finishes the db. If nothing was written, it only optionally
// bumps the mtime (Touch); if something was written, it appends the
// terminating blank line (spec §4.8: "the blank terminator distinguishes
// a clean close from an interrupted write") and flushes.
//
// checkMtime requests the supplemented build2 behavior of re-statting
// the target after close to catch a recipe that updated the target file
// without going through depdb bookkeeping (SPEC_FULL.md §4,
// "depdb close(mtime_check)"); targetPath is the target this depdb is
// colocated with.
func (db *DB) Close(checkMtime bool, targetPath string) error {
	defer func() {
		if db.out != nil {
			db.out.Close()
		}
	}()

	if db.writing && db.w != nil {
		if _, err := io.WriteString(db.w, "\n"); err != nil {
			return fmt.Errorf("depdb: write %s: %w", db.path, err)
		}
		if err := db.w.Flush(); err != nil {
			return fmt.Errorf("depdb: flush %s: %w", db.path, err)
		}
	} else if db.touch && !db.writing {
		now := time.Now()
		if err := os.Chtimes(db.path, now, now); err != nil {
			return fmt.Errorf("depdb: touch %s: %w", db.path, err)
		}
	}

	if checkMtime {
		st, err := os.Stat(targetPath)
		if err != nil {
			return fmt.Errorf("depdb: stat %s after close: %w", targetPath, err)
		}
		return CheckMtime(db.mtime, db.path, targetPath, st.ModTime(), time.Now())
	}
	return nil
}

// CheckMtime verifies the chronology depdb_mtime <= target_mtime <= now
// required by spec §4.8's check_mtime and §7's "depdb skew" diagnostic:
// a depdb that ends up newer than the target it describes, or a target
// timestamped in the future, indicates filesystem clock skew (e.g. a
// networked filesystem with an unsynchronized clock) rather than a real
// staleness condition the scheduler can act on.
func CheckMtime(depdbMtime time.Time, depdbPath, targetPath string, targetMtime, now time.Time) error {
	if depdbMtime.After(targetMtime) {
		return fmt.Errorf("depdb skew: %s (%s) is newer than %s (%s); check for clock skew",
			depdbPath, depdbMtime, targetPath, targetMtime)
	}
	if targetMtime.After(now) {
		return fmt.Errorf("depdb skew: %s has a modification time (%s) in the future (now %s); check for clock skew",
			targetPath, targetMtime, now)
	}
	return nil
}

// Diff renders a human-readable diff between two depdb lines, used at
// glog.V(2) so a developer debugging a spurious rebuild can see exactly
// which cached value changed.
func Diff(old, new string) string {
	dmp := diffmatchpatch.New()
	diffs := dmp.DiffMain(old, new, false)
	return dmp.DiffPrettyText(diffs)
}
