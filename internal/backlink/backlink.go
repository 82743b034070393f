// Package backlink implements the forwarded-project backlink machinery
// of spec §4.9: when a project is built out-of-tree but forwarded, this
// package mirrors selected out-tree outputs back into the source tree so
// an in-tree-style workflow (editors, other tools expecting build
// artifacts next to sources) keeps working.
package backlink

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/golang/glog"
)

// Mode is the `backlink` variable's value, per spec §4.9.
type Mode string

const (
	ModeNone     Mode = ""
	ModeTrue     Mode = "true" // platform default: symbolic on POSIX, hard on Windows when possible
	ModeSymbolic Mode = "symbolic"
	ModeHard     Mode = "hard"
	ModeCopy     Mode = "copy"
	ModeOverwrite Mode = "overwrite" // like copy, but always replaces an existing backlink unconditionally
	ModeGroup    Mode = "group"      // inherit the ad hoc group's mode
)

// Member is the narrow view this package needs of a matched target: its
// out-tree path, the mirrored src-tree path it backlinks to, its own
// mode, and (for ad hoc group members) its group's mode to inherit when
// Mode is ModeGroup, per spec §4.9: "each member's backlink mode is
// inherited from the group unless overridden."
type Member struct {
	OutPath   string
	SrcPath   string
	Mode      Mode
	GroupMode Mode
	// IsDLLAssembly marks the fsdir{…dlls/} ad hoc member spec §4.9's
	// last sentence describes: Windows's bin.rpath auto-assembly
	// directory, which must always be copy-linked because "Windows
	// refuses junctions as DLL assemblies."
	IsDLLAssembly bool
}

func (m Member) effectiveMode(windows bool) Mode {
	mode := m.Mode
	if mode == ModeGroup {
		mode = m.GroupMode
	}
	if m.IsDLLAssembly && windows {
		return ModeCopy
	}
	if mode == ModeTrue {
		if windows {
			return ModeHard
		}
		return ModeSymbolic
	}
	return mode
}

// Linker performs the filesystem operations this package orchestrates;
// production code backs it with the real os/filepath calls, tests with
// an in-memory fake.
type Linker struct {
	Windows bool

	Symlink func(oldname, newname string) error
	Link    func(oldname, newname string) error
	Copy    func(src, dst string) error
	Remove  func(path string) error
	Lstat   func(path string) (os.FileInfo, error)
	MkdirAll func(dir string) error
}

// DefaultLinker backs Linker's function fields with the real os package.
func DefaultLinker(windows bool) *Linker {
	return &Linker{
		Windows:  windows,
		Symlink:  os.Symlink,
		Link:     os.Link,
		Copy:     copyFile,
		Remove:   os.Remove,
		Lstat:    os.Lstat,
		MkdirAll: func(dir string) error { return os.MkdirAll(dir, 0o755) },
	}
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()
	if _, err := io.Copy(out, in); err != nil {
		return err
	}
	return out.Close()
}

// Backlink implements spec §4.9's `update` side effect for one member:
// when forwarded is false or the member has no backlink mode, it's a
// no-op; otherwise it (re)creates the src-tree mirror, replacing
// whatever was there (stale backlink from a prior mode, or nothing).
func (l *Linker) Backlink(forwarded bool, m Member) error {
	if !forwarded {
		return nil
	}
	mode := m.effectiveMode(l.Windows)
	if mode == ModeNone {
		return nil
	}

	if err := l.MkdirAll(filepath.Dir(m.SrcPath)); err != nil {
		return fmt.Errorf("backlink %s: %w", m.SrcPath, err)
	}

	if mode != ModeOverwrite {
		if _, err := l.Lstat(m.SrcPath); err == nil {
			// A prior backlink (or unrelated file) already occupies this
			// path; remove it before relinking. Unlike `overwrite` mode,
			// which ignores a failed Remove, a failure here is an error.
			if rmErr := l.Remove(m.SrcPath); rmErr != nil {
				return fmt.Errorf("backlink %s: removing stale link: %w", m.SrcPath, rmErr)
			}
		}
	} else {
		_ = l.Remove(m.SrcPath) // best effort; absence is fine
	}

	switch mode {
	case ModeSymbolic:
		if err := l.Symlink(m.OutPath, m.SrcPath); err != nil {
			return fmt.Errorf("backlink %s -> %s: %w", m.SrcPath, m.OutPath, err)
		}
	case ModeHard:
		if err := l.Link(m.OutPath, m.SrcPath); err != nil {
			if glog.V(1) {
				glog.V(1).Infof("backlink: hard link %s failed (%v), falling back to copy", m.SrcPath, err)
			}
			if cerr := l.Copy(m.OutPath, m.SrcPath); cerr != nil {
				return fmt.Errorf("backlink %s -> %s: %w", m.SrcPath, m.OutPath, cerr)
			}
		}
	case ModeCopy, ModeOverwrite:
		if err := l.Copy(m.OutPath, m.SrcPath); err != nil {
			return fmt.Errorf("backlink %s -> %s: %w", m.SrcPath, m.OutPath, err)
		}
	default:
		return fmt.Errorf("backlink %s: unknown mode %q", m.SrcPath, mode)
	}
	return nil
}

// BacklinkGroup applies Backlink to a group target and every ad hoc
// member inheriting its mode, per spec §4.9's group-member inheritance
// rule. Members are processed after the group so a ModeGroup member sees
// the group's final effective mode even if the caller built the slice in
// an arbitrary order.
func (l *Linker) BacklinkGroup(forwarded bool, group Member, members []Member) error {
	if err := l.Backlink(forwarded, group); err != nil {
		return err
	}
	for _, m := range members {
		if m.Mode == ModeGroup {
			m.GroupMode = group.Mode
		}
		if err := l.Backlink(forwarded, m); err != nil {
			return err
		}
	}
	return nil
}
