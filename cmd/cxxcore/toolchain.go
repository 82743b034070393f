package main

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"os/exec"
	"regexp"
	"strings"
	"time"

	"github.com/buildcore/cxxcore/internal/cc"
	"github.com/buildcore/cxxcore/internal/cc/hdrdeps"
	"github.com/buildcore/cxxcore/internal/fsutil"
	"github.com/buildcore/cxxcore/internal/graph"
	"github.com/buildcore/cxxcore/cmd/cxxcore/config"
)

// gccInfo is the concrete cc.CompilerInfo collaborator for a GCC/Clang
// style toolchain, the only compiler-identity guessing this driver does
// (spec §1 names this as out of scope for the core itself).
type gccInfo struct {
	cfg *config.Compiler
}

func (g *gccInfo) ID() string { return g.cfg.ID }

func (g *gccInfo) Checksum() string {
	h := sha256.New()
	h.Write([]byte(g.cfg.ID))
	h.Write([]byte(g.cfg.Path))
	h.Write([]byte(g.cfg.Target))
	return hex.EncodeToString(h.Sum(nil))
}

func (g *gccInfo) BMIExt() string {
	if g.cfg.ID == "clang" {
		return ".pcm"
	}
	return ".gcm"
}

func (g *gccInfo) ObjExt() string { return ".o" }

func (g *gccInfo) SupportsModuleMapper() bool { return g.cfg.ID == "gcc" && g.cfg.Modules }

// execSpawner is the concrete cc.Spawner backed by os/exec.
type execSpawner struct{}

func (execSpawner) Run(ctx context.Context, argv []string, stdin []byte) (stdout, stderr []byte, err error) {
	if len(argv) == 0 {
		return nil, nil, fmt.Errorf("empty argv")
	}
	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	var outBuf, errBuf bytes.Buffer
	cmd.Stdout = &outBuf
	cmd.Stderr = &errBuf
	if stdin != nil {
		cmd.Stdin = bytes.NewReader(stdin)
	}
	runErr := cmd.Run()
	if runErr != nil {
		runErr = fmt.Errorf("%s: %w: %s", argv[0], runErr, errBuf.String())
	}
	return outBuf.Bytes(), errBuf.Bytes(), runErr
}

func (execSpawner) Mapper(ctx context.Context, argv []string) (cc.ModuleMapperConn, error) {
	return nil, fmt.Errorf("module mapper not wired for this compiler invocation")
}

// diagSink is the concrete cc.DiagnosticSink writing to stderr, the
// "diagnostics formatting" collaborator spec §1 treats as out of scope
// for the core.
type diagSink struct{}

func (diagSink) Errorf(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, "error: "+format+"\n", args...)
}

func (diagSink) Warningf(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, "warning: "+format+"\n", args...)
}

// moduleDeclRE and importDeclRE recognize the subset of import/module declarations this
// lightweight scanner understands: `import foo;`, `export import foo;`,
// `export module foo;`, and `module foo;`. A real C++ front end is
// squarely the "compiler identity guessing" / parsing territory spec §1
// treats as an out-of-scope collaborator; this regex-based scanner is
// the driver's minimal, honest stand-in for it.
var (
	moduleDeclRE = regexp.MustCompile(`(?m)^\s*(export\s+)?module\s+([A-Za-z0-9_.:]+)\s*;`)
	importDeclRE = regexp.MustCompile(`(?m)^\s*(export\s+)?import\s+([A-Za-z0-9_.:]+|"[^"]+"|<[^>]+>)\s*;`)
)

// regexTUParser is the concrete cc.TUParser used by this driver.
type regexTUParser struct{}

func (regexTUParser) Parse(ctx context.Context, path string) (string, cc.ModuleInfo, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", cc.ModuleInfo{}, err
	}
	h := sha256.Sum256(data)
	checksum := hex.EncodeToString(h[:])

	info := cc.ModuleInfo{Type: cc.NonModular}
	if m := moduleDeclRE.FindSubmatch(data); m != nil {
		info.Name = string(m[2])
		if len(m[1]) > 0 {
			info.Type = cc.ModuleIface
		} else {
			info.Type = cc.ModuleImpl
		}
	}
	for _, m := range importDeclRE.FindAllSubmatch(data, -1) {
		name := string(m[2])
		exported := len(m[1]) > 0
		if strings.HasPrefix(name, "\"") || strings.HasPrefix(name, "<") {
			info.Imports = append(info.Imports, cc.Import{Type: cc.ModuleHeader, Name: strings.Trim(name, "\"<>"), Exported: exported})
		} else {
			info.Imports = append(info.Imports, cc.Import{Type: cc.ModuleImpl, Name: name, Exported: exported})
		}
	}
	return checksum, info, nil
}

// fsResolver is the concrete hdrdeps.Resolver backing header resolution
// against the real filesystem and the target map.
type fsResolver struct {
	targets    *graph.Map
	includeMap fsutil.IncludePrefixMap
	remaps     []fsutil.SrcOutRemap
}

func (r *fsResolver) EnterHeader(rawPath string) (string, hdrdeps.Ref, error) {
	resolved := fsutil.Clean(rawPath)
	for _, rm := range r.remaps {
		if out, ok := rm.Apply(resolved, func(p string) bool { _, ok := r.Stat(p); return ok }); ok {
			resolved = out
		}
	}
	key := graph.Key{Type: graph.TypeHeader.ID, Dir: dirOf(resolved), Name: nameOf(resolved)}
	t := r.targets.Intern(key, graph.TypeHeader)
	t.SetPath(resolved)
	return resolved, t, nil
}

func (r *fsResolver) InjectHeader(ctx context.Context, ref hdrdeps.Ref) (bool, error) {
	t, ok := ref.(*graph.Target)
	if !ok {
		return false, fmt.Errorf("fsResolver: unexpected ref type %T", ref)
	}
	path, _ := t.Path()
	prevMTime, hadMTime := t.MTime()
	mtime, exists := r.Stat(path)
	if !exists {
		return false, fmt.Errorf("generated header %s does not exist and has no rule to produce it", path)
	}
	t.SetMTime(mtime)
	return !hadMTime || mtime.After(prevMTime), nil
}

func (r *fsResolver) Stat(path string) (time.Time, bool) {
	fi, err := os.Stat(path)
	if err != nil {
		return time.Time{}, false
	}
	return fi.ModTime(), true
}

func dirOf(p string) string {
	i := strings.LastIndexByte(p, '/')
	if i < 0 {
		return "."
	}
	return p[:i]
}

func nameOf(p string) string {
	i := strings.LastIndexByte(p, '/')
	if i < 0 {
		return p
	}
	return p[i+1:]
}
