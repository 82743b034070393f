// Command cxxcore is the minimal CLI driver around the match/apply/
// execute scheduler core: it owns exactly the things spec §1 calls out
// as collaborators (CLI option parsing, compiler identity guessing,
// process spawning) and nothing else — buildfile evaluation is not
// implemented here, so targets are named directly on the command line
// and classified by a small file-extension convention instead.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/golang/glog"
	"github.com/integrii/flaggy"

	"github.com/buildcore/cxxcore/internal/action"
	"github.com/buildcore/cxxcore/internal/cc/compile"
	"github.com/buildcore/cxxcore/internal/cc/hdrdeps"
	"github.com/buildcore/cxxcore/internal/cc/link"
	"github.com/buildcore/cxxcore/internal/graph"
	"github.com/buildcore/cxxcore/internal/rule"
	"github.com/buildcore/cxxcore/internal/scheduler"
	"github.com/buildcore/cxxcore/cmd/cxxcore/config"
)

var version = "unversioned"

func main() {
	os.Exit(run())
}

func run() int {
	defer glog.Flush()

	var configPath string
	var jobs int
	var keepGoing bool
	var verbose bool

	flaggy.SetName("cxxcore")
	flaggy.SetDescription("parallel C/C++ build scheduler core")
	flaggy.SetVersion(version)
	flaggy.String(&configPath, "c", "config", "path to a YAML config file")
	flaggy.Int(&jobs, "j", "jobs", "number of parallel workers (0: keep the config's jobs value)")
	flaggy.Bool(&keepGoing, "k", "keep-going", "continue independent subtrees after a failure")
	flaggy.Bool(&verbose, "v", "verbose", "verbose logging")

	updateCmd := flaggy.NewSubcommand("update")
	updateCmd.Description = "bring the named targets up to date"
	var updateFirst string
	updateCmd.AddPositionalValue(&updateFirst, "target", 1, true, "target to update")

	cleanCmd := flaggy.NewSubcommand("clean")
	cleanCmd.Description = "remove the named targets' outputs"
	var cleanFirst string
	cleanCmd.AddPositionalValue(&cleanFirst, "target", 1, true, "target to clean")

	testCmd := flaggy.NewSubcommand("test")
	testCmd.Description = "build and run the named test targets"
	var testFirst string
	testCmd.AddPositionalValue(&testFirst, "target", 1, true, "target to test")

	flaggy.AttachSubcommand(updateCmd, 1)
	flaggy.AttachSubcommand(cleanCmd, 1)
	flaggy.AttachSubcommand(testCmd, 1)
	flaggy.Parse()

	if verbose {
		_ = flag.Set("v", "1")
	}

	cfg := config.Default()
	if configPath != "" {
		loaded, err := config.Load(configPath)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			return 1
		}
		cfg = loaded
	}
	if jobs > 0 {
		cfg.NumWorkers = jobs
	}
	if cfg.NumWorkers <= 0 {
		cfg.NumWorkers = runtime.GOMAXPROCS(0)
	}
	cfg.KeepGoing = cfg.KeepGoing || keepGoing

	switch {
	case updateCmd.Used:
		targets := append([]string{updateFirst}, updateCmd.TrailingArguments...)
		return build(cfg, action.New(action.Perform, action.Update), targets)
	case cleanCmd.Used:
		targets := append([]string{cleanFirst}, cleanCmd.TrailingArguments...)
		return build(cfg, action.New(action.Perform, action.Clean), targets)
	case testCmd.Used:
		targets := append([]string{testFirst}, testCmd.TrailingArguments...)
		return build(cfg, action.New(action.Perform, action.Test), targets)
	default:
		fmt.Fprintln(os.Stderr, "usage: cxxcore [update|clean|test] <targets...>")
		return 1
	}
}

func build(cfg *config.Config, act action.Action, targetNames []string) int {
	if len(targetNames) == 0 {
		fmt.Fprintln(os.Stderr, "no targets given")
		return 1
	}

	targets := graph.NewMap()
	reg := rule.NewRegistry()
	compiler := &gccInfo{cfg: &cfg.Compiler}
	spawner := execSpawner{}

	compileRule := &compile.Rule{
		RuleID: "cxx.compile", RuleVersion: 1,
		Compiler: compiler, Spawner: spawner, Diag: diagSink{}, Parser: regexTUParser{},
		Dialect: dialectFor(cfg.Compiler.ID), Targets: targets,
		ModulesEnabled: cfg.Compiler.Modules,
		Options:        func(*graph.Target) []string { return cfg.Options },
		DepdbPath:      func(t *graph.Target) string { p, _ := t.Path(); return p + ".d" },
		BaseArgv: func(t *graph.Target) []string {
			argv := append([]string{cfg.Compiler.Path}, cfg.Compiler.CxxFlags...)
			for _, d := range cfg.IncludeDirs {
				argv = append(argv, "-I"+d)
			}
			return argv
		},
		CompileArgv: func(t *graph.Target, srcPath, outPath string) []string {
			argv := append([]string{cfg.Compiler.Path}, cfg.Compiler.CxxFlags...)
			for _, d := range cfg.IncludeDirs {
				argv = append(argv, "-I"+d)
			}
			return append(argv, "-c", srcPath, "-o", outPath)
		},
		PPLevel: func(*graph.Target) compile.PPState { return compile.PPNone },
		ResolverFactory: func(t *graph.Target, srcPath string) hdrdeps.Resolver {
			return &fsResolver{targets: targets}
		},
		ModuleNameOf: func(*graph.Target) (string, bool) { return "", false },
		Siblings:     func(*graph.Target) []*graph.Target { return nil },
	}

	linkRule := &link.Rule{
		RuleID: "cxx.link", Targets: targets, OSName: runtime.GOOS,
		Classify: func(t *graph.Target) (link.Kind, link.VersionMap) {
			switch {
			case t.TypeInfo.IsA(graph.TypeLiba.ID):
				return link.StaticLibrary, nil
			case t.TypeInfo.IsA(graph.TypeLibu.ID):
				return link.UtilityLibrary, nil
			case t.TypeInfo.IsA(graph.TypeLibs.ID):
				vm := cfg.LibVersions[t.Key.Name]
				return link.SharedLibrary, link.VersionMap(vm)
			default:
				return link.Executable, nil
			}
		},
		LibPrefix: func(*graph.Target) string { return "lib" },
		LibSuffix: func(_ *graph.Target, k link.Kind) string {
			if runtime.GOOS == "darwin" {
				return ".dylib"
			}
			return ".so"
		},
		ExportLibs:  func(t *graph.Target) []*graph.Target { return libPrereqs(t) },
		ImplLibs:    func(t *graph.Target) []*graph.Target { return nil },
		Binful:      func(t *graph.Target) bool { return hasObjPrereq(t) },
		IsSystemLib: func(*graph.Target) bool { return false },
		LinkerArgs: func(t *graph.Target, k link.Kind, objs, libArgv, rpaths []string) []string {
			argv := append([]string{cfg.Compiler.Path}, objs...)
			argv = append(argv, libArgv...)
			argv = append(argv, rpaths...)
			if k == link.SharedLibrary {
				argv = append(argv, "-shared")
			}
			path, _ := t.Path()
			return append(argv, "-o", path)
		},
		Spawn: func(ctx context.Context, argv []string) error {
			_, _, err := spawner.Run(ctx, argv, nil)
			return err
		},
		Symlink: os.Symlink,
		Remove:  os.Remove,
		Glob: func(dir, pattern string) ([]string, error) {
			entries, err := os.ReadDir(dir)
			if err != nil {
				return nil, err
			}
			var out []string
			for _, e := range entries {
				ok, err := filepath.Match(pattern, e.Name())
				if err != nil {
					return nil, err
				}
				if ok {
					out = append(out, e.Name())
				}
			}
			return out, nil
		},
	}

	for _, ti := range []*graph.TypeInfo{graph.TypeObj, graph.TypeBMI} {
		reg.Register(rule.Global, action.Perform, action.Update, ti.ID, "", compileRule)
	}
	for _, ti := range []*graph.TypeInfo{graph.TypeLiba, graph.TypeLibs, graph.TypeLibu, graph.TypeExe} {
		reg.Register(rule.Global, action.Perform, action.Update, ti.ID, "", linkRule)
	}

	sched := scheduler.New(reg, rule.Global, targets, cfg.NumWorkers)

	var roots []*graph.Target
	for _, name := range targetNames {
		roots = append(roots, internTarget(targets, name))
	}

	ctx := context.Background()
	if err := sched.Build(ctx, act, roots); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	return 0
}

func dialectFor(id string) hdrdeps.Dialect {
	switch id {
	case "clang":
		return hdrdeps.Clang
	case "msvc":
		return hdrdeps.MSVC
	default:
		return hdrdeps.GCC
	}
}

// internTarget classifies a command-line target name by extension, the
// file-extension convention this driver uses in place of buildfile
// evaluation (an explicit Non-goal, spec §1/§5).
func internTarget(targets *graph.Map, name string) *graph.Target {
	ti := graph.TypeExe
	switch {
	case strings.HasSuffix(name, ".a"):
		ti = graph.TypeLiba
	case strings.HasSuffix(name, ".so"), strings.HasSuffix(name, ".dylib"), strings.HasSuffix(name, ".dll"):
		ti = graph.TypeLibs
	case strings.HasSuffix(name, ".o"), strings.HasSuffix(name, ".obj"):
		ti = graph.TypeObj
	}
	dir := "."
	base := name
	if i := strings.LastIndexByte(name, '/'); i >= 0 {
		dir, base = name[:i], name[i+1:]
	}
	t := targets.Intern(graph.Key{Type: ti.ID, Dir: dir, Name: base}, ti)
	t.SetPath(name)
	return t
}

func libPrereqs(t *graph.Target) []*graph.Target {
	var out []*graph.Target
	for _, p := range t.Prerequisites() {
		if p.TypeInfo.IsA(graph.TypeLiba.ID) || p.TypeInfo.IsA(graph.TypeLibs.ID) || p.TypeInfo.IsA(graph.TypeLibu.ID) {
			out = append(out, p)
		}
	}
	return out
}

func hasObjPrereq(t *graph.Target) bool {
	for _, p := range t.Prerequisites() {
		if p.TypeInfo.IsA(graph.TypeObj.ID) {
			return true
		}
	}
	return false
}
