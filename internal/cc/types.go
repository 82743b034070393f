// Package cc holds the types shared by the header/module dependency
// extractor, the module resolver, and the compile and link rules: the
// C/C++-specific data model of spec §3 ("Module info", "Libs paths")
// plus the collaborator interfaces spec §1 names as explicitly out of
// scope (compiler identity guessing, process spawning, diagnostics
// formatting) that this package calls into but does not implement.
package cc

import "context"

// TUType classifies a translation unit the way the compile rule needs
// to, per spec §3 "Module info": whether it is an ordinary source file,
// a module implementation unit, a module interface unit, or a header
// unit (a plain header compiled for `import`).
type TUType int

const (
	NonModular TUType = iota
	ModuleImpl
	ModuleIface
	ModuleHeader
)

func (t TUType) String() string {
	switch t {
	case NonModular:
		return "non_modular"
	case ModuleImpl:
		return "module_impl"
	case ModuleIface:
		return "module_iface"
	case ModuleHeader:
		return "module_header"
	default:
		return "tu_type(?)"
	}
}

// Import is one `import` declaration discovered in a translation unit,
// per spec §3. For header units Name is the absolute header path rather
// than a module name.
type Import struct {
	Type     TUType
	Name     string
	Exported bool // `export import M;`
}

// ModuleInfo is the per-TU module summary spec §3 describes, serialized
// as depdb's module-info line (spec §3 item 6): `"name+"` for an
// implementation unit, `"name! imp1[*] …"` for an interface or header
// unit, with `*` marking a re-exported import.
type ModuleInfo struct {
	Type    TUType
	Name    string
	Imports []Import
}

// Line renders the module-info line depdb stores, per spec §3 item 6.
func (m ModuleInfo) Line() string {
	if m.Type == NonModular {
		return ""
	}
	sep := "!"
	if m.Type == ModuleImpl {
		sep = "+"
	}
	s := m.Name + sep
	for _, imp := range m.Imports {
		s += " " + imp.Name
		if imp.Exported {
			s += "*"
		}
	}
	return s
}

// LibsPaths is the shared-library symlink-chain tuple of spec §3: only
// Real is mandatory, the rest are version-policy aliases pointing at it
// (or a copy of it, on Windows — see SPEC_FULL.md §4's VersionMap note).
type LibsPaths struct {
	Link    string // the extensionless/unversioned name used at link time (-lfoo)
	Load    string // the name encoded into other binaries' DT_NEEDED / LC_LOAD_DYLIB
	Soname  string // the ABI-version-only name
	Interim string // major.minor name, absent on some platforms
	Real    string // the fully-versioned file actually containing the code

	CleanLoadPattern    string // doublestar pattern matching stale Load-style siblings
	CleanVersionPattern string // doublestar pattern matching stale versioned siblings
}

// CompilerInfo is the out-of-scope collaborator (spec §1: "compiler
// identity guessing ... treated as collaborators") that the extractor
// and compile rule consult for everything that depends on which compiler
// is in play.
type CompilerInfo interface {
	// ID identifies the compiler family: "gcc", "clang", "msvc", ...
	ID() string
	// Checksum is the depdb line-2 value (spec §3 item 2): a hash of the
	// compiler identity including its default target.
	Checksum() string
	// BMIExt returns the binary-module-interface file extension this
	// compiler produces: ".gcm", ".pcm", ".ifc".
	BMIExt() string
	// ObjExt returns this compiler's object-file extension: ".o", ".obj".
	ObjExt() string
	// SupportsModuleMapper reports whether this compiler (GCC, when
	// built with modules) speaks the module-mapper protocol of spec
	// §4.6.1.
	SupportsModuleMapper() bool
}

// Spawner is the out-of-scope collaborator for launching compiler and
// linker subprocesses (spec §1: "process spawning ... treated as
// collaborators"). It returns the raw stdout/stderr so the extractor's
// dialect-specific parsers (spec §4.6.1) can interpret them.
type Spawner interface {
	// Run executes argv, feeding stdin if non-nil, and returns
	// (stdout, stderr, error) the way exec.Cmd does, except that a
	// non-zero exit status is reported as an error whose message names
	// argv[0] per spec §7 "Subprocess failure".
	Run(ctx context.Context, argv []string, stdin []byte) (stdout, stderr []byte, err error)

	// Mapper starts argv with a module-mapper pipe attached, returning a
	// ModuleMapperConn for the line-oriented protocol of spec §4.6.1/§6.
	// Only called when CompilerInfo.SupportsModuleMapper() is true.
	Mapper(ctx context.Context, argv []string) (ModuleMapperConn, error)
}

// ModuleMapperConn is the extractor's (server) end of the GCC
// module-mapper pipe (spec §6): the extractor reads exactly one request
// per line from the compiler and writes exactly one response per line
// back to it.
type ModuleMapperConn interface {
	ReadRequest() (string, error)
	WriteResponse(line string) error
	Close() error
}

// TUParser is the out-of-scope collaborator that actually lexes a
// translation unit: computing its content checksum and, when modules
// are enabled, extracting its ModuleInfo (spec §4.6 step 6, "invoke the
// translation-unit parser"). A real implementation needs an actual
// C/C++ front end, which is squarely the kind of "diagnostics
// formatting beyond what's named" / compiler-identity territory spec §1
// already treats as a collaborator boundary — this interface is that
// same boundary applied to TU parsing.
type TUParser interface {
	Parse(ctx context.Context, path string) (checksum string, info ModuleInfo, err error)
}

// DiagnosticSink is the out-of-scope collaborator for formatting and
// emitting user-facing diagnostics (spec §1: "diagnostics formatting
// ... treated as collaborators"); the extractor and rules call it with
// plain facts and let the driver decide how to render them.
type DiagnosticSink interface {
	Errorf(format string, args ...interface{})
	Warningf(format string, args ...interface{})
}
