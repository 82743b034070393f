// Package config loads cxxcore's build configuration: compiler paths,
// enabled options, and per-library bin.lib.version maps, from a small
// YAML document via gopkg.in/yaml.v3, mirroring the teacher-adjacent
// lazydocker config-loading pattern (a single struct round-tripped
// through yaml.Marshal/Unmarshal) for a simple config tree.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Compiler describes one configured toolchain entry.
type Compiler struct {
	ID       string   `yaml:"id"` // "gcc", "clang", "msvc"
	Path     string   `yaml:"path"`
	Target   string   `yaml:"target,omitempty"`
	CxxFlags []string `yaml:"cxxflags,omitempty"`
	Modules  bool     `yaml:"modules,omitempty"`
}

// LibVersion is one entry of a library's bin.lib.version map, keyed by
// OS name with "*" as the wildcard fallback (spec §4.7 / SPEC_FULL.md §4).
type LibVersion map[string]string

// Config is the root configuration document.
type Config struct {
	Compiler Compiler `yaml:"compiler"`

	// Options lists the enabled preprocessor/compile options consulted
	// by the compile rule's depdb line 3 (spec §3 item 3).
	Options []string `yaml:"options,omitempty"`

	// IncludeDirs are extra system include directories appended to
	// every compile's BaseArgv.
	IncludeDirs []string `yaml:"include_dirs,omitempty"`

	// Pic selects position-independent-code policy: "", "always", "never".
	Pic string `yaml:"pic,omitempty"`

	// LibVersions maps a library target name to its bin.lib.version map.
	LibVersions map[string]LibVersion `yaml:"lib_versions,omitempty"`

	// NumWorkers bounds the scheduler's worker pool; 0 means "default
	// to GOMAXPROCS", mirroring the teacher's -j flag.
	NumWorkers int `yaml:"jobs,omitempty"`

	// KeepGoing mirrors make's -k: independent subtrees continue on
	// failure (spec §5 "Cancellation").
	KeepGoing bool `yaml:"keep_going,omitempty"`
}

// Load reads and parses the YAML document at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	var c Config
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("config: parsing %s: %w", path, err)
	}
	return &c, nil
}

// Default returns the configuration used when no config file is given:
// a GCC toolchain found on PATH, no extra options, one worker.
func Default() *Config {
	return &Config{
		Compiler:   Compiler{ID: "gcc", Path: "g++"},
		NumWorkers: 1,
	}
}
