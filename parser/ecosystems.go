// Package parser turns dependency manifests and package lists into the
// flat (name, version) pairs the matcher consumes.
package parser

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
)

// Dependency is one declared package, tagged with where it came from.
type Dependency struct {
	Name      string `json:"name"`
	Version   string `json:"version,omitempty"`
	Ecosystem string `json:"ecosystem"`
	Section   string `json:"section,omitempty"`
	File      string `json:"file,omitempty"`
}

// FilenameEcosystems maps manifest filenames to their ecosystem. Lock
// files the parsers don't read still mark the ecosystem's presence.
var FilenameEcosystems = map[string]string{
	"package.json":      "npm",
	"package-lock.json": "npm",
	"yarn.lock":         "npm",
	"pnpm-lock.yaml":    "npm",
	"requirements.txt":  "pypi",
	"setup.py":          "pypi",
	"pyproject.toml":    "pypi",
	"Pipfile":           "pypi",
	"poetry.lock":       "pypi",
	"pom.xml":           "maven",
	"build.gradle":      "maven",
	"Gemfile":           "rubygems",
	"Gemfile.lock":      "rubygems",
	"go.mod":            "go",
	"go.sum":            "go",
	"Cargo.toml":        "cargo",
	"Cargo.lock":        "cargo",
}

// parseableManifests is the subset of FilenameEcosystems the parsers
// can actually extract dependencies from.
var parseableManifests = map[string]func(path string) ([]Dependency, error){
	"package.json":      ParseNpmManifest,
	"package-lock.json": ParseNpmLock,
	"requirements.txt":  ParseRequirements,
	"pom.xml":           ParsePom,
	"Gemfile":           ParseGemfile,
	"go.mod":            ParseGoMod,
	"Cargo.toml":        ParseCargoToml,
}

// skipDirs are build artifacts, caches, and vendored trees a walk
// should never descend into.
var skipDirs = map[string]struct{}{
	"node_modules": {}, ".git": {}, "__pycache__": {}, "venv": {}, "env": {},
	".venv": {}, ".next": {}, "build": {}, "dist": {}, ".build": {},
	"target": {}, "out": {}, ".cache": {}, ".idea": {}, ".vscode": {},
	".vs": {}, "coverage": {}, ".nyc_output": {}, ".pytest_cache": {},
	"bin": {}, "obj": {}, ".gradle": {}, ".mvn": {}, "vendor": {},
	"bower_components": {},
}

// DetectEcosystem names the ecosystem a single manifest file belongs
// to, empty string when the filename is not recognized.
func DetectEcosystem(path string) string {
	return FilenameEcosystems[filepath.Base(path)]
}

// DetectEcosystems walks a directory and reports every ecosystem with
// at least one recognized manifest, sorted for stable output.
func DetectEcosystems(dir string) ([]string, error) {
	found := make(map[string]struct{})
	err := walkManifests(dir, func(path string) {
		found[DetectEcosystem(path)] = struct{}{}
	})
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(found))
	for eco := range found {
		out = append(out, eco)
	}
	sort.Strings(out)
	return out, nil
}

// FindManifests returns every parseable manifest under dir, optionally
// restricted to one ecosystem.
func FindManifests(dir, ecosystem string) ([]string, error) {
	var out []string
	err := walkManifests(dir, func(path string) {
		base := filepath.Base(path)
		if _, ok := parseableManifests[base]; !ok {
			return
		}
		if ecosystem != "" && FilenameEcosystems[base] != ecosystem {
			return
		}
		out = append(out, path)
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(out)
	return out, nil
}

func walkManifests(dir string, visit func(path string)) error {
	info, err := os.Stat(dir)
	if err != nil {
		return fmt.Errorf("scanning %s: %w", dir, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("scanning %s: not a directory", dir)
	}
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			if _, skip := skipDirs[d.Name()]; skip && path != dir {
				return filepath.SkipDir
			}
			return nil
		}
		if _, ok := FilenameEcosystems[d.Name()]; ok {
			visit(path)
		}
		return nil
	})
}

// ParseManifest dispatches on the manifest filename. Unrecognized or
// unparseable-by-design files (lock formats we only use for ecosystem
// detection) return an error.
func ParseManifest(path string) ([]Dependency, error) {
	parse, ok := parseableManifests[filepath.Base(path)]
	if !ok {
		return nil, fmt.Errorf("no parser for %s", filepath.Base(path))
	}
	deps, err := parse(path)
	if err != nil {
		return nil, err
	}
	eco := DetectEcosystem(path)
	for i := range deps {
		deps[i].Ecosystem = eco
		deps[i].File = path
	}
	return deps, nil
}
