package parser

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
)

var npmSections = []string{"dependencies", "devDependencies", "peerDependencies", "optionalDependencies"}

// ParseNpmManifest reads the four dependency sections of a
// package.json. Version specs keep their range operator; the matcher
// strips it at lookup time.
func ParseNpmManifest(path string) ([]Dependency, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	var manifest map[string]json.RawMessage
	if err := json.Unmarshal(data, &manifest); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}

	var deps []Dependency
	for _, section := range npmSections {
		raw, ok := manifest[section]
		if !ok {
			continue
		}
		var entries map[string]string
		if err := json.Unmarshal(raw, &entries); err != nil {
			continue
		}
		for name, version := range entries {
			deps = append(deps, Dependency{Name: name, Version: version, Section: section})
		}
	}
	return deps, nil
}

type npmLock struct {
	Dependencies map[string]npmLockDep `json:"dependencies"`
	Packages     map[string]npmLockPkg `json:"packages"`
}

type npmLockDep struct {
	Version      string                `json:"version"`
	Dependencies map[string]npmLockDep `json:"dependencies"`
}

type npmLockPkg struct {
	Version string `json:"version"`
}

// ParseNpmLock reads both lockfile generations: the legacy nested
// dependencies tree and the v7+ flat packages map keyed by
// node_modules path.
func ParseNpmLock(path string) ([]Dependency, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	var lock npmLock
	if err := json.Unmarshal(data, &lock); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}

	var deps []Dependency
	var walk func(tree map[string]npmLockDep)
	walk = func(tree map[string]npmLockDep) {
		for name, info := range tree {
			if info.Version != "" {
				deps = append(deps, Dependency{Name: name, Version: info.Version, Section: "lockfile"})
			}
			walk(info.Dependencies)
		}
	}
	walk(lock.Dependencies)

	for pkgPath, info := range lock.Packages {
		if pkgPath == "" || info.Version == "" {
			continue
		}
		name := lockPackageName(pkgPath)
		if name == "" {
			continue
		}
		deps = append(deps, Dependency{Name: name, Version: info.Version, Section: "packages"})
	}
	return deps, nil
}

// lockPackageName recovers the package name from a node_modules path,
// keeping the scope segment for @scope/name packages.
func lockPackageName(pkgPath string) string {
	name := pkgPath
	if idx := strings.LastIndex(pkgPath, "node_modules/"); idx >= 0 {
		name = pkgPath[idx+len("node_modules/"):]
	}
	if strings.HasPrefix(name, "@") {
		parts := strings.SplitN(name, "/", 3)
		if len(parts) >= 2 {
			return parts[0] + "/" + parts[1]
		}
		return name
	}
	if idx := strings.IndexByte(name, '/'); idx >= 0 {
		return name[:idx]
	}
	return name
}
