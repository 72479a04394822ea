package parser

import (
	"bufio"
	"fmt"
	"os"
	"regexp"
	"strings"
)

var (
	cargoQuoted      = regexp.MustCompile(`["']([^"']+)["']`)
	cargoTableVer    = regexp.MustCompile(`version\s*=\s*["']([^"']+)["']`)
	cargoDepSections = map[string]struct{}{
		"[dependencies]":       {},
		"[dev-dependencies]":   {},
		"[build-dependencies]": {},
	}
)

// ParseCargoToml reads the dependency sections of a Cargo.toml line by
// line, handling both the bare string form (name = "1.0") and the
// inline table form (name = { version = "1.0" }). Full TOML semantics
// (multi-line tables, target-specific sections) are not attempted.
func ParseCargoToml(path string) ([]Dependency, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	defer f.Close()

	var deps []Dependency
	section := ""
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if strings.HasPrefix(line, "[") {
			section = line
			continue
		}
		if _, ok := cargoDepSections[section]; !ok {
			continue
		}
		if line == "" || strings.HasPrefix(line, "#") || !strings.Contains(line, "=") {
			continue
		}
		parts := strings.SplitN(line, "=", 2)
		name := strings.TrimSpace(parts[0])
		spec := strings.TrimSpace(parts[1])
		if name == "" {
			continue
		}
		version := ""
		if strings.HasPrefix(spec, "\"") || strings.HasPrefix(spec, "'") {
			if m := cargoQuoted.FindStringSubmatch(spec); m != nil {
				version = m[1]
			}
		} else if strings.Contains(spec, "{") {
			if m := cargoTableVer.FindStringSubmatch(spec); m != nil {
				version = m[1]
			}
		}
		deps = append(deps, Dependency{Name: name, Version: version, Section: strings.Trim(section, "[]")})
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	return deps, nil
}
