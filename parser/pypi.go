package parser

import (
	"bufio"
	"fmt"
	"os"
	"regexp"
	"strings"
)

var (
	requirementLine = regexp.MustCompile(`^([a-zA-Z0-9_.-]+(?:\[[^\]]+\])?)(.*)$`)
	versionSpec     = regexp.MustCompile(`^[=<>!~]+(.+)$`)
	extrasSuffix    = regexp.MustCompile(`\[.*\]`)
)

// ParseRequirements reads a requirements.txt. Include directives and
// pip options are skipped; only the first version in a spec is kept,
// pinned or not.
func ParseRequirements(path string) ([]Dependency, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	defer f.Close()

	var deps []Dependency
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if strings.HasPrefix(line, "-r") || strings.HasPrefix(line, "--") {
			continue
		}
		m := requirementLine.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		name := extrasSuffix.ReplaceAllString(m[1], "")
		version := ""
		if spec := strings.TrimSpace(m[2]); spec != "" {
			if vm := versionSpec.FindStringSubmatch(spec); vm != nil {
				version = strings.TrimSpace(vm[1])
				// "pkg>=1.0,<2.0" keeps only the first bound.
				if idx := strings.IndexByte(version, ','); idx >= 0 {
					version = strings.TrimSpace(version[:idx])
				}
			}
		}
		if name != "" {
			deps = append(deps, Dependency{Name: name, Version: version, Section: "requirements"})
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	return deps, nil
}
