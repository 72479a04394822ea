package parser

import (
	"bufio"
	"fmt"
	"os"
	"strings"
)

// ParseGoMod reads the require directives of a go.mod, both the
// single-line and the block form. Indirect markers are ignored; an
// indirect dependency is still a dependency.
func ParseGoMod(path string) ([]Dependency, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	defer f.Close()

	var deps []Dependency
	inBlock := false
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if strings.HasPrefix(line, "require") {
			rest := strings.TrimSpace(strings.TrimPrefix(line, "require"))
			if strings.HasPrefix(rest, "(") {
				inBlock = true
				continue
			}
			if fields := strings.Fields(rest); len(fields) >= 2 {
				deps = append(deps, Dependency{Name: fields[0], Version: fields[1], Section: "require"})
			}
			continue
		}
		if inBlock {
			if line == ")" {
				inBlock = false
				continue
			}
			if line == "" || strings.HasPrefix(line, "//") {
				continue
			}
			if fields := strings.Fields(line); len(fields) >= 2 {
				deps = append(deps, Dependency{Name: fields[0], Version: fields[1], Section: "require"})
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	return deps, nil
}
