package parser

import (
	"fmt"
	"os"
	"regexp"
)

// gem 'name', 'version' with either quote style; the version is
// optional.
var gemLine = regexp.MustCompile(`gem\s+['"]([^'"]+)['"](?:\s*,\s*['"]([^'"]+)['"])?`)

// ParseGemfile extracts gem declarations with a regex rather than a
// Ruby parser. Gemfiles are Ruby code, so declarations built
// dynamically will be missed.
func ParseGemfile(path string) ([]Dependency, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	var deps []Dependency
	for _, m := range gemLine.FindAllStringSubmatch(string(data), -1) {
		deps = append(deps, Dependency{Name: m[1], Version: m[2], Section: "gems"})
	}
	return deps, nil
}
