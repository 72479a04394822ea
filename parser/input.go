package parser

import (
	"bufio"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// ParseListFile reads an explicit package list instead of a manifest:
// JSON, YAML, CSV, or plain text, chosen by extension. Lines and
// entries may carry a version as name@version or name==version.
func ParseListFile(path string) ([]Dependency, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		return parseJSONList(path)
	case ".yaml", ".yml":
		return parseYAMLList(path)
	case ".csv":
		return parseCSVList(path)
	default:
		return parseTextList(path)
	}
}

func parseTextList(path string) ([]Dependency, error) {
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
		eco := ""
		if idx := strings.Index(line, ":"); idx > 0 {
			if _, ok := listEcosystems[line[:idx]]; ok {
				eco = line[:idx]
				line = line[idx+1:]
			}
		}
		name, version := splitNameVersion(line)
		if name != "" {
			deps = append(deps, Dependency{Name: name, Version: version, Ecosystem: eco, Section: "list", File: path})
		}
	}
	return deps, scanner.Err()
}

// listEcosystems are the prefixes recognized in eco:name@version lines.
// The set is restricted to canonical names so maven groupId:artifactId
// entries never lose their prefix.
var listEcosystems = map[string]struct{}{
	"npm": {}, "pypi": {}, "rubygems": {}, "go": {}, "maven": {}, "cargo": {},
}

// splitNameVersion handles name@version and name==version. The @ split
// respects npm scopes: "@scope/pkg@1.0.0" splits on the second @.
func splitNameVersion(s string) (string, string) {
	if idx := strings.Index(s, "=="); idx >= 0 {
		return strings.TrimSpace(s[:idx]), strings.TrimSpace(s[idx+2:])
	}
	at := strings.Index(s, "@")
	if at == 0 {
		at = strings.Index(s[1:], "@")
		if at < 0 {
			return strings.TrimSpace(s), ""
		}
		at++
	}
	if at > 0 {
		return strings.TrimSpace(s[:at]), strings.TrimSpace(s[at+1:])
	}
	return strings.TrimSpace(s), ""
}

// listEntry tolerates both bare strings and {name, version} objects in
// JSON and YAML lists.
type listEntry struct {
	Name    string
	Version string
}

func (e *listEntry) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		e.Name, e.Version = splitNameVersion(s)
		return nil
	}
	var obj struct {
		Name    string `json:"name"`
		Version string `json:"version"`
	}
	if err := json.Unmarshal(data, &obj); err != nil {
		return err
	}
	e.Name, e.Version = obj.Name, obj.Version
	return nil
}

func (e *listEntry) UnmarshalYAML(node *yaml.Node) error {
	var s string
	if err := node.Decode(&s); err == nil {
		e.Name, e.Version = splitNameVersion(s)
		return nil
	}
	var obj struct {
		Name    string `yaml:"name"`
		Version string `yaml:"version"`
	}
	if err := node.Decode(&obj); err != nil {
		return err
	}
	e.Name, e.Version = obj.Name, obj.Version
	return nil
}

func entriesToDeps(entries []listEntry, path string) []Dependency {
	var deps []Dependency
	for _, e := range entries {
		if e.Name == "" {
			continue
		}
		deps = append(deps, Dependency{Name: e.Name, Version: e.Version, Section: "list", File: path})
	}
	return deps
}

func parseJSONList(path string) ([]Dependency, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	var entries []listEntry
	if err := json.Unmarshal(data, &entries); err == nil {
		return entriesToDeps(entries, path), nil
	}
	var wrapped struct {
		Packages []listEntry `json:"packages"`
	}
	if err := json.Unmarshal(data, &wrapped); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	return entriesToDeps(wrapped.Packages, path), nil
}

func parseYAMLList(path string) ([]Dependency, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	var entries []listEntry
	if err := yaml.Unmarshal(data, &entries); err == nil {
		return entriesToDeps(entries, path), nil
	}
	var wrapped struct {
		Packages []listEntry `yaml:"packages"`
	}
	if err := yaml.Unmarshal(data, &wrapped); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	return entriesToDeps(wrapped.Packages, path), nil
}

// parseCSVList reads name,version rows, skipping a header row when the
// first cell literally says "name".
func parseCSVList(path string) ([]Dependency, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	rows, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	var deps []Dependency
	for i, row := range rows {
		if len(row) == 0 {
			continue
		}
		name := strings.TrimSpace(row[0])
		if name == "" || (i == 0 && strings.EqualFold(name, "name")) {
			continue
		}
		version := ""
		if len(row) > 1 {
			version = strings.TrimSpace(row[1])
		}
		deps = append(deps, Dependency{Name: name, Version: version, Section: "list", File: path})
	}
	return deps, nil
}
