package parser

import (
	"encoding/xml"
	"fmt"
	"os"
	"strings"
)

type pomProject struct {
	Dependencies pomDependencies `xml:"dependencies"`
	Profiles     struct {
		Profile []struct {
			Dependencies pomDependencies `xml:"dependencies"`
		} `xml:"profile"`
	} `xml:"profiles"`
	DependencyManagement struct {
		Dependencies pomDependencies `xml:"dependencies"`
	} `xml:"dependencyManagement"`
}

type pomDependencies struct {
	Dependency []struct {
		GroupID    string `xml:"groupId"`
		ArtifactID string `xml:"artifactId"`
		Version    string `xml:"version"`
	} `xml:"dependency"`
}

// ParsePom reads a pom.xml. Maven identifies packages as
// groupId:artifactId; that combined form is what the index stores.
// The decoder ignores XML namespaces, so namespaced and plain POMs
// both work.
func ParsePom(path string) ([]Dependency, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	var project pomProject
	if err := xml.Unmarshal(data, &project); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}

	var deps []Dependency
	add := func(set pomDependencies) {
		for _, d := range set.Dependency {
			group := strings.TrimSpace(d.GroupID)
			artifact := strings.TrimSpace(d.ArtifactID)
			if group == "" || artifact == "" {
				continue
			}
			deps = append(deps, Dependency{
				Name:    group + ":" + artifact,
				Version: strings.TrimSpace(d.Version),
				Section: "dependencies",
			})
		}
	}
	add(project.Dependencies)
	add(project.DependencyManagement.Dependencies)
	for _, p := range project.Profiles.Profile {
		add(p.Dependencies)
	}
	return deps, nil
}
