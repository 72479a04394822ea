package report

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/rexlx/supplyco/internal"
)

// SARIF 2.1.0 structs, reduced to the fields code-scanning consumers
// actually read.

type sarifLog struct {
	Version string     `json:"version"`
	Schema  string     `json:"$schema"`
	Runs    []sarifRun `json:"runs"`
}

type sarifRun struct {
	Tool    sarifTool     `json:"tool"`
	Results []sarifResult `json:"results"`
}

type sarifTool struct {
	Driver sarifDriver `json:"driver"`
}

type sarifDriver struct {
	Name           string      `json:"name"`
	Version        string      `json:"version"`
	InformationURI string      `json:"informationUri"`
	Rules          []sarifRule `json:"rules"`
}

type sarifRule struct {
	ID               string              `json:"id"`
	Name             string              `json:"name,omitempty"`
	ShortDescription sarifMessage        `json:"shortDescription"`
	FullDescription  sarifMessage        `json:"fullDescription,omitempty"`
	Properties       sarifRuleProperties `json:"properties,omitempty"`
}

type sarifRuleProperties struct {
	Tags     []string `json:"tags,omitempty"`
	Severity string   `json:"security-severity,omitempty"`
}

type sarifResult struct {
	RuleID    string          `json:"ruleId"`
	Level     string          `json:"level"`
	Message   sarifMessage    `json:"message"`
	Locations []sarifLocation `json:"locations,omitempty"`
}

type sarifMessage struct {
	Text string `json:"text"`
}

type sarifLocation struct {
	PhysicalLocation sarifPhysicalLocation `json:"physicalLocation"`
}

type sarifPhysicalLocation struct {
	ArtifactLocation sarifArtifactLocation `json:"artifactLocation"`
}

type sarifArtifactLocation struct {
	URI string `json:"uri"`
}

const (
	sarifSchemaURL = "https://docs.oasis-open.org/sarif/sarif/v2.1.0/os/schemas/sarif-schema-2.1.0.json"
	toolInfoURL    = "https://github.com/rexlx/supplyco"
)

// WriteSARIF writes the report as a SARIF log to path.
func (r *Report) WriteSARIF(path string) error {
	f, err := createArtifact(path)
	if err != nil {
		return fmt.Errorf("writing sarif: %w", err)
	}
	defer f.Close()
	return r.renderSARIF(f)
}

func (r *Report) renderSARIF(w io.Writer) error {
	run := sarifRun{
		Tool: sarifTool{
			Driver: sarifDriver{
				Name:           "supplyco",
				Version:        internal.Version,
				InformationURI: toolInfoURL,
				Rules:          []sarifRule{},
			},
		},
		Results: []sarifResult{},
	}

	seen := make(map[string]bool)
	addRule := func(id, name, short, full, severity string, tags []string) {
		if seen[id] {
			return
		}
		seen[id] = true
		run.Tool.Driver.Rules = append(run.Tool.Driver.Rules, sarifRule{
			ID:               id,
			Name:             name,
			ShortDescription: sarifMessage{Text: short},
			FullDescription:  sarifMessage{Text: full},
			Properties: sarifRuleProperties{
				Tags:     tags,
				Severity: sarifSeverityScore(severity),
			},
		})
	}

	for _, f := range r.Findings {
		ruleID := "malicious-package/" + f.Ecosystem
		addRule(ruleID, "MaliciousPackage",
			fmt.Sprintf("Known malicious %s package", f.Ecosystem),
			"The dependency matches an entry in the malicious package index.",
			f.Severity, []string{"security", "supply-chain", f.Ecosystem})

		version := f.MatchedVersion
		if version == "" {
			version = "any"
		}
		run.Results = append(run.Results, sarifResult{
			RuleID: ruleID,
			Level:  sarifLevel(f.Severity),
			Message: sarifMessage{
				Text: fmt.Sprintf("[%s] %s@%s: %s", strings.ToUpper(f.Severity), f.Name, version, f.Description),
			},
			Locations: []sarifLocation{{
				PhysicalLocation: sarifPhysicalLocation{
					ArtifactLocation: sarifArtifactLocation{URI: manifestURI(f.Ecosystem)},
				},
			}},
		})
	}

	for _, ind := range r.Indicators {
		ruleID := "ioc/" + ind.Type
		addRule(ruleID, "IndicatorOfCompromise",
			"Shai-Hulud indicator of compromise",
			"A file or pattern associated with the Shai-Hulud worm was found in the scanned tree.",
			ind.Severity, []string{"security", "supply-chain", "ioc"})

		detail := ind.Pattern
		if detail == "" {
			detail = ind.URL
		}
		run.Results = append(run.Results, sarifResult{
			RuleID: ruleID,
			Level:  sarifLevel(ind.Severity),
			Message: sarifMessage{
				Text: fmt.Sprintf("[%s] %s: %s", strings.ToUpper(ind.Severity), ind.Type, detail),
			},
			Locations: []sarifLocation{{
				PhysicalLocation: sarifPhysicalLocation{
					ArtifactLocation: sarifArtifactLocation{URI: ind.Path},
				},
			}},
		})
	}

	log := sarifLog{
		Version: "2.1.0",
		Schema:  sarifSchemaURL,
		Runs:    []sarifRun{run},
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(log)
}

func sarifLevel(severity string) string {
	switch severity {
	case internal.SeverityCritical, internal.SeverityHigh:
		return "error"
	case internal.SeverityLow:
		return "note"
	default:
		return "warning"
	}
}

func sarifSeverityScore(severity string) string {
	switch severity {
	case internal.SeverityCritical:
		return "9.0"
	case internal.SeverityHigh:
		return "7.0"
	case internal.SeverityMedium:
		return "5.0"
	case internal.SeverityLow:
		return "3.0"
	default:
		return "1.0"
	}
}

func manifestURI(ecosystem string) string {
	switch ecosystem {
	case "npm":
		return "package.json"
	case "pypi":
		return "requirements.txt"
	case "rubygems":
		return "Gemfile"
	case "go":
		return "go.mod"
	case "maven":
		return "pom.xml"
	case "cargo":
		return "Cargo.toml"
	}
	return "package.json"
}
