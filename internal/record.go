package internal

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"
)

var Ecosystems = []string{"npm", "pypi", "rubygems", "go", "maven", "cargo"}

// ecosystemAliases maps the names feeds actually use onto the six
// canonical ecosystems. Anything not in this table and not already
// canonical gets dropped by NormalizeEcosystem.
var ecosystemAliases = map[string]string{
	"node":       "npm",
	"nodejs":     "npm",
	"javascript": "npm",
	"js":         "npm",
	"python":     "pypi",
	"pip":        "pypi",
	"crates.io":  "cargo",
	"crates":     "cargo",
	"rust":       "cargo",
	"ruby":       "rubygems",
	"gem":        "rubygems",
	"gems":       "rubygems",
	"golang":     "go",
	"java":       "maven",
	"mvn":        "maven",
}

func NormalizeEcosystem(name string) (string, bool) {
	n := strings.ToLower(strings.TrimSpace(name))
	if alias, ok := ecosystemAliases[n]; ok {
		return alias, true
	}
	for _, e := range Ecosystems {
		if n == e {
			return e, true
		}
	}
	return "", false
}

const (
	SeverityCritical = "critical"
	SeverityHigh     = "high"
	SeverityMedium   = "medium"
	SeverityLow      = "low"
	SeverityUnknown  = "unknown"
)

var severityRank = map[string]int{
	SeverityCritical: 4,
	SeverityHigh:     3,
	SeverityMedium:   2,
	SeverityLow:      1,
	SeverityUnknown:  0,
}

// SeverityRank returns the ordering weight of a severity level.
// Unrecognized strings rank as unknown.
func SeverityRank(severity string) int {
	return severityRank[strings.ToLower(severity)]
}

// NormalizeSeverity folds the severity vocabulary the feeds use into the
// five canonical levels. Numeric scores on a 0-100 scale are bucketed.
func NormalizeSeverity(raw string) string {
	s := strings.ToLower(strings.TrimSpace(raw))
	if s == "" {
		return SeverityUnknown
	}
	if score, err := strconv.ParseFloat(s, 64); err == nil {
		switch {
		case score >= 90:
			return SeverityCritical
		case score >= 70:
			return SeverityHigh
		case score >= 40:
			return SeverityMedium
		default:
			return SeverityLow
		}
	}
	switch s {
	case SeverityCritical, SeverityHigh, SeverityMedium, SeverityLow:
		return s
	case "severe", "urgent":
		return SeverityCritical
	case "moderate", "warning":
		return SeverityMedium
	case "minor", "info", "informational":
		return SeverityLow
	default:
		return SeverityUnknown
	}
}

// Origin records which feed contributed a record and when, one entry per
// contribution. Origins are never deduplicated.
type Origin struct {
	SourceName   string          `json:"source_name"`
	SourceID     string          `json:"source_id"`
	ModifiedTime string          `json:"modified_time,omitempty"`
	Ranges       json.RawMessage `json:"ranges,omitempty"`
}

type Reference struct {
	Type string `json:"type"`
	URL  string `json:"url"`
}

type CWE struct {
	ID   string `json:"id"`
	Name string `json:"name,omitempty"`
}

// CanonicalRecord is the feed-independent shape every collector emits.
// Name plus Ecosystem identify the package; everything else is evidence.
type CanonicalRecord struct {
	Name              string                     `json:"name"`
	Ecosystem         string                     `json:"ecosystem"`
	Versions          []string                   `json:"versions"`
	Severity          string                     `json:"severity"`
	Aliases           []string                   `json:"aliases,omitempty"`
	Sources           []string                   `json:"sources"`
	DetectedBehaviors []string                   `json:"detected_behaviors,omitempty"`
	SourceDetails     map[string]json.RawMessage `json:"source_details,omitempty"`
	CWEs              []CWE                      `json:"cwes,omitempty"`
	References        []Reference                `json:"references,omitempty"`
	Origins           []Origin                   `json:"origins,omitempty"`
	Description       string                     `json:"description,omitempty"`
	FullDetails       string                     `json:"full_details,omitempty"`
	FirstSeen         string                     `json:"first_seen,omitempty"`
	Modified          string                     `json:"modified,omitempty"`
	LastUpdated       string                     `json:"last_updated,omitempty"`
}

// NormalizedName is the lookup key used everywhere a record is matched.
func (r *CanonicalRecord) NormalizedName() string {
	return strings.ToLower(strings.TrimSpace(r.Name))
}

// Normalize validates one raw feed record and canonicalizes its
// ecosystem and severity. It is pure and feed-agnostic so that merging
// never has to care which upstream produced a record. Records without a
// resolvable name or ecosystem are dropped, not guessed at.
func Normalize(r CanonicalRecord) (CanonicalRecord, bool) {
	r.Name = strings.TrimSpace(r.Name)
	if r.Name == "" {
		return CanonicalRecord{}, false
	}
	eco, ok := NormalizeEcosystem(r.Ecosystem)
	if !ok {
		return CanonicalRecord{}, false
	}
	r.Ecosystem = eco
	r.Severity = NormalizeSeverity(r.Severity)
	return r, true
}

// Timestamp renders the collection-time format shared by the feed
// documents and store metadata.
func Timestamp(t time.Time) string {
	return t.UTC().Format("2006-01-02T15:04:05Z")
}
