package internal

import (
	"encoding/json"
	"errors"
	"log"
	"strings"
	"sync"
)

// Finding is one confirmed hit against the index or the incident list.
type Finding struct {
	Name              string                     `json:"name"`
	Ecosystem         string                     `json:"ecosystem"`
	QueryVersion      string                     `json:"query_version,omitempty"`
	MatchedVersion    string                     `json:"matched_version,omitempty"`
	Severity          string                     `json:"severity"`
	Sources           []string                   `json:"sources"`
	DetectedBehaviors []string                   `json:"detected_behaviors,omitempty"`
	Description       string                     `json:"description,omitempty"`
	FullDetails       string                     `json:"full_details,omitempty"`
	SourceDetails     map[string]json.RawMessage `json:"source_details,omitempty"`
	Aliases           []string                   `json:"aliases,omitempty"`
	CWEs              []CWE                      `json:"cwes,omitempty"`
	References        []Reference                `json:"references,omitempty"`
	Origins           []Origin                   `json:"origins,omitempty"`
	FirstSeen         string                     `json:"first_seen,omitempty"`
	Modified          string                     `json:"modified,omitempty"`
	LastUpdated       string                     `json:"last_updated,omitempty"`
}

// CleanVersion strips at most one leading range operator character so
// manifest specs like ^1.2.3 compare against indexed versions. No other
// normalization happens; "1.0" and "1.0.0" stay distinct strings.
func CleanVersion(v string) string {
	v = strings.TrimSpace(v)
	if v == "" {
		return v
	}
	switch v[0] {
	case '^', '~', '>', '=', '<':
		return v[1:]
	}
	return v
}

// Matcher answers (ecosystem, name, version) queries against the built
// index stores plus the supplementary incident list. Stores open lazily
// and stay cached; a store that does not exist is remembered as absent
// so every query against it is a cheap no-match.
type Matcher struct {
	IndexDir  string
	Incidents *IncidentList
	Logger    *log.Logger

	mu     sync.Mutex
	stores map[string]*Store
}

func NewMatcher(indexDir string, incidents *IncidentList, logger *log.Logger) *Matcher {
	return &Matcher{
		IndexDir:  indexDir,
		Incidents: incidents,
		Logger:    logger,
		stores:    make(map[string]*Store),
	}
}

func (m *Matcher) store(ecosystem string) *Store {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.stores[ecosystem]; ok {
		return s
	}
	s, err := OpenStore(m.IndexDir, ecosystem, m.Logger)
	if err != nil {
		if errors.Is(err, ErrStoreMissing) {
			m.Logger.Printf("no %s index in %s, treating as empty", ecosystem, m.IndexDir)
		} else {
			m.Logger.Printf("opening %s index: %v", ecosystem, err)
		}
		s = nil
	}
	m.stores[ecosystem] = s
	return s
}

// Reset closes and forgets every cached store so the next query reopens
// freshly built index files.
func (m *Matcher) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.stores {
		if s != nil {
			s.Close()
		}
	}
	m.stores = make(map[string]*Store)
}

func (m *Matcher) Close() {
	m.Reset()
}

// Check looks one dependency up. An empty version matches any indexed
// version and reports the smallest one in byte order as representative.
// Results from the index and the incident list are deduplicated on
// lower(name) plus matched version.
func (m *Matcher) Check(ecosystem, name, version string) ([]Finding, error) {
	eco, ok := NormalizeEcosystem(ecosystem)
	if !ok {
		return nil, nil
	}
	nameNorm := strings.ToLower(strings.TrimSpace(name))
	if nameNorm == "" {
		return nil, nil
	}
	version = CleanVersion(version)

	var findings []Finding
	if s := m.store(eco); s != nil {
		rec, err := s.Lookup(nameNorm)
		if err != nil {
			return nil, err
		}
		if rec != nil {
			if f, hit := matchRecord(rec, name, version); hit {
				findings = append(findings, f)
			}
		}
	}
	if eco == "npm" && m.Incidents != nil {
		findings = append(findings, m.Incidents.Check(name, version)...)
	}
	return dedupFindings(findings), nil
}

func matchRecord(rec *CanonicalRecord, name, version string) (Finding, bool) {
	f := Finding{
		Name:              rec.Name,
		Ecosystem:         rec.Ecosystem,
		QueryVersion:      version,
		Severity:          rec.Severity,
		Sources:           rec.Sources,
		DetectedBehaviors: rec.DetectedBehaviors,
		Description:       rec.Description,
		FullDetails:       rec.FullDetails,
		SourceDetails:     rec.SourceDetails,
		Aliases:           rec.Aliases,
		CWEs:              rec.CWEs,
		References:        rec.References,
		Origins:           rec.Origins,
		FirstSeen:         rec.FirstSeen,
		Modified:          rec.Modified,
		LastUpdated:       rec.LastUpdated,
	}
	// A version-less query only matches when the record carries at least
	// one version. Blog-scraped records often have none.
	if version == "" {
		if len(rec.Versions) == 0 {
			return Finding{}, false
		}
		f.MatchedVersion = rec.Versions[0]
		return f, true
	}
	for _, v := range rec.Versions {
		if v == version {
			f.MatchedVersion = v
			return f, true
		}
	}
	return Finding{}, false
}

func dedupFindings(in []Finding) []Finding {
	if len(in) < 2 {
		return in
	}
	seen := make(map[string]struct{}, len(in))
	out := in[:0]
	for _, f := range in {
		key := strings.ToLower(f.Name) + "\x00" + f.MatchedVersion
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, f)
	}
	return out
}
