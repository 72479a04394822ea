package feeds

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/rexlx/supplyco/internal"
)

// osvEntry covers the slice of the OSV schema the malicious-package
// feeds actually populate.
type osvEntry struct {
	ID         string   `json:"id"`
	Summary    string   `json:"summary"`
	Details    string   `json:"details"`
	Published  string   `json:"published"`
	Modified   string   `json:"modified"`
	Aliases    []string `json:"aliases"`
	References []struct {
		Type string `json:"type"`
		URL  string `json:"url"`
	} `json:"references"`
	Affected []struct {
		Package struct {
			Ecosystem string `json:"ecosystem"`
			Name      string `json:"name"`
		} `json:"package"`
		Versions         []string `json:"versions"`
		DatabaseSpecific struct {
			CWEs []struct {
				CWEID string `json:"cweId"`
				Name  string `json:"name"`
			} `json:"cwes"`
		} `json:"database_specific"`
	} `json:"affected"`
	DatabaseSpecific struct {
		Origins []struct {
			Source       string          `json:"source"`
			ID           string          `json:"id"`
			ModifiedTime string          `json:"modified_time"`
			Ranges       json.RawMessage `json:"ranges"`
		} `json:"malicious-packages-origins"`
	} `json:"database_specific"`
}

// recordFromOSV maps one OSV entry to a canonical record. MAL-prefixed
// ids are confirmed malware; anything else is an ordinary
// vulnerability and ranks high instead of critical. Entries with no
// affected package are dropped.
func recordFromOSV(entry *osvEntry, source string) (internal.CanonicalRecord, bool) {
	if len(entry.Affected) == 0 {
		return internal.CanonicalRecord{}, false
	}
	aff := entry.Affected[0]
	name := aff.Package.Name
	eco, ok := internal.NormalizeEcosystem(aff.Package.Ecosystem)
	if name == "" || !ok {
		return internal.CanonicalRecord{}, false
	}

	severity := internal.SeverityHigh
	behaviors := []string{"vulnerability"}
	if strings.HasPrefix(entry.ID, "MAL-") {
		severity = internal.SeverityCritical
		behaviors = []string{"malicious_code"}
	}

	rec := internal.CanonicalRecord{
		Name:              name,
		Ecosystem:         eco,
		Versions:          aff.Versions,
		Severity:          severity,
		Aliases:           entry.Aliases,
		Sources:           []string{source},
		DetectedBehaviors: behaviors,
		Description:       entry.Summary,
		FullDetails:       entry.Details,
		Modified:          entry.Modified,
	}
	if rec.Description == "" {
		rec.Description = fmt.Sprintf("Vulnerability in %s", name)
	}
	if entry.Published != "" {
		rec.FirstSeen = strings.SplitN(entry.Published, "T", 2)[0]
	}
	for _, c := range aff.DatabaseSpecific.CWEs {
		if c.CWEID == "" {
			continue
		}
		rec.CWEs = append(rec.CWEs, internal.CWE{ID: c.CWEID, Name: c.Name})
	}
	for _, r := range entry.References {
		if r.URL == "" {
			continue
		}
		rec.References = append(rec.References, internal.Reference{Type: r.Type, URL: r.URL})
	}
	for _, o := range entry.DatabaseSpecific.Origins {
		if o.Source == "" {
			continue
		}
		rec.Origins = append(rec.Origins, internal.Origin{
			SourceName:   o.Source,
			SourceID:     o.ID,
			ModifiedTime: o.ModifiedTime,
			Ranges:       o.Ranges,
		})
	}
	detail, _ := json.Marshal(map[string]string{
		"severity": severity,
		"id":       entry.ID,
		"url":      fmt.Sprintf("https://osv.dev/vulnerability/%s", entry.ID),
	})
	rec.SourceDetails = map[string]json.RawMessage{source: detail}
	return rec, true
}
