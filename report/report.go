// Package report assembles scan results into artifacts: a JSON report,
// a SARIF log for code-scanning upload, and an HTML chart page.
package report

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/rexlx/supplyco/internal"
	"github.com/rexlx/supplyco/ioc"
)

type Report struct {
	ID            string             `json:"id"`
	ScanTimestamp string             `json:"scan_timestamp"`
	Ecosystems    []string           `json:"ecosystems"`
	ScannedPath   string             `json:"scanned_path"`
	TotalScanned  int                `json:"total_packages_scanned"`
	FindingCount  int                `json:"malicious_packages_found"`
	IndicatorCnt  int                `json:"iocs_found"`
	Findings      []internal.Finding `json:"malicious_packages"`
	Indicators    []ioc.Indicator    `json:"iocs"`
}

func New(scannedPath string, ecosystems []string) *Report {
	return &Report{
		ID:            uuid.NewString(),
		ScanTimestamp: internal.Timestamp(time.Now().UTC()),
		Ecosystems:    ecosystems,
		ScannedPath:   scannedPath,
		Findings:      []internal.Finding{},
		Indicators:    []ioc.Indicator{},
	}
}

func (r *Report) AddFindings(findings []internal.Finding) {
	r.Findings = append(r.Findings, findings...)
	r.FindingCount = len(r.Findings)
}

func (r *Report) AddIndicators(indicators []ioc.Indicator) {
	r.Indicators = append(r.Indicators, indicators...)
	r.IndicatorCnt = len(r.Indicators)
}

func (r *Report) SeverityCounts() map[string]int {
	counts := make(map[string]int)
	for _, f := range r.Findings {
		counts[f.Severity]++
	}
	for _, i := range r.Indicators {
		counts[i.Severity]++
	}
	return counts
}

// HighestSeverity returns the worst severity present, or "" for a
// clean report.
func (r *Report) HighestSeverity() string {
	best := ""
	for severity := range r.SeverityCounts() {
		if best == "" || internal.SeverityRank(severity) > internal.SeverityRank(best) {
			best = severity
		}
	}
	return best
}

// ExceedsThreshold reports whether anything at or above failOn was
// found. An empty threshold means any finding at all trips it.
func (r *Report) ExceedsThreshold(failOn string) bool {
	if failOn == "" {
		return r.FindingCount > 0 || r.IndicatorCnt > 0
	}
	floor := internal.SeverityRank(failOn)
	for severity := range r.SeverityCounts() {
		if internal.SeverityRank(severity) >= floor {
			return true
		}
	}
	return false
}

// DefaultPath names a report file under dir with a sortable timestamp.
func DefaultPath(dir string) string {
	stamp := time.Now().UTC().Format("20060102_150405")
	return filepath.Join(dir, fmt.Sprintf("malicious_packages_report_%s.json", stamp))
}

// createArtifact opens path for writing, creating parent directories
// as needed.
func createArtifact(path string) (*os.File, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	return os.Create(path)
}

// WriteJSON writes the report artifact. A clean scan still gets one.
func (r *Report) WriteJSON(path string) error {
	f, err := createArtifact(path)
	if err != nil {
		return fmt.Errorf("writing report: %w", err)
	}
	defer f.Close()
	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	return enc.Encode(r)
}

// Summary prints a human-readable digest of the report.
func (r *Report) Summary(w io.Writer) {
	line := strings.Repeat("=", 60)
	fmt.Fprintln(w, line)
	fmt.Fprintln(w, "SCAN REPORT SUMMARY")
	fmt.Fprintln(w, line)
	fmt.Fprintf(w, "Ecosystems: %s\n", strings.Join(r.Ecosystems, ", "))
	fmt.Fprintf(w, "Scanned Path: %s\n", r.ScannedPath)
	fmt.Fprintf(w, "Scan Timestamp: %s\n", r.ScanTimestamp)
	fmt.Fprintf(w, "Total Packages Scanned: %d\n", r.TotalScanned)
	fmt.Fprintf(w, "Malicious Packages Found: %d\n", r.FindingCount)
	fmt.Fprintf(w, "IoCs Found: %d\n", r.IndicatorCnt)
	fmt.Fprintln(w, line)

	if len(r.Findings) > 0 {
		fmt.Fprintln(w, "\nMALICIOUS PACKAGES DETECTED:")
		for i, f := range r.Findings {
			fmt.Fprintf(w, "%d. %s (%s)\n", i+1, f.Name, f.Ecosystem)
			if f.MatchedVersion != "" {
				fmt.Fprintf(w, "   Version: %s\n", f.MatchedVersion)
			}
			fmt.Fprintf(w, "   Severity: %s\n", strings.ToUpper(f.Severity))
			if f.Description != "" {
				fmt.Fprintf(w, "   Description: %s\n", f.Description)
			}
			if len(f.Sources) > 0 {
				fmt.Fprintf(w, "   Sources: %s\n", strings.Join(f.Sources, ", "))
			}
		}
	} else {
		fmt.Fprintln(w, "\nNo malicious packages found.")
	}

	if len(r.Indicators) > 0 {
		fmt.Fprintln(w, "\nINDICATORS OF COMPROMISE DETECTED:")
		for i, ind := range r.Indicators {
			variant := ""
			if ind.Variant != "" {
				variant = fmt.Sprintf(" [%s]", ind.Variant)
			}
			fmt.Fprintf(w, "%d. %s%s: %s\n", i+1, strings.ToUpper(ind.Type), variant, ind.Path)
			switch {
			case ind.Hash != "":
				fmt.Fprintf(w, "   SHA-256: %s\n", ind.Hash)
			case ind.URL != "":
				fmt.Fprintf(w, "   URL: %s\n", ind.URL)
			case ind.Pattern != "":
				fmt.Fprintf(w, "   Pattern: %s\n", ind.Pattern)
			}
		}
	} else {
		fmt.Fprintln(w, "\nNo IoCs detected.")
	}
	fmt.Fprintln(w, line)
}

// sortedSeverities returns the severities present, worst first.
func (r *Report) sortedSeverities() []string {
	counts := r.SeverityCounts()
	out := make([]string, 0, len(counts))
	for s := range counts {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool {
		return internal.SeverityRank(out[i]) > internal.SeverityRank(out[j])
	})
	return out
}
