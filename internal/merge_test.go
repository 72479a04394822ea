package internal

import (
	"encoding/json"
	"reflect"
	"testing"
)

func TestMergeScenarioTwoSources(t *testing.T) {
	records := []CanonicalRecord{
		{Name: "evil-pkg", Ecosystem: "npm", Versions: []string{"1.0.0"}, Severity: "high", Sources: []string{"A"}},
		{Name: "evil-pkg", Ecosystem: "npm", Versions: []string{"1.0.0", "1.0.1"}, Severity: "critical", Sources: []string{"B"}},
	}
	out := MergeEcosystem(records)
	if len(out) != 1 {
		t.Fatalf("expected 1 merged record, got %d", len(out))
	}
	m := out[0]
	if !reflect.DeepEqual(m.Versions, []string{"1.0.0", "1.0.1"}) {
		t.Errorf("versions = %v, want [1.0.0 1.0.1]", m.Versions)
	}
	if m.Severity != "critical" {
		t.Errorf("severity = %q, want critical", m.Severity)
	}
	if !reflect.DeepEqual(m.Sources, []string{"A", "B"}) {
		t.Errorf("sources = %v, want [A B]", m.Sources)
	}
}

func TestMergeIdempotent(t *testing.T) {
	records := []CanonicalRecord{
		{Name: "pkg-a", Ecosystem: "npm", Versions: []string{"1.0.0"}, Severity: "high", Sources: []string{"osv"}, Modified: "2025-01-01T00:00:00Z"},
		{Name: "pkg-a", Ecosystem: "npm", Versions: []string{"2.0.0"}, Severity: "low", Sources: []string{"phylum"}, Modified: "2025-02-01T00:00:00Z"},
		{Name: "pkg-b", Ecosystem: "npm", Versions: []string{"0.1.0"}, Severity: "critical", Sources: []string{"openssf"}},
	}
	once := MergeEcosystem(records)
	twice := MergeEcosystem(once)
	if !reflect.DeepEqual(once, twice) {
		t.Errorf("merging merged output changed it:\nonce:  %+v\ntwice: %+v", once, twice)
	}
}

func TestMergeDeterministicSetFields(t *testing.T) {
	a := CanonicalRecord{Name: "p", Ecosystem: "npm", Versions: []string{"1.0.0", "1.1.0"}, Sources: []string{"A"}, Aliases: []string{"MAL-1"}}
	b := CanonicalRecord{Name: "p", Ecosystem: "npm", Versions: []string{"1.1.0", "2.0.0"}, Sources: []string{"B"}, Aliases: []string{"MAL-2"}}

	fwd := MergeEcosystem([]CanonicalRecord{a, b})[0]
	rev := MergeEcosystem([]CanonicalRecord{b, a})[0]

	asSet := func(ss []string) map[string]bool {
		m := make(map[string]bool)
		for _, s := range ss {
			m[s] = true
		}
		return m
	}
	if !reflect.DeepEqual(asSet(fwd.Versions), asSet(rev.Versions)) {
		t.Errorf("version sets differ across permutations: %v vs %v", fwd.Versions, rev.Versions)
	}
	if !reflect.DeepEqual(asSet(fwd.Sources), asSet(rev.Sources)) {
		t.Errorf("source sets differ across permutations: %v vs %v", fwd.Sources, rev.Sources)
	}
	if !reflect.DeepEqual(asSet(fwd.Aliases), asSet(rev.Aliases)) {
		t.Errorf("alias sets differ across permutations: %v vs %v", fwd.Aliases, rev.Aliases)
	}
}

func TestMergeUniqueNormalizedNames(t *testing.T) {
	records := []CanonicalRecord{
		{Name: "Left-Pad", Ecosystem: "npm", Versions: []string{"1.0.0"}},
		{Name: "left-pad", Ecosystem: "npm", Versions: []string{"1.0.1"}},
		{Name: "LEFT-PAD", Ecosystem: "npm", Versions: []string{"1.0.2"}},
		{Name: "other", Ecosystem: "npm"},
	}
	out := MergeEcosystem(records)
	seen := make(map[string]bool)
	for _, r := range out {
		key := r.NormalizedName()
		if seen[key] {
			t.Errorf("duplicate normalized name %q in merged output", key)
		}
		seen[key] = true
	}
	if len(out) != 2 {
		t.Errorf("expected 2 merged records, got %d", len(out))
	}
}

func TestMergeSeverityMonotonic(t *testing.T) {
	records := []CanonicalRecord{
		{Name: "p", Ecosystem: "npm", Severity: "medium"},
		{Name: "p", Ecosystem: "npm", Severity: "critical"},
		{Name: "p", Ecosystem: "npm", Severity: "low"},
	}
	out := MergeEcosystem(records)[0]
	for _, r := range records {
		if SeverityRank(out.Severity) < SeverityRank(r.Severity) {
			t.Errorf("merged severity %q below contributing %q", out.Severity, r.Severity)
		}
	}
}

func TestMergeSortedByLowerName(t *testing.T) {
	records := []CanonicalRecord{
		{Name: "Zeta", Ecosystem: "npm"},
		{Name: "alpha", Ecosystem: "npm"},
		{Name: "Beta", Ecosystem: "npm"},
	}
	out := MergeEcosystem(records)
	want := []string{"alpha", "Beta", "Zeta"}
	for i, r := range out {
		if r.Name != want[i] {
			t.Errorf("position %d: got %q, want %q", i, r.Name, want[i])
		}
	}
}

func TestMergeSingleRecordPassesThrough(t *testing.T) {
	rec := CanonicalRecord{Name: "solo", Ecosystem: "npm", Versions: []string{"1.0.0"}, Severity: "weird-value"}
	out := MergeEcosystem([]CanonicalRecord{rec})
	if len(out) != 1 || !reflect.DeepEqual(out[0], rec) {
		t.Errorf("single-record group should pass through untouched, got %+v", out)
	}
}

// --- per-reducer tests ---

func TestReduceSeverityTieKeepsExisting(t *testing.T) {
	dst := CanonicalRecord{Severity: "high"}
	reduceSeverity(&dst, &CanonicalRecord{Severity: "high"})
	if dst.Severity != "high" {
		t.Errorf("tie changed severity to %q", dst.Severity)
	}
	reduceSeverity(&dst, &CanonicalRecord{Severity: "low"})
	if dst.Severity != "high" {
		t.Errorf("lower severity overwrote, got %q", dst.Severity)
	}
}

func TestReduceSourceDetailsLastWins(t *testing.T) {
	dst := CanonicalRecord{SourceDetails: map[string]json.RawMessage{"osv": json.RawMessage(`{"v":1}`)}}
	src := CanonicalRecord{SourceDetails: map[string]json.RawMessage{
		"osv":    json.RawMessage(`{"v":2}`),
		"phylum": json.RawMessage(`{"v":3}`),
	}}
	reduceSourceDetails(&dst, &src)
	if string(dst.SourceDetails["osv"]) != `{"v":2}` {
		t.Errorf("osv detail not overwritten: %s", dst.SourceDetails["osv"])
	}
	if string(dst.SourceDetails["phylum"]) != `{"v":3}` {
		t.Errorf("phylum detail missing: %s", dst.SourceDetails["phylum"])
	}
}

func TestReduceCWEsKeyedByID(t *testing.T) {
	dst := CanonicalRecord{CWEs: []CWE{{ID: "CWE-506", Name: "old name"}}}
	src := CanonicalRecord{CWEs: []CWE{{ID: "CWE-506", Name: "new name"}, {ID: "CWE-94"}}}
	reduceCWEs(&dst, &src)
	if len(dst.CWEs) != 2 {
		t.Fatalf("expected 2 cwes, got %d", len(dst.CWEs))
	}
	if dst.CWEs[0].Name != "new name" {
		t.Errorf("conflicting name for same id should be overwritten, got %q", dst.CWEs[0].Name)
	}
}

func TestReduceReferencesKeyedByURL(t *testing.T) {
	dst := CanonicalRecord{References: []Reference{{Type: "WEB", URL: "https://a"}}}
	src := CanonicalRecord{References: []Reference{{Type: "ADVISORY", URL: "https://a"}, {Type: "WEB", URL: "https://b"}}}
	reduceReferences(&dst, &src)
	if len(dst.References) != 2 {
		t.Fatalf("expected 2 references, got %d", len(dst.References))
	}
	if dst.References[0].Type != "ADVISORY" {
		t.Errorf("ref type for same URL should be overwritten, got %q", dst.References[0].Type)
	}
}

func TestReduceOriginsNeverDedups(t *testing.T) {
	o := Origin{SourceName: "osv", SourceID: "MAL-1"}
	dst := CanonicalRecord{Origins: []Origin{o}}
	src := CanonicalRecord{Origins: []Origin{o}}
	reduceOrigins(&dst, &src)
	if len(dst.Origins) != 2 {
		t.Errorf("origins should append without dedup, got %d entries", len(dst.Origins))
	}
}

func TestReduceFullDetailsLongestWins(t *testing.T) {
	dst := CanonicalRecord{FullDetails: "short"}
	reduceFullDetails(&dst, &CanonicalRecord{FullDetails: "a much longer description"})
	if dst.FullDetails != "a much longer description" {
		t.Errorf("longer string should win, got %q", dst.FullDetails)
	}
	reduceFullDetails(&dst, &CanonicalRecord{FullDetails: "tiny"})
	if dst.FullDetails != "a much longer description" {
		t.Errorf("shorter string should not overwrite, got %q", dst.FullDetails)
	}
	before := dst.FullDetails
	reduceFullDetails(&dst, &CanonicalRecord{FullDetails: "equal-length-as-existing!!"[:len(before)]})
	if dst.FullDetails != before {
		t.Errorf("tie should keep existing, got %q", dst.FullDetails)
	}
}

func TestReduceModifiedLexicographic(t *testing.T) {
	dst := CanonicalRecord{Modified: "2025-01-01T00:00:00Z"}
	reduceModified(&dst, &CanonicalRecord{Modified: "2025-06-01T00:00:00Z"})
	if dst.Modified != "2025-06-01T00:00:00Z" {
		t.Errorf("greater timestamp should win, got %q", dst.Modified)
	}
	reduceModified(&dst, &CanonicalRecord{Modified: "2024-12-31T00:00:00Z"})
	if dst.Modified != "2025-06-01T00:00:00Z" {
		t.Errorf("lesser timestamp should not overwrite, got %q", dst.Modified)
	}
}

func TestReduceFirstSeenKeepsFirst(t *testing.T) {
	dst := CanonicalRecord{FirstSeen: "2024-01-01"}
	reduceFirstSeen(&dst, &CanonicalRecord{FirstSeen: "2023-01-01"})
	if dst.FirstSeen != "2024-01-01" {
		t.Errorf("first_seen should not be overwritten, got %q", dst.FirstSeen)
	}
	empty := CanonicalRecord{}
	reduceFirstSeen(&empty, &CanonicalRecord{FirstSeen: "2023-05-05"})
	if empty.FirstSeen != "2023-05-05" {
		t.Errorf("empty first_seen should take the incoming value, got %q", empty.FirstSeen)
	}
}

func TestMergeAllDropsUnknownEcosystems(t *testing.T) {
	records := []CanonicalRecord{
		{Name: "a", Ecosystem: "node"},
		{Name: "b", Ecosystem: "nuget"},
		{Name: "c", Ecosystem: "rust"},
	}
	buckets := MergeAll(records)
	if len(buckets) != len(Ecosystems) {
		t.Fatalf("expected %d buckets, got %d", len(Ecosystems), len(buckets))
	}
	if len(buckets["npm"]) != 1 || len(buckets["cargo"]) != 1 {
		t.Errorf("alias buckets wrong: npm=%d cargo=%d", len(buckets["npm"]), len(buckets["cargo"]))
	}
	total := 0
	for _, b := range buckets {
		total += len(b)
	}
	if total != 2 {
		t.Errorf("unknown ecosystem should be dropped, total=%d", total)
	}
}
