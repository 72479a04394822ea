package internal

import (
	"os"
	"path/filepath"
	"testing"
)

const incidentYAML = `affected_packages:
  - name: "@ctrl/tinycolor"
    versions: ["4.1.1", "4.1.2"]
  - name: "ngx-bootstrap"
    versions: ["19.0.3"]
`

func TestParseIncidentList(t *testing.T) {
	l, err := parseIncidentList([]byte(incidentYAML), "local")
	if err != nil {
		t.Fatalf("parseIncidentList: %v", err)
	}
	if l.Packages() != 2 {
		t.Errorf("packages = %d, want 2", l.Packages())
	}
	if l.Origin() != "local" {
		t.Errorf("origin = %q, want local", l.Origin())
	}
}

func TestParseIncidentListRejectsEmpty(t *testing.T) {
	if _, err := parseIncidentList([]byte("affected_packages: []"), "local"); err == nil {
		t.Error("empty list should be rejected so the fallback chain continues")
	}
	if _, err := parseIncidentList([]byte("{invalid yaml"), "local"); err == nil {
		t.Error("bad yaml should be rejected")
	}
}

func TestIncidentCheck(t *testing.T) {
	l, err := parseIncidentList([]byte(incidentYAML), "local")
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name    string
		version string
		hit     bool
		matched string
	}{
		{"@ctrl/tinycolor", "4.1.1", true, "4.1.1"},
		{"@CTRL/TinyColor", "4.1.2", true, "4.1.2"},
		{"@ctrl/tinycolor", "^4.1.1", true, "4.1.1"},
		{"@ctrl/tinycolor", "4.1.0", false, ""},
		{"@ctrl/tinycolor", "", true, "4.1.1"},
		{"ngx-bootstrap", "19.0.3", true, "19.0.3"},
		{"unlisted", "1.0.0", false, ""},
	}
	for _, tt := range tests {
		findings := l.Check(tt.name, tt.version)
		if (len(findings) > 0) != tt.hit {
			t.Errorf("Check(%q, %q) hit = %v, want %v", tt.name, tt.version, len(findings) > 0, tt.hit)
			continue
		}
		if tt.hit && findings[0].MatchedVersion != tt.matched {
			t.Errorf("Check(%q, %q) matched = %q, want %q", tt.name, tt.version, findings[0].MatchedVersion, tt.matched)
		}
	}
}

func TestIncidentFindingShape(t *testing.T) {
	l, _ := parseIncidentList([]byte(incidentYAML), "local")
	f := l.Check("ngx-bootstrap", "19.0.3")[0]
	if f.Severity != SeverityCritical {
		t.Errorf("severity = %q, want critical", f.Severity)
	}
	if f.Ecosystem != "npm" {
		t.Errorf("ecosystem = %q, want npm", f.Ecosystem)
	}
	if len(f.DetectedBehaviors) != 2 {
		t.Errorf("behaviors = %v", f.DetectedBehaviors)
	}
	if _, ok := f.SourceDetails[IncidentSource]; !ok {
		t.Errorf("source_details missing %q attribution", IncidentSource)
	}
}

func TestLoadIncidentListFallbackChain(t *testing.T) {
	// A nil client skips the remote step entirely.
	local := filepath.Join(t.TempDir(), "affected_packages.yaml")
	if err := os.WriteFile(local, []byte(incidentYAML), 0o644); err != nil {
		t.Fatal(err)
	}
	l := LoadIncidentList(nil, local, testLogger())
	if l.Origin() != "local" || l.Packages() != 2 {
		t.Errorf("expected local fallback, got origin=%q packages=%d", l.Origin(), l.Packages())
	}

	// Nothing reachable at all: builtin still works.
	l = LoadIncidentList(nil, filepath.Join(t.TempDir(), "nope.yaml"), testLogger())
	if l.Origin() != "builtin" {
		t.Errorf("expected builtin fallback, got %q", l.Origin())
	}
	if l.Packages() == 0 {
		t.Error("builtin table should not be empty")
	}
}

func TestIncidentListWriteFileRoundTrip(t *testing.T) {
	l := IncidentListFromEntries(map[string][]string{
		"@ctrl/tinycolor": {"4.1.2", "4.1.1"},
		"ngx-color":       {"10.0.1"},
	})
	path := filepath.Join(t.TempDir(), "affected_packages.yaml")
	if err := l.WriteFile(path); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	back, err := readIncidentList(path)
	if err != nil {
		t.Fatalf("readIncidentList: %v", err)
	}
	if back.Packages() != 2 {
		t.Errorf("packages = %d, want 2", back.Packages())
	}
	if len(back.Check("@ctrl/tinycolor", "4.1.1")) != 1 {
		t.Error("round-tripped list lost a version")
	}
	if got := back.Entries()["@ctrl/tinycolor"]; len(got) != 2 || got[0] != "4.1.1" {
		t.Errorf("versions = %v, want sorted [4.1.1 4.1.2]", got)
	}
}

func TestIncidentListMerge(t *testing.T) {
	l := IncidentListFromEntries(map[string][]string{"a": {"1.0.0"}})
	l.Merge(IncidentListFromEntries(map[string][]string{"a": {"1.0.1"}, "b": {"2.0.0"}}))
	if l.Packages() != 2 {
		t.Errorf("packages = %d, want 2", l.Packages())
	}
	if len(l.Check("a", "1.0.0")) != 1 || len(l.Check("a", "1.0.1")) != 1 {
		t.Error("merge should union versions")
	}
	l.Merge(nil)
	if l.Packages() != 2 {
		t.Error("nil merge should be a no-op")
	}
}

func TestIncidentListFromEntries(t *testing.T) {
	l := IncidentListFromEntries(map[string][]string{"a": {"1"}, "B": {"2"}})
	if l.Packages() != 2 {
		t.Errorf("packages = %d, want 2", l.Packages())
	}
	if len(l.Check("b", "2")) != 1 {
		t.Error("names should be normalized to lower case")
	}
}
