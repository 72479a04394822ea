package internal

import (
	"encoding/json"
	"errors"
	"log"
	"os"
	"path/filepath"
	"reflect"
	"sort"
	"testing"
)

func testLogger() *log.Logger {
	return log.New(os.Stderr, "test ", log.LstdFlags)
}

func buildTestStore(t *testing.T, records []CanonicalRecord) (string, *Store) {
	t.Helper()
	dir := t.TempDir()
	if err := BuildStore(dir, "npm", records, testLogger()); err != nil {
		t.Fatalf("BuildStore: %v", err)
	}
	s, err := OpenStore(dir, "npm", testLogger())
	if err != nil {
		t.Fatalf("OpenStore: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return dir, s
}

func TestStoreRoundTrip(t *testing.T) {
	in := CanonicalRecord{
		Name:              "Evil-Pkg",
		Ecosystem:         "npm",
		Versions:          []string{"1.0.1", "1.0.0"},
		Severity:          "critical",
		Sources:           []string{"osv", "phylum"},
		DetectedBehaviors: []string{"malicious_code"},
		Aliases:           []string{"MAL-2025-0001"},
		CWEs:              []CWE{{ID: "CWE-506", Name: "Embedded Malicious Code"}},
		References:        []Reference{{Type: "ADVISORY", URL: "https://osv.dev/MAL-2025-0001"}},
		Origins: []Origin{
			{SourceName: "osv", SourceID: "MAL-2025-0001", ModifiedTime: "2025-01-01T00:00:00Z"},
			{SourceName: "osv", SourceID: "MAL-2025-0001", ModifiedTime: "2025-01-01T00:00:00Z", Ranges: json.RawMessage(`[{"introduced":"0"}]`)},
		},
		Description: "bad package",
		FullDetails: "detailed write-up",
		FirstSeen:   "2025-01-01",
		Modified:    "2025-02-01T00:00:00Z",
	}
	_, s := buildTestStore(t, []CanonicalRecord{in})

	got, err := s.Lookup("evil-pkg")
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if got == nil {
		t.Fatal("expected a record, got nil")
	}
	if got.Name != in.Name {
		t.Errorf("name = %q, want %q", got.Name, in.Name)
	}
	wantVersions := append([]string(nil), in.Versions...)
	sort.Strings(wantVersions)
	if !reflect.DeepEqual(got.Versions, wantVersions) {
		t.Errorf("versions = %v, want %v", got.Versions, wantVersions)
	}
	if !reflect.DeepEqual(got.Sources, in.Sources) {
		t.Errorf("sources = %v, want %v", got.Sources, in.Sources)
	}
	if !reflect.DeepEqual(got.References, in.References) {
		t.Errorf("references = %v, want %v", got.References, in.References)
	}
	if len(got.Origins) != 2 {
		t.Errorf("origins count = %d, want 2", len(got.Origins))
	}
	if !reflect.DeepEqual(got.CWEs, in.CWEs) {
		t.Errorf("cwes = %v, want %v", got.CWEs, in.CWEs)
	}
	if got.Severity != "critical" || got.FullDetails != in.FullDetails {
		t.Errorf("scalar fields mangled: %+v", got)
	}
	if got.LastUpdated == "" {
		t.Error("last_updated should be stamped at build time")
	}
}

func TestStoreLookupMiss(t *testing.T) {
	_, s := buildTestStore(t, []CanonicalRecord{{Name: "present", Ecosystem: "npm"}})
	got, err := s.Lookup("absent")
	if err != nil {
		t.Fatalf("miss should not error: %v", err)
	}
	if got != nil {
		t.Errorf("expected nil for a miss, got %+v", got)
	}
}

func TestEmptyStoreIsValid(t *testing.T) {
	_, s := buildTestStore(t, nil)
	got, err := s.Lookup("anything")
	if err != nil {
		t.Fatalf("lookup against empty store should not error: %v", err)
	}
	if got != nil {
		t.Errorf("expected nil, got %+v", got)
	}
	n, err := s.PackageCount()
	if err != nil || n != 0 {
		t.Errorf("package count = %d (%v), want 0", n, err)
	}
	if v, _ := s.Metadata("package_count"); v != "0" {
		t.Errorf("metadata package_count = %q, want 0", v)
	}
}

func TestStoreMetadata(t *testing.T) {
	_, s := buildTestStore(t, []CanonicalRecord{{Name: "a", Ecosystem: "npm"}})
	if v, err := s.Metadata("ecosystem"); err != nil || v != "npm" {
		t.Errorf("ecosystem metadata = %q (%v)", v, err)
	}
	if v, err := s.Metadata("schema_version"); err != nil || v != SchemaVersion {
		t.Errorf("schema_version metadata = %q (%v)", v, err)
	}
	if v, err := s.Metadata("no_such_key"); err != nil || v != "" {
		t.Errorf("absent metadata should be empty, got %q (%v)", v, err)
	}
}

func TestBuildLeavesNoTempFile(t *testing.T) {
	dir, _ := buildTestStore(t, []CanonicalRecord{{Name: "a", Ecosystem: "npm"}})
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	for _, e := range entries {
		if filepath.Ext(e.Name()) == ".tmp" {
			t.Errorf("temp file left behind: %s", e.Name())
		}
	}
}

func TestBuildReplacesExistingStore(t *testing.T) {
	dir := t.TempDir()
	if err := BuildStore(dir, "npm", []CanonicalRecord{{Name: "old-pkg", Ecosystem: "npm"}}, testLogger()); err != nil {
		t.Fatal(err)
	}
	if err := BuildStore(dir, "npm", []CanonicalRecord{{Name: "new-pkg", Ecosystem: "npm"}}, testLogger()); err != nil {
		t.Fatal(err)
	}
	s, err := OpenStore(dir, "npm", testLogger())
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()
	if got, _ := s.Lookup("old-pkg"); got != nil {
		t.Error("rebuilt store should not contain the previous generation")
	}
	if got, _ := s.Lookup("new-pkg"); got == nil {
		t.Error("rebuilt store missing its own record")
	}
}

func TestBuildRejectsDuplicateNormalizedNames(t *testing.T) {
	dir := t.TempDir()
	err := BuildStore(dir, "npm", []CanonicalRecord{
		{Name: "Dup", Ecosystem: "npm"},
		{Name: "dup", Ecosystem: "npm"},
	}, testLogger())
	if err == nil {
		t.Fatal("duplicate normalized names should fail the unique index")
	}
	if _, statErr := os.Stat(StorePath(dir, "npm")); statErr == nil {
		t.Error("failed build must not publish a store")
	}
}

func TestOpenStoreMissing(t *testing.T) {
	_, err := OpenStore(t.TempDir(), "npm", testLogger())
	if err == nil {
		t.Fatal("expected an error for a missing store")
	}
	if !errors.Is(err, ErrStoreMissing) {
		t.Errorf("expected ErrStoreMissing, got %v", err)
	}
}
