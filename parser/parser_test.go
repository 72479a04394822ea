package parser

import (
	"os"
	"path/filepath"
	"reflect"
	"sort"
	"testing"
)

func writeFixture(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func depMap(deps []Dependency) map[string]string {
	m := make(map[string]string, len(deps))
	for _, d := range deps {
		m[d.Name] = d.Version
	}
	return m
}

// --- npm ---

func TestParseNpmManifest(t *testing.T) {
	path := writeFixture(t, t.TempDir(), "package.json", `{
  "name": "demo",
  "dependencies": {"left-pad": "^1.3.0", "@scope/pkg": "2.0.0"},
  "devDependencies": {"jest": "~29.0.0"},
  "peerDependencies": {"react": ">=18"},
  "optionalDependencies": {"fsevents": "2.3.2"}
}`)
	deps, err := ParseNpmManifest(path)
	if err != nil {
		t.Fatal(err)
	}
	got := depMap(deps)
	want := map[string]string{
		"left-pad":   "^1.3.0",
		"@scope/pkg": "2.0.0",
		"jest":       "~29.0.0",
		"react":      ">=18",
		"fsevents":   "2.3.2",
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("deps = %v, want %v", got, want)
	}
}

func TestParseNpmLock(t *testing.T) {
	path := writeFixture(t, t.TempDir(), "package-lock.json", `{
  "dependencies": {
    "outer": {"version": "1.0.0", "dependencies": {"inner": {"version": "0.5.0"}}}
  },
  "packages": {
    "": {"version": "1.0.0"},
    "node_modules/flat-pkg": {"version": "3.0.0"},
    "node_modules/@scope/deep": {"version": "4.0.0"},
    "node_modules/parent/node_modules/nested": {"version": "5.0.0"}
  }
}`)
	deps, err := ParseNpmLock(path)
	if err != nil {
		t.Fatal(err)
	}
	got := depMap(deps)
	for name, version := range map[string]string{
		"outer":       "1.0.0",
		"inner":       "0.5.0",
		"flat-pkg":    "3.0.0",
		"@scope/deep": "4.0.0",
		"nested":      "5.0.0",
	} {
		if got[name] != version {
			t.Errorf("%s = %q, want %q", name, got[name], version)
		}
	}
	if _, ok := got[""]; ok {
		t.Error("root entry should be skipped")
	}
}

// --- pypi ---

func TestParseRequirements(t *testing.T) {
	path := writeFixture(t, t.TempDir(), "requirements.txt", `# comment
requests==2.31.0
flask>=2.0,<3.0
plain-package
pkg[extra]==1.2.3
-r other-requirements.txt
--index-url https://example.com
`)
	deps, err := ParseRequirements(path)
	if err != nil {
		t.Fatal(err)
	}
	got := depMap(deps)
	want := map[string]string{
		"requests":      "2.31.0",
		"flask":         "2.0",
		"plain-package": "",
		"pkg":           "1.2.3",
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("deps = %v, want %v", got, want)
	}
}

// --- maven ---

func TestParsePom(t *testing.T) {
	path := writeFixture(t, t.TempDir(), "pom.xml", `<?xml version="1.0"?>
<project xmlns="http://maven.apache.org/POM/4.0.0">
  <dependencies>
    <dependency>
      <groupId>org.apache.commons</groupId>
      <artifactId>commons-text</artifactId>
      <version>1.10.0</version>
    </dependency>
    <dependency>
      <groupId>com.example</groupId>
      <artifactId>no-version</artifactId>
    </dependency>
  </dependencies>
</project>`)
	deps, err := ParsePom(path)
	if err != nil {
		t.Fatal(err)
	}
	got := depMap(deps)
	if got["org.apache.commons:commons-text"] != "1.10.0" {
		t.Errorf("deps = %v", got)
	}
	if v, ok := got["com.example:no-version"]; !ok || v != "" {
		t.Errorf("versionless dependency should still appear, got %v", got)
	}
}

// --- rubygems ---

func TestParseGemfile(t *testing.T) {
	path := writeFixture(t, t.TempDir(), "Gemfile", `source 'https://rubygems.org'
gem 'rails', '7.0.4'
gem "puma"
gem 'sidekiq', '~> 7.0'
`)
	deps, err := ParseGemfile(path)
	if err != nil {
		t.Fatal(err)
	}
	got := depMap(deps)
	want := map[string]string{"rails": "7.0.4", "puma": "", "sidekiq": "~> 7.0"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("deps = %v, want %v", got, want)
	}
}

// --- go ---

func TestParseGoMod(t *testing.T) {
	path := writeFixture(t, t.TempDir(), "go.mod", `module example.com/demo

go 1.22

require single.example/dep v1.0.0

require (
	github.com/google/uuid v1.6.0
	golang.org/x/time v0.15.0 // indirect
)
`)
	deps, err := ParseGoMod(path)
	if err != nil {
		t.Fatal(err)
	}
	got := depMap(deps)
	want := map[string]string{
		"single.example/dep":     "v1.0.0",
		"github.com/google/uuid": "v1.6.0",
		"golang.org/x/time":      "v0.15.0",
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("deps = %v, want %v", got, want)
	}
}

// --- cargo ---

func TestParseCargoToml(t *testing.T) {
	path := writeFixture(t, t.TempDir(), "Cargo.toml", `[package]
name = "demo"
version = "0.1.0"

[dependencies]
serde = "1.0"
tokio = { version = "1.35", features = ["full"] }
# a comment
local-path = { path = "../local" }

[dev-dependencies]
criterion = "0.5"

[profile.release]
lto = true
`)
	deps, err := ParseCargoToml(path)
	if err != nil {
		t.Fatal(err)
	}
	got := depMap(deps)
	if got["serde"] != "1.0" || got["tokio"] != "1.35" || got["criterion"] != "0.5" {
		t.Errorf("deps = %v", got)
	}
	if v := got["local-path"]; v != "" {
		t.Errorf("path dependency version = %q, want empty", v)
	}
	if _, ok := got["name"]; ok {
		t.Error("[package] keys must not leak into dependencies")
	}
}

// --- detection and walking ---

func TestDetectEcosystems(t *testing.T) {
	dir := t.TempDir()
	writeFixture(t, dir, "package.json", `{}`)
	writeFixture(t, dir, "sub/requirements.txt", "requests==1.0\n")
	writeFixture(t, dir, "node_modules/dep/package.json", `{}`)
	writeFixture(t, dir, "vendor/Gemfile", "gem 'hidden'\n")

	ecos, err := DetectEcosystems(dir)
	if err != nil {
		t.Fatal(err)
	}
	want := []string{"npm", "pypi"}
	if !reflect.DeepEqual(ecos, want) {
		t.Errorf("ecosystems = %v, want %v (skipped dirs must not leak in)", ecos, want)
	}
}

func TestFindManifests(t *testing.T) {
	dir := t.TempDir()
	writeFixture(t, dir, "package.json", `{}`)
	writeFixture(t, dir, "go.mod", "module x\n")
	writeFixture(t, dir, "yarn.lock", "")

	all, err := FindManifests(dir, "")
	if err != nil {
		t.Fatal(err)
	}
	var names []string
	for _, p := range all {
		names = append(names, filepath.Base(p))
	}
	sort.Strings(names)
	if !reflect.DeepEqual(names, []string{"go.mod", "package.json"}) {
		t.Errorf("manifests = %v; yarn.lock detects an ecosystem but is not parseable", names)
	}

	npmOnly, err := FindManifests(dir, "npm")
	if err != nil {
		t.Fatal(err)
	}
	if len(npmOnly) != 1 || filepath.Base(npmOnly[0]) != "package.json" {
		t.Errorf("npm manifests = %v", npmOnly)
	}
}

func TestParseManifestDispatch(t *testing.T) {
	dir := t.TempDir()
	path := writeFixture(t, dir, "package.json", `{"dependencies": {"left-pad": "1.3.0"}}`)
	deps, err := ParseManifest(path)
	if err != nil {
		t.Fatal(err)
	}
	if len(deps) != 1 || deps[0].Ecosystem != "npm" || deps[0].File != path {
		t.Errorf("deps = %+v", deps)
	}
	if _, err := ParseManifest(filepath.Join(dir, "unknown.cfg")); err == nil {
		t.Error("unknown manifest should error")
	}
}

// --- list input ---

func TestParseListFileText(t *testing.T) {
	path := writeFixture(t, t.TempDir(), "packages.txt", `# header
left-pad@1.3.0
requests==2.31.0
plain-name
@scope/pkg@2.0.0
`)
	deps, err := ParseListFile(path)
	if err != nil {
		t.Fatal(err)
	}
	got := depMap(deps)
	want := map[string]string{
		"left-pad":   "1.3.0",
		"requests":   "2.31.0",
		"plain-name": "",
		"@scope/pkg": "2.0.0",
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("deps = %v, want %v", got, want)
	}
}

func TestParseListFileEcosystemPrefix(t *testing.T) {
	path := writeFixture(t, t.TempDir(), "packages.txt", `npm:left-pad@1.3.0
pypi:requests==2.31.0
org.apache.commons:commons-text@1.10.0
plain-name@1.0.0
`)
	deps, err := ParseListFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if len(deps) != 4 {
		t.Fatalf("Expected 4 deps, got %v", deps)
	}
	byName := make(map[string]Dependency)
	for _, d := range deps {
		byName[d.Name] = d
	}
	if d := byName["left-pad"]; d.Ecosystem != "npm" || d.Version != "1.3.0" {
		t.Errorf("left-pad = %+v", d)
	}
	if d := byName["requests"]; d.Ecosystem != "pypi" || d.Version != "2.31.0" {
		t.Errorf("requests = %+v", d)
	}
	// A maven coordinate is not an ecosystem prefix; the groupId stays
	// part of the name.
	if d, ok := byName["org.apache.commons:commons-text"]; !ok || d.Ecosystem != "" || d.Version != "1.10.0" {
		t.Errorf("maven coordinate = %+v", d)
	}
	if d := byName["plain-name"]; d.Ecosystem != "" {
		t.Errorf("plain-name = %+v", d)
	}
}

func TestParseListFileJSON(t *testing.T) {
	dir := t.TempDir()

	bare := writeFixture(t, dir, "bare.json", `["pkg-a@1.0.0", {"name": "pkg-b", "version": "2.0.0"}]`)
	deps, err := ParseListFile(bare)
	if err != nil {
		t.Fatal(err)
	}
	got := depMap(deps)
	if got["pkg-a"] != "1.0.0" || got["pkg-b"] != "2.0.0" {
		t.Errorf("deps = %v", got)
	}

	wrapped := writeFixture(t, dir, "wrapped.json", `{"packages": [{"name": "pkg-c", "version": "3.0.0"}]}`)
	deps, err = ParseListFile(wrapped)
	if err != nil {
		t.Fatal(err)
	}
	if depMap(deps)["pkg-c"] != "3.0.0" {
		t.Errorf("deps = %v", depMap(deps))
	}
}

func TestParseListFileYAML(t *testing.T) {
	path := writeFixture(t, t.TempDir(), "packages.yaml", `packages:
  - name: pkg-a
    version: "1.0.0"
  - pkg-b@2.0.0
`)
	deps, err := ParseListFile(path)
	if err != nil {
		t.Fatal(err)
	}
	got := depMap(deps)
	if got["pkg-a"] != "1.0.0" || got["pkg-b"] != "2.0.0" {
		t.Errorf("deps = %v", got)
	}
}

func TestParseListFileCSV(t *testing.T) {
	path := writeFixture(t, t.TempDir(), "packages.csv", "name,version\nleft-pad,1.3.0\nbare-name\n")
	deps, err := ParseListFile(path)
	if err != nil {
		t.Fatal(err)
	}
	got := depMap(deps)
	if got["left-pad"] != "1.3.0" {
		t.Errorf("deps = %v", got)
	}
	if _, ok := got["name"]; ok {
		t.Error("header row should be skipped")
	}
	if v, ok := got["bare-name"]; !ok || v != "" {
		t.Errorf("single-column row mishandled: %v", got)
	}
}

func TestSplitNameVersion(t *testing.T) {
	tests := []struct {
		in, name, version string
	}{
		{"pkg@1.0.0", "pkg", "1.0.0"},
		{"pkg==1.0.0", "pkg", "1.0.0"},
		{"pkg", "pkg", ""},
		{"@scope/pkg@2.0.0", "@scope/pkg", "2.0.0"},
		{"@scope/pkg", "@scope/pkg", ""},
	}
	for _, tt := range tests {
		name, version := splitNameVersion(tt.in)
		if name != tt.name || version != tt.version {
			t.Errorf("splitNameVersion(%q) = (%q, %q), want (%q, %q)", tt.in, name, version, tt.name, tt.version)
		}
	}
}
