package internal

import (
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	IncidentSource      = "shai-hulud"
	incidentAdvisoryURL = "https://github.com/rapticore/OreNPMGuard"
	incidentListURL     = "https://raw.githubusercontent.com/rapticore/OreNPMGuard/main/affected_packages.yaml"
)

type incidentEntry struct {
	Name     string   `yaml:"name"`
	Versions []string `yaml:"versions"`
}

type incidentFile struct {
	AffectedPackages []incidentEntry `yaml:"affected_packages"`
}

// IncidentList is the supplementary npm worm-campaign package list. It
// lives alongside the index stores because the campaign moves faster
// than the feeds: the list updates within hours, the feeds within days.
// Construct one explicitly and hand it to the Matcher; there is no
// shared global copy.
type IncidentList struct {
	packages map[string]map[string]struct{}
	loadedAt time.Time
	origin   string
}

// Packages reports how many names the list carries.
func (l *IncidentList) Packages() int {
	return len(l.packages)
}

// Origin reports where the list came from: "remote", "local", or
// "builtin".
func (l *IncidentList) Origin() string {
	return l.origin
}

// Check matches one npm dependency against the list. The version rules
// mirror the index matcher: one leading operator char stripped, exact
// string equality, empty version matches any affected version.
func (l *IncidentList) Check(name, version string) []Finding {
	norm := strings.ToLower(strings.TrimSpace(name))
	affected, ok := l.packages[norm]
	if !ok || len(affected) == 0 {
		return nil
	}
	version = CleanVersion(version)
	matched := ""
	if version != "" {
		if _, hit := affected[version]; !hit {
			return nil
		}
		matched = version
	} else {
		for v := range affected {
			if matched == "" || v < matched {
				matched = v
			}
		}
	}
	detail, _ := json.Marshal(map[string]string{
		"severity":    SeverityCritical,
		"url":         incidentAdvisoryURL,
		"description": "compromised in the Shai-Hulud npm worm campaign",
	})
	return []Finding{{
		Name:              name,
		Ecosystem:         "npm",
		QueryVersion:      version,
		MatchedVersion:    matched,
		Severity:          SeverityCritical,
		Sources:           []string{IncidentSource},
		DetectedBehaviors: []string{"supply_chain_attack", "malicious_code"},
		Description:       fmt.Sprintf("Shai-Hulud compromised package: %s", name),
		SourceDetails:     map[string]json.RawMessage{IncidentSource: detail},
	}}
}

// LoadIncidentList builds the list with a three-step fallback: the
// published YAML on GitHub, then a local copy, then the builtin table.
// Every step failing still yields a usable list.
func LoadIncidentList(client *http.Client, localPath string, logger *log.Logger) *IncidentList {
	if client != nil {
		if l, err := fetchIncidentList(client); err == nil {
			logger.Printf("incident list: %d packages from remote", l.Packages())
			return l
		} else {
			logger.Printf("incident list remote fetch failed, falling back: %v", err)
		}
	}
	if localPath != "" {
		if l, err := readIncidentList(localPath); err == nil {
			logger.Printf("incident list: %d packages from %s", l.Packages(), localPath)
			return l
		} else if !os.IsNotExist(err) {
			logger.Printf("incident list local read failed, falling back: %v", err)
		}
	}
	l := builtinIncidentList()
	logger.Printf("incident list: %d packages from builtin table", l.Packages())
	return l
}

func fetchIncidentList(client *http.Client) (*IncidentList, error) {
	req, err := http.NewRequest(http.MethodGet, incidentListURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", "supplyco-scanner/1.0")
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetching incident list: status %d", resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return nil, err
	}
	return parseIncidentList(body, "remote")
}

func readIncidentList(path string) (*IncidentList, error) {
	body, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return parseIncidentList(body, "local")
}

func parseIncidentList(body []byte, origin string) (*IncidentList, error) {
	var f incidentFile
	if err := yaml.Unmarshal(body, &f); err != nil {
		return nil, fmt.Errorf("parsing incident list: %w", err)
	}
	if len(f.AffectedPackages) == 0 {
		return nil, fmt.Errorf("incident list has no affected_packages")
	}
	return newIncidentList(f.AffectedPackages, origin), nil
}

func newIncidentList(entries []incidentEntry, origin string) *IncidentList {
	l := &IncidentList{
		packages: make(map[string]map[string]struct{}, len(entries)),
		loadedAt: time.Now(),
		origin:   origin,
	}
	for _, e := range entries {
		norm := strings.ToLower(strings.TrimSpace(e.Name))
		if norm == "" {
			continue
		}
		set, ok := l.packages[norm]
		if !ok {
			set = make(map[string]struct{}, len(e.Versions))
			l.packages[norm] = set
		}
		for _, v := range e.Versions {
			set[v] = struct{}{}
		}
	}
	return l
}

// IncidentListFromEntries builds a list directly from name/version
// pairs. Tests and the incident sync command use this.
func IncidentListFromEntries(entries map[string][]string) *IncidentList {
	flat := make([]incidentEntry, 0, len(entries))
	for name, versions := range entries {
		flat = append(flat, incidentEntry{Name: name, Versions: versions})
	}
	return newIncidentList(flat, "manual")
}

// Entries flattens the list back into name/version pairs with the
// versions sorted.
func (l *IncidentList) Entries() map[string][]string {
	out := make(map[string][]string, len(l.packages))
	for name, set := range l.packages {
		versions := make([]string, 0, len(set))
		for v := range set {
			versions = append(versions, v)
		}
		sort.Strings(versions)
		out[name] = versions
	}
	return out
}

// Merge unions other's packages and versions into l.
func (l *IncidentList) Merge(other *IncidentList) {
	if other == nil {
		return
	}
	for name, set := range other.packages {
		dst, ok := l.packages[name]
		if !ok {
			dst = make(map[string]struct{}, len(set))
			l.packages[name] = dst
		}
		for v := range set {
			dst[v] = struct{}{}
		}
	}
}

// WriteFile saves the list as affected_packages YAML sorted by name.
// The write lands in a temp file next to the target first, so a reader
// of the local fallback never sees a partial list.
func (l *IncidentList) WriteFile(path string) error {
	names := make([]string, 0, len(l.packages))
	for name := range l.packages {
		names = append(names, name)
	}
	sort.Strings(names)
	entries := l.Entries()
	var f incidentFile
	for _, name := range names {
		f.AffectedPackages = append(f.AffectedPackages, incidentEntry{Name: name, Versions: entries[name]})
	}
	data, err := yaml.Marshal(&f)
	if err != nil {
		return fmt.Errorf("encoding incident list: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".incident-*.yaml")
	if err != nil {
		return fmt.Errorf("writing incident list: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("writing incident list: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("writing incident list: %w", err)
	}
	return os.Rename(tmp.Name(), path)
}

// builtinIncidentPackages is the frozen snapshot shipped with the
// binary so an air-gapped scan still catches the well-known wave of
// compromised releases.
var builtinIncidentPackages = map[string][]string{
	"@ctrl/tinycolor":       {"4.1.1", "4.1.2"},
	"@ctrl/deluge":          {"7.2.1", "7.2.2"},
	"@ctrl/golang-template": {"1.4.2", "1.4.3"},
	"@ctrl/magnet-link":     {"4.0.3", "4.0.4"},
	"@ctrl/ngx-codemirror":  {"7.0.1", "7.0.2"},
	"angulartics2":          {"14.1.1", "14.1.2"},
	"ngx-bootstrap":         {"18.1.4", "19.0.3", "20.0.4", "20.0.5"},
	"ngx-color":             {"10.0.1", "10.0.2"},
	"ngx-toastr":            {"19.0.1", "19.0.2"},
	"rxnt-authentication":   {"0.0.5", "0.0.6"},
	"ts-gaussian":           {"3.0.5", "3.0.6"},
	"koa2-swagger-ui":       {"5.11.1", "5.11.2"},
}

func builtinIncidentList() *IncidentList {
	l := IncidentListFromEntries(builtinIncidentPackages)
	l.origin = "builtin"
	return l
}
