// Package ioc scans working trees for indicators of compromise left by
// the Shai-Hulud npm worm, covering both the September 2025 campaign
// and the 2.0 wave from November 2025.
package ioc

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"io/fs"
	"log"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"golang.org/x/net/publicsuffix"

	"github.com/rexlx/supplyco/internal"
)

const webhookURL = "https://webhook.site/bb8ca5f6-4175-45d2-b042-fc9ebb8170b7"

// Known SHA-256 hashes of the original bundle.js payload.
var bundleHashes = map[string]struct{}{
	"46faab8ab153fae6e80e7cca38eab363075bb524edd79e42269217a083628f09": {},
	"81d2a004a1bca6ef87a1caf7d0e0b355ad1764238e40ff6d1b1cb77ad4f595c3": {},
	"dc67467a39b70d1cd4c1f7f7a459b35058163592f4a9e8fb4dffcbba98ef210c": {},
}

// payloadFiles are dropped by the worm; bundle.js is hash-checked, the
// 2.0 loaders are flagged on presence alone.
var payloadFiles = []string{"bundle.js", "setup_bun.js", "bun_environment.js"}

// dataFiles hold harvested credentials staged for exfiltration.
var dataFiles = []string{"cloud.json", "contents.json", "environment.json", "truffleSecrets.json", "actionsSecrets.json"}

// exfilDomains are flagged whenever a URL in scanned content resolves
// to one of them as its registrable base domain.
var exfilDomains = map[string]struct{}{
	"webhook.site": {},
}

var skipDirs = map[string]struct{}{
	"node_modules": {}, ".git": {}, "__pycache__": {}, "venv": {}, "env": {},
	".venv": {}, ".next": {}, "build": {}, "dist": {}, ".build": {},
	"target": {}, "out": {}, ".cache": {}, ".idea": {}, ".vscode": {},
	".vs": {}, "coverage": {}, ".nyc_output": {}, ".pytest_cache": {},
	"bin": {}, "obj": {}, ".gradle": {}, ".mvn": {}, "vendor": {},
	"bower_components": {},
}

// maxContentScan caps how much of a file the content checks will read.
const maxContentScan = 8 << 20

type Indicator struct {
	Type     string `json:"type"`
	Path     string `json:"path"`
	Severity string `json:"severity"`
	Pattern  string `json:"pattern,omitempty"`
	Hash     string `json:"hash,omitempty"`
	URL      string `json:"url,omitempty"`
	Variant  string `json:"variant,omitempty"`
}

type Detector struct {
	ID          string
	Expressions map[string]*regexp.Regexp
	Logger      *log.Logger
}

func NewDetector(logger *log.Logger) *Detector {
	return &Detector{
		ID:     "shai-hulud-detector",
		Logger: logger,
		Expressions: map[string]*regexp.Regexp{
			"postinstall":      regexp.MustCompile(`"postinstall":\s*"node\s+bundle\.js"`),
			"preinstall":       regexp.MustCompile(`"preinstall":\s*"node\s+(bundle|setup_bun|bun_environment)\.js"`),
			"discussion_yaml":  regexp.MustCompile(`\.github/workflows/discussion\.yaml`),
			"formatter_yml":    regexp.MustCompile(`\.github/workflows/formatter_\d+\.yml`),
			"worm_workflow":    regexp.MustCompile(`\.github/workflows/shai-hulud-workflow\.yml`),
			"self_hosted":      regexp.MustCompile(`runs-on:\s*self-hosted`),
			"runner_name":      regexp.MustCompile(`(?i)SHA1HULUD`),
			"runner_tracking":  regexp.MustCompile(`RUNNER_TRACKING_ID:\s*0`),
			"docker_privilege": regexp.MustCompile(`docker\s+run\s+--rm\s+--privileged\s+-v\s+/:/host`),
			"worm_remote":      regexp.MustCompile(`(?i)shai[-_ ]?hulud`),
			"migration_remote": regexp.MustCompile(`(?im)^\s*url\s*=\s*\S*[-_]migration(\.git)?\s*$`),
			"url":              regexp.MustCompile(`((https?|ftp)://[^\s/$.?#].[^\s"']*)`),
		},
	}
}

// Scan walks dir and returns every indicator it finds. Unreadable files
// are skipped; the scan itself only fails when the root is unwalkable.
func (d *Detector) Scan(dir string) ([]Indicator, error) {
	var found []Indicator
	err := filepath.WalkDir(dir, func(path string, entry fs.DirEntry, err error) error {
		if err != nil {
			if path == dir {
				return err
			}
			return nil
		}
		if entry.IsDir() {
			if _, skip := skipDirs[entry.Name()]; skip && path != dir {
				// .git trees are otherwise skipped, but the worm renames
				// repos and points remotes at exfil copies, so the config
				// still gets inspected.
				if entry.Name() == ".git" {
					found = append(found, d.checkGitConfig(path, dir)...)
				}
				return filepath.SkipDir
			}
			return nil
		}
		rel, relErr := filepath.Rel(dir, path)
		if relErr != nil {
			rel = path
		}
		rel = filepath.ToSlash(rel)
		found = append(found, d.checkFile(path, rel)...)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scanning %s: %w", dir, err)
	}
	return found, nil
}

func (d *Detector) checkFile(path, rel string) []Indicator {
	var found []Indicator
	name := filepath.Base(path)

	switch name {
	case "bundle.js":
		if hash, err := hashFile(path); err == nil {
			if _, known := bundleHashes[hash]; known {
				found = append(found, Indicator{
					Type:     "malicious_bundle_js",
					Path:     rel,
					Hash:     hash,
					Severity: internal.SeverityCritical,
					Variant:  "original",
				})
			}
		} else if d.Logger != nil {
			d.Logger.Printf("ioc: hashing %s: %v", path, err)
		}
	case "setup_bun.js", "bun_environment.js":
		found = append(found, Indicator{
			Type:     "malicious_payload_file",
			Path:     rel,
			Pattern:  name,
			Severity: internal.SeverityCritical,
			Variant:  "2.0",
		})
	}

	for _, data := range dataFiles {
		if name == data {
			found = append(found, Indicator{
				Type:     "credential_data_file",
				Path:     rel,
				Pattern:  name,
				Severity: internal.SeverityHigh,
				Variant:  "2.0",
			})
		}
	}

	if name == "package.json" {
		found = append(found, d.checkManifest(path, rel)...)
	}
	if strings.Contains(rel, ".github/workflows/") && (strings.HasSuffix(name, ".yml") || strings.HasSuffix(name, ".yaml")) {
		found = append(found, d.checkWorkflow(path, rel)...)
	}
	if isScriptFile(name) && name != "package.json" {
		found = append(found, d.checkContent(path, rel)...)
	}
	return found
}

func (d *Detector) checkManifest(path, rel string) []Indicator {
	content, ok := d.readContent(path)
	if !ok {
		return nil
	}
	var found []Indicator
	if d.Expressions["postinstall"].MatchString(content) {
		found = append(found, Indicator{
			Type:     "malicious_postinstall",
			Path:     rel,
			Pattern:  "node bundle.js",
			Severity: internal.SeverityCritical,
			Variant:  "original",
		})
	}
	if d.Expressions["preinstall"].MatchString(content) {
		found = append(found, Indicator{
			Type:     "malicious_preinstall",
			Path:     rel,
			Pattern:  "preinstall hook with worm payload",
			Severity: internal.SeverityCritical,
			Variant:  "2.0",
		})
	}
	found = append(found, d.checkURLs(content, rel)...)
	return found
}

func (d *Detector) checkWorkflow(path, rel string) []Indicator {
	content, ok := d.readContent(path)
	if !ok {
		return nil
	}
	var found []Indicator
	if d.Expressions["discussion_yaml"].MatchString(rel) && d.Expressions["self_hosted"].MatchString(content) {
		found = append(found, Indicator{
			Type:     "malicious_github_workflow",
			Path:     rel,
			Pattern:  "discussion.yaml with self-hosted runner",
			Severity: internal.SeverityCritical,
			Variant:  "2.0",
		})
	}
	if d.Expressions["formatter_yml"].MatchString(rel) {
		found = append(found, Indicator{
			Type:     "malicious_github_workflow",
			Path:     rel,
			Pattern:  "formatter workflow for secret exfiltration",
			Severity: internal.SeverityCritical,
			Variant:  "2.0",
		})
	}
	if d.Expressions["worm_workflow"].MatchString(rel) {
		found = append(found, Indicator{
			Type:     "malicious_github_workflow",
			Path:     rel,
			Pattern:  "shai-hulud-workflow.yml",
			Severity: internal.SeverityCritical,
			Variant:  "original",
		})
	}
	if d.Expressions["runner_name"].MatchString(content) {
		found = append(found, Indicator{
			Type:     "worm_runner_registration",
			Path:     rel,
			Pattern:  "SHA1HULUD runner name",
			Severity: internal.SeverityCritical,
			Variant:  "2.0",
		})
	}
	if d.Expressions["runner_tracking"].MatchString(content) {
		found = append(found, Indicator{
			Type:     "suspicious_runner_config",
			Path:     rel,
			Pattern:  "RUNNER_TRACKING_ID: 0",
			Severity: internal.SeverityHigh,
			Variant:  "2.0",
		})
	}
	return found
}

// checkGitConfig inspects a .git/config for remotes pointing at worm
// migration repos. The worm copies compromised repos under names ending
// in "-migration" and registers shai-hulud remotes.
func (d *Detector) checkGitConfig(gitDir, root string) []Indicator {
	cfgPath := filepath.Join(gitDir, "config")
	content, ok := d.readContent(cfgPath)
	if !ok {
		return nil
	}
	rel, relErr := filepath.Rel(root, cfgPath)
	if relErr != nil {
		rel = cfgPath
	}
	rel = filepath.ToSlash(rel)

	var found []Indicator
	if m := d.Expressions["worm_remote"].FindString(content); m != "" {
		found = append(found, Indicator{
			Type:     "worm_migration_repo",
			Path:     rel,
			Pattern:  m,
			Severity: internal.SeverityHigh,
			Variant:  "2.0",
		})
	} else if m := d.Expressions["migration_remote"].FindString(content); m != "" {
		found = append(found, Indicator{
			Type:     "worm_migration_repo",
			Path:     rel,
			Pattern:  strings.TrimSpace(m),
			Severity: internal.SeverityHigh,
			Variant:  "2.0",
		})
	}
	return found
}

func (d *Detector) checkContent(path, rel string) []Indicator {
	content, ok := d.readContent(path)
	if !ok {
		return nil
	}
	var found []Indicator
	found = append(found, d.checkURLs(content, rel)...)
	if d.Expressions["docker_privilege"].MatchString(content) {
		found = append(found, Indicator{
			Type:     "docker_privilege_escalation",
			Path:     rel,
			Pattern:  "privileged container with host mount",
			Severity: internal.SeverityCritical,
			Variant:  "2.0",
		})
	}
	return found
}

// checkURLs extracts URLs from content and flags any whose registrable
// base domain is a known exfiltration endpoint. The canonical worm
// webhook gets flagged even when the base-domain lookup fails.
func (d *Detector) checkURLs(content, rel string) []Indicator {
	var found []Indicator
	seen := make(map[string]struct{})
	for _, m := range d.Expressions["url"].FindAllString(content, -1) {
		clean := strings.ToLower(strings.TrimRight(m, `"',;)`))
		if _, dup := seen[clean]; dup {
			continue
		}
		seen[clean] = struct{}{}
		if clean == webhookURL {
			found = append(found, Indicator{
				Type:     "webhook_site_reference",
				Path:     rel,
				URL:      webhookURL,
				Severity: internal.SeverityHigh,
			})
			continue
		}
		host := urlHost(clean)
		if host == "" {
			continue
		}
		base, err := publicsuffix.EffectiveTLDPlusOne(host)
		if err != nil {
			continue
		}
		if _, bad := exfilDomains[base]; bad {
			found = append(found, Indicator{
				Type:     "exfiltration_endpoint",
				Path:     rel,
				URL:      clean,
				Severity: internal.SeverityHigh,
			})
		}
	}
	return found
}

func (d *Detector) readContent(path string) (string, bool) {
	f, err := os.Open(path)
	if err != nil {
		if d.Logger != nil {
			d.Logger.Printf("ioc: reading %s: %v", path, err)
		}
		return "", false
	}
	defer f.Close()
	data, err := io.ReadAll(io.LimitReader(f, maxContentScan))
	if err != nil {
		return "", false
	}
	return string(data), true
}

func urlHost(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return ""
	}
	return u.Hostname()
}

func isScriptFile(name string) bool {
	switch filepath.Ext(name) {
	case ".js", ".ts", ".json", ".sh", ".bash":
		return true
	}
	return false
}

func hashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
