package feeds

import (
	"context"
	"encoding/json"
	"fmt"
	"io/fs"
	"log"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/rexlx/supplyco/internal"
)

const (
	openssfRepoURL       = "https://github.com/ossf/malicious-packages.git"
	openssfMaliciousPath = "osv/malicious"
)

// OpenSSFCollector shallow-clones ossf/malicious-packages and walks
// its OSV JSON tree. The repo is the authoritative cross-registry
// malware list, so every record it yields is severity critical.
type OpenSSFCollector struct {
	WorkDir string
	Logger  *log.Logger
}

func NewOpenSSFCollector(workDir string, logger *log.Logger) *OpenSSFCollector {
	return &OpenSSFCollector{WorkDir: workDir, Logger: logger}
}

func (c *OpenSSFCollector) Name() string { return "openssf" }

func (c *OpenSSFCollector) repoDir() string {
	return filepath.Join(c.WorkDir, "malicious-packages")
}

func (c *OpenSSFCollector) Collect(ctx context.Context) (*Document, error) {
	doc := &Document{Source: c.Name(), CollectedAt: internal.Timestamp(time.Now())}
	if err := c.cloneOrUpdate(ctx); err != nil {
		doc.Error = err.Error()
		return finalize(doc), fmt.Errorf("openssf: %w", err)
	}

	root := filepath.Join(c.repoDir(), filepath.FromSlash(openssfMaliciousPath))
	entries, err := os.ReadDir(root)
	if err != nil {
		doc.Error = err.Error()
		return finalize(doc), fmt.Errorf("openssf: reading %s: %w", root, err)
	}
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		eco, ok := internal.NormalizeEcosystem(e.Name())
		if !ok {
			continue
		}
		records := c.collectEcosystem(filepath.Join(root, e.Name()))
		doc.Packages = append(doc.Packages, records...)
		c.Logger.Printf("openssf %s: %d entries", eco, len(records))
	}
	return finalize(doc), nil
}

func (c *OpenSSFCollector) cloneOrUpdate(ctx context.Context) error {
	dir := c.repoDir()
	if _, err := os.Stat(filepath.Join(dir, ".git")); err == nil {
		cmd := exec.CommandContext(ctx, "git", "pull", "--depth", "1")
		cmd.Dir = dir
		if out, err := cmd.CombinedOutput(); err != nil {
			c.Logger.Printf("openssf pull failed, recloning: %v (%s)", err, strings.TrimSpace(string(out)))
			if err := os.RemoveAll(dir); err != nil {
				return fmt.Errorf("removing stale clone: %w", err)
			}
		} else {
			return nil
		}
	}
	if err := os.MkdirAll(c.WorkDir, 0o755); err != nil {
		return fmt.Errorf("creating work dir: %w", err)
	}
	cmd := exec.CommandContext(ctx, "git", "clone", "--depth", "1", openssfRepoURL, dir)
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("cloning %s: %v (%s)", openssfRepoURL, err, strings.TrimSpace(string(out)))
	}
	return nil
}

func (c *OpenSSFCollector) collectEcosystem(dir string) []internal.CanonicalRecord {
	var records []internal.CanonicalRecord
	filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() || !strings.HasSuffix(path, ".json") {
			return nil
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return nil
		}
		var entry osvEntry
		if err := json.Unmarshal(data, &entry); err != nil {
			return nil
		}
		if rec, ok := recordFromOSV(&entry, c.Name()); ok {
			// Everything in this repo is confirmed malware regardless
			// of its id prefix.
			rec.Severity = internal.SeverityCritical
			rec.DetectedBehaviors = []string{"malicious_code"}
			records = append(records, rec)
		}
		return nil
	})
	return records
}
