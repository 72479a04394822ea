package feeds

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/rexlx/supplyco/internal"
)

const osvBaseURL = "https://osv-vulnerabilities.storage.googleapis.com"

// osvEcosystems maps canonical ecosystem names onto OSV's case-
// sensitive spelling for the bulk download path.
var osvEcosystems = map[string]string{
	"npm":      "npm",
	"pypi":     "PyPI",
	"go":       "Go",
	"rubygems": "RubyGems",
	"maven":    "Maven",
	"cargo":    "crates.io",
}

// OSVCollector pulls the per-ecosystem all.zip bulk archives from
// osv.dev and keeps only MAL-prefixed entries, which mark confirmed
// malware rather than ordinary vulnerabilities.
type OSVCollector struct {
	Endpoint *Endpoint
	Logger   *log.Logger
}

func NewOSVCollector(logger *log.Logger) *OSVCollector {
	return &OSVCollector{
		Endpoint: NewEndpoint(NoAuth{}, false, 2, logger),
		Logger:   logger,
	}
}

func (c *OSVCollector) Name() string { return "osv" }

func (c *OSVCollector) Collect(ctx context.Context) (*Document, error) {
	doc := &Document{Source: c.Name(), CollectedAt: internal.Timestamp(time.Now())}
	var failed []string
	for _, eco := range internal.Ecosystems {
		osvName := osvEcosystems[eco]
		records, err := c.collectEcosystem(ctx, osvName)
		if err != nil {
			c.Logger.Printf("osv %s failed: %v", eco, err)
			failed = append(failed, eco)
			continue
		}
		doc.Packages = append(doc.Packages, records...)
		c.Logger.Printf("osv %s: %d malicious entries", eco, len(records))
	}
	if len(failed) == len(internal.Ecosystems) {
		doc.Error = "all ecosystem downloads failed"
		return finalize(doc), fmt.Errorf("osv: every ecosystem download failed")
	}
	if len(failed) > 0 {
		doc.Note = fmt.Sprintf("partial collection, failed ecosystems: %s", strings.Join(failed, ", "))
	}
	return finalize(doc), nil
}

func (c *OSVCollector) collectEcosystem(ctx context.Context, osvName string) ([]internal.CanonicalRecord, error) {
	body, err := c.Endpoint.Fetch(ctx, fmt.Sprintf("%s/%s/all.zip", osvBaseURL, osvName))
	if err != nil {
		return nil, err
	}
	zr, err := zip.NewReader(bytes.NewReader(body), int64(len(body)))
	if err != nil {
		return nil, fmt.Errorf("reading %s archive: %w", osvName, err)
	}

	var records []internal.CanonicalRecord
	for _, f := range zr.File {
		if !strings.HasSuffix(f.Name, ".json") {
			continue
		}
		// The filename is the advisory id; skipping non-MAL entries
		// here avoids decompressing the bulk of the archive.
		if !strings.HasPrefix(baseName(f.Name), "MAL-") {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			continue
		}
		var entry osvEntry
		decodeErr := json.NewDecoder(rc).Decode(&entry)
		rc.Close()
		if decodeErr != nil || !strings.HasPrefix(entry.ID, "MAL-") {
			continue
		}
		if rec, ok := recordFromOSV(&entry, c.Name()); ok {
			records = append(records, rec)
		}
	}
	return records, nil
}

func baseName(p string) string {
	if i := strings.LastIndexByte(p, '/'); i >= 0 {
		return p[i+1:]
	}
	return p
}
