package feeds

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"regexp"
	"time"

	"github.com/rexlx/supplyco/internal"
)

const phylumFeedURL = "https://blog.phylum.io/rss/"

var (
	phylumNpmPattern  = regexp.MustCompile("(?i)`(@?[a-z0-9-_]+(?:/[a-z0-9-_]+)?)`")
	phylumPyPIPattern = regexp.MustCompile("(?i)PyPI.*?`([a-z0-9-_]+)`")
)

// PhylumCollector scrapes package names out of the research-blog feed.
// Regex extraction against prose is inherently noisy, so every record
// carries a false-positive note and ranks high, not critical.
type PhylumCollector struct {
	Endpoint *Endpoint
	FeedURL  string
	Logger   *log.Logger
}

func NewPhylumCollector(logger *log.Logger) *PhylumCollector {
	return &PhylumCollector{
		Endpoint: NewEndpoint(NoAuth{}, false, 1, logger),
		FeedURL:  phylumFeedURL,
		Logger:   logger,
	}
}

func (c *PhylumCollector) Name() string { return "phylum" }

func (c *PhylumCollector) Collect(ctx context.Context) (*Document, error) {
	doc := &Document{Source: c.Name(), CollectedAt: internal.Timestamp(time.Now())}
	body, err := c.Endpoint.Fetch(ctx, c.FeedURL)
	if err != nil {
		doc.Error = err.Error()
		return finalize(doc), fmt.Errorf("phylum: %w", err)
	}
	doc.Packages = extractPhylumPackages(string(body), c.Name())
	doc.Note = "Extracted from blog feed with regex parsing. May include false positives."
	c.Logger.Printf("phylum: %d package mentions", len(doc.Packages))
	return finalize(doc), nil
}

// extractPhylumPackages pulls backticked package mentions out of feed
// text and dedups them on ecosystem plus name. Names of one or two
// characters are discarded as noise.
func extractPhylumPackages(text, source string) []internal.CanonicalRecord {
	var records []internal.CanonicalRecord
	seen := make(map[string]struct{})

	add := func(name, eco string) {
		if len(name) <= 2 {
			return
		}
		key := eco + ":" + name
		if _, ok := seen[key]; ok {
			return
		}
		seen[key] = struct{}{}
		detail, _ := json.Marshal(map[string]string{
			"severity": internal.SeverityHigh,
			"url":      phylumFeedURL,
		})
		records = append(records, internal.CanonicalRecord{
			Name:              name,
			Ecosystem:         eco,
			Severity:          internal.SeverityHigh,
			Sources:           []string{source},
			DetectedBehaviors: []string{"reported_by_phylum"},
			Description:       "Malicious package reported in Phylum blog",
			SourceDetails:     map[string]json.RawMessage{source: detail},
		})
	}

	for _, m := range phylumNpmPattern.FindAllStringSubmatch(text, -1) {
		add(m[1], "npm")
	}
	for _, m := range phylumPyPIPattern.FindAllStringSubmatch(text, -1) {
		add(m[1], "pypi")
	}
	return records
}
