package feeds

import (
	"context"
	"sort"

	"github.com/rexlx/supplyco/internal"
)

// Document is the envelope every collector emits: the raw evidence for
// one run against one source, cached as-is before any merging.
type Document struct {
	Source        string                     `json:"source"`
	CollectedAt   string                     `json:"collected_at"`
	TotalPackages int                        `json:"total_packages"`
	Ecosystems    []string                   `json:"ecosystems"`
	Packages      []internal.CanonicalRecord `json:"packages"`
	Note          string                     `json:"note,omitempty"`
	Error         string                     `json:"error,omitempty"`
}

// Collector is one upstream feed. Collect returns a Document even on
// partial failure; only a total inability to produce anything returns
// an error.
type Collector interface {
	Name() string
	Collect(ctx context.Context) (*Document, error)
}

// finalize fills the envelope's derived fields from its package list.
func finalize(doc *Document) *Document {
	doc.TotalPackages = len(doc.Packages)
	seen := make(map[string]struct{})
	doc.Ecosystems = doc.Ecosystems[:0]
	for _, p := range doc.Packages {
		if _, ok := seen[p.Ecosystem]; ok {
			continue
		}
		seen[p.Ecosystem] = struct{}{}
		doc.Ecosystems = append(doc.Ecosystems, p.Ecosystem)
	}
	sort.Strings(doc.Ecosystems)
	return doc
}
