package feeds

import (
	"context"
	"log"
	"time"

	"github.com/rexlx/supplyco/internal"
)

// SocketDevCollector is gated on an API key. Socket.dev has no public
// bulk listing of malicious packages; without a key this collector
// contributes a valid empty document so the orchestrator's source
// accounting stays complete.
type SocketDevCollector struct {
	Endpoint *Endpoint
	APIKey   string
	Logger   *log.Logger
}

func NewSocketDevCollector(apiKey string, logger *log.Logger) *SocketDevCollector {
	return &SocketDevCollector{
		Endpoint: NewEndpoint(BearerAuth{Token: apiKey}, false, 1, logger),
		APIKey:   apiKey,
		Logger:   logger,
	}
}

func (c *SocketDevCollector) Name() string { return "socketdev" }

func (c *SocketDevCollector) Collect(ctx context.Context) (*Document, error) {
	doc := &Document{Source: c.Name(), CollectedAt: internal.Timestamp(time.Now())}
	if c.APIKey == "" {
		c.Logger.Println("socketdev: no API key configured, skipping")
		doc.Note = "API key not configured - skipped"
		return finalize(doc), nil
	}
	// There is no bulk alert export to call yet, and walking the
	// per-package score API is too slow to be useful. The authenticated
	// endpoint stays wired for when a bulk listing ships.
	doc.Note = "bulk collection not available from this source yet"
	return finalize(doc), nil
}
