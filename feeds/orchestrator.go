package feeds

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/rexlx/supplyco/internal"
)

// RunSummary is the per-run accounting handed back to the caller.
type RunSummary struct {
	Collected map[string]int
	Failed    []string
	Built     []string
	BuildErrs map[string]error
	Elapsed   time.Duration
}

// Orchestrator runs collectors in a fixed order, caches their raw
// documents, merges everything, and builds one store per ecosystem.
// Collector order matters: merge folds records in arrival order, so a
// stable collector sequence gives stable source precedence.
type Orchestrator struct {
	Collectors []Collector
	Cache      *Cache
	IndexDir   string
	Publisher  *internal.Publisher
	Logger     *log.Logger
}

// Run executes the whole pipeline. A failed collector degrades the run
// but never aborts it; only zero usable documents is a hard failure.
func (o *Orchestrator) Run(ctx context.Context, skipFetch bool) (*RunSummary, error) {
	start := time.Now()
	summary := &RunSummary{
		Collected: make(map[string]int),
		BuildErrs: make(map[string]error),
	}

	docs := o.gather(ctx, skipFetch, summary)
	if len(docs) == 0 {
		return summary, fmt.Errorf("no usable feed documents from any source")
	}

	var all []internal.CanonicalRecord
	for _, doc := range docs {
		for _, raw := range doc.Packages {
			rec, ok := internal.Normalize(raw)
			if !ok {
				continue
			}
			all = append(all, rec)
		}
	}
	merged := internal.MergeAll(all)

	o.buildAll(merged, summary)
	if len(summary.Built) == 0 {
		return summary, fmt.Errorf("every ecosystem build failed")
	}

	if o.Publisher != nil {
		if err := o.Publisher.Publish(ctx, merged); err != nil {
			o.Logger.Printf("postgres publish failed: %v", err)
		}
	}

	summary.Elapsed = time.Since(start)
	o.Logger.Printf("run complete: %d sources, %d ecosystems built, %s",
		len(docs), len(summary.Built), summary.Elapsed.Round(time.Millisecond))
	return summary, nil
}

// gather fetches fresh documents, or replays the cache when skipFetch
// is set. Fetch failures fall back to the last cached document for
// that source.
func (o *Orchestrator) gather(ctx context.Context, skipFetch bool, summary *RunSummary) []*Document {
	var docs []*Document
	for _, c := range o.Collectors {
		var doc *Document
		if skipFetch {
			cached, err := o.Cache.Latest(c.Name())
			if err != nil || cached == nil {
				o.Logger.Printf("%s: no cached document", c.Name())
				summary.Failed = append(summary.Failed, c.Name())
				continue
			}
			doc = cached
		} else {
			fresh, err := c.Collect(ctx)
			if err != nil {
				o.Logger.Printf("%s collection failed: %v", c.Name(), err)
				if fresh != nil {
					// Cache the failure envelope too; the error field
					// is part of the run's audit trail.
					o.Cache.Put(fresh)
				}
				if cached, cacheErr := o.Cache.Latest(c.Name()); cacheErr == nil && cached != nil && cached.Error == "" {
					o.Logger.Printf("%s: falling back to cached document from %s", c.Name(), cached.CollectedAt)
					doc = cached
				} else {
					summary.Failed = append(summary.Failed, c.Name())
					continue
				}
			} else {
				if err := o.Cache.Put(fresh); err != nil {
					o.Logger.Printf("caching %s document: %v", c.Name(), err)
				}
				doc = fresh
			}
		}
		summary.Collected[c.Name()] = doc.TotalPackages
		docs = append(docs, doc)
	}
	return docs
}

// buildAll builds the six ecosystem stores in parallel. Builds share
// no state, and each ecosystem's store is written by exactly one
// goroutine.
func (o *Orchestrator) buildAll(merged map[string][]internal.CanonicalRecord, summary *RunSummary) {
	var wg sync.WaitGroup
	var mu sync.Mutex
	for _, eco := range internal.Ecosystems {
		wg.Add(1)
		go func(eco string) {
			defer wg.Done()
			err := internal.BuildStore(o.IndexDir, eco, merged[eco], o.Logger)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				o.Logger.Printf("building %s store: %v", eco, err)
				summary.BuildErrs[eco] = err
				return
			}
			summary.Built = append(summary.Built, eco)
		}(eco)
	}
	wg.Wait()
}
