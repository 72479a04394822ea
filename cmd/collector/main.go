package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rexlx/supplyco/feeds"
	"github.com/rexlx/supplyco/internal"
)

var (
	skipFetch = flag.Bool("skip-fetch", false, "Rebuild indexes from cached feed documents")
	cachePath = flag.String("cache", "", "Feed cache location, overrides the config file")
	workDir   = flag.String("work", "", "Working directory for feed checkouts")
	publish   = flag.Bool("publish", false, "Publish merged records to Postgres after the build")
	rps       = flag.Float64("rps", 2, "Outbound requests per second")
	timeout   = flag.Int("timeout", 0, "Run timeout in seconds, 0 for none")
)

func main() {
	flag.Parse()
	logger := log.New(os.Stdout, "", log.LstdFlags)

	c := internal.DefaultConfiguration()
	if *internal.ConfigPath != "" {
		if err := c.PopulateFromJSONFile(*internal.ConfigPath); err != nil {
			fmt.Println("Error reading configuration:", err)
			os.Exit(1)
		}
	}
	if *cachePath != "" {
		c.CachePath = *cachePath
	}
	if *workDir != "" {
		c.WorkDir = *workDir
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM, os.Interrupt)
	defer stop()
	if *timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(*timeout)*time.Second)
		defer cancel()
	}

	cache, err := feeds.OpenCache(c.CachePath, logger)
	if err != nil {
		logger.Fatalf("opening feed cache: %v", err)
	}
	defer cache.Close()

	var publisher *internal.Publisher
	if *publish {
		if c.PostgresDSN == "" {
			logger.Fatal("publish requested but no postgres DSN configured")
		}
		publisher, err = internal.NewPublisher(c.PostgresDSN, logger)
		if err != nil {
			logger.Fatalf("connecting to postgres: %v", err)
		}
		defer publisher.Close()
	}

	orch := &feeds.Orchestrator{
		Collectors: buildCollectors(c, logger),
		Cache:      cache,
		IndexDir:   *internal.IndexDir,
		Publisher:  publisher,
		Logger:     logger,
	}

	summary, err := orch.Run(ctx, *skipFetch)
	if err != nil {
		logger.Fatalf("collection run failed: %v", err)
	}

	for source, count := range summary.Collected {
		logger.Printf("%s: %d records", source, count)
	}
	for _, source := range summary.Failed {
		logger.Printf("%s: failed, no cached fallback", source)
	}
	for eco, buildErr := range summary.BuildErrs {
		logger.Printf("%s: index build failed: %v", eco, buildErr)
	}
	logger.Printf("built %d indexes in %s", len(summary.Built), summary.Elapsed)
	if len(summary.BuildErrs) > 0 || len(summary.Failed) > 0 {
		os.Exit(2)
	}
}

// buildCollectors returns the enabled collectors in a fixed order so
// runs are comparable between invocations.
func buildCollectors(c *internal.Configuration, logger *log.Logger) []feeds.Collector {
	var out []feeds.Collector
	for _, kind := range []string{"openssf", "osv", "phylum", "socketdev"} {
		cfg := c.Feed(kind)
		if cfg == nil || !cfg.Enabled {
			continue
		}
		switch kind {
		case "openssf":
			out = append(out, feeds.NewOpenSSFCollector(c.WorkDir, logger))
		case "osv":
			collector := feeds.NewOSVCollector(logger)
			collector.Endpoint = feeds.NewEndpoint(feeds.NoAuth{}, false, *rps, logger)
			out = append(out, collector)
		case "phylum":
			collector := feeds.NewPhylumCollector(logger)
			collector.Endpoint = feeds.NewEndpoint(feeds.NoAuth{}, false, *rps, logger)
			if cfg.URL != "" {
				collector.FeedURL = cfg.URL
			}
			out = append(out, collector)
		case "socketdev":
			out = append(out, feeds.NewSocketDevCollector(cfg.Key, logger))
		}
	}
	return out
}
