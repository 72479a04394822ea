package main

import (
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/rexlx/supplyco/internal"
)

var (
	filePath = flag.String("file", "affected_packages.yaml", "Incident list file to update")
	addFlag  = flag.String("add", "", "Extra name@version entries, comma separated")
	offline  = flag.Bool("offline", false, "Skip the published list, only merge -add into the file")
)

func main() {
	flag.Parse()
	logger := log.New(os.Stderr, "", log.LstdFlags)

	var client *http.Client
	if !*offline {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	list := internal.LoadIncidentList(client, *filePath, logger)

	// The loader returns a single source, so entries that exist only in
	// the file on disk need merging back after a remote refresh.
	if list.Origin() != "local" {
		if existing := internal.LoadIncidentList(nil, *filePath, logger); existing.Origin() == "local" {
			list.Merge(existing)
		}
	}

	if *addFlag != "" {
		extra, err := parseAdds(*addFlag)
		if err != nil {
			logger.Fatal(err)
		}
		list.Merge(internal.IncidentListFromEntries(extra))
	}

	if err := list.WriteFile(*filePath); err != nil {
		logger.Fatal(err)
	}
	logger.Printf("wrote %d packages to %s", list.Packages(), *filePath)
}

// parseAdds splits "name@version,name@version". The last @ separates
// the version so scoped npm names survive intact.
func parseAdds(raw string) (map[string][]string, error) {
	out := make(map[string][]string)
	for _, item := range strings.Split(raw, ",") {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		at := strings.LastIndex(item, "@")
		if at <= 0 || at == len(item)-1 {
			return nil, fmt.Errorf("entry %q is not name@version", item)
		}
		name, version := item[:at], item[at+1:]
		out[name] = append(out[name], version)
	}
	return out, nil
}
