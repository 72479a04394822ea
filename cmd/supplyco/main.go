package main

import (
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/rexlx/supplyco/internal"
	"github.com/rexlx/supplyco/ioc"
	"github.com/rexlx/supplyco/parser"
	"github.com/rexlx/supplyco/report"
)

var (
	dirFlag      = flag.String("dir", "", "Project directory to scan")
	fileFlag     = flag.String("file", "", "Single manifest file to scan")
	listFlag     = flag.String("list", "", "Explicit package list file (txt, json, yaml, csv)")
	ecoFlag      = flag.String("ecosystem", "", "Limit the scan to one ecosystem")
	outputFlag   = flag.String("output", "", "Report output path")
	formatFlag   = flag.String("format", "json", "Report formats, comma separated: json, sarif, html")
	failOn       = flag.String("fail-on", "", "Exit nonzero only at or above this severity")
	noIOC        = flag.Bool("no-ioc", false, "Skip the filesystem IoC scan")
	offline      = flag.Bool("offline", false, "Do not refresh the incident list from the network")
	incidentPath = flag.String("incident-file", "affected_packages.yaml", "Local incident list fallback")
	quiet        = flag.Bool("quiet", false, "Suppress the terminal summary")
)

func main() {
	flag.Parse()
	logger := log.New(os.Stderr, "", log.LstdFlags)

	target, deps, ecosystems, err := gatherDependencies(logger)
	if err != nil {
		logger.Fatal(err)
	}

	var client *http.Client
	if !*offline {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	incidents := internal.LoadIncidentList(client, *incidentPath, logger)
	matcher := internal.NewMatcher(*internal.IndexDir, incidents, logger)
	defer matcher.Close()

	rpt := report.New(target, ecosystems)
	rpt.TotalScanned = len(deps)
	for _, dep := range deps {
		findings, err := matcher.Check(dep.Ecosystem, dep.Name, dep.Version)
		if err != nil {
			logger.Printf("checking %s/%s: %v", dep.Ecosystem, dep.Name, err)
			continue
		}
		rpt.AddFindings(findings)
	}

	if *dirFlag != "" && !*noIOC {
		detector := ioc.NewDetector(logger)
		indicators, err := detector.Scan(*dirFlag)
		if err != nil {
			logger.Printf("ioc scan: %v", err)
		} else {
			rpt.AddIndicators(indicators)
		}
	}

	if err := writeArtifacts(rpt); err != nil {
		logger.Fatal(err)
	}
	if !*quiet {
		rpt.Summary(os.Stdout)
	}
	if rpt.ExceedsThreshold(*failOn) {
		os.Exit(1)
	}
}

// gatherDependencies resolves exactly one input mode: a package list, a
// single manifest, or a directory walk. With no flags it scans the
// current directory.
func gatherDependencies(logger *log.Logger) (string, []parser.Dependency, []string, error) {
	switch {
	case *listFlag != "":
		fallback := ""
		if *ecoFlag != "" {
			eco, ok := internal.NormalizeEcosystem(*ecoFlag)
			if !ok {
				return "", nil, nil, fmt.Errorf("unknown ecosystem %q", *ecoFlag)
			}
			fallback = eco
		}
		deps, err := parser.ParseListFile(*listFlag)
		if err != nil {
			return "", nil, nil, err
		}
		// List entries may carry their own eco:name prefix; everything
		// else takes the -ecosystem flag.
		for i := range deps {
			if deps[i].Ecosystem == "" {
				if fallback == "" {
					return "", nil, nil, fmt.Errorf("-list requires -ecosystem for entries without an eco: prefix")
				}
				deps[i].Ecosystem = fallback
			}
		}
		return *listFlag, deps, uniqueEcosystems(deps), nil

	case *fileFlag != "":
		deps, err := parser.ParseManifest(*fileFlag)
		if err != nil {
			return "", nil, nil, err
		}
		ecosystems := uniqueEcosystems(deps)
		return *fileFlag, deps, ecosystems, nil

	default:
		dir := *dirFlag
		if dir == "" {
			dir = "."
			*dirFlag = dir
		}
		ecoFilter := ""
		if *ecoFlag != "" {
			eco, ok := internal.NormalizeEcosystem(*ecoFlag)
			if !ok {
				return "", nil, nil, fmt.Errorf("unknown ecosystem %q", *ecoFlag)
			}
			ecoFilter = eco
		}
		manifests, err := parser.FindManifests(dir, ecoFilter)
		if err != nil {
			return "", nil, nil, err
		}
		var deps []parser.Dependency
		for _, manifest := range manifests {
			parsed, err := parser.ParseManifest(manifest)
			if err != nil {
				logger.Printf("parsing %s: %v", manifest, err)
				continue
			}
			deps = append(deps, parsed...)
		}
		return dir, deps, uniqueEcosystems(deps), nil
	}
}

func uniqueEcosystems(deps []parser.Dependency) []string {
	seen := make(map[string]struct{})
	var out []string
	for _, d := range deps {
		if d.Ecosystem == "" {
			continue
		}
		if _, dup := seen[d.Ecosystem]; !dup {
			seen[d.Ecosystem] = struct{}{}
			out = append(out, d.Ecosystem)
		}
	}
	sort.Strings(out)
	return out
}

func writeArtifacts(rpt *report.Report) error {
	jsonPath := *outputFlag
	if jsonPath == "" {
		jsonPath = report.DefaultPath("scan-output")
	}
	for _, format := range strings.Split(*formatFlag, ",") {
		var err error
		switch strings.TrimSpace(format) {
		case "json", "":
			err = rpt.WriteJSON(jsonPath)
		case "sarif":
			err = rpt.WriteSARIF(swapExt(jsonPath, ".sarif"))
		case "html":
			err = rpt.WriteHTML(swapExt(jsonPath, ".html"))
		default:
			err = fmt.Errorf("unknown report format %q", format)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

func swapExt(path, ext string) string {
	return strings.TrimSuffix(path, filepath.Ext(path)) + ext
}
