package internal

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
)

// FeedConfig describes one collector: whether it runs and any API key
// it needs. Kind matches the collector name (openssf, osv, phylum,
// socketdev).
type FeedConfig struct {
	Kind    string `json:"kind"`
	Enabled bool   `json:"enabled"`
	Key     string `json:"key,omitempty"`
	URL     string `json:"url,omitempty"`
}

type Configuration struct {
	BindAddress      string       `json:"bind_address"`
	IndexDir         string       `json:"index_dir"`
	CachePath        string       `json:"cache_path"`
	WorkDir          string       `json:"work_dir"`
	IncidentListPath string       `json:"incident_list_path"`
	PostgresDSN      string       `json:"postgres_dsn,omitempty"`
	Feeds            []FeedConfig `json:"feeds"`
	FetchTimeout     int          `json:"fetch_timeout"`
	ReopenInterval   int          `json:"reopen_interval"`
}

// ApplyEnvOverrides fills empty fields from the environment so secrets
// can stay out of the config file. Feed keys come from
// SUPPLYCO_<KIND>_KEY.
func (c *Configuration) ApplyEnvOverrides() {
	if c.PostgresDSN == "" {
		if dsn := os.Getenv("SUPPLYCO_POSTGRES_DSN"); dsn != "" {
			c.PostgresDSN = dsn
		}
	}
	if c.IndexDir == "" {
		if dir := os.Getenv("SUPPLYCO_INDEX_DIR"); dir != "" {
			c.IndexDir = dir
		}
	}
	for i := range c.Feeds {
		if c.Feeds[i].Key != "" || c.Feeds[i].Kind == "" {
			continue
		}
		envVar := "SUPPLYCO_" + strings.ToUpper(c.Feeds[i].Kind) + "_KEY"
		envVar = strings.ReplaceAll(envVar, " ", "_")
		if key := os.Getenv(envVar); key != "" {
			c.Feeds[i].Key = key
		}
	}
}

func (c *Configuration) PopulateFromJSONFile(fh string) error {
	if !FileExists(fh) {
		return fmt.Errorf("file does not exist: %s", fh)
	}
	file, err := os.Open(fh)
	if err != nil {
		return fmt.Errorf("could not open file: %v", err)
	}
	defer file.Close()

	d := json.NewDecoder(file)
	if err := d.Decode(c); err != nil {
		return fmt.Errorf("could not decode file: %v", err)
	}

	c.ApplyEnvOverrides()
	c.applyDefaults()

	return nil
}

// DefaultConfiguration is what the binaries run with when no config
// file is given.
func DefaultConfiguration() *Configuration {
	c := &Configuration{
		BindAddress: "localhost:8081",
		IndexDir:    "indexes",
		CachePath:   "feedcache.db",
		WorkDir:     "work",
		Feeds: []FeedConfig{
			{Kind: "openssf", Enabled: true},
			{Kind: "osv", Enabled: true},
			{Kind: "phylum", Enabled: true},
			{Kind: "socketdev", Enabled: false},
		},
	}
	c.ApplyEnvOverrides()
	c.applyDefaults()
	return c
}

func (c *Configuration) applyDefaults() {
	if c.FetchTimeout <= 0 {
		c.FetchTimeout = 120
	}
	if c.ReopenInterval <= 0 {
		c.ReopenInterval = 300
	}
	if c.IncidentListPath == "" {
		c.IncidentListPath = "affected_packages.yaml"
	}
}

func (c *Configuration) Feed(kind string) *FeedConfig {
	for i := range c.Feeds {
		if c.Feeds[i].Kind == kind {
			return &c.Feeds[i]
		}
	}
	return nil
}

func FileExists(fh string) bool {
	info, err := os.Stat(fh)
	if os.IsNotExist(err) {
		return false
	}
	return info.Mode().IsRegular()
}
