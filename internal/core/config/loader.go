package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v2"
)

// Load reads configuration from a YAML file.
func Load(path string) (*AppConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg AppConfig
	// Expand environment variables in the YAML content
	expandedData := os.ExpandEnv(string(data))
	if err := yaml.Unmarshal([]byte(expandedData), &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if len(cfg.Sessions) == 0 {
		return nil, fmt.Errorf("at least one session is required")
	}
	if cfg.Target.Identifier == "" {
		return nil, fmt.Errorf("target.identifier is required")
	}

	// Set defaults if necessary
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Fetch.PageSize == 0 {
		cfg.Fetch.PageSize = 100
	}
	if cfg.Fetch.MaxAttempts == 0 {
		cfg.Fetch.MaxAttempts = 5
	}
	if cfg.Fetch.PrewarmTimeout == 0 {
		cfg.Fetch.PrewarmTimeout = Duration(10 * time.Second)
	}
	if cfg.Fetch.RequestTimeout == 0 {
		cfg.Fetch.RequestTimeout = Duration(30 * time.Second)
	}
	if cfg.Caches.PeerMaxSize == 0 {
		cfg.Caches.PeerMaxSize = 512
	}
	if cfg.Caches.PeerTTL == 0 {
		cfg.Caches.PeerTTL = Duration(30 * time.Minute)
	}
	if cfg.Caches.DedupPath == "" {
		cfg.Caches.DedupPath = "dedup-cache.json"
	}
	if cfg.Caches.DedupMaxEntries == 0 {
		cfg.Caches.DedupMaxEntries = 10000
	}
	if cfg.Download.Dir == "" {
		cfg.Download.Dir = "downloads"
	}

	return &cfg, nil
}
