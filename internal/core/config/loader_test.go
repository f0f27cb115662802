package config

import (
	"os"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()

	tmpFile, err := os.CreateTemp(t.TempDir(), "config_*.yaml")
	if err != nil {
		t.Fatalf("Failed to create temp file: %v", err)
	}
	if _, err := tmpFile.Write([]byte(content)); err != nil {
		t.Fatalf("Failed to write to temp file: %v", err)
	}
	tmpFile.Close()
	return tmpFile.Name()
}

func TestLoad_EnvSubstitution(t *testing.T) {
	os.Setenv("TEST_GW_TOKEN", "secret-token-1")
	defer os.Unsetenv("TEST_GW_TOKEN")

	path := writeConfig(t, `
target:
  identifier: "@archive"
sessions:
  - name: main
    endpoint: https://gw-1.example.com
    token: ${TEST_GW_TOKEN}
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Sessions[0].Token != "secret-token-1" {
		t.Errorf("Expected token secret-token-1, got %s", cfg.Sessions[0].Token)
	}
}

func TestLoad_Defaults(t *testing.T) {
	path := writeConfig(t, `
target:
  identifier: "@archive"
sessions:
  - name: main
    endpoint: https://gw-1.example.com
    token: abc
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Server.Port != 8080 {
		t.Errorf("default port = %d, want 8080", cfg.Server.Port)
	}
	if cfg.Fetch.PageSize != 100 {
		t.Errorf("default page size = %d, want 100", cfg.Fetch.PageSize)
	}
	if cfg.Fetch.MaxAttempts != 5 {
		t.Errorf("default max attempts = %d, want 5", cfg.Fetch.MaxAttempts)
	}
	if cfg.Caches.PeerTTL.Std() != 30*time.Minute {
		t.Errorf("default peer TTL = %v, want 30m", cfg.Caches.PeerTTL)
	}
	if cfg.Caches.DedupMaxEntries != 10000 {
		t.Errorf("default dedup entries = %d, want 10000", cfg.Caches.DedupMaxEntries)
	}
}

func TestLoad_RejectsMissingSessions(t *testing.T) {
	path := writeConfig(t, `
target:
  identifier: "@archive"
`)

	if _, err := Load(path); err == nil {
		t.Fatal("Load should fail without sessions")
	}
}

func TestLoad_RejectsMissingTarget(t *testing.T) {
	path := writeConfig(t, `
sessions:
  - name: main
    endpoint: https://gw-1.example.com
    token: abc
`)

	if _, err := Load(path); err == nil {
		t.Fatal("Load should fail without a target identifier")
	}
}

func TestLoad_FullConfig(t *testing.T) {
	path := writeConfig(t, `
server:
  port: 9090
target:
  identifier: "@archive"
  min_id: 1000
  zone_hint: 4
fetch:
  page_size: 50
  max_attempts: 3
  transcode_workers: 2
  prewarm_timeout: 5s
sessions:
  - name: dc4-a
    endpoint: https://gw-1.example.com
    token: t1
    zone: 4
  - name: dc2-b
    endpoint: https://gw-2.example.com
    token: t2
    zone: 2
caches:
  peer_max_size: 64
  peer_ttl: 10m
  dedup_path: /var/cache/harvester/dedup.json
  dedup_max_entries: 500
download:
  enabled: true
  dir: /var/lib/harvester/files
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Server.Port != 9090 {
		t.Errorf("port = %d, want 9090", cfg.Server.Port)
	}
	if cfg.Target.ZoneHint != 4 {
		t.Errorf("zone hint = %d, want 4", cfg.Target.ZoneHint)
	}
	if len(cfg.Sessions) != 2 || cfg.Sessions[1].Zone != 2 {
		t.Errorf("sessions parsed wrong: %+v", cfg.Sessions)
	}
	if cfg.Fetch.PrewarmTimeout.Std() != 5*time.Second {
		t.Errorf("prewarm timeout = %v, want 5s", cfg.Fetch.PrewarmTimeout)
	}
	if !cfg.Download.Enabled {
		t.Error("download.enabled should be true")
	}
}
