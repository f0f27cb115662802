package config

import (
	"fmt"
	"time"

	redisclient "github.com/vietddude/harvester/internal/infra/redis"
	"github.com/vietddude/harvester/internal/infra/storage/postgres"
)

// Duration wraps time.Duration so "10s"-style YAML values parse.
type Duration time.Duration

// UnmarshalYAML implements yaml.v2 unmarshalling for duration strings.
func (d *Duration) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// AppConfig represents the top-level configuration.
type AppConfig struct {
	Server   ServerConfig       `yaml:"server"`
	Target   TargetConfig       `yaml:"target"`
	Fetch    FetchConfig        `yaml:"fetch"`
	Sessions []SessionConfig    `yaml:"sessions"`
	Caches   CacheConfig        `yaml:"caches"`
	Download DownloadConfig     `yaml:"download"`
	Redis    redisclient.Config `yaml:"redis"`
	Database postgres.Config    `yaml:"database"`
	Logging  LoggingConfig      `yaml:"logging"`
}

// ServerConfig holds the health/metrics HTTP server settings.
type ServerConfig struct {
	Port int `yaml:"port"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json, text
}

// TargetConfig identifies what to export.
type TargetConfig struct {
	// Identifier is a username ("@channel") or numeric peer ID.
	Identifier string `yaml:"identifier"`
	// MinID floors the export; 0 means full history.
	MinID int64 `yaml:"min_id"`
	// ZoneHint prefers connections routed to this datacenter when the
	// platform does not report one for the peer.
	ZoneHint int `yaml:"zone_hint"`
}

// FetchConfig tunes the sharded fetch engine.
type FetchConfig struct {
	PageSize         int      `yaml:"page_size"`
	MaxAttempts      int      `yaml:"max_attempts"`
	TranscodeWorkers int      `yaml:"transcode_workers"`
	PrewarmTimeout   Duration `yaml:"prewarm_timeout"`
	RequestTimeout   Duration `yaml:"request_timeout"`
}

// SessionConfig holds one gateway session. Session files themselves
// are owned by an external collaborator; the engine only needs a
// usable endpoint and token per connection.
type SessionConfig struct {
	Name     string `yaml:"name"`
	Endpoint string `yaml:"endpoint"`
	Token    string `yaml:"token"`
	Zone     int    `yaml:"zone"`
}

// CacheConfig sizes the peer-resolution and dedup caches.
type CacheConfig struct {
	PeerMaxSize     int      `yaml:"peer_max_size"`
	PeerTTL         Duration `yaml:"peer_ttl"`
	DedupPath       string   `yaml:"dedup_path"`
	DedupMaxEntries int      `yaml:"dedup_max_entries"`
}

// DownloadConfig controls attachment materialization.
type DownloadConfig struct {
	Enabled bool   `yaml:"enabled"`
	Dir     string `yaml:"dir"`
}
