package config

import (
	"time"

	"github.com/ingestd/mediaforge/internal/cdn"
	"github.com/ingestd/mediaforge/internal/scan"
	"github.com/ingestd/mediaforge/internal/scheduler"
)

// Version is set at build time via ldflags.
var Version = "dev"

// Config is the root configuration for the ingestion engine.
type Config struct {
	Database  DatabaseConfig    `mapstructure:"database"  yaml:"database"`
	Scheduler scheduler.Config  `mapstructure:"scheduler" yaml:"scheduler"`
	Scan      scan.Config       `mapstructure:"scan"      yaml:"scan"`
	CDN       CDNConfig         `mapstructure:"cdn"       yaml:"cdn"`
	Archive   ArchiveConfig     `mapstructure:"archive"   yaml:"archive"`
	API       APIConfig         `mapstructure:"api"       yaml:"api"`
	Logging   LoggingConfig     `mapstructure:"logging"   yaml:"logging"`
	Metrics   MetricsConfig     `mapstructure:"metrics"   yaml:"metrics"`
}

// DatabaseConfig points at the Postgres instance backing the catalog,
// checkpoint store, and persistence store (C6/C7/C8/C9 all share one pool
// configuration, even though each opens its own pgxpool.Pool).
type DatabaseConfig struct {
	URL             string        `mapstructure:"url"               yaml:"url"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime" yaml:"max_conn_lifetime"`
	MaxConnIdleTime time.Duration `mapstructure:"max_conn_idle_time" yaml:"max_conn_idle_time"`
}

// CDNConfig is a viper-shaped mirror of cdn.Config (that struct has no
// mapstructure tags of its own since it's also built programmatically by
// tests); Load fills a cdn.Config from this after unmarshaling.
type CDNConfig struct {
	Enabled       bool   `mapstructure:"enabled"         yaml:"enabled"`
	Bucket        string `mapstructure:"bucket"          yaml:"bucket"`
	Region        string `mapstructure:"region"          yaml:"region"`
	Endpoint      string `mapstructure:"endpoint"        yaml:"endpoint"`
	AccessKeyID   string `mapstructure:"access_key_id"   yaml:"access_key_id"`
	SecretKey     string `mapstructure:"secret_key"      yaml:"secret_key"`
	PublicURLBase string `mapstructure:"public_url_base" yaml:"public_url_base"`
}

// ToCDNConfig converts to the cdn package's own config shape.
func (c CDNConfig) ToCDNConfig() cdn.Config {
	return cdn.Config{
		Bucket:        c.Bucket,
		Region:        c.Region,
		Endpoint:      c.Endpoint,
		AccessKeyID:   c.AccessKeyID,
		SecretKey:     c.SecretKey,
		PublicURLBase: c.PublicURLBase,
	}
}

// ArchiveConfig controls the optional MongoDB archive sink.
type ArchiveConfig struct {
	Enabled    bool   `mapstructure:"enabled"    yaml:"enabled"`
	URI        string `mapstructure:"uri"        yaml:"uri"`
	Database   string `mapstructure:"database"   yaml:"database"`
	Collection string `mapstructure:"collection" yaml:"collection"`
}

// APIConfig controls the admin HTTP surface.
type APIConfig struct {
	Addr string `mapstructure:"addr" yaml:"addr"`
}

// LoggingConfig controls logging behavior.
type LoggingConfig struct {
	Level  string `mapstructure:"level"  yaml:"level"`
	Format string `mapstructure:"format" yaml:"format"`
	Output string `mapstructure:"output" yaml:"output"`
}

// MetricsConfig controls the Prometheus exposition endpoint.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	Port    int    `mapstructure:"port"    yaml:"port"`
	Path    string `mapstructure:"path"    yaml:"path"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Database: DatabaseConfig{
			URL:             "postgres://localhost:5432/mediaforge?sslmode=disable",
			MaxConnLifetime: 30 * time.Minute,
			MaxConnIdleTime: 5 * time.Minute,
		},
		Scheduler: scheduler.DefaultConfig(),
		Scan:      scan.DefaultConfig(),
		CDN: CDNConfig{
			Enabled: false,
		},
		Archive: ArchiveConfig{
			Enabled:    false,
			Database:   "mediaforge",
			Collection: "archived_items",
		},
		API: APIConfig{
			Addr: ":8090",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
			Output: "stderr",
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Port:    9090,
			Path:    "/metrics",
		},
	}
}
