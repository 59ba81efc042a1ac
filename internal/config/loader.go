package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// Load reads configuration from file and environment.
// Priority (highest to lowest): env vars > config file > defaults.
func Load(configPath string) (*Config, error) {
	cfg := DefaultConfig()

	v := viper.New()
	v.SetConfigType("yaml")

	setDefaults(v, cfg)

	v.SetEnvPrefix("MEDIAFORGE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("mediaforge")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		home, err := os.UserHomeDir()
		if err == nil {
			v.AddConfigPath(filepath.Join(home, ".mediaforge"))
		}
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok && configPath != "" {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// DATABASE_URL / REDIS_URL are the conventional 12-factor names most
	// deploy targets (Render, Railway, Fly, Heroku-style PaaS) already set;
	// honor them as an override on top of MEDIAFORGE_DATABASE_URL/
	// MEDIAFORGE_SCHEDULER_REDIS_URL so the same image works unmodified.
	if url := os.Getenv("DATABASE_URL"); url != "" {
		cfg.Database.URL = url
	}
	if url := os.Getenv("REDIS_URL"); url != "" {
		cfg.Scheduler.RedisURL = url
	}

	return cfg, nil
}

// LoadFromFile reads configuration from a specific file path.
func LoadFromFile(path string) (*Config, error) {
	return Load(path)
}

// setDefaults registers default values in viper so env vars and config
// files only need to override what differs from DefaultConfig.
func setDefaults(v *viper.Viper, cfg *Config) {
	v.SetDefault("database.url", cfg.Database.URL)
	v.SetDefault("database.max_conn_lifetime", cfg.Database.MaxConnLifetime)
	v.SetDefault("database.max_conn_idle_time", cfg.Database.MaxConnIdleTime)

	v.SetDefault("scheduler.redis_url", cfg.Scheduler.RedisURL)
	v.SetDefault("scheduler.poll_interval", cfg.Scheduler.PollInterval)
	v.SetDefault("scheduler.worker_concurrency", cfg.Scheduler.WorkerConcurrency)

	v.SetDefault("scan.max_pages_per_run", cfg.Scan.MaxPagesPerRun)
	v.SetDefault("scan.max_items_per_run", cfg.Scan.MaxItemsPerRun)
	v.SetDefault("scan.scan_timeout", cfg.Scan.ScanTimeout)
	v.SetDefault("scan.max_item_age", cfg.Scan.MaxItemAge)

	v.SetDefault("cdn.enabled", cfg.CDN.Enabled)
	v.SetDefault("cdn.region", cfg.CDN.Region)

	v.SetDefault("archive.enabled", cfg.Archive.Enabled)
	v.SetDefault("archive.database", cfg.Archive.Database)
	v.SetDefault("archive.collection", cfg.Archive.Collection)

	v.SetDefault("api.addr", cfg.API.Addr)

	v.SetDefault("logging.level", cfg.Logging.Level)
	v.SetDefault("logging.format", cfg.Logging.Format)
	v.SetDefault("logging.output", cfg.Logging.Output)

	v.SetDefault("metrics.enabled", cfg.Metrics.Enabled)
	v.SetDefault("metrics.port", cfg.Metrics.Port)
	v.SetDefault("metrics.path", cfg.Metrics.Path)
}
