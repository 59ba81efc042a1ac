package config

import (
	"fmt"
	"net/url"
)

// Validate checks the configuration for invalid values.
func Validate(cfg *Config) error {
	if cfg.Database.URL == "" {
		return fmt.Errorf("database.url must be set")
	}

	if cfg.Scheduler.RedisURL == "" {
		return fmt.Errorf("scheduler.redis_url must be set")
	}
	if cfg.Scheduler.PollInterval <= 0 {
		return fmt.Errorf("scheduler.poll_interval must be > 0")
	}
	if cfg.Scheduler.WorkerConcurrency < 1 {
		return fmt.Errorf("scheduler.worker_concurrency must be >= 1, got %d", cfg.Scheduler.WorkerConcurrency)
	}

	if cfg.Scan.MaxPagesPerRun < 1 {
		return fmt.Errorf("scan.max_pages_per_run must be >= 1, got %d", cfg.Scan.MaxPagesPerRun)
	}
	if cfg.Scan.MaxItemsPerRun < 1 {
		return fmt.Errorf("scan.max_items_per_run must be >= 1, got %d", cfg.Scan.MaxItemsPerRun)
	}
	if cfg.Scan.ScanTimeout <= 0 {
		return fmt.Errorf("scan.scan_timeout must be > 0")
	}

	if cfg.CDN.Enabled {
		if cfg.CDN.Bucket == "" {
			return fmt.Errorf("cdn.bucket must be set when cdn.enabled is true")
		}
		if cfg.CDN.PublicURLBase != "" {
			if _, err := url.Parse(cfg.CDN.PublicURLBase); err != nil {
				return fmt.Errorf("invalid cdn.public_url_base: %w", err)
			}
		}
	}

	if cfg.Archive.Enabled {
		if cfg.Archive.URI == "" {
			return fmt.Errorf("archive.uri must be set when archive.enabled is true")
		}
	}

	validLogLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLogLevels[cfg.Logging.Level] {
		return fmt.Errorf("logging.level must be debug/info/warn/error, got %q", cfg.Logging.Level)
	}
	if cfg.Logging.Format != "text" && cfg.Logging.Format != "json" {
		return fmt.Errorf("logging.format must be 'text' or 'json', got %q", cfg.Logging.Format)
	}

	if cfg.Metrics.Enabled {
		if cfg.Metrics.Port < 1 || cfg.Metrics.Port > 65535 {
			return fmt.Errorf("metrics.port must be 1-65535, got %d", cfg.Metrics.Port)
		}
	}

	return nil
}

// ValidateURL checks if a URL string is valid for a monitored source.
func ValidateURL(rawURL string) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("URL scheme must be http or https, got %q", u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("URL must have a host")
	}
	return nil
}
