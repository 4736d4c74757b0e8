// Package config loads cmd/filterctl's YAML configuration file.
//
// Grounded on the defaults-pre-populated-then-overlaid loadConfig shape:
// defaults are set on a struct literal before yaml.Unmarshal overlays
// whatever the file sets, so a config file may omit any field it doesn't
// care to override.
package config

import (
	"io"
	"log/slog"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	DefaultListenAddress              = "0.0.0.1:8484"
	DefaultMetricsServerListenAddress = "0.0.0.1:8485"
	DefaultCacheCapacity              = 10000
	DefaultRecentCapacity             = 100
	DefaultCacheDir                   = "./adfilter-cache"
	DefaultUpdateIntervalHours        = 7 * 24
)

// Config is cmd/filterctl's on-disk configuration shape. UpdateIntervalHours
// is a plain int rather than a time.Duration, since yaml.v3 unmarshals
// time.Duration as a bare integer of nanoseconds rather than parsing
// "168h"-style strings.
type Config struct {
	ListenAddress              string   `yaml:"listen_address"`
	MetricsServerListenAddress string   `yaml:"metrics_server_listen_address"`
	CacheCapacity              int      `yaml:"cache_capacity"`
	RecentCapacity             int      `yaml:"recent_capacity"`
	CacheDir                   string   `yaml:"cache_dir"`
	UpdateSources              []string `yaml:"update_sources"`
	UpdateIntervalHours        int64    `yaml:"update_interval_hours"`
}

// UpdateInterval converts UpdateIntervalHours to a time.Duration for
// internal/updater.Config.
func (c *Config) UpdateInterval() time.Duration {
	return time.Duration(c.UpdateIntervalHours) * time.Hour
}

// Load reads path, overlaying its contents onto the documented defaults.
// A missing file is not an error — it just means "use every default."
func Load(logger *slog.Logger, path string) (*Config, error) {
	logger = logger.WithGroup("config")

	c := &Config{
		ListenAddress:              DefaultListenAddress,
		MetricsServerListenAddress: DefaultMetricsServerListenAddress,
		CacheCapacity:              DefaultCacheCapacity,
		RecentCapacity:             DefaultRecentCapacity,
		CacheDir:                   DefaultCacheDir,
		UpdateIntervalHours:        DefaultUpdateIntervalHours,
	}

	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			logger.Warn("config file not found, using defaults", "path", path)
			return c, nil
		}
		return nil, err
	}
	defer f.Close()

	buf, err := io.ReadAll(f)
	if err != nil {
		return nil, err
	}

	if err := yaml.Unmarshal(buf, c); err != nil {
		return nil, err
	}

	logger.Debug("loaded config", "config", c)
	return c, nil
}
