// Package config handles apiwatch configuration from YAML files.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/hazyhaar/valwatch/apiwatch/internal/recorder"
	"github.com/hazyhaar/valwatch/horosafe"
)

// Config is the top-level apiwatch configuration.
type Config struct {
	Browser   BrowserConfig   `yaml:"browser"`
	Recording RecordingConfig `yaml:"recording"`
	Pages     []PageConfig    `yaml:"pages"`
	Sinks     []SinkConfig    `yaml:"sinks"`
	Store     StoreConfig     `yaml:"store"`
	Metrics   MetricsConfig   `yaml:"metrics"`
}

// BrowserConfig controls Chrome lifecycle.
type BrowserConfig struct {
	Remote           string        `yaml:"remote"` // ws:// URL of a running Chrome; empty launches one
	Bin              string        `yaml:"bin"`
	Headful          bool          `yaml:"headful"`
	Stealth          bool          `yaml:"stealth"`
	ResourceBlocking []string      `yaml:"resource_blocking"` // image | font | media | stylesheet
	NavTimeout       time.Duration `yaml:"nav_timeout"`
	// BlockPrivate refuses visits to private and loopback hosts.
	BlockPrivate bool `yaml:"block_private"`
}

// RecordingConfig holds the options of the run started for the configured
// pages.
type RecordingConfig struct {
	Domains           []string       `yaml:"domains"`
	Timeout           time.Duration  `yaml:"timeout"`
	Threshold         *time.Duration `yaml:"threshold"` // unset disables the threshold
	ExcludePaths      []string       `yaml:"exclude_paths"`
	ExpectAbsentPaths []string       `yaml:"expect_absent_paths"`
}

// PageConfig defines a page to visit during the run.
type PageConfig struct {
	ID   string        `yaml:"id"`
	URL  string        `yaml:"url"`
	Wait time.Duration `yaml:"wait"` // time left for responses after load
}

// SinkConfig defines an output backend.
type SinkConfig struct {
	Type    string `yaml:"type"` // stdout | webhook
	URL     string `yaml:"url"`  // for webhook
	Retries int    `yaml:"retries"`
}

// StoreConfig enables SQLite persistence of runs and records.
type StoreConfig struct {
	DBPath string `yaml:"db_path"`
}

// MetricsConfig enables the metrics timeseries. An empty DBPath with a
// configured store writes metrics into the store database.
type MetricsConfig struct {
	Enabled       bool          `yaml:"enabled"`
	DBPath        string        `yaml:"db_path"`
	BufferSize    int           `yaml:"buffer_size"`
	FlushInterval time.Duration `yaml:"flush_interval"`
}

// LoadFile reads a YAML configuration file.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	return Parse(data)
}

// Parse decodes YAML configuration and applies defaults.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse: %w", err)
	}
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// ApplyDefaults fills unset values.
func (c *Config) ApplyDefaults() {
	if c.Browser.NavTimeout <= 0 {
		c.Browser.NavTimeout = 30 * time.Second
	}
	if c.Recording.Timeout <= 0 {
		c.Recording.Timeout = 5 * time.Second
	}
	if c.Metrics.BufferSize <= 0 {
		c.Metrics.BufferSize = 100
	}
	if c.Metrics.FlushInterval <= 0 {
		c.Metrics.FlushInterval = 5 * time.Second
	}
	for i := range c.Pages {
		if c.Pages[i].ID == "" {
			c.Pages[i].ID = fmt.Sprintf("page-%d", i+1)
		}
		if c.Pages[i].Wait <= 0 {
			c.Pages[i].Wait = c.Recording.Timeout
		}
	}
	for i := range c.Sinks {
		if c.Sinks[i].Type == "webhook" && c.Sinks[i].Retries == 0 {
			c.Sinks[i].Retries = 3
		}
	}
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	for _, p := range c.Pages {
		if p.URL == "" {
			return fmt.Errorf("config: page %s: url is required", p.ID)
		}
		if _, err := horosafe.CheckURL(p.URL); err != nil {
			return fmt.Errorf("config: page %s: %w", p.ID, err)
		}
	}
	for i, s := range c.Sinks {
		switch s.Type {
		case "stdout":
		case "webhook":
			if s.URL == "" {
				return fmt.Errorf("config: sink %d: webhook url is required", i)
			}
			if _, err := horosafe.CheckURL(s.URL); err != nil {
				return fmt.Errorf("config: sink %d: %w", i, err)
			}
		default:
			return fmt.Errorf("config: sink %d: unknown type %q", i, s.Type)
		}
	}
	if c.Recording.Threshold != nil && *c.Recording.Threshold < 0 {
		return fmt.Errorf("config: recording threshold must not be negative")
	}
	return nil
}

// Options converts the recording section into recorder options.
func (r RecordingConfig) Options() recorder.Options {
	opts := recorder.Options{
		Domains:           r.Domains,
		TimeoutMs:         float64(r.Timeout) / float64(time.Millisecond),
		ExcludePaths:      r.ExcludePaths,
		ExpectAbsentPaths: r.ExpectAbsentPaths,
	}
	if r.Threshold != nil {
		ms := float64(*r.Threshold) / float64(time.Millisecond)
		opts.ThresholdMs = &ms
	}
	return opts.Normalize()
}
