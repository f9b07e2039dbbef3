package apiwatch

import (
	"github.com/hazyhaar/valwatch/apiwatch/internal/config"
	"github.com/hazyhaar/valwatch/apiwatch/internal/recorder"
	"github.com/hazyhaar/valwatch/apiwatch/report"
	"github.com/hazyhaar/valwatch/apiwatch/tracker"
)

// Config is the top-level apiwatch configuration. Re-exported from internal.
type Config = config.Config

// BrowserConfig controls Chrome lifecycle.
type BrowserConfig = config.BrowserConfig

// RecordingConfig holds the default recording options.
type RecordingConfig = config.RecordingConfig

// PageConfig defines a page to visit.
type PageConfig = config.PageConfig

// SinkConfig defines an output backend.
type SinkConfig = config.SinkConfig

// StoreConfig enables SQLite persistence.
type StoreConfig = config.StoreConfig

// MetricsConfig enables the metrics timeseries.
type MetricsConfig = config.MetricsConfig

// Options configure one recording run.
type Options = recorder.Options

// Record is one finalized observation.
type Record = tracker.Record

// Field is one observed leaf value.
type Field = tracker.Field

// Row is one report field in tabular form.
type Row = report.Row

// ErrNotRecording is returned when no run is active.
var ErrNotRecording = recorder.ErrNotRecording

// LoadConfigFile reads a YAML configuration file.
func LoadConfigFile(path string) (*Config, error) {
	return config.LoadFile(path)
}

// ParseConfig decodes YAML configuration.
func ParseConfig(data []byte) (*Config, error) {
	return config.Parse(data)
}
