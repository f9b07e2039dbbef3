package recorder

import (
	"strings"
	"time"

	"github.com/hazyhaar/valwatch/apiwatch/report"
	"github.com/hazyhaar/valwatch/apiwatch/tracker"
)

// Options configure one recording run. The JSON names match the options
// accepted by the start-recording command.
type Options struct {
	// Domains restricts tracking to sources containing one of the entries.
	// Empty tracks everything.
	Domains []string `json:"domains,omitempty" yaml:"domains"`
	// TimeoutMs is the per-session deadline. Zero means 5000.
	TimeoutMs float64 `json:"timeoutMs,omitempty" yaml:"timeout_ms"`
	// ThresholdMs reports resolved fields slower than this. Nil disables it.
	ThresholdMs *float64 `json:"thresholdMs,omitempty" yaml:"threshold_ms"`
	// ExcludePaths are apiPaths never reported.
	ExcludePaths []string `json:"excludePaths,omitempty" yaml:"exclude_paths"`
	// ExpectAbsentPaths are apiPaths reported only if they resolve.
	ExpectAbsentPaths []string `json:"expectAbsentPaths,omitempty" yaml:"expect_absent_paths"`
}

// Normalize trims list entries and drops blanks.
func (o Options) Normalize() Options {
	o.Domains = report.TrimList(o.Domains)
	o.ExcludePaths = report.TrimList(o.ExcludePaths)
	o.ExpectAbsentPaths = report.TrimList(o.ExpectAbsentPaths)
	if o.TimeoutMs < 0 {
		o.TimeoutMs = 0
	}
	return o
}

// Timeout returns the session deadline.
func (o Options) Timeout() time.Duration {
	if o.TimeoutMs <= 0 {
		return tracker.DefaultTimeout
	}
	return time.Duration(o.TimeoutMs * float64(time.Millisecond))
}

// Filter returns the report filter for these options.
func (o Options) Filter() report.Filter {
	return report.Filter{
		ThresholdMs:  o.ThresholdMs,
		Exclude:      o.ExcludePaths,
		ExpectAbsent: o.ExpectAbsentPaths,
	}
}

// ShouldTrack reports whether a response from source is observed.
func (o Options) ShouldTrack(source string) bool {
	if len(o.Domains) == 0 {
		return true
	}
	for _, d := range o.Domains {
		if strings.Contains(source, d) {
			return true
		}
	}
	return false
}
