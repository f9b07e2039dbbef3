// Package report accumulates finalized observation records for one recording
// run and selects the fields worth reporting.
package report

import (
	"strings"

	"github.com/hazyhaar/valwatch/apiwatch/tracker"
)

// Reason explains why a field survived filtering.
type Reason string

const (
	ReasonUnseen     Reason = "unseen"     // never appeared in the page
	ReasonSlow       Reason = "slow"       // appeared after the threshold
	ReasonUnexpected Reason = "unexpected" // expected absent but appeared
)

// Filter selects "interesting" fields. A zero Filter keeps only unresolved
// fields.
type Filter struct {
	// ThresholdMs, when set, also keeps resolved fields whose firstSeenMs
	// exceeds it. Nil disables the threshold; zero is a valid cutoff.
	ThresholdMs *float64 `json:"thresholdMs,omitempty"`
	// Exclude lists apiPaths that are never reported.
	Exclude []string `json:"excludePaths,omitempty"`
	// ExpectAbsent lists apiPaths that should never resolve. They are
	// reported only when they do.
	ExpectAbsent []string `json:"expectAbsentPaths,omitempty"`
}

// Threshold returns a pointer to ms for use in Filter.ThresholdMs.
func Threshold(ms float64) *float64 { return &ms }

// Reason classifies f, found in a record for source. ok is false when the
// field is filtered out.
func (flt Filter) Reason(f tracker.Field, source string) (Reason, bool) {
	apiPath := f.QualifiedPath(source)
	if contains(flt.Exclude, apiPath) {
		return "", false
	}
	if contains(flt.ExpectAbsent, apiPath) {
		if f.Resolved() {
			return ReasonUnexpected, true
		}
		return "", false
	}
	if !f.Resolved() {
		return ReasonUnseen, true
	}
	if flt.ThresholdMs != nil && *f.FirstSeenMs > *flt.ThresholdMs {
		return ReasonSlow, true
	}
	return "", false
}

// Apply returns copies of records holding only the interesting fields.
// Records left without fields are dropped. The input is not modified and
// may come from any source, not only this process's sessions.
func (flt Filter) Apply(records []tracker.Record) []tracker.Record {
	out := make([]tracker.Record, 0, len(records))
	for _, rec := range records {
		var kept []tracker.Field
		for _, f := range rec.Fields {
			if _, ok := flt.Reason(f, rec.URL); ok {
				kept = append(kept, f)
			}
		}
		if len(kept) == 0 {
			continue
		}
		rec.Fields = kept
		out = append(out, rec.Clone())
	}
	return out
}

// Normalize trims every path entry and drops blanks.
func (flt Filter) Normalize() Filter {
	flt.Exclude = TrimList(flt.Exclude)
	flt.ExpectAbsent = TrimList(flt.ExpectAbsent)
	return flt
}

// TrimList trims surrounding whitespace from each entry and drops empty ones.
func TrimList(in []string) []string {
	var out []string
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
