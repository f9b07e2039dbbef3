// Package tracker is the field-tracking core of apiwatch. It flattens a JSON
// response payload into leaf fields and watches a rendered document until
// every leaf value has appeared in the page text or a deadline passes.
//
// These types are the public contract: sinks, the report filter and any
// external consumer work on Field and Record.
package tracker

import "time"

// Field is one observable leaf value extracted from a response payload.
type Field struct {
	Path          string   `json:"path"`              // dot-joined keys / indices, "" for a scalar payload
	Value         string   `json:"value"`             // leaf coerced to its string form
	FirstSeenMs   *float64 `json:"firstSeenMs"`       // nil until found in rendered text
	LastCheckedMs float64  `json:"lastCheckedMs"`     // elapsed ms at the most recent check
	APIPath       string   `json:"apiPath,omitempty"` // <source>.<path>, set at finalization
}

// Resolved reports whether the value was found in the rendered text.
func (f Field) Resolved() bool {
	return f.FirstSeenMs != nil
}

// QualifiedPath returns the field's apiPath, deriving it from source when it
// was never assigned (records supplied by an external caller).
func (f Field) QualifiedPath(source string) string {
	if f.APIPath != "" {
		return f.APIPath
	}
	return source + "." + f.Path
}

func (f Field) clone() Field {
	if f.FirstSeenMs != nil {
		v := *f.FirstSeenMs
		f.FirstSeenMs = &v
	}
	return f
}

// Record is one finalized observation session outcome. URL carries the
// source identifier of the response.
type Record struct {
	ID         string  `json:"id,omitempty"`
	URL        string  `json:"url"`
	Fields     []Field `json:"fields"`
	StartedAt  int64   `json:"startedAt,omitempty"`  // epoch milliseconds
	DurationMs float64 `json:"durationMs,omitempty"` // elapsed at finalization
}

// Clone returns a deep copy of r.
func (r Record) Clone() Record {
	r.Fields = cloneFields(r.Fields)
	return r
}

// Unresolved counts the fields that were never seen.
func (r Record) Unresolved() int {
	n := 0
	for _, f := range r.Fields {
		if !f.Resolved() {
			n++
		}
	}
	return n
}

func cloneFields(fields []Field) []Field {
	if fields == nil {
		return nil
	}
	out := make([]Field, len(fields))
	for i, f := range fields {
		out[i] = f.clone()
	}
	return out
}

func millis(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}
