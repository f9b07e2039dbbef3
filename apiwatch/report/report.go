package report

import (
	"encoding/json"
	"fmt"
	"io"
	"sync"

	"github.com/hazyhaar/valwatch/apiwatch/tracker"
)

// DownloadName is the file name used when the raw report is offered as a
// download.
const DownloadName = "api-report.json"

// Report is the append-only record accumulator of one recording run. It is
// safe for concurrent use.
type Report struct {
	mu      sync.RWMutex
	records []tracker.Record
}

// New returns an empty report.
func New() *Report {
	return &Report{}
}

// Append adds a finalized record. The report keeps its own copy.
func (r *Report) Append(rec tracker.Record) {
	rec = rec.Clone()
	r.mu.Lock()
	r.records = append(r.records, rec)
	r.mu.Unlock()
}

// Records returns a deep copy of every record in arrival order.
func (r *Report) Records() []tracker.Record {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]tracker.Record, len(r.records))
	for i, rec := range r.records {
		out[i] = rec.Clone()
	}
	return out
}

// Len returns the number of records.
func (r *Report) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.records)
}

// Reset drops every record.
func (r *Report) Reset() {
	r.mu.Lock()
	r.records = nil
	r.mu.Unlock()
}

// WriteJSON writes records as an indented JSON array.
func WriteJSON(w io.Writer, records []tracker.Record) error {
	if records == nil {
		records = []tracker.Record{}
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(records); err != nil {
		return fmt.Errorf("report: encode: %w", err)
	}
	return nil
}
