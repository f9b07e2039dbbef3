// Package sink delivers finalized observation records and run summaries to
// output backends.
package sink

import (
	"context"
	"time"

	"github.com/hazyhaar/valwatch/apiwatch/report"
	"github.com/hazyhaar/valwatch/apiwatch/tracker"
)

// Sink is the output interface. Send is called once per finalized record,
// SendRun when a run starts (StoppedAt zero) and when it stops.
type Sink interface {
	Send(ctx context.Context, runID string, rec tracker.Record) error
	SendRun(ctx context.Context, run Run) error
	Close() error
}

// Run summarises one recording run.
type Run struct {
	ID          string        `json:"id"`
	StartedAt   time.Time     `json:"startedAt"`
	StoppedAt   time.Time     `json:"stoppedAt,omitzero"`
	Domains     []string      `json:"domains,omitempty"`
	TimeoutMs   float64       `json:"timeoutMs"`
	Filter      report.Filter `json:"filter"`
	Records     int           `json:"records"`
	Interesting int           `json:"interesting"`
}

// Stopped reports whether the run has ended.
func (r Run) Stopped() bool { return !r.StoppedAt.IsZero() }

type envelope struct {
	Type  string `json:"type"` // "record" or "run"
	RunID string `json:"runId,omitempty"`
	Data  any    `json:"data"`
}
