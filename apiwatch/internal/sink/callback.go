package sink

import (
	"context"

	"github.com/hazyhaar/valwatch/apiwatch/tracker"
)

// RecordFunc is called for each finalized record.
type RecordFunc func(ctx context.Context, runID string, rec tracker.Record) error

// RunFunc is called when a run starts and when it stops.
type RunFunc func(ctx context.Context, run Run) error

// Callback delivers records through Go function calls, for embedding
// apiwatch in a test harness. Either handler may be nil.
type Callback struct {
	onRecord RecordFunc
	onRun    RunFunc
}

func NewCallback(onRecord RecordFunc, onRun RunFunc) *Callback {
	return &Callback{onRecord: onRecord, onRun: onRun}
}

func (c *Callback) Send(ctx context.Context, runID string, rec tracker.Record) error {
	if c.onRecord != nil {
		return c.onRecord(ctx, runID, rec)
	}
	return nil
}

func (c *Callback) SendRun(ctx context.Context, run Run) error {
	if c.onRun != nil {
		return c.onRun(ctx, run)
	}
	return nil
}

func (c *Callback) Close() error { return nil }
