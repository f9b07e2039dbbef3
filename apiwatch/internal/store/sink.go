package store

import (
	"context"

	"github.com/hazyhaar/valwatch/apiwatch/internal/sink"
	"github.com/hazyhaar/valwatch/apiwatch/tracker"
)

var _ sink.Sink = (*Store)(nil)

// Send persists a finalized record.
func (s *Store) Send(ctx context.Context, runID string, rec tracker.Record) error {
	return s.InsertRecord(ctx, runID, rec)
}

// SendRun records a run start or stop.
func (s *Store) SendRun(ctx context.Context, run sink.Run) error {
	if run.Stopped() {
		return s.FinishRun(ctx, run)
	}
	return s.InsertRun(ctx, run)
}
