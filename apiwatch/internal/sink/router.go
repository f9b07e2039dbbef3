package sink

import (
	"context"
	"errors"
	"log/slog"

	"github.com/hazyhaar/valwatch/apiwatch/tracker"
)

// Router fans out to every configured sink. A failing sink does not stop
// delivery to the others; errors are logged and the first one is returned.
type Router struct {
	sinks  []Sink
	logger *slog.Logger
}

// NewRouter creates a fan-out router. Nil sinks are skipped.
func NewRouter(logger *slog.Logger, sinks ...Sink) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Router{logger: logger}
	for _, s := range sinks {
		if s != nil {
			r.sinks = append(r.sinks, s)
		}
	}
	return r
}

// Add appends a sink.
func (r *Router) Add(s Sink) {
	if s != nil {
		r.sinks = append(r.sinks, s)
	}
}

// Len returns the number of sinks.
func (r *Router) Len() int { return len(r.sinks) }

func (r *Router) Send(ctx context.Context, runID string, rec tracker.Record) error {
	var firstErr error
	for _, s := range r.sinks {
		if err := s.Send(ctx, runID, rec); err != nil {
			r.logger.Warn("sink: send record failed", "run", runID, "url", rec.URL, "error", err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

func (r *Router) SendRun(ctx context.Context, run Run) error {
	var firstErr error
	for _, s := range r.sinks {
		if err := s.SendRun(ctx, run); err != nil {
			r.logger.Warn("sink: send run failed", "run", run.ID, "error", err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

func (r *Router) Close() error {
	var errs []error
	for _, s := range r.sinks {
		if err := s.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
