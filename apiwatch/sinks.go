package apiwatch

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/hazyhaar/valwatch/apiwatch/internal/sink"
)

// Sink is the output interface for finalized records and run summaries.
type Sink = sink.Sink

// RunSummary describes one recording run as delivered to sinks.
type RunSummary = sink.Run

// NewStdoutSink creates a stdout JSON-lines sink.
func NewStdoutSink(w io.Writer) Sink {
	return sink.NewStdout(w)
}

// NewWebhookSink creates a webhook POST sink with retry.
func NewWebhookSink(url string, retries int, logger *slog.Logger) Sink {
	return sink.NewWebhook(url, sink.WithWebhookRetries(retries), sink.WithWebhookLogger(logger))
}

// NewCallbackSink creates an in-process callback sink. Either function may
// be nil.
func NewCallbackSink(
	onRecord func(ctx context.Context, runID string, rec Record) error,
	onRun func(ctx context.Context, run RunSummary) error,
) Sink {
	return sink.NewCallback(onRecord, onRun)
}

func buildSinks(cfgs []SinkConfig, stdout io.Writer, logger *slog.Logger) ([]Sink, error) {
	var out []Sink
	for i, c := range cfgs {
		switch c.Type {
		case "stdout":
			out = append(out, NewStdoutSink(stdout))
		case "webhook":
			out = append(out, NewWebhookSink(c.URL, c.Retries, logger))
		default:
			return nil, fmt.Errorf("apiwatch: sink %d: unknown type %q", i, c.Type)
		}
	}
	return out, nil
}
