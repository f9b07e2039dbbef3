// Package recorder owns the recording lifecycle: it starts and stops runs,
// turns captured responses into observation sessions and accumulates their
// records.
package recorder

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/hazyhaar/valwatch/apiwatch/internal/sink"
	"github.com/hazyhaar/valwatch/apiwatch/tracker"
	"github.com/hazyhaar/valwatch/idgen"
	"github.com/hazyhaar/valwatch/observability"
)

// ErrNotRecording is returned by Capture and Stop when no run is active.
var ErrNotRecording = errors.New("recorder: not recording")

// Recorder manages recording runs. A new Start replaces the current run
// after finalizing it. All methods are safe for concurrent use.
type Recorder struct {
	logger    *slog.Logger
	clock     tracker.Clock
	sink      sink.Sink
	metrics   *observability.MetricsManager
	runIDs    idgen.Generator
	recordIDs idgen.Generator

	mu  sync.Mutex
	run *Run

	deliveries chan delivery
	closeOnce  sync.Once
	closed     chan struct{}
	workerDone chan struct{}
}

type delivery struct {
	runID  string
	record *tracker.Record
	run    *sink.Run
}

// Option configures a Recorder.
type Option func(*Recorder)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Recorder) {
		if l != nil {
			r.logger = l
		}
	}
}

// WithClock replaces the clock handed to sessions.
func WithClock(c tracker.Clock) Option {
	return func(r *Recorder) {
		if c != nil {
			r.clock = c
		}
	}
}

// WithSink delivers run summaries and finalized records to s.
func WithSink(s sink.Sink) Option {
	return func(r *Recorder) { r.sink = s }
}

// WithMetrics records session metrics to mm.
func WithMetrics(mm *observability.MetricsManager) Option {
	return func(r *Recorder) { r.metrics = mm }
}

// WithIDs sets the run and record ID generators.
func WithIDs(runs, records idgen.Generator) Option {
	return func(r *Recorder) {
		if runs != nil {
			r.runIDs = runs
		}
		if records != nil {
			r.recordIDs = records
		}
	}
}

// New creates an idle Recorder.
func New(opts ...Option) *Recorder {
	r := &Recorder{
		logger:     slog.Default(),
		clock:      tracker.SystemClock,
		runIDs:     idgen.Prefixed("run_", idgen.Default),
		recordIDs:  idgen.Prefixed("rec_", idgen.Default),
		deliveries: make(chan delivery, 256),
		closed:     make(chan struct{}),
		workerDone: make(chan struct{}),
	}
	for _, o := range opts {
		o(r)
	}
	go r.deliver()
	return r
}

// Start begins a new run. A run still recording is finalized and stopped
// first; its report is discarded from the recorder but was already
// delivered to the sinks.
func (r *Recorder) Start(opts Options) *Run {
	opts = opts.Normalize()

	if prev := r.Current(); prev != nil {
		r.stopRun(prev)
	}

	r.mu.Lock()
	run := newRun(r.runIDs(), opts, r.clock.Now())
	r.run = run
	summary := run.summary()
	r.enqueue(delivery{run: &summary})
	r.mu.Unlock()

	r.logger.Info("recorder: run started", "run", run.id, "domains", opts.Domains,
		"timeout", opts.Timeout())
	return run
}

// Current returns the current run, stopped or not, or nil before the first
// Start.
func (r *Recorder) Current() *Run {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.run
}

// Recording reports whether a run is accepting responses.
func (r *Recorder) Recording() bool {
	run := r.Current()
	return run != nil && run.Recording()
}

// Capture observes one intercepted response. source identifies the response
// (its URL) and body is the raw payload. It returns nil without error when
// the source is outside the domain allow-list. Invalid JSON and an
// unreadable target are errors and no record is produced.
func (r *Recorder) Capture(ctx context.Context, target tracker.Target, source string, body []byte) (*tracker.Session, error) {
	run := r.Current()
	if run == nil || !run.admit() {
		return nil, ErrNotRecording
	}
	defer run.release()

	if !run.opts.ShouldTrack(source) {
		r.metrics.Observe(observability.MetricResponsesSkipped, 1, "count", nil)
		return nil, nil
	}

	fields, err := tracker.FlattenJSON(body)
	if err != nil {
		r.logger.Debug("recorder: response dropped", "source", source, "error", err)
		return nil, fmt.Errorf("recorder: capture %s: %w", source, err)
	}

	id := r.recordIDs()
	sess, err := tracker.Start(ctx, target, fields, source,
		func(rec tracker.Record) { r.finalized(run, rec) },
		tracker.WithID(id),
		tracker.WithTimeout(run.opts.Timeout()),
		tracker.WithClock(r.clock),
		tracker.WithLogger(r.logger),
	)
	if err != nil {
		r.logger.Debug("recorder: response untracked", "source", source, "error", err)
		return nil, fmt.Errorf("recorder: capture %s: %w", source, err)
	}
	run.track(sess)

	r.metrics.Observe(observability.MetricResponsesCaptured, 1, "count", nil)
	r.logger.Debug("recorder: session started", "run", run.id, "record", id,
		"source", source, "fields", len(fields))
	return sess, nil
}

// finalized runs on the session goroutine once per record.
func (r *Recorder) finalized(run *Run, rec tracker.Record) {
	run.report.Append(rec)
	run.untrack(rec.ID)

	r.observe(rec)
	r.enqueue(delivery{runID: run.id, record: &rec})
}

func (r *Recorder) observe(rec tracker.Record) {
	if r.metrics == nil {
		return
	}
	labels := map[string]string{"url": rec.URL}
	r.metrics.Observe(observability.MetricSessionDurationMs, rec.DurationMs, "milliseconds", labels)
	r.metrics.Observe(observability.MetricFieldsTracked, float64(len(rec.Fields)), "count", labels)
	r.metrics.Observe(observability.MetricFieldsUnresolved, float64(rec.Unresolved()), "count", labels)
	for _, f := range rec.Fields {
		if f.FirstSeenMs != nil {
			r.metrics.Observe(observability.MetricFirstSeenMs, *f.FirstSeenMs, "milliseconds",
				map[string]string{"api_path": f.APIPath})
		}
	}
}

// FinalizeAll forces every in-flight session of the current run to emit its
// record and returns when all have.
func (r *Recorder) FinalizeAll() int {
	run := r.Current()
	if run == nil {
		return 0
	}
	n := run.finalizeAll()
	if n > 0 {
		r.logger.Debug("recorder: sessions force-finalized", "run", run.id, "count", n)
	}
	return n
}

// Stop ends the current run: captures already admitted are waited for,
// in-flight sessions are finalized, then the filtered report is returned.
// Nothing is added to the report after Stop returns. Stopping a stopped run
// returns its report again.
func (r *Recorder) Stop() ([]tracker.Record, error) {
	run := r.Current()
	if run == nil {
		return nil, ErrNotRecording
	}
	r.stopRun(run)
	return run.opts.Filter().Apply(run.report.Records()), nil
}

func (r *Recorder) stopRun(run *Run) {
	first := run.stop(r.clock.Now())
	run.captures.Wait()
	run.finalizeAll()
	if !first {
		return
	}

	summary := run.summary()
	r.enqueue(delivery{run: &summary})
	r.logger.Info("recorder: run stopped", "run", run.id,
		"records", summary.Records, "interesting", summary.Interesting)
}

// Report returns the filtered view of the current run.
func (r *Recorder) Report() []tracker.Record {
	run := r.Current()
	if run == nil {
		return []tracker.Record{}
	}
	return run.opts.Filter().Apply(run.report.Records())
}

// RawReport returns every record of the current run, unfiltered.
func (r *Recorder) RawReport() []tracker.Record {
	run := r.Current()
	if run == nil {
		return []tracker.Record{}
	}
	return run.report.Records()
}

// FilterRecords applies the current run's filter to externally supplied
// records. Without a run, only unresolved fields are kept.
func (r *Recorder) FilterRecords(records []tracker.Record) []tracker.Record {
	run := r.Current()
	if run == nil {
		return Options{}.Filter().Apply(records)
	}
	return run.opts.Filter().Apply(records)
}

// Clear drops the records accumulated so far. Sessions in flight keep
// running and append when they finalize.
func (r *Recorder) Clear() {
	if run := r.Current(); run != nil {
		run.report.Reset()
		r.logger.Debug("recorder: report cleared", "run", run.id)
	}
}

// Close stops the current run and waits until queued deliveries reached the
// sink. The sink itself is not closed.
func (r *Recorder) Close() error {
	r.closeOnce.Do(func() {
		if run := r.Current(); run != nil {
			r.stopRun(run)
		}
		close(r.closed)
		<-r.workerDone
	})
	return nil
}

func (r *Recorder) enqueue(d delivery) {
	if r.sink == nil {
		return
	}
	select {
	case <-r.closed:
		r.logger.Warn("recorder: delivery after close dropped", "run", d.runID)
		return
	default:
	}
	select {
	case <-r.closed:
		r.logger.Warn("recorder: delivery after close dropped", "run", d.runID)
	case r.deliveries <- d:
	}
}

// deliver sends to the sink in enqueue order, so a run summary always
// precedes that run's records.
func (r *Recorder) deliver() {
	defer close(r.workerDone)
	for {
		select {
		case d := <-r.deliveries:
			r.send(d)
		case <-r.closed:
			for {
				select {
				case d := <-r.deliveries:
					r.send(d)
				default:
					return
				}
			}
		}
	}
}

func (r *Recorder) send(d delivery) {
	ctx := context.Background()
	var err error
	switch {
	case d.run != nil:
		err = r.sink.SendRun(ctx, *d.run)
	case d.record != nil:
		err = r.sink.Send(ctx, d.runID, *d.record)
	}
	if err != nil {
		r.logger.Warn("recorder: sink delivery failed", "run", d.runID, "error", err)
	}
}
