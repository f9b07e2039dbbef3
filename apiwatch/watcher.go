// Package apiwatch is the public entry point of the API value tracker. It
// records JSON API responses captured from live pages, flattens them into
// leaf fields and measures when each value first appears in the rendered
// page.
//
// Usage:
//
//	cfg, _ := apiwatch.LoadConfigFile("apiwatch.yaml")
//	w, _ := apiwatch.New(cfg, apiwatch.WithLogger(logger))
//	defer w.Close()
//	records, _ := w.Run(ctx)
package apiwatch

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/hazyhaar/valwatch/apiwatch/internal/browser"
	"github.com/hazyhaar/valwatch/apiwatch/internal/recorder"
	"github.com/hazyhaar/valwatch/apiwatch/internal/sink"
	"github.com/hazyhaar/valwatch/apiwatch/internal/store"
	"github.com/hazyhaar/valwatch/apiwatch/report"
	"github.com/hazyhaar/valwatch/apiwatch/tracker"
	"github.com/hazyhaar/valwatch/apiwatch/tracker/htmltext"
	"github.com/hazyhaar/valwatch/dbopen"
	"github.com/hazyhaar/valwatch/horosafe"
	"github.com/hazyhaar/valwatch/idgen"
	"github.com/hazyhaar/valwatch/observability"
)

// Watcher ties the browser, the recorder and the outputs together.
type Watcher struct {
	cfg    Config
	logger *slog.Logger

	mgr       *browser.Manager
	rec       *recorder.Recorder
	sinkR     *sink.Router
	store     *store.Store
	metrics   *observability.MetricsManager
	metricsDB *sql.DB // owned only when separate from the store

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	pages   map[string]*visit
	pageIDs idgen.Generator
	closed  bool
}

// visit is one open tab with its render target and response capture.
type visit struct {
	url     string
	tab     *browser.Tab
	target  *browser.PageTarget
	capture *browser.Capture
}

type options struct {
	logger    *slog.Logger
	stdout    io.Writer
	sinks     []Sink
	runIDs    idgen.Generator
	recordIDs idgen.Generator
	clock     tracker.Clock
}

// Option configures a Watcher.
type Option func(*options)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithSinks adds output backends to the ones named in the configuration.
func WithSinks(sinks ...Sink) Option {
	return func(o *options) { o.sinks = append(o.sinks, sinks...) }
}

// WithStdout sets the writer used by configured stdout sinks.
func WithStdout(w io.Writer) Option {
	return func(o *options) { o.stdout = w }
}

// WithIDs sets the run and record ID generators.
func WithIDs(runs, records idgen.Generator) Option {
	return func(o *options) {
		o.runIDs = runs
		o.recordIDs = records
	}
}

// WithClock replaces the clock used to time sessions.
func WithClock(c tracker.Clock) Option {
	return func(o *options) { o.clock = c }
}

// New creates a Watcher. The browser is launched on the first visit, so a
// Watcher used only for offline checks never starts Chrome.
func New(cfg *Config, opts ...Option) (*Watcher, error) {
	o := options{logger: slog.Default(), stdout: os.Stdout}
	for _, fn := range opts {
		fn(&o)
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}

	var c Config
	if cfg != nil {
		c = *cfg
	}
	c.ApplyDefaults()
	if err := c.Validate(); err != nil {
		return nil, err
	}

	sinks, err := buildSinks(c.Sinks, o.stdout, o.logger)
	if err != nil {
		return nil, err
	}
	sinks = append(sinks, o.sinks...)

	w := &Watcher{
		cfg:     c,
		logger:  o.logger,
		pages:   make(map[string]*visit),
		pageIDs: idgen.Prefixed("page_", idgen.Default),
	}

	if c.Store.DBPath != "" {
		st, err := store.Open(c.Store.DBPath)
		if err != nil {
			return nil, fmt.Errorf("apiwatch: open store: %w", err)
		}
		w.store = st
		sinks = append(sinks, st)
	}

	if c.Metrics.Enabled {
		if err := w.openMetrics(); err != nil {
			if w.store != nil {
				w.store.Close()
			}
			return nil, err
		}
	}

	w.sinkR = sink.NewRouter(o.logger, sinks...)
	w.rec = recorder.New(
		recorder.WithLogger(o.logger),
		recorder.WithSink(w.sinkR),
		recorder.WithMetrics(w.metrics),
		recorder.WithIDs(o.runIDs, o.recordIDs),
		recorder.WithClock(o.clock),
	)
	w.mgr = browser.NewManager(browser.Config{
		RemoteURL:        c.Browser.Remote,
		Bin:              c.Browser.Bin,
		Headful:          c.Browser.Headful,
		Stealth:          c.Browser.Stealth,
		ResourceBlocking: c.Browser.ResourceBlocking,
		NavTimeout:       c.Browser.NavTimeout,
		Logger:           o.logger,
	})
	w.ctx, w.cancel = context.WithCancel(context.Background())
	return w, nil
}

func (w *Watcher) openMetrics() error {
	mc := w.cfg.Metrics
	var db *sql.DB
	switch {
	case mc.DBPath != "":
		mdb, err := dbopen.Open(mc.DBPath, dbopen.WithMkdirAll(), dbopen.WithSchema(observability.Schema))
		if err != nil {
			return fmt.Errorf("apiwatch: open metrics db: %w", err)
		}
		db = mdb
		w.metricsDB = mdb
	case w.store != nil:
		if err := observability.Init(w.store.DB); err != nil {
			return fmt.Errorf("apiwatch: metrics schema: %w", err)
		}
		db = w.store.DB
	default:
		return fmt.Errorf("apiwatch: metrics enabled without db_path or store")
	}
	w.metrics = observability.NewMetricsManager(db, mc.BufferSize, mc.FlushInterval, w.logger)
	return nil
}

// Config returns the effective configuration.
func (w *Watcher) Config() Config { return w.cfg }

// ErrNoStore is returned by history queries when no store is configured.
var ErrNoStore = errors.New("apiwatch: no store configured")

// Runs lists persisted runs, most recent first.
func (w *Watcher) Runs(ctx context.Context, limit int) ([]RunSummary, error) {
	if w.store == nil {
		return nil, ErrNoStore
	}
	return w.store.ListRuns(ctx, limit)
}

// RunRecords returns the persisted records of one run. The run is nil when
// unknown.
func (w *Watcher) RunRecords(ctx context.Context, runID string) (*RunSummary, []Record, error) {
	if w.store == nil {
		return nil, nil, ErrNoStore
	}
	run, err := w.store.GetRun(ctx, runID)
	if err != nil || run == nil {
		return nil, nil, err
	}
	records, err := w.store.ListRecords(ctx, runID)
	if err != nil {
		return nil, nil, err
	}
	return run, records, nil
}

// Metrics returns the metrics manager, nil when metrics are disabled.
func (w *Watcher) Metrics() *observability.MetricsManager { return w.metrics }

// Status describes the current run.
type Status struct {
	RunID     string   `json:"runId,omitempty"`
	Recording bool     `json:"recording"`
	InFlight  int      `json:"inFlight"`
	Records   int      `json:"records"`
	Pages     []string `json:"pages"`
	Options   *Options `json:"options,omitempty"`
}

// Status returns the state of the current run.
func (w *Watcher) Status() Status {
	st := Status{Pages: w.PageIDs()}
	run := w.rec.Current()
	if run == nil {
		return st
	}
	opts := run.Options()
	st.RunID = run.ID()
	st.Recording = run.Recording()
	st.InFlight = run.InFlight()
	st.Records = len(w.rec.RawReport())
	st.Options = &opts
	return st
}

// StartRecording begins a new run. A run still recording is stopped first.
func (w *Watcher) StartRecording(opts Options) Status {
	w.rec.Start(opts)
	return w.Status()
}

// StopRecording ends the current run and returns its filtered report.
func (w *Watcher) StopRecording() ([]Record, error) {
	return w.rec.Stop()
}

// Report returns the filtered records of the current run.
func (w *Watcher) Report() []Record { return w.rec.Report() }

// RawReport returns every record of the current run.
func (w *Watcher) RawReport() []Record { return w.rec.RawReport() }

// FilterRecords applies the current run's filter to records.
func (w *Watcher) FilterRecords(records []Record) []Record {
	return w.rec.FilterRecords(records)
}

// Rows returns every field of the current run in tabular form. Rows of
// reported fields carry the reason.
func (w *Watcher) Rows() []Row {
	return report.Rows(w.rec.RawReport(), w.currentFilter())
}

// FilterRows tabulates the fields of externally supplied records that the
// current run's filter reports.
func (w *Watcher) FilterRows(records []Record) []Row {
	return report.Rows(w.FilterRecords(records), w.currentFilter())
}

func (w *Watcher) currentFilter() report.Filter {
	if run := w.rec.Current(); run != nil {
		return run.Options().Filter()
	}
	return report.Filter{}
}

// Clear drops the records of the current run.
func (w *Watcher) Clear() { w.rec.Clear() }

// FinalizeAll forces every in-flight session to emit its record.
func (w *Watcher) FinalizeAll() int { return w.rec.FinalizeAll() }

// Check observes one response against a static HTML document. The document
// never changes, so the session is finalized right after its first check
// pass. It returns nil without error when source is outside the run's
// domains.
func (w *Watcher) Check(ctx context.Context, doc io.Reader, source string, body []byte) (*Record, error) {
	page, err := htmltext.Parse(doc)
	if err != nil {
		return nil, fmt.Errorf("apiwatch: check: %w", err)
	}
	sess, err := w.rec.Capture(ctx, page, source, body)
	if err != nil || sess == nil {
		return nil, err
	}
	sess.Cancel()

	raw := w.rec.RawReport()
	for i := len(raw) - 1; i >= 0; i-- {
		if raw[i].ID == sess.ID() {
			return &raw[i], nil
		}
	}
	return nil, fmt.Errorf("apiwatch: check: record %s not in report", sess.ID())
}

// Visit opens pageURL in a new tab whose JSON responses are recorded. An
// empty pageID gets a generated one; an existing page with the same ID is
// closed first. The tab stays open until ClosePage or Close.
func (w *Watcher) Visit(ctx context.Context, pageURL, pageID string) (string, error) {
	if err := w.checkVisit(pageURL, pageID); err != nil {
		return "", err
	}

	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return "", fmt.Errorf("apiwatch: watcher is closed")
	}
	if pageID == "" {
		pageID = w.pageIDs()
	}
	w.mu.Unlock()

	// The browser outlives the request that launched it.
	if _, err := w.mgr.Start(w.ctx); err != nil {
		return "", fmt.Errorf("apiwatch: visit: %w", err)
	}
	w.ClosePage(pageID)

	v, err := w.open(pageID, pageURL)
	if err != nil {
		return "", err
	}

	w.mu.Lock()
	w.pages[pageID] = v
	w.mu.Unlock()

	if err := v.tab.Navigate(ctx, pageURL); err != nil {
		w.ClosePage(pageID)
		return "", fmt.Errorf("apiwatch: visit: %w", err)
	}
	w.logger.Info("apiwatch: page loaded", "page_id", pageID, "url", pageURL)
	return pageID, nil
}

func (w *Watcher) checkVisit(pageURL, pageID string) error {
	check := func(u string) error {
		_, err := horosafe.CheckURL(u)
		return err
	}
	if w.cfg.Browser.BlockPrivate {
		check = horosafe.CheckPublicURL
	}
	if err := check(pageURL); err != nil {
		return fmt.Errorf("%w: %v", errInvalid, err)
	}
	if pageID != "" {
		if err := horosafe.ValidateIdentifier(pageID); err != nil {
			return fmt.Errorf("%w: page_id: %v", errInvalid, err)
		}
	}
	return nil
}

// open creates the tab and attaches target and capture before navigation.
func (w *Watcher) open(pageID, pageURL string) (*visit, error) {
	tab, err := browser.OpenTab(w.ctx, w.mgr, pageID)
	if err != nil {
		return nil, fmt.Errorf("apiwatch: visit: %w", err)
	}
	target, err := browser.NewPageTarget(tab.Context(), tab.Page, w.logger)
	if err != nil {
		tab.Close()
		return nil, fmt.Errorf("apiwatch: visit: %w", err)
	}
	capture, err := browser.StartCapture(tab.Context(), tab.Page, w.onResponse(pageID, target), w.logger)
	if err != nil {
		tab.Close()
		return nil, fmt.Errorf("apiwatch: visit: %w", err)
	}
	return &visit{url: pageURL, tab: tab, target: target, capture: capture}, nil
}

func (w *Watcher) onResponse(pageID string, target tracker.Target) browser.ResponseFunc {
	return func(ctx context.Context, url string, body []byte) {
		sess, err := w.rec.Capture(ctx, target, url, body)
		switch {
		case errors.Is(err, recorder.ErrNotRecording):
		case err != nil:
			w.logger.Debug("apiwatch: response not tracked", "page_id", pageID, "url", url, "error", err)
		case sess != nil:
			w.logger.Debug("apiwatch: response tracked", "page_id", pageID, "url", url, "record", sess.ID())
		}
	}
}

// PageIDs lists the open pages.
func (w *Watcher) PageIDs() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	ids := make([]string, 0, len(w.pages))
	for id := range w.pages {
		ids = append(ids, id)
	}
	return ids
}

// ClosePage closes one tab. Sessions bound to it finalize with what they
// saw. Unknown IDs are ignored.
func (w *Watcher) ClosePage(pageID string) {
	w.mu.Lock()
	v, ok := w.pages[pageID]
	delete(w.pages, pageID)
	w.mu.Unlock()
	if !ok {
		return
	}
	if err := v.tab.Close(); err != nil {
		w.logger.Debug("apiwatch: close tab", "page_id", pageID, "error", err)
	}
}

// Run records the configured pages: it starts a run with the configured
// recording options, visits each page and leaves it its wait time, then
// stops the run and returns the filtered report.
func (w *Watcher) Run(ctx context.Context) ([]Record, error) {
	w.StartRecording(w.cfg.Recording.Options())

	for _, p := range w.cfg.Pages {
		id, err := w.Visit(ctx, p.URL, p.ID)
		if err != nil {
			w.logger.Warn("apiwatch: page skipped", "page_id", p.ID, "url", p.URL, "error", err)
			continue
		}
		if err := sleep(ctx, p.Wait); err != nil {
			break
		}
		w.drain(id)
	}

	records, err := w.StopRecording()
	for _, p := range w.cfg.Pages {
		w.ClosePage(p.ID)
	}
	return records, err
}

// drain waits for body reads still in flight on a page.
func (w *Watcher) drain(pageID string) {
	w.mu.Lock()
	v := w.pages[pageID]
	w.mu.Unlock()
	if v != nil {
		v.capture.Wait()
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Close stops the current run, flushes every output and shuts the browser
// down.
func (w *Watcher) Close() error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	w.closed = true
	w.mu.Unlock()

	w.rec.Close()
	for _, id := range w.PageIDs() {
		w.ClosePage(id)
	}
	w.cancel()

	var errs []error
	if err := w.metrics.Close(); err != nil {
		errs = append(errs, err)
	}
	// The router closes the store with the other sinks.
	if err := w.sinkR.Close(); err != nil {
		errs = append(errs, err)
	}
	if w.metricsDB != nil {
		if err := w.metricsDB.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if err := w.mgr.Close(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}
