package tracker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// DefaultTimeout bounds a session when no WithTimeout option is given.
const DefaultTimeout = 5 * time.Second

// ErrTargetUnavailable is returned by Start when the render target cannot be
// read. No session exists and no record is emitted.
var ErrTargetUnavailable = errors.New("tracker: render target unavailable")

// Target is the rendered document a session watches.
type Target interface {
	// Text returns the current rendered text of the document body.
	Text(ctx context.Context) (string, error)
	// Subscribe registers fn to be called after every mutation batch and
	// returns the function that removes it.
	Subscribe(fn func()) (unsubscribe func())
}

// FinalizeFunc receives the single record a session emits.
type FinalizeFunc func(Record)

type sessionConfig struct {
	id      string
	timeout time.Duration
	clock   Clock
	logger  *slog.Logger
	onCheck func([]Field)
}

// Option configures a Session.
type Option func(*sessionConfig)

// WithTimeout sets the session deadline. Non-positive values keep the default.
func WithTimeout(d time.Duration) Option {
	return func(c *sessionConfig) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithClock replaces the system clock.
func WithClock(clk Clock) Option {
	return func(c *sessionConfig) {
		if clk != nil {
			c.clock = clk
		}
	}
}

// WithLogger sets the session logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *sessionConfig) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithID sets the record ID emitted on finalization.
func WithID(id string) Option {
	return func(c *sessionConfig) { c.id = id }
}

// WithCheckHook registers fn to receive a copy of the fields after every
// check pass. It runs on the session goroutine.
func WithCheckHook(fn func([]Field)) Option {
	return func(c *sessionConfig) { c.onCheck = fn }
}

// Session watches one response's fields against a Target. It is created
// running and finalizes exactly once: when every field is resolved, when the
// deadline passes, when Cancel is called or when the start context ends.
type Session struct {
	id         string
	source     string
	target     Target
	fields     []Field
	clock      Clock
	timeout    time.Duration
	onFinalize FinalizeFunc
	onCheck    func([]Field)
	logger     *slog.Logger

	t0    time.Time
	timer Timer

	unsubscribe func()
	unsubOnce   sync.Once

	notify     chan struct{}
	cancelCh   chan struct{}
	cancelOnce sync.Once
	done       chan struct{}
	finalized  atomic.Bool
}

// Start begins observing fields against target. It runs the first check pass
// before returning, so a value that is already rendered resolves at once.
// onFinalize is called exactly once with the outcome.
func Start(ctx context.Context, target Target, fields []Field, source string, onFinalize FinalizeFunc, opts ...Option) (*Session, error) {
	if target == nil {
		return nil, ErrTargetUnavailable
	}

	cfg := sessionConfig{
		timeout: DefaultTimeout,
		clock:   SystemClock,
		logger:  slog.Default(),
	}
	for _, o := range opts {
		o(&cfg)
	}

	s := &Session{
		id:         cfg.id,
		source:     source,
		target:     target,
		fields:     cloneFields(fields),
		clock:      cfg.clock,
		timeout:    cfg.timeout,
		onFinalize: onFinalize,
		onCheck:    cfg.onCheck,
		logger:     cfg.logger,
		notify:     make(chan struct{}, 1),
		cancelCh:   make(chan struct{}),
		done:       make(chan struct{}),
	}

	if s.fields == nil {
		s.fields = []Field{}
	}

	s.t0 = s.clock.Now()
	s.timer = s.clock.NewTimer(s.timeout)
	s.unsubscribe = target.Subscribe(s.signal)

	text, err := target.Text(ctx)
	if err != nil {
		s.timer.Stop()
		s.detach()
		return nil, fmt.Errorf("%w: %v", ErrTargetUnavailable, err)
	}

	s.apply(text, true)

	if s.allResolved() {
		s.detach()
		s.finalize()
		close(s.done)
		return s, nil
	}

	go s.loop(ctx)
	return s, nil
}

// ID returns the record ID given with WithID.
func (s *Session) ID() string { return s.id }

// Source returns the response source identifier.
func (s *Session) Source() string { return s.source }

// Done is closed once the session has finalized and emitted its record.
func (s *Session) Done() <-chan struct{} { return s.done }

// Finalized reports whether the record has been emitted.
func (s *Session) Finalized() bool { return s.finalized.Load() }

// Cancel forces finalization without a further check pass and returns once
// the record has been emitted. Calling it on a finished session is a no-op.
func (s *Session) Cancel() {
	s.cancelOnce.Do(func() { close(s.cancelCh) })
	<-s.done
}

func (s *Session) loop(ctx context.Context) {
	defer close(s.done)

	for {
		select {
		case <-s.notify:
			s.check(ctx)
			if s.allResolved() {
				s.detach()
				s.finalize()
				return
			}

		case <-s.timer.C():
			s.detach()
			s.check(ctx)
			s.finalize()
			return

		case <-s.cancelCh:
			s.detach()
			s.finalize()
			return

		case <-ctx.Done():
			s.detach()
			s.finalize()
			return
		}
	}
}

// signal is the mutation callback. Pending notifications coalesce: the next
// pass reads the text as it is then.
func (s *Session) signal() {
	select {
	case s.notify <- struct{}{}:
	default:
	}
}

func (s *Session) check(ctx context.Context) {
	text, err := s.target.Text(ctx)
	if err != nil {
		s.logger.Debug("tracker: read text failed", "source", s.source, "error", err)
	}
	s.apply(text, err == nil)
}

// apply runs one check pass. When readable is false nothing can be found,
// only lastCheckedMs moves.
func (s *Session) apply(text string, readable bool) {
	elapsed := millis(s.clock.Now().Sub(s.t0))

	for i := range s.fields {
		f := &s.fields[i]
		if f.FirstSeenMs != nil {
			continue
		}
		at := max(elapsed, f.LastCheckedMs)
		if readable && strings.Contains(text, f.Value) {
			seen := at
			f.FirstSeenMs = &seen
		}
		f.LastCheckedMs = at
	}

	if s.onCheck != nil {
		s.onCheck(cloneFields(s.fields))
	}
}

func (s *Session) allResolved() bool {
	for _, f := range s.fields {
		if f.FirstSeenMs == nil {
			return false
		}
	}
	return true
}

func (s *Session) detach() {
	s.unsubOnce.Do(func() {
		if s.unsubscribe != nil {
			s.unsubscribe()
		}
	})
}

func (s *Session) finalize() {
	if !s.finalized.CompareAndSwap(false, true) {
		return
	}
	if s.timer != nil {
		s.timer.Stop()
	}

	elapsed := millis(s.clock.Now().Sub(s.t0))
	for i := range s.fields {
		f := &s.fields[i]
		if f.FirstSeenMs == nil && elapsed > f.LastCheckedMs {
			f.LastCheckedMs = elapsed
		}
		if f.APIPath == "" {
			f.APIPath = s.source + "." + f.Path
		}
	}

	rec := Record{
		ID:         s.id,
		URL:        s.source,
		Fields:     cloneFields(s.fields),
		StartedAt:  s.t0.UnixMilli(),
		DurationMs: elapsed,
	}

	s.logger.Debug("tracker: session finalized",
		"source", s.source, "fields", len(rec.Fields), "unresolved", rec.Unresolved(),
		"elapsed_ms", elapsed)

	if s.onFinalize != nil {
		s.onFinalize(rec)
	}
}
