package recorder

import (
	"sync"
	"time"

	"github.com/hazyhaar/valwatch/apiwatch/internal/sink"
	"github.com/hazyhaar/valwatch/apiwatch/report"
	"github.com/hazyhaar/valwatch/apiwatch/tracker"
)

// Run is one recording run: start to stop. It owns the report and the
// sessions still in flight.
type Run struct {
	id        string
	opts      Options
	startedAt time.Time
	report    *report.Report

	mu        sync.Mutex
	sessions  map[string]*tracker.Session
	recording bool
	stoppedAt time.Time

	// captures counts Capture calls admitted while recording and not yet
	// registered. Add only happens under mu with recording set.
	captures sync.WaitGroup
}

func newRun(id string, opts Options, now time.Time) *Run {
	return &Run{
		id:        id,
		opts:      opts,
		startedAt: now,
		report:    report.New(),
		sessions:  make(map[string]*tracker.Session),
		recording: true,
	}
}

// ID returns the run identifier.
func (r *Run) ID() string { return r.id }

// Options returns the normalized options the run was started with.
func (r *Run) Options() Options { return r.opts }

// Recording reports whether the run still accepts responses.
func (r *Run) Recording() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.recording
}

// InFlight returns the number of sessions not yet finalized.
func (r *Run) InFlight() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// admit reserves a capture slot. It fails once the run is stopped; a slot
// taken before that holds stop back until release.
func (r *Run) admit() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.recording {
		return false
	}
	r.captures.Add(1)
	return true
}

func (r *Run) release() { r.captures.Done() }

// track registers s unless it already finalized. It is called while the
// capture slot is held, so a stop in progress still finalizes s.
func (r *Run) track(s *tracker.Session) {
	r.mu.Lock()
	if !s.Finalized() {
		r.sessions[s.ID()] = s
	}
	r.mu.Unlock()
}

func (r *Run) untrack(id string) {
	r.mu.Lock()
	delete(r.sessions, id)
	r.mu.Unlock()
}

// finalizeAll cancels every in-flight session and waits for each record.
func (r *Run) finalizeAll() int {
	r.mu.Lock()
	pending := make([]*tracker.Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		pending = append(pending, s)
	}
	r.mu.Unlock()

	for _, s := range pending {
		s.Cancel()
	}
	return len(pending)
}

// stop marks the run stopped. It returns false when it already was.
func (r *Run) stop(now time.Time) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.recording {
		return false
	}
	r.recording = false
	r.stoppedAt = now
	return true
}

// summary builds the sink view of the run.
func (r *Run) summary() sink.Run {
	r.mu.Lock()
	stoppedAt := r.stoppedAt
	r.mu.Unlock()

	flt := r.opts.Filter()
	records := r.report.Records()
	return sink.Run{
		ID:          r.id,
		StartedAt:   r.startedAt,
		StoppedAt:   stoppedAt,
		Domains:     r.opts.Domains,
		TimeoutMs:   float64(r.opts.Timeout()) / float64(time.Millisecond),
		Filter:      flt,
		Records:     len(records),
		Interesting: len(flt.Apply(records)),
	}
}
