package browser

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
)

const bindingName = "__apiwatch_binding"

//go:embed observer.js
var observerJS string

// ErrNoBody is returned by Text while the page has no body element.
var ErrNoBody = errors.New("browser: document has no body")

// PageTarget exposes a live page as a tracker.Target. An injected
// MutationObserver reports every mutation batch through a CDP binding; each
// report notifies the subscribers once.
type PageTarget struct {
	page   *rod.Page
	logger *slog.Logger

	mu   sync.Mutex
	subs map[uint64]func()
	next uint64

	batches uint64
}

// NewPageTarget installs the observer on page. It is injected into every
// document the page loads from now on. Listening stops when ctx ends.
func NewPageTarget(ctx context.Context, page *rod.Page, logger *slog.Logger) (*PageTarget, error) {
	if logger == nil {
		logger = slog.Default()
	}
	t := &PageTarget{
		page:   page,
		logger: logger,
		subs:   make(map[uint64]func()),
	}

	if err := (proto.RuntimeAddBinding{Name: bindingName}).Call(page); err != nil {
		return nil, fmt.Errorf("browser: add binding: %w", err)
	}
	if _, err := page.EvalOnNewDocument(observerJS); err != nil {
		return nil, fmt.Errorf("browser: inject observer: %w", err)
	}
	// The current document predates the new-document script.
	if _, err := page.Eval(`() => {` + observerJS + `}`); err != nil {
		logger.Debug("browser: observer not injected in current document", "error", err)
	}

	wait := page.Context(ctx).EachEvent(func(e *proto.RuntimeBindingCalled) {
		if e.Name != bindingName {
			return
		}
		t.dispatch(e.Payload)
	})
	go wait()

	return t, nil
}

// Text returns the body's innerText.
func (t *PageTarget) Text(ctx context.Context) (string, error) {
	res, err := t.page.Context(ctx).Eval(`() => document.body ? document.body.innerText : null`)
	if err != nil {
		return "", fmt.Errorf("browser: read text: %w", err)
	}
	if res.Value.Nil() {
		return "", ErrNoBody
	}
	return res.Value.Str(), nil
}

// Subscribe registers fn for mutation batches.
func (t *PageTarget) Subscribe(fn func()) func() {
	t.mu.Lock()
	id := t.next
	t.next++
	t.subs[id] = fn
	t.mu.Unlock()

	return func() {
		t.mu.Lock()
		delete(t.subs, id)
		t.mu.Unlock()
	}
}

// Batches returns the number of mutation batches received.
func (t *PageTarget) Batches() uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.batches
}

func (t *PageTarget) dispatch(payload string) {
	n, err := parseBatch(payload)
	if err != nil {
		t.logger.Debug("browser: bad binding payload", "error", err)
	}

	t.mu.Lock()
	t.batches++
	subs := make([]func(), 0, len(t.subs))
	for _, fn := range t.subs {
		subs = append(subs, fn)
	}
	t.mu.Unlock()

	t.logger.Debug("browser: mutation batch", "records", n, "subscribers", len(subs))
	for _, fn := range subs {
		fn()
	}
}

// parseBatch decodes the observer payload and returns the mutation count.
func parseBatch(payload string) (int, error) {
	var msg struct {
		Records int `json:"records"`
	}
	if err := json.Unmarshal([]byte(payload), &msg); err != nil {
		return 0, fmt.Errorf("browser: decode batch: %w", err)
	}
	return msg.Records, nil
}
