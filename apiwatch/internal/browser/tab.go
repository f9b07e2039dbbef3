package browser

import (
	"context"
	"fmt"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"
)

// Tab wraps a Rod page opened for one visit. It is created blank so the
// render target and response capture are attached before the first request.
type Tab struct {
	Page    *rod.Page
	PageID  string
	manager *Manager

	ctx    context.Context
	cancel context.CancelFunc
}

// OpenTab creates a blank tab with stealth and resource blocking applied.
// Event listeners bound to the tab stop when it closes.
func OpenTab(ctx context.Context, mgr *Manager, pageID string) (*Tab, error) {
	b := mgr.Browser()
	if b == nil {
		return nil, fmt.Errorf("browser: no active browser")
	}

	var page *rod.Page
	var err error
	if mgr.cfg.Stealth {
		page, err = stealth.Page(b)
	} else {
		page, err = b.Page(proto.TargetCreateTarget{URL: ""})
	}
	if err != nil {
		return nil, fmt.Errorf("browser: create tab: %w", err)
	}

	if len(mgr.cfg.ResourceBlocking) > 0 {
		if err := applyResourceBlocking(page, mgr.cfg.ResourceBlocking); err != nil {
			mgr.cfg.Logger.Warn("browser: resource blocking failed", "error", err)
		}
	}

	tabCtx, cancel := context.WithCancel(ctx)
	return &Tab{
		Page:    page,
		PageID:  pageID,
		manager: mgr,
		ctx:     tabCtx,
		cancel:  cancel,
	}, nil
}

// Context is cancelled when the tab closes.
func (t *Tab) Context() context.Context { return t.ctx }

// Navigate loads pageURL and waits for the load event within the manager's
// navigation timeout. A load timeout is logged, not returned: API responses
// may still be arriving.
func (t *Tab) Navigate(ctx context.Context, pageURL string) error {
	navCtx, cancel := context.WithTimeout(ctx, t.manager.cfg.NavTimeout)
	defer cancel()

	if err := t.Page.Context(navCtx).Navigate(pageURL); err != nil {
		return fmt.Errorf("browser: navigate %s: %w", pageURL, err)
	}
	if err := t.Page.Context(navCtx).WaitLoad(); err != nil {
		t.manager.cfg.Logger.Warn("browser: wait load timeout", "url", pageURL, "error", err)
	}
	return nil
}

// Close stops the tab's listeners and closes the page.
func (t *Tab) Close() error {
	t.cancel()
	if t.Page != nil {
		return t.Page.Close()
	}
	return nil
}
