package browser

import (
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
)

// ResponseFunc receives one captured API response: the request URL and the
// raw body.
type ResponseFunc func(ctx context.Context, url string, body []byte)

// Capture forwards the JSON API responses of a page. Only Fetch and XHR
// responses whose MIME type mentions json are kept; the body is read once
// loading finished.
type Capture struct {
	page    *rod.Page
	handler ResponseFunc
	logger  *slog.Logger

	mu       sync.Mutex
	idle     *sync.Cond
	pending  map[proto.NetworkRequestID]string
	fetching int
}

// StartCapture enables the Network domain on page and calls handler for every
// JSON response until ctx ends.
func StartCapture(ctx context.Context, page *rod.Page, handler ResponseFunc, logger *slog.Logger) (*Capture, error) {
	if logger == nil {
		logger = slog.Default()
	}
	c := &Capture{
		page:    page,
		handler: handler,
		logger:  logger,
		pending: make(map[proto.NetworkRequestID]string),
	}
	c.idle = sync.NewCond(&c.mu)

	if err := (proto.NetworkEnable{}).Call(page); err != nil {
		return nil, fmt.Errorf("browser: network enable: %w", err)
	}

	wait := page.Context(ctx).EachEvent(
		func(e *proto.NetworkResponseReceived) {
			if e.Response == nil || !capturable(e.Type, e.Response.MIMEType) {
				return
			}
			c.mu.Lock()
			c.pending[e.RequestID] = e.Response.URL
			c.mu.Unlock()
		},
		func(e *proto.NetworkLoadingFinished) {
			url, ok := c.begin(e.RequestID)
			if !ok {
				return
			}
			go func() {
				defer c.finish()
				c.fetch(ctx, e.RequestID, url)
			}()
		},
		func(e *proto.NetworkLoadingFailed) {
			c.take(e.RequestID)
		},
	)
	go wait()

	return c, nil
}

// Wait blocks until in-flight body reads have been handed to the handler.
func (c *Capture) Wait() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for c.fetching > 0 {
		c.idle.Wait()
	}
}

// begin moves a finished request from pending to fetching.
func (c *Capture) begin(id proto.NetworkRequestID) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	url, ok := c.pending[id]
	if !ok {
		return "", false
	}
	delete(c.pending, id)
	c.fetching++
	return url, true
}

func (c *Capture) finish() {
	c.mu.Lock()
	c.fetching--
	if c.fetching == 0 {
		c.idle.Broadcast()
	}
	c.mu.Unlock()
}

func (c *Capture) take(id proto.NetworkRequestID) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	url, ok := c.pending[id]
	delete(c.pending, id)
	return url, ok
}

func (c *Capture) fetch(ctx context.Context, id proto.NetworkRequestID, url string) {
	res, err := proto.NetworkGetResponseBody{RequestID: id}.Call(c.page.Context(ctx))
	if err != nil {
		c.logger.Debug("browser: response body unavailable", "url", url, "error", err)
		return
	}
	body, err := decodeBody(res.Body, res.Base64Encoded)
	if err != nil {
		c.logger.Debug("browser: response body undecodable", "url", url, "error", err)
		return
	}
	c.handler(ctx, url, body)
}

// capturable reports whether a response may carry an API payload.
func capturable(t proto.NetworkResourceType, mime string) bool {
	if t != proto.NetworkResourceTypeFetch && t != proto.NetworkResourceTypeXHR {
		return false
	}
	return strings.Contains(strings.ToLower(mime), "json")
}

func decodeBody(body string, b64 bool) ([]byte, error) {
	if !b64 {
		return []byte(body), nil
	}
	out, err := base64.StdEncoding.DecodeString(body)
	if err != nil {
		return nil, fmt.Errorf("browser: decode body: %w", err)
	}
	return out, nil
}
