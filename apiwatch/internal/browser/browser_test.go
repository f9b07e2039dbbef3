package browser

import (
	"context"
	"encoding/base64"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/go-rod/rod/lib/proto"
)

func TestCapturable(t *testing.T) {
	cases := []struct {
		typ  proto.NetworkResourceType
		mime string
		want bool
	}{
		{proto.NetworkResourceTypeFetch, "application/json", true},
		{proto.NetworkResourceTypeXHR, "application/problem+json", true},
		{proto.NetworkResourceTypeXHR, "Application/JSON; charset=utf-8", true},
		{proto.NetworkResourceTypeFetch, "text/html", false},
		{proto.NetworkResourceTypeDocument, "application/json", false},
		{proto.NetworkResourceTypeScript, "application/json", false},
	}
	for _, c := range cases {
		if got := capturable(c.typ, c.mime); got != c.want {
			t.Errorf("capturable(%s, %q) = %v, want %v", c.typ, c.mime, got, c.want)
		}
	}
}

func TestDecodeBody(t *testing.T) {
	raw := `{"a":1}`
	got, err := decodeBody(base64.StdEncoding.EncodeToString([]byte(raw)), true)
	if err != nil || string(got) != raw {
		t.Fatalf("base64: %q, %v", got, err)
	}
	got, err = decodeBody(raw, false)
	if err != nil || string(got) != raw {
		t.Fatalf("plain: %q, %v", got, err)
	}
	if _, err := decodeBody("!!", true); err == nil {
		t.Fatal("expected error for bad base64")
	}
}

func TestShouldBlock(t *testing.T) {
	set := blockList([]string{"Images", " fonts", "css", "fetch", ""})
	cases := map[proto.NetworkResourceType]bool{
		proto.NetworkResourceTypeImage:      true,
		proto.NetworkResourceTypeFont:       true,
		proto.NetworkResourceTypeStylesheet: true,
		proto.NetworkResourceTypeMedia:      false,
		proto.NetworkResourceTypeFetch:      false,
		proto.NetworkResourceTypeXHR:        false,
		proto.NetworkResourceTypeDocument:   false,
	}
	for typ, want := range cases {
		if got := shouldBlock(set, typ); got != want {
			t.Errorf("shouldBlock(%s) = %v, want %v", typ, got, want)
		}
	}
}

func TestParseBatch(t *testing.T) {
	n, err := parseBatch(`{"records":3}`)
	if err != nil || n != 3 {
		t.Fatalf("parseBatch = %d, %v", n, err)
	}
	if _, err := parseBatch(`nope`); err == nil {
		t.Fatal("expected error")
	}
}

func TestPageTarget_DispatchNotifiesSubscribers(t *testing.T) {
	tgt := &PageTarget{subs: make(map[uint64]func()), logger: slog.New(slog.NewTextHandler(io.Discard, nil))}
	calls := make(chan struct{}, 4)
	unsubscribe := tgt.Subscribe(func() { calls <- struct{}{} })

	tgt.dispatch(`{"records":2}`)
	select {
	case <-calls:
	case <-time.After(time.Second):
		t.Fatal("subscriber not called")
	}

	unsubscribe()
	tgt.dispatch(`{"records":1}`)
	if len(calls) != 0 {
		t.Error("unsubscribed callback called")
	}
	if tgt.Batches() != 2 {
		t.Errorf("Batches = %d, want 2", tgt.Batches())
	}
}

func TestCapture_WaitTracksFetches(t *testing.T) {
	c := &Capture{pending: map[proto.NetworkRequestID]string{"1": "/api/a"}}
	c.idle = sync.NewCond(&c.mu)

	c.Wait()

	if _, ok := c.begin("2"); ok {
		t.Fatal("begin on unknown request succeeded")
	}
	url, ok := c.begin("1")
	if !ok || url != "/api/a" {
		t.Fatalf("begin = %q, %v", url, ok)
	}
	if _, ok := c.begin("1"); ok {
		t.Fatal("request fetched twice")
	}

	done := make(chan struct{})
	go func() {
		c.Wait()
		close(done)
	}()
	select {
	case <-done:
		t.Fatal("Wait returned while a body read was in flight")
	case <-time.After(20 * time.Millisecond):
	}

	c.finish()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Wait did not return after the read finished")
	}
}

func TestConfigDefaults(t *testing.T) {
	m := NewManager(Config{})
	if m.cfg.NavTimeout != 30*time.Second || m.cfg.Logger == nil {
		t.Errorf("defaults = %+v", m.cfg)
	}
	if m.Browser() != nil {
		t.Error("browser before Start")
	}
	if err := m.Close(); err != nil {
		t.Fatal(err)
	}
	if _, err := m.Start(context.Background()); err == nil {
		t.Error("Start after Close should fail")
	}
}
