package sink

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/hazyhaar/valwatch/apiwatch/tracker"
)

func sampleRecord() tracker.Record {
	seen := 12.0
	return tracker.Record{
		ID:  "rec-1",
		URL: "https://api.test/user",
		Fields: []tracker.Field{
			{Path: "name", Value: "Ada", FirstSeenMs: &seen, LastCheckedMs: 12, APIPath: "https://api.test/user.name"},
			{Path: "id", Value: "7", LastCheckedMs: 30, APIPath: "https://api.test/user.id"},
		},
	}
}

func TestStdout_JSONLines(t *testing.T) {
	var buf bytes.Buffer
	s := NewStdout(&buf)

	if err := s.SendRun(context.Background(), Run{ID: "run-1", StartedAt: time.UnixMilli(1000)}); err != nil {
		t.Fatal(err)
	}
	if err := s.Send(context.Background(), "run-1", sampleRecord()); err != nil {
		t.Fatal(err)
	}

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("got %d lines, want 2", len(lines))
	}

	var env struct {
		Type  string         `json:"type"`
		RunID string         `json:"runId"`
		Data  tracker.Record `json:"data"`
	}
	if err := json.Unmarshal([]byte(lines[1]), &env); err != nil {
		t.Fatal(err)
	}
	if env.Type != "record" || env.RunID != "run-1" {
		t.Errorf("envelope = %+v", env)
	}
	if env.Data.Fields[1].FirstSeenMs != nil {
		t.Errorf("unresolved field decoded with firstSeenMs")
	}
	if !strings.Contains(lines[1], `"firstSeenMs":null`) {
		t.Errorf("unresolved field should encode firstSeenMs as null: %s", lines[1])
	}
	if strings.Contains(lines[0], "stoppedAt") {
		t.Errorf("running run should omit stoppedAt: %s", lines[0])
	}
}

func TestWebhook_RetriesThenSucceeds(t *testing.T) {
	var calls atomic.Int32
	var lastBody atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		lastBody.Store(string(body))
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	w := NewWebhook(srv.URL, WithWebhookBackoff(time.Millisecond))
	if err := w.Send(context.Background(), "run-1", sampleRecord()); err != nil {
		t.Fatal(err)
	}
	if calls.Load() != 3 {
		t.Errorf("calls = %d, want 3", calls.Load())
	}
	if body := lastBody.Load().(string); !strings.Contains(body, `"type":"record"`) {
		t.Errorf("body = %s", body)
	}
}

func TestWebhook_Exhausted(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	w := NewWebhook(srv.URL, WithWebhookRetries(1), WithWebhookBackoff(time.Millisecond))
	err := w.SendRun(context.Background(), Run{ID: "run-1"})
	if err == nil || !strings.Contains(err.Error(), "status 502") {
		t.Fatalf("err = %v, want exhausted with status 502", err)
	}
}

func TestWebhook_ContextCancelled(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	w := NewWebhook(srv.URL, WithWebhookBackoff(time.Hour))
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()
	if err := w.Send(ctx, "run-1", sampleRecord()); !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
}

func TestRouter_FanOutContinuesOnError(t *testing.T) {
	boom := errors.New("boom")
	var got []string

	failing := NewCallback(func(context.Context, string, tracker.Record) error { return boom }, nil)
	ok := NewCallback(func(_ context.Context, runID string, rec tracker.Record) error {
		got = append(got, runID+":"+rec.URL)
		return nil
	}, nil)

	r := NewRouter(nil, failing, nil, ok)
	if r.Len() != 2 {
		t.Fatalf("Len = %d, want 2", r.Len())
	}
	if err := r.Send(context.Background(), "run-1", sampleRecord()); !errors.Is(err, boom) {
		t.Fatalf("err = %v, want boom", err)
	}
	if len(got) != 1 || got[0] != "run-1:https://api.test/user" {
		t.Errorf("delivered = %v", got)
	}
	if err := r.SendRun(context.Background(), Run{ID: "run-1"}); err != nil {
		t.Errorf("SendRun with nil handlers: %v", err)
	}
}
