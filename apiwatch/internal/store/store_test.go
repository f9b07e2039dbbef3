package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	_ "modernc.org/sqlite"

	"github.com/hazyhaar/valwatch/apiwatch/internal/sink"
	"github.com/hazyhaar/valwatch/apiwatch/report"
	"github.com/hazyhaar/valwatch/apiwatch/tracker"
	"github.com/hazyhaar/valwatch/dbopen"
)

func testStore(t *testing.T) *Store {
	t.Helper()
	return New(dbopen.OpenMemory(t, dbopen.WithSchema(Schema)))
}

func ms(v float64) *float64 { return &v }

func TestRunLifecycle(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	run := sink.Run{
		ID:        "run-1",
		StartedAt: time.UnixMilli(1_700_000_000_000),
		Domains:   []string{"api.test"},
		TimeoutMs: 5000,
		Filter:    report.Filter{ThresholdMs: report.Threshold(200), Exclude: []string{"/a.x"}},
	}
	if err := s.SendRun(ctx, run); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := s.SendRun(ctx, run); err != nil {
		t.Fatalf("start again: %v", err)
	}

	got, err := s.GetRun(ctx, "run-1")
	if err != nil {
		t.Fatal(err)
	}
	if got == nil || got.Stopped() {
		t.Fatalf("run = %+v, want running", got)
	}
	if got.TimeoutMs != 5000 || len(got.Domains) != 1 || *got.Filter.ThresholdMs != 200 {
		t.Errorf("options not round-tripped: %+v", got)
	}

	run.StoppedAt = run.StartedAt.Add(3 * time.Second)
	run.Records, run.Interesting = 4, 1
	if err := s.SendRun(ctx, run); err != nil {
		t.Fatalf("stop: %v", err)
	}
	got, _ = s.GetRun(ctx, "run-1")
	if !got.Stopped() || got.Records != 4 || got.Interesting != 1 {
		t.Errorf("stopped run = %+v", got)
	}

	if missing, err := s.GetRun(ctx, "nope"); err != nil || missing != nil {
		t.Errorf("GetRun(nope) = %v, %v", missing, err)
	}
}

func TestRecordsRoundTrip(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	if err := s.InsertRun(ctx, sink.Run{ID: "run-1", StartedAt: time.Now()}); err != nil {
		t.Fatal(err)
	}

	first := tracker.Record{
		ID:  "rec-a",
		URL: "/api/user",
		Fields: []tracker.Field{
			{Path: "name", Value: "Ada", FirstSeenMs: ms(12), LastCheckedMs: 12, APIPath: "/api/user.name"},
			{Path: "id", Value: "7", LastCheckedMs: 5000},
		},
		StartedAt:  1000,
		DurationMs: 5000,
	}
	empty := tracker.Record{URL: "/api/empty", Fields: []tracker.Field{}}

	if err := s.Send(ctx, "run-1", first); err != nil {
		t.Fatal(err)
	}
	if err := s.Send(ctx, "run-1", empty); err != nil {
		t.Fatal(err)
	}

	got, err := s.ListRecords(ctx, "run-1")
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d records, want 2", len(got))
	}
	if got[0].ID != "rec-a" || len(got[0].Fields) != 2 {
		t.Fatalf("first = %+v", got[0])
	}
	if f := got[0].Fields[0]; f.FirstSeenMs == nil || *f.FirstSeenMs != 12 {
		t.Errorf("name field = %+v", f)
	}
	if f := got[0].Fields[1]; f.FirstSeenMs != nil || f.APIPath != "/api/user.id" {
		t.Errorf("id field = %+v, want unresolved with derived apiPath", f)
	}
	if got[1].ID == "" || got[1].URL != "/api/empty" || len(got[1].Fields) != 0 {
		t.Errorf("second = %+v", got[1])
	}

	counts, err := s.UnresolvedCounts(ctx, "run-1")
	if err != nil {
		t.Fatal(err)
	}
	if counts["/api/user.id"] != 1 || len(counts) != 1 {
		t.Errorf("counts = %v", counts)
	}
}

func TestInsertRecord_UnknownRun(t *testing.T) {
	s := testStore(t)
	err := s.InsertRecord(context.Background(), "missing", tracker.Record{URL: "/x"})
	if err == nil {
		t.Fatal("expected foreign key error")
	}
}

func TestListRunsAndDelete(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	base := time.UnixMilli(1_700_000_000_000)
	for i, id := range []string{"run-1", "run-2", "run-3"} {
		if err := s.InsertRun(ctx, sink.Run{ID: id, StartedAt: base.Add(time.Duration(i) * time.Minute)}); err != nil {
			t.Fatal(err)
		}
	}
	if err := s.InsertRecord(ctx, "run-2", tracker.Record{URL: "/x", Fields: []tracker.Field{{Path: "a", Value: "1"}}}); err != nil {
		t.Fatal(err)
	}

	runs, err := s.ListRuns(ctx, 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(runs) != 2 || runs[0].ID != "run-3" || runs[1].ID != "run-2" {
		t.Fatalf("runs = %+v", runs)
	}

	if err := s.DeleteRun(ctx, "run-2"); err != nil {
		t.Fatal(err)
	}
	var n int
	if err := s.DB.QueryRow(`SELECT COUNT(*) FROM fields`).Scan(&n); err != nil {
		t.Fatal(err)
	}
	if n != 0 {
		t.Errorf("fields left after cascade: %d", n)
	}
}

func TestOpen_File(t *testing.T) {
	s, err := Open(filepath.Join(t.TempDir(), "data", "apiwatch.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()
	if err := s.InsertRun(context.Background(), sink.Run{ID: "r", StartedAt: time.Now()}); err != nil {
		t.Fatal(err)
	}
}
