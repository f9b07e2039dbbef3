package report

import (
	"bytes"
	"encoding/json"
	"sync"
	"testing"

	"github.com/hazyhaar/valwatch/apiwatch/tracker"
)

func seen(ms float64) *float64 { return &ms }

func field(path, value string, firstSeen *float64) tracker.Field {
	f := tracker.Field{Path: path, Value: value, FirstSeenMs: firstSeen}
	if firstSeen != nil {
		f.LastCheckedMs = *firstSeen
	}
	return f
}

func TestFilter_Threshold(t *testing.T) {
	records := []tracker.Record{{
		URL: "/api/items",
		Fields: []tracker.Field{
			field("slow", "a", seen(250)),
			field("fast", "b", seen(50)),
		},
	}}

	got := Filter{ThresholdMs: Threshold(200)}.Apply(records)
	if len(got) != 1 || len(got[0].Fields) != 1 {
		t.Fatalf("got %+v, want one record with one field", got)
	}
	if got[0].Fields[0].Path != "slow" {
		t.Errorf("kept %q, want slow", got[0].Fields[0].Path)
	}

	if got := (Filter{}).Apply(records); len(got) != 0 {
		t.Errorf("without threshold got %d records, want 0", len(got))
	}
}

func TestFilter_ZeroThresholdIsEnabled(t *testing.T) {
	records := []tracker.Record{{
		URL:    "/api",
		Fields: []tracker.Field{field("x", "1", seen(3)), field("y", "2", seen(0))},
	}}
	got := Filter{ThresholdMs: Threshold(0)}.Apply(records)
	if len(got) != 1 || len(got[0].Fields) != 1 || got[0].Fields[0].Path != "x" {
		t.Errorf("got %+v, want only x", got)
	}
}

func TestFilter_ExpectAbsent(t *testing.T) {
	records := []tracker.Record{{
		URL: "/api/flags",
		Fields: []tracker.Field{
			field("leaked", "secret", seen(10)),
			field("hidden", "internal", nil),
			field("other", "z", nil),
		},
	}}
	flt := Filter{ExpectAbsent: []string{"/api/flags.leaked", "/api/flags.hidden"}}

	got := flt.Apply(records)
	if len(got) != 1 {
		t.Fatalf("got %d records, want 1", len(got))
	}
	var kept []string
	for _, f := range got[0].Fields {
		kept = append(kept, f.Path)
	}
	if len(kept) != 2 || kept[0] != "leaked" || kept[1] != "other" {
		t.Errorf("kept %v, want [leaked other]", kept)
	}

	if r, ok := flt.Reason(records[0].Fields[0], "/api/flags"); !ok || r != ReasonUnexpected {
		t.Errorf("reason = %q %v, want unexpected", r, ok)
	}
}

func TestFilter_ExcludeWinsAndEmptyRecordsDropped(t *testing.T) {
	records := []tracker.Record{
		{URL: "/a", Fields: []tracker.Field{{Path: "x", Value: "1", APIPath: "/a.x"}}},
		{URL: "/b", Fields: []tracker.Field{{Path: "y", Value: "2"}}},
	}
	got := Filter{Exclude: []string{"/a.x"}, ExpectAbsent: []string{"/a.x"}}.Apply(records)
	if len(got) != 1 || got[0].URL != "/b" {
		t.Errorf("got %+v, want only /b", got)
	}
}

func TestFilter_DoesNotModifyInput(t *testing.T) {
	records := []tracker.Record{{URL: "/a", Fields: []tracker.Field{
		field("x", "1", nil), field("y", "2", seen(1)),
	}}}
	out := Filter{}.Apply(records)
	out[0].Fields[0].Value = "changed"

	if len(records[0].Fields) != 2 || records[0].Fields[0].Value != "1" {
		t.Errorf("input modified: %+v", records[0].Fields)
	}
}

func TestNormalize(t *testing.T) {
	flt := Filter{Exclude: []string{" /a.x ", "", "  "}, ExpectAbsent: []string{"\t/b.y"}}.Normalize()
	if len(flt.Exclude) != 1 || flt.Exclude[0] != "/a.x" {
		t.Errorf("Exclude = %q", flt.Exclude)
	}
	if len(flt.ExpectAbsent) != 1 || flt.ExpectAbsent[0] != "/b.y" {
		t.Errorf("ExpectAbsent = %q", flt.ExpectAbsent)
	}
}

func TestReport_AppendIsCopied(t *testing.T) {
	r := New()
	rec := tracker.Record{URL: "/a", Fields: []tracker.Field{field("x", "1", seen(5))}}
	r.Append(rec)
	*rec.Fields[0].FirstSeenMs = 99

	got := r.Records()
	if *got[0].Fields[0].FirstSeenMs != 5 {
		t.Errorf("stored record changed through caller alias")
	}
	*got[0].Fields[0].FirstSeenMs = 77
	if *r.Records()[0].Fields[0].FirstSeenMs != 5 {
		t.Errorf("stored record changed through Records result")
	}
}

func TestReport_ConcurrentAppend(t *testing.T) {
	r := New()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r.Append(tracker.Record{URL: "/x", Fields: []tracker.Field{}})
		}()
	}
	wg.Wait()
	if r.Len() != 50 {
		t.Errorf("Len = %d, want 50", r.Len())
	}
	r.Reset()
	if r.Len() != 0 {
		t.Errorf("Len after Reset = %d", r.Len())
	}
}

func TestRows(t *testing.T) {
	records := []tracker.Record{{
		URL:    "/api/u",
		Fields: []tracker.Field{field("name", "Ada", nil), field("id", "1", seen(300))},
	}}
	rows := Rows(records, Filter{ThresholdMs: Threshold(100)})
	if len(rows) != 2 {
		t.Fatalf("got %d rows, want 2", len(rows))
	}
	if rows[0].APIPath != "/api/u.name" || rows[0].Seen || rows[0].Reason != ReasonUnseen {
		t.Errorf("rows[0] = %+v", rows[0])
	}
	if !rows[1].Seen || *rows[1].FirstSeenMs != 300 || rows[1].Reason != ReasonSlow {
		t.Errorf("rows[1] = %+v", rows[1])
	}
}

func TestWriteJSON(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteJSON(&buf, nil); err != nil {
		t.Fatal(err)
	}
	var out []tracker.Record
	if err := json.Unmarshal(buf.Bytes(), &out); err != nil {
		t.Fatal(err)
	}
	if out == nil || len(out) != 0 {
		t.Errorf("nil records encoded as %q, want []", buf.String())
	}
}
