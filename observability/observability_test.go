package observability

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/hazyhaar/valwatch/dbopen"

	_ "modernc.org/sqlite"
)

func setupObsDB(t *testing.T) *sql.DB {
	t.Helper()
	return dbopen.OpenMemory(t, dbopen.WithSchema(Schema))
}

func TestInit_Idempotent(t *testing.T) {
	db := dbopen.OpenMemory(t)
	for i := 0; i < 2; i++ {
		if err := Init(db); err != nil {
			t.Fatalf("Init #%d: %v", i+1, err)
		}
	}
}

func TestMetricsManager_RecordAndQuery(t *testing.T) {
	db := setupObsDB(t)
	mm := NewMetricsManager(db, 100, time.Hour, nil)

	mm.Observe(MetricSessionDurationMs, 42, "milliseconds", map[string]string{"source": "/api/a"})
	mm.Observe(MetricFieldsTracked, 3, "count", nil)
	mm.Flush()

	got, err := mm.Query(context.Background(), MetricSessionDurationMs, time.Time{}, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 {
		t.Fatalf("got %d metrics, want 1", len(got))
	}
	if got[0].Value != 42 || got[0].Unit != "milliseconds" || got[0].Labels["source"] != "/api/a" {
		t.Errorf("metric = %+v", got[0])
	}

	all, err := mm.Query(context.Background(), "", time.Time{}, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 2 {
		t.Errorf("got %d metrics, want 2", len(all))
	}
	mm.Close()
}

func TestMetricsManager_FlushOnFullBuffer(t *testing.T) {
	db := setupObsDB(t)
	mm := NewMetricsManager(db, 2, time.Hour, nil)
	defer mm.Close()

	mm.Observe(MetricResponsesCaptured, 1, "count", nil)
	mm.Observe(MetricResponsesCaptured, 1, "count", nil)

	var n int
	if err := db.QueryRow(`SELECT COUNT(*) FROM metrics_timeseries`).Scan(&n); err != nil {
		t.Fatal(err)
	}
	if n != 2 {
		t.Errorf("rows = %d, want 2 after buffer filled", n)
	}
}

func TestMetricsManager_CloseFlushes(t *testing.T) {
	db := setupObsDB(t)
	mm := NewMetricsManager(db, 100, time.Hour, nil)
	mm.Observe(MetricFieldsUnresolved, 1, "count", nil)
	mm.Close()
	mm.Close()

	var n int
	if err := db.QueryRow(`SELECT COUNT(*) FROM metrics_timeseries`).Scan(&n); err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Errorf("rows = %d, want 1", n)
	}
}

func TestMetricsManager_Cleanup(t *testing.T) {
	db := setupObsDB(t)
	mm := NewMetricsManager(db, 100, time.Hour, nil)
	defer mm.Close()

	mm.Record(&Metric{Name: MetricFirstSeenMs, Value: 1, Timestamp: time.Now().Add(-48 * time.Hour)})
	mm.Record(&Metric{Name: MetricFirstSeenMs, Value: 2})
	mm.Flush()

	removed, err := mm.Cleanup(context.Background(), 24*time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	if removed != 1 {
		t.Errorf("removed = %d, want 1", removed)
	}
}

func TestMetricsManager_NilIsNoop(t *testing.T) {
	var mm *MetricsManager
	mm.Observe(MetricFieldsTracked, 1, "count", nil)
	mm.Flush()
	if err := mm.Close(); err != nil {
		t.Fatal(err)
	}
}
