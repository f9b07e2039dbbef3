package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/hazyhaar/valwatch/apiwatch/tracker"
	"github.com/hazyhaar/valwatch/dbopen"
)

// InsertRecord appends rec to run runID with its fields. The run row must
// exist. A record without ID gets one.
func (s *Store) InsertRecord(ctx context.Context, runID string, rec tracker.Record) error {
	if rec.ID == "" {
		rec.ID = s.newID()
	}
	err := dbopen.RunTx(ctx, s.DB, func(tx *sql.Tx) error {
		var seq int
		if err := tx.QueryRowContext(ctx,
			`SELECT COALESCE(MAX(seq), 0) + 1 FROM records WHERE run_id = ?`, runID).Scan(&seq); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO records (id, run_id, seq, url, started_at, duration_ms)
			VALUES (?,?,?,?,?,?)`,
			rec.ID, runID, seq, rec.URL, rec.StartedAt, rec.DurationMs); err != nil {
			return err
		}

		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO fields (record_id, position, path, value, first_seen_ms, last_checked_ms, api_path)
			VALUES (?,?,?,?,?,?,?)`)
		if err != nil {
			return err
		}
		defer stmt.Close()

		for i, f := range rec.Fields {
			if _, err := stmt.ExecContext(ctx, rec.ID, i, f.Path, f.Value,
				nullFloat(f.FirstSeenMs), f.LastCheckedMs, f.QualifiedPath(rec.URL)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("store: insert record: %w", err)
	}
	return nil
}

// ListRecords returns the records of a run in arrival order.
func (s *Store) ListRecords(ctx context.Context, runID string) ([]tracker.Record, error) {
	rows, err := s.DB.QueryContext(ctx, `
		SELECT r.id, r.url, r.started_at, r.duration_ms,
		       f.path, f.value, f.first_seen_ms, f.last_checked_ms, f.api_path
		FROM records r
		LEFT JOIN fields f ON f.record_id = r.id
		WHERE r.run_id = ?
		ORDER BY r.seq, f.position`, runID)
	if err != nil {
		return nil, fmt.Errorf("store: list records: %w", err)
	}
	defer rows.Close()

	out := []tracker.Record{}
	for rows.Next() {
		var (
			rec                    tracker.Record
			path, value, apiPath   sql.NullString
			firstSeen, lastChecked sql.NullFloat64
		)
		if err := rows.Scan(&rec.ID, &rec.URL, &rec.StartedAt, &rec.DurationMs,
			&path, &value, &firstSeen, &lastChecked, &apiPath); err != nil {
			return nil, fmt.Errorf("store: scan record: %w", err)
		}

		if n := len(out); n == 0 || out[n-1].ID != rec.ID {
			rec.Fields = []tracker.Field{}
			out = append(out, rec)
		}
		if !path.Valid {
			continue
		}

		f := tracker.Field{
			Path:          path.String,
			Value:         value.String,
			LastCheckedMs: lastChecked.Float64,
			APIPath:       apiPath.String,
		}
		if firstSeen.Valid {
			v := firstSeen.Float64
			f.FirstSeenMs = &v
		}
		last := &out[len(out)-1]
		last.Fields = append(last.Fields, f)
	}
	return out, rows.Err()
}

// UnresolvedCounts returns, for run runID, how many times each apiPath was
// left unresolved.
func (s *Store) UnresolvedCounts(ctx context.Context, runID string) (map[string]int, error) {
	rows, err := s.DB.QueryContext(ctx, `
		SELECT f.api_path, COUNT(*)
		FROM fields f JOIN records r ON r.id = f.record_id
		WHERE r.run_id = ? AND f.first_seen_ms IS NULL
		GROUP BY f.api_path`, runID)
	if err != nil {
		return nil, fmt.Errorf("store: unresolved counts: %w", err)
	}
	defer rows.Close()

	out := make(map[string]int)
	for rows.Next() {
		var path string
		var n int
		if err := rows.Scan(&path, &n); err != nil {
			return nil, fmt.Errorf("store: scan count: %w", err)
		}
		out[path] = n
	}
	return out, rows.Err()
}
