package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/hazyhaar/valwatch/apiwatch/internal/sink"
)

// runOptions is the JSON stored in runs.options.
type runOptions struct {
	Domains   []string        `json:"domains,omitempty"`
	TimeoutMs float64         `json:"timeoutMs"`
	Filter    json.RawMessage `json:"filter"`
}

// InsertRun records the start of a run. Inserting an existing ID is a no-op.
func (s *Store) InsertRun(ctx context.Context, run sink.Run) error {
	opts, err := encodeRunOptions(run)
	if err != nil {
		return err
	}
	_, err = s.DB.ExecContext(ctx, `
		INSERT INTO runs (id, started_at, options) VALUES (?,?,?)
		ON CONFLICT(id) DO NOTHING`,
		run.ID, run.StartedAt.UnixMilli(), opts)
	if err != nil {
		return fmt.Errorf("store: insert run: %w", err)
	}
	return nil
}

// FinishRun marks a run stopped with its final counts. A run never seen
// before is inserted.
func (s *Store) FinishRun(ctx context.Context, run sink.Run) error {
	opts, err := encodeRunOptions(run)
	if err != nil {
		return err
	}
	_, err = s.DB.ExecContext(ctx, `
		INSERT INTO runs (id, started_at, stopped_at, options, records, interesting)
		VALUES (?,?,?,?,?,?)
		ON CONFLICT(id) DO UPDATE SET
			stopped_at = excluded.stopped_at,
			records = excluded.records,
			interesting = excluded.interesting`,
		run.ID, run.StartedAt.UnixMilli(), run.StoppedAt.UnixMilli(), opts, run.Records, run.Interesting)
	if err != nil {
		return fmt.Errorf("store: finish run: %w", err)
	}
	return nil
}

// GetRun returns the run with id, or nil when it does not exist.
func (s *Store) GetRun(ctx context.Context, id string) (*sink.Run, error) {
	row := s.DB.QueryRowContext(ctx, `
		SELECT id, started_at, stopped_at, options, records, interesting
		FROM runs WHERE id = ?`, id)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("store: get run: %w", err)
	}
	return run, nil
}

// ListRuns returns the most recent runs first. limit <= 0 means 50.
func (s *Store) ListRuns(ctx context.Context, limit int) ([]sink.Run, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.DB.QueryContext(ctx, `
		SELECT id, started_at, stopped_at, options, records, interesting
		FROM runs ORDER BY started_at DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("store: list runs: %w", err)
	}
	defer rows.Close()

	var out []sink.Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("store: scan run: %w", err)
		}
		out = append(out, *run)
	}
	return out, rows.Err()
}

// DeleteRun removes a run with its records and fields.
func (s *Store) DeleteRun(ctx context.Context, id string) error {
	if _, err := s.DB.ExecContext(ctx, `DELETE FROM runs WHERE id = ?`, id); err != nil {
		return fmt.Errorf("store: delete run: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(sc rowScanner) (*sink.Run, error) {
	var (
		run       sink.Run
		startedAt int64
		stoppedAt sql.NullInt64
		opts      string
	)
	if err := sc.Scan(&run.ID, &startedAt, &stoppedAt, &opts, &run.Records, &run.Interesting); err != nil {
		return nil, err
	}
	run.StartedAt = time.UnixMilli(startedAt)
	if stoppedAt.Valid {
		run.StoppedAt = time.UnixMilli(stoppedAt.Int64)
	}

	var ro runOptions
	if err := json.Unmarshal([]byte(opts), &ro); err == nil {
		run.Domains = ro.Domains
		run.TimeoutMs = ro.TimeoutMs
		if len(ro.Filter) > 0 {
			json.Unmarshal(ro.Filter, &run.Filter)
		}
	}
	return &run, nil
}

func encodeRunOptions(run sink.Run) (string, error) {
	flt, err := json.Marshal(run.Filter)
	if err != nil {
		return "", fmt.Errorf("store: encode filter: %w", err)
	}
	b, err := json.Marshal(runOptions{Domains: run.Domains, TimeoutMs: run.TimeoutMs, Filter: flt})
	if err != nil {
		return "", fmt.Errorf("store: encode run options: %w", err)
	}
	return string(b), nil
}
