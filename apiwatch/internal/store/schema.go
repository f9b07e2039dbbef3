package store

// Schema is the DDL for recording runs and their observation records.
const Schema = `
CREATE TABLE IF NOT EXISTS runs (
    id          TEXT PRIMARY KEY,
    started_at  INTEGER NOT NULL,
    stopped_at  INTEGER,
    options     TEXT NOT NULL DEFAULT '{}',
    records     INTEGER NOT NULL DEFAULT 0,
    interesting INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_runs_started ON runs(started_at DESC);

CREATE TABLE IF NOT EXISTS records (
    id          TEXT PRIMARY KEY,
    run_id      TEXT NOT NULL,
    seq         INTEGER NOT NULL,
    url         TEXT NOT NULL,
    started_at  INTEGER NOT NULL DEFAULT 0,
    duration_ms REAL NOT NULL DEFAULT 0,
    FOREIGN KEY (run_id) REFERENCES runs(id) ON DELETE CASCADE
);
CREATE INDEX IF NOT EXISTS idx_records_run ON records(run_id, seq);
CREATE INDEX IF NOT EXISTS idx_records_url ON records(url);

CREATE TABLE IF NOT EXISTS fields (
    record_id       TEXT NOT NULL,
    position        INTEGER NOT NULL,
    path            TEXT NOT NULL,
    value           TEXT NOT NULL,
    first_seen_ms   REAL,
    last_checked_ms REAL NOT NULL,
    api_path        TEXT NOT NULL,
    PRIMARY KEY (record_id, position),
    FOREIGN KEY (record_id) REFERENCES records(id) ON DELETE CASCADE
);
CREATE INDEX IF NOT EXISTS idx_fields_api_path ON fields(api_path);
`
