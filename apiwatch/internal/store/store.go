// Package store persists recording runs and observation records in SQLite.
package store

import (
	"database/sql"

	_ "modernc.org/sqlite"

	"github.com/hazyhaar/valwatch/dbopen"
	"github.com/hazyhaar/valwatch/idgen"
)

// Store is the apiwatch database handle. It also implements sink.Sink, so
// records reach the database through the same fan-out as other outputs.
type Store struct {
	DB    *sql.DB
	newID idgen.Generator
}

// Open opens (or creates) the database at path and applies Schema.
func Open(path string, opts ...dbopen.Option) (*Store, error) {
	allOpts := append([]dbopen.Option{
		dbopen.WithMkdirAll(),
		dbopen.WithSchema(Schema),
	}, opts...)

	db, err := dbopen.Open(path, allOpts...)
	if err != nil {
		return nil, err
	}
	return New(db), nil
}

// New wraps an open database that already carries Schema.
func New(db *sql.DB) *Store {
	return &Store{DB: db, newID: idgen.Prefixed("rec_", idgen.Default)}
}

// Close closes the database.
func (s *Store) Close() error {
	return s.DB.Close()
}

func nullFloat(p *float64) sql.NullFloat64 {
	if p == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *p, Valid: true}
}
