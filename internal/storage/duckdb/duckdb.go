// Package duckdb registers the "duckdb" storage backend
// (duckdb/duckdb-go/v2, cgo). Useful for loading the star schema straight
// into a local analytical file. The DSN is a file path or "" for in-memory.
package duckdb

import (
	"context"

	_ "github.com/duckdb/duckdb-go/v2"

	"sparkify/internal/storage"
	"sparkify/internal/storage/sqldb"
)

// Dialect for DuckDB, which accepts the postgres ON CONFLICT forms.
var Dialect = storage.Dialect{
	Name:        "duckdb",
	Placeholder: func(int) string { return "?" },
	Quote:       storage.DoubleQuote,
	Types: map[storage.ColumnType]string{
		storage.TypeKey:    "VARCHAR",
		storage.TypeText:   "VARCHAR",
		storage.TypeInt:    "INTEGER",
		storage.TypeBigInt: "BIGINT",
		storage.TypeDouble: "DOUBLE",
	},
	Conflict: storage.OnConflict,
}

func init() {
	storage.Register("duckdb", NewRepository)
}

// NewRepository opens the database. DuckDB is single-writer per file, so the
// pool is capped at one connection.
func NewRepository(ctx context.Context, cfg storage.Config) (storage.Repository, error) {
	r, err := sqldb.Open(ctx, "duckdb", cfg.DSN, Dialect, sqldb.MaxOpenConns(1))
	if err != nil {
		return nil, err
	}
	return r, nil
}
