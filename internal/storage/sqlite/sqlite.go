// Package sqlite registers the "sqlite" storage backend (modernc.org/sqlite,
// pure Go). The DSN is a file path or ":memory:", optionally with modernc
// query parameters such as ?_pragma=busy_timeout(5000).
package sqlite

import (
	"context"

	_ "modernc.org/sqlite"

	"sparkify/internal/storage"
	"sparkify/internal/storage/sqldb"
)

// Dialect uses INSERT OR IGNORE for immutable rows and ON CONFLICT DO UPDATE
// for users. SQLite column types are affinities, so keys and text share TEXT.
var Dialect = storage.Dialect{
	Name:        "sqlite",
	Placeholder: func(int) string { return "?" },
	Quote:       storage.DoubleQuote,
	Types: map[storage.ColumnType]string{
		storage.TypeKey:    "TEXT",
		storage.TypeText:   "TEXT",
		storage.TypeInt:    "INTEGER",
		storage.TypeBigInt: "INTEGER",
		storage.TypeDouble: "REAL",
	},
	Conflict: storage.OrIgnore,
}

func init() {
	storage.Register("sqlite", NewRepository)
}

// NewRepository opens a single-connection pool. SQLite allows one writer and
// ":memory:" databases are per connection, so a wider pool buys nothing.
func NewRepository(ctx context.Context, cfg storage.Config) (storage.Repository, error) {
	r, err := sqldb.Open(ctx, "sqlite", cfg.DSN, Dialect, sqldb.MaxOpenConns(1))
	if err != nil {
		return nil, err
	}
	return r, nil
}
