// Package all links every storage backend into the binary.
package all

import (
	_ "sparkify/internal/storage/duckdb"
	_ "sparkify/internal/storage/mssql"
	_ "sparkify/internal/storage/postgres"
	_ "sparkify/internal/storage/sqlite"
)
