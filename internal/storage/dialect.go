package storage

import (
	"fmt"
	"strings"
)

// ConflictStyle is how a dialect skips rows whose primary key exists.
type ConflictStyle int

const (
	// OnConflict: INSERT ... ON CONFLICT (pk) DO NOTHING / DO UPDATE.
	OnConflict ConflictStyle = iota
	// OrIgnore: INSERT OR IGNORE, upsert via ON CONFLICT DO UPDATE.
	OrIgnore
	// NotExists: INSERT ... SELECT ... WHERE NOT EXISTS, upsert via
	// UPDATE followed by a guarded INSERT. Avoids MERGE.
	NotExists
)

// Dialect renders the handful of statements the pipeline needs. Backends
// declare one value each; the builders below are pure so they can be tested
// without a database.
type Dialect struct {
	Name string

	// Placeholder renders the n-th (1-based) bind parameter.
	Placeholder func(n int) string
	// Quote renders an identifier.
	Quote func(ident string) string
	// Types maps logical column types to physical ones.
	Types map[ColumnType]string

	Conflict ConflictStyle
	// Top selects SELECT TOP 1 instead of LIMIT 1.
	Top bool
	// GuardCreate wraps CREATE TABLE in an OBJECT_ID check instead of using
	// IF NOT EXISTS.
	GuardCreate bool
	// StringCompare is appended to each text equality in the catalog lookup,
	// e.g. a binary COLLATE clause where the default collation folds case.
	StringCompare string
}

// DoubleQuote is the ANSI identifier quote used by postgres, sqlite and duckdb.
func DoubleQuote(id string) string {
	return `"` + strings.ReplaceAll(id, `"`, `""`) + `"`
}

// CreateTableSQL renders idempotent DDL for t.
func (d Dialect) CreateTableSQL(t TableSpec) (string, error) {
	if strings.TrimSpace(t.Name) == "" {
		return "", fmt.Errorf("%s: table name is empty", d.Name)
	}
	if len(t.Columns) == 0 {
		return "", fmt.Errorf("%s: table %s has no columns", d.Name, t.Name)
	}

	defs := make([]string, 0, len(t.Columns)+1)
	for _, c := range t.Columns {
		typ, ok := d.Types[c.Type]
		if !ok {
			return "", fmt.Errorf("%s: no physical type for %s.%s", d.Name, t.Name, c.Name)
		}
		def := d.Quote(c.Name) + " " + typ
		if !c.Nullable {
			def += " NOT NULL"
		}
		defs = append(defs, def)
	}
	if len(t.PrimaryKey) > 0 {
		defs = append(defs, "PRIMARY KEY ("+d.identList(t.PrimaryKey)+")")
	}

	body := strings.Join(defs, ", ")
	if d.GuardCreate {
		return fmt.Sprintf("IF OBJECT_ID(N'%s', N'U') IS NULL BEGIN CREATE TABLE %s (%s); END;",
			t.Name, d.Quote(t.Name), body), nil
	}
	return fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (%s);", d.Quote(t.Name), body), nil
}

// InsertSQL renders a plain insert binding every column in order.
func (d Dialect) InsertSQL(t TableSpec) string {
	return fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		d.Quote(t.Name), d.identList(t.ColumnNames()), d.placeholders(len(t.Columns)))
}

// InsertIgnoreSQL renders an insert that is a no-op when the primary key
// already exists. Binds every column in order.
func (d Dialect) InsertIgnoreSQL(t TableSpec) string {
	cols := d.identList(t.ColumnNames())
	switch d.Conflict {
	case OrIgnore:
		return fmt.Sprintf("INSERT OR IGNORE INTO %s (%s) VALUES (%s)",
			d.Quote(t.Name), cols, d.placeholders(len(t.Columns)))
	case NotExists:
		return fmt.Sprintf("INSERT INTO %s (%s) SELECT %s WHERE NOT EXISTS (SELECT 1 FROM %s WHERE %s)",
			d.Quote(t.Name), cols, d.placeholders(len(t.Columns)), d.Quote(t.Name), d.keyWhere(t))
	default:
		return fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s) ON CONFLICT (%s) DO NOTHING",
			d.Quote(t.Name), cols, d.placeholders(len(t.Columns)), d.identList(t.PrimaryKey))
	}
}

// UpsertSQL renders an insert that overwrites update when the primary key
// already exists. Binds every column in order.
func (d Dialect) UpsertSQL(t TableSpec, update []string) string {
	if d.Conflict == NotExists {
		set := make([]string, len(update))
		for i, c := range update {
			set[i] = d.Quote(c) + " = " + d.Placeholder(columnIndex(t, c)+1)
		}
		return fmt.Sprintf("UPDATE %s SET %s WHERE %s; IF @@ROWCOUNT = 0 INSERT INTO %s (%s) VALUES (%s);",
			d.Quote(t.Name), strings.Join(set, ", "), d.keyWhere(t),
			d.Quote(t.Name), d.identList(t.ColumnNames()), d.placeholders(len(t.Columns)))
	}

	set := make([]string, len(update))
	for i, c := range update {
		set[i] = d.Quote(c) + " = excluded." + d.Quote(c)
	}
	return fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s) ON CONFLICT (%s) DO UPDATE SET %s",
		d.Quote(t.Name), d.identList(t.ColumnNames()), d.placeholders(len(t.Columns)),
		d.identList(t.PrimaryKey), strings.Join(set, ", "))
}

// LookupSongArtistSQL renders the catalog match. Binds title, artist name,
// duration. No ORDER BY: the first row the store produces wins.
func (d Dialect) LookupSongArtistSQL() string {
	var b strings.Builder
	b.WriteString("SELECT ")
	if d.Top {
		b.WriteString("TOP 1 ")
	}
	fmt.Fprintf(&b, "s.%s, s.%s FROM %s s JOIN %s a ON s.%s = a.%s",
		d.Quote("song_id"), d.Quote("artist_id"),
		d.Quote(TableSongs), d.Quote(TableArtists),
		d.Quote("artist_id"), d.Quote("artist_id"))
	fmt.Fprintf(&b, " WHERE s.%s = %s%s AND a.%s = %s%s AND s.%s = %s",
		d.Quote("title"), d.Placeholder(1), d.StringCompare,
		d.Quote("name"), d.Placeholder(2), d.StringCompare,
		d.Quote("duration"), d.Placeholder(3))
	if !d.Top {
		b.WriteString(" LIMIT 1")
	}
	return b.String()
}

func (d Dialect) identList(cols []string) string {
	q := make([]string, len(cols))
	for i, c := range cols {
		q[i] = d.Quote(c)
	}
	return strings.Join(q, ", ")
}

func (d Dialect) placeholders(n int) string {
	p := make([]string, n)
	for i := range p {
		p[i] = d.Placeholder(i + 1)
	}
	return strings.Join(p, ", ")
}

// keyWhere matches the primary key against the placeholders of its columns.
func (d Dialect) keyWhere(t TableSpec) string {
	parts := make([]string, len(t.PrimaryKey))
	for i, k := range t.PrimaryKey {
		parts[i] = d.Quote(k) + " = " + d.Placeholder(columnIndex(t, k)+1)
	}
	return strings.Join(parts, " AND ")
}

func columnIndex(t TableSpec, name string) int {
	for i, c := range t.Columns {
		if c.Name == name {
			return i
		}
	}
	panic(fmt.Sprintf("storage: column %q not in table %s", name, t.Name))
}
