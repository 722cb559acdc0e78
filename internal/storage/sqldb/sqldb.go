// Package sqldb is the database/sql implementation of storage.Repository
// shared by the sqlite, mssql and duckdb backends. Each backend supplies a
// driver name and a storage.Dialect; everything else is common.
package sqldb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"sparkify/internal/model"
	"sparkify/internal/storage"
)

// statements are rendered once per Repo.
type statements struct {
	insertSong     string
	insertArtist   string
	insertTime     string
	upsertUser     string
	insertSongplay string
	lookup         string
}

func render(d storage.Dialect) (statements, error) {
	tbl := func(name string) (storage.TableSpec, error) {
		t, ok := storage.Table(name)
		if !ok {
			return storage.TableSpec{}, fmt.Errorf("%s: unknown table %s", d.Name, name)
		}
		return t, nil
	}

	var st statements
	for _, step := range []struct {
		table string
		dst   *string
		build func(storage.TableSpec) string
	}{
		{storage.TableSongs, &st.insertSong, d.InsertIgnoreSQL},
		{storage.TableArtists, &st.insertArtist, d.InsertIgnoreSQL},
		{storage.TableTime, &st.insertTime, d.InsertIgnoreSQL},
		{storage.TableUsers, &st.upsertUser, func(t storage.TableSpec) string { return d.UpsertSQL(t, storage.UserUpdateColumns) }},
		{storage.TableSongplays, &st.insertSongplay, d.InsertSQL},
	} {
		t, err := tbl(step.table)
		if err != nil {
			return statements{}, err
		}
		*step.dst = step.build(t)
	}
	st.lookup = d.LookupSongArtistSQL()
	return st, nil
}

// Repo implements storage.Repository over a *sql.DB.
type Repo struct {
	db      *sql.DB
	dialect storage.Dialect
	stmts   statements
}

// Option tunes the pool after sql.Open.
type Option func(*sql.DB)

// MaxOpenConns caps the pool. SQLite in-memory databases need 1 so every
// statement sees the same database.
func MaxOpenConns(n int) Option {
	return func(db *sql.DB) {
		db.SetMaxOpenConns(n)
		db.SetMaxIdleConns(n)
	}
}

// Open connects with driverName and verifies connectivity.
func Open(ctx context.Context, driverName, dsn string, d storage.Dialect, opts ...Option) (*Repo, error) {
	db, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("%s: open: %w", d.Name, err)
	}
	for _, o := range opts {
		o(db)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("%s: ping: %w", d.Name, err)
	}
	r, err := New(db, d)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return r, nil
}

// New wraps an existing pool. The Repo takes ownership of db.
func New(db *sql.DB, d storage.Dialect) (*Repo, error) {
	st, err := render(d)
	if err != nil {
		return nil, err
	}
	return &Repo{db: db, dialect: d, stmts: st}, nil
}

// DB exposes the pool for tests and diagnostics.
func (r *Repo) DB() *sql.DB { return r.db }

func (r *Repo) Close() {
	if r == nil || r.db == nil {
		return
	}
	_ = r.db.Close()
}

// EnsureTables creates the star schema. Idempotent.
func (r *Repo) EnsureTables(ctx context.Context) error {
	for _, t := range storage.Tables() {
		ddl, err := r.dialect.CreateTableSQL(t)
		if err != nil {
			return err
		}
		if _, err := r.db.ExecContext(ctx, ddl); err != nil {
			return fmt.Errorf("%s: create table %s: %w", r.dialect.Name, t.Name, err)
		}
	}
	return nil
}

func (r *Repo) Begin(ctx context.Context) (storage.Tx, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("%s: begin: %w", r.dialect.Name, err)
	}
	return &sqlTx{tx: tx, stmts: &r.stmts, name: r.dialect.Name}, nil
}

type sqlTx struct {
	tx    *sql.Tx
	stmts *statements
	name  string
}

func (t *sqlTx) exec(ctx context.Context, what, q string, args []any) error {
	if _, err := t.tx.ExecContext(ctx, q, args...); err != nil {
		return fmt.Errorf("%s: %s: %w", t.name, what, err)
	}
	return nil
}

func (t *sqlTx) InsertSong(ctx context.Context, s model.Song) error {
	return t.exec(ctx, "insert song "+s.SongID, t.stmts.insertSong, storage.SongArgs(s))
}

func (t *sqlTx) InsertArtist(ctx context.Context, a model.Artist) error {
	return t.exec(ctx, "insert artist "+a.ArtistID, t.stmts.insertArtist, storage.ArtistArgs(a))
}

func (t *sqlTx) InsertTime(ctx context.Context, tm model.Time) error {
	return t.exec(ctx, "insert time", t.stmts.insertTime, storage.TimeArgs(tm))
}

func (t *sqlTx) UpsertUser(ctx context.Context, u model.User) error {
	return t.exec(ctx, "upsert user "+u.UserID, t.stmts.upsertUser, storage.UserArgs(u))
}

func (t *sqlTx) InsertSongplay(ctx context.Context, sp model.Songplay) error {
	return t.exec(ctx, "insert songplay", t.stmts.insertSongplay, storage.SongplayArgs(sp))
}

func (t *sqlTx) LookupSongArtist(ctx context.Context, title, artist string, duration float64) (model.Resolution, error) {
	var songID, artistID sql.NullString
	err := t.tx.QueryRowContext(ctx, t.stmts.lookup, title, artist, duration).Scan(&songID, &artistID)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Resolution{}, nil
	}
	if err != nil {
		return model.Resolution{}, fmt.Errorf("%s: lookup song: %w", t.name, err)
	}
	if !songID.Valid || !artistID.Valid {
		return model.Resolution{}, nil
	}
	return model.NewResolution(songID.String, artistID.String), nil
}

func (t *sqlTx) Commit(ctx context.Context) error {
	if err := t.tx.Commit(); err != nil {
		return fmt.Errorf("%s: commit: %w", t.name, err)
	}
	return nil
}

// Rollback after Commit is a no-op.
func (t *sqlTx) Rollback(ctx context.Context) error {
	if err := t.tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
		return fmt.Errorf("%s: rollback: %w", t.name, err)
	}
	return nil
}

var _ storage.Repository = (*Repo)(nil)
