// Package postgres registers the "postgres" storage backend on a pgx pool.
package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"sparkify/internal/model"
	"sparkify/internal/storage"
)

// Dialect is native Postgres: $n placeholders and ON CONFLICT.
var Dialect = storage.Dialect{
	Name:        "postgres",
	Placeholder: func(n int) string { return fmt.Sprintf("$%d", n) },
	Quote:       storage.DoubleQuote,
	Types: map[storage.ColumnType]string{
		storage.TypeKey:    "TEXT",
		storage.TypeText:   "TEXT",
		storage.TypeInt:    "INT",
		storage.TypeBigInt: "BIGINT",
		storage.TypeDouble: "DOUBLE PRECISION",
	},
	Conflict: storage.OnConflict,
}

func init() {
	storage.Register("postgres", NewRepository)
}

type statements struct {
	insertSong     string
	insertArtist   string
	insertTime     string
	upsertUser     string
	insertSongplay string
	lookup         string
}

func render() statements {
	tbl := func(name string) storage.TableSpec {
		t, _ := storage.Table(name)
		return t
	}
	return statements{
		insertSong:     Dialect.InsertIgnoreSQL(tbl(storage.TableSongs)),
		insertArtist:   Dialect.InsertIgnoreSQL(tbl(storage.TableArtists)),
		insertTime:     Dialect.InsertIgnoreSQL(tbl(storage.TableTime)),
		upsertUser:     Dialect.UpsertSQL(tbl(storage.TableUsers), storage.UserUpdateColumns),
		insertSongplay: Dialect.InsertSQL(tbl(storage.TableSongplays)),
		lookup:         Dialect.LookupSongArtistSQL(),
	}
}

// Repo implements storage.Repository for Postgres.
type Repo struct {
	pool  *pgxpool.Pool
	stmts statements
}

// NewRepository creates the pool and pings the server.
func NewRepository(ctx context.Context, cfg storage.Config) (storage.Repository, error) {
	pool, err := pgxpool.New(ctx, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("postgres: pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres: ping: %w", err)
	}
	return &Repo{pool: pool, stmts: render()}, nil
}

// Close closes the connection pool.
func (r *Repo) Close() {
	if r == nil || r.pool == nil {
		return
	}
	r.pool.Close()
}

func (r *Repo) EnsureTables(ctx context.Context) error {
	for _, t := range storage.Tables() {
		ddl, err := Dialect.CreateTableSQL(t)
		if err != nil {
			return err
		}
		if _, err := r.pool.Exec(ctx, ddl); err != nil {
			return fmt.Errorf("postgres: create table %s: %w", t.Name, err)
		}
	}
	return nil
}

func (r *Repo) Begin(ctx context.Context) (storage.Tx, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("postgres: begin: %w", err)
	}
	return &pgTx{tx: tx, stmts: &r.stmts}, nil
}

type pgTx struct {
	tx    pgx.Tx
	stmts *statements
}

func (t *pgTx) exec(ctx context.Context, what, q string, args []any) error {
	if _, err := t.tx.Exec(ctx, q, args...); err != nil {
		return fmt.Errorf("postgres: %s: %w", what, err)
	}
	return nil
}

func (t *pgTx) InsertSong(ctx context.Context, s model.Song) error {
	return t.exec(ctx, "insert song "+s.SongID, t.stmts.insertSong, storage.SongArgs(s))
}

func (t *pgTx) InsertArtist(ctx context.Context, a model.Artist) error {
	return t.exec(ctx, "insert artist "+a.ArtistID, t.stmts.insertArtist, storage.ArtistArgs(a))
}

func (t *pgTx) InsertTime(ctx context.Context, tm model.Time) error {
	return t.exec(ctx, "insert time", t.stmts.insertTime, storage.TimeArgs(tm))
}

func (t *pgTx) UpsertUser(ctx context.Context, u model.User) error {
	return t.exec(ctx, "upsert user "+u.UserID, t.stmts.upsertUser, storage.UserArgs(u))
}

func (t *pgTx) InsertSongplay(ctx context.Context, sp model.Songplay) error {
	return t.exec(ctx, "insert songplay", t.stmts.insertSongplay, storage.SongplayArgs(sp))
}

func (t *pgTx) LookupSongArtist(ctx context.Context, title, artist string, duration float64) (model.Resolution, error) {
	var songID, artistID *string
	err := t.tx.QueryRow(ctx, t.stmts.lookup, title, artist, duration).Scan(&songID, &artistID)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Resolution{}, nil
	}
	if err != nil {
		return model.Resolution{}, fmt.Errorf("postgres: lookup song: %w", err)
	}
	if songID == nil || artistID == nil {
		return model.Resolution{}, nil
	}
	return model.NewResolution(*songID, *artistID), nil
}

func (t *pgTx) Commit(ctx context.Context) error {
	if err := t.tx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres: commit: %w", err)
	}
	return nil
}

// Rollback after Commit is a no-op.
func (t *pgTx) Rollback(ctx context.Context) error {
	if err := t.tx.Rollback(ctx); err != nil && !errors.Is(err, pgx.ErrTxClosed) {
		return fmt.Errorf("postgres: rollback: %w", err)
	}
	return nil
}

var _ storage.Repository = (*Repo)(nil)
