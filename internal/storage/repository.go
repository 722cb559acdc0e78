// Package storage defines the persistence sink for the songplays star schema
// and the registry through which backends plug in.
//
// Backend packages (postgres, sqlite, mssql, duckdb) register a Factory from
// init(); callers blank-import internal/storage/all and call New.
package storage

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"sparkify/internal/model"
)

// ErrUnsupportedKind is returned by New for a kind no backend registered.
var ErrUnsupportedKind = errors.New("unsupported storage kind")

// Config selects and configures a backend.
type Config struct {
	Kind string
	DSN  string
}

// Repository owns the connection to the store.
type Repository interface {
	// EnsureTables creates the five tables if they do not exist.
	EnsureTables(ctx context.Context) error
	// Begin opens the transaction one input file is loaded in.
	Begin(ctx context.Context) (Tx, error)
	// Close releases backend resources. Call once.
	Close()
}

// Tx is one file's unit of work. Every method runs inside the transaction,
// including the catalog lookup, so it observes the tx's own writes.
type Tx interface {
	// InsertSong, InsertArtist and InsertTime skip rows whose primary key
	// already exists.
	InsertSong(ctx context.Context, s model.Song) error
	InsertArtist(ctx context.Context, a model.Artist) error
	InsertTime(ctx context.Context, t model.Time) error

	// UpsertUser overwrites first_name, last_name, gender and level when the
	// user already exists.
	UpsertUser(ctx context.Context, u model.User) error

	// InsertSongplay is a plain insert; a duplicate songplay_id is an error.
	InsertSongplay(ctx context.Context, sp model.Songplay) error

	// LookupSongArtist returns the first (song_id, artist_id) whose title,
	// artist name and duration equal the arguments exactly, or the zero
	// Resolution when nothing matches.
	LookupSongArtist(ctx context.Context, title, artist string, duration float64) (model.Resolution, error)

	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

// Factory opens a Repository for cfg.
type Factory func(ctx context.Context, cfg Config) (Repository, error)

var (
	mu        sync.RWMutex
	factories = map[string]Factory{}
)

// Register makes a backend available under kind. It panics on an empty kind,
// a nil factory or a duplicate registration.
func Register(kind string, f Factory) {
	mu.Lock()
	defer mu.Unlock()

	if kind == "" {
		panic("storage: Register called with empty kind")
	}
	if f == nil {
		panic("storage: Register called with nil factory")
	}
	if _, exists := factories[kind]; exists {
		panic(fmt.Sprintf("storage: factory already registered for kind=%q", kind))
	}
	factories[kind] = f
}

// New opens a Repository using the backend registered for cfg.Kind.
func New(ctx context.Context, cfg Config) (Repository, error) {
	if cfg.Kind == "" {
		return nil, fmt.Errorf("storage: missing kind")
	}

	mu.RLock()
	f := factories[cfg.Kind]
	mu.RUnlock()

	if f == nil {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedKind, cfg.Kind)
	}
	repo, err := f(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("storage %s: %w", cfg.Kind, err)
	}
	return repo, nil
}

// Kinds lists registered backends, sorted.
func Kinds() []string {
	mu.RLock()
	defer mu.RUnlock()

	out := make([]string, 0, len(factories))
	for k := range factories {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
