package pipeline

import (
	"context"
	"fmt"
	"time"

	"sparkify/internal/config"
	"sparkify/internal/storage"
	"sparkify/internal/transformer"
)

// Loader is what Runner drives. *Engine satisfies it.
type Loader interface {
	Run(ctx context.Context, songRoot, logRoot string) error
}

// Runner wires a Config into an Engine.
type Runner struct {
	Logger Logger

	// storage-agnostic factory seam
	NewRepository func(ctx context.Context, cfg storage.Config) (storage.Repository, error)

	// NewEngine is a seam for tests. Nil builds an *Engine.
	NewEngine func(repo storage.Repository, loc *time.Location, ids transformer.IDSource) Loader
}

// NewDefaultRunner uses the storage registry; callers must link the
// backends they want (see storage/all).
func NewDefaultRunner(logger Logger) *Runner {
	return &Runner{
		Logger: logger,
		NewRepository: func(ctx context.Context, cfg storage.Config) (storage.Repository, error) {
			return storage.New(ctx, cfg)
		},
	}
}

// Run opens the configured store and executes one two-phase load.
func (r *Runner) Run(ctx context.Context, cfg config.Config) error {
	loc, err := time.LoadLocation(cfg.TimeZone)
	if err != nil {
		return fmt.Errorf("time zone %q: %w", cfg.TimeZone, err)
	}

	ids, err := NewIDSource(cfg.SongplayIDs, cfg.SnowflakeNode)
	if err != nil {
		return err
	}

	repo, err := r.NewRepository(ctx, storage.Config{Kind: cfg.Storage.Kind, DSN: cfg.Storage.DSN})
	if err != nil {
		return fmt.Errorf("open storage: %w", err)
	}
	defer repo.Close()

	if r.Logger != nil {
		r.Logger.Printf("stage=start job=%s storage=%s songplay_ids=%s time_zone=%s",
			cfg.Job, cfg.Storage.Kind, cfg.SongplayIDs, loc)
	}

	var engine Loader
	if r.NewEngine != nil {
		engine = r.NewEngine(repo, loc, ids)
	} else {
		engine = &Engine{Repo: repo, Logger: r.Logger, Location: loc, IDs: ids}
	}
	return engine.Run(ctx, cfg.SongData, cfg.LogData)
}

// NewIDSource returns the songplay id source for mode.
func NewIDSource(mode string, node int64) (transformer.IDSource, error) {
	switch mode {
	case "", "snowflake":
		s, err := transformer.NewSnowflakeIDs(node)
		if err != nil {
			return nil, err
		}
		return s, nil
	case "sequence":
		return transformer.SequenceIDs{}, nil
	}
	return nil, fmt.Errorf("unknown songplay id mode %q (want snowflake|sequence)", mode)
}
