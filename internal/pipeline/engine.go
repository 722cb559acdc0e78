// Package pipeline loads song catalog and event log files into the star
// schema.
//
// A run has two phases separated by a barrier. Phase one loads every catalog
// file; phase two loads every log file and resolves each play against the
// catalog written by phase one. Each file is one transaction: a failure rolls
// that file back and aborts the run, while files committed earlier stay.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/dustin/go-humanize"

	"sparkify/internal/discover"
	"sparkify/internal/metrics"
	"sparkify/internal/model"
	jsonparser "sparkify/internal/parser/json"
	"sparkify/internal/storage"
	"sparkify/internal/transformer"
)

// Logger is the minimal logging interface used by the engine.
// *log.Logger satisfies this interface.
type Logger interface {
	Printf(format string, v ...any)
}

// Phase names, used in log lines and as the etl_batches_total label.
const (
	PhaseCatalog = "catalog"
	PhaseLogs    = "logs"
)

// Engine runs the two-phase load against Repo.
//
// The function fields are seams for tests; nil means the production
// implementation.
type Engine struct {
	Repo   storage.Repository
	Logger Logger

	// Location decomposes event timestamps into time rows. Nil means UTC.
	Location *time.Location
	// IDs assigns songplay ids. Nil means the per-file sequence index.
	IDs transformer.IDSource

	Discover       func(root string) ([]string, error)
	ExtractCatalog func(path string) (model.Song, model.Artist, error)
	ExtractEvents  func(path string, loc *time.Location) (jsonparser.EventBatch, error)

	resolver transformer.Resolver
}

// Run loads every catalog file under songRoot, then every log file under
// logRoot. Phase two never starts if phase one failed.
func (e *Engine) Run(ctx context.Context, songRoot, logRoot string) error {
	if e.Repo == nil {
		return fmt.Errorf("engine: Repo is required")
	}
	logf := e.logger()
	runStart := time.Now()

	songFiles, err := e.discover(PhaseCatalog, songRoot)
	if err != nil {
		return err
	}

	ddlStart := time.Now()
	err = e.Repo.EnsureTables(ctx)
	metrics.RecordStep("ddl", ddlStart, err)
	if err != nil {
		return err
	}
	logf("stage=ddl ok duration=%s", durMS(ddlStart))

	if err := e.runPhase(ctx, PhaseCatalog, songFiles, e.loadCatalogFile); err != nil {
		return err
	}

	logFiles, err := e.discover(PhaseLogs, logRoot)
	if err != nil {
		return err
	}
	if err := e.runPhase(ctx, PhaseLogs, logFiles, e.loadLogFile); err != nil {
		return err
	}

	matched, unmatched := e.resolver.Stats()
	logf("stage=done songplays_matched=%s songplays_unmatched=%s duration=%s",
		humanize.Comma(int64(matched)), humanize.Comma(int64(unmatched)), durMS(runStart))
	return nil
}

func (e *Engine) logger() func(format string, v ...any) {
	if e.Logger == nil {
		l := log.New(discardWriter{}, "", 0)
		return l.Printf
	}
	return e.Logger.Printf
}

func (e *Engine) location() *time.Location {
	if e.Location == nil {
		return time.UTC
	}
	return e.Location
}

func (e *Engine) discover(phase, root string) ([]string, error) {
	find := e.Discover
	if find == nil {
		find = discover.JSONFiles
	}
	files, err := find(root)
	if err != nil {
		return nil, fmt.Errorf("%s: discover %s: %w", phase, root, err)
	}
	e.logger()("stage=%s files found=%s root=%s", phase, humanize.Comma(int64(len(files))), root)
	return files, nil
}

// loadFunc writes one file inside tx and returns the number of rows written.
type loadFunc func(ctx context.Context, tx storage.Tx, path string) (int, error)

func (e *Engine) runPhase(ctx context.Context, phase string, files []string, load loadFunc) error {
	logf := e.logger()
	start := time.Now()
	total := humanize.Comma(int64(len(files)))

	var err error
	defer func() { metrics.RecordStep(phase, start, err) }()

	rows := 0
	for i, path := range files {
		if err = ctx.Err(); err != nil {
			return err
		}
		var n int
		n, err = e.loadFile(ctx, path, load)
		if err != nil {
			return fmt.Errorf("%s: %w", phase, err)
		}
		rows += n
		metrics.IncCounter("etl_batches_total", 1, metrics.Labels{"phase": phase})
		logf("stage=%s %s/%s files processed", phase, humanize.Comma(int64(i+1)), total)
	}
	logf("stage=%s ok files=%s rows=%s duration=%s", phase, total, humanize.Comma(int64(rows)), durMS(start))
	return nil
}

// loadFile runs load in its own transaction. Any error rolls the file back.
func (e *Engine) loadFile(ctx context.Context, path string, load loadFunc) (int, error) {
	tx, err := e.Repo.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("file %s: %w", path, err)
	}

	n, err := load(ctx, tx, path)
	if err == nil {
		err = tx.Commit(ctx)
	}
	if err != nil {
		if rbErr := tx.Rollback(ctx); rbErr != nil {
			err = errors.Join(err, rbErr)
		}
		return 0, fmt.Errorf("file %s: %w", path, err)
	}
	return n, nil
}

func (e *Engine) loadCatalogFile(ctx context.Context, tx storage.Tx, path string) (int, error) {
	extract := e.ExtractCatalog
	if extract == nil {
		extract = jsonparser.ExtractCatalog
	}
	song, artist, err := extract(path)
	if err != nil {
		return 0, err
	}

	if err := tx.InsertSong(ctx, song); err != nil {
		return 0, err
	}
	if err := tx.InsertArtist(ctx, artist); err != nil {
		return 0, err
	}
	metrics.IncCounter("etl_records_total", 1, metrics.Labels{"kind": "song"})
	metrics.IncCounter("etl_records_total", 1, metrics.Labels{"kind": "artist"})
	return 2, nil
}

func (e *Engine) loadLogFile(ctx context.Context, tx storage.Tx, path string) (int, error) {
	extract := e.ExtractEvents
	if extract == nil {
		extract = jsonparser.ExtractEvents
	}
	batch, err := extract(path, e.location())
	if err != nil {
		return 0, err
	}

	for _, tm := range batch.Times {
		if err := tx.InsertTime(ctx, tm); err != nil {
			return 0, err
		}
	}
	for _, u := range batch.Users {
		if err := tx.UpsertUser(ctx, u); err != nil {
			return 0, err
		}
	}

	asm := transformer.Assembler{IDs: e.IDs}
	for seq, ev := range batch.Events {
		res, err := e.resolver.Resolve(ctx, tx, ev.Song, ev.Artist, ev.Length)
		if err != nil {
			return 0, err
		}
		if err := tx.InsertSongplay(ctx, asm.Assemble(ev, res, seq, path)); err != nil {
			return 0, err
		}
	}

	n := int64(len(batch.Events))
	metrics.IncCounter("etl_records_total", float64(n), metrics.Labels{"kind": "time"})
	metrics.IncCounter("etl_records_total", float64(n), metrics.Labels{"kind": "user"})
	metrics.IncCounter("etl_records_total", float64(n), metrics.Labels{"kind": "songplay"})
	metrics.IncCounter("etl_records_total", float64(batch.Lines-len(batch.Events)), metrics.Labels{"kind": "event_skipped"})
	return 3 * len(batch.Events), nil
}

func durMS(start time.Time) time.Duration { return time.Since(start).Truncate(time.Millisecond) }

type discardWriter struct{}

func (discardWriter) Write(p []byte) (int, error) { return len(p), nil }
