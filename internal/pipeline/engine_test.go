package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"sparkify/internal/model"
	jsonparser "sparkify/internal/parser/json"
	"sparkify/internal/storage"
)

type fakeLogger struct {
	msgs []string
}

func (l *fakeLogger) Printf(format string, v ...any) {
	l.msgs = append(l.msgs, fmt.Sprintf(format, v...))
}

func (l *fakeLogger) contains(sub string) bool {
	for _, m := range l.msgs {
		if strings.Contains(m, sub) {
			return true
		}
	}
	return false
}

// fakeRepo records every call, in order, across all transactions.
type fakeRepo struct {
	ops       []string
	songplays []model.Songplay

	// catalog answers lookups keyed by title|artist.
	catalog map[string]model.Resolution
	// failOn makes the named Tx method fail.
	failOn string
	closed int
}

func (r *fakeRepo) EnsureTables(ctx context.Context) error {
	r.ops = append(r.ops, "ddl")
	return nil
}

func (r *fakeRepo) Begin(ctx context.Context) (storage.Tx, error) {
	r.ops = append(r.ops, "begin")
	return &fakeTx{r: r}, nil
}

func (r *fakeRepo) Close() { r.closed++ }

type fakeTx struct {
	r    *fakeRepo
	done bool
}

func (t *fakeTx) op(name string) error {
	t.r.ops = append(t.r.ops, name)
	if t.r.failOn == name {
		return errors.New(name + " failed")
	}
	return nil
}

func (t *fakeTx) InsertSong(ctx context.Context, s model.Song) error     { return t.op("song") }
func (t *fakeTx) InsertArtist(ctx context.Context, a model.Artist) error { return t.op("artist") }
func (t *fakeTx) InsertTime(ctx context.Context, tm model.Time) error    { return t.op("time") }
func (t *fakeTx) UpsertUser(ctx context.Context, u model.User) error     { return t.op("user") }

func (t *fakeTx) InsertSongplay(ctx context.Context, sp model.Songplay) error {
	if err := t.op("songplay"); err != nil {
		return err
	}
	t.r.songplays = append(t.r.songplays, sp)
	return nil
}

func (t *fakeTx) LookupSongArtist(ctx context.Context, title, artist string, duration float64) (model.Resolution, error) {
	if err := t.op("lookup"); err != nil {
		return model.Resolution{}, err
	}
	return t.r.catalog[title+"|"+artist], nil
}

func (t *fakeTx) Commit(ctx context.Context) error {
	t.done = true
	return t.op("commit")
}

func (t *fakeTx) Rollback(ctx context.Context) error {
	if t.done {
		return nil
	}
	t.done = true
	return t.op("rollback")
}

func fakeDiscover(files map[string][]string, calls *[]string) func(string) ([]string, error) {
	return func(root string) ([]string, error) {
		*calls = append(*calls, root)
		f, ok := files[root]
		if !ok {
			return nil, fmt.Errorf("root %s does not exist", root)
		}
		return f, nil
	}
}

func fakeCatalog(path string) (model.Song, model.Artist, error) {
	return model.Song{SongID: "S-" + path}, model.Artist{ArtistID: "A-" + path}, nil
}

func fakeEvents(path string, loc *time.Location) (jsonparser.EventBatch, error) {
	evs := []model.Event{
		{TS: 1, UserID: "10", Level: model.LevelFree, Song: "Known", Artist: "Band", Length: 1},
		{TS: 2, UserID: "11", Level: model.LevelPaid, Song: "Unknown", Artist: "Band", Length: 2},
	}
	return jsonparser.EventBatch{
		Events: evs,
		Times:  []model.Time{{StartTime: 1}, {StartTime: 2}},
		Users:  []model.User{{UserID: "10"}, {UserID: "11"}},
		Lines:  3,
	}, nil
}

func newTestEngine(repo *fakeRepo, logger Logger, discoverCalls *[]string) *Engine {
	return &Engine{
		Repo:   repo,
		Logger: logger,
		Discover: fakeDiscover(map[string][]string{
			"songs": {"/s/a.json", "/s/b.json"},
			"logs":  {"/l/1.json"},
		}, discoverCalls),
		ExtractCatalog: fakeCatalog,
		ExtractEvents:  fakeEvents,
	}
}

func TestEngine_Run_TwoPhasesOneTxPerFile(t *testing.T) {
	repo := &fakeRepo{catalog: map[string]model.Resolution{
		"Known|Band": model.NewResolution("SKNOWN", "ABAND"),
	}}
	logger := &fakeLogger{}
	var discovered []string

	if err := newTestEngine(repo, logger, &discovered).Run(context.Background(), "songs", "logs"); err != nil {
		t.Fatalf("Run() err=%v", err)
	}

	want := strings.Join([]string{
		"ddl",
		"begin", "song", "artist", "commit",
		"begin", "song", "artist", "commit",
		"begin", "time", "time", "user", "user",
		"lookup", "songplay", "lookup", "songplay", "commit",
	}, ",")
	if got := strings.Join(repo.ops, ","); got != want {
		t.Fatalf("ops=\n%s\nwant\n%s", got, want)
	}
	if strings.Join(discovered, ",") != "songs,logs" {
		t.Fatalf("discover calls=%v", discovered)
	}

	if len(repo.songplays) != 2 {
		t.Fatalf("songplays=%d, want 2", len(repo.songplays))
	}
	hit, miss := repo.songplays[0], repo.songplays[1]
	if hit.SongID == nil || *hit.SongID != "SKNOWN" || *hit.ArtistID != "ABAND" {
		t.Fatalf("matched songplay=%+v", hit)
	}
	if miss.SongID != nil || miss.ArtistID != nil {
		t.Fatalf("unmatched songplay has ids: %+v", miss)
	}
	if hit.SongplayID != 0 || miss.SongplayID != 1 || miss.Seq != 1 || miss.SourceFile != "/l/1.json" {
		t.Fatalf("ids/seq: hit=%+v miss=%+v", hit, miss)
	}

	for _, sub := range []string{
		"stage=catalog files found=2 root=songs",
		"stage=catalog 1/2 files processed",
		"stage=catalog 2/2 files processed",
		"stage=logs files found=1 root=logs",
		"stage=logs 1/1 files processed",
		"songplays_matched=1 songplays_unmatched=1",
	} {
		if !logger.contains(sub) {
			t.Fatalf("log missing %q in %q", sub, logger.msgs)
		}
	}
}

func TestEngine_Run_CatalogFailureRollsBackAndSkipsLogs(t *testing.T) {
	repo := &fakeRepo{failOn: "artist"}
	var discovered []string

	err := newTestEngine(repo, nil, &discovered).Run(context.Background(), "songs", "logs")
	if err == nil {
		t.Fatalf("Run() err=nil, want artist failure")
	}
	if !strings.Contains(err.Error(), "/s/a.json") || !strings.Contains(err.Error(), "artist failed") {
		t.Fatalf("err=%q, want file path and cause", err)
	}

	want := "ddl,begin,song,artist,rollback"
	if got := strings.Join(repo.ops, ","); got != want {
		t.Fatalf("ops=%s, want %s", got, want)
	}
	if len(discovered) != 1 {
		t.Fatalf("log files discovered after catalog failure: %v", discovered)
	}
}

func TestEngine_Run_ParseErrorIsTypedAndRolledBack(t *testing.T) {
	repo := &fakeRepo{}
	var discovered []string
	e := newTestEngine(repo, nil, &discovered)
	e.ExtractEvents = func(path string, loc *time.Location) (jsonparser.EventBatch, error) {
		return jsonparser.EventBatch{}, &jsonparser.ParseError{Path: path, Line: 4, Field: "level", Err: jsonparser.ErrInvalidValue}
	}

	err := e.Run(context.Background(), "songs", "logs")
	var pe *jsonparser.ParseError
	if !errors.As(err, &pe) {
		t.Fatalf("err=%v, want *ParseError", err)
	}
	if pe.Line != 4 || !errors.Is(err, jsonparser.ErrInvalidValue) {
		t.Fatalf("parse error=%+v", pe)
	}
	if got := repo.ops[len(repo.ops)-1]; got != "rollback" {
		t.Fatalf("last op=%s, want rollback", got)
	}
	if repo.songplays != nil {
		t.Fatalf("songplays written: %v", repo.songplays)
	}
}

func TestEngine_Run_LookupFailureAborts(t *testing.T) {
	repo := &fakeRepo{failOn: "lookup"}
	var discovered []string

	err := newTestEngine(repo, nil, &discovered).Run(context.Background(), "songs", "logs")
	if err == nil || !strings.Contains(err.Error(), "/l/1.json") {
		t.Fatalf("err=%v, want lookup failure with log path", err)
	}
	if got := repo.ops[len(repo.ops)-1]; got != "rollback" {
		t.Fatalf("last op=%s, want rollback", got)
	}
}

func TestEngine_Run_Errors(t *testing.T) {
	if err := (&Engine{}).Run(context.Background(), "a", "b"); err == nil {
		t.Fatalf("Run(nil repo) err=nil")
	}

	repo := &fakeRepo{}
	var discovered []string
	if err := newTestEngine(repo, nil, &discovered).Run(context.Background(), "missing", "logs"); err == nil {
		t.Fatalf("Run(missing root) err=nil")
	}
	if len(repo.ops) != 0 {
		t.Fatalf("ops=%v after discovery failure, want none", repo.ops)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	repo = &fakeRepo{}
	err := newTestEngine(repo, nil, &discovered).Run(ctx, "songs", "logs")
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Run(canceled) err=%v, want context.Canceled", err)
	}
	for _, op := range repo.ops {
		if op == "begin" {
			t.Fatalf("transaction opened after cancel: %v", repo.ops)
		}
	}
}
