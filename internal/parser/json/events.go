package json

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	gojson "github.com/goccy/go-json"

	"sparkify/internal/model"
	"sparkify/internal/transformer"
)

// NextSongPage is the only page value whose events become songplays.
const NextSongPage = "NextSong"

// maxLineBytes bounds a single log line.
const maxLineBytes = 4 << 20

// EventBatch is the result of extracting one log file. The three slices are
// aligned: Times[i] and Users[i] were derived from Events[i].
type EventBatch struct {
	Events []model.Event
	Times  []model.Time
	Users  []model.User
	// Lines is the number of non-blank lines read, retained or not.
	Lines int
}

// userID accepts the log's userId as either a JSON string or a number.
type userID string

func (u *userID) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := gojson.Unmarshal(b, &s); err != nil {
			return err
		}
		*u = userID(s)
		return nil
	}

	var n gojson.Number
	if err := gojson.Unmarshal(b, &n); err != nil {
		return err
	}
	if i, err := n.Int64(); err == nil {
		*u = userID(strconv.FormatInt(i, 10))
		return nil
	}
	*u = userID(n.String())
	return nil
}

// rawEvent is the on-disk shape of one log line. page is checked before
// validation so non-NextSong events may omit anything.
type rawEvent struct {
	Page      *string  `json:"page"`
	TS        *int64   `json:"ts" validate:"required"`
	UserID    *userID  `json:"userId" validate:"required"`
	FirstName *string  `json:"firstName" validate:"required"`
	LastName  *string  `json:"lastName" validate:"required"`
	Gender    *string  `json:"gender" validate:"required"`
	Level     *string  `json:"level" validate:"required,oneof=free paid"`
	Song      *string  `json:"song" validate:"required"`
	Artist    *string  `json:"artist" validate:"required"`
	Length    *float64 `json:"length" validate:"required"`
	SessionID *int64   `json:"sessionId" validate:"required"`
	Location  *string  `json:"location" validate:"required"`
	UserAgent *string  `json:"userAgent" validate:"required"`
}

// ExtractEvents reads a log file, keeps NextSong events in file order, and
// derives the time and user rows for each of them in loc (nil means UTC).
func ExtractEvents(path string, loc *time.Location) (EventBatch, error) {
	f, err := os.Open(path)
	if err != nil {
		return EventBatch{}, fmt.Errorf("open log file: %w", err)
	}
	defer f.Close()
	return DecodeEvents(f, path, loc)
}

// DecodeEvents is ExtractEvents over an already-open reader.
//
// Every non-blank line must be well-formed JSON. Only retained events are
// checked for required fields.
func DecodeEvents(r io.Reader, path string, loc *time.Location) (EventBatch, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), maxLineBytes)

	var batch EventBatch
	line := 0
	for sc.Scan() {
		line++
		text := bytes.TrimSpace(sc.Bytes())
		if len(text) == 0 {
			continue
		}
		batch.Lines++

		var raw rawEvent
		if err := gojson.Unmarshal(text, &raw); err != nil {
			return EventBatch{}, decodeError(err, path, line)
		}
		if raw.Page == nil || *raw.Page != NextSongPage {
			continue
		}
		if err := checkRecord(&raw, path, line); err != nil {
			return EventBatch{}, err
		}

		ev := raw.event()
		batch.Events = append(batch.Events, ev)
		batch.Times = append(batch.Times, transformer.DeriveTime(ev.TS, loc))
		batch.Users = append(batch.Users, model.User{
			UserID:    ev.UserID,
			FirstName: ev.FirstName,
			LastName:  ev.LastName,
			Gender:    ev.Gender,
			Level:     ev.Level,
		})
	}
	if err := sc.Err(); err != nil {
		return EventBatch{}, &ParseError{Path: path, Line: line + 1, Err: err}
	}
	return batch, nil
}

// event assumes checkRecord passed.
func (r *rawEvent) event() model.Event {
	return model.Event{
		TS:        *r.TS,
		UserID:    string(*r.UserID),
		FirstName: *r.FirstName,
		LastName:  *r.LastName,
		Gender:    *r.Gender,
		Level:     model.Level(*r.Level),
		Song:      *r.Song,
		Artist:    *r.Artist,
		Length:    *r.Length,
		SessionID: *r.SessionID,
		Location:  *r.Location,
		UserAgent: *r.UserAgent,
	}
}
