// Package model defines the typed rows of the songplays star schema.
//
// Rows are built at the JSON boundary (internal/parser/json) and consumed by
// the transformer and storage layers. Nothing downstream of the parser works
// with loosely typed maps.
package model

import "fmt"

// Level is a user's subscription level at event time.
type Level string

const (
	LevelFree Level = "free"
	LevelPaid Level = "paid"
)

// ParseLevel validates a raw level value.
func ParseLevel(s string) (Level, error) {
	switch Level(s) {
	case LevelFree, LevelPaid:
		return Level(s), nil
	default:
		return "", fmt.Errorf("invalid level %q (want free or paid)", s)
	}
}

// Song is one row of the songs dimension.
type Song struct {
	SongID   string
	Title    string
	ArtistID string
	Year     int
	Duration float64
}

// Artist is one row of the artists dimension. Location and coordinates are
// nullable in the source catalog.
type Artist struct {
	ArtistID  string
	Name      string
	Location  *string
	Latitude  *float64
	Longitude *float64
}

// Time is one row of the time dimension. StartTime is epoch milliseconds and
// every other field is the calendar decomposition of that instant.
type Time struct {
	StartTime int64
	Hour      int
	Day       int
	Week      int
	Month     int
	Year      int
	Weekday   int
}

// User is one row of the users dimension.
type User struct {
	UserID    string
	FirstName string
	LastName  string
	Gender    string
	Level     Level
}

// Resolution is the outcome of matching a play event against the catalog.
//
// SongID and ArtistID are either both set or both nil.
type Resolution struct {
	SongID   *string
	ArtistID *string
}

// Matched reports whether the event was resolved to a catalog entry.
func (r Resolution) Matched() bool {
	return r.SongID != nil && r.ArtistID != nil
}

// NewResolution returns a matched resolution.
func NewResolution(songID, artistID string) Resolution {
	return Resolution{SongID: &songID, ArtistID: &artistID}
}

// Songplay is one row of the songplays fact table.
//
// Seq is the zero-based index of the event among the retained events of
// SourceFile. SongplayID is assigned by a transformer.IDSource and equals Seq
// only when sequence ids are configured.
type Songplay struct {
	SongplayID int64
	StartTime  int64
	UserID     string
	Level      Level
	SongID     *string
	ArtistID   *string
	SessionID  int64
	Location   string
	UserAgent  string

	Seq        int
	SourceFile string
}

// Event is one retained play event (page == "NextSong") from a log file,
// validated and typed. TS is epoch milliseconds exactly as logged.
type Event struct {
	TS        int64
	UserID    string
	FirstName string
	LastName  string
	Gender    string
	Level     Level
	Song      string
	Artist    string
	Length    float64
	SessionID int64
	Location  string
	UserAgent string
}
