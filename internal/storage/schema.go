package storage

import "sparkify/internal/model"

// ColumnType is a logical column type; each Dialect maps it to a physical one.
type ColumnType int

const (
	// TypeKey is text that takes part in a primary key.
	TypeKey ColumnType = iota
	TypeText
	TypeInt
	TypeBigInt
	TypeDouble
)

// TableSpec describes one table of the star schema.
type TableSpec struct {
	Name       string
	Columns    []ColumnSpec
	PrimaryKey []string
}

// ColumnSpec describes one column. Columns are NOT NULL unless Nullable.
type ColumnSpec struct {
	Name     string
	Type     ColumnType
	Nullable bool
}

// ColumnNames returns the column names in declaration order, which is also
// the order of the *Args helpers below.
func (t TableSpec) ColumnNames() []string {
	out := make([]string, len(t.Columns))
	for i, c := range t.Columns {
		out[i] = c.Name
	}
	return out
}

// Table names.
const (
	TableSongs     = "songs"
	TableArtists   = "artists"
	TableTime      = "time"
	TableUsers     = "users"
	TableSongplays = "songplays"
)

// UserUpdateColumns are overwritten when a user row already exists.
var UserUpdateColumns = []string{"first_name", "last_name", "gender", "level"}

var (
	songsTable = TableSpec{
		Name: TableSongs,
		Columns: []ColumnSpec{
			{Name: "song_id", Type: TypeKey},
			{Name: "title", Type: TypeText},
			{Name: "artist_id", Type: TypeKey},
			{Name: "year", Type: TypeInt},
			{Name: "duration", Type: TypeDouble},
		},
		PrimaryKey: []string{"song_id"},
	}

	artistsTable = TableSpec{
		Name: TableArtists,
		Columns: []ColumnSpec{
			{Name: "artist_id", Type: TypeKey},
			{Name: "name", Type: TypeText},
			{Name: "location", Type: TypeText, Nullable: true},
			{Name: "latitude", Type: TypeDouble, Nullable: true},
			{Name: "longitude", Type: TypeDouble, Nullable: true},
		},
		PrimaryKey: []string{"artist_id"},
	}

	timeTable = TableSpec{
		Name: TableTime,
		Columns: []ColumnSpec{
			{Name: "start_time", Type: TypeBigInt},
			{Name: "hour", Type: TypeInt},
			{Name: "day", Type: TypeInt},
			{Name: "week", Type: TypeInt},
			{Name: "month", Type: TypeInt},
			{Name: "year", Type: TypeInt},
			{Name: "weekday", Type: TypeInt},
		},
		PrimaryKey: []string{"start_time"},
	}

	usersTable = TableSpec{
		Name: TableUsers,
		Columns: []ColumnSpec{
			{Name: "user_id", Type: TypeKey},
			{Name: "first_name", Type: TypeText},
			{Name: "last_name", Type: TypeText},
			{Name: "gender", Type: TypeText},
			{Name: "level", Type: TypeText},
		},
		PrimaryKey: []string{"user_id"},
	}

	songplaysTable = TableSpec{
		Name: TableSongplays,
		Columns: []ColumnSpec{
			{Name: "songplay_id", Type: TypeBigInt},
			{Name: "start_time", Type: TypeBigInt},
			{Name: "user_id", Type: TypeKey},
			{Name: "level", Type: TypeText},
			{Name: "song_id", Type: TypeKey, Nullable: true},
			{Name: "artist_id", Type: TypeKey, Nullable: true},
			{Name: "session_id", Type: TypeBigInt},
			{Name: "location", Type: TypeText},
			{Name: "user_agent", Type: TypeText},
			{Name: "file_seq", Type: TypeInt},
			{Name: "source_file", Type: TypeText},
		},
		PrimaryKey: []string{"songplay_id"},
	}
)

// Tables returns the star schema in creation order.
func Tables() []TableSpec {
	return []TableSpec{songsTable, artistsTable, timeTable, usersTable, songplaysTable}
}

// Table returns the spec for name.
func Table(name string) (TableSpec, bool) {
	for _, t := range Tables() {
		if t.Name == name {
			return t, true
		}
	}
	return TableSpec{}, false
}

func SongArgs(s model.Song) []any {
	return []any{s.SongID, s.Title, s.ArtistID, s.Year, s.Duration}
}

func ArtistArgs(a model.Artist) []any {
	return []any{a.ArtistID, a.Name, nullable(a.Location), nullable(a.Latitude), nullable(a.Longitude)}
}

func TimeArgs(t model.Time) []any {
	return []any{t.StartTime, t.Hour, t.Day, t.Week, t.Month, t.Year, t.Weekday}
}

func UserArgs(u model.User) []any {
	return []any{u.UserID, u.FirstName, u.LastName, u.Gender, string(u.Level)}
}

func SongplayArgs(sp model.Songplay) []any {
	return []any{
		sp.SongplayID, sp.StartTime, sp.UserID, string(sp.Level),
		nullable(sp.SongID), nullable(sp.ArtistID),
		sp.SessionID, sp.Location, sp.UserAgent, sp.Seq, sp.SourceFile,
	}
}

// nullable turns a nil pointer into an untyped nil so every driver binds NULL.
func nullable[T any](p *T) any {
	if p == nil {
		return nil
	}
	return *p
}
