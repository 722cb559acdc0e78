// Package json extracts catalog and event records from the JSON input files.
//
// Catalog files hold one object each. Log files are newline-delimited JSON,
// one event per line. Both are read whole; files are small and each one is
// loaded in a single transaction anyway.
package json

import (
	"fmt"
	"io"
	"os"

	gojson "github.com/goccy/go-json"

	"sparkify/internal/model"
)

// rawSong is the on-disk shape of a catalog file.
type rawSong struct {
	SongID          *string  `json:"song_id" validate:"required"`
	Title           *string  `json:"title" validate:"required"`
	ArtistID        *string  `json:"artist_id" validate:"required"`
	ArtistName      *string  `json:"artist_name" validate:"required"`
	Duration        *float64 `json:"duration" validate:"required"`
	Year            *int     `json:"year" validate:"required"`
	ArtistLocation  *string  `json:"artist_location"`
	ArtistLatitude  *float64 `json:"artist_latitude"`
	ArtistLongitude *float64 `json:"artist_longitude"`
}

// ExtractCatalog reads one catalog file into its song and artist rows.
func ExtractCatalog(path string) (model.Song, model.Artist, error) {
	f, err := os.Open(path)
	if err != nil {
		return model.Song{}, model.Artist{}, fmt.Errorf("open catalog file: %w", err)
	}
	defer f.Close()
	return DecodeCatalog(f, path)
}

// DecodeCatalog is ExtractCatalog over an already-open reader. path is used
// for error reporting only.
func DecodeCatalog(r io.Reader, path string) (model.Song, model.Artist, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return model.Song{}, model.Artist{}, fmt.Errorf("read catalog file %s: %w", path, err)
	}

	// Unmarshal rejects anything but whitespace after the object.
	var raw rawSong
	if err := gojson.Unmarshal(data, &raw); err != nil {
		return model.Song{}, model.Artist{}, decodeError(err, path, 1)
	}
	if err := checkRecord(&raw, path, 1); err != nil {
		return model.Song{}, model.Artist{}, err
	}

	song := model.Song{
		SongID:   *raw.SongID,
		Title:    *raw.Title,
		ArtistID: *raw.ArtistID,
		Year:     *raw.Year,
		Duration: *raw.Duration,
	}
	artist := model.Artist{
		ArtistID:  *raw.ArtistID,
		Name:      *raw.ArtistName,
		Location:  raw.ArtistLocation,
		Latitude:  raw.ArtistLatitude,
		Longitude: raw.ArtistLongitude,
	}
	return song, artist, nil
}
