package transformer

import (
	"context"
	"fmt"

	"sparkify/internal/metrics"
	"sparkify/internal/model"
)

// SongArtistLookup is the catalog query the resolver needs from the store.
//
// Implementations return the zero Resolution when nothing matches. An error
// means the store itself failed.
type SongArtistLookup interface {
	LookupSongArtist(ctx context.Context, title, artist string, duration float64) (model.Resolution, error)
}

// Resolver matches play events to (song_id, artist_id) pairs.
//
// Matching is exact on all three keys: title and artist name compare as
// case-sensitive strings and the song duration must equal the event length
// under the store's float equality. When the store holds several matching
// rows the first one in storage order wins; there is no ranking.
//
// A Resolver is not safe for concurrent use.
type Resolver struct {
	matched   int
	unmatched int
}

// Resolve looks up one event. A miss is not an error: it returns the zero
// Resolution, which becomes null foreign keys on the songplay row.
func (r *Resolver) Resolve(ctx context.Context, lookup SongArtistLookup, title, artist string, duration float64) (model.Resolution, error) {
	res, err := lookup.LookupSongArtist(ctx, title, artist, duration)
	if err != nil {
		return model.Resolution{}, fmt.Errorf("resolve song=%q artist=%q: %w", title, artist, err)
	}

	// A half-populated pair is treated as a miss so song_id and artist_id
	// are always null together.
	if !res.Matched() {
		r.unmatched++
		metrics.IncCounter("etl_records_total", 1, metrics.Labels{"kind": "songplay_unmatched"})
		return model.Resolution{}, nil
	}

	r.matched++
	metrics.IncCounter("etl_records_total", 1, metrics.Labels{"kind": "songplay_matched"})
	return res, nil
}

// Stats returns how many lookups matched and missed so far.
func (r *Resolver) Stats() (matched, unmatched int) {
	return r.matched, r.unmatched
}
