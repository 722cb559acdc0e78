// Package transformer turns typed events into star-schema rows: time
// decomposition, catalog resolution and songplay assembly.
package transformer

import (
	"time"

	"sparkify/internal/model"
)

// DeriveTime decomposes an epoch-millisecond timestamp into a time dimension
// row in loc.
//
// StartTime is the input value itself; it is never recomputed from the
// decomposed instant, so the stored key round-trips bit-exact with the log.
//
// Week is the ISO 8601 week number. Weekday is Monday=0 ... Sunday=6.
// A nil loc means UTC.
func DeriveTime(ms int64, loc *time.Location) model.Time {
	if loc == nil {
		loc = time.UTC
	}
	t := time.UnixMilli(ms).In(loc)
	_, week := t.ISOWeek()

	return model.Time{
		StartTime: ms,
		Hour:      t.Hour(),
		Day:       t.Day(),
		Week:      week,
		Month:     int(t.Month()),
		Year:      t.Year(),
		Weekday:   mondayFirst(t.Weekday()),
	}
}

func mondayFirst(d time.Weekday) int {
	return (int(d) + 6) % 7
}
