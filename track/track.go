// Package track describes a single listening event.
package track

import (
	"time"
)

// Track is one listening event. It is a plain value and never mutated after
// creation.
type Track struct {
	Artist        string
	Title         string
	Album         string
	Number        int
	MusicBrainzID string
	Duration      time.Duration // 0 means unknown
	StartTime     time.Time     // when the track began playing
	Love          bool
}

// Valid reports whether the track carries enough data to be submitted.
// Everything except artist and title is optional on the wire.
func (t Track) Valid() bool {
	return t.Artist != "" && t.Title != ""
}
