package nowplaying

import (
	"image"
	"time"
)

// PlaybackState is the playback state sinks display.
type PlaybackState int

const (
	StateStopped PlaybackState = iota
	StatePlaying
	StatePaused
)

// String returns the state name.
func (s PlaybackState) String() string {
	switch s {
	case StateStopped:
		return "Stopped"
	case StatePlaying:
		return "Playing"
	case StatePaused:
		return "Paused"
	default:
		return "Unknown"
	}
}

// Projection is the synchronizer's in-memory mirror of now-playing fields.
// It has a fixed schema: optional fields use zero values for "absent"
// (ChapterNumber 0 means no chapter context), never ad hoc keys.
//
// Sinks receive Projection by value, so a sink can never observe a
// half-written update.
type Projection struct {
	ID      string // session id; empty means nothing is playing
	ItemID  string
	IsLocal bool

	Title   string
	Artist  string // author, or "author · chapter" during chapter playback
	Album   string // always the book/podcast title
	Artwork image.Image

	Duration    time.Duration
	Elapsed     time.Duration
	Rate        float64
	DefaultRate float64

	ChapterNumber int // 1-based; 0 when no chapter context
	ChapterCount  int

	MediaType  string // "audio"
	LiveStream bool
}

// HasInfo reports whether the projection describes a session.
func (p Projection) HasInfo() bool {
	return p.ID != ""
}

// Sink is an external consumer of now-playing state.
//
// The synchronizer calls sinks while holding its write lock, so
// implementations must return promptly and must not call back into the
// synchronizer.
type Sink interface {
	SetNowPlaying(p Projection)
	SetPlaybackState(s PlaybackState)
	Clear()
}
