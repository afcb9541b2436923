// Package engine abstracts the audio rendering backend.
//
// The engine knows nothing about sessions, servers or persistence: it is
// handed an ordered list of audio tracks and exposes transport control over
// the combined timeline. Everything above it (session management,
// now-playing sync, timers) talks to this interface only.
package engine

import "time"

// Track is one audio file in the engine's playback timeline.
type Track struct {
	Source   string // file path or stream URL
	Duration time.Duration
}

// Interface defines the engine contract for dependency injection and testing.
type Interface interface {
	// Load replaces the timeline with the given tracks and positions the
	// transport at startAt on the combined timeline. Playback does not
	// start until Play is called.
	Load(tracks []Track, startAt time.Duration, rate float64) error

	// Play starts or resumes output. When allowSeekBack is true the engine
	// may nudge the position backward a few seconds so the listener can
	// pick the narration back up after a pause.
	Play(allowSeekBack bool)
	Pause()

	// SeekTo moves the transport to an absolute position on the combined
	// timeline, clamped to [0, Duration].
	SeekTo(pos time.Duration)

	SetRate(rate float64)
	Rate() float64

	Position() time.Duration
	Duration() time.Duration
	Status() Status

	// Volume is a 0.0-1.0 level; used by the sleep-timer fade.
	SetVolume(level float64)
	Volume() float64

	Close() error
}

// Verify implementations at compile time.
var (
	_ Interface = (*Local)(nil)
	_ Interface = (*Mock)(nil)
)
