//go:build !linux

package mpris

import "github.com/llehouerou/shelf/internal/nowplaying"

// Controls is the subset of player commands MPRIS clients may trigger.
type Controls interface {
	SetPaused(paused bool)
	Paused() bool
	SeekForward()
	SeekBackward()
	SetPlaybackRate(rate float64)
}

// Adapter is a no-op on non-Linux platforms.
type Adapter struct{}

// New returns a no-op adapter on non-Linux platforms.
func New(_ Controls) (*Adapter, error) {
	return &Adapter{}, nil
}

// SetNowPlaying implements nowplaying.Sink.
func (a *Adapter) SetNowPlaying(_ nowplaying.Projection) {}

// SetPlaybackState implements nowplaying.Sink.
func (a *Adapter) SetPlaybackState(_ nowplaying.PlaybackState) {}

// Clear implements nowplaying.Sink.
func (a *Adapter) Clear() {}

// Close is a no-op on non-Linux platforms.
func (a *Adapter) Close() error {
	return nil
}
