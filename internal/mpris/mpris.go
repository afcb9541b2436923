//go:build linux

package mpris

import (
	"fmt"
	"hash/fnv"
	"image"
	"sync"

	"github.com/godbus/dbus/v5"
	"github.com/quarckster/go-mpris-server/pkg/server"
	"github.com/quarckster/go-mpris-server/pkg/types"

	"github.com/llehouerou/shelf/internal/nowplaying"
)

// Controls is the subset of player commands MPRIS clients may trigger.
type Controls interface {
	SetPaused(paused bool)
	Paused() bool
	SeekForward()
	SeekBackward()
	SetPlaybackRate(rate float64)
}

// Adapter exposes the now-playing projection over D-Bus and routes MPRIS
// commands back to the player. It is registered with the synchronizer as
// a sink, so every projection write reaches desktop media controls.
type Adapter struct {
	server *server.Server
	state  *sharedState
}

// sharedState is the projection snapshot the D-Bus adapters read from.
type sharedState struct {
	mu     sync.Mutex
	proj   nowplaying.Projection
	status nowplaying.PlaybackState
	artURL string
}

// New creates and starts a new MPRIS adapter.
func New(controls Controls) (*Adapter, error) {
	state := &sharedState{}
	a := &Adapter{
		state: state,
	}

	rootAdapter := &rootAdapter{}
	playerAdapter := &playerAdapter{controls: controls, state: state}

	a.server = server.NewServer("shelf", rootAdapter, playerAdapter)

	go func() {
		_ = a.server.Listen()
	}()

	return a, nil
}

// SetNowPlaying implements nowplaying.Sink.
func (a *Adapter) SetNowPlaying(proj nowplaying.Projection) {
	a.state.mu.Lock()
	newArt := proj.Artwork != nil && (a.state.proj.ID != proj.ID || a.state.artURL == "")
	if a.state.proj.ID != proj.ID {
		a.state.artURL = ""
	}
	a.state.proj = proj
	a.state.mu.Unlock()

	// The PNG encode hits the disk, so it stays off the sink callback. The
	// URL is only published if the session has not changed underneath it.
	if newArt {
		go a.cacheCover(proj.ID, proj.ItemID, proj.Artwork)
	}
}

func (a *Adapter) cacheCover(sessionID, itemID string, img image.Image) {
	path, err := writeCoverCache(itemID, img)
	if err != nil {
		return
	}
	a.state.mu.Lock()
	if a.state.proj.ID == sessionID {
		a.state.artURL = "file://" + path
	}
	a.state.mu.Unlock()
}

// SetPlaybackState implements nowplaying.Sink.
func (a *Adapter) SetPlaybackState(state nowplaying.PlaybackState) {
	a.state.mu.Lock()
	defer a.state.mu.Unlock()
	a.state.status = state
}

// Clear implements nowplaying.Sink.
func (a *Adapter) Clear() {
	a.state.mu.Lock()
	defer a.state.mu.Unlock()
	a.state.proj = nowplaying.Projection{}
	a.state.status = nowplaying.StateStopped
	a.state.artURL = ""
}

// Close stops the adapter and releases D-Bus resources.
func (a *Adapter) Close() error {
	return a.server.Stop()
}

// rootAdapter implements OrgMprisMediaPlayer2Adapter.
type rootAdapter struct{}

func (r *rootAdapter) Raise() error {
	return nil // Not supported
}

func (r *rootAdapter) Quit() error {
	return nil // Not supported - app manages its own lifecycle
}

func (r *rootAdapter) CanQuit() (bool, error) {
	return false, nil
}

func (r *rootAdapter) CanRaise() (bool, error) {
	return false, nil
}

func (r *rootAdapter) HasTrackList() (bool, error) {
	return false, nil
}

func (r *rootAdapter) Identity() (string, error) {
	return "Shelf", nil
}

//nolint:revive // Method name required by interface.
func (r *rootAdapter) SupportedUriSchemes() ([]string, error) {
	return []string{"file", "http", "https"}, nil
}

func (r *rootAdapter) SupportedMimeTypes() ([]string, error) {
	return []string{"audio/mpeg", "audio/flac", "audio/mp3"}, nil
}

// playerAdapter implements OrgMprisMediaPlayer2PlayerAdapter.
type playerAdapter struct {
	controls Controls
	state    *sharedState
}

// Next skips forward. Audiobooks have no track queue, so next and
// previous map to the configured seek jumps.
func (p *playerAdapter) Next() error {
	p.controls.SeekForward()
	return nil
}

func (p *playerAdapter) Previous() error {
	p.controls.SeekBackward()
	return nil
}

func (p *playerAdapter) Pause() error {
	p.controls.SetPaused(true)
	return nil
}

func (p *playerAdapter) PlayPause() error {
	p.controls.SetPaused(!p.controls.Paused())
	return nil
}

func (p *playerAdapter) Stop() error {
	p.controls.SetPaused(true)
	return nil
}

func (p *playerAdapter) Play() error {
	p.controls.SetPaused(false)
	return nil
}

func (p *playerAdapter) Seek(offset types.Microseconds) error {
	if offset >= 0 {
		p.controls.SeekForward()
	} else {
		p.controls.SeekBackward()
	}
	return nil
}

func (p *playerAdapter) SetPosition(_ string, _ types.Microseconds) error {
	return nil // Not supported
}

//nolint:revive // Method name required by interface.
func (p *playerAdapter) OpenUri(_ string) error {
	return nil // Not supported
}

func (p *playerAdapter) PlaybackStatus() (types.PlaybackStatus, error) {
	p.state.mu.Lock()
	defer p.state.mu.Unlock()
	switch p.state.status {
	case nowplaying.StatePlaying:
		return types.PlaybackStatusPlaying, nil
	case nowplaying.StatePaused:
		return types.PlaybackStatusPaused, nil
	case nowplaying.StateStopped:
		return types.PlaybackStatusStopped, nil
	}
	return types.PlaybackStatusStopped, nil
}

func (p *playerAdapter) Rate() (float64, error) {
	p.state.mu.Lock()
	defer p.state.mu.Unlock()
	if p.state.proj.Rate > 0 {
		return p.state.proj.Rate, nil
	}
	return 1.0, nil
}

func (p *playerAdapter) SetRate(rate float64) error {
	if rate > 0 {
		p.controls.SetPlaybackRate(rate)
	}
	return nil
}

func (p *playerAdapter) Metadata() (types.Metadata, error) {
	p.state.mu.Lock()
	defer p.state.mu.Unlock()

	proj := p.state.proj
	if !proj.HasInfo() {
		return types.Metadata{}, nil
	}

	meta := types.Metadata{
		TrackId: dbus.ObjectPath(formatTrackID(proj.ID)),
		Length:  types.Microseconds(proj.Duration.Microseconds()),
		Title:   proj.Title,
		Artist:  []string{proj.Artist},
		Album:   proj.Album,
	}
	if proj.ChapterNumber > 0 {
		meta.TrackNumber = proj.ChapterNumber
	}
	if p.state.artURL != "" {
		meta.ArtUrl = p.state.artURL
	}
	return meta, nil
}

func (p *playerAdapter) Volume() (float64, error) {
	return 1.0, nil // Volume control not exposed
}

func (p *playerAdapter) SetVolume(_ float64) error {
	return nil // Not supported
}

func (p *playerAdapter) Position() (int64, error) {
	p.state.mu.Lock()
	defer p.state.mu.Unlock()
	return p.state.proj.Elapsed.Microseconds(), nil
}

func (p *playerAdapter) MinimumRate() (float64, error) {
	return 0.5, nil
}

func (p *playerAdapter) MaximumRate() (float64, error) {
	return 3.0, nil
}

func (p *playerAdapter) CanGoNext() (bool, error) {
	return true, nil
}

func (p *playerAdapter) CanGoPrevious() (bool, error) {
	return true, nil
}

func (p *playerAdapter) CanPlay() (bool, error) {
	p.state.mu.Lock()
	defer p.state.mu.Unlock()
	return p.state.proj.HasInfo(), nil
}

func (p *playerAdapter) CanPause() (bool, error) {
	return true, nil
}

func (p *playerAdapter) CanSeek() (bool, error) {
	return true, nil
}

func (p *playerAdapter) CanControl() (bool, error) {
	return true, nil
}

func formatTrackID(id string) string {
	h := fnv.New64a()
	h.Write([]byte(id))
	return fmt.Sprintf("/org/mpris/MediaPlayer2/Track/%x", h.Sum64())
}
