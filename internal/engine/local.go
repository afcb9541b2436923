package engine

import (
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/gopxl/beep/v2"
	"github.com/gopxl/beep/v2/effects"
	"github.com/gopxl/beep/v2/flac"
	"github.com/gopxl/beep/v2/mp3"
	"github.com/gopxl/beep/v2/speaker"
	"github.com/rs/zerolog"
)

const resampleQuality = 4

var speakerInitialized bool

// Local renders a session's audio tracks from local files through beep.
// Tracks are stitched into one continuous timeline; positions and seeks are
// expressed on the combined timeline and translated to per-track offsets.
type Local struct {
	mu sync.Mutex

	tracks  []Track
	offsets []time.Duration // cumulative start of each track on the timeline
	total   time.Duration
	current int

	file      *os.File
	streamer  beep.StreamSeekCloser
	format    beep.Format
	ctrl      *beep.Ctrl
	resampler *beep.Resampler
	volume    *effects.Volume

	status      Status
	rate        float64
	volumeLevel float64
	muted       bool
	pausedAt    time.Time

	log zerolog.Logger
}

// NewLocal creates a local-file engine.
func NewLocal(log zerolog.Logger) *Local {
	return &Local{
		status:      Idle,
		rate:        1.0,
		volumeLevel: 1.0,
		log:         log.With().Str("component", "engine").Logger(),
	}
}

func (e *Local) Load(tracks []Track, startAt time.Duration, rate float64) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.closeTrackLocked()

	if len(tracks) == 0 {
		return fmt.Errorf("load: no audio tracks")
	}

	e.tracks = tracks
	e.offsets = make([]time.Duration, len(tracks))
	e.total = 0
	for i, t := range tracks {
		e.offsets[i] = e.total
		e.total += t.Duration
	}
	if rate > 0 {
		e.rate = rate
	}

	e.status = Buffering
	idx, into := e.locate(startAt)
	if err := e.openTrackLocked(idx, into); err != nil {
		e.status = Idle
		return err
	}

	// Loaded but not yet asked to play
	e.ctrl.Paused = true
	e.status = Paused
	return nil
}

func (e *Local) Play(allowSeekBack bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.ctrl == nil {
		return
	}

	if allowSeekBack && e.status == Paused && !e.pausedAt.IsZero() {
		if back := rewindFor(time.Since(e.pausedAt)); back > 0 {
			e.seekToLocked(e.positionLocked() - back)
		}
	}

	speaker.Lock()
	e.ctrl.Paused = false
	speaker.Unlock()
	e.status = Playing
	e.pausedAt = time.Time{}
}

func (e *Local) Pause() {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.ctrl == nil || e.status != Playing {
		return
	}
	speaker.Lock()
	e.ctrl.Paused = true
	speaker.Unlock()
	e.status = Paused
	e.pausedAt = time.Now()
}

func (e *Local) SeekTo(pos time.Duration) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.seekToLocked(pos)
}

func (e *Local) seekToLocked(pos time.Duration) {
	if e.streamer == nil {
		return
	}
	if pos < 0 {
		pos = 0
	}
	if pos > e.total {
		pos = e.total
	}

	idx, into := e.locate(pos)
	if idx != e.current {
		wasPlaying := e.status == Playing
		if err := e.openTrackLocked(idx, into); err != nil {
			e.log.Error().Err(err).Int("track", idx).Msg("seek: failed to open track")
			return
		}
		speaker.Lock()
		e.ctrl.Paused = !wasPlaying
		speaker.Unlock()
		return
	}

	speaker.Lock()
	err := e.streamer.Seek(e.format.SampleRate.N(into))
	speaker.Unlock()
	if err != nil {
		e.log.Error().Err(err).Dur("pos", pos).Msg("seek failed")
	}
}

func (e *Local) SetRate(rate float64) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if rate <= 0 {
		return
	}
	e.rate = rate
	if e.resampler != nil {
		speaker.Lock()
		e.resampler.SetRatio(rate)
		speaker.Unlock()
	}
}

func (e *Local) Rate() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.rate
}

func (e *Local) Position() time.Duration {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.positionLocked()
}

func (e *Local) positionLocked() time.Duration {
	if e.streamer == nil {
		return 0
	}
	// Read without the speaker lock - may be slightly stale but avoids deadlocks.
	return e.offsets[e.current] + e.format.SampleRate.D(e.streamer.Position())
}

func (e *Local) Duration() time.Duration {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.total
}

func (e *Local) Status() Status {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.status
}

// SetVolume sets the volume level (0.0 to 1.0).
func (e *Local) SetVolume(level float64) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if level < 0 {
		level = 0
	}
	if level > 1 {
		level = 1
	}
	e.volumeLevel = level

	if !e.muted && e.volume != nil {
		speaker.Lock()
		e.volume.Volume = levelToVolume(level)
		e.volume.Silent = level <= 0
		speaker.Unlock()
	}
}

func (e *Local) Volume() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.volumeLevel
}

func (e *Local) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.closeTrackLocked()
	e.tracks = nil
	e.offsets = nil
	e.total = 0
	e.status = Idle
	return nil
}

// locate maps a timeline position to a track index and intra-track offset.
func (e *Local) locate(pos time.Duration) (int, time.Duration) {
	for i := len(e.offsets) - 1; i >= 0; i-- {
		if pos >= e.offsets[i] {
			return i, pos - e.offsets[i]
		}
	}
	return 0, 0
}

func (e *Local) openTrackLocked(idx int, into time.Duration) error {
	e.closeTrackLocked()

	track := e.tracks[idx]
	ext := strings.ToLower(filepath.Ext(track.Source))

	f, err := os.Open(track.Source)
	if err != nil {
		return err
	}

	var streamer beep.StreamSeekCloser
	var format beep.Format

	switch ext {
	case ".mp3":
		streamer, format, err = mp3.Decode(f)
	case ".flac":
		streamer, format, err = flac.Decode(f)
	default:
		f.Close()
		return fmt.Errorf("unsupported format: %s", ext)
	}
	if err != nil {
		f.Close()
		return err
	}

	if !speakerInitialized {
		if err := speaker.Init(format.SampleRate, format.SampleRate.N(time.Second/10)); err != nil {
			streamer.Close()
			f.Close()
			return err
		}
		speakerInitialized = true
	}

	if into > 0 {
		if err := streamer.Seek(format.SampleRate.N(into)); err != nil {
			streamer.Close()
			f.Close()
			return err
		}
	}

	e.file = f
	e.streamer = streamer
	e.format = format
	e.current = idx
	e.ctrl = &beep.Ctrl{Streamer: streamer}
	e.resampler = beep.ResampleRatio(resampleQuality, e.rate, e.ctrl)
	e.volume = &effects.Volume{
		Streamer: e.resampler,
		Base:     2,
		Volume:   levelToVolume(e.volumeLevel),
		Silent:   e.muted || e.volumeLevel <= 0,
	}

	speaker.Clear()
	// The callback runs on the speaker goroutine with its lock held, so
	// the track advance has to happen elsewhere.
	speaker.Play(beep.Seq(e.volume, beep.Callback(func() {
		go e.onTrackFinished(idx)
	})))

	return nil
}

// onTrackFinished advances to the next track, or stops at the end of the
// timeline.
func (e *Local) onTrackFinished(idx int) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if idx != e.current || idx+1 >= len(e.tracks) {
		if idx == e.current {
			e.status = Paused
		}
		return
	}

	e.status = Buffering
	if err := e.openTrackLocked(idx+1, 0); err != nil {
		e.log.Error().Err(err).Int("track", idx+1).Msg("failed to advance to next track")
		e.status = Paused
		return
	}
	e.status = Playing
}

func (e *Local) closeTrackLocked() {
	if e.streamer != nil {
		speaker.Clear()
		e.streamer.Close()
		e.streamer = nil
	}
	if e.file != nil {
		e.file.Close()
		e.file = nil
	}
	e.ctrl = nil
	e.resampler = nil
	e.volume = nil
}

// rewindFor maps a pause duration to a catch-up rewind.
func rewindFor(paused time.Duration) time.Duration {
	switch {
	case paused > 10*time.Minute:
		return 10 * time.Second
	case paused > time.Minute:
		return 5 * time.Second
	case paused > 5*time.Second:
		return 2 * time.Second
	default:
		return 0
	}
}

// levelToVolume converts a 0.0-1.0 level to beep's Volume value.
// beep uses a logarithmic scale where Volume is in "decibels" with base 2.
// We map: 1.0 -> 0, 0.5 -> -1, 0.25 -> -2, 0 -> -10 (essentially silent)
func levelToVolume(level float64) float64 {
	if level <= 0 {
		return -10
	}
	if level >= 1 {
		return 0
	}
	return math.Log2(level)
}
