package nowplaying

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// FetchFunc retrieves raw artwork bytes for a cover URL.
type FetchFunc func(ctx context.Context, url string) ([]byte, error)

// ChapterInfo carries chapter context for an incremental update.
type ChapterInfo struct {
	Title  string
	Number int // 1-based
	Count  int
}

// Synchronizer is the single writer of the now-playing projection.
//
// Every public method funnels through one mutex, so interleavings across
// SetSessionMetadata, Update and the artwork merge callback never produce a
// half-written projection. Artwork is fetched off-lock and merged back in
// under the lock, and only if the session identity still matches.
type Synchronizer struct {
	mu sync.Mutex

	proj         Projection
	storedTitle  string
	storedAuthor string

	defaultSink Sink
	secondary   Sink

	fetch      FetchFunc
	generation int // invalidates in-flight artwork fetches

	log zerolog.Logger
}

// New creates a synchronizer writing to the given default sink.
// fetch may be nil, in which case artwork is skipped.
func New(defaultSink Sink, fetch FetchFunc, log zerolog.Logger) *Synchronizer {
	return &Synchronizer{
		defaultSink: defaultSink,
		fetch:       fetch,
		log:         log.With().Str("component", "nowplaying").Logger(),
	}
}

// RegisterSecondarySink mirrors all subsequent writes to sink until Reset
// or replacement.
func (s *Synchronizer) RegisterSecondarySink(sink Sink) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.secondary = sink

	// Bring the new sink up to date immediately
	if s.proj.HasInfo() && sink != nil {
		sink.SetNowPlaying(s.proj)
	}
}

// SetSessionMetadata replaces the entire projection for a new session and
// kicks off the artwork fetch.
func (s *Synchronizer) SetSessionMetadata(meta Metadata) {
	s.mu.Lock()

	s.storedTitle = meta.Title
	s.storedAuthor = meta.Author

	// Clear stale artwork only when the identity changed or none is held,
	// so re-confirming the same item does not flicker.
	refetch := s.proj.ID != meta.ID || s.proj.Artwork == nil
	if refetch {
		s.proj.Artwork = nil
	}

	s.proj.ID = meta.ID
	s.proj.ItemID = meta.ItemID
	s.proj.IsLocal = meta.IsLocal
	s.proj.Title = meta.Title
	s.proj.Album = meta.Title
	s.proj.Artist = meta.Author
	if s.proj.Artist == "" {
		s.proj.Artist = "unknown"
	}
	s.proj.Duration = meta.Duration
	s.proj.Elapsed = meta.CurrentTime
	s.proj.Rate = meta.PlaybackRate
	s.proj.DefaultRate = meta.PlaybackRate
	s.proj.ChapterNumber = 0
	s.proj.ChapterCount = 0
	s.proj.MediaType = "audio"
	s.proj.LiveStream = false

	s.generation++
	gen := s.generation

	s.pushLocked()
	s.setStateLocked(StatePlaying)
	s.mu.Unlock()

	if refetch && meta.CoverURL != "" && s.fetch != nil {
		go s.fetchArtwork(gen, meta.ID, meta.CoverURL)
	}
}

// Update applies an incremental tick: position, rate and chapter context.
// Playback state is derived from the rate. The title always stays the
// stored book/episode title; chapter names go into the artist field.
func (s *Synchronizer) Update(duration, currentTime time.Duration, rate, defaultRate float64, chapter *ChapterInfo) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.proj.Duration = duration
	s.proj.Elapsed = currentTime
	s.proj.Rate = rate
	s.proj.DefaultRate = defaultRate

	if chapter != nil && chapter.Number > 0 && chapter.Count > 0 {
		s.proj.ChapterNumber = chapter.Number
		s.proj.ChapterCount = chapter.Count
	} else {
		// Cleared, not left stale
		s.proj.ChapterNumber = 0
		s.proj.ChapterCount = 0
	}

	if s.storedTitle != "" {
		s.proj.Title = s.storedTitle
	} else if s.proj.Album != "" {
		s.proj.Title = s.proj.Album
	}

	chapterName := ""
	if chapter != nil {
		chapterName = chapter.Title
	}
	switch {
	case chapterName != "" && s.storedAuthor != "":
		s.proj.Artist = s.storedAuthor + " · " + chapterName
	case chapterName != "":
		s.proj.Artist = chapterName
	case s.storedAuthor != "":
		s.proj.Artist = s.storedAuthor
	}

	s.pushLocked()
	if rate > 0 {
		s.setStateLocked(StatePlaying)
	} else {
		s.setStateLocked(StatePaused)
	}
}

// Reset clears the projection and the secondary sink registration, and
// sets every sink to stopped.
func (s *Synchronizer) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.storedTitle = ""
	s.storedAuthor = ""
	s.proj = Projection{}
	s.generation++

	s.defaultSink.Clear()
	s.defaultSink.SetPlaybackState(StateStopped)
	if s.secondary != nil {
		s.secondary.Clear()
		s.secondary.SetPlaybackState(StateStopped)
	}
	s.secondary = nil
}

// Current returns a copy of the projection.
func (s *Synchronizer) Current() Projection {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.proj
}

// HasInfo reports whether a session is currently projected.
func (s *Synchronizer) HasInfo() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.proj.HasInfo()
}

// fetchArtwork runs off the lock, then merges just the artwork field back
// into the projection if the session has not changed underneath it.
func (s *Synchronizer) fetchArtwork(gen int, sessionID, url string) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	data, err := s.fetch(ctx, url)
	if err != nil {
		s.log.Warn().Err(err).Str("url", url).Msg("artwork fetch failed")
		return
	}

	img, err := decodeArtwork(data)
	if err != nil {
		s.log.Warn().Err(err).Str("url", url).Msg("artwork decode failed")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.generation != gen || s.proj.ID != sessionID {
		// A newer session took over while we were fetching
		return
	}

	s.proj.Artwork = img
	s.pushLocked()
	s.log.Debug().Str("session", sessionID).Msg("artwork loaded")
}

// pushLocked writes the projection to the default sink and, if present and
// distinct, mirrors it to the secondary sink, in that order.
func (s *Synchronizer) pushLocked() {
	s.defaultSink.SetNowPlaying(s.proj)
	if s.secondary != nil && s.secondary != s.defaultSink {
		s.secondary.SetNowPlaying(s.proj)
	}
}

func (s *Synchronizer) setStateLocked(state PlaybackState) {
	s.defaultSink.SetPlaybackState(state)
	if s.secondary != nil && s.secondary != s.defaultSink {
		s.secondary.SetPlaybackState(state)
	}
}
