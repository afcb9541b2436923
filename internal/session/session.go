// Package session owns the playback session: what is playing, where it
// came from, and the single-active-session invariant.
package session

import (
	"fmt"
	"time"
)

// RemoteItemRef points at an item on an audiobook server.
type RemoteItemRef struct {
	ServerConnectionID string
	LibraryItemID      string
	EpisodeID          string // empty for books
}

// LocalItemRef points at an item in the local library.
type LocalItemRef struct {
	LocalItemID string
	EpisodeID   string // empty for books
}

// AudioTrack is one audio file of a session, in playback order.
type AudioTrack struct {
	Index    int
	Source   string // local path or server stream URL
	Duration time.Duration
}

// Chapter is one chapter marker on the session timeline.
// Chapters are sorted by Start, non-overlapping, with Start < End.
type Chapter struct {
	Start time.Duration
	End   time.Duration
	Title string // optional
}

// PlaybackSession is the durable record of one playback attempt.
//
// Exactly one of Remote or Local is set. The manager owns the in-memory
// current session; the store owns durable copies that survive restarts.
type PlaybackSession struct {
	ID string

	Remote *RemoteItemRef
	Local  *LocalItemRef

	// ConnectionScope is the server connection id within which active-session
	// uniqueness is enforced; empty for local-only sessions.
	ConnectionScope string

	// Display metadata cached at creation so later lookups are unnecessary.
	DisplayTitle  string
	DisplayAuthor string

	AudioTracks []AudioTrack
	Chapters    []Chapter
	Duration    time.Duration
	CurrentTime time.Duration

	IsActive  bool
	UpdatedAt time.Time
}

// IsLocal reports whether the session plays local media.
func (s *PlaybackSession) IsLocal() bool {
	return s.Local != nil
}

// ItemID returns the library item id of the session's source,
// local or remote.
func (s *PlaybackSession) ItemID() string {
	if s.Remote != nil {
		return s.Remote.LibraryItemID
	}
	if s.Local != nil {
		return s.Local.LocalItemID
	}
	return ""
}

// EpisodeID returns the episode id, or empty for books.
func (s *PlaybackSession) EpisodeID() string {
	if s.Remote != nil {
		return s.Remote.EpisodeID
	}
	if s.Local != nil {
		return s.Local.EpisodeID
	}
	return ""
}

// MatchesRemote reports whether the session already plays the given remote
// item. An empty episodeID matches any episode of the item, mirroring how a
// list row for a book carries no episode.
func (s *PlaybackSession) MatchesRemote(libraryItemID, episodeID string) bool {
	if s.Remote == nil || s.Remote.LibraryItemID != libraryItemID {
		return false
	}
	return episodeID == "" || s.Remote.EpisodeID == episodeID
}

// MatchesLocal reports whether the session already plays the given local item.
func (s *PlaybackSession) MatchesLocal(localItemID, episodeID string) bool {
	if s.Local == nil || s.Local.LocalItemID != localItemID {
		return false
	}
	return episodeID == "" || s.Local.EpisodeID == episodeID
}

// ChapterAt returns the chapter containing pos along with its 1-based
// number, or nil if the session has no chapters or pos is outside them.
func (s *PlaybackSession) ChapterAt(pos time.Duration) (*Chapter, int) {
	for i := range s.Chapters {
		c := &s.Chapters[i]
		if c.Start <= pos && pos < c.End {
			return c, i + 1
		}
	}
	return nil, 0
}

// ValidateChapters checks the chapter invariants: sorted by start,
// non-overlapping, start < end.
func ValidateChapters(chapters []Chapter) error {
	for i, c := range chapters {
		if c.Start >= c.End {
			return fmt.Errorf("chapter %d: start %v >= end %v", i, c.Start, c.End)
		}
		if i > 0 && c.Start < chapters[i-1].End {
			return fmt.Errorf("chapter %d overlaps chapter %d", i, i-1)
		}
	}
	return nil
}
