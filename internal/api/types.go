package api

import (
	"time"

	"github.com/llehouerou/shelf/internal/session"
)

// Library is a media library on the server.
type Library struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	MediaType string `json:"mediaType"`
}

// LibraryItem is a book or podcast as listed by the server.
type LibraryItem struct {
	ID        string        `json:"id"`
	LibraryID string        `json:"libraryId"`
	MediaType string        `json:"mediaType"`
	Media     ItemMedia     `json:"media"`
	Progress  *ItemProgress `json:"userMediaProgress,omitempty"`
}

// ItemMedia carries the display metadata of a library item.
type ItemMedia struct {
	Metadata ItemMetadata `json:"metadata"`
	Duration float64      `json:"duration"`
}

// ItemMetadata is the title/author block of a library item.
type ItemMetadata struct {
	Title      string `json:"title"`
	AuthorName string `json:"authorName"`
}

// ItemProgress is the listening progress the server has for an item.
type ItemProgress struct {
	CurrentTime float64 `json:"currentTime"`
	Progress    float64 `json:"progress"`
	IsFinished  bool    `json:"isFinished"`
}

// playRequest is the body of a session start call.
type playRequest struct {
	DeviceInfo      deviceInfo `json:"deviceInfo"`
	ForceTranscode  bool       `json:"forceTranscode"`
	ForceDirectPlay bool       `json:"forceDirectPlay"`
	MediaPlayer     string     `json:"mediaPlayer"`
}

type deviceInfo struct {
	ClientName    string `json:"clientName"`
	ClientVersion string `json:"clientVersion"`
}

// sessionResponse is the server's playback session payload.
type sessionResponse struct {
	ID            string          `json:"id"`
	LibraryItemID string          `json:"libraryItemId"`
	EpisodeID     string          `json:"episodeId"`
	DisplayTitle  string          `json:"displayTitle"`
	DisplayAuthor string          `json:"displayAuthor"`
	Duration      float64         `json:"duration"`
	CurrentTime   float64         `json:"currentTime"`
	AudioTracks   []trackResponse `json:"audioTracks"`
	Chapters      []chapterResp   `json:"chapters"`
}

type trackResponse struct {
	Index      int     `json:"index"`
	Duration   float64 `json:"duration"`
	ContentURL string  `json:"contentUrl"`
}

type chapterResp struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
	Title string  `json:"title"`
}

// toSession maps a server payload onto the domain type. Track content
// URLs are made absolute against the server address.
func (r *sessionResponse) toSession(baseURL, token, connectionID string) *session.PlaybackSession {
	s := &session.PlaybackSession{
		ID: r.ID,
		Remote: &session.RemoteItemRef{
			ServerConnectionID: connectionID,
			LibraryItemID:      r.LibraryItemID,
			EpisodeID:          r.EpisodeID,
		},
		ConnectionScope: connectionID,
		DisplayTitle:    r.DisplayTitle,
		DisplayAuthor:   r.DisplayAuthor,
		Duration:        secondsToDuration(r.Duration),
		CurrentTime:     secondsToDuration(r.CurrentTime),
		IsActive:        true,
	}
	for _, t := range r.AudioTracks {
		s.AudioTracks = append(s.AudioTracks, session.AudioTrack{
			Index:    t.Index,
			Source:   baseURL + t.ContentURL + "?token=" + token,
			Duration: secondsToDuration(t.Duration),
		})
	}
	for _, c := range r.Chapters {
		s.Chapters = append(s.Chapters, session.Chapter{
			Start: secondsToDuration(c.Start),
			End:   secondsToDuration(c.End),
			Title: c.Title,
		})
	}
	return s
}

func secondsToDuration(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}

func durationToSeconds(d time.Duration) float64 {
	return d.Seconds()
}
