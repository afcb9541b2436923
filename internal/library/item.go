// Package library models locally stored audiobooks and podcasts and
// imports them from folders of audio files.
package library

import "time"

// Track is one audio file of a local item, in playback order.
type Track struct {
	Index    int
	Path     string
	Duration time.Duration
}

// Chapter is a chapter marker on a local item's combined timeline.
type Chapter struct {
	Start time.Duration
	End   time.Duration
	Title string
}

// Episode is one podcast episode of a local item.
type Episode struct {
	ID       string
	Title    string
	Tracks   []Track
	Duration time.Duration
}

// Item is a locally stored audiobook or podcast.
//
// For books, Tracks holds the audio files and Episodes is empty. For
// podcasts, each episode carries its own tracks.
type Item struct {
	ID       string
	Title    string
	Author   string
	Tracks   []Track
	Chapters []Chapter
	Episodes []Episode
	Duration time.Duration
	AddedAt  time.Time
}

// Episode returns the episode with the given id, or nil.
func (it *Item) Episode(id string) *Episode {
	for i := range it.Episodes {
		if it.Episodes[i].ID == id {
			return &it.Episodes[i]
		}
	}
	return nil
}
