// Package nowplaying projects playback state into external now-playing
// sinks (desktop MPRIS, an in-car display) from a single in-memory truth.
package nowplaying

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// tokenlessCoverVersion is the first server version that serves cover
// images without the access token query parameter.
const tokenlessCoverVersion = "2.17.0"

// Metadata is a snapshot describing one session for external sinks.
// It is an immutable value: superseded wholesale on session change.
type Metadata struct {
	ID           string // session id
	ItemID       string
	Title        string
	Author       string // optional
	IsLocal      bool
	PlaybackRate float64
	Duration     time.Duration
	CurrentTime  time.Duration
	CoverURL     string // optional; where to fetch artwork from
}

// CoverURL builds the cover image URL for a remote item. Servers at or
// above 2.17.0 no longer want the token as a query parameter.
func CoverURL(address, token, serverVersion, itemID string) string {
	if address == "" || itemID == "" {
		return ""
	}
	if versionAtLeast(serverVersion, tokenlessCoverVersion) {
		return fmt.Sprintf("%s/api/items/%s/cover", address, itemID)
	}
	return fmt.Sprintf("%s/api/items/%s/cover?token=%s", address, itemID, token)
}

// versionAtLeast compares dotted numeric versions ("2.17.0"). Unknown or
// malformed versions compare as older, so the token is kept: older
// servers reject tokenless requests, newer ones just ignore it.
func versionAtLeast(version, minimum string) bool {
	if version == "" {
		return false
	}
	v := strings.Split(strings.TrimPrefix(version, "v"), ".")
	m := strings.Split(minimum, ".")
	for i := 0; i < len(m); i++ {
		var vPart int
		if i < len(v) {
			n, err := strconv.Atoi(v[i])
			if err != nil {
				return false
			}
			vPart = n
		}
		mPart, _ := strconv.Atoi(m[i])
		if vPart != mPart {
			return vPart > mPart
		}
	}
	return true
}
