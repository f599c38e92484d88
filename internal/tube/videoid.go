package tube

import (
	"fmt"
	"math"
	"net/url"
	"regexp"
	"strings"
)

const watchBase = "https://youtube.com/watch?v="

var videoIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{11}$`)

// ExtractVideoID derives the canonical video ID from an entry identifier.
// Accepted forms: a bare 11-character ID, a feed entry ID ("yt:video:<id>"),
// and the watch, youtu.be, shorts and embed URL shapes. The second return
// is false when no ID can be derived, meaning the entry is not a
// recognized video source.
func ExtractVideoID(entryID string) (string, bool) {
	entryID = strings.TrimSpace(entryID)
	if videoIDPattern.MatchString(entryID) {
		return entryID, true
	}
	if id, ok := strings.CutPrefix(entryID, "yt:video:"); ok {
		return id, videoIDPattern.MatchString(id)
	}

	u, err := url.Parse(entryID)
	if err != nil || u.Host == "" {
		return "", false
	}
	host := strings.TrimPrefix(strings.ToLower(u.Hostname()), "www.")
	switch host {
	case "youtu.be":
		id := strings.Trim(u.Path, "/")
		return id, videoIDPattern.MatchString(id)
	case "youtube.com", "m.youtube.com", "youtube-nocookie.com":
		if id := u.Query().Get("v"); id != "" {
			return id, videoIDPattern.MatchString(id)
		}
		for _, prefix := range []string{"/shorts/", "/embed/", "/live/"} {
			if rest, ok := strings.CutPrefix(u.Path, prefix); ok {
				id := strings.Trim(rest, "/")
				return id, videoIDPattern.MatchString(id)
			}
		}
	}
	return "", false
}

// WatchURL returns the watch page URL for a video ID.
func WatchURL(videoID string) string {
	return watchBase + videoID
}

// DeepLink returns a watch URL anchored at the given offset in seconds.
func DeepLink(videoID string, seconds float64) string {
	return fmt.Sprintf("%s%s&t=%d", watchBase, videoID, int(math.Floor(seconds)))
}
