package caption

import (
	"errors"
	"strings"

	"github.com/tubemeta/tubemeta/internal/tube"
)

// Terminal selection failures, reported separately: the video has no
// caption tracks at all, or none of the preferred languages matched.
var (
	ErrNoTracks        = errors.New("no caption tracks available")
	ErrNoLanguageMatch = errors.New("no caption track matches language preferences")
)

// SelectTrack picks the best track for the ordered preference list. For
// each preference, every track is scanned in original order for a
// case-insensitive substring match against the human-readable language
// name or the language code; the first track matched by the
// highest-priority preference wins.
func SelectTrack(tracks []tube.CaptionTrack, preferences []string) (tube.CaptionTrack, error) {
	if len(tracks) == 0 {
		return tube.CaptionTrack{}, ErrNoTracks
	}
	for _, pref := range preferences {
		pref = strings.ToLower(strings.TrimSpace(pref))
		if pref == "" {
			continue
		}
		for _, track := range tracks {
			if matches(track.Name, pref) || matches(track.LanguageCode, pref) {
				return track, nil
			}
		}
	}
	return tube.CaptionTrack{}, ErrNoLanguageMatch
}

// matches reports a substring match in either direction, so the preference
// "english" matches both the bare code "en" and the track name
// "English (auto-generated)".
func matches(value, pref string) bool {
	if value == "" {
		return false
	}
	value = strings.ToLower(value)
	return strings.Contains(value, pref) || strings.Contains(pref, value)
}
