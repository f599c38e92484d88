package caption

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tubemeta/tubemeta/internal/tube"
)

func TestSelectTrackFirstPreferenceWins(t *testing.T) {
	t.Parallel()

	tracks := []tube.CaptionTrack{
		{LanguageCode: "es"},
		{LanguageCode: "en"},
	}

	track, err := SelectTrack(tracks, []string{"english", "spanish"})
	require.NoError(t, err)
	require.Equal(t, "en", track.LanguageCode)
}

func TestSelectTrackScansTracksInOrder(t *testing.T) {
	t.Parallel()

	tracks := []tube.CaptionTrack{
		{Name: "English (auto-generated)", LanguageCode: "en", BaseURL: "auto"},
		{Name: "English", LanguageCode: "en", BaseURL: "manual"},
	}

	track, err := SelectTrack(tracks, []string{"english"})
	require.NoError(t, err)
	require.Equal(t, "auto", track.BaseURL)
}

func TestSelectTrackMatchesLanguageName(t *testing.T) {
	t.Parallel()

	tracks := []tube.CaptionTrack{
		{Name: "Deutsch", LanguageCode: "de"},
		{Name: "English (United Kingdom)", LanguageCode: "en-GB"},
	}

	track, err := SelectTrack(tracks, []string{"english"})
	require.NoError(t, err)
	require.Equal(t, "en-GB", track.LanguageCode)
}

func TestSelectTrackIsCaseInsensitive(t *testing.T) {
	t.Parallel()

	tracks := []tube.CaptionTrack{{Name: "ENGLISH", LanguageCode: "EN"}}

	track, err := SelectTrack(tracks, []string{"English"})
	require.NoError(t, err)
	require.Equal(t, "EN", track.LanguageCode)
}

func TestSelectTrackDistinguishesFailures(t *testing.T) {
	t.Parallel()

	_, err := SelectTrack(nil, []string{"english"})
	require.ErrorIs(t, err, ErrNoTracks)

	_, err = SelectTrack([]tube.CaptionTrack{{Name: "Deutsch", LanguageCode: "de"}}, []string{"english"})
	require.ErrorIs(t, err, ErrNoLanguageMatch)
}
