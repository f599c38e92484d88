// Package caption locates, selects and fetches caption tracks for a video.
package caption

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"go.uber.org/zap"

	"github.com/tubemeta/tubemeta/internal/tube"
)

// Watch page scrape markers. The caption tracklist JSON is embedded inline
// between these two; this is an unversioned scraping contract and format
// drift surfaces as ErrMalformedWatchPage.
const (
	captionsMarker     = `"captions":`
	videoDetailsMarker = `,"videoDetails`
)

// ErrMalformedWatchPage is a parse failure of the watch page, distinct from
// a transport failure: a marker was absent or the bounded slice was not
// valid JSON.
var ErrMalformedWatchPage = errors.New("no caption data found in watch page")

// Locator scrapes watch pages for embedded caption track listings.
type Locator struct {
	client tube.Fetcher
	logger *zap.Logger
}

// NewLocator constructs a Locator.
func NewLocator(client tube.Fetcher, logger *zap.Logger) *Locator {
	return &Locator{client: client, logger: logger}
}

// captionsBlob is the JSON bounded by the scrape markers.
type captionsBlob struct {
	Renderer struct {
		Tracks []struct {
			Name struct {
				SimpleText string `json:"simpleText"`
			} `json:"name"`
			LanguageCode string `json:"languageCode"`
			BaseURL      string `json:"baseUrl"`
		} `json:"captionTracks"`
	} `json:"playerCaptionsTracklistRenderer"`
}

// Locate fetches the watch page for the video and extracts its caption
// track list.
func (l *Locator) Locate(ctx context.Context, videoID string) ([]tube.CaptionTrack, error) {
	resp, err := l.client.Fetch(ctx, tube.FetchRequest{URL: tube.WatchURL(videoID)})
	if err != nil {
		return nil, fmt.Errorf("fetch watch page: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("watch page returned status %d", resp.StatusCode)
	}
	return l.extract(videoID, resp.Body)
}

func (l *Locator) extract(videoID string, body []byte) ([]tube.CaptionTrack, error) {
	begin := bytes.Index(body, []byte(captionsMarker))
	if begin < 0 {
		return nil, fmt.Errorf("%w: captions marker absent", ErrMalformedWatchPage)
	}
	rest := body[begin+len(captionsMarker):]
	end := bytes.Index(rest, []byte(videoDetailsMarker))
	if end < 0 {
		return nil, fmt.Errorf("%w: videoDetails marker absent", ErrMalformedWatchPage)
	}

	blob := bytes.ReplaceAll(rest[:end], []byte("\n"), nil)
	var data captionsBlob
	if err := json.Unmarshal(blob, &data); err != nil {
		l.logger.Debug("caption blob unmarshal failed", zap.String("video_id", videoID), zap.Error(err))
		return nil, fmt.Errorf("%w: %v", ErrMalformedWatchPage, err)
	}

	tracks := make([]tube.CaptionTrack, 0, len(data.Renderer.Tracks))
	for _, t := range data.Renderer.Tracks {
		tracks = append(tracks, tube.CaptionTrack{
			Name:         t.Name.SimpleText,
			LanguageCode: t.LanguageCode,
			BaseURL:      t.BaseURL,
		})
	}
	return tracks, nil
}
