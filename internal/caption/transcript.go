package caption

import (
	"bytes"
	"context"
	"encoding/xml"
	"fmt"
	"html"
	"math"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/tubemeta/tubemeta/internal/tube"
)

// paragraphSeconds is the target bucket width. Paragraph boundaries are
// detected by a modulo wrap of the bucket counter rather than exact
// 30-second marks, so they drift with entry timing. This approximation is
// part of the output contract and must not be tightened.
const paragraphSeconds = 30

// Transcriber downloads a caption track and segments it into time-bucketed
// paragraphs.
type Transcriber struct {
	client tube.Fetcher
	logger *zap.Logger
}

// NewTranscriber constructs a Transcriber.
func NewTranscriber(client tube.Fetcher, logger *zap.Logger) *Transcriber {
	return &Transcriber{client: client, logger: logger}
}

// timedText mirrors the caption track markup:
// <text start="3285.28" dur="4.88">content</text> entries under a
// <transcript> root.
type timedText struct {
	XMLName xml.Name     `xml:"transcript"`
	Entries []timedEntry `xml:"text"`
}

type timedEntry struct {
	Start    float64 `xml:"start,attr"`
	Duration float64 `xml:"dur,attr"`
	Text     string  `xml:",chardata"`
}

// FetchTranscript downloads the selected track and builds its Transcript.
func (t *Transcriber) FetchTranscript(ctx context.Context, videoID string, track tube.CaptionTrack) (*tube.Transcript, error) {
	resp, err := t.client.Fetch(ctx, tube.FetchRequest{URL: track.BaseURL})
	if err != nil {
		return nil, fmt.Errorf("fetch caption track: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("caption track returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(resp.Body)))
	}

	entries, err := parseTimedText(resp.Body)
	if err != nil {
		return nil, err
	}

	transcript := &tube.Transcript{
		VideoID:    videoID,
		Language:   track.LanguageCode,
		Paragraphs: segment(entries),
	}
	t.logger.Debug("transcript built",
		zap.String("video_id", videoID),
		zap.String("language", track.LanguageCode),
		zap.Int("paragraphs", len(transcript.Paragraphs)),
	)
	return transcript, nil
}

// parseTimedText sanitizes raw caption markup and decodes its timed
// entries. Double-escaped quote entities are decoded up front; newlines in
// the markup are insignificant and collapsed to spaces before parsing.
func parseTimedText(raw []byte) ([]timedEntry, error) {
	sanitized := bytes.ReplaceAll(raw, []byte("&amp;#39;"), []byte("'"))
	sanitized = bytes.ReplaceAll(sanitized, []byte("&amp;quot;"), []byte(`"`))
	sanitized = bytes.ReplaceAll(sanitized, []byte("\n"), []byte(" "))

	var doc timedText
	dec := xml.NewDecoder(bytes.NewReader(sanitized))
	dec.Entity = xml.HTMLEntity
	dec.Strict = false
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("parse caption markup: %w", err)
	}
	return doc.Entries, nil
}

// segment walks entries in order and closes a paragraph whenever the
// 30-second bucket counter wraps: floor(time) mod 30 dropping below
// floor(previous) mod 30. The trailing accumulator is always flushed, even
// when empty, so every transcript yields at least one paragraph.
func segment(entries []timedEntry) []tube.Paragraph {
	var (
		paragraphs []tube.Paragraph
		lines      []tube.Line
		start      float64
		previous   float64
	)

	for _, entry := range entries {
		time := entry.Start
		if int(math.Floor(time))%paragraphSeconds < int(math.Floor(previous))%paragraphSeconds {
			paragraphs = append(paragraphs, tube.Paragraph{Start: start, End: time, Lines: lines})
			lines = nil
			start = time
		}
		lines = append(lines, tube.Line{
			Timestamp: time,
			Text:      cleanLine(entry.Text),
		})
		previous = time
	}

	return append(paragraphs, tube.Paragraph{Start: start, End: previous, Lines: lines})
}

// cleanLine decodes residual entities and folds newlines inside a single
// caption line into spaces.
func cleanLine(text string) string {
	return strings.ReplaceAll(html.UnescapeString(text), "\n", " ")
}
