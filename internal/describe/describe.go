// Package describe fetches and normalizes video metadata from Invidious
// mirrors.
package describe

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/tubemeta/tubemeta/internal/metrics"
	"github.com/tubemeta/tubemeta/internal/tube"
)

// ErrAttemptsExhausted is returned when the attempt budget runs out before
// any mirror produces a usable payload.
var ErrAttemptsExhausted = errors.New("metadata fetch attempts exhausted")

// Config controls field selection and normalization.
type Config struct {
	Fields        []tube.Field
	ThumbnailSize tube.ThumbnailSize
}

// Fetcher retrieves metadata payloads with a bounded attempt budget,
// resampling a mirror per attempt. No mirror is blacklisted on failure;
// resampling is uniform and may repeat the same failing server.
type Fetcher struct {
	directory tube.Directory
	client    tube.Fetcher
	cfg       Config
	logger    *zap.Logger
}

// New constructs a Fetcher.
func New(directory tube.Directory, client tube.Fetcher, cfg Config, logger *zap.Logger) *Fetcher {
	return &Fetcher{
		directory: directory,
		client:    client,
		cfg:       cfg,
		logger:    logger,
	}
}

// videoPayload is the metadata endpoint response shape. Thumbnails are
// ranked by size ascending.
type videoPayload struct {
	Thumbnails []struct {
		URL string `json:"url"`
	} `json:"videoThumbnails"`
	DescriptionHTML string `json:"descriptionHtml"`
	LengthSeconds   int    `json:"lengthSeconds"`
}

// FetchDescription fetches and normalizes metadata for a video. Transport
// failures and malformed payloads each consume one attempt from the budget;
// an unavailable mirror pool is terminal and surfaces as
// directory.ErrNoServers without consuming the budget.
func (f *Fetcher) FetchDescription(ctx context.Context, videoID string, maxAttempts int) (tube.DescriptionData, error) {
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		server, err := f.directory.Pick(ctx)
		if err != nil {
			return tube.DescriptionData{}, fmt.Errorf("pick server: %w", err)
		}

		resp, err := f.client.Fetch(ctx, tube.FetchRequest{URL: f.endpoint(server, videoID)})
		if err != nil {
			metrics.ObserveAttempt("transport_error")
			f.logger.Warn("metadata request failed",
				zap.String("video_id", videoID),
				zap.String("server", server),
				zap.Int("attempt", attempt),
				zap.Error(err),
			)
			continue
		}
		if resp.StatusCode != http.StatusOK {
			metrics.ObserveAttempt("http_error")
			f.logger.Warn("metadata request rejected",
				zap.String("video_id", videoID),
				zap.String("server", server),
				zap.Int("status_code", resp.StatusCode),
				zap.Int("attempt", attempt),
			)
			continue
		}

		var payload videoPayload
		if err := json.Unmarshal(resp.Body, &payload); err != nil {
			metrics.ObserveAttempt("parse_error")
			f.logger.Warn("metadata payload malformed",
				zap.String("video_id", videoID),
				zap.String("server", server),
				zap.Int("attempt", attempt),
				zap.Error(err),
			)
			continue
		}

		metrics.ObserveAttempt("success")
		return f.normalize(payload), nil
	}
	return tube.DescriptionData{}, fmt.Errorf("%w after %d attempts", ErrAttemptsExhausted, maxAttempts)
}

func (f *Fetcher) endpoint(server, videoID string) string {
	fields := make([]string, 0, len(f.cfg.Fields))
	for _, field := range f.cfg.Fields {
		fields = append(fields, string(field))
	}
	return fmt.Sprintf("%s/api/v1/videos/%s?fields=%s",
		strings.TrimRight(server, "/"), videoID, strings.Join(fields, ","))
}

// normalize maps the raw payload to DescriptionData: length verbatim,
// description newlines replaced by line-break markup, thumbnail selected by
// the configured size tier from the ranked variant list.
func (f *Fetcher) normalize(payload videoPayload) tube.DescriptionData {
	data := tube.DescriptionData{
		Length:      payload.LengthSeconds,
		Description: strings.ReplaceAll(payload.DescriptionHTML, "\n", "<br>"),
	}
	if idx, ok := f.cfg.ThumbnailSize.VariantIndex(); ok && idx < len(payload.Thumbnails) {
		data.Thumbnail = payload.Thumbnails[idx].URL
	}
	return data
}
