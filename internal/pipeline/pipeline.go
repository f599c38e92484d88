// Package pipeline orchestrates the per-video fetch flow: description and
// caption sub-fetches, the record cache, and optional persistence.
package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/tubemeta/tubemeta/internal/caption"
	"github.com/tubemeta/tubemeta/internal/metrics"
	"github.com/tubemeta/tubemeta/internal/tube"
)

// Describer fetches normalized video metadata.
type Describer interface {
	FetchDescription(ctx context.Context, videoID string, maxAttempts int) (tube.DescriptionData, error)
}

// TrackLocator extracts the available caption tracks for a video.
type TrackLocator interface {
	Locate(ctx context.Context, videoID string) ([]tube.CaptionTrack, error)
}

// TranscriptFetcher downloads and segments one caption track.
type TranscriptFetcher interface {
	FetchTranscript(ctx context.Context, videoID string, track tube.CaptionTrack) (*tube.Transcript, error)
}

// Hasher produces content hashes for blob object names.
type Hasher interface {
	Hash(data []byte) string
}

// Config controls the fetch flow.
type Config struct {
	// MaxAttempts bounds the metadata retry budget per video.
	MaxAttempts int
	// Languages is the ordered caption language preference list.
	Languages []string
	// Persist enables the blob store, record store, and publisher.
	Persist bool
	// Topic is the notification topic; empty disables publishing.
	Topic string
	// BlobPrefix is prepended to blob object paths.
	BlobPrefix string
	// ContentType is recorded on stored blobs.
	ContentType string
}

// Pipeline wires the fetchers, cache, and persistence ports together.
type Pipeline struct {
	describer   Describer
	locator     TrackLocator
	transcriber TranscriptFetcher
	cache       tube.RecordCache
	blobStore   tube.BlobStore
	recordStore tube.RecordStore
	publisher   tube.Publisher
	hasher      Hasher
	clock       tube.Clock
	ids         tube.IDGenerator
	cfg         Config
	logger      *zap.Logger
}

// Options carries the optional persistence ports.
type Options struct {
	BlobStore   tube.BlobStore
	RecordStore tube.RecordStore
	Publisher   tube.Publisher
	Hasher      Hasher
	Clock       tube.Clock
	IDs         tube.IDGenerator
}

// New builds a Pipeline. The describer, locator, transcriber, and cache are
// required; persistence ports may be nil when cfg.Persist is false.
func New(
	describer Describer,
	locator TrackLocator,
	transcriber TranscriptFetcher,
	cache tube.RecordCache,
	opts Options,
	cfg Config,
	logger *zap.Logger,
) *Pipeline {
	return &Pipeline{
		describer:   describer,
		locator:     locator,
		transcriber: transcriber,
		cache:       cache,
		blobStore:   opts.BlobStore,
		recordStore: opts.RecordStore,
		publisher:   opts.Publisher,
		hasher:      opts.Hasher,
		clock:       opts.Clock,
		ids:         opts.IDs,
		cfg:         cfg,
		logger:      logger,
	}
}

// FetchOne resolves entryID to a video, fetches its metadata and captions,
// and caches the result. Entries that do not resolve to a video are skipped
// with a nil record. Each sub-fetch runs only when force is set or its
// content is absent from the cached record, so a partially-failed record is
// repaired field by field on later calls and a complete record costs no
// network at all. Sub-fetch failures are recorded as failure tags on the
// record, not returned as errors; only persistence failures surface as an
// error.
func (p *Pipeline) FetchOne(ctx context.Context, entryID string, force bool) (*tube.Record, error) {
	videoID, ok := tube.ExtractVideoID(entryID)
	if !ok {
		p.logger.Debug("entry is not a video, skipping", zap.String("entry_id", entryID))
		return nil, nil
	}

	record := &tube.Record{VideoID: videoID}
	if !force {
		if cached, hit := p.cache.Get(videoID); hit {
			record = cached
		}
	}

	needDescription := p.needsDescription(record)
	needCaption := p.needsCaption(record)
	if !needDescription && !needCaption {
		p.logger.Debug("cache hit", zap.String("video_id", videoID))
		return record, nil
	}

	record.ResetFailures()
	if needDescription {
		p.fetchDescription(ctx, record)
	}
	if needCaption {
		p.fetchCaption(ctx, record)
	}

	p.cache.Put(videoID, record, force)

	if p.cfg.Persist {
		if err := p.persistAndNotify(ctx, record); err != nil {
			p.logger.Error("persist video record failed",
				zap.String("video_id", videoID), zap.Error(err))
			return record, err
		}
	}

	return record, nil
}

// BatchResult reports one FetchBatch entry outcome.
type BatchResult struct {
	EntryID string
	Record  *tube.Record
	Err     error
}

// FetchBatch fetches every entry concurrently. Failures are isolated per
// entry; the returned slice preserves input order.
func (p *Pipeline) FetchBatch(ctx context.Context, entryIDs []string, force bool) []BatchResult {
	batchID := p.batchID()
	p.logger.Info("starting batch",
		zap.String("batch_id", batchID), zap.Int("entries", len(entryIDs)))

	results := make([]BatchResult, len(entryIDs))
	var wg sync.WaitGroup
	for i, entryID := range entryIDs {
		wg.Add(1)
		go func(i int, entryID string) {
			defer wg.Done()
			record, err := p.FetchOne(ctx, entryID, force)
			results[i] = BatchResult{EntryID: entryID, Record: record, Err: err}
			if err != nil {
				p.logger.Warn("batch entry failed",
					zap.String("batch_id", batchID),
					zap.String("entry_id", entryID),
					zap.Error(err))
			}
		}(i, entryID)
	}
	wg.Wait()

	p.logger.Info("batch complete", zap.String("batch_id", batchID))
	return results
}

// needsDescription reports whether the description sub-fetch should run: the
// previous attempt failed, or no description content was ever stored.
func (p *Pipeline) needsDescription(record *tube.Record) bool {
	if record.HasFailure(tube.FailureDescription) {
		return true
	}
	return record.Length == 0 && record.Thumbnail == "" && record.Description == ""
}

// needsCaption reports whether the caption sub-fetch should run. An empty
// language preference list disables captions entirely.
func (p *Pipeline) needsCaption(record *tube.Record) bool {
	if len(p.cfg.Languages) == 0 {
		return false
	}
	return record.HasFailure(tube.FailureCaption) || record.Caption == nil
}

func (p *Pipeline) fetchDescription(ctx context.Context, record *tube.Record) {
	data, err := p.describer.FetchDescription(ctx, record.VideoID, p.cfg.MaxAttempts)
	if err != nil {
		metrics.ObserveFetch("description", false)
		p.logger.Warn("description fetch failed",
			zap.String("video_id", record.VideoID), zap.Error(err))
		record.AddFailure(tube.FailureDescription)
		return
	}
	metrics.ObserveFetch("description", true)
	record.Length = data.Length
	record.Thumbnail = data.Thumbnail
	record.Description = data.Description
}

func (p *Pipeline) fetchCaption(ctx context.Context, record *tube.Record) {
	tracks, err := p.locator.Locate(ctx, record.VideoID)
	if err != nil {
		p.failCaption(record, "locate caption tracks", err)
		return
	}
	track, err := caption.SelectTrack(tracks, p.cfg.Languages)
	if err != nil {
		p.failCaption(record, "select caption track", err)
		return
	}
	transcript, err := p.transcriber.FetchTranscript(ctx, record.VideoID, track)
	if err != nil {
		p.failCaption(record, "fetch transcript", err)
		return
	}
	metrics.ObserveFetch("caption", true)
	metrics.ObserveTranscript(len(transcript.Paragraphs))
	record.Caption = transcript
}

func (p *Pipeline) failCaption(record *tube.Record, stage string, err error) {
	metrics.ObserveFetch("caption", false)
	p.logger.Warn("caption fetch failed",
		zap.String("video_id", record.VideoID),
		zap.String("stage", stage),
		zap.Error(err))
	record.AddFailure(tube.FailureCaption)
}

func (p *Pipeline) persistAndNotify(ctx context.Context, record *tube.Record) error {
	if p.blobStore == nil || p.recordStore == nil {
		return fmt.Errorf("persistence is not configured")
	}

	stored := tube.StoredRecord{
		VideoID:     record.VideoID,
		Length:      record.Length,
		Thumbnail:   record.Thumbnail,
		ContentType: p.cfg.ContentType,
		Errors:      record.Errors,
		FetchedAt:   p.now(),
	}

	if !record.HasFailure(tube.FailureDescription) {
		uri, err := p.putBlob(ctx, record.VideoID, "description", tube.DescriptionData{
			Length:      record.Length,
			Thumbnail:   record.Thumbnail,
			Description: record.Description,
		})
		if err != nil {
			return err
		}
		stored.DescriptionURI = uri
	}
	if record.Caption != nil {
		uri, err := p.putBlob(ctx, record.VideoID, "caption", record.Caption)
		if err != nil {
			return err
		}
		stored.CaptionURI = uri
	}

	if err := p.recordStore.StoreRecord(ctx, stored); err != nil {
		return fmt.Errorf("store record: %w", err)
	}

	return p.notify(ctx, stored)
}

func (p *Pipeline) putBlob(ctx context.Context, videoID, kind string, payload any) (string, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal %s blob: %w", kind, err)
	}
	uri, err := p.blobStore.PutObject(ctx, p.buildBlobPath(videoID, kind, data), p.cfg.ContentType, data)
	if err != nil {
		return "", fmt.Errorf("put %s blob: %w", kind, err)
	}
	return uri, nil
}

func (p *Pipeline) buildBlobPath(videoID, kind string, data []byte) string {
	name := fmt.Sprintf("%s.json", kind)
	if p.hasher != nil {
		name = fmt.Sprintf("%s-%s.json", kind, p.hasher.Hash(data))
	}
	prefix := strings.Trim(p.cfg.BlobPrefix, "/")
	if prefix == "" {
		return fmt.Sprintf("%s/%s", videoID, name)
	}
	return fmt.Sprintf("%s/%s/%s", prefix, videoID, name)
}

func (p *Pipeline) notify(ctx context.Context, stored tube.StoredRecord) error {
	if p.cfg.Topic == "" || p.publisher == nil {
		return nil
	}
	payload := map[string]any{
		"video_id":        stored.VideoID,
		"length_seconds":  stored.Length,
		"description_uri": stored.DescriptionURI,
		"caption_uri":     stored.CaptionURI,
		"errors":          stored.Errors,
		"fetched_at":      stored.FetchedAt.Format(time.RFC3339),
	}
	if _, err := p.publisher.Publish(ctx, p.cfg.Topic, payload); err != nil {
		return fmt.Errorf("publish payload: %w", err)
	}
	p.logger.Info("video record published",
		zap.String("video_id", stored.VideoID),
		zap.String("description_uri", stored.DescriptionURI),
		zap.String("caption_uri", stored.CaptionURI),
	)
	return nil
}

func (p *Pipeline) now() time.Time {
	if p.clock == nil {
		return time.Now().UTC()
	}
	return p.clock.Now()
}

func (p *Pipeline) batchID() string {
	if p.ids == nil {
		return "batch"
	}
	id, err := p.ids.NewID()
	if err != nil {
		return "batch"
	}
	return id
}
