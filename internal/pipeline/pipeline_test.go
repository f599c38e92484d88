package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/tubemeta/tubemeta/internal/cache"
	"github.com/tubemeta/tubemeta/internal/hash/sha256"
	"github.com/tubemeta/tubemeta/internal/metrics"
	"github.com/tubemeta/tubemeta/internal/publisher/memory"
	storagememory "github.com/tubemeta/tubemeta/internal/storage/memory"
	"github.com/tubemeta/tubemeta/internal/tube"
)

func init() {
	metrics.Init()
}

type fakeDescriber struct {
	calls atomic.Int64
	data  tube.DescriptionData
	err   error
}

func (f *fakeDescriber) FetchDescription(_ context.Context, _ string, _ int) (tube.DescriptionData, error) {
	f.calls.Add(1)
	return f.data, f.err
}

type fakeLocator struct {
	calls  atomic.Int64
	tracks []tube.CaptionTrack
	err    error
}

func (f *fakeLocator) Locate(_ context.Context, _ string) ([]tube.CaptionTrack, error) {
	f.calls.Add(1)
	return f.tracks, f.err
}

type fakeTranscriber struct {
	calls      atomic.Int64
	transcript *tube.Transcript
	err        error
}

func (f *fakeTranscriber) FetchTranscript(_ context.Context, _ string, _ tube.CaptionTrack) (*tube.Transcript, error) {
	f.calls.Add(1)
	return f.transcript, f.err
}

type fakeRecordStore struct {
	stored []tube.StoredRecord
	err    error
}

func (f *fakeRecordStore) StoreRecord(_ context.Context, record tube.StoredRecord) error {
	if f.err != nil {
		return f.err
	}
	f.stored = append(f.stored, record)
	return nil
}

func (f *fakeRecordStore) Close() {}

type fixedClock struct{ t time.Time }

func (c fixedClock) Now() time.Time { return c.t }

func happyFakes() (*fakeDescriber, *fakeLocator, *fakeTranscriber) {
	describer := &fakeDescriber{data: tube.DescriptionData{
		Length:      125,
		Thumbnail:   "https://img.example.com/t.jpg",
		Description: "line1<br>line2",
	}}
	locator := &fakeLocator{tracks: []tube.CaptionTrack{
		{Name: "English", LanguageCode: "en", BaseURL: "https://yt/api/timedtext"},
	}}
	transcriber := &fakeTranscriber{transcript: &tube.Transcript{
		VideoID:  "dQw4w9WgXcQ",
		Language: "en",
		Paragraphs: []tube.Paragraph{
			{Start: 0, End: 12, Lines: []tube.Line{{Timestamp: 0, Text: "hello"}}},
		},
	}}
	return describer, locator, transcriber
}

func newPipeline(d Describer, l TrackLocator, tr TranscriptFetcher, c tube.RecordCache, opts Options, cfg Config) *Pipeline {
	if cfg.Languages == nil {
		cfg.Languages = []string{"english"}
	}
	if cfg.MaxAttempts == 0 {
		cfg.MaxAttempts = 3
	}
	return New(d, l, tr, c, opts, cfg, zap.NewNop())
}

func TestFetchOnePopulatesRecord(t *testing.T) {
	t.Parallel()

	describer, locator, transcriber := happyFakes()
	recordCache := cache.New()
	p := newPipeline(describer, locator, transcriber, recordCache, Options{}, Config{})

	record, err := p.FetchOne(context.Background(), "dQw4w9WgXcQ", false)
	require.NoError(t, err)
	require.NotNil(t, record)
	require.Equal(t, "dQw4w9WgXcQ", record.VideoID)
	require.Equal(t, 125, record.Length)
	require.Equal(t, "https://img.example.com/t.jpg", record.Thumbnail)
	require.Equal(t, "line1<br>line2", record.Description)
	require.NotNil(t, record.Caption)
	require.Empty(t, record.Errors)

	cached, hit := recordCache.Get("dQw4w9WgXcQ")
	require.True(t, hit)
	require.Same(t, record, cached)
}

func TestFetchOneSkipsNonVideoEntries(t *testing.T) {
	t.Parallel()

	describer, locator, transcriber := happyFakes()
	p := newPipeline(describer, locator, transcriber, cache.New(), Options{}, Config{})

	record, err := p.FetchOne(context.Background(), "not a video", false)
	require.NoError(t, err)
	require.Nil(t, record)
	require.Zero(t, describer.calls.Load())
	require.Zero(t, locator.calls.Load())
}

func TestFetchOneReusesCacheUnlessForced(t *testing.T) {
	t.Parallel()

	describer, locator, transcriber := happyFakes()
	p := newPipeline(describer, locator, transcriber, cache.New(), Options{}, Config{})

	first, err := p.FetchOne(context.Background(), "dQw4w9WgXcQ", false)
	require.NoError(t, err)

	second, err := p.FetchOne(context.Background(), "dQw4w9WgXcQ", false)
	require.NoError(t, err)
	require.Same(t, first, second)
	require.EqualValues(t, 1, describer.calls.Load())
	require.EqualValues(t, 1, locator.calls.Load())

	third, err := p.FetchOne(context.Background(), "dQw4w9WgXcQ", true)
	require.NoError(t, err)
	require.NotSame(t, first, third)
	require.EqualValues(t, 2, describer.calls.Load())
}

func TestFetchOneRetriesFailedCaption(t *testing.T) {
	t.Parallel()

	describer, locator, transcriber := happyFakes()
	wantTracks := locator.tracks
	locator.tracks = nil
	locator.err = errors.New("watch page malformed")
	p := newPipeline(describer, locator, transcriber, cache.New(), Options{}, Config{})

	first, err := p.FetchOne(context.Background(), "dQw4w9WgXcQ", false)
	require.NoError(t, err)
	require.True(t, first.HasFailure(tube.FailureCaption))
	require.Nil(t, first.Caption)

	locator.tracks = wantTracks
	locator.err = nil

	second, err := p.FetchOne(context.Background(), "dQw4w9WgXcQ", false)
	require.NoError(t, err)
	require.Same(t, first, second)
	require.NotNil(t, second.Caption)
	require.Empty(t, second.Errors)
	require.EqualValues(t, 2, locator.calls.Load())
	require.EqualValues(t, 1, describer.calls.Load())
}

func TestFetchOneRetriesFailedDescription(t *testing.T) {
	t.Parallel()

	describer, locator, transcriber := happyFakes()
	describer.err = errors.New("all mirrors down")
	p := newPipeline(describer, locator, transcriber, cache.New(), Options{}, Config{})

	first, err := p.FetchOne(context.Background(), "dQw4w9WgXcQ", false)
	require.NoError(t, err)
	require.True(t, first.HasFailure(tube.FailureDescription))
	require.NotNil(t, first.Caption)

	describer.err = nil

	second, err := p.FetchOne(context.Background(), "dQw4w9WgXcQ", false)
	require.NoError(t, err)
	require.Same(t, first, second)
	require.Equal(t, 125, second.Length)
	require.Empty(t, second.Errors)
	require.EqualValues(t, 2, describer.calls.Load())
	require.EqualValues(t, 1, locator.calls.Load())
	require.EqualValues(t, 1, transcriber.calls.Load())
}

func TestFetchOneSkipsCaptionsWithoutLanguages(t *testing.T) {
	t.Parallel()

	describer, locator, transcriber := happyFakes()
	p := newPipeline(describer, locator, transcriber, cache.New(), Options{}, Config{Languages: []string{}})

	record, err := p.FetchOne(context.Background(), "dQw4w9WgXcQ", false)
	require.NoError(t, err)
	require.Equal(t, 125, record.Length)
	require.Nil(t, record.Caption)
	require.Empty(t, record.Errors)
	require.Zero(t, locator.calls.Load())
	require.Zero(t, transcriber.calls.Load())
}

func TestFetchOneTagsDescriptionFailure(t *testing.T) {
	t.Parallel()

	describer, locator, transcriber := happyFakes()
	describer.err = errors.New("all mirrors down")
	p := newPipeline(describer, locator, transcriber, cache.New(), Options{}, Config{})

	record, err := p.FetchOne(context.Background(), "dQw4w9WgXcQ", false)
	require.NoError(t, err)
	require.True(t, record.HasFailure(tube.FailureDescription))
	require.False(t, record.HasFailure(tube.FailureCaption))
	require.NotNil(t, record.Caption)
	require.Zero(t, record.Length)
}

func TestFetchOneTagsCaptionFailures(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		mutate func(*fakeLocator, *fakeTranscriber)
	}{
		{"locate fails", func(l *fakeLocator, _ *fakeTranscriber) {
			l.err = errors.New("watch page malformed")
		}},
		{"no language match", func(l *fakeLocator, _ *fakeTranscriber) {
			l.tracks = []tube.CaptionTrack{{Name: "Deutsch", LanguageCode: "de"}}
		}},
		{"transcript fails", func(_ *fakeLocator, tr *fakeTranscriber) {
			tr.transcript = nil
			tr.err = errors.New("track expired")
		}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			describer, locator, transcriber := happyFakes()
			tc.mutate(locator, transcriber)
			p := newPipeline(describer, locator, transcriber, cache.New(), Options{}, Config{})

			record, err := p.FetchOne(context.Background(), "dQw4w9WgXcQ", false)
			require.NoError(t, err)
			require.True(t, record.HasFailure(tube.FailureCaption))
			require.False(t, record.HasFailure(tube.FailureDescription))
			require.Nil(t, record.Caption)
			require.Equal(t, 125, record.Length)
		})
	}
}

func TestFetchOnePersistsAndNotifies(t *testing.T) {
	t.Parallel()

	describer, locator, transcriber := happyFakes()
	blobs := storagememory.NewBlobStore()
	records := &fakeRecordStore{}
	pub := memory.New()
	now := time.Unix(1700000000, 0).UTC()

	p := newPipeline(describer, locator, transcriber, cache.New(), Options{
		BlobStore:   blobs,
		RecordStore: records,
		Publisher:   pub,
		Hasher:      sha256.New(),
		Clock:       fixedClock{t: now},
	}, Config{
		Persist:     true,
		Topic:       "video-fetched",
		BlobPrefix:  "videos",
		ContentType: "application/json",
	})

	record, err := p.FetchOne(context.Background(), "dQw4w9WgXcQ", false)
	require.NoError(t, err)
	require.Empty(t, record.Errors)

	require.Len(t, records.stored, 1)
	stored := records.stored[0]
	require.Equal(t, "dQw4w9WgXcQ", stored.VideoID)
	require.Equal(t, 125, stored.Length)
	require.Equal(t, now, stored.FetchedAt)
	require.Contains(t, stored.DescriptionURI, "memory://videos/dQw4w9WgXcQ/description-")
	require.Contains(t, stored.CaptionURI, "memory://videos/dQw4w9WgXcQ/caption-")

	msgs := pub.Messages()
	require.Len(t, msgs, 1)
	require.Equal(t, "video-fetched", msgs[0].Topic)
	payload, ok := msgs[0].Payload.(map[string]any)
	require.True(t, ok)
	require.Equal(t, "dQw4w9WgXcQ", payload["video_id"])
	require.Equal(t, now.Format(time.RFC3339), payload["fetched_at"])
}

func TestFetchOnePersistSkipsFailedParts(t *testing.T) {
	t.Parallel()

	describer, locator, transcriber := happyFakes()
	locator.err = errors.New("watch page malformed")
	blobs := storagememory.NewBlobStore()
	records := &fakeRecordStore{}

	p := newPipeline(describer, locator, transcriber, cache.New(), Options{
		BlobStore:   blobs,
		RecordStore: records,
		Hasher:      sha256.New(),
		Clock:       fixedClock{t: time.Now()},
	}, Config{Persist: true, ContentType: "application/json"})

	record, err := p.FetchOne(context.Background(), "dQw4w9WgXcQ", false)
	require.NoError(t, err)
	require.True(t, record.HasFailure(tube.FailureCaption))

	require.Len(t, records.stored, 1)
	stored := records.stored[0]
	require.NotEmpty(t, stored.DescriptionURI)
	require.Empty(t, stored.CaptionURI)
	require.Equal(t, []tube.FailureTag{tube.FailureCaption}, stored.Errors)
}

func TestFetchOneSurfacesPersistFailure(t *testing.T) {
	t.Parallel()

	describer, locator, transcriber := happyFakes()
	records := &fakeRecordStore{err: errors.New("connection refused")}

	p := newPipeline(describer, locator, transcriber, cache.New(), Options{
		BlobStore:   storagememory.NewBlobStore(),
		RecordStore: records,
		Hasher:      sha256.New(),
	}, Config{Persist: true})

	record, err := p.FetchOne(context.Background(), "dQw4w9WgXcQ", false)
	require.Error(t, err)
	require.NotNil(t, record)
}

func TestDescriptionBlobRoundTrips(t *testing.T) {
	t.Parallel()

	describer, locator, transcriber := happyFakes()
	blobs := storagememory.NewBlobStore()
	records := &fakeRecordStore{}

	p := newPipeline(describer, locator, transcriber, cache.New(), Options{
		BlobStore:   blobs,
		RecordStore: records,
		Clock:       fixedClock{t: time.Now()},
	}, Config{Persist: true, ContentType: "application/json"})

	_, err := p.FetchOne(context.Background(), "dQw4w9WgXcQ", false)
	require.NoError(t, err)

	data, ok := blobs.Object("dQw4w9WgXcQ/description.json")
	require.True(t, ok)
	var desc tube.DescriptionData
	require.NoError(t, json.Unmarshal(data, &desc))
	require.Equal(t, describer.data, desc)
}

func TestFetchBatchIsolatesFailures(t *testing.T) {
	t.Parallel()

	describer, locator, transcriber := happyFakes()
	p := newPipeline(describer, locator, transcriber, cache.New(), Options{}, Config{})

	entries := []string{
		"yt:video:dQw4w9WgXcQ",
		"not a video",
		"https://youtu.be/jNQXAC9IVRw",
	}
	results := p.FetchBatch(context.Background(), entries, false)
	require.Len(t, results, 3)

	require.Equal(t, entries[0], results[0].EntryID)
	require.NotNil(t, results[0].Record)
	require.Equal(t, "dQw4w9WgXcQ", results[0].Record.VideoID)

	require.Nil(t, results[1].Record)
	require.NoError(t, results[1].Err)

	require.NotNil(t, results[2].Record)
	require.Equal(t, "jNQXAC9IVRw", results[2].Record.VideoID)
}
