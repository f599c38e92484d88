package tube

import (
	"context"
	"net/http"
	"time"
)

// FetchRequest captures everything needed to issue a GET.
type FetchRequest struct {
	URL     string
	Headers http.Header
}

// FetchResponse is the result returned by a Fetcher implementation.
type FetchResponse struct {
	URL        string
	StatusCode int
	Headers    http.Header
	Body       []byte
	Duration   time.Duration
}

// Fetcher issues a single HTTP GET and returns the body plus metadata.
type Fetcher interface {
	Fetch(ctx context.Context, request FetchRequest) (FetchResponse, error)
}

// Directory yields a usable mirror base URL per call.
type Directory interface {
	Pick(ctx context.Context) (string, error)
}

// RecordCache is the process-wide record map keyed by video ID.
type RecordCache interface {
	Get(videoID string) (*Record, bool)
	Put(videoID string, record *Record, force bool) bool
}

// BlobStore writes raw artifacts and returns a URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data []byte) (string, error)
}

// StoredRecord is the serialized form of a Record handed to the durable
// store: blobs are referenced by URI rather than embedded.
type StoredRecord struct {
	VideoID        string
	Length         int
	Thumbnail      string
	DescriptionURI string
	CaptionURI     string
	ContentType    string
	Errors         []FailureTag
	FetchedAt      time.Time
}

// RecordStore persists serialized records.
type RecordStore interface {
	StoreRecord(ctx context.Context, record StoredRecord) error
	Close()
}

// Publisher pushes record-updated events to the display collaborator.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces batch and request IDs (UUIDs).
type IDGenerator interface {
	NewID() (string, error)
}
