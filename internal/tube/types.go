// Package tube defines core types shared across subsystems.
package tube

// FailureTag marks which sub-fetch of a record failed.
type FailureTag string

// Failure tags recorded on a Record when a sub-fetch degrades.
const (
	FailureDescription FailureTag = "description"
	FailureCaption     FailureTag = "caption"
)

// Field names the metadata endpoint as understood by Invidious mirrors.
type Field string

// Requestable metadata fields.
const (
	FieldThumbnails  Field = "videoThumbnails"
	FieldDescription Field = "descriptionHtml"
	FieldLength      Field = "lengthSeconds"
)

// ThumbnailSize selects a variant from the ranked thumbnail list.
type ThumbnailSize string

// Supported thumbnail size tiers.
const (
	ThumbnailLarge  ThumbnailSize = "large"
	ThumbnailMedium ThumbnailSize = "medium"
	ThumbnailSmall  ThumbnailSize = "small"
)

// VariantIndex maps a size tier to its index in the ranked variant array
// returned by the metadata endpoint. The second return is false for an
// absent or unmapped size, which disables thumbnail selection.
func (s ThumbnailSize) VariantIndex() (int, bool) {
	switch s {
	case ThumbnailLarge:
		return 2, true
	case ThumbnailMedium:
		return 3, true
	case ThumbnailSmall:
		return 4, true
	default:
		return 0, false
	}
}

// Record is the aggregate cached metadata for one video ID. Fields are
// filled independently; a present field is only ever replaced, never
// cleared. Errors records which sub-fetches failed during the most recent
// fetch attempt.
type Record struct {
	VideoID     string       `json:"video_id"`
	Length      int          `json:"length,omitempty"`
	Thumbnail   string       `json:"thumbnail,omitempty"`
	Description string       `json:"description,omitempty"`
	Caption     *Transcript  `json:"caption,omitempty"`
	Errors      []FailureTag `json:"errors,omitempty"`
}

// AddFailure appends a failure tag to the record.
func (r *Record) AddFailure(tag FailureTag) {
	r.Errors = append(r.Errors, tag)
}

// HasFailure reports whether the record carries the given failure tag.
func (r *Record) HasFailure(tag FailureTag) bool {
	for _, t := range r.Errors {
		if t == tag {
			return true
		}
	}
	return false
}

// ResetFailures clears the error list at the start of a fresh fetch.
func (r *Record) ResetFailures() {
	r.Errors = nil
}

// DescriptionData is the normalized payload of a metadata endpoint response.
type DescriptionData struct {
	Length      int
	Thumbnail   string
	Description string
}

// CaptionTrack is one available transcript stream for a video. Produced by
// the locator, consumed by the selector, not retained.
type CaptionTrack struct {
	Name         string `json:"name"`
	LanguageCode string `json:"languageCode"`
	BaseURL      string `json:"baseUrl"`
}

// Line is a single timed caption line. Timestamp is the literal start time
// in seconds, kept for deep linking.
type Line struct {
	Timestamp float64 `json:"timestamp"`
	Text      string  `json:"text"`
}

// Paragraph is a time-bucketed group of caption lines.
type Paragraph struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
	Lines []Line  `json:"lines"`
}

// Transcript is the segmented textual representation of a caption track.
// Immutable after creation.
type Transcript struct {
	VideoID    string      `json:"video_id"`
	Language   string      `json:"language,omitempty"`
	Paragraphs []Paragraph `json:"paragraphs"`
}
