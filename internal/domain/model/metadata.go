package model

import (
	"errors"
	"time"
)

// MediaKind distinguishes video artifacts from audio-only artifacts.
type MediaKind string

const (
	KindVideo MediaKind = "video"
	KindAudio MediaKind = "audio"
)

func (k MediaKind) IsValid() bool {
	return k == KindVideo || k == KindAudio
}

func (k MediaKind) String() string {
	return string(k)
}

// AudioRendition is the rendition label used for the audio-only candidate.
const AudioRendition = "audio"

// FormatCandidate is one selectable rendition of a resource.
// Immutable once produced by the resolver.
type FormatCandidate struct {
	// FormatID is the opaque identifier passed back to the fetcher.
	FormatID string
	// Ext is the container extension (e.g. "mp4", "webm", "m4a").
	Ext string
	// Rendition is the user-facing quality label, e.g. "1080p" or "audio".
	Rendition string
	// Size is the declared size in bytes; 0 means unknown.
	Size int64
	// Height is the video height in pixels; 0 for audio-only candidates.
	Height int
	// QualityRank orders candidates within the ladder, higher is better.
	QualityRank int
	// HasAudio reports whether audio is already muxed into this format.
	HasAudio bool
	// Codec is an optional codec tag used only for tie-breaking.
	Codec string
}

// IsAudioOnly reports whether the candidate is the audio-only tail entry.
func (c FormatCandidate) IsAudioOnly() bool {
	return c.Rendition == AudioRendition
}

// Kind returns the media kind the candidate produces when fetched.
func (c FormatCandidate) Kind() MediaKind {
	if c.IsAudioOnly() {
		return KindAudio
	}
	return KindVideo
}

// VideoMetadata is the immutable description of a resolved resource.
// Produced once per resolution call and held by the session store for
// the session's lifetime.
type VideoMetadata struct {
	ResourceID string
	URL        string
	Title      string
	Uploader   string
	Duration   int64 // seconds
	ViewCount  int64
	LikeCount  int64
	UploadDate string
	Thumbnail  string
	Width      int
	Height     int
	Formats    []FormatCandidate
}

var ErrEmptyResourceID = errors.New("resource ID cannot be empty")

// FindFormat returns the candidate with the given format ID, if present.
func (m *VideoMetadata) FindFormat(formatID string) (FormatCandidate, bool) {
	for _, f := range m.Formats {
		if f.FormatID == formatID {
			return f, true
		}
	}
	return FormatCandidate{}, false
}

// DurationTime returns the resource duration as a time.Duration.
func (m *VideoMetadata) DurationTime() time.Duration {
	return time.Duration(m.Duration) * time.Second
}
