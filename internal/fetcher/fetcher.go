// Package fetcher wraps the external media fetcher tool. It is the only
// package that talks to the tool; callers get metadata, a download event
// stream, and best-effort thumbnail/probe helpers.
package fetcher

import (
	"context"
)

// Format is one raw per-format record from the fetcher's metadata dump.
type Format struct {
	ID             string  `json:"format_id"`
	Ext            string  `json:"ext"`
	VCodec         string  `json:"vcodec"`
	ACodec         string  `json:"acodec"`
	Height         int     `json:"height"`
	Width          int     `json:"width"`
	Filesize       int64   `json:"filesize"`
	FilesizeApprox int64   `json:"filesize_approx"`
	FPS            float64 `json:"fps"`
}

// Size returns the declared size, preferring the exact value over the
// fetcher's estimate. 0 means unknown.
func (f Format) Size() int64 {
	if f.Filesize > 0 {
		return f.Filesize
	}
	return f.FilesizeApprox
}

// HasVideo reports whether the record carries a video stream.
func (f Format) HasVideo() bool {
	return f.VCodec != "" && f.VCodec != "none"
}

// HasAudio reports whether the record carries an audio stream.
func (f Format) HasAudio() bool {
	return f.ACodec != "" && f.ACodec != "none"
}

// Info is the parsed metadata dump for a single resource.
type Info struct {
	ID         string   `json:"id"`
	Title      string   `json:"title"`
	Uploader   string   `json:"uploader"`
	WebpageURL string   `json:"webpage_url"`
	UploadDate string   `json:"upload_date"`
	Thumbnail  string   `json:"thumbnail"`
	Duration   float64  `json:"duration"`
	ViewCount  int64    `json:"view_count"`
	LikeCount  int64    `json:"like_count"`
	Width      int      `json:"width"`
	Height     int      `json:"height"`
	Formats    []Format `json:"formats"`
}

// Progress is one coarse progress observation from a running download.
type Progress struct {
	// Percent is in [0, 100].
	Percent float64
}

// DownloadRequest describes a single fetch invocation.
type DownloadRequest struct {
	URL      string
	FormatID string
	// MergeAudio selects "<format>+bestaudio" when the chosen format has
	// no muxed audio.
	MergeAudio bool
	// AudioOnly skips the merge and container remux entirely.
	AudioOnly bool
	// OutputPath is the absolute path the artifact is written to.
	OutputPath string
}

// Download is a running fetch. Events yields a lazy, finite sequence of
// progress observations; the channel is closed when the process exits.
// Wait blocks until exit and reports the terminal error, if any.
type Download interface {
	Events() <-chan Progress
	Wait() error
}

// Fetcher is the contract the pipeline requires from the external tool.
type Fetcher interface {
	// Metadata performs the single metadata dump call for a URL.
	Metadata(ctx context.Context, url string) (*Info, error)

	// Download starts a fetch for a chosen format. The returned Download
	// owns the subprocess; callers must drain Events and call Wait.
	Download(ctx context.Context, req DownloadRequest) (Download, error)
}
