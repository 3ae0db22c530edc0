package fetcher

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
)

// ProbeConfig holds configuration for the companion ffmpeg/ffprobe tools.
type ProbeConfig struct {
	FFmpegPath  string
	FFprobePath string
	// ThumbnailHeight is the scaled height of extracted stills.
	ThumbnailHeight int
}

// DefaultProbeConfig returns a ProbeConfig with sensible defaults.
func DefaultProbeConfig() ProbeConfig {
	return ProbeConfig{
		FFmpegPath:      "ffmpeg",
		FFprobePath:     "ffprobe",
		ThumbnailHeight: 320,
	}
}

// Prober provides best-effort thumbnail extraction and container probing.
// Failures are reported as explicit outcomes the caller may ignore.
type Prober struct {
	config ProbeConfig
}

// NewProber creates a Prober.
func NewProber(cfg ProbeConfig) *Prober {
	if cfg.FFmpegPath == "" {
		cfg.FFmpegPath = "ffmpeg"
	}
	if cfg.FFprobePath == "" {
		cfg.FFprobePath = "ffprobe"
	}
	if cfg.ThumbnailHeight <= 0 {
		cfg.ThumbnailHeight = 320
	}
	return &Prober{config: cfg}
}

// ThumbnailResult is the outcome of a thumbnail extraction attempt.
type ThumbnailResult struct {
	// Path is the generated still, empty when extraction failed.
	Path string
	Err  error
}

// OK reports whether a usable thumbnail was produced.
func (r ThumbnailResult) OK() bool {
	return r.Err == nil && r.Path != ""
}

// Thumbnail extracts a single scaled frame from the video as a still
// image. The outcome is returned rather than swallowed so callers can
// degrade gracefully and tests can assert on it.
func (p *Prober) Thumbnail(ctx context.Context, videoPath, imagePath string) ThumbnailResult {
	cmd := exec.CommandContext(
		ctx, p.config.FFmpegPath,
		"-y",
		"-loglevel", "warning",
		"-i", videoPath,
		"-ss", "00:00:01",
		"-vframes", "1",
		"-vf", fmt.Sprintf("scale=-2:%d", p.config.ThumbnailHeight),
		imagePath,
	)

	var buf bytes.Buffer
	cmd.Stdout = &buf
	cmd.Stderr = &buf

	if err := cmd.Run(); err != nil {
		return ThumbnailResult{Err: fmt.Errorf("thumbnail extraction: %w: %s", err, firstLine(buf.Bytes()))}
	}

	return ThumbnailResult{Path: imagePath}
}

// ProbeResult is the outcome of a container probe.
type ProbeResult struct {
	// FastStart reports whether the container index is front-loaded for
	// progressive playback. False when the probe failed.
	FastStart bool
	Brand     string
	Err       error
}

// ProbeFastStart checks the container-brand metadata to verify the
// front-loaded-index property. A probe failure degrades to assuming a
// non-optimized container.
func (p *Prober) ProbeFastStart(ctx context.Context, path string) ProbeResult {
	cmd := exec.CommandContext(
		ctx, p.config.FFprobePath,
		"-v", "quiet",
		"-show_entries", "format_tags=major_brand",
		"-of", "csv=p=0",
		path,
	)

	output, err := cmd.Output()
	if err != nil {
		return ProbeResult{Err: fmt.Errorf("container probe: %w", err)}
	}

	brand := strings.TrimSpace(string(output))
	return ProbeResult{
		FastStart: isProgressiveBrand(brand),
		Brand:     brand,
	}
}

// isProgressiveBrand reports whether the container brand belongs to the
// MP4 family the remux step produces.
func isProgressiveBrand(brand string) bool {
	switch strings.ToLower(brand) {
	case "isom", "mp41", "mp42", "m4v", "m4a":
		return true
	default:
		return false
	}
}
