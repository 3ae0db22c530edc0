package fetcher

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"regexp"
	"strconv"
)

// YtDlpConfig holds configuration for the yt-dlp based fetcher.
type YtDlpConfig struct {
	// BinaryPath is the path to the yt-dlp binary.
	// If empty, "yt-dlp" will be used (assumes it's in PATH).
	BinaryPath string

	// CookieFile is an optional Netscape cookie file for authenticated
	// sources. Empty disables the flag.
	CookieFile string
}

// DefaultYtDlpConfig returns a YtDlpConfig with sensible defaults.
func DefaultYtDlpConfig() YtDlpConfig {
	return YtDlpConfig{
		BinaryPath: "yt-dlp",
	}
}

// YtDlp implements Fetcher by invoking yt-dlp as a subprocess.
type YtDlp struct {
	config YtDlpConfig
}

// Compile-time verification that YtDlp implements Fetcher.
var _ Fetcher = (*YtDlp)(nil)

// NewYtDlp creates a new yt-dlp backed fetcher.
func NewYtDlp(cfg YtDlpConfig) *YtDlp {
	if cfg.BinaryPath == "" {
		cfg.BinaryPath = "yt-dlp"
	}
	return &YtDlp{config: cfg}
}

// Metadata runs a single JSON metadata dump for the URL.
func (y *YtDlp) Metadata(ctx context.Context, url string) (*Info, error) {
	args := []string{"-J", "--no-warnings", "--no-playlist"}
	if y.config.CookieFile != "" {
		args = append(args, "--cookies", y.config.CookieFile)
	}
	args = append(args, url)

	cmd := exec.CommandContext(ctx, y.config.BinaryPath, args...)

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	stdout, err := cmd.Output()
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("metadata dump cancelled: %w", ctx.Err())
		}
		return nil, fmt.Errorf("metadata dump failed: %w: %s", err, firstLine(stderr.Bytes()))
	}

	var info Info
	if err := json.Unmarshal(stdout, &info); err != nil {
		return nil, fmt.Errorf("parse metadata dump: %w", err)
	}

	return &info, nil
}

// Download starts a fetch for the chosen format and returns a handle
// streaming progress events parsed from the tool's stdout.
func (y *YtDlp) Download(ctx context.Context, req DownloadRequest) (Download, error) {
	args := y.buildDownloadArgs(req)

	cmd := exec.CommandContext(ctx, y.config.BinaryPath, args...)

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("create stdout pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start fetcher: %w", err)
	}

	d := &ytDlpDownload{
		events: make(chan Progress, 16),
		done:   make(chan struct{}),
	}

	go func() {
		scanner := bufio.NewScanner(stdout)
		for scanner.Scan() {
			pct, ok := ParseProgressLine(scanner.Text())
			if !ok {
				continue
			}
			select {
			case d.events <- Progress{Percent: pct}:
			default:
				// Slow consumer; drop the observation rather than stall
				// the subprocess pipe.
			}
		}

		err := cmd.Wait()
		if err != nil {
			if ctx.Err() != nil {
				d.err = fmt.Errorf("fetch cancelled: %w", ctx.Err())
			} else {
				d.err = fmt.Errorf("fetcher exited: %w: %s", err, firstLine(stderr.Bytes()))
			}
		}
		close(d.events)
		close(d.done)
	}()

	return d, nil
}

// buildDownloadArgs constructs the fetch invocation for a chosen format.
// The output is a single progressive-playback container: multiplexed
// streams are merged, and the post-processor relocates the container
// index to the front of the file without re-encoding.
func (y *YtDlp) buildDownloadArgs(req DownloadRequest) []string {
	selector := req.FormatID
	if req.MergeAudio && !req.AudioOnly {
		selector = req.FormatID + "+bestaudio"
	}

	args := []string{
		"-f", selector,
		"--no-playlist",
		"--newline",
		"-o", req.OutputPath,
	}

	if !req.AudioOnly {
		args = append(args,
			"--merge-output-format", "mp4",
			"--postprocessor-args", "ffmpeg:-movflags +faststart",
		)
	}

	if y.config.CookieFile != "" {
		args = append(args, "--cookies", y.config.CookieFile)
	}

	args = append(args, req.URL)
	return args
}

type ytDlpDownload struct {
	events chan Progress
	done   chan struct{}
	err    error
}

func (d *ytDlpDownload) Events() <-chan Progress {
	return d.events
}

func (d *ytDlpDownload) Wait() error {
	<-d.done
	return d.err
}

// progressPattern matches the percentage token in the tool's progress
// lines, e.g. "[download]  42.7% of 10.00MiB at 1.00MiB/s".
var progressPattern = regexp.MustCompile(`(\d{1,3}(?:\.\d+)?)%`)

// ParseProgressLine extracts a progress percentage from a single output
// line. Returns false when the line carries no progress token.
func ParseProgressLine(line string) (float64, bool) {
	m := progressPattern.FindStringSubmatch(line)
	if m == nil {
		return 0, false
	}

	pct, err := strconv.ParseFloat(m[1], 64)
	if err != nil || pct < 0 || pct > 100 {
		return 0, false
	}

	return pct, true
}

// firstLine trims subprocess stderr down to its first line for error
// wrapping; the tool's full output is too noisy for log messages.
func firstLine(b []byte) string {
	if i := bytes.IndexByte(b, '\n'); i >= 0 {
		b = b[:i]
	}
	return string(bytes.TrimSpace(b))
}
