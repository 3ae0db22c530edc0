package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/fetchbay/fetchbay/internal/admission"
	"github.com/fetchbay/fetchbay/internal/dedup"
	"github.com/fetchbay/fetchbay/internal/domain/model"
	"github.com/fetchbay/fetchbay/internal/domain/repository"
	"github.com/fetchbay/fetchbay/internal/fetcher"
	"github.com/fetchbay/fetchbay/internal/infrastructure/metrics"
	"github.com/fetchbay/fetchbay/internal/resolver"
)

var (
	// ErrResolutionFailed means the resource is unavailable or invalid.
	// Not retried; the requester gets a concise failure message.
	ErrResolutionFailed = errors.New("resource unavailable")

	// ErrNoUsableFormat means the ladder was empty after filtering, or a
	// selected format ID is not part of the session's ladder.
	ErrNoUsableFormat = errors.New("no acceptable quality available")

	// ErrSessionExpired means the selection referenced an absent or
	// expired session. Expected condition; the requester restarts the flow.
	ErrSessionExpired = errors.New("selection expired, resolve the link again")

	// ErrDuplicateInFlight means another task already owns the dedup key.
	// Advisory; the requester should wait for the first download.
	ErrDuplicateInFlight = errors.New("download already in flight")

	// ErrFetchFailed means the external tool exited nonzero or failed to
	// start. The partial artifact is cleaned up; no automatic retry.
	ErrFetchFailed = errors.New("fetch failed")

	// ErrArchiveFailed means the archive upload failed and the direct
	// delivery fallback also did not reach the requester.
	ErrArchiveFailed = errors.New("archive failed")

	// ErrDeliveryFailed means the artifact was produced and archived but
	// the final delivery did not go through.
	ErrDeliveryFailed = errors.New("delivery failed")
)

// Job failure codes exposed to polling requesters.
const (
	failCodeQueueFull    = "queue_full"
	failCodeDuplicate    = "duplicate_in_flight"
	failCodeFetchFailed  = "fetch_failed"
	failCodeUploadFailed = "upload_failed"
	failCodeDelivery     = "delivery_failed"
)

// progressStep is the minimum percent delta between forwarded progress
// observations. Completion is always forwarded.
const progressStep = 5.0

// DownloadInput is a quality selection against a resolved session.
type DownloadInput struct {
	SessionID   uuid.UUID
	FormatID    string
	RequesterID string
}

// Orchestrator composes the pipeline: resolve, present, admit, fetch,
// archive, cache, deliver.
type Orchestrator interface {
	// Resolve fetches metadata for a URL, builds the candidate ladder and
	// opens a session. Concurrent resolutions of the same URL are
	// coalesced and share one session.
	Resolve(ctx context.Context, url string) (*model.Session, error)

	// StartDownload validates a selection and either serves it from the
	// result cache synchronously or admits a fetch task. The returned job
	// is pollable; a cache-served job is already DELIVERED.
	StartDownload(ctx context.Context, input DownloadInput) (*Job, error)

	// Job returns the current snapshot of a tracked job.
	Job(id uuid.UUID) (Job, error)

	// QueueStatus reports admission queue counts without blocking.
	QueueStatus() admission.Status
}

// OrchestratorConfig holds orchestrator settings.
type OrchestratorConfig struct {
	// WorkDir is the root for per-job temporary artifact directories.
	WorkDir string
}

type orchestrator struct {
	fetch    fetcher.Fetcher
	prober   *fetcher.Prober
	sessions SessionStore
	results  ResultCache
	queue    *admission.Queue
	tracker  *dedup.Tracker
	channel  repository.DeliveryChannel
	jobs     *JobRegistry
	sfGroup  singleflight.Group

	workDir string
}

// NewOrchestrator wires the pipeline components together. The prober is
// optional; a nil prober skips the faststart verification.
func NewOrchestrator(
	fetch fetcher.Fetcher,
	prober *fetcher.Prober,
	sessions SessionStore,
	results ResultCache,
	queue *admission.Queue,
	tracker *dedup.Tracker,
	channel repository.DeliveryChannel,
	jobs *JobRegistry,
	cfg OrchestratorConfig,
) Orchestrator {
	return &orchestrator{
		fetch:    fetch,
		prober:   prober,
		sessions: sessions,
		results:  results,
		queue:    queue,
		tracker:  tracker,
		channel:  channel,
		jobs:     jobs,
		workDir:  cfg.WorkDir,
	}
}

// Resolve runs the RESOLVING and PRESENTING steps. Coalesced per URL so
// a burst of identical requests triggers one metadata dump.
func (o *orchestrator) Resolve(ctx context.Context, url string) (*model.Session, error) {
	result, err, shared := o.sfGroup.Do(url, func() (any, error) {
		return o.resolve(ctx, url)
	})

	if shared {
		metrics.SingleflightRequestsTotal.WithLabelValues(metrics.SingleflightShared).Inc()
	} else {
		metrics.SingleflightRequestsTotal.WithLabelValues(metrics.SingleflightInitiated).Inc()
	}

	if err != nil {
		return nil, err
	}
	return result.(*model.Session), nil
}

func (o *orchestrator) resolve(ctx context.Context, url string) (*model.Session, error) {
	info, err := o.fetch.Metadata(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrResolutionFailed, err)
	}

	ladder := resolver.BuildLadder(info.Formats)
	if len(ladder) == 0 {
		return nil, ErrNoUsableFormat
	}

	metadata := model.VideoMetadata{
		ResourceID: info.ID,
		URL:        url,
		Title:      info.Title,
		Uploader:   info.Uploader,
		Duration:   int64(info.Duration),
		ViewCount:  info.ViewCount,
		LikeCount:  info.LikeCount,
		UploadDate: info.UploadDate,
		Thumbnail:  info.Thumbnail,
		Width:      info.Width,
		Height:     info.Height,
		Formats:    ladder,
	}

	session, err := o.sessions.Put(ctx, metadata)
	if err != nil {
		return nil, err
	}

	slog.Info("resolved resource",
		"resource_id", metadata.ResourceID,
		"session_id", session.ID,
		"candidates", len(ladder),
	)
	return session, nil
}

// StartDownload runs the selection steps: session lookup, cache check,
// dedup registration and queue admission. The fetch itself runs on a
// queue slot detached from the request context.
func (o *orchestrator) StartDownload(ctx context.Context, input DownloadInput) (*Job, error) {
	session, err := o.sessions.Get(ctx, input.SessionID)
	if err != nil {
		if errors.Is(err, repository.ErrSessionNotFound) {
			return nil, ErrSessionExpired
		}
		return nil, err
	}

	candidate, ok := session.Metadata.FindFormat(input.FormatID)
	if !ok {
		return nil, fmt.Errorf("%w: unknown format %q", ErrNoUsableFormat, input.FormatID)
	}

	fp := model.Fingerprint{
		ResourceID: session.Metadata.ResourceID,
		FormatID:   candidate.FormatID,
		Rendition:  candidate.Rendition,
	}

	job := o.jobs.Create(JobStateCacheCheck)

	if served := o.tryServeFromCache(ctx, job, session, candidate, fp, input.RequesterID); served {
		snapshot, _ := o.jobs.Get(job.ID)
		return &snapshot, nil
	}

	key := fp.Dedup()
	if !o.tracker.TryBegin(key) {
		metrics.DedupRejectionsTotal.Inc()
		o.jobs.Fail(job.ID, failCodeDuplicate)
		return nil, fmt.Errorf("%w: %s", ErrDuplicateInFlight, key)
	}

	// The task outlives the HTTP request; only the cancellation is
	// dropped, shutdown still terminates the process abruptly.
	taskCtx := context.WithoutCancel(ctx)
	if _, err := o.queue.Add(taskCtx, admission.Task{
		Key: key.String(),
		Run: func(runCtx context.Context) error {
			defer o.tracker.End(key)
			return o.runFetch(runCtx, job.ID, session, candidate, fp, input.RequesterID)
		},
	}); err != nil {
		o.tracker.End(key)
		if errors.Is(err, admission.ErrQueueFull) {
			metrics.QueueRejectionsTotal.Inc()
			o.jobs.Fail(job.ID, failCodeQueueFull)
		}
		return nil, err
	}

	o.jobs.SetState(job.ID, JobStateQueued)
	o.observeQueue()

	snapshot, _ := o.jobs.Get(job.ID)
	return &snapshot, nil
}

func (o *orchestrator) Job(id uuid.UUID) (Job, error) {
	return o.jobs.Get(id)
}

func (o *orchestrator) QueueStatus() admission.Status {
	return o.queue.Status()
}

// tryServeFromCache attempts delivery from a cached artifact reference.
// Any delivery failure with the cached reference falls back to a fresh
// fetch instead of failing the request; a stale entry never blocks.
func (o *orchestrator) tryServeFromCache(ctx context.Context, job *Job, session *model.Session, candidate model.FormatCandidate, fp model.Fingerprint, requesterID string) bool {
	entry, err := o.results.Lookup(ctx, fp)
	if err != nil {
		slog.Warn("result cache lookup failed, proceeding to fetch",
			"fingerprint", fp.String(),
			"error", err,
		)
		return false
	}
	if entry == nil {
		return false
	}

	meta := o.deliveryMeta(session, candidate)
	if err := o.channel.Deliver(ctx, requesterID, entry.ArtifactRef, meta); err != nil {
		if errors.Is(err, repository.ErrArtifactGone) {
			metrics.CacheOperationsTotal.WithLabelValues(metrics.CacheOpGet, metrics.CacheStatusStale, metrics.CacheTypeResult).Inc()
			slog.Info("cached artifact reference is stale, refetching",
				"fingerprint", fp.String(),
				"artifact_ref", entry.ArtifactRef,
			)
		} else {
			slog.Warn("cache-hit delivery failed, refetching",
				"fingerprint", fp.String(),
				"error", err,
			)
		}
		return false
	}

	o.results.RecordHit(ctx, fp, requesterID)
	metrics.DeliveriesTotal.WithLabelValues(metrics.DeliverySourceCache).Inc()
	o.jobs.Complete(job.ID, entry.ArtifactRef)

	slog.Info("served from result cache",
		"fingerprint", fp.String(),
		"artifact_ref", entry.ArtifactRef,
		"requester_id", requesterID,
	)
	return true
}

// runFetch executes the FETCHING, ARCHIVING and delivery steps on a
// queue slot. The per-job work directory is removed unconditionally.
func (o *orchestrator) runFetch(ctx context.Context, jobID uuid.UUID, session *model.Session, candidate model.FormatCandidate, fp model.Fingerprint, requesterID string) error {
	o.jobs.SetState(jobID, JobStateFetching)
	o.observeQueue()
	defer o.observeQueue()

	jobDir := filepath.Join(o.workDir, jobID.String())
	if err := os.MkdirAll(jobDir, 0o755); err != nil {
		o.jobs.Fail(jobID, failCodeFetchFailed)
		return fmt.Errorf("%w: create work dir: %v", ErrFetchFailed, err)
	}
	defer func() {
		if err := os.RemoveAll(jobDir); err != nil {
			slog.Warn("failed to remove job work directory",
				"job_id", jobID,
				"dir", jobDir,
				"error", err,
			)
		}
	}()

	outputPath := filepath.Join(jobDir, artifactFilename(candidate))

	start := time.Now()
	if err := o.download(ctx, jobID, session, candidate, outputPath); err != nil {
		metrics.FetchDurationSeconds.WithLabelValues(candidate.Kind().String(), metrics.FetchStatusError).Observe(time.Since(start).Seconds())
		o.jobs.Fail(jobID, failCodeFetchFailed)
		return err
	}
	metrics.FetchDurationSeconds.WithLabelValues(candidate.Kind().String(), metrics.FetchStatusSuccess).Observe(time.Since(start).Seconds())

	meta := o.deliveryMeta(session, candidate)
	meta.Streaming = o.verifyFastStart(ctx, candidate, outputPath)
	if meta.Thumbnail == "" {
		meta.Thumbnail = o.makeThumbnail(ctx, candidate, outputPath, jobDir)
	}

	o.jobs.SetState(jobID, JobStateArchiving)
	result, archiveErr := o.channel.Archive(ctx, outputPath, meta)
	if archiveErr != nil {
		slog.Error("archive upload failed, attempting direct delivery",
			"fingerprint", fp.String(),
			"error", archiveErr,
		)
		if err := o.channel.DeliverDirect(ctx, requesterID, outputPath, meta); err != nil {
			o.jobs.Fail(jobID, failCodeUploadFailed)
			return fmt.Errorf("%w: %v", ErrArchiveFailed, archiveErr)
		}
		metrics.DeliveriesTotal.WithLabelValues(metrics.DeliverySourceDirect).Inc()
		o.jobs.Complete(jobID, "")
		return nil
	}

	// Cache write failure never rolls back a successful fetch; delivery
	// proceeds with the fresh reference.
	now := time.Now().UTC()
	entry := &model.CacheEntry{
		Fingerprint:      fp,
		ArtifactRef:      result.ArtifactRef,
		ArchiveMessageID: result.MessageID,
		ByteSize:         result.ByteSize,
		Kind:             candidate.Kind(),
		CreatedBy:        requesterID,
		Title:            session.Metadata.Title,
		Uploader:         session.Metadata.Uploader,
		Duration:         session.Metadata.Duration,
		CreatedAt:        now,
		LastHitAt:        now,
	}
	if err := o.results.Store(ctx, entry); err != nil {
		slog.Warn("failed to persist cache entry",
			"fingerprint", fp.String(),
			"error", err,
		)
	}

	if err := o.channel.Deliver(ctx, requesterID, result.ArtifactRef, meta); err != nil {
		o.jobs.Fail(jobID, failCodeDelivery)
		return fmt.Errorf("%w: %v", ErrDeliveryFailed, err)
	}

	metrics.DeliveriesTotal.WithLabelValues(metrics.DeliverySourceFetch).Inc()
	o.jobs.Complete(jobID, result.ArtifactRef)

	slog.Info("fetched and delivered",
		"fingerprint", fp.String(),
		"artifact_ref", result.ArtifactRef,
		"bytes", result.ByteSize,
		"requester_id", requesterID,
	)
	return nil
}

// download runs the external fetch and forwards coarse progress. Events
// are forwarded on deltas of at least progressStep points or completion.
func (o *orchestrator) download(ctx context.Context, jobID uuid.UUID, session *model.Session, candidate model.FormatCandidate, outputPath string) error {
	req := fetcher.DownloadRequest{
		URL:        session.Metadata.URL,
		FormatID:   candidate.FormatID,
		MergeAudio: !candidate.HasAudio && !candidate.IsAudioOnly(),
		AudioOnly:  candidate.IsAudioOnly(),
		OutputPath: outputPath,
	}

	dl, err := o.fetch.Download(ctx, req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrFetchFailed, err)
	}

	lastReported := -progressStep
	for p := range dl.Events() {
		if p.Percent-lastReported >= progressStep || p.Percent >= 100 {
			lastReported = p.Percent
			o.jobs.SetProgress(jobID, p.Percent)
		}
	}

	if err := dl.Wait(); err != nil {
		return fmt.Errorf("%w: %v", ErrFetchFailed, err)
	}
	return nil
}

// verifyFastStart reports whether the artifact supports progressive
// playback. Probe failure degrades to non-streaming; the outcome is
// advisory only.
func (o *orchestrator) verifyFastStart(ctx context.Context, candidate model.FormatCandidate, outputPath string) bool {
	if candidate.IsAudioOnly() || o.prober == nil {
		return false
	}

	probe := o.prober.ProbeFastStart(ctx, outputPath)
	if probe.Err != nil {
		slog.Warn("faststart probe failed, assuming non-optimized",
			"path", outputPath,
			"error", probe.Err,
		)
		return false
	}
	return probe.FastStart
}

// makeThumbnail extracts a still from the artifact and archives it,
// returning the archived reference. Used only when the metadata carried
// no thumbnail URL; every failure degrades to no thumbnail.
func (o *orchestrator) makeThumbnail(ctx context.Context, candidate model.FormatCandidate, outputPath, jobDir string) string {
	if candidate.IsAudioOnly() || o.prober == nil {
		return ""
	}

	still := o.prober.Thumbnail(ctx, outputPath, filepath.Join(jobDir, "thumb.jpg"))
	if !still.OK() {
		slog.Warn("thumbnail extraction failed",
			"path", outputPath,
			"error", still.Err,
		)
		return ""
	}

	archived, err := o.channel.Archive(ctx, still.Path, repository.DeliveryMeta{Kind: model.KindVideo})
	if err != nil {
		slog.Warn("thumbnail archive failed",
			"path", still.Path,
			"error", err,
		)
		return ""
	}
	return archived.ArtifactRef
}

func (o *orchestrator) deliveryMeta(session *model.Session, candidate model.FormatCandidate) repository.DeliveryMeta {
	return repository.DeliveryMeta{
		Caption:   session.Metadata.Title,
		Kind:      candidate.Kind(),
		Duration:  session.Metadata.Duration,
		Width:     session.Metadata.Width,
		Height:    session.Metadata.Height,
		Thumbnail: session.Metadata.Thumbnail,
		Streaming: candidate.Kind() == model.KindVideo,
	}
}

func (o *orchestrator) observeQueue() {
	status := o.queue.Status()
	metrics.QueueActive.Set(float64(status.Active))
	metrics.QueueWaiting.Set(float64(status.Queued))
}

// artifactFilename names the local artifact. Merged downloads always
// remux into mp4.
func artifactFilename(candidate model.FormatCandidate) string {
	ext := candidate.Ext
	if !candidate.IsAudioOnly() {
		ext = "mp4"
	}
	if ext == "" {
		ext = "bin"
	}
	return fmt.Sprintf("%s-%s.%s", candidate.FormatID, candidate.Rendition, ext)
}
