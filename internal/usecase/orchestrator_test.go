package usecase

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/fetchbay/fetchbay/internal/admission"
	"github.com/fetchbay/fetchbay/internal/dedup"
	"github.com/fetchbay/fetchbay/internal/domain/model"
	"github.com/fetchbay/fetchbay/internal/domain/repository"
	"github.com/fetchbay/fetchbay/internal/fetcher"
)

// orchestratorEnv bundles the orchestrator with the mocks behind it so
// tests can both drive the pipeline and observe its side effects.
type orchestratorEnv struct {
	orch        Orchestrator
	fetch       *mockFetcher
	sessionRepo *mockSessionRepository
	cacheRepo   *mockCacheRepository
	channel     *mockDeliveryChannel
	queue       *admission.Queue
	tracker     *dedup.Tracker
	jobs        *JobRegistry
}

func newOrchestratorEnv(t *testing.T, queueCfg admission.Config) *orchestratorEnv {
	t.Helper()

	env := &orchestratorEnv{
		fetch:       &mockFetcher{},
		sessionRepo: &mockSessionRepository{},
		cacheRepo:   &mockCacheRepository{},
		channel:     &mockDeliveryChannel{},
		queue:       admission.New(queueCfg),
		tracker:     dedup.NewTracker(),
		jobs:        NewJobRegistry(),
	}
	env.orch = NewOrchestrator(
		env.fetch,
		nil,
		NewSessionStore(env.sessionRepo, &mockSessionCache{}),
		NewResultCache(env.cacheRepo),
		env.queue,
		env.tracker,
		env.channel,
		env.jobs,
		OrchestratorConfig{WorkDir: t.TempDir()},
	)
	return env
}

// serveSession makes the durable session repository return the given
// session for any ID.
func (env *orchestratorEnv) serveSession(session *model.Session) {
	env.sessionRepo.getFn = func(context.Context, uuid.UUID) (*model.Session, error) {
		return session, nil
	}
}

func waitForJob(t *testing.T, orch Orchestrator, id uuid.UUID, want JobState) Job {
	t.Helper()

	deadline := time.Now().Add(2 * time.Second)
	for {
		job, err := orch.Job(id)
		if err != nil {
			t.Fatalf("Job() error = %v", err)
		}
		if job.State == want {
			return job
		}
		if job.State == JobStateFailed && want != JobStateFailed {
			t.Fatalf("job failed with %q while waiting for %v", job.ErrorCode, want)
		}
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for state %v, current state %v", want, job.State)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func testInfo() *fetcher.Info {
	return &fetcher.Info{
		ID:       "video123",
		Title:    "Test Video",
		Uploader: "Test Channel",
		Duration: 120,
		Width:    1920,
		Height:   1080,
		Formats: []fetcher.Format{
			{ID: "137", Ext: "mp4", VCodec: "avc1.640028", ACodec: "none", Height: 1080, Filesize: 50 * 1024 * 1024},
			{ID: "140", Ext: "m4a", VCodec: "none", ACodec: "mp4a.40.2", Filesize: 10 * 1024 * 1024},
		},
	}
}

func TestOrchestrator_Resolve(t *testing.T) {
	ctx := context.Background()

	t.Run("builds the ladder and opens a session", func(t *testing.T) {
		env := newOrchestratorEnv(t, admission.DefaultConfig())
		env.fetch.metadataFn = func(context.Context, string) (*fetcher.Info, error) {
			return testInfo(), nil
		}

		var persisted *model.Session
		env.sessionRepo.putFn = func(_ context.Context, s *model.Session) error {
			persisted = s
			return nil
		}

		session, err := env.orch.Resolve(ctx, "https://example.com/watch?v=video123")
		if err != nil {
			t.Fatalf("Resolve() error = %v", err)
		}

		if persisted == nil || persisted.ID != session.ID {
			t.Error("session was not persisted")
		}
		if session.Metadata.ResourceID != "video123" {
			t.Errorf("ResourceID = %q, want %q", session.Metadata.ResourceID, "video123")
		}

		formats := session.Metadata.Formats
		if len(formats) != 2 {
			t.Fatalf("ladder length = %d, want 2", len(formats))
		}
		if formats[0].Rendition != "1080p" || formats[0].FormatID != "137" {
			t.Errorf("ladder[0] = %+v, want 1080p/137", formats[0])
		}
		if !formats[1].IsAudioOnly() || formats[1].FormatID != "140" {
			t.Errorf("ladder[1] = %+v, want audio/140", formats[1])
		}
	})

	t.Run("metadata failure", func(t *testing.T) {
		env := newOrchestratorEnv(t, admission.DefaultConfig())
		env.fetch.metadataFn = func(context.Context, string) (*fetcher.Info, error) {
			return nil, errors.New("unavailable video")
		}

		_, err := env.orch.Resolve(ctx, "https://example.com/watch?v=gone")
		if !errors.Is(err, ErrResolutionFailed) {
			t.Errorf("Resolve() error = %v, want ErrResolutionFailed", err)
		}
	})

	t.Run("empty ladder", func(t *testing.T) {
		env := newOrchestratorEnv(t, admission.DefaultConfig())
		env.fetch.metadataFn = func(context.Context, string) (*fetcher.Info, error) {
			return &fetcher.Info{ID: "video123"}, nil
		}

		_, err := env.orch.Resolve(ctx, "https://example.com/watch?v=video123")
		if !errors.Is(err, ErrNoUsableFormat) {
			t.Errorf("Resolve() error = %v, want ErrNoUsableFormat", err)
		}
	})

	t.Run("concurrent resolutions of one URL are coalesced", func(t *testing.T) {
		env := newOrchestratorEnv(t, admission.DefaultConfig())

		entered := make(chan struct{})
		release := make(chan struct{})
		var calls atomic.Int64
		env.fetch.metadataFn = func(context.Context, string) (*fetcher.Info, error) {
			calls.Add(1)
			close(entered)
			<-release
			return testInfo(), nil
		}

		const url = "https://example.com/watch?v=video123"
		results := make(chan *model.Session, 2)
		go func() {
			s, _ := env.orch.Resolve(ctx, url)
			results <- s
		}()
		<-entered
		go func() {
			s, _ := env.orch.Resolve(ctx, url)
			results <- s
		}()
		// Give the second caller time to join the in-flight call.
		time.Sleep(20 * time.Millisecond)
		close(release)

		first, second := <-results, <-results
		if first == nil || second == nil {
			t.Fatal("Resolve() returned a nil session")
		}
		if first.ID != second.ID {
			t.Error("coalesced resolutions produced different sessions")
		}
		if calls.Load() != 1 {
			t.Errorf("metadata calls = %d, want 1", calls.Load())
		}
	})
}

func TestOrchestrator_StartDownload_Validation(t *testing.T) {
	ctx := context.Background()

	t.Run("absent session reads as expired", func(t *testing.T) {
		env := newOrchestratorEnv(t, admission.DefaultConfig())

		_, err := env.orch.StartDownload(ctx, DownloadInput{SessionID: uuid.New(), FormatID: "137"})
		if !errors.Is(err, ErrSessionExpired) {
			t.Errorf("StartDownload() error = %v, want ErrSessionExpired", err)
		}
	})

	t.Run("format outside the ladder", func(t *testing.T) {
		env := newOrchestratorEnv(t, admission.DefaultConfig())
		session := testSession(t)
		env.serveSession(session)

		_, err := env.orch.StartDownload(ctx, DownloadInput{SessionID: session.ID, FormatID: "999"})
		if !errors.Is(err, ErrNoUsableFormat) {
			t.Errorf("StartDownload() error = %v, want ErrNoUsableFormat", err)
		}
	})
}

func TestOrchestrator_FetchPipeline(t *testing.T) {
	ctx := context.Background()

	t.Run("fetches, archives, caches and delivers", func(t *testing.T) {
		env := newOrchestratorEnv(t, admission.DefaultConfig())
		session := testSession(t)
		env.serveSession(session)

		var stored *model.CacheEntry
		env.cacheRepo.setFn = func(_ context.Context, entry *model.CacheEntry) error {
			stored = entry
			return nil
		}

		job, err := env.orch.StartDownload(ctx, DownloadInput{
			SessionID:   session.ID,
			FormatID:    "137",
			RequesterID: "requester1",
		})
		if err != nil {
			t.Fatalf("StartDownload() error = %v", err)
		}

		done := waitForJob(t, env.orch, job.ID, JobStateDelivered)
		if done.ArtifactRef != "ref123" {
			t.Errorf("ArtifactRef = %q, want %q", done.ArtifactRef, "ref123")
		}
		if done.Progress != 100 {
			t.Errorf("Progress = %v, want 100", done.Progress)
		}

		if got := env.fetch.downloads.Load(); got != 1 {
			t.Errorf("downloads = %d, want 1", got)
		}
		if got := env.channel.delivered.Load(); got != 1 {
			t.Errorf("deliveries = %d, want 1", got)
		}

		if stored == nil {
			t.Fatal("no cache entry was stored")
		}
		wantFP := model.Fingerprint{ResourceID: "video123", FormatID: "137", Rendition: "1080p"}
		if stored.Fingerprint != wantFP {
			t.Errorf("stored fingerprint = %+v, want %+v", stored.Fingerprint, wantFP)
		}
		if stored.ArtifactRef != "ref123" {
			t.Errorf("stored ArtifactRef = %q, want %q", stored.ArtifactRef, "ref123")
		}
		if stored.CreatedBy != "requester1" {
			t.Errorf("stored CreatedBy = %q, want %q", stored.CreatedBy, "requester1")
		}
		if stored.Kind != model.KindVideo {
			t.Errorf("stored Kind = %v, want %v", stored.Kind, model.KindVideo)
		}

		if env.tracker.Len() != 0 {
			t.Errorf("tracker still holds %d keys after completion", env.tracker.Len())
		}
	})

	t.Run("audio selection requests no merge", func(t *testing.T) {
		env := newOrchestratorEnv(t, admission.DefaultConfig())
		session := testSession(t)
		env.serveSession(session)

		var gotReq fetcher.DownloadRequest
		env.fetch.downloadFn = func(_ context.Context, req fetcher.DownloadRequest) (fetcher.Download, error) {
			gotReq = req
			return &mockDownload{progress: []fetcher.Progress{{Percent: 100}}}, nil
		}

		job, err := env.orch.StartDownload(ctx, DownloadInput{
			SessionID:   session.ID,
			FormatID:    "140",
			RequesterID: "requester1",
		})
		if err != nil {
			t.Fatalf("StartDownload() error = %v", err)
		}
		waitForJob(t, env.orch, job.ID, JobStateDelivered)

		if !gotReq.AudioOnly {
			t.Error("AudioOnly = false, want true for the audio rendition")
		}
		if gotReq.MergeAudio {
			t.Error("MergeAudio = true, want false for the audio rendition")
		}
	})

	t.Run("fetch failure marks the job", func(t *testing.T) {
		env := newOrchestratorEnv(t, admission.DefaultConfig())
		session := testSession(t)
		env.serveSession(session)

		env.fetch.downloadFn = func(context.Context, fetcher.DownloadRequest) (fetcher.Download, error) {
			return &mockDownload{waitErr: errors.New("exit status 1")}, nil
		}

		job, err := env.orch.StartDownload(ctx, DownloadInput{SessionID: session.ID, FormatID: "137"})
		if err != nil {
			t.Fatalf("StartDownload() error = %v", err)
		}

		failed := waitForJob(t, env.orch, job.ID, JobStateFailed)
		if failed.ErrorCode != "fetch_failed" {
			t.Errorf("ErrorCode = %q, want %q", failed.ErrorCode, "fetch_failed")
		}
		if env.tracker.Len() != 0 {
			t.Errorf("tracker still holds %d keys after failure", env.tracker.Len())
		}
	})

	t.Run("archive failure falls back to direct delivery", func(t *testing.T) {
		env := newOrchestratorEnv(t, admission.DefaultConfig())
		session := testSession(t)
		env.serveSession(session)

		env.channel.archiveFn = func(context.Context, string, repository.DeliveryMeta) (repository.ArchiveResult, error) {
			return repository.ArchiveResult{}, errors.New("bucket unreachable")
		}
		env.cacheRepo.setFn = func(context.Context, *model.CacheEntry) error {
			t.Error("cache entry stored despite failed archive")
			return nil
		}

		job, err := env.orch.StartDownload(ctx, DownloadInput{SessionID: session.ID, FormatID: "137"})
		if err != nil {
			t.Fatalf("StartDownload() error = %v", err)
		}

		done := waitForJob(t, env.orch, job.ID, JobStateDelivered)
		if done.ArtifactRef != "" {
			t.Errorf("ArtifactRef = %q, want empty for a direct delivery", done.ArtifactRef)
		}
		if got := env.channel.direct.Load(); got != 1 {
			t.Errorf("direct deliveries = %d, want 1", got)
		}
	})

	t.Run("archive and direct delivery both failing fails the job", func(t *testing.T) {
		env := newOrchestratorEnv(t, admission.DefaultConfig())
		session := testSession(t)
		env.serveSession(session)

		env.channel.archiveFn = func(context.Context, string, repository.DeliveryMeta) (repository.ArchiveResult, error) {
			return repository.ArchiveResult{}, errors.New("bucket unreachable")
		}
		env.channel.deliverDirectFn = func(context.Context, string, string, repository.DeliveryMeta) error {
			return errors.New("recipient unreachable")
		}

		job, err := env.orch.StartDownload(ctx, DownloadInput{SessionID: session.ID, FormatID: "137"})
		if err != nil {
			t.Fatalf("StartDownload() error = %v", err)
		}

		failed := waitForJob(t, env.orch, job.ID, JobStateFailed)
		if failed.ErrorCode != "upload_failed" {
			t.Errorf("ErrorCode = %q, want %q", failed.ErrorCode, "upload_failed")
		}
	})

	t.Run("delivery failure after archive fails the job", func(t *testing.T) {
		env := newOrchestratorEnv(t, admission.DefaultConfig())
		session := testSession(t)
		env.serveSession(session)

		env.channel.deliverFn = func(context.Context, string, string, repository.DeliveryMeta) error {
			return errors.New("recipient unreachable")
		}

		job, err := env.orch.StartDownload(ctx, DownloadInput{SessionID: session.ID, FormatID: "137"})
		if err != nil {
			t.Fatalf("StartDownload() error = %v", err)
		}

		failed := waitForJob(t, env.orch, job.ID, JobStateFailed)
		if failed.ErrorCode != "delivery_failed" {
			t.Errorf("ErrorCode = %q, want %q", failed.ErrorCode, "delivery_failed")
		}
	})
}

func TestOrchestrator_ResultCache(t *testing.T) {
	ctx := context.Background()

	t.Run("second request is served without a fetch", func(t *testing.T) {
		env := newOrchestratorEnv(t, admission.DefaultConfig())
		session := testSession(t)
		env.serveSession(session)

		entry := testCacheEntry()
		env.cacheRepo.getFn = func(context.Context, model.Fingerprint) (*model.CacheEntry, error) {
			return entry, nil
		}

		var hitFP model.Fingerprint
		var hitRequester string
		var hits atomic.Int64
		env.cacheRepo.recordHitFn = func(_ context.Context, fp model.Fingerprint, requesterID string) error {
			hitFP = fp
			hitRequester = requesterID
			hits.Add(1)
			return nil
		}

		job, err := env.orch.StartDownload(ctx, DownloadInput{
			SessionID:   session.ID,
			FormatID:    "137",
			RequesterID: "requester2",
		})
		if err != nil {
			t.Fatalf("StartDownload() error = %v", err)
		}

		if job.State != JobStateDelivered {
			t.Errorf("State = %v, want %v for a cache hit", job.State, JobStateDelivered)
		}
		if job.ArtifactRef != entry.ArtifactRef {
			t.Errorf("ArtifactRef = %q, want %q", job.ArtifactRef, entry.ArtifactRef)
		}
		if got := env.fetch.downloads.Load(); got != 0 {
			t.Errorf("downloads = %d, want 0 for a cache hit", got)
		}
		if got := env.channel.delivered.Load(); got != 1 {
			t.Errorf("deliveries = %d, want 1", got)
		}
		if hits.Load() != 1 {
			t.Errorf("recorded hits = %d, want 1", hits.Load())
		}
		if hitFP != entry.Fingerprint {
			t.Errorf("hit fingerprint = %+v, want %+v", hitFP, entry.Fingerprint)
		}
		if hitRequester != "requester2" {
			t.Errorf("hit requester = %q, want %q", hitRequester, "requester2")
		}
	})

	t.Run("stale artifact reference falls back to a fresh fetch", func(t *testing.T) {
		env := newOrchestratorEnv(t, admission.DefaultConfig())
		session := testSession(t)
		env.serveSession(session)

		entry := testCacheEntry()
		env.cacheRepo.getFn = func(context.Context, model.Fingerprint) (*model.CacheEntry, error) {
			return entry, nil
		}

		var deliveries atomic.Int64
		env.channel.deliverFn = func(_ context.Context, _, artifactRef string, _ repository.DeliveryMeta) error {
			if deliveries.Add(1) == 1 {
				// The cached object was removed from the archive.
				return repository.ErrArtifactGone
			}
			return nil
		}

		job, err := env.orch.StartDownload(ctx, DownloadInput{SessionID: session.ID, FormatID: "137"})
		if err != nil {
			t.Fatalf("StartDownload() error = %v", err)
		}

		done := waitForJob(t, env.orch, job.ID, JobStateDelivered)
		if done.ArtifactRef != "ref123" {
			t.Errorf("ArtifactRef = %q, want the fresh reference %q", done.ArtifactRef, "ref123")
		}
		if got := env.fetch.downloads.Load(); got != 1 {
			t.Errorf("downloads = %d, want 1 after the stale fallback", got)
		}
	})
}

func TestOrchestrator_Admission(t *testing.T) {
	ctx := context.Background()

	t.Run("full queue rejects without blocking", func(t *testing.T) {
		env := newOrchestratorEnv(t, admission.Config{MaxParallel: 1, MaxQueued: 0})
		session := testSession(t)
		env.serveSession(session)

		// Occupy the single run slot.
		release := make(chan struct{})
		_, err := env.queue.Add(ctx, admission.Task{
			Key: "blocker",
			Run: func(context.Context) error {
				<-release
				return nil
			},
		})
		if err != nil {
			t.Fatalf("Add() error = %v", err)
		}
		defer close(release)

		start := time.Now()
		_, err = env.orch.StartDownload(ctx, DownloadInput{SessionID: session.ID, FormatID: "137"})
		if !errors.Is(err, admission.ErrQueueFull) {
			t.Errorf("StartDownload() error = %v, want ErrQueueFull", err)
		}
		if elapsed := time.Since(start); elapsed > 500*time.Millisecond {
			t.Errorf("rejection took %v, want immediate", elapsed)
		}
		if env.tracker.Len() != 0 {
			t.Errorf("tracker still holds %d keys after rejection", env.tracker.Len())
		}
	})

	t.Run("duplicate in-flight selection is rejected", func(t *testing.T) {
		env := newOrchestratorEnv(t, admission.DefaultConfig())
		session := testSession(t)
		env.serveSession(session)

		started := make(chan struct{})
		release := make(chan struct{})
		var once sync.Once
		env.fetch.downloadFn = func(context.Context, fetcher.DownloadRequest) (fetcher.Download, error) {
			once.Do(func() { close(started) })
			<-release
			return &mockDownload{progress: []fetcher.Progress{{Percent: 100}}}, nil
		}

		first, err := env.orch.StartDownload(ctx, DownloadInput{SessionID: session.ID, FormatID: "137"})
		if err != nil {
			t.Fatalf("StartDownload() error = %v", err)
		}
		<-started

		_, err = env.orch.StartDownload(ctx, DownloadInput{SessionID: session.ID, FormatID: "137"})
		if !errors.Is(err, ErrDuplicateInFlight) {
			t.Errorf("StartDownload() error = %v, want ErrDuplicateInFlight", err)
		}

		close(release)
		waitForJob(t, env.orch, first.ID, JobStateDelivered)

		if got := env.fetch.downloads.Load(); got != 1 {
			t.Errorf("downloads = %d, want 1 for duplicate selections", got)
		}
		if env.tracker.Len() != 0 {
			t.Errorf("tracker still holds %d keys after completion", env.tracker.Len())
		}
	})
}

func TestOrchestrator_QueueStatus(t *testing.T) {
	env := newOrchestratorEnv(t, admission.Config{MaxParallel: 1, MaxQueued: 5})

	status := env.orch.QueueStatus()
	if status.Active != 0 || status.Queued != 0 {
		t.Errorf("QueueStatus() = %+v, want zero counts", status)
	}
}
