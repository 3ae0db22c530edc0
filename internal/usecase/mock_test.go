package usecase

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/fetchbay/fetchbay/internal/domain/model"
	"github.com/fetchbay/fetchbay/internal/domain/repository"
	"github.com/fetchbay/fetchbay/internal/fetcher"
)

// mockSessionRepository provides a configurable mock for SessionRepository.
type mockSessionRepository struct {
	putFn           func(ctx context.Context, session *model.Session) error
	getFn           func(ctx context.Context, id uuid.UUID) (*model.Session, error)
	deleteFn        func(ctx context.Context, id uuid.UUID) error
	deleteExpiredFn func(ctx context.Context, before time.Time) (int64, error)
}

func (m *mockSessionRepository) Put(ctx context.Context, session *model.Session) error {
	if m.putFn != nil {
		return m.putFn(ctx, session)
	}
	return nil
}

func (m *mockSessionRepository) Get(ctx context.Context, id uuid.UUID) (*model.Session, error) {
	if m.getFn != nil {
		return m.getFn(ctx, id)
	}
	return nil, repository.ErrSessionNotFound
}

func (m *mockSessionRepository) Delete(ctx context.Context, id uuid.UUID) error {
	if m.deleteFn != nil {
		return m.deleteFn(ctx, id)
	}
	return nil
}

func (m *mockSessionRepository) DeleteExpired(ctx context.Context, before time.Time) (int64, error) {
	if m.deleteExpiredFn != nil {
		return m.deleteExpiredFn(ctx, before)
	}
	return 0, nil
}

// mockCacheRepository provides a configurable mock for CacheRepository.
type mockCacheRepository struct {
	getFn       func(ctx context.Context, fp model.Fingerprint) (*model.CacheEntry, error)
	setFn       func(ctx context.Context, entry *model.CacheEntry) error
	recordHitFn func(ctx context.Context, fp model.Fingerprint, requesterID string) error
	deleteFn    func(ctx context.Context, fp model.Fingerprint) error
	statsFn     func(ctx context.Context) (model.CacheStats, error)
}

func (m *mockCacheRepository) Get(ctx context.Context, fp model.Fingerprint) (*model.CacheEntry, error) {
	if m.getFn != nil {
		return m.getFn(ctx, fp)
	}
	return nil, repository.ErrCacheEntryNotFound
}

func (m *mockCacheRepository) Set(ctx context.Context, entry *model.CacheEntry) error {
	if m.setFn != nil {
		return m.setFn(ctx, entry)
	}
	return nil
}

func (m *mockCacheRepository) RecordHit(ctx context.Context, fp model.Fingerprint, requesterID string) error {
	if m.recordHitFn != nil {
		return m.recordHitFn(ctx, fp, requesterID)
	}
	return nil
}

func (m *mockCacheRepository) Delete(ctx context.Context, fp model.Fingerprint) error {
	if m.deleteFn != nil {
		return m.deleteFn(ctx, fp)
	}
	return nil
}

func (m *mockCacheRepository) Stats(ctx context.Context) (model.CacheStats, error) {
	if m.statsFn != nil {
		return m.statsFn(ctx)
	}
	return model.CacheStats{}, nil
}

// mockSessionCache provides a configurable mock for cache.SessionCache.
type mockSessionCache struct {
	getFn    func(ctx context.Context, id uuid.UUID) (*model.Session, error)
	setFn    func(ctx context.Context, session *model.Session) error
	deleteFn func(ctx context.Context, id uuid.UUID) error
}

func (m *mockSessionCache) Get(ctx context.Context, id uuid.UUID) (*model.Session, error) {
	if m.getFn != nil {
		return m.getFn(ctx, id)
	}
	return nil, nil
}

func (m *mockSessionCache) Set(ctx context.Context, session *model.Session) error {
	if m.setFn != nil {
		return m.setFn(ctx, session)
	}
	return nil
}

func (m *mockSessionCache) Delete(ctx context.Context, id uuid.UUID) error {
	if m.deleteFn != nil {
		return m.deleteFn(ctx, id)
	}
	return nil
}

// mockDownload yields a fixed progress sequence and terminal error.
type mockDownload struct {
	progress []fetcher.Progress
	waitErr  error
}

func (d *mockDownload) Events() <-chan fetcher.Progress {
	ch := make(chan fetcher.Progress, len(d.progress))
	for _, p := range d.progress {
		ch <- p
	}
	close(ch)
	return ch
}

func (d *mockDownload) Wait() error {
	return d.waitErr
}

// mockFetcher provides a configurable mock for fetcher.Fetcher and
// counts download invocations for dedup and cache-hit assertions.
type mockFetcher struct {
	metadataFn func(ctx context.Context, url string) (*fetcher.Info, error)
	downloadFn func(ctx context.Context, req fetcher.DownloadRequest) (fetcher.Download, error)

	downloads atomic.Int64
}

func (m *mockFetcher) Metadata(ctx context.Context, url string) (*fetcher.Info, error) {
	if m.metadataFn != nil {
		return m.metadataFn(ctx, url)
	}
	return &fetcher.Info{}, nil
}

func (m *mockFetcher) Download(ctx context.Context, req fetcher.DownloadRequest) (fetcher.Download, error) {
	m.downloads.Add(1)
	if m.downloadFn != nil {
		return m.downloadFn(ctx, req)
	}
	return &mockDownload{progress: []fetcher.Progress{{Percent: 100}}}, nil
}

// mockDeliveryChannel provides a configurable mock for DeliveryChannel.
type mockDeliveryChannel struct {
	archiveFn       func(ctx context.Context, localPath string, meta repository.DeliveryMeta) (repository.ArchiveResult, error)
	deliverFn       func(ctx context.Context, recipient, artifactRef string, meta repository.DeliveryMeta) error
	deliverDirectFn func(ctx context.Context, recipient, localPath string, meta repository.DeliveryMeta) error

	delivered atomic.Int64
	direct    atomic.Int64
}

func (m *mockDeliveryChannel) Archive(ctx context.Context, localPath string, meta repository.DeliveryMeta) (repository.ArchiveResult, error) {
	if m.archiveFn != nil {
		return m.archiveFn(ctx, localPath, meta)
	}
	return repository.ArchiveResult{ArtifactRef: "ref123", MessageID: "msg123", ByteSize: 1}, nil
}

func (m *mockDeliveryChannel) Deliver(ctx context.Context, recipient, artifactRef string, meta repository.DeliveryMeta) error {
	if m.deliverFn != nil {
		if err := m.deliverFn(ctx, recipient, artifactRef, meta); err != nil {
			return err
		}
	}
	m.delivered.Add(1)
	return nil
}

func (m *mockDeliveryChannel) DeliverDirect(ctx context.Context, recipient, localPath string, meta repository.DeliveryMeta) error {
	if m.deliverDirectFn != nil {
		if err := m.deliverDirectFn(ctx, recipient, localPath, meta); err != nil {
			return err
		}
	}
	m.direct.Add(1)
	return nil
}
