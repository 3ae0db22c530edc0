package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/fetchbay/fetchbay/internal/domain/model"
	"github.com/fetchbay/fetchbay/internal/domain/repository"
	"github.com/fetchbay/fetchbay/internal/infrastructure/metrics"
)

// ResultCache is the durable mapping from fingerprints to previously
// delivered artifacts, with best-effort hit accounting.
type ResultCache interface {
	// Lookup returns the entry for the fingerprint, or nil on a miss.
	// A miss is not an error.
	Lookup(ctx context.Context, fp model.Fingerprint) (*model.CacheEntry, error)

	// Store persists an entry. A later Store for the same fingerprint
	// overwrites the earlier one (last write wins).
	Store(ctx context.Context, entry *model.CacheEntry) error

	// RecordHit bumps hit accounting for the fingerprint. Pure
	// telemetry; failures are logged and never returned.
	RecordHit(ctx context.Context, fp model.Fingerprint, requesterID string)

	// Stats returns approximate aggregates.
	Stats(ctx context.Context) (model.CacheStats, error)
}

type resultCache struct {
	repo repository.CacheRepository
}

// NewResultCache creates a ResultCache over the durable repository.
func NewResultCache(repo repository.CacheRepository) ResultCache {
	return &resultCache{repo: repo}
}

func (c *resultCache) Lookup(ctx context.Context, fp model.Fingerprint) (*model.CacheEntry, error) {
	entry, err := c.repo.Get(ctx, fp)
	if err != nil {
		if errors.Is(err, repository.ErrCacheEntryNotFound) {
			metrics.CacheOperationsTotal.WithLabelValues(metrics.CacheOpGet, metrics.CacheStatusMiss, metrics.CacheTypeResult).Inc()
			return nil, nil
		}
		metrics.CacheOperationsTotal.WithLabelValues(metrics.CacheOpGet, metrics.CacheStatusError, metrics.CacheTypeResult).Inc()
		return nil, fmt.Errorf("cache lookup: %w", err)
	}

	metrics.CacheOperationsTotal.WithLabelValues(metrics.CacheOpGet, metrics.CacheStatusHit, metrics.CacheTypeResult).Inc()
	return entry, nil
}

func (c *resultCache) Store(ctx context.Context, entry *model.CacheEntry) error {
	if err := c.repo.Set(ctx, entry); err != nil {
		metrics.CacheOperationsTotal.WithLabelValues(metrics.CacheOpSet, metrics.CacheStatusError, metrics.CacheTypeResult).Inc()
		return fmt.Errorf("cache store: %w", err)
	}

	metrics.CacheOperationsTotal.WithLabelValues(metrics.CacheOpSet, metrics.CacheStatusSuccess, metrics.CacheTypeResult).Inc()
	return nil
}

func (c *resultCache) RecordHit(ctx context.Context, fp model.Fingerprint, requesterID string) {
	if err := c.repo.RecordHit(ctx, fp, requesterID); err != nil {
		slog.Warn("failed to record cache hit",
			"fingerprint", fp.String(),
			"requester_id", requesterID,
			"error", err,
		)
	}
}

func (c *resultCache) Stats(ctx context.Context) (model.CacheStats, error) {
	stats, err := c.repo.Stats(ctx)
	if err != nil {
		return model.CacheStats{}, fmt.Errorf("cache stats: %w", err)
	}
	return stats, nil
}
