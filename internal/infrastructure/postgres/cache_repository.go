package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/fetchbay/fetchbay/internal/domain/model"
	"github.com/fetchbay/fetchbay/internal/domain/repository"
)

// CacheRepository implements repository.CacheRepository using PostgreSQL.
// The composite primary key (resource_id, format_id, rendition)
// serializes conflicting writes at the storage layer.
type CacheRepository struct {
	db DBTX
}

// NewCacheRepository creates a new CacheRepository instance.
func NewCacheRepository(db DBTX) *CacheRepository {
	return &CacheRepository{db: db}
}

// Get returns the entry for a fingerprint.
func (r *CacheRepository) Get(ctx context.Context, fp model.Fingerprint) (*model.CacheEntry, error) {
	const query = `
		SELECT resource_id, format_id, rendition, artifact_ref, archive_message_id,
		       byte_size, kind, created_by, title, uploader, duration_secs,
		       hit_count, created_at, last_hit_at
		FROM cache_entries
		WHERE resource_id = $1 AND format_id = $2 AND rendition = $3
	`

	var (
		entry model.CacheEntry
		kind  string
	)

	err := r.db.QueryRow(ctx, query, fp.ResourceID, fp.FormatID, fp.Rendition).Scan(
		&entry.Fingerprint.ResourceID,
		&entry.Fingerprint.FormatID,
		&entry.Fingerprint.Rendition,
		&entry.ArtifactRef,
		&entry.ArchiveMessageID,
		&entry.ByteSize,
		&kind,
		&entry.CreatedBy,
		&entry.Title,
		&entry.Uploader,
		&entry.Duration,
		&entry.HitCount,
		&entry.CreatedAt,
		&entry.LastHitAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrCacheEntryNotFound
		}
		return nil, fmt.Errorf("failed to get cache entry: %w", err)
	}

	entry.Kind = model.MediaKind(kind)
	return &entry, nil
}

// Set persists an entry. A repeat Set for the same fingerprint
// overwrites the previous entry: last write wins.
func (r *CacheRepository) Set(ctx context.Context, entry *model.CacheEntry) error {
	const query = `
		INSERT INTO cache_entries (resource_id, format_id, rendition, artifact_ref,
			archive_message_id, byte_size, kind, created_by, title, uploader,
			duration_secs, hit_count, created_at, last_hit_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		ON CONFLICT (resource_id, format_id, rendition) DO UPDATE
		SET artifact_ref = EXCLUDED.artifact_ref,
		    archive_message_id = EXCLUDED.archive_message_id,
		    byte_size = EXCLUDED.byte_size,
		    kind = EXCLUDED.kind,
		    created_by = EXCLUDED.created_by,
		    title = EXCLUDED.title,
		    uploader = EXCLUDED.uploader,
		    duration_secs = EXCLUDED.duration_secs,
		    created_at = EXCLUDED.created_at
	`

	_, err := r.db.Exec(ctx, query,
		entry.Fingerprint.ResourceID,
		entry.Fingerprint.FormatID,
		entry.Fingerprint.Rendition,
		entry.ArtifactRef,
		entry.ArchiveMessageID,
		entry.ByteSize,
		entry.Kind.String(),
		entry.CreatedBy,
		entry.Title,
		entry.Uploader,
		entry.Duration,
		entry.HitCount,
		entry.CreatedAt,
		entry.LastHitAt,
	)
	if err != nil {
		return fmt.Errorf("failed to set cache entry: %w", err)
	}

	return nil
}

// RecordHit increments hit bookkeeping for the fingerprint. The
// requester is not persisted; it is carried for caller-side logging.
func (r *CacheRepository) RecordHit(ctx context.Context, fp model.Fingerprint, requesterID string) error {
	const query = `
		UPDATE cache_entries
		SET hit_count = hit_count + 1, last_hit_at = $4
		WHERE resource_id = $1 AND format_id = $2 AND rendition = $3
	`

	tag, err := r.db.Exec(ctx, query, fp.ResourceID, fp.FormatID, fp.Rendition, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to record cache hit: %w", err)
	}

	if tag.RowsAffected() == 0 {
		return repository.ErrCacheEntryNotFound
	}

	return nil
}

// Delete administratively removes an entry; absent fingerprints are a no-op.
func (r *CacheRepository) Delete(ctx context.Context, fp model.Fingerprint) error {
	const query = `
		DELETE FROM cache_entries
		WHERE resource_id = $1 AND format_id = $2 AND rendition = $3
	`

	if _, err := r.db.Exec(ctx, query, fp.ResourceID, fp.FormatID, fp.Rendition); err != nil {
		return fmt.Errorf("failed to delete cache entry: %w", err)
	}

	return nil
}

// Stats returns aggregate counts. Approximate under concurrent writes,
// which is acceptable for observability.
func (r *CacheRepository) Stats(ctx context.Context) (model.CacheStats, error) {
	const query = `
		SELECT COUNT(*), COALESCE(SUM(hit_count), 0), COALESCE(SUM(byte_size), 0)
		FROM cache_entries
	`

	var stats model.CacheStats
	err := r.db.QueryRow(ctx, query).Scan(&stats.TotalEntries, &stats.TotalHits, &stats.TotalBytes)
	if err != nil {
		return model.CacheStats{}, fmt.Errorf("failed to query cache stats: %w", err)
	}

	return stats, nil
}

// Compile-time verification that CacheRepository implements repository.CacheRepository.
var _ repository.CacheRepository = (*CacheRepository)(nil)
