package repository

import (
	"context"

	"github.com/fetchbay/fetchbay/internal/domain/model"
)

// CacheRepository is the durable result cache mapping fingerprints to
// previously delivered artifacts.
// Implementations should be provided by the infrastructure layer (e.g., PostgreSQL).
type CacheRepository interface {
	// Get returns the entry for the fingerprint, or ErrCacheEntryNotFound
	// on a miss. Freshness of the artifact reference is not checked here.
	Get(ctx context.Context, fp model.Fingerprint) (*model.CacheEntry, error)

	// Set persists an entry. A second Set for the same fingerprint
	// overwrites the previous entry (last write wins); conflicting writes
	// are serialized by the storage layer, not in application code.
	Set(ctx context.Context, entry *model.CacheEntry) error

	// RecordHit increments the hit count and refreshes the last-hit
	// timestamp for the fingerprint. Pure telemetry; callers treat a
	// failure as non-fatal.
	RecordHit(ctx context.Context, fp model.Fingerprint, requesterID string) error

	// Delete administratively removes an entry. Removing an absent
	// fingerprint is not an error.
	Delete(ctx context.Context, fp model.Fingerprint) error

	// Stats returns approximate aggregate counts for observability.
	Stats(ctx context.Context) (model.CacheStats, error)
}
