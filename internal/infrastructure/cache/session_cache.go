package cache

import (
	"context"

	"github.com/google/uuid"

	"github.com/fetchbay/fetchbay/internal/domain/model"
)

// SessionCache is the fast path in front of the durable session store.
// It is best effort and non-authoritative: a restart may silently lose
// it, and callers must fall back to the durable store without error.
// Implementations should handle serialization transparently.
type SessionCache interface {
	// Get retrieves a session from cache by ID.
	// Returns nil, nil if the session is not cached (cache miss).
	Get(ctx context.Context, id uuid.UUID) (*model.Session, error)

	// Set stores a session in cache. The cache keeps the session until
	// its ExpiresAt at most.
	Set(ctx context.Context, session *model.Session) error

	// Delete removes a session from cache by ID.
	// Returns nil if the session was not cached.
	Delete(ctx context.Context, id uuid.UUID) error
}
