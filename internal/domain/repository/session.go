package repository

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/fetchbay/fetchbay/internal/domain/model"
)

// SessionRepository is the durable, authoritative store for sessions.
// Implementations should be provided by the infrastructure layer (e.g., PostgreSQL).
type SessionRepository interface {
	// Put persists a session. Writing an existing ID is allowed and is
	// treated as a refresh.
	Put(ctx context.Context, session *model.Session) error

	// Get retrieves a session by ID. Returns ErrSessionNotFound if the
	// session does not exist. Expiry is enforced by the caller; the
	// repository returns whatever is stored.
	Get(ctx context.Context, id uuid.UUID) (*model.Session, error)

	// Delete removes a session. Deleting an absent ID is not an error.
	Delete(ctx context.Context, id uuid.UUID) error

	// DeleteExpired bulk-deletes all sessions with expires_at before the
	// given instant and returns the number removed. Safe to run
	// concurrently with reads and writes.
	DeleteExpired(ctx context.Context, before time.Time) (int64, error)
}
