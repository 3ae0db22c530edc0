package model

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// SessionTTL is how long a resolved session stays valid.
const SessionTTL = 7 * 24 * time.Hour

// Session binds resolved metadata to an opaque token so a later quality
// selection can refer back to it. Lifetime is owned jointly by the
// fast-path cache (best effort) and the persistent store (authoritative).
type Session struct {
	ID        uuid.UUID
	Metadata  VideoMetadata
	CreatedAt time.Time
	ExpiresAt time.Time
}

var ErrNilMetadata = errors.New("session metadata cannot be empty")

// NewSession creates a session for freshly resolved metadata with
// ExpiresAt = CreatedAt + SessionTTL.
func NewSession(metadata VideoMetadata) (*Session, error) {
	if metadata.ResourceID == "" {
		return nil, ErrEmptyResourceID
	}

	now := time.Now().UTC()
	return &Session{
		ID:        uuid.New(),
		Metadata:  metadata,
		CreatedAt: now,
		ExpiresAt: now.Add(SessionTTL),
	}, nil
}

// Expired reports whether the session is past its expiry at the given instant.
func (s *Session) Expired(now time.Time) bool {
	return now.After(s.ExpiresAt)
}
