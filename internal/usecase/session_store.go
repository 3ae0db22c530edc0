package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/fetchbay/fetchbay/internal/domain/model"
	"github.com/fetchbay/fetchbay/internal/domain/repository"
	"github.com/fetchbay/fetchbay/internal/infrastructure/cache"
	"github.com/fetchbay/fetchbay/internal/infrastructure/metrics"
)

// SessionStore persists resolved metadata for the selection window.
// A fast-path cache fronts the durable repository; the cache is never
// authoritative and a restart falls back to the repository silently.
type SessionStore interface {
	// Put creates a session for the metadata and persists it.
	Put(ctx context.Context, metadata model.VideoMetadata) (*model.Session, error)

	// Get returns an unexpired session or repository.ErrSessionNotFound.
	// An expired session is deleted as a side effect of the lookup.
	Get(ctx context.Context, id uuid.UUID) (*model.Session, error)

	// Delete removes a session. Idempotent.
	Delete(ctx context.Context, id uuid.UUID) error

	// Sweep bulk-deletes all sessions expired before now and returns the
	// number removed.
	Sweep(ctx context.Context, now time.Time) (int64, error)
}

type sessionStore struct {
	repo  repository.SessionRepository
	cache cache.SessionCache
}

// NewSessionStore creates a SessionStore over the durable repository and
// the fast-path cache.
func NewSessionStore(repo repository.SessionRepository, sessionCache cache.SessionCache) SessionStore {
	return &sessionStore{
		repo:  repo,
		cache: sessionCache,
	}
}

// Put persists a new session durably and writes through to the cache.
func (s *sessionStore) Put(ctx context.Context, metadata model.VideoMetadata) (*model.Session, error) {
	session, err := model.NewSession(metadata)
	if err != nil {
		return nil, err
	}

	if err := s.repo.Put(ctx, session); err != nil {
		return nil, fmt.Errorf("persist session: %w", err)
	}

	if err := s.cache.Set(ctx, session); err != nil {
		// Cache write failure is non-fatal; the durable copy is authoritative.
		slog.Warn("failed to cache session",
			"session_id", session.ID,
			"error", err,
		)
	}

	return session, nil
}

// Get implements the cache-aside read path with expiry enforcement.
// Expired sessions are deleted and reported as not found; expired data
// must never be returned.
func (s *sessionStore) Get(ctx context.Context, id uuid.UUID) (*model.Session, error) {
	session, err := s.cache.Get(ctx, id)
	if err != nil {
		slog.Warn("session cache get failed, falling back to durable store",
			"session_id", id,
			"error", err,
		)
	}

	fromCache := session != nil
	if fromCache {
		metrics.CacheOperationsTotal.WithLabelValues(metrics.CacheOpGet, metrics.CacheStatusHit, metrics.CacheTypeSession).Inc()
	} else {
		metrics.CacheOperationsTotal.WithLabelValues(metrics.CacheOpGet, metrics.CacheStatusMiss, metrics.CacheTypeSession).Inc()

		session, err = s.repo.Get(ctx, id)
		if err != nil {
			if errors.Is(err, repository.ErrSessionNotFound) {
				return nil, repository.ErrSessionNotFound
			}
			return nil, fmt.Errorf("get session: %w", err)
		}
	}

	if session.Expired(time.Now()) {
		if err := s.Delete(ctx, id); err != nil {
			slog.Warn("failed to delete expired session",
				"session_id", id,
				"error", err,
			)
		}
		return nil, repository.ErrSessionNotFound
	}

	// Repopulate the cache on a durable hit so later lookups skip the
	// round trip.
	if !fromCache {
		if err := s.cache.Set(ctx, session); err != nil {
			slog.Warn("failed to repopulate session cache",
				"session_id", id,
				"error", err,
			)
		}
	}

	return session, nil
}

// Delete removes the session from both tiers. Deleting an absent ID is
// not an error.
func (s *sessionStore) Delete(ctx context.Context, id uuid.UUID) error {
	if err := s.cache.Delete(ctx, id); err != nil {
		slog.Warn("failed to delete session from cache",
			"session_id", id,
			"error", err,
		)
	}

	if err := s.repo.Delete(ctx, id); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}

	return nil
}

// Sweep removes all durably stored sessions that expired before now.
// Cached copies expire on their own TTL (redis) or on read (memory).
func (s *sessionStore) Sweep(ctx context.Context, now time.Time) (int64, error) {
	count, err := s.repo.DeleteExpired(ctx, now)
	if err != nil {
		return 0, fmt.Errorf("sweep sessions: %w", err)
	}
	return count, nil
}
