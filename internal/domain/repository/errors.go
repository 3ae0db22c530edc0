package repository

import "errors"

var (
	// ErrSessionNotFound is returned when a session is absent or expired.
	ErrSessionNotFound = errors.New("session not found")

	// ErrCacheEntryNotFound is returned on a result cache miss.
	ErrCacheEntryNotFound = errors.New("cache entry not found")

	// ErrObjectNotFound is returned when a storage object does not exist.
	ErrObjectNotFound = errors.New("object not found")

	// ErrBucketNotFound is returned when the configured bucket does not exist.
	ErrBucketNotFound = errors.New("bucket not found")

	// ErrArtifactGone is returned by the delivery channel when a previously
	// archived artifact reference no longer resolves. Callers fall back to a
	// fresh fetch instead of failing the request.
	ErrArtifactGone = errors.New("archived artifact no longer available")
)
