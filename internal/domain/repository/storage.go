package repository

import (
	"context"
	"io"
	"time"
)

// ObjectStorage defines the interface for archive storage operations.
// Implementations should be provided by the infrastructure layer (e.g., MinIO, S3).
type ObjectStorage interface {
	// Upload stores an object under the given key.
	Upload(ctx context.Context, key string, reader io.Reader, size int64, contentType string) error

	// GeneratePresignedDownloadURL creates a presigned URL for downloading
	// an object. The URL is valid for the specified duration.
	GeneratePresignedDownloadURL(ctx context.Context, key string, expiry time.Duration) (string, error)

	// Exists checks if an object exists in the storage.
	Exists(ctx context.Context, key string) (bool, error)

	// Delete removes an object from the storage.
	Delete(ctx context.Context, key string) error
}
