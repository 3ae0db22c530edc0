package repository

import (
	"context"

	"github.com/fetchbay/fetchbay/internal/domain/model"
)

// DeliveryMeta carries the presentation attributes the delivery channel
// needs alongside an artifact: caption, declared duration and dimensions,
// thumbnail reference and whether the artifact supports progressive
// playback (streaming-capable flag).
type DeliveryMeta struct {
	Caption   string
	Kind      model.MediaKind
	Duration  int64 // seconds
	Width     int
	Height    int
	Thumbnail string
	Streaming bool
}

// ArchiveResult is the durable outcome of archiving an artifact.
type ArchiveResult struct {
	// ArtifactRef is the reusable reference persisted in the result cache.
	ArtifactRef string
	// MessageID identifies the archive record on the channel side.
	MessageID string
	// ByteSize is the archived artifact size.
	ByteSize int64
}

// DeliveryChannel abstracts the external platform that archives artifacts
// and delivers them to requesters. The wire protocol is out of scope; this
// is the contract the pipeline requires.
type DeliveryChannel interface {
	// Archive uploads a local artifact to the channel's archive location
	// and returns a durable reference for reuse.
	Archive(ctx context.Context, localPath string, meta DeliveryMeta) (ArchiveResult, error)

	// Deliver sends a previously archived artifact to a recipient.
	// Returns ErrArtifactGone if the reference no longer resolves, in
	// which case the caller should fall back to a fresh fetch.
	Deliver(ctx context.Context, recipient string, artifactRef string, meta DeliveryMeta) error

	// DeliverDirect sends a local artifact to a recipient without going
	// through the archive. Used as a best-effort fallback when archiving
	// failed but the fetched file is still on disk.
	DeliverDirect(ctx context.Context, recipient string, localPath string, meta DeliveryMeta) error
}
