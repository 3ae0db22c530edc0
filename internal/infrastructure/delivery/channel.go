package delivery

import (
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/fetchbay/fetchbay/internal/domain/model"
	"github.com/fetchbay/fetchbay/internal/domain/repository"
)

const (
	archivePrefix = "archive/"
	directPrefix  = "direct/"

	// DefaultURLExpiry bounds how long a delivered presigned link stays
	// valid. Redeliveries of cached artifacts mint a fresh link each time.
	DefaultURLExpiry = 24 * time.Hour
)

// Channel archives fetched artifacts in object storage and notifies the
// messaging front-end over the event bus. The object key doubles as the
// durable artifact reference persisted by the result cache.
type Channel struct {
	storage   repository.ObjectStorage
	events    repository.EventPublisher
	urlExpiry time.Duration
}

// NewChannel creates a delivery channel backed by object storage and an
// event publisher. A non-positive urlExpiry falls back to DefaultURLExpiry.
func NewChannel(storage repository.ObjectStorage, events repository.EventPublisher, urlExpiry time.Duration) *Channel {
	if urlExpiry <= 0 {
		urlExpiry = DefaultURLExpiry
	}
	return &Channel{
		storage:   storage,
		events:    events,
		urlExpiry: urlExpiry,
	}
}

// Archive uploads a local artifact under the archive prefix and returns
// the object key as the durable reference.
func (c *Channel) Archive(ctx context.Context, localPath string, meta repository.DeliveryMeta) (repository.ArchiveResult, error) {
	f, err := os.Open(localPath)
	if err != nil {
		return repository.ArchiveResult{}, fmt.Errorf("failed to open artifact: %w", err)
	}
	defer f.Close()

	stat, err := f.Stat()
	if err != nil {
		return repository.ArchiveResult{}, fmt.Errorf("failed to stat artifact: %w", err)
	}

	messageID := uuid.New().String()
	key := archivePrefix + messageID + "/" + filepath.Base(localPath)

	if err := c.storage.Upload(ctx, key, f, stat.Size(), contentTypeFor(localPath, meta.Kind)); err != nil {
		return repository.ArchiveResult{}, fmt.Errorf("failed to archive artifact: %w", err)
	}

	return repository.ArchiveResult{
		ArtifactRef: key,
		MessageID:   messageID,
		ByteSize:    stat.Size(),
	}, nil
}

// Deliver publishes a delivery event for a previously archived artifact.
// Returns repository.ErrArtifactGone when the archived object no longer
// exists, so the caller can fall back to a fresh fetch.
func (c *Channel) Deliver(ctx context.Context, recipient string, artifactRef string, meta repository.DeliveryMeta) error {
	exists, err := c.storage.Exists(ctx, artifactRef)
	if err != nil {
		return fmt.Errorf("failed to check artifact: %w", err)
	}
	if !exists {
		return fmt.Errorf("%w: %s", repository.ErrArtifactGone, artifactRef)
	}

	url, err := c.storage.GeneratePresignedDownloadURL(ctx, artifactRef, c.urlExpiry)
	if err != nil {
		return fmt.Errorf("failed to presign artifact URL: %w", err)
	}

	event := c.buildEvent(recipient, url, meta)
	if err := c.events.PublishDelivery(ctx, event); err != nil {
		return fmt.Errorf("failed to publish delivery event: %w", err)
	}

	return nil
}

// DeliverDirect uploads a local artifact under the transient direct
// prefix and publishes a delivery event marked Direct. Direct objects are
// not referenced by the result cache and may be swept at any time after
// the presigned link expires.
func (c *Channel) DeliverDirect(ctx context.Context, recipient string, localPath string, meta repository.DeliveryMeta) error {
	f, err := os.Open(localPath)
	if err != nil {
		return fmt.Errorf("failed to open artifact: %w", err)
	}
	defer f.Close()

	stat, err := f.Stat()
	if err != nil {
		return fmt.Errorf("failed to stat artifact: %w", err)
	}

	key := directPrefix + uuid.New().String() + "/" + filepath.Base(localPath)
	if err := c.storage.Upload(ctx, key, f, stat.Size(), contentTypeFor(localPath, meta.Kind)); err != nil {
		return fmt.Errorf("failed to upload artifact: %w", err)
	}

	url, err := c.storage.GeneratePresignedDownloadURL(ctx, key, c.urlExpiry)
	if err != nil {
		return fmt.Errorf("failed to presign artifact URL: %w", err)
	}

	event := c.buildEvent(recipient, url, meta)
	event.Direct = true
	if err := c.events.PublishDelivery(ctx, event); err != nil {
		return fmt.Errorf("failed to publish delivery event: %w", err)
	}

	return nil
}

func (c *Channel) buildEvent(recipient, url string, meta repository.DeliveryMeta) repository.DeliveryEvent {
	return repository.DeliveryEvent{
		EventID:   uuid.New().String(),
		Recipient: recipient,
		URL:       url,
		Caption:   meta.Caption,
		Kind:      meta.Kind.String(),
		Duration:  meta.Duration,
		Width:     meta.Width,
		Height:    meta.Height,
		Thumbnail: meta.Thumbnail,
		Streaming: meta.Streaming,
	}
}

func contentTypeFor(localPath string, kind model.MediaKind) string {
	switch strings.ToLower(path.Ext(filepath.Base(localPath))) {
	case ".mp4":
		return "video/mp4"
	case ".m4a":
		return "audio/mp4"
	case ".webm":
		return "video/webm"
	case ".mp3":
		return "audio/mpeg"
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".png":
		return "image/png"
	}
	if kind == model.KindAudio {
		return "audio/mp4"
	}
	return "video/mp4"
}

// Compile-time verification that Channel implements DeliveryChannel.
var _ repository.DeliveryChannel = (*Channel)(nil)
