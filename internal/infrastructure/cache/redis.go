package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/fetchbay/fetchbay/internal/domain/model"
)

const (
	// sessionKeyPrefix is the prefix for session cache keys in Redis.
	sessionKeyPrefix = "session:"
)

// sessionJSON is the JSON representation of a Session for caching.
// Using an explicit struct avoids coupling to domain model JSON tags.
type sessionJSON struct {
	ID        string       `json:"id"`
	Metadata  metadataJSON `json:"metadata"`
	CreatedAt string       `json:"created_at"`
	ExpiresAt string       `json:"expires_at"`
}

type metadataJSON struct {
	ResourceID string       `json:"resource_id"`
	URL        string       `json:"url"`
	Title      string       `json:"title"`
	Uploader   string       `json:"uploader"`
	Duration   int64        `json:"duration_secs"`
	ViewCount  int64        `json:"view_count"`
	LikeCount  int64        `json:"like_count"`
	UploadDate string       `json:"upload_date,omitempty"`
	Thumbnail  string       `json:"thumbnail,omitempty"`
	Width      int          `json:"width,omitempty"`
	Height     int          `json:"height,omitempty"`
	Formats    []formatJSON `json:"formats"`
}

type formatJSON struct {
	FormatID    string `json:"format_id"`
	Ext         string `json:"ext"`
	Rendition   string `json:"rendition"`
	Size        int64  `json:"size"`
	Height      int    `json:"height,omitempty"`
	QualityRank int    `json:"quality_rank"`
	HasAudio    bool   `json:"has_audio"`
	Codec       string `json:"codec,omitempty"`
}

// RedisSessionCache implements SessionCache using Redis as the backing store.
type RedisSessionCache struct {
	client *redis.Client
}

// NewRedisSessionCache creates a new Redis-backed session cache.
func NewRedisSessionCache(client *redis.Client) *RedisSessionCache {
	return &RedisSessionCache{
		client: client,
	}
}

// Get retrieves a session from Redis cache.
// Returns nil, nil on cache miss.
func (c *RedisSessionCache) Get(ctx context.Context, id uuid.UUID) (*model.Session, error) {
	key := c.buildKey(id)

	data, err := c.client.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil // Cache miss
		}
		return nil, fmt.Errorf("redis get: %w", err)
	}

	session, err := c.deserialize(data)
	if err != nil {
		return nil, fmt.Errorf("deserialize session: %w", err)
	}

	return session, nil
}

// Set stores a session with a TTL bounded by the session's expiry, so
// redis never serves a session the durable store has already let lapse.
func (c *RedisSessionCache) Set(ctx context.Context, session *model.Session) error {
	ttl := time.Until(session.ExpiresAt)
	if ttl <= 0 {
		return nil // Already expired; nothing to cache.
	}

	data, err := c.serialize(session)
	if err != nil {
		return fmt.Errorf("serialize session: %w", err)
	}

	if err := c.client.Set(ctx, c.buildKey(session.ID), data, ttl).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}

	return nil
}

// Delete removes a session from Redis cache.
func (c *RedisSessionCache) Delete(ctx context.Context, id uuid.UUID) error {
	if err := c.client.Del(ctx, c.buildKey(id)).Err(); err != nil {
		return fmt.Errorf("redis del: %w", err)
	}

	return nil
}

// buildKey constructs the Redis key for a session.
func (c *RedisSessionCache) buildKey(id uuid.UUID) string {
	return sessionKeyPrefix + id.String()
}

func (c *RedisSessionCache) serialize(session *model.Session) ([]byte, error) {
	doc := sessionJSON{
		ID:        session.ID.String(),
		CreatedAt: session.CreatedAt.Format(time.RFC3339Nano),
		ExpiresAt: session.ExpiresAt.Format(time.RFC3339Nano),
		Metadata: metadataJSON{
			ResourceID: session.Metadata.ResourceID,
			URL:        session.Metadata.URL,
			Title:      session.Metadata.Title,
			Uploader:   session.Metadata.Uploader,
			Duration:   session.Metadata.Duration,
			ViewCount:  session.Metadata.ViewCount,
			LikeCount:  session.Metadata.LikeCount,
			UploadDate: session.Metadata.UploadDate,
			Thumbnail:  session.Metadata.Thumbnail,
			Width:      session.Metadata.Width,
			Height:     session.Metadata.Height,
		},
	}
	for _, f := range session.Metadata.Formats {
		doc.Metadata.Formats = append(doc.Metadata.Formats, formatJSON{
			FormatID:    f.FormatID,
			Ext:         f.Ext,
			Rendition:   f.Rendition,
			Size:        f.Size,
			Height:      f.Height,
			QualityRank: f.QualityRank,
			HasAudio:    f.HasAudio,
			Codec:       f.Codec,
		})
	}
	return json.Marshal(doc)
}

func (c *RedisSessionCache) deserialize(data []byte) (*model.Session, error) {
	var doc sessionJSON
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, err
	}

	id, err := uuid.Parse(doc.ID)
	if err != nil {
		return nil, fmt.Errorf("parse session ID: %w", err)
	}

	createdAt, err := time.Parse(time.RFC3339Nano, doc.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("parse created_at: %w", err)
	}

	expiresAt, err := time.Parse(time.RFC3339Nano, doc.ExpiresAt)
	if err != nil {
		return nil, fmt.Errorf("parse expires_at: %w", err)
	}

	session := &model.Session{
		ID:        id,
		CreatedAt: createdAt,
		ExpiresAt: expiresAt,
		Metadata: model.VideoMetadata{
			ResourceID: doc.Metadata.ResourceID,
			URL:        doc.Metadata.URL,
			Title:      doc.Metadata.Title,
			Uploader:   doc.Metadata.Uploader,
			Duration:   doc.Metadata.Duration,
			ViewCount:  doc.Metadata.ViewCount,
			LikeCount:  doc.Metadata.LikeCount,
			UploadDate: doc.Metadata.UploadDate,
			Thumbnail:  doc.Metadata.Thumbnail,
			Width:      doc.Metadata.Width,
			Height:     doc.Metadata.Height,
		},
	}
	for _, f := range doc.Metadata.Formats {
		session.Metadata.Formats = append(session.Metadata.Formats, model.FormatCandidate{
			FormatID:    f.FormatID,
			Ext:         f.Ext,
			Rendition:   f.Rendition,
			Size:        f.Size,
			Height:      f.Height,
			QualityRank: f.QualityRank,
			HasAudio:    f.HasAudio,
			Codec:       f.Codec,
		})
	}

	return session, nil
}

// Compile-time verification that RedisSessionCache implements SessionCache.
var _ SessionCache = (*RedisSessionCache)(nil)
