package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/fetchbay/fetchbay/internal/domain/model"
	"github.com/fetchbay/fetchbay/internal/domain/repository"
)

// DBTX is an interface that abstracts pgxpool.Pool and pgx.Tx for testability.
type DBTX interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// metadataJSON is the stored representation of resolved metadata.
// Using an explicit struct avoids coupling to domain model field names.
type metadataJSON struct {
	ResourceID string           `json:"resource_id"`
	URL        string           `json:"url"`
	Title      string           `json:"title"`
	Uploader   string           `json:"uploader"`
	Duration   int64            `json:"duration_secs"`
	ViewCount  int64            `json:"view_count"`
	LikeCount  int64            `json:"like_count"`
	UploadDate string           `json:"upload_date,omitempty"`
	Thumbnail  string           `json:"thumbnail,omitempty"`
	Width      int              `json:"width,omitempty"`
	Height     int              `json:"height,omitempty"`
	Formats    []formatJSON     `json:"formats"`
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

// SessionRepository implements repository.SessionRepository using PostgreSQL.
type SessionRepository struct {
	db DBTX
}

// NewSessionRepository creates a new SessionRepository instance.
func NewSessionRepository(db DBTX) *SessionRepository {
	return &SessionRepository{db: db}
}

// Put persists a session; an existing ID is refreshed in place.
func (r *SessionRepository) Put(ctx context.Context, session *model.Session) error {
	const query = `
		INSERT INTO sessions (id, metadata, created_at, expires_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO UPDATE
		SET metadata = EXCLUDED.metadata,
		    created_at = EXCLUDED.created_at,
		    expires_at = EXCLUDED.expires_at
	`

	data, err := marshalMetadata(session.Metadata)
	if err != nil {
		return fmt.Errorf("serialize session metadata: %w", err)
	}

	_, err = r.db.Exec(ctx, query, session.ID, data, session.CreatedAt, session.ExpiresAt)
	if err != nil {
		return fmt.Errorf("failed to put session: %w", err)
	}

	return nil
}

// Get retrieves a session by ID.
func (r *SessionRepository) Get(ctx context.Context, id uuid.UUID) (*model.Session, error) {
	const query = `
		SELECT id, metadata, created_at, expires_at
		FROM sessions
		WHERE id = $1
	`

	var (
		session model.Session
		data    []byte
	)

	err := r.db.QueryRow(ctx, query, id).Scan(
		&session.ID,
		&data,
		&session.CreatedAt,
		&session.ExpiresAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrSessionNotFound
		}
		return nil, fmt.Errorf("failed to get session: %w", err)
	}

	metadata, err := unmarshalMetadata(data)
	if err != nil {
		return nil, fmt.Errorf("deserialize session metadata: %w", err)
	}
	session.Metadata = metadata

	return &session, nil
}

// Delete removes a session. Deleting an absent ID is not an error.
func (r *SessionRepository) Delete(ctx context.Context, id uuid.UUID) error {
	const query = `DELETE FROM sessions WHERE id = $1`

	if _, err := r.db.Exec(ctx, query, id); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}

	return nil
}

// DeleteExpired bulk-deletes expired sessions and returns the count
// removed. Row-level deletion; safe alongside concurrent reads/writes.
func (r *SessionRepository) DeleteExpired(ctx context.Context, before time.Time) (int64, error) {
	const query = `DELETE FROM sessions WHERE expires_at < $1`

	tag, err := r.db.Exec(ctx, query, before)
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired sessions: %w", err)
	}

	return tag.RowsAffected(), nil
}

func marshalMetadata(m model.VideoMetadata) ([]byte, error) {
	doc := metadataJSON{
		ResourceID: m.ResourceID,
		URL:        m.URL,
		Title:      m.Title,
		Uploader:   m.Uploader,
		Duration:   m.Duration,
		ViewCount:  m.ViewCount,
		LikeCount:  m.LikeCount,
		UploadDate: m.UploadDate,
		Thumbnail:  m.Thumbnail,
		Width:      m.Width,
		Height:     m.Height,
		Formats:    make([]formatJSON, 0, len(m.Formats)),
	}
	for _, f := range m.Formats {
		doc.Formats = append(doc.Formats, formatJSON{
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

func unmarshalMetadata(data []byte) (model.VideoMetadata, error) {
	var doc metadataJSON
	if err := json.Unmarshal(data, &doc); err != nil {
		return model.VideoMetadata{}, err
	}

	m := model.VideoMetadata{
		ResourceID: doc.ResourceID,
		URL:        doc.URL,
		Title:      doc.Title,
		Uploader:   doc.Uploader,
		Duration:   doc.Duration,
		ViewCount:  doc.ViewCount,
		LikeCount:  doc.LikeCount,
		UploadDate: doc.UploadDate,
		Thumbnail:  doc.Thumbnail,
		Width:      doc.Width,
		Height:     doc.Height,
		Formats:    make([]model.FormatCandidate, 0, len(doc.Formats)),
	}
	for _, f := range doc.Formats {
		m.Formats = append(m.Formats, model.FormatCandidate{
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
	return m, nil
}

// Compile-time verification that SessionRepository implements repository.SessionRepository.
var _ repository.SessionRepository = (*SessionRepository)(nil)
