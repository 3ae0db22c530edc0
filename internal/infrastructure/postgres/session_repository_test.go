package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/pashagolub/pgxmock/v4"

	"github.com/fetchbay/fetchbay/internal/domain/model"
	"github.com/fetchbay/fetchbay/internal/domain/repository"
)

func testSession(t *testing.T) *model.Session {
	t.Helper()

	s, err := model.NewSession(model.VideoMetadata{
		ResourceID: "abc123",
		URL:        "https://example.com/watch?v=abc123",
		Title:      "Test Video",
		Uploader:   "Tester",
		Duration:   120,
		Formats: []model.FormatCandidate{
			{FormatID: "137", Ext: "mp4", Rendition: "1080p", Size: 50_000_000, Height: 1080, QualityRank: 1080, Codec: "avc1.640028"},
			{FormatID: "140", Ext: "m4a", Rendition: model.AudioRendition, Size: 10_000_000, HasAudio: true, Codec: "mp4a.40.2"},
		},
	})
	if err != nil {
		t.Fatalf("NewSession() error = %v", err)
	}
	return s
}

func TestSessionRepository_Put(t *testing.T) {
	session := testSession(t)

	tests := []struct {
		name    string
		mockFn  func(mock pgxmock.PgxPoolIface)
		wantErr bool
	}{
		{
			name: "successful upsert",
			mockFn: func(mock pgxmock.PgxPoolIface) {
				mock.ExpectExec("INSERT INTO sessions").
					WithArgs(session.ID, pgxmock.AnyArg(), session.CreatedAt, session.ExpiresAt).
					WillReturnResult(pgxmock.NewResult("INSERT", 1))
			},
		},
		{
			name: "database error",
			mockFn: func(mock pgxmock.PgxPoolIface) {
				mock.ExpectExec("INSERT INTO sessions").
					WithArgs(session.ID, pgxmock.AnyArg(), session.CreatedAt, session.ExpiresAt).
					WillReturnError(errors.New("connection refused"))
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mock, err := pgxmock.NewPool()
			if err != nil {
				t.Fatalf("failed to create mock: %v", err)
			}
			defer mock.Close()

			tt.mockFn(mock)

			repo := NewSessionRepository(mock)
			err = repo.Put(context.Background(), session)

			if tt.wantErr && err == nil {
				t.Error("Put() expected error, got nil")
			}
			if !tt.wantErr && err != nil {
				t.Errorf("Put() unexpected error = %v", err)
			}

			if err := mock.ExpectationsWereMet(); err != nil {
				t.Errorf("unfulfilled expectations: %v", err)
			}
		})
	}
}

func TestSessionRepository_Get(t *testing.T) {
	session := testSession(t)

	data, err := marshalMetadata(session.Metadata)
	if err != nil {
		t.Fatalf("marshalMetadata() error = %v", err)
	}

	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("failed to create mock: %v", err)
	}
	defer mock.Close()

	rows := pgxmock.NewRows([]string{"id", "metadata", "created_at", "expires_at"}).
		AddRow(session.ID, data, session.CreatedAt, session.ExpiresAt)
	mock.ExpectQuery("SELECT (.+) FROM sessions").
		WithArgs(session.ID).
		WillReturnRows(rows)

	repo := NewSessionRepository(mock)
	got, err := repo.Get(context.Background(), session.ID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}

	if got.ID != session.ID {
		t.Errorf("Get() ID = %v, want %v", got.ID, session.ID)
	}
	if got.Metadata.ResourceID != session.Metadata.ResourceID {
		t.Errorf("Get() resource = %v, want %v", got.Metadata.ResourceID, session.Metadata.ResourceID)
	}
	if len(got.Metadata.Formats) != 2 {
		t.Fatalf("Get() formats = %d, want 2", len(got.Metadata.Formats))
	}
	if got.Metadata.Formats[0].Rendition != "1080p" {
		t.Errorf("first format rendition = %q, want 1080p", got.Metadata.Formats[0].Rendition)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

func TestSessionRepository_Get_NotFound(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("failed to create mock: %v", err)
	}
	defer mock.Close()

	id := uuid.New()
	mock.ExpectQuery("SELECT (.+) FROM sessions").
		WithArgs(id).
		WillReturnRows(pgxmock.NewRows([]string{"id", "metadata", "created_at", "expires_at"}))

	repo := NewSessionRepository(mock)
	_, err = repo.Get(context.Background(), id)
	if !errors.Is(err, repository.ErrSessionNotFound) {
		t.Errorf("Get() error = %v, want ErrSessionNotFound", err)
	}
}

func TestSessionRepository_Delete(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("failed to create mock: %v", err)
	}
	defer mock.Close()

	id := uuid.New()

	// Deleting an absent session affects zero rows and is not an error.
	mock.ExpectExec("DELETE FROM sessions").
		WithArgs(id).
		WillReturnResult(pgxmock.NewResult("DELETE", 0))

	repo := NewSessionRepository(mock)
	if err := repo.Delete(context.Background(), id); err != nil {
		t.Errorf("Delete() error = %v, want nil for absent ID", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

func TestSessionRepository_DeleteExpired(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("failed to create mock: %v", err)
	}
	defer mock.Close()

	now := time.Now()
	mock.ExpectExec("DELETE FROM sessions").
		WithArgs(now).
		WillReturnResult(pgxmock.NewResult("DELETE", 7))

	repo := NewSessionRepository(mock)
	removed, err := repo.DeleteExpired(context.Background(), now)
	if err != nil {
		t.Fatalf("DeleteExpired() error = %v", err)
	}
	if removed != 7 {
		t.Errorf("DeleteExpired() = %d, want 7", removed)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

func TestMetadataRoundTrip(t *testing.T) {
	session := testSession(t)

	data, err := marshalMetadata(session.Metadata)
	if err != nil {
		t.Fatalf("marshalMetadata() error = %v", err)
	}

	got, err := unmarshalMetadata(data)
	if err != nil {
		t.Fatalf("unmarshalMetadata() error = %v", err)
	}

	if got.ResourceID != session.Metadata.ResourceID || got.Title != session.Metadata.Title {
		t.Errorf("round trip lost fields: %+v", got)
	}
	if len(got.Formats) != len(session.Metadata.Formats) {
		t.Fatalf("round trip formats = %d, want %d", len(got.Formats), len(session.Metadata.Formats))
	}
	if got.Formats[1].Rendition != model.AudioRendition || !got.Formats[1].HasAudio {
		t.Errorf("audio candidate mangled: %+v", got.Formats[1])
	}
}
