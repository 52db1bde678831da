// Package storage keeps rendered ebooks in PostgreSQL and hands out their
// public download references.
package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/oliveiratecnologia/kvnlaunchv2-sub001/internal/ebook"
	"github.com/oliveiratecnologia/kvnlaunchv2-sub001/shared/postgresql"
)

// ErrFileNotFound is returned when no file has the requested id
var ErrFileNotFound = errors.New("file not found")

const schema = `
CREATE TABLE IF NOT EXISTS ebook_files (
	file_id      TEXT PRIMARY KEY,
	request_id   TEXT NOT NULL UNIQUE,
	user_id      TEXT NOT NULL,
	file_name    TEXT NOT NULL,
	content_type TEXT NOT NULL,
	size         BIGINT NOT NULL,
	content      BYTEA NOT NULL,
	uploaded_at  TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_ebook_files_user_id ON ebook_files (user_id);
`

// File is a stored ebook with its content.
type File struct {
	FileID      string    `db:"file_id"`
	RequestID   string    `db:"request_id"`
	UserID      string    `db:"user_id"`
	FileName    string    `db:"file_name"`
	ContentType string    `db:"content_type"`
	Size        int64     `db:"size"`
	Content     []byte    `db:"content"`
	UploadedAt  time.Time `db:"uploaded_at"`
}

// Storage stores artifacts in the ebook_files table.
type Storage struct {
	client        *postgresql.Client
	publicBaseURL string
	logger        *slog.Logger
	now           func() time.Time
}

// NewStorage creates a storage writing through pg. Download URLs are built
// from publicBaseURL.
func NewStorage(pg *postgresql.Client, publicBaseURL string, logger *slog.Logger) *Storage {
	return &Storage{
		client:        pg,
		publicBaseURL: strings.TrimSuffix(publicBaseURL, "/"),
		logger:        logger,
		now:           time.Now,
	}
}

// EnsureSchema creates the ebook_files table when missing.
func (s *Storage) EnsureSchema(ctx context.Context) error {
	if err := s.client.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to create ebook_files schema: %w", err)
	}
	return nil
}

// FileURL returns the public download URL of a file.
func FileURL(baseURL, fileID string) string {
	return strings.TrimSuffix(baseURL, "/") + "/api/ebooks/files/" + fileID
}

// Upload implements pipeline.Uploader. Uploading the same request twice
// replaces the content and keeps the first file id, so a retried upload
// stage never leaves two files behind.
func (s *Storage) Upload(ctx context.Context, a *ebook.Artifact) (*ebook.StoredFile, error) {
	f := File{
		FileID:      uuid.NewString(),
		RequestID:   a.RequestID,
		UserID:      a.UserID,
		FileName:    a.FileName,
		ContentType: a.ContentType,
		Size:        int64(len(a.Content)),
		Content:     a.Content,
		UploadedAt:  s.now().UTC(),
	}

	query := `
		INSERT INTO ebook_files (
			file_id, request_id, user_id, file_name,
			content_type, size, content, uploaded_at
		) VALUES (
			$1, $2, $3, $4,
			$5, $6, $7, $8
		)
		ON CONFLICT (request_id) DO UPDATE SET
			file_name = EXCLUDED.file_name,
			content_type = EXCLUDED.content_type,
			size = EXCLUDED.size,
			content = EXCLUDED.content,
			uploaded_at = EXCLUDED.uploaded_at
		RETURNING file_id, uploaded_at
	`

	var stored struct {
		FileID     string    `db:"file_id"`
		UploadedAt time.Time `db:"uploaded_at"`
	}
	err := s.client.GetContext(ctx, &stored, query,
		f.FileID,
		f.RequestID,
		f.UserID,
		f.FileName,
		f.ContentType,
		f.Size,
		f.Content,
		f.UploadedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to store file: %w", err)
	}

	s.logger.Info("File stored",
		slog.String("file_id", stored.FileID),
		slog.String("request_id", f.RequestID),
		slog.Int64("size", f.Size),
	)

	return &ebook.StoredFile{
		FileID:      stored.FileID,
		FileName:    f.FileName,
		URL:         FileURL(s.publicBaseURL, stored.FileID),
		ContentType: f.ContentType,
		Size:        f.Size,
		UploadedAt:  stored.UploadedAt,
	}, nil
}

// Get returns a stored file with its content.
func (s *Storage) Get(ctx context.Context, fileID string) (*File, error) {
	var f File
	query := `
		SELECT
			file_id, request_id, user_id, file_name,
			content_type, size, content, uploaded_at
		FROM ebook_files
		WHERE file_id = $1
	`

	if err := s.client.GetContext(ctx, &f, query, fileID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrFileNotFound
		}
		return nil, fmt.Errorf("failed to get file: %w", err)
	}
	return &f, nil
}
