package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/hyperjump/readmatrix/internal/models"
)

const fileColumns = `path, hash, mtime, status, source_type, COALESCE(book_id, ''), COALESCE(last_error, ''), updated_at`

// GetFile returns the record for path, or an error wrapping models.ErrNotFound.
func (s *SQLiteStorage) GetFile(ctx context.Context, path string) (*models.FileRecord, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+fileColumns+` FROM files WHERE path = ?`, path)
	rec, err := scanFile(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("file %s: %w", path, models.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get file: %w", err)
	}
	return rec, nil
}

// ListFiles returns all file records ordered by path.
func (s *SQLiteStorage) ListFiles(ctx context.Context) ([]*models.FileRecord, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+fileColumns+` FROM files ORDER BY path`)
	if err != nil {
		return nil, fmt.Errorf("failed to list files: %w", err)
	}
	defer rows.Close()

	var recs []*models.FileRecord
	for rows.Next() {
		rec, err := scanFile(rows)
		if err != nil {
			return nil, err
		}
		recs = append(recs, rec)
	}
	return recs, rows.Err()
}

// UpsertFile inserts or replaces the record keyed by path and stamps UpdatedAt.
func (s *SQLiteStorage) UpsertFile(ctx context.Context, rec *models.FileRecord) error {
	rec.UpdatedAt = time.Now().UTC()
	if rec.Status == "" {
		rec.Status = models.FileStatusPending
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO files (path, hash, mtime, status, source_type, book_id, last_error, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(path) DO UPDATE SET
			hash = excluded.hash,
			mtime = excluded.mtime,
			status = excluded.status,
			source_type = excluded.source_type,
			book_id = excluded.book_id,
			last_error = excluded.last_error,
			updated_at = excluded.updated_at`,
		rec.Path, rec.Hash, rec.Mtime.UTC(), rec.Status, rec.SourceType, rec.BookID, rec.LastError, rec.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert file: %w", err)
	}
	return nil
}

// DeleteFile removes the record for path. Deleting a missing record is not an error.
func (s *SQLiteStorage) DeleteFile(ctx context.Context, path string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM files WHERE path = ?`, path); err != nil {
		return fmt.Errorf("failed to delete file: %w", err)
	}
	return nil
}

// ClearFiles removes every file record.
func (s *SQLiteStorage) ClearFiles(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM files`); err != nil {
		return fmt.Errorf("failed to clear files: %w", err)
	}
	return nil
}

// CountFilesByStatus returns the number of records per status.
func (s *SQLiteStorage) CountFilesByStatus(ctx context.Context) (map[string]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM files GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("failed to count files: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		counts[status] = n
	}
	return counts, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanFile(r rowScanner) (*models.FileRecord, error) {
	var rec models.FileRecord
	if err := r.Scan(&rec.Path, &rec.Hash, &rec.Mtime, &rec.Status, &rec.SourceType, &rec.BookID, &rec.LastError, &rec.UpdatedAt); err != nil {
		return nil, err
	}
	return &rec, nil
}
