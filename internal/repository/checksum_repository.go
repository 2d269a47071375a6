package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/sitewarden/sitewarden/internal/database"
	"github.com/sitewarden/sitewarden/internal/model"
)

// ChecksumRepository handles file integrity baseline persistence
type ChecksumRepository struct {
	db *database.Postgres
}

// NewChecksumRepository creates a new ChecksumRepository
func NewChecksumRepository(db *database.Postgres) *ChecksumRepository {
	return &ChecksumRepository{db: db}
}

// DeleteAll clears the entire baseline
func (r *ChecksumRepository) DeleteAll(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM file_checksums`); err != nil {
		return fmt.Errorf("failed to clear checksum baseline: %w", err)
	}
	return nil
}

// Upsert inserts or refreshes the record for a file path
func (r *ChecksumRepository) Upsert(ctx context.Context, filePath, sha256, status string) error {
	query := `
		INSERT INTO file_checksums (file_path, sha256, last_checked, status)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (file_path) DO UPDATE
		SET sha256 = EXCLUDED.sha256, last_checked = EXCLUDED.last_checked, status = EXCLUDED.status
	`
	if _, err := r.db.ExecContext(ctx, query, filePath, sha256, time.Now(), status); err != nil {
		return fmt.Errorf("failed to upsert checksum for %q: %w", filePath, err)
	}
	return nil
}

// Baseline returns the active path->hash map
func (r *ChecksumRepository) Baseline(ctx context.Context) (map[string]string, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT file_path, sha256 FROM file_checksums WHERE status = $1`, model.ChecksumActive)
	if err != nil {
		return nil, fmt.Errorf("failed to load checksum baseline: %w", err)
	}
	defer rows.Close()

	baseline := make(map[string]string)
	for rows.Next() {
		var path, hash string
		if err := rows.Scan(&path, &hash); err != nil {
			return nil, fmt.Errorf("failed to scan checksum row: %w", err)
		}
		baseline[path] = hash
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate checksum rows: %w", err)
	}
	return baseline, nil
}

// MarkMissing flags a baseline entry whose file no longer exists on disk
func (r *ChecksumRepository) MarkMissing(ctx context.Context, filePath string) error {
	query := `UPDATE file_checksums SET status = $1, last_checked = $2 WHERE file_path = $3`
	if _, err := r.db.ExecContext(ctx, query, model.ChecksumMissing, time.Now(), filePath); err != nil {
		return fmt.Errorf("failed to mark checksum missing for %q: %w", filePath, err)
	}
	return nil
}

// CountActive returns the number of active baseline entries
func (r *ChecksumRepository) CountActive(ctx context.Context) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM file_checksums WHERE status = $1`, model.ChecksumActive).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count checksum baseline: %w", err)
	}
	return count, nil
}
