package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/sitewarden/sitewarden/internal/database"
)

// ConfigRepository handles the encrypted key/value config table used for
// the emergency password blob, credential storage, and one-shot markers.
type ConfigRepository struct {
	db *database.Postgres
}

// NewConfigRepository creates a new ConfigRepository
func NewConfigRepository(db *database.Postgres) *ConfigRepository {
	return &ConfigRepository{db: db}
}

// Set upserts a config value under the given key
func (r *ConfigRepository) Set(ctx context.Context, key, value string) error {
	query := `
		INSERT INTO warden_config (cfg_key, cfg_value, updated_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (cfg_key) DO UPDATE SET cfg_value = EXCLUDED.cfg_value, updated_at = EXCLUDED.updated_at
	`
	if _, err := r.db.ExecContext(ctx, query, key, value, time.Now()); err != nil {
		return fmt.Errorf("failed to set config %q: %w", key, err)
	}
	return nil
}

// Get retrieves a config value by key
func (r *ConfigRepository) Get(ctx context.Context, key string) (string, error) {
	var value string
	err := r.db.QueryRowContext(ctx, `SELECT cfg_value FROM warden_config WHERE cfg_key = $1`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("failed to get config %q: %w", key, err)
	}
	return value, nil
}

// Delete removes a config value by key
func (r *ConfigRepository) Delete(ctx context.Context, key string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM warden_config WHERE cfg_key = $1`, key); err != nil {
		return fmt.Errorf("failed to delete config %q: %w", key, err)
	}
	return nil
}

// ListPrefix returns every key/value pair whose key starts with prefix.
func (r *ConfigRepository) ListPrefix(ctx context.Context, prefix string) (map[string]string, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT cfg_key, cfg_value FROM warden_config WHERE cfg_key LIKE $1 || '%' ORDER BY cfg_key`, prefix)
	if err != nil {
		return nil, fmt.Errorf("failed to list config prefix %q: %w", prefix, err)
	}
	defer rows.Close()

	values := make(map[string]string)
	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			return nil, fmt.Errorf("failed to scan config row: %w", err)
		}
		values[key] = value
	}
	return values, rows.Err()
}

// ClaimOnce atomically inserts a marker row for the key. It returns true on
// the first claim and false when the marker already exists, making it a
// single read-modify-write suitable for one-time credential semantics.
func (r *ConfigRepository) ClaimOnce(ctx context.Context, key string) (bool, error) {
	query := `
		INSERT INTO warden_config (cfg_key, cfg_value, updated_at)
		VALUES ($1, '1', $2)
		ON CONFLICT (cfg_key) DO NOTHING
	`
	result, err := r.db.ExecContext(ctx, query, key, time.Now())
	if err != nil {
		return false, fmt.Errorf("failed to claim config %q: %w", key, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to claim config %q: %w", key, err)
	}
	return affected == 1, nil
}
