package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/sitewarden/sitewarden/internal/database"
	"github.com/sitewarden/sitewarden/internal/model"
)

// TokenRepository handles emergency token persistence
type TokenRepository struct {
	db *database.Postgres
}

// NewTokenRepository creates a new TokenRepository
func NewTokenRepository(db *database.Postgres) *TokenRepository {
	return &TokenRepository{db: db}
}

// Create stores a new emergency token record
func (r *TokenRepository) Create(ctx context.Context, token *model.EmergencyToken) error {
	query := `
		INSERT INTO emergency_tokens (token_hash, user_id, expires_at, used, created_ip, created_agent, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id
	`
	err := r.db.QueryRowContext(ctx, query,
		token.TokenHash,
		token.UserID,
		token.ExpiresAt,
		token.Used,
		token.CreatedIP,
		token.CreatedAgent,
		token.CreatedAt,
	).Scan(&token.ID)
	if err != nil {
		return fmt.Errorf("failed to create emergency token: %w", err)
	}
	return nil
}

// Redeem atomically marks the unused, unexpired token matching the digest as
// used and returns the bound user ID. The single UPDATE guarantees two
// near-simultaneous redemptions cannot both observe "unused".
func (r *TokenRepository) Redeem(ctx context.Context, tokenHash string) (int64, error) {
	query := `
		UPDATE emergency_tokens
		SET used = TRUE
		WHERE token_hash = $1 AND used = FALSE AND expires_at > $2
		RETURNING user_id
	`
	var userID int64
	err := r.db.QueryRowContext(ctx, query, tokenHash, time.Now()).Scan(&userID)
	if err == sql.ErrNoRows {
		return 0, ErrNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("failed to redeem emergency token: %w", err)
	}
	return userID, nil
}

// CleanupExpired removes expired token rows and returns the count removed.
func (r *TokenRepository) CleanupExpired(ctx context.Context) (int64, error) {
	result, err := r.db.ExecContext(ctx, `DELETE FROM emergency_tokens WHERE expires_at < $1`, time.Now())
	if err != nil {
		return 0, fmt.Errorf("failed to cleanup expired emergency tokens: %w", err)
	}
	return result.RowsAffected()
}
