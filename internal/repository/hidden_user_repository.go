package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/lib/pq"
	"github.com/sitewarden/sitewarden/internal/database"
	"github.com/sitewarden/sitewarden/internal/model"
)

// HiddenUserRepository handles ghost-mode user markers
type HiddenUserRepository struct {
	db *database.Postgres
}

// NewHiddenUserRepository creates a new HiddenUserRepository
func NewHiddenUserRepository(db *database.Postgres) *HiddenUserRepository {
	return &HiddenUserRepository{db: db}
}

// Hide marks a user as hidden. Hiding an already-hidden user is a no-op.
func (r *HiddenUserRepository) Hide(ctx context.Context, userID int64, note *string) error {
	query := `
		INSERT INTO hidden_users (user_id, hidden_since, note)
		VALUES ($1, $2, $3)
		ON CONFLICT (user_id) DO NOTHING
	`
	if _, err := r.db.ExecContext(ctx, query, userID, time.Now(), note); err != nil {
		return fmt.Errorf("failed to hide user %d: %w", userID, err)
	}
	return nil
}

// Unhide removes the hidden marker for a user
func (r *HiddenUserRepository) Unhide(ctx context.Context, userID int64) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM hidden_users WHERE user_id = $1`, userID); err != nil {
		return fmt.Errorf("failed to unhide user %d: %w", userID, err)
	}
	return nil
}

// IsHidden reports whether the user carries a hidden marker
func (r *HiddenUserRepository) IsHidden(ctx context.Context, userID int64) (bool, error) {
	var count int
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM hidden_users WHERE user_id = $1`, userID).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("failed to check hidden user %d: %w", userID, err)
	}
	return count > 0, nil
}

// List returns all hidden user markers
func (r *HiddenUserRepository) List(ctx context.Context) ([]*model.HiddenUser, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT id, user_id, hidden_since, note FROM hidden_users ORDER BY hidden_since DESC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list hidden users: %w", err)
	}
	defer rows.Close()

	var users []*model.HiddenUser
	for rows.Next() {
		var user model.HiddenUser
		if err := rows.Scan(&user.ID, &user.UserID, &user.HiddenSince, &user.Note); err != nil {
			return nil, fmt.Errorf("failed to scan hidden user: %w", err)
		}
		users = append(users, &user)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate hidden users: %w", err)
	}
	return users, nil
}

// HiddenIDs returns the set of hidden user IDs, excluding the given IDs.
func (r *HiddenUserRepository) HiddenIDs(ctx context.Context, exclude []int64) ([]int64, error) {
	query := `SELECT user_id FROM hidden_users WHERE user_id <> ALL($1)`
	rows, err := r.db.QueryContext(ctx, query, pq.Array(exclude))
	if err != nil {
		return nil, fmt.Errorf("failed to list hidden user ids: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan hidden user id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate hidden user ids: %w", err)
	}
	return ids, nil
}
