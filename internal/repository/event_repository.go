package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/sitewarden/sitewarden/internal/database"
	"github.com/sitewarden/sitewarden/internal/model"
)

// DefaultPerPage is the page size used when a query does not specify one.
const DefaultPerPage = 50

// EventRepository handles audit event persistence
type EventRepository struct {
	db *database.Postgres
}

// NewEventRepository creates a new EventRepository
func NewEventRepository(db *database.Postgres) *EventRepository {
	return &EventRepository{db: db}
}

// EventFilter narrows a Query call. All set fields apply conjunctively;
// FreeText matches actor name, origin IP, and user agent.
type EventFilter struct {
	EventType string
	Severity  *int
	UserID    *int64
	FreeText  string
	Page      int
	PerPage   int
}

// Create inserts a new audit event
func (r *EventRepository) Create(ctx context.Context, event *model.AuditEvent) error {
	payloadJSON, err := json.Marshal(event.Payload)
	if err != nil {
		payloadJSON = []byte("{}")
	}

	query := `
		INSERT INTO audit_events (id, event_type, severity, actor_user_id, actor_name,
		    origin_ip, user_agent, payload, created_at, processed)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`
	_, err = r.db.ExecContext(ctx, query,
		event.ID,
		event.EventType,
		event.Severity,
		event.ActorUserID,
		event.ActorName,
		event.OriginIP,
		event.UserAgent,
		payloadJSON,
		event.CreatedAt,
		event.Processed,
	)
	if err != nil {
		return fmt.Errorf("failed to create audit event: %w", err)
	}
	return nil
}

// Query returns events matching the filter, newest first, plus the total
// match count for pagination.
func (r *EventRepository) Query(ctx context.Context, f EventFilter) ([]*model.AuditEvent, int, error) {
	where := []string{"1=1"}
	args := []interface{}{}

	arg := func(v interface{}) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if f.EventType != "" {
		where = append(where, "event_type = "+arg(f.EventType))
	}
	if f.Severity != nil {
		where = append(where, "severity = "+arg(*f.Severity))
	}
	if f.UserID != nil {
		where = append(where, "actor_user_id = "+arg(*f.UserID))
	}
	if f.FreeText != "" {
		pattern := "%" + f.FreeText + "%"
		p := arg(pattern)
		where = append(where, fmt.Sprintf("(actor_name ILIKE %s OR origin_ip ILIKE %s OR user_agent ILIKE %s)", p, p, p))
	}

	whereClause := strings.Join(where, " AND ")

	var total int
	countQuery := "SELECT COUNT(*) FROM audit_events WHERE " + whereClause
	if err := r.db.QueryRowContext(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count audit events: %w", err)
	}

	perPage := f.PerPage
	if perPage <= 0 {
		perPage = DefaultPerPage
	}
	page := f.Page
	if page <= 0 {
		page = 1
	}
	offset := (page - 1) * perPage

	query := fmt.Sprintf(`
		SELECT id, event_type, severity, actor_user_id, actor_name,
		       origin_ip, user_agent, payload, created_at, processed
		FROM audit_events
		WHERE %s
		ORDER BY created_at DESC
		LIMIT %s OFFSET %s
	`, whereClause, arg(perPage), arg(offset))

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to query audit events: %w", err)
	}
	defer rows.Close()

	var events []*model.AuditEvent
	for rows.Next() {
		var event model.AuditEvent
		var payloadJSON []byte
		if err := rows.Scan(
			&event.ID,
			&event.EventType,
			&event.Severity,
			&event.ActorUserID,
			&event.ActorName,
			&event.OriginIP,
			&event.UserAgent,
			&payloadJSON,
			&event.CreatedAt,
			&event.Processed,
		); err != nil {
			return nil, 0, fmt.Errorf("failed to scan audit event: %w", err)
		}
		if len(payloadJSON) > 0 {
			if err := json.Unmarshal(payloadJSON, &event.Payload); err != nil {
				event.Payload = nil
			}
		}
		events = append(events, &event)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("failed to iterate audit events: %w", err)
	}

	return events, total, nil
}

// DeleteOlderThan removes events created before the cutoff and returns the
// number of rows removed.
func (r *EventRepository) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx, `DELETE FROM audit_events WHERE created_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to prune audit events: %w", err)
	}
	return result.RowsAffected()
}

// MarkProcessed flags events as consumed by a downstream job.
func (r *EventRepository) MarkProcessed(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	placeholders := make([]string, len(ids))
	args := make([]interface{}, len(ids))
	for i, id := range ids {
		placeholders[i] = fmt.Sprintf("$%d", i+1)
		args[i] = id
	}
	query := fmt.Sprintf(`UPDATE audit_events SET processed = TRUE WHERE id IN (%s)`, strings.Join(placeholders, ", "))
	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to mark events processed: %w", err)
	}
	return nil
}
