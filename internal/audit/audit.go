// Package audit implements the append-only security event trail. Every
// engine records through this package so anonymization, alerting, and
// retention apply uniformly.
package audit

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/sitewarden/sitewarden/internal/alert"
	"github.com/sitewarden/sitewarden/internal/config"
	"github.com/sitewarden/sitewarden/internal/logger"
	"github.com/sitewarden/sitewarden/internal/model"
	"github.com/sitewarden/sitewarden/internal/origin"
	"github.com/sitewarden/sitewarden/internal/repository"
)

// Store is the persistence surface the log needs. *repository.EventRepository
// implements it.
type Store interface {
	Create(ctx context.Context, event *model.AuditEvent) error
	Query(ctx context.Context, filter repository.EventFilter) ([]*model.AuditEvent, int, error)
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

// Entry is one security event to record.
type Entry struct {
	EventType   string
	Severity    int
	ActorUserID *int64
	ActorName   *string
	OriginIP    string
	UserAgent   *string
	Payload     map[string]interface{}
}

// Log records, queries, and prunes audit events.
type Log struct {
	store      Store
	dispatcher alert.Dispatcher
	log        *logger.Logger
	cfg        config.AuditConfig

	writes atomic.Int64
}

// NewLog creates the audit log. dispatcher may be nil when no alert channels
// are configured.
func NewLog(store Store, dispatcher alert.Dispatcher, log *logger.Logger, cfg config.AuditConfig) *Log {
	return &Log{
		store:      store,
		dispatcher: dispatcher,
		log:        log.WithComponent("audit"),
		cfg:        cfg,
	}
}

// Record persists an event and returns its ID. Recording never fails the
// calling operation: a broken store falls back to the process log, and alert
// delivery problems are recorded as their own low-severity events.
func (l *Log) Record(ctx context.Context, entry Entry) string {
	event := &model.AuditEvent{
		ID:          uuid.New().String(),
		EventType:   entry.EventType,
		Severity:    entry.Severity,
		ActorUserID: entry.ActorUserID,
		ActorName:   entry.ActorName,
		OriginIP:    entry.OriginIP,
		UserAgent:   entry.UserAgent,
		Payload:     entry.Payload,
		CreatedAt:   time.Now(),
	}
	if event.OriginIP == "" {
		event.OriginIP = origin.Unknown
	}
	if l.cfg.AnonymizeIPs {
		event.OriginIP = origin.Anonymize(event.OriginIP)
	}

	if err := l.store.Create(ctx, event); err != nil {
		// The process log is the channel of last resort.
		l.log.Error().Err(err).Msg("Failed to persist audit event")
		l.log.SecurityEvent(event.EventType, event.Severity, event.OriginIP, event.Payload)
		return event.ID
	}

	if l.dispatcher != nil && event.Severity >= l.cfg.AlertThreshold {
		l.alert(ctx, event)
	}

	if l.cfg.PruneEvery > 0 && l.writes.Add(1)%int64(l.cfg.PruneEvery) == 0 {
		l.prune(ctx)
	}

	return event.ID
}

// alert fans the event out and records any delivery failures as events of
// their own. Failure events stay below the alert threshold so a dead channel
// cannot trigger itself.
func (l *Log) alert(ctx context.Context, event *model.AuditEvent) {
	failures := l.dispatcher.Dispatch(ctx, alert.Alert{
		EventID:    event.ID,
		EventType:  event.EventType,
		Severity:   event.Severity,
		OriginIP:   event.OriginIP,
		OccurredAt: event.CreatedAt,
		Details:    event.Payload,
	})

	for _, failure := range failures {
		failureEvent := &model.AuditEvent{
			ID:        uuid.New().String(),
			EventType: model.EventAlertDeliveryFailed,
			Severity:  model.SeverityLow,
			OriginIP:  origin.Unknown,
			Payload: map[string]interface{}{
				"channel":         failure.Channel,
				"error":           failure.Err.Error(),
				"failed_event_id": event.ID,
			},
			CreatedAt: time.Now(),
		}
		if err := l.store.Create(ctx, failureEvent); err != nil {
			l.log.Error().Err(err).Msg("Failed to persist alert failure event")
		}
	}
}

func (l *Log) prune(ctx context.Context) {
	cutoff := time.Now().AddDate(0, 0, -l.cfg.RetentionDays)
	deleted, err := l.store.DeleteOlderThan(ctx, cutoff)
	if err != nil {
		l.log.Error().Err(err).Msg("Failed to prune audit events")
		return
	}
	if deleted > 0 {
		l.log.Info().Int64("deleted", deleted).Time("cutoff", cutoff).Msg("Pruned audit events")
	}
}

// Page is one page of query results.
type Page struct {
	Events     []*model.AuditEvent `json:"events"`
	Total      int                 `json:"total"`
	Page       int                 `json:"page"`
	PerPage    int                 `json:"per_page"`
	TotalPages int                 `json:"total_pages"`
}

// Query returns a filtered, paginated slice of the trail, newest first.
func (l *Log) Query(ctx context.Context, filter repository.EventFilter) (*Page, error) {
	events, total, err := l.store.Query(ctx, filter)
	if err != nil {
		return nil, err
	}

	page := filter.Page
	if page < 1 {
		page = 1
	}
	perPage := filter.PerPage
	if perPage < 1 {
		perPage = repository.DefaultPerPage
	}
	totalPages := (total + perPage - 1) / perPage

	return &Page{
		Events:     events,
		Total:      total,
		Page:       page,
		PerPage:    perPage,
		TotalPages: totalPages,
	}, nil
}

// Prune removes events older than the retention window. Exposed for the CLI;
// Record triggers it automatically every PruneEvery writes.
func (l *Log) Prune(ctx context.Context) (int64, error) {
	cutoff := time.Now().AddDate(0, 0, -l.cfg.RetentionDays)
	return l.store.DeleteOlderThan(ctx, cutoff)
}
