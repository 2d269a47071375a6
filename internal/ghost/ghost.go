// Package ghost hides designated accounts from user listings. Hidden users
// stay fully functional; they are only filtered out of enumeration surfaces.
package ghost

import (
	"context"

	"github.com/sitewarden/sitewarden/internal/audit"
	"github.com/sitewarden/sitewarden/internal/config"
	"github.com/sitewarden/sitewarden/internal/model"
	"github.com/sitewarden/sitewarden/internal/repository"
)

// Store is the marker persistence surface.
// *repository.HiddenUserRepository implements it.
type Store interface {
	Hide(ctx context.Context, userID int64, note *string) error
	Unhide(ctx context.Context, userID int64) error
	IsHidden(ctx context.Context, userID int64) (bool, error)
	List(ctx context.Context) ([]*model.HiddenUser, error)
	HiddenIDs(ctx context.Context, exclude []int64) ([]int64, error)
}

var _ Store = (*repository.HiddenUserRepository)(nil)

// Service manages hidden-user markers.
type Service struct {
	hidden   Store
	auditLog *audit.Log
	cfg      config.GhostConfig
}

// NewService creates a Service.
func NewService(hidden Store, auditLog *audit.Log, cfg config.GhostConfig) *Service {
	return &Service{hidden: hidden, auditLog: auditLog, cfg: cfg}
}

// Hide marks a user as hidden. Idempotent.
func (s *Service) Hide(ctx context.Context, userID int64, note *string, requestIP string) error {
	if err := s.hidden.Hide(ctx, userID, note); err != nil {
		return err
	}
	s.auditLog.Record(ctx, audit.Entry{
		EventType:   model.EventUserHidden,
		Severity:    model.SeverityNotice,
		ActorUserID: &userID,
		OriginIP:    requestIP,
	})
	return nil
}

// Unhide removes the hidden marker.
func (s *Service) Unhide(ctx context.Context, userID int64, requestIP string) error {
	if err := s.hidden.Unhide(ctx, userID); err != nil {
		return err
	}
	s.auditLog.Record(ctx, audit.Entry{
		EventType:   model.EventUserUnhidden,
		Severity:    model.SeverityNotice,
		ActorUserID: &userID,
		OriginIP:    requestIP,
	})
	return nil
}

// List returns every hidden-user marker.
func (s *Service) List(ctx context.Context) ([]*model.HiddenUser, error) {
	return s.hidden.List(ctx)
}

// FilterVisible removes hidden user IDs from a listing. The viewer's own ID
// is never filtered so hidden admins still see themselves. Disabled ghost
// mode passes the input through unchanged.
func (s *Service) FilterVisible(ctx context.Context, userIDs []int64, viewerID int64) ([]int64, error) {
	if !s.cfg.Enabled {
		return userIDs, nil
	}

	hiddenIDs, err := s.hidden.HiddenIDs(ctx, []int64{viewerID})
	if err != nil {
		return nil, err
	}
	hidden := make(map[int64]struct{}, len(hiddenIDs))
	for _, id := range hiddenIDs {
		hidden[id] = struct{}{}
	}

	visible := make([]int64, 0, len(userIDs))
	for _, id := range userIDs {
		if _, ok := hidden[id]; ok && id != viewerID {
			continue
		}
		visible = append(visible, id)
	}
	return visible, nil
}
