package ghost

import (
	"context"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/sitewarden/sitewarden/internal/audit"
	"github.com/sitewarden/sitewarden/internal/config"
	"github.com/sitewarden/sitewarden/internal/logger"
	"github.com/sitewarden/sitewarden/internal/model"
	"github.com/sitewarden/sitewarden/internal/repository"
)

type memoryStore struct {
	mu     sync.Mutex
	hidden map[int64]*model.HiddenUser
}

func newMemoryStore() *memoryStore {
	return &memoryStore{hidden: make(map[int64]*model.HiddenUser)}
}

func (s *memoryStore) Hide(_ context.Context, userID int64, note *string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.hidden[userID]; ok {
		return nil
	}
	s.hidden[userID] = &model.HiddenUser{UserID: userID, HiddenSince: time.Now(), Note: note}
	return nil
}

func (s *memoryStore) Unhide(_ context.Context, userID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.hidden, userID)
	return nil
}

func (s *memoryStore) IsHidden(_ context.Context, userID int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.hidden[userID]
	return ok, nil
}

func (s *memoryStore) List(_ context.Context) ([]*model.HiddenUser, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var users []*model.HiddenUser
	for _, user := range s.hidden {
		users = append(users, user)
	}
	return users, nil
}

func (s *memoryStore) HiddenIDs(_ context.Context, exclude []int64) ([]int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	excluded := make(map[int64]struct{}, len(exclude))
	for _, id := range exclude {
		excluded[id] = struct{}{}
	}
	var ids []int64
	for id := range s.hidden {
		if _, ok := excluded[id]; !ok {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

type memoryEventStore struct {
	mu     sync.Mutex
	events []*model.AuditEvent
}

func (s *memoryEventStore) Create(_ context.Context, event *model.AuditEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
	return nil
}

func (s *memoryEventStore) Query(_ context.Context, _ repository.EventFilter) ([]*model.AuditEvent, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.events, len(s.events), nil
}

func (s *memoryEventStore) DeleteOlderThan(_ context.Context, _ time.Time) (int64, error) {
	return 0, nil
}

func newServiceForTest(enabled bool) (*Service, *memoryStore, *memoryEventStore) {
	store := newMemoryStore()
	events := &memoryEventStore{}
	log := logger.New("error", "json")
	auditLog := audit.NewLog(events, nil, log, config.AuditConfig{RetentionDays: 90, AlertThreshold: 7})
	return NewService(store, auditLog, config.GhostConfig{Enabled: enabled}), store, events
}

func TestHideAndUnhide(t *testing.T) {
	svc, store, events := newServiceForTest(true)
	ctx := context.Background()

	if err := svc.Hide(ctx, 7, nil, "203.0.113.1"); err != nil {
		t.Fatalf("Hide: %v", err)
	}
	if hidden, _ := store.IsHidden(ctx, 7); !hidden {
		t.Error("user should be hidden")
	}
	if len(events.events) != 1 || events.events[0].EventType != model.EventUserHidden {
		t.Errorf("events = %+v, want one user_hidden", events.events)
	}

	if err := svc.Unhide(ctx, 7, "203.0.113.1"); err != nil {
		t.Fatalf("Unhide: %v", err)
	}
	if hidden, _ := store.IsHidden(ctx, 7); hidden {
		t.Error("user should be visible again")
	}
}

func TestFilterVisible(t *testing.T) {
	svc, _, _ := newServiceForTest(true)
	ctx := context.Background()

	svc.Hide(ctx, 2, nil, "203.0.113.1")
	svc.Hide(ctx, 4, nil, "203.0.113.1")

	visible, err := svc.FilterVisible(ctx, []int64{1, 2, 3, 4}, 9)
	if err != nil {
		t.Fatalf("FilterVisible: %v", err)
	}
	if !reflect.DeepEqual(visible, []int64{1, 3}) {
		t.Errorf("visible = %v, want [1 3]", visible)
	}
}

func TestFilterVisibleKeepsViewer(t *testing.T) {
	svc, _, _ := newServiceForTest(true)
	ctx := context.Background()

	svc.Hide(ctx, 2, nil, "203.0.113.1")

	// A hidden admin always sees themselves.
	visible, err := svc.FilterVisible(ctx, []int64{1, 2, 3}, 2)
	if err != nil {
		t.Fatalf("FilterVisible: %v", err)
	}
	if !reflect.DeepEqual(visible, []int64{1, 2, 3}) {
		t.Errorf("visible = %v, want all including viewer", visible)
	}
}

func TestFilterVisibleDisabledPassesThrough(t *testing.T) {
	svc, _, _ := newServiceForTest(false)
	ctx := context.Background()

	svc.Hide(ctx, 2, nil, "203.0.113.1")

	input := []int64{1, 2, 3}
	visible, err := svc.FilterVisible(ctx, input, 9)
	if err != nil {
		t.Fatalf("FilterVisible: %v", err)
	}
	if !reflect.DeepEqual(visible, input) {
		t.Errorf("visible = %v, want unchanged input", visible)
	}
}
