package audit

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/sitewarden/sitewarden/internal/alert"
	"github.com/sitewarden/sitewarden/internal/config"
	"github.com/sitewarden/sitewarden/internal/logger"
	"github.com/sitewarden/sitewarden/internal/model"
	"github.com/sitewarden/sitewarden/internal/repository"
)

type fakeStore struct {
	mu        sync.Mutex
	events    []*model.AuditEvent
	createErr error
	pruned    []time.Time
}

func (s *fakeStore) Create(_ context.Context, event *model.AuditEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.createErr != nil {
		return s.createErr
	}
	s.events = append(s.events, event)
	return nil
}

func (s *fakeStore) Query(_ context.Context, f repository.EventFilter) ([]*model.AuditEvent, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var matched []*model.AuditEvent
	for _, event := range s.events {
		if f.EventType != "" && event.EventType != f.EventType {
			continue
		}
		matched = append(matched, event)
	}
	return matched, len(matched), nil
}

func (s *fakeStore) DeleteOlderThan(_ context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pruned = append(s.pruned, cutoff)
	return 0, nil
}

func (s *fakeStore) byType(eventType string) []*model.AuditEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	var matched []*model.AuditEvent
	for _, event := range s.events {
		if event.EventType == eventType {
			matched = append(matched, event)
		}
	}
	return matched
}

type fakeDispatcher struct {
	mu       sync.Mutex
	alerts   []alert.Alert
	failures []alert.Failure
}

func (d *fakeDispatcher) Dispatch(_ context.Context, a alert.Alert) []alert.Failure {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.alerts = append(d.alerts, a)
	return d.failures
}

func testConfig() config.AuditConfig {
	return config.AuditConfig{
		RetentionDays:  90,
		AnonymizeIPs:   true,
		PruneEvery:     100,
		AlertThreshold: 7,
	}
}

func newTestLog(store *fakeStore, dispatcher alert.Dispatcher, cfg config.AuditConfig) *Log {
	return NewLog(store, dispatcher, logger.New("error", "json"), cfg)
}

func TestRecordAnonymizesOrigin(t *testing.T) {
	store := &fakeStore{}
	log := newTestLog(store, nil, testConfig())

	log.Record(context.Background(), Entry{
		EventType: model.EventLoginFailed,
		Severity:  model.SeverityNotice,
		OriginIP:  "203.0.113.77",
	})

	if len(store.events) != 1 {
		t.Fatalf("events = %d, want 1", len(store.events))
	}
	if got := store.events[0].OriginIP; got != "203.0.113.0" {
		t.Errorf("origin = %q, want anonymized 203.0.113.0", got)
	}
}

func TestRecordKeepsFullOriginWhenDisabled(t *testing.T) {
	store := &fakeStore{}
	cfg := testConfig()
	cfg.AnonymizeIPs = false
	log := newTestLog(store, nil, cfg)

	log.Record(context.Background(), Entry{
		EventType: model.EventLoginFailed,
		Severity:  model.SeverityNotice,
		OriginIP:  "203.0.113.77",
	})

	if got := store.events[0].OriginIP; got != "203.0.113.77" {
		t.Errorf("origin = %q, want full address", got)
	}
}

func TestRecordDispatchesAboveThreshold(t *testing.T) {
	store := &fakeStore{}
	dispatcher := &fakeDispatcher{}
	log := newTestLog(store, dispatcher, testConfig())

	log.Record(context.Background(), Entry{
		EventType: model.EventThresholdExceeded,
		Severity:  model.SeverityBreach,
		OriginIP:  "203.0.113.1",
	})
	log.Record(context.Background(), Entry{
		EventType: model.EventLoginFailed,
		Severity:  model.SeverityNotice,
		OriginIP:  "203.0.113.1",
	})

	if len(dispatcher.alerts) != 1 {
		t.Fatalf("alerts = %d, want 1 (only severity >= threshold)", len(dispatcher.alerts))
	}
	if dispatcher.alerts[0].EventType != model.EventThresholdExceeded {
		t.Errorf("alerted event = %q", dispatcher.alerts[0].EventType)
	}
}

func TestRecordSurvivesStoreFailure(t *testing.T) {
	store := &fakeStore{createErr: errors.New("db down")}
	log := newTestLog(store, nil, testConfig())

	id := log.Record(context.Background(), Entry{
		EventType: model.EventLoginFailed,
		Severity:  model.SeverityNotice,
		OriginIP:  "203.0.113.1",
	})
	if id == "" {
		t.Error("Record should still return an event ID")
	}
}

func TestAlertFailureRecordedBelowThreshold(t *testing.T) {
	store := &fakeStore{}
	dispatcher := &fakeDispatcher{failures: []alert.Failure{
		{Channel: "email", Err: errors.New("smtp down")},
	}}
	log := newTestLog(store, dispatcher, testConfig())

	log.Record(context.Background(), Entry{
		EventType: model.EventThresholdExceeded,
		Severity:  model.SeverityBreach,
		OriginIP:  "203.0.113.1",
	})

	failureEvents := store.byType(model.EventAlertDeliveryFailed)
	if len(failureEvents) != 1 {
		t.Fatalf("failure events = %d, want 1", len(failureEvents))
	}
	if failureEvents[0].Severity >= testConfig().AlertThreshold {
		t.Error("failure event severity must stay below the alert threshold")
	}
	// The failure event itself must not have triggered another dispatch.
	if len(dispatcher.alerts) != 1 {
		t.Errorf("alerts = %d, want 1 (no recursion)", len(dispatcher.alerts))
	}
}

func TestPruneTriggersEveryNthWrite(t *testing.T) {
	store := &fakeStore{}
	cfg := testConfig()
	cfg.PruneEvery = 3
	log := newTestLog(store, nil, cfg)

	for i := 0; i < 7; i++ {
		log.Record(context.Background(), Entry{
			EventType: model.EventLoginFailed,
			Severity:  model.SeverityInfo,
			OriginIP:  "203.0.113.1",
		})
	}

	if len(store.pruned) != 2 {
		t.Errorf("prune runs = %d, want 2 (writes 3 and 6)", len(store.pruned))
	}
}

func TestQueryPagination(t *testing.T) {
	store := &fakeStore{}
	log := newTestLog(store, nil, testConfig())

	for i := 0; i < 5; i++ {
		log.Record(context.Background(), Entry{
			EventType: model.EventLoginFailed,
			Severity:  model.SeverityInfo,
			OriginIP:  "203.0.113.1",
		})
	}

	page, err := log.Query(context.Background(), repository.EventFilter{Page: 1, PerPage: 2})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if page.Total != 5 {
		t.Errorf("total = %d, want 5", page.Total)
	}
	if page.TotalPages != 3 {
		t.Errorf("total pages = %d, want 3", page.TotalPages)
	}
}
