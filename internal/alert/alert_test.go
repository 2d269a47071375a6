package alert

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sitewarden/sitewarden/internal/logger"
)

type stubChannel struct {
	name      string
	err       error
	panicking bool
	delivered atomic.Int64
}

func (c *stubChannel) Name() string { return c.name }

func (c *stubChannel) Deliver(_ context.Context, _ Alert) error {
	c.delivered.Add(1)
	if c.panicking {
		panic("boom")
	}
	return c.err
}

func testAlert() Alert {
	return Alert{
		EventID:    "evt-1",
		EventType:  "login_failed_threshold_exceeded",
		Severity:   8,
		OriginIP:   "203.0.113.0",
		OccurredAt: time.Now(),
	}
}

func TestDispatchAllChannels(t *testing.T) {
	first := &stubChannel{name: "email"}
	second := &stubChannel{name: "webhook"}
	d := NewMultiDispatcher(logger.New("error", "json"), first, second)

	failures := d.Dispatch(context.Background(), testAlert())
	if len(failures) != 0 {
		t.Fatalf("unexpected failures: %v", failures)
	}
	if first.delivered.Load() != 1 || second.delivered.Load() != 1 {
		t.Error("expected both channels to receive the alert")
	}
}

func TestDispatchIsolatesFailingChannel(t *testing.T) {
	failing := &stubChannel{name: "email", err: errors.New("smtp down")}
	healthy := &stubChannel{name: "webhook"}
	d := NewMultiDispatcher(logger.New("error", "json"), failing, healthy)

	failures := d.Dispatch(context.Background(), testAlert())
	if len(failures) != 1 {
		t.Fatalf("failures = %d, want 1", len(failures))
	}
	if failures[0].Channel != "email" {
		t.Errorf("failure channel = %q, want email", failures[0].Channel)
	}
	if healthy.delivered.Load() != 1 {
		t.Error("healthy channel should still deliver")
	}
}

func TestDispatchContainsPanic(t *testing.T) {
	panicking := &stubChannel{name: "webhook", panicking: true}
	d := NewMultiDispatcher(logger.New("error", "json"), panicking)

	failures := d.Dispatch(context.Background(), testAlert())
	if len(failures) != 1 {
		t.Fatalf("failures = %d, want 1", len(failures))
	}
}

func TestDispatchNoChannels(t *testing.T) {
	d := NewMultiDispatcher(logger.New("error", "json"))
	if failures := d.Dispatch(context.Background(), testAlert()); failures != nil {
		t.Errorf("expected nil failures, got %v", failures)
	}
}

func TestWebhookChannelSignsBody(t *testing.T) {
	const secret = "site-secret"

	var gotBody []byte
	var gotSignature string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotBody, _ = io.ReadAll(r.Body)
		gotSignature = r.Header.Get(SignatureHeader)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	ch := NewWebhookChannel(srv.URL, secret)
	a := testAlert()
	if err := ch.Deliver(context.Background(), a); err != nil {
		t.Fatalf("Deliver: %v", err)
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(gotBody)
	want := hex.EncodeToString(mac.Sum(nil))
	if gotSignature != want {
		t.Errorf("signature = %q, want %q", gotSignature, want)
	}

	var decoded Alert
	if err := json.Unmarshal(gotBody, &decoded); err != nil {
		t.Fatalf("body is not valid JSON: %v", err)
	}
	if decoded.EventType != a.EventType {
		t.Errorf("event type = %q, want %q", decoded.EventType, a.EventType)
	}
}

func TestWebhookChannelRejectsErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	ch := NewWebhookChannel(srv.URL, "secret")
	if err := ch.Deliver(context.Background(), testAlert()); err == nil {
		t.Error("expected error for 500 response")
	}
}
