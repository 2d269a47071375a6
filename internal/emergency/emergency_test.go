package emergency

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/sitewarden/sitewarden/internal/audit"
	"github.com/sitewarden/sitewarden/internal/config"
	"github.com/sitewarden/sitewarden/internal/counter"
	"github.com/sitewarden/sitewarden/internal/logger"
	"github.com/sitewarden/sitewarden/internal/model"
	"github.com/sitewarden/sitewarden/internal/repository"
	"github.com/sitewarden/sitewarden/internal/secretbox"
)

type memoryTokens struct {
	mu     sync.Mutex
	nextID int64
	tokens map[string]*model.EmergencyToken
}

func newMemoryTokens() *memoryTokens {
	return &memoryTokens{tokens: make(map[string]*model.EmergencyToken)}
}

func (s *memoryTokens) Create(_ context.Context, token *model.EmergencyToken) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	token.ID = s.nextID
	copied := *token
	s.tokens[token.TokenHash] = &copied
	return nil
}

func (s *memoryTokens) Redeem(_ context.Context, tokenHash string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	token, ok := s.tokens[tokenHash]
	if !ok || token.Used || token.IsExpired() {
		return 0, repository.ErrNotFound
	}
	token.Used = true
	return token.UserID, nil
}

func (s *memoryTokens) CleanupExpired(_ context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var removed int64
	for hash, token := range s.tokens {
		if token.IsExpired() {
			delete(s.tokens, hash)
			removed++
		}
	}
	return removed, nil
}

type memoryKV struct {
	mu     sync.Mutex
	values map[string]string
}

func newMemoryKV() *memoryKV {
	return &memoryKV{values: make(map[string]string)}
}

func (s *memoryKV) Set(_ context.Context, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values[key] = value
	return nil
}

func (s *memoryKV) Get(_ context.Context, key string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	value, ok := s.values[key]
	if !ok {
		return "", repository.ErrNotFound
	}
	return value, nil
}

func (s *memoryKV) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.values, key)
	return nil
}

func (s *memoryKV) ClaimOnce(_ context.Context, key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.values[key]; ok {
		return false, nil
	}
	s.values[key] = "1"
	return true, nil
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

func (s *memoryEventStore) byType(eventType string) []*model.AuditEvent {
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

func defaultEmergencyConfig() config.EmergencyConfig {
	return config.EmergencyConfig{
		Enabled:         true,
		UserID:          1,
		TokenTTL:        15 * time.Minute,
		RateLimitWindow: time.Hour,
		OneTimePassword: true,
	}
}

type testEnv struct {
	controller *Controller
	tokens     *memoryTokens
	kv         *memoryKV
	events     *memoryEventStore
	sessions   []int64
}

func newTestEnv(t *testing.T, cfg config.EmergencyConfig) *testEnv {
	t.Helper()
	const siteSecret = "test-site-secret"

	env := &testEnv{
		tokens: newMemoryTokens(),
		kv:     newMemoryKV(),
		events: &memoryEventStore{},
	}
	box, err := secretbox.New(siteSecret)
	if err != nil {
		t.Fatalf("secretbox.New: %v", err)
	}
	log := logger.New("error", "json")
	auditLog := audit.NewLog(env.events, nil, log, config.AuditConfig{RetentionDays: 90, AlertThreshold: 7})

	env.controller = NewController(
		env.tokens,
		env.kv,
		counter.NewMemoryStore(),
		auditLog,
		box,
		func(_ context.Context, userID int64) (string, error) {
			env.sessions = append(env.sessions, userID)
			return fmt.Sprintf("session-for-%d", userID), nil
		},
		log,
		cfg,
		siteSecret,
	)
	return env
}

func TestCreateAndRedeemToken(t *testing.T) {
	env := newTestEnv(t, defaultEmergencyConfig())
	ctx := context.Background()

	plaintext, token, err := env.controller.CreateToken(ctx, "203.0.113.1", "curl")
	if err != nil {
		t.Fatalf("CreateToken: %v", err)
	}
	if len(plaintext) != 64 {
		t.Errorf("token length = %d, want 64 hex chars", len(plaintext))
	}
	if token.TokenHash == plaintext {
		t.Error("stored hash must not equal the plaintext")
	}

	session, userID, err := env.controller.RedeemToken(ctx, plaintext, "203.0.113.1", "curl")
	if err != nil {
		t.Fatalf("RedeemToken: %v", err)
	}
	if userID != 1 {
		t.Errorf("userID = %d, want 1", userID)
	}
	if session != "session-for-1" {
		t.Errorf("session = %q", session)
	}
	if got := env.events.byType(model.EventEmergencyLoginSuccess); len(got) != 1 {
		t.Errorf("success events = %d, want 1", len(got))
	}
}

func TestTokenIsSingleUse(t *testing.T) {
	env := newTestEnv(t, defaultEmergencyConfig())
	ctx := context.Background()

	plaintext, _, err := env.controller.CreateToken(ctx, "203.0.113.1", "curl")
	if err != nil {
		t.Fatalf("CreateToken: %v", err)
	}
	if _, _, err := env.controller.RedeemToken(ctx, plaintext, "203.0.113.1", "curl"); err != nil {
		t.Fatalf("first redemption: %v", err)
	}
	if _, _, err := env.controller.RedeemToken(ctx, plaintext, "203.0.113.1", "curl"); !errors.Is(err, ErrInvalidCredential) {
		t.Errorf("second redemption = %v, want ErrInvalidCredential", err)
	}
}

func TestExpiredTokenRejected(t *testing.T) {
	cfg := defaultEmergencyConfig()
	cfg.TokenTTL = -time.Minute
	env := newTestEnv(t, cfg)
	ctx := context.Background()

	plaintext, _, err := env.controller.CreateToken(ctx, "203.0.113.1", "curl")
	if err != nil {
		t.Fatalf("CreateToken: %v", err)
	}

	// Never redeemed, but past its expiry.
	if _, _, err := env.controller.RedeemToken(ctx, plaintext, "203.0.113.1", "curl"); !errors.Is(err, ErrInvalidCredential) {
		t.Errorf("expired redemption = %v, want ErrInvalidCredential", err)
	}
	if got := env.events.byType(model.EventEmergencyTokenInvalid); len(got) != 1 {
		t.Errorf("invalid token events = %d, want 1", len(got))
	}
}

func TestUnknownTokenRejectedAndAudited(t *testing.T) {
	env := newTestEnv(t, defaultEmergencyConfig())

	_, _, err := env.controller.RedeemToken(context.Background(), "deadbeef", "203.0.113.1", "curl")
	if !errors.Is(err, ErrInvalidCredential) {
		t.Fatalf("err = %v, want ErrInvalidCredential", err)
	}
	if got := env.events.byType(model.EventEmergencyTokenInvalid); len(got) != 1 {
		t.Errorf("invalid token events = %d, want 1", len(got))
	}
}

func TestIssuanceRateLimit(t *testing.T) {
	env := newTestEnv(t, defaultEmergencyConfig())
	ctx := context.Background()

	if _, _, err := env.controller.CreateToken(ctx, "203.0.113.1", "curl"); err != nil {
		t.Fatalf("first issuance: %v", err)
	}
	if _, _, err := env.controller.CreateToken(ctx, "203.0.113.1", "curl"); !errors.Is(err, ErrRateLimited) {
		t.Errorf("second issuance = %v, want ErrRateLimited", err)
	}
}

func TestNotConfiguredFailsClosed(t *testing.T) {
	cfg := defaultEmergencyConfig()
	env := newTestEnv(t, cfg)
	env.controller.siteSecret = ""

	if _, _, err := env.controller.CreateToken(context.Background(), "203.0.113.1", "curl"); !errors.Is(err, ErrNotConfigured) {
		t.Errorf("CreateToken = %v, want ErrNotConfigured", err)
	}
	if _, _, err := env.controller.RedeemPassword(context.Background(), "pw", "203.0.113.1", "curl"); !errors.Is(err, ErrNotConfigured) {
		t.Errorf("RedeemPassword = %v, want ErrNotConfigured", err)
	}
}

func TestDisabledFailsClosed(t *testing.T) {
	cfg := defaultEmergencyConfig()
	cfg.Enabled = false
	env := newTestEnv(t, cfg)

	if _, _, err := env.controller.CreateToken(context.Background(), "203.0.113.1", "curl"); !errors.Is(err, ErrNotConfigured) {
		t.Errorf("CreateToken = %v, want ErrNotConfigured", err)
	}
}

func TestIPAllowlistBlocksOutsiders(t *testing.T) {
	cfg := defaultEmergencyConfig()
	cfg.IPAllowlist = []string{"198.51.100.10"}
	env := newTestEnv(t, cfg)
	ctx := context.Background()

	plaintext, _, err := env.controller.CreateToken(ctx, "198.51.100.10", "curl")
	if err != nil {
		t.Fatalf("CreateToken: %v", err)
	}

	if _, _, err := env.controller.RedeemToken(ctx, plaintext, "203.0.113.1", "curl"); !errors.Is(err, ErrInvalidCredential) {
		t.Errorf("outsider redemption = %v, want ErrInvalidCredential", err)
	}
	if got := env.events.byType(model.EventEmergencyLoginDenied); len(got) != 1 {
		t.Errorf("denied events = %d, want 1", len(got))
	}

	// The token survives the denied attempt.
	if _, _, err := env.controller.RedeemToken(ctx, plaintext, "198.51.100.10", "curl"); err != nil {
		t.Errorf("allowed redemption = %v, want success", err)
	}
}

func TestPasswordRoundTrip(t *testing.T) {
	env := newTestEnv(t, defaultEmergencyConfig())
	ctx := context.Background()

	if err := env.controller.SetPassword(ctx, "correct horse battery", "203.0.113.1"); err != nil {
		t.Fatalf("SetPassword: %v", err)
	}
	if got := env.events.byType(model.EventEmergencyPasswordSet); len(got) != 1 {
		t.Errorf("password set events = %d, want 1", len(got))
	}

	// Stored blob must be opaque.
	blob, err := env.kv.Get(ctx, passwordBlobKey)
	if err != nil {
		t.Fatalf("stored blob missing: %v", err)
	}
	if blob == "correct horse battery" {
		t.Error("password stored in plaintext")
	}

	session, userID, err := env.controller.RedeemPassword(ctx, "correct horse battery", "203.0.113.1", "curl")
	if err != nil {
		t.Fatalf("RedeemPassword: %v", err)
	}
	if userID != 1 || session == "" {
		t.Errorf("redeem = (%q, %d)", session, userID)
	}
}

func TestWrongPasswordRejected(t *testing.T) {
	env := newTestEnv(t, defaultEmergencyConfig())
	ctx := context.Background()

	env.controller.SetPassword(ctx, "right", "203.0.113.1")
	if _, _, err := env.controller.RedeemPassword(ctx, "wrong", "203.0.113.1", "curl"); !errors.Is(err, ErrInvalidCredential) {
		t.Errorf("err = %v, want ErrInvalidCredential", err)
	}
	if got := env.events.byType(model.EventEmergencyLoginDenied); len(got) != 1 {
		t.Errorf("denied events = %d, want 1", len(got))
	}
}

func TestOneTimePasswordConsumed(t *testing.T) {
	env := newTestEnv(t, defaultEmergencyConfig())
	ctx := context.Background()

	env.controller.SetPassword(ctx, "once", "203.0.113.1")
	if _, _, err := env.controller.RedeemPassword(ctx, "once", "203.0.113.1", "curl"); err != nil {
		t.Fatalf("first redemption: %v", err)
	}
	if _, _, err := env.controller.RedeemPassword(ctx, "once", "203.0.113.1", "curl"); !errors.Is(err, ErrAlreadyConsumed) {
		t.Errorf("second redemption = %v, want ErrAlreadyConsumed", err)
	}
}

func TestPasswordRotationResetsClaim(t *testing.T) {
	env := newTestEnv(t, defaultEmergencyConfig())
	ctx := context.Background()

	env.controller.SetPassword(ctx, "first", "203.0.113.1")
	env.controller.RedeemPassword(ctx, "first", "203.0.113.1", "curl")

	if err := env.controller.SetPassword(ctx, "second", "203.0.113.1"); err != nil {
		t.Fatalf("rotate: %v", err)
	}
	if _, _, err := env.controller.RedeemPassword(ctx, "second", "203.0.113.1", "curl"); err != nil {
		t.Errorf("rotated password redemption = %v, want success", err)
	}
}

func TestReusablePasswordMode(t *testing.T) {
	cfg := defaultEmergencyConfig()
	cfg.OneTimePassword = false
	env := newTestEnv(t, cfg)
	ctx := context.Background()

	env.controller.SetPassword(ctx, "reusable", "203.0.113.1")
	for i := 0; i < 2; i++ {
		if _, _, err := env.controller.RedeemPassword(ctx, "reusable", "203.0.113.1", "curl"); err != nil {
			t.Fatalf("redemption %d: %v", i+1, err)
		}
	}
}
