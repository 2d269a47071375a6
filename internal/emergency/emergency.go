// Package emergency implements the break-glass access path: single-use
// bearer tokens and an encrypted one-time password, both bound to the site
// secret and rate limited. Every attempt, good or bad, lands in the audit
// trail.
package emergency

import (
	"context"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha512"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/sitewarden/sitewarden/internal/audit"
	"github.com/sitewarden/sitewarden/internal/config"
	"github.com/sitewarden/sitewarden/internal/counter"
	"github.com/sitewarden/sitewarden/internal/logger"
	"github.com/sitewarden/sitewarden/internal/model"
	"github.com/sitewarden/sitewarden/internal/origin"
	"github.com/sitewarden/sitewarden/internal/repository"
	"github.com/sitewarden/sitewarden/internal/secretbox"
)

// Service errors.
var (
	// ErrNotConfigured means the feature is disabled or the site secret is
	// missing. The path fails closed.
	ErrNotConfigured = errors.New("emergency: access is not configured")
	// ErrRateLimited means a token was already issued inside the cooldown
	// window.
	ErrRateLimited = errors.New("emergency: token issuance rate limited")
	// ErrInvalidCredential covers unknown, expired, and already-used tokens
	// as well as wrong passwords. Callers must not distinguish further.
	ErrInvalidCredential = errors.New("emergency: invalid credential")
	// ErrAlreadyConsumed means the one-time password was redeemed before.
	ErrAlreadyConsumed = errors.New("emergency: credential already consumed")
)

// Config table keys for the password path.
const (
	passwordBlobKey  = "emergency_password"
	passwordUsedKey  = "emergency_password_used"
	issuanceRateKey  = "emergency:issuance"
	tokenBytesLength = 32
)

// TokenStore is the token persistence surface. *repository.TokenRepository
// implements it.
type TokenStore interface {
	Create(ctx context.Context, token *model.EmergencyToken) error
	Redeem(ctx context.Context, tokenHash string) (int64, error)
	CleanupExpired(ctx context.Context) (int64, error)
}

// KV is the encrypted key/value surface for the password blob and the
// one-time claim marker. *repository.ConfigRepository implements it.
type KV interface {
	Set(ctx context.Context, key, value string) error
	Get(ctx context.Context, key string) (string, error)
	Delete(ctx context.Context, key string) error
	ClaimOnce(ctx context.Context, key string) (bool, error)
}

// SessionEstablisher turns a successful redemption into an authenticated
// session for the bound user.
type SessionEstablisher func(ctx context.Context, userID int64) (string, error)

// Controller issues and redeems emergency credentials.
type Controller struct {
	tokens     TokenStore
	kv         KV
	counters   counter.Store
	auditLog   *audit.Log
	box        *secretbox.Box
	establish  SessionEstablisher
	log        *logger.Logger
	cfg        config.EmergencyConfig
	siteSecret string
}

// NewController creates a Controller. box is nil when no site secret is
// configured; every operation then returns ErrNotConfigured.
func NewController(
	tokens TokenStore,
	kv KV,
	counters counter.Store,
	auditLog *audit.Log,
	box *secretbox.Box,
	establish SessionEstablisher,
	log *logger.Logger,
	cfg config.EmergencyConfig,
	siteSecret string,
) *Controller {
	return &Controller{
		tokens:     tokens,
		kv:         kv,
		counters:   counters,
		auditLog:   auditLog,
		box:        box,
		establish:  establish,
		log:        log.WithComponent("emergency"),
		cfg:        cfg,
		siteSecret: siteSecret,
	}
}

func (c *Controller) configured() bool {
	return c.cfg.Enabled && c.siteSecret != "" && c.box != nil
}

// digest computes the stored form of a bearer token. HMAC keyed with the
// site secret means a leaked table alone cannot be replayed.
func (c *Controller) digest(token string) string {
	mac := hmac.New(sha512.New, []byte(c.siteSecret))
	mac.Write([]byte(token))
	return hex.EncodeToString(mac.Sum(nil))
}

// CreateToken issues a fresh emergency token for the designated user and
// returns the plaintext exactly once. Issuance is limited to one token per
// cooldown window.
func (c *Controller) CreateToken(ctx context.Context, requestIP, requestAgent string) (string, *model.EmergencyToken, error) {
	if !c.configured() {
		return "", nil, ErrNotConfigured
	}

	issued, err := c.counters.Increment(ctx, issuanceRateKey, c.cfg.RateLimitWindow)
	if err != nil {
		return "", nil, fmt.Errorf("emergency: failed to check issuance window: %w", err)
	}
	if issued > 1 {
		return "", nil, ErrRateLimited
	}

	raw := make([]byte, tokenBytesLength)
	if _, err := rand.Read(raw); err != nil {
		return "", nil, fmt.Errorf("emergency: failed to generate token: %w", err)
	}
	plaintext := hex.EncodeToString(raw)

	token := &model.EmergencyToken{
		TokenHash:    c.digest(plaintext),
		UserID:       c.cfg.UserID,
		ExpiresAt:    time.Now().Add(c.cfg.TokenTTL),
		CreatedIP:    optional(requestIP),
		CreatedAgent: optional(requestAgent),
		CreatedAt:    time.Now(),
	}
	if err := c.tokens.Create(ctx, token); err != nil {
		return "", nil, fmt.Errorf("emergency: failed to store token: %w", err)
	}

	c.auditLog.Record(ctx, audit.Entry{
		EventType:   model.EventEmergencyTokenCreated,
		Severity:    model.SeverityBreach,
		ActorUserID: &token.UserID,
		OriginIP:    requestIP,
		UserAgent:   optional(requestAgent),
		Payload: map[string]interface{}{
			"token_id":   token.ID,
			"expires_at": token.ExpiresAt,
		},
	})

	return plaintext, token, nil
}

// RedeemToken validates and consumes a bearer token, establishing a session
// for the bound user. Consumption is atomic: of two concurrent redemptions
// of the same token, exactly one succeeds.
func (c *Controller) RedeemToken(ctx context.Context, plaintext, requestIP, requestAgent string) (string, int64, error) {
	if !c.configured() {
		return "", 0, ErrNotConfigured
	}

	if !origin.Allowed(requestIP, c.cfg.IPAllowlist) {
		c.recordDenied(ctx, requestIP, requestAgent, "ip_not_allowed")
		return "", 0, ErrInvalidCredential
	}

	userID, err := c.tokens.Redeem(ctx, c.digest(plaintext))
	if errors.Is(err, repository.ErrNotFound) {
		c.auditLog.Record(ctx, audit.Entry{
			EventType: model.EventEmergencyTokenInvalid,
			Severity:  model.SeverityCritical,
			OriginIP:  requestIP,
			UserAgent: optional(requestAgent),
		})
		return "", 0, ErrInvalidCredential
	}
	if err != nil {
		return "", 0, fmt.Errorf("emergency: failed to redeem token: %w", err)
	}

	session, err := c.establish(ctx, userID)
	if err != nil {
		return "", 0, fmt.Errorf("emergency: failed to establish session: %w", err)
	}

	c.auditLog.Record(ctx, audit.Entry{
		EventType:   model.EventEmergencyLoginSuccess,
		Severity:    model.SeverityCritical,
		ActorUserID: &userID,
		OriginIP:    requestIP,
		UserAgent:   optional(requestAgent),
		Payload: map[string]interface{}{
			"method": "token",
		},
	})

	return session, userID, nil
}

// SetPassword stores a new emergency password: bcrypt-hashed, then
// encrypted at rest. Setting a password resets the one-time claim so a
// rotated password is usable again.
func (c *Controller) SetPassword(ctx context.Context, password, requestIP string) error {
	if !c.configured() {
		return ErrNotConfigured
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("emergency: failed to hash password: %w", err)
	}
	blob, err := c.box.Encrypt(string(hash))
	if err != nil {
		return fmt.Errorf("emergency: failed to encrypt password: %w", err)
	}

	if err := c.kv.Set(ctx, passwordBlobKey, blob); err != nil {
		return fmt.Errorf("emergency: failed to store password: %w", err)
	}
	if err := c.kv.Delete(ctx, passwordUsedKey); err != nil {
		return fmt.Errorf("emergency: failed to reset password claim: %w", err)
	}

	c.auditLog.Record(ctx, audit.Entry{
		EventType:   model.EventEmergencyPasswordSet,
		Severity:    model.SeverityBreach,
		ActorUserID: &c.cfg.UserID,
		OriginIP:    requestIP,
	})
	return nil
}

// RedeemPassword validates the emergency password and establishes a session
// for the designated user. When one-time mode is on, the first successful
// redemption claims the password; later attempts fail with
// ErrAlreadyConsumed even though the password still matches.
func (c *Controller) RedeemPassword(ctx context.Context, password, requestIP, requestAgent string) (string, int64, error) {
	if !c.configured() {
		return "", 0, ErrNotConfigured
	}

	if !origin.Allowed(requestIP, c.cfg.IPAllowlist) {
		c.recordDenied(ctx, requestIP, requestAgent, "ip_not_allowed")
		return "", 0, ErrInvalidCredential
	}

	blob, err := c.kv.Get(ctx, passwordBlobKey)
	if errors.Is(err, repository.ErrNotFound) {
		c.recordDenied(ctx, requestIP, requestAgent, "no_password_set")
		return "", 0, ErrInvalidCredential
	}
	if err != nil {
		return "", 0, fmt.Errorf("emergency: failed to load password: %w", err)
	}

	hash, err := c.box.Decrypt(blob)
	if err != nil {
		return "", 0, fmt.Errorf("emergency: failed to decrypt password: %w", err)
	}

	if bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) != nil {
		c.recordDenied(ctx, requestIP, requestAgent, "wrong_password")
		return "", 0, ErrInvalidCredential
	}

	if c.cfg.OneTimePassword {
		claimed, err := c.kv.ClaimOnce(ctx, passwordUsedKey)
		if err != nil {
			return "", 0, fmt.Errorf("emergency: failed to claim password: %w", err)
		}
		if !claimed {
			c.recordDenied(ctx, requestIP, requestAgent, "already_consumed")
			return "", 0, ErrAlreadyConsumed
		}
	}

	session, err := c.establish(ctx, c.cfg.UserID)
	if err != nil {
		return "", 0, fmt.Errorf("emergency: failed to establish session: %w", err)
	}

	c.auditLog.Record(ctx, audit.Entry{
		EventType:   model.EventEmergencyLoginSuccess,
		Severity:    model.SeverityCritical,
		ActorUserID: &c.cfg.UserID,
		OriginIP:    requestIP,
		UserAgent:   optional(requestAgent),
		Payload: map[string]interface{}{
			"method": "password",
		},
	})

	return session, c.cfg.UserID, nil
}

// CleanupExpired drops expired token rows. Run periodically by the server.
func (c *Controller) CleanupExpired(ctx context.Context) (int64, error) {
	return c.tokens.CleanupExpired(ctx)
}

func (c *Controller) recordDenied(ctx context.Context, requestIP, requestAgent, reason string) {
	c.auditLog.Record(ctx, audit.Entry{
		EventType: model.EventEmergencyLoginDenied,
		Severity:  model.SeverityCritical,
		OriginIP:  requestIP,
		UserAgent: optional(requestAgent),
		Payload: map[string]interface{}{
			"reason": reason,
		},
	})
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
