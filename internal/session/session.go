// Package session mints and validates the signed session tokens handed out
// after a successful emergency redemption.
package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrInvalidSession means the token failed signature or claim validation.
var ErrInvalidSession = errors.New("session: invalid session token")

// Claims are the session JWT claims.
type Claims struct {
	UserID    int64 `json:"uid"`
	Emergency bool  `json:"emergency"`
	jwt.RegisteredClaims
}

// Manager signs and verifies session tokens with an HS256 key derived from
// the site secret.
type Manager struct {
	secret []byte
	ttl    time.Duration
	issuer string
}

// NewManager creates a Manager.
func NewManager(siteSecret string, ttl time.Duration, issuer string) *Manager {
	return &Manager{secret: []byte(siteSecret), ttl: ttl, issuer: issuer}
}

// Establish mints a session token for the user. Implements the
// emergency.SessionEstablisher signature.
func (m *Manager) Establish(_ context.Context, userID int64) (string, error) {
	now := time.Now()
	claims := Claims{
		UserID:    userID,
		Emergency: true,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    m.issuer,
			Subject:   fmt.Sprintf("%d", userID),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(m.ttl)),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(m.secret)
	if err != nil {
		return "", fmt.Errorf("session: failed to sign token: %w", err)
	}
	return signed, nil
}

// Verify parses and validates a session token, returning its claims.
func (m *Manager) Verify(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return m.secret, nil
	}, jwt.WithIssuer(m.issuer), jwt.WithExpirationRequired())
	if err != nil {
		return nil, ErrInvalidSession
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, ErrInvalidSession
	}
	return claims, nil
}
