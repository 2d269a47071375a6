package model

import "time"

// EmergencyToken is the stored form of an issued emergency access token.
// Only the HMAC-SHA512 digest of the bearer token is persisted; the
// plaintext is returned to the caller exactly once at creation.
type EmergencyToken struct {
	ID           int64     `json:"id"`
	TokenHash    string    `json:"-"`
	UserID       int64     `json:"userId"`
	ExpiresAt    time.Time `json:"expiresAt"`
	Used         bool      `json:"used"`
	CreatedIP    *string   `json:"createdIp,omitempty"`
	CreatedAgent *string   `json:"createdAgent,omitempty"`
	CreatedAt    time.Time `json:"createdAt"`
}

// IsExpired reports whether the token has passed its expiry.
func (t *EmergencyToken) IsExpired() bool {
	return time.Now().After(t.ExpiresAt)
}
