package model

import "time"

// AuditEvent represents a single entry in the security audit log.
// Events are immutable once written; only Processed flips when a
// downstream job consumes the event.
type AuditEvent struct {
	ID          string                 `json:"id"`
	EventType   string                 `json:"eventType"`
	Severity    int                    `json:"severity"`
	ActorUserID *int64                 `json:"actorUserId,omitempty"`
	ActorName   *string                `json:"actorName,omitempty"`
	OriginIP    string                 `json:"originIp"`
	UserAgent   *string                `json:"userAgent,omitempty"`
	Payload     map[string]interface{} `json:"payload,omitempty"`
	CreatedAt   time.Time              `json:"createdAt"`
	Processed   bool                   `json:"processed"`
}

// Event type constants
const (
	EventLoginFailed            = "login_failed"
	EventLoginSuccess           = "login_success"
	EventThresholdExceeded      = "threshold_exceeded"
	EventOriginBlocked          = "origin_blocked"
	EventFileIntegrityChange    = "file_integrity_change"
	EventFileRestored           = "file_restored"
	EventUploadBlocked          = "upload_blocked"
	EventShellSignatureDetected = "shell_signature_detected"
	EventEmergencyTokenCreated  = "emergency_token_created"
	EventEmergencyTokenInvalid  = "emergency_token_invalid"
	EventEmergencyLoginSuccess  = "emergency_login_success"
	EventEmergencyLoginDenied   = "emergency_login_denied"
	EventEmergencyPasswordSet   = "emergency_password_set"
	EventAlertDeliveryFailed    = "alert_delivery_failed"
	EventUserHidden             = "user_hidden"
	EventUserUnhidden           = "user_unhidden"
)

// Severity levels used across the engines. The scale runs 1 (informational)
// to 10 (critical); events at or above the configured alert threshold are
// handed to the alert dispatcher.
const (
	SeverityLow      = 3
	SeverityInfo     = 4
	SeverityNotice   = 6
	SeverityHigh     = 7
	SeverityBreach   = 8
	SeverityCritical = 9
)
