package handler

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/sitewarden/sitewarden/internal/audit"
	"github.com/sitewarden/sitewarden/internal/emergency"
	"github.com/sitewarden/sitewarden/internal/model"
	"github.com/sitewarden/sitewarden/internal/origin"
	"github.com/sitewarden/sitewarden/internal/repository"
)

// ListEvents returns a filtered page of the audit trail.
func (h *Handler) ListEvents(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	filter := repository.EventFilter{
		EventType: q.Get("event_type"),
		FreeText:  q.Get("q"),
	}
	if raw := q.Get("severity"); raw != "" {
		severity, err := strconv.Atoi(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "bad_request", "severity must be an integer")
			return
		}
		filter.Severity = &severity
	}
	if raw := q.Get("user_id"); raw != "" {
		userID, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, "bad_request", "user_id must be an integer")
			return
		}
		filter.UserID = &userID
	}
	filter.Page, _ = strconv.Atoi(q.Get("page"))
	filter.PerPage, _ = strconv.Atoi(q.Get("per_page"))

	page, err := h.auditLog.Query(r.Context(), filter)
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to query audit events")
		writeError(w, http.StatusInternalServerError, "internal_error", "Failed to query events")
		return
	}
	writeJSON(w, http.StatusOK, page)
}

// PruneEvents removes events past the retention window on demand.
func (h *Handler) PruneEvents(w http.ResponseWriter, r *http.Request) {
	deleted, err := h.auditLog.Prune(r.Context())
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to prune audit events")
		writeError(w, http.StatusInternalServerError, "internal_error", "Failed to prune events")
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"deleted": deleted})
}

// CreateEmergencyToken issues a break-glass token. The plaintext appears in
// this response and nowhere else.
func (h *Handler) CreateEmergencyToken(w http.ResponseWriter, r *http.Request) {
	plaintext, token, err := h.emergencyCtl.CreateToken(r.Context(), origin.FromRequest(r), r.UserAgent())
	switch {
	case errors.Is(err, emergency.ErrNotConfigured):
		writeError(w, http.StatusConflict, "not_configured", "Emergency access is not configured")
		return
	case errors.Is(err, emergency.ErrRateLimited):
		writeError(w, http.StatusTooManyRequests, "rate_limited", "A token was issued recently; wait for the cooldown")
		return
	case err != nil:
		h.log.Error().Err(err).Msg("Failed to create emergency token")
		writeError(w, http.StatusInternalServerError, "internal_error", "Failed to create token")
		return
	}

	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"token":      plaintext,
		"login_url":  "/" + h.cfg.Emergency.PathSlug + "?t=" + plaintext,
		"expires_at": token.ExpiresAt,
	})
}

// SetEmergencyPassword stores a new emergency password.
func (h *Handler) SetEmergencyPassword(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Password string `json:"password"`
	}
	if err := readJSON(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "Malformed JSON body")
		return
	}
	if len(body.Password) < 12 {
		writeError(w, http.StatusBadRequest, "bad_request", "Password must be at least 12 characters")
		return
	}

	err := h.emergencyCtl.SetPassword(r.Context(), body.Password, origin.FromRequest(r))
	switch {
	case errors.Is(err, emergency.ErrNotConfigured):
		writeError(w, http.StatusConflict, "not_configured", "Emergency access is not configured")
	case err != nil:
		h.log.Error().Err(err).Msg("Failed to set emergency password")
		writeError(w, http.StatusInternalServerError, "internal_error", "Failed to set password")
	default:
		writeJSON(w, http.StatusOK, map[string]string{"status": "password_set"})
	}
}

// CreateBaseline rebuilds the file integrity baseline.
func (h *Handler) CreateBaseline(w http.ResponseWriter, r *http.Request) {
	count, err := h.monitor.CreateBaseline(r.Context())
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to create baseline")
		writeError(w, http.StatusInternalServerError, "internal_error", "Failed to create baseline")
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"files": count})
}

// RunScan triggers an incremental integrity scan and returns the findings.
func (h *Handler) RunScan(w http.ResponseWriter, r *http.Request) {
	result, err := h.monitor.RunIncrementalScan(r.Context())
	if err != nil {
		h.log.Error().Err(err).Msg("Scan failed")
		writeError(w, http.StatusInternalServerError, "internal_error", "Scan failed")
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// HideUser marks a user as hidden from listings.
func (h *Handler) HideUser(w http.ResponseWriter, r *http.Request) {
	var body struct {
		UserID int64   `json:"user_id"`
		Note   *string `json:"note,omitempty"`
	}
	if err := readJSON(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "Malformed JSON body")
		return
	}
	if body.UserID <= 0 {
		writeError(w, http.StatusBadRequest, "bad_request", "user_id is required")
		return
	}

	if err := h.ghostSvc.Hide(r.Context(), body.UserID, body.Note, origin.FromRequest(r)); err != nil {
		h.log.Error().Err(err).Msg("Failed to hide user")
		writeError(w, http.StatusInternalServerError, "internal_error", "Failed to hide user")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "hidden"})
}

// UnhideUser removes the hidden marker from a user.
func (h *Handler) UnhideUser(w http.ResponseWriter, r *http.Request) {
	var body struct {
		UserID int64 `json:"user_id"`
	}
	if err := readJSON(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "Malformed JSON body")
		return
	}

	if err := h.ghostSvc.Unhide(r.Context(), body.UserID, origin.FromRequest(r)); err != nil {
		h.log.Error().Err(err).Msg("Failed to unhide user")
		writeError(w, http.StatusInternalServerError, "internal_error", "Failed to unhide user")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "visible"})
}

// ListHiddenUsers returns all hidden-user markers.
func (h *Handler) ListHiddenUsers(w http.ResponseWriter, r *http.Request) {
	users, err := h.ghostSvc.List(r.Context())
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to list hidden users")
		writeError(w, http.StatusInternalServerError, "internal_error", "Failed to list hidden users")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"hidden_users": users})
}

// TestAlert records a high-severity test event so operators can verify the
// alert channels end to end.
func (h *Handler) TestAlert(w http.ResponseWriter, r *http.Request) {
	eventID := h.auditLog.Record(r.Context(), audit.Entry{
		EventType: "alert_channel_test",
		Severity:  model.SeverityHigh,
		OriginIP:  origin.FromRequest(r),
		Payload: map[string]interface{}{
			"triggered_by": "admin_api",
		},
	})
	writeJSON(w, http.StatusOK, map[string]string{"event_id": eventID})
}

// Settings returns a redacted snapshot of the security configuration.
func (h *Handler) Settings(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"detection": map[string]interface{}{
			"enabled":   h.cfg.Detection.Enabled,
			"threshold": h.cfg.Detection.Threshold,
			"mode":      h.cfg.Detection.Mode,
		},
		"emergency": map[string]interface{}{
			"enabled":           h.cfg.Emergency.Enabled,
			"one_time_password": h.cfg.Emergency.OneTimePassword,
			"allowlist_size":    len(h.cfg.Emergency.IPAllowlist),
		},
		"filescan": map[string]interface{}{
			"enabled": h.cfg.FileScan.Enabled,
			"mode":    h.cfg.FileScan.Mode,
			"roots":   h.cfg.FileScan.Roots,
		},
		"audit": map[string]interface{}{
			"retention_days":  h.cfg.Audit.RetentionDays,
			"anonymize_ips":   h.cfg.Audit.AnonymizeIPs,
			"alert_threshold": h.cfg.Audit.AlertThreshold,
		},
		"alerts": map[string]interface{}{
			"channels": h.cfg.Alerts.Channels,
		},
		"ghost": map[string]interface{}{
			"enabled":       h.cfg.Ghost.Enabled,
			"proxy_user_id": h.cfg.Ghost.ProxyUserID,
		},
	})
}
