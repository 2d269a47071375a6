package handler

import (
	"crypto/subtle"
	"net/http"

	"github.com/sitewarden/sitewarden/internal/origin"
)

// loginReport is the payload host integrations post for each login attempt.
type loginReport struct {
	Username string `json:"username"`
	UserID   int64  `json:"user_id,omitempty"`
	Success  bool   `json:"success"`
	// IP overrides the transport-level origin when the reporter sits behind
	// the protected host rather than the client.
	IP        string `json:"ip,omitempty"`
	UserAgent string `json:"user_agent,omitempty"`
}

// requireIngestKey authenticates host integrations with the shared site
// secret.
func (h *Handler) requireIngestKey(w http.ResponseWriter, r *http.Request) bool {
	key := r.Header.Get("X-Sitewarden-Key")
	if key == "" || subtle.ConstantTimeCompare([]byte(key), []byte(h.cfg.Security.SiteSecret)) != 1 {
		writeError(w, http.StatusUnauthorized, "unauthorized", "Invalid ingest key")
		return false
	}
	return true
}

// ReportLogin feeds a login outcome into the detection engine.
func (h *Handler) ReportLogin(w http.ResponseWriter, r *http.Request) {
	if !h.requireIngestKey(w, r) {
		return
	}

	var report loginReport
	if err := readJSON(r, &report); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "Malformed JSON body")
		return
	}
	if report.Username == "" {
		writeError(w, http.StatusBadRequest, "bad_request", "username is required")
		return
	}

	ip := report.IP
	if ip == "" {
		ip = origin.FromRequest(r)
	}

	if report.Success {
		h.detector.OnLoginSucceeded(r.Context(), report.UserID, report.Username, ip, report.UserAgent)
	} else {
		h.detector.OnLoginFailed(r.Context(), report.Username, ip, report.UserAgent)
	}

	writeJSON(w, http.StatusAccepted, map[string]string{"status": "recorded"})
}
