package handler

import (
	"errors"
	"net/http"
	"time"

	"github.com/sitewarden/sitewarden/internal/emergency"
	"github.com/sitewarden/sitewarden/internal/origin"
)

// EmergencyEntry serves the disguised break-glass endpoint. A request with a
// "t" query parameter attempts token redemption; without one it renders the
// password form so the path looks like an ordinary login page.
func (h *Handler) EmergencyEntry(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("t")
	if token == "" {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Write([]byte(emergencyFormHTML))
		return
	}

	session, userID, err := h.emergencyCtl.RedeemToken(r.Context(), token, origin.FromRequest(r), r.UserAgent())
	if err != nil {
		h.writeEmergencyError(w, err)
		return
	}

	h.setSessionCookie(w, session)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":  "authenticated",
		"user_id": userID,
	})
}

// EmergencyPassword handles password-mode redemption posted from the form.
func (h *Handler) EmergencyPassword(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "Malformed form data")
		return
	}
	password := r.PostFormValue("password")
	if password == "" {
		writeError(w, http.StatusBadRequest, "bad_request", "Password is required")
		return
	}

	session, userID, err := h.emergencyCtl.RedeemPassword(r.Context(), password, origin.FromRequest(r), r.UserAgent())
	if err != nil {
		h.writeEmergencyError(w, err)
		return
	}

	h.setSessionCookie(w, session)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":  "authenticated",
		"user_id": userID,
	})
}

// writeEmergencyError maps service errors to responses. Invalid and consumed
// credentials share one message so the endpoint leaks nothing about which
// credentials exist.
func (h *Handler) writeEmergencyError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, emergency.ErrNotConfigured):
		writeError(w, http.StatusNotFound, "not_found", "Not found")
	case errors.Is(err, emergency.ErrInvalidCredential),
		errors.Is(err, emergency.ErrAlreadyConsumed):
		writeError(w, http.StatusUnauthorized, "unauthorized", "Invalid credentials")
	case errors.Is(err, emergency.ErrRateLimited):
		writeError(w, http.StatusTooManyRequests, "rate_limited", "Try again later")
	default:
		writeError(w, http.StatusInternalServerError, "internal_error", "An unexpected error occurred")
	}
}

func (h *Handler) setSessionCookie(w http.ResponseWriter, session string) {
	http.SetCookie(w, &http.Cookie{
		Name:     "sitewarden_session",
		Value:    session,
		Path:     "/",
		MaxAge:   int(h.cfg.Security.SessionTTL / time.Second),
		HttpOnly: true,
		Secure:   true,
		SameSite: http.SameSiteStrictMode,
	})
}

const emergencyFormHTML = `<!DOCTYPE html>
<html lang="en">
<head><meta charset="UTF-8"><title>Sign in</title></head>
<body>
<form method="post">
  <label for="password">Password</label>
  <input type="password" id="password" name="password" autocomplete="off">
  <button type="submit">Sign in</button>
</form>
</body>
</html>`
