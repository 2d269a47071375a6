package middleware

import (
	"net/http"

	"github.com/sitewarden/sitewarden/internal/origin"
)

// Blocklist rejects requests from origins the detection engine has blocked.
// Lookup failures fail open; blocking is a hardening layer, not an
// availability dependency.
func (m *Middleware) Blocklist(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if m.sink == nil {
			next.ServeHTTP(w, r)
			return
		}

		ip := origin.FromRequest(r)
		blocked, err := m.sink.Blocked(r.Context(), ip)
		if err != nil {
			m.log.Error().Err(err).Str("origin", ip).Msg("failed to check blocklist")
			next.ServeHTTP(w, r)
			return
		}
		if blocked {
			m.log.Warn().Str("origin", ip).Str("path", r.URL.Path).Msg("blocked origin rejected")
			http.Error(w, `{"error":"forbidden","message":"Access denied"}`, http.StatusForbidden)
			return
		}

		next.ServeHTTP(w, r)
	})
}
