package router

import (
	"net/http"
	"time"

	"github.com/sitewarden/sitewarden/internal/handler"
	"github.com/sitewarden/sitewarden/internal/middleware"
)

// New creates and configures the HTTP router
func New(h *handler.Handler, mw *middleware.Middleware, emergencySlug string) http.Handler {
	mux := http.NewServeMux()

	// Health check endpoints (no auth required)
	mux.HandleFunc("GET /health", h.Health)
	mux.HandleFunc("GET /ready", h.Ready)

	// Host integration endpoints (ingest key authenticated)
	mux.HandleFunc("POST /api/v1/ingest/login", h.ReportLogin)
	mux.HandleFunc("POST /api/v1/ingest/upload", h.VetUpload)

	// Emergency access endpoints (rate limited, deliberately unlisted path)
	emergencyRateLimit := mw.RateLimit(middleware.RateLimitConfig{
		Limit:  10,
		Window: 15 * time.Minute,
		KeyFn:  middleware.IPKey,
	})
	mux.Handle("GET /"+emergencySlug, emergencyRateLimit(http.HandlerFunc(h.EmergencyEntry)))
	mux.Handle("POST /"+emergencySlug, emergencyRateLimit(http.HandlerFunc(h.EmergencyPassword)))

	// Admin API (session authenticated)
	admin := func(fn http.HandlerFunc) http.Handler {
		return mw.Auth(fn)
	}
	mux.Handle("GET /api/v1/admin/events", admin(h.ListEvents))
	mux.Handle("POST /api/v1/admin/events/prune", admin(h.PruneEvents))
	mux.Handle("POST /api/v1/admin/emergency/token", admin(h.CreateEmergencyToken))
	mux.Handle("POST /api/v1/admin/emergency/password", admin(h.SetEmergencyPassword))
	mux.Handle("POST /api/v1/admin/scan/baseline", admin(h.CreateBaseline))
	mux.Handle("POST /api/v1/admin/scan/run", admin(h.RunScan))
	mux.Handle("GET /api/v1/admin/ghost", admin(h.ListHiddenUsers))
	mux.Handle("POST /api/v1/admin/ghost/hide", admin(h.HideUser))
	mux.Handle("POST /api/v1/admin/ghost/unhide", admin(h.UnhideUser))
	mux.Handle("POST /api/v1/admin/alerts/test", admin(h.TestAlert))
	mux.Handle("GET /api/v1/admin/settings", admin(h.Settings))

	// Middleware stack: recover outermost, then request metadata, logging,
	// and the origin blocklist in front of every route.
	var root http.Handler = mux
	root = mw.Blocklist(root)
	root = mw.Logger(root)
	root = mw.Timing(root)
	root = mw.RequestID(root)
	root = mw.Recover(root)

	return root
}
