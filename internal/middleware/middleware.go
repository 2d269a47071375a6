package middleware

import (
	"github.com/sitewarden/sitewarden/internal/config"
	"github.com/sitewarden/sitewarden/internal/database"
	"github.com/sitewarden/sitewarden/internal/firewall"
	"github.com/sitewarden/sitewarden/internal/logger"
	"github.com/sitewarden/sitewarden/internal/session"
)

// Middleware holds all HTTP middleware
type Middleware struct {
	rdb      *database.Redis
	sink     firewall.Sink
	sessions *session.Manager
	log      *logger.Logger
	cfg      *config.Config
}

// New creates a new Middleware instance. sink may be nil when no blocklist
// backend is configured.
func New(rdb *database.Redis, sink firewall.Sink, sessions *session.Manager, log *logger.Logger, cfg *config.Config) *Middleware {
	return &Middleware{
		rdb:      rdb,
		sink:     sink,
		sessions: sessions,
		log:      log,
		cfg:      cfg,
	}
}
