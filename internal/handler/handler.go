package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/sitewarden/sitewarden/internal/audit"
	"github.com/sitewarden/sitewarden/internal/config"
	"github.com/sitewarden/sitewarden/internal/database"
	"github.com/sitewarden/sitewarden/internal/detect"
	"github.com/sitewarden/sitewarden/internal/emergency"
	"github.com/sitewarden/sitewarden/internal/filescan"
	"github.com/sitewarden/sitewarden/internal/ghost"
	"github.com/sitewarden/sitewarden/internal/logger"
)

// Handler holds all HTTP handlers
type Handler struct {
	db           *database.Postgres
	rdb          *database.Redis
	log          *logger.Logger
	cfg          *config.Config
	auditLog     *audit.Log
	detector     *detect.Detector
	monitor      *filescan.Monitor
	emergencyCtl *emergency.Controller
	ghostSvc     *ghost.Service
}

// New creates a new Handler instance
func New(
	db *database.Postgres,
	rdb *database.Redis,
	log *logger.Logger,
	cfg *config.Config,
	auditLog *audit.Log,
	detector *detect.Detector,
	monitor *filescan.Monitor,
	emergencyCtl *emergency.Controller,
	ghostSvc *ghost.Service,
) *Handler {
	return &Handler{
		db:           db,
		rdb:          rdb,
		log:          log,
		cfg:          cfg,
		auditLog:     auditLog,
		detector:     detector,
		monitor:      monitor,
		emergencyCtl: emergencyCtl,
		ghostSvc:     ghostSvc,
	}
}

// JSON helper functions

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, map[string]interface{}{
		"error": map[string]interface{}{
			"code":    code,
			"message": message,
		},
	})
}

func readJSON(r *http.Request, v interface{}) error {
	if r.Body == nil {
		return errors.New("request body is empty")
	}
	defer r.Body.Close()

	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	return decoder.Decode(v)
}
