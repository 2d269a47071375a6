package handler

import (
	"errors"
	"io"
	"net/http"

	"github.com/sitewarden/sitewarden/internal/filescan"
	"github.com/sitewarden/sitewarden/internal/origin"
)

// maxUploadBytes bounds how much of an upload the gate will buffer.
const maxUploadBytes = 32 << 20

// VetUpload runs an uploaded file through the extension and signature
// checks. Host integrations call this before accepting the file.
func (h *Handler) VetUpload(w http.ResponseWriter, r *http.Request) {
	if !h.requireIngestKey(w, r) {
		return
	}

	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "Malformed multipart body")
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "file field is required")
		return
	}
	defer file.Close()

	body, err := io.ReadAll(io.LimitReader(file, maxUploadBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "Failed to read upload")
		return
	}

	err = h.monitor.ScanUpload(r.Context(), header.Filename, body, origin.FromRequest(r))
	switch {
	case errors.Is(err, filescan.ErrBlockedExtension):
		writeJSON(w, http.StatusUnprocessableEntity, map[string]string{
			"verdict": "rejected",
			"reason":  "blocked_extension",
		})
	case errors.Is(err, filescan.ErrMaliciousContent):
		writeJSON(w, http.StatusUnprocessableEntity, map[string]string{
			"verdict": "rejected",
			"reason":  "malicious_content",
		})
	case err != nil:
		writeError(w, http.StatusInternalServerError, "internal_error", "Scan failed")
	default:
		writeJSON(w, http.StatusOK, map[string]string{"verdict": "clean"})
	}
}
