package filescan

import (
	"context"
	"errors"
	"regexp"

	"github.com/sitewarden/sitewarden/internal/audit"
	"github.com/sitewarden/sitewarden/internal/model"
)

// Upload gate errors.
var (
	// ErrBlockedExtension means the filename carries an executable script
	// extension.
	ErrBlockedExtension = errors.New("filescan: upload has a blocked extension")
	// ErrMaliciousContent means the file body matched a shell signature.
	ErrMaliciousContent = errors.New("filescan: upload matched a malicious signature")
)

// signatureScanLimit bounds how much of an upload body is inspected.
// Injected shell loaders sit at the top of the file.
const signatureScanLimit = 8 * 1024

// shellSignatures are code constructs characteristic of injected web
// shells. Matching any one of them rejects the upload.
var shellSignatures = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\beval\s*\(`),
	regexp.MustCompile(`(?i)\bbase64_decode\s*\(`),
	regexp.MustCompile(`(?i)\bshell_exec\s*\(`),
	regexp.MustCompile(`(?i)\bpassthru\s*\(`),
	regexp.MustCompile(`(?i)\bsystem\s*\(`),
	regexp.MustCompile(`(?i)\bexec\s*\(`),
	regexp.MustCompile(`(?i)\bassert\s*\(`),
	regexp.MustCompile(`(?i)\bcreate_function\s*\(`),
	regexp.MustCompile(`(?i)\bpreg_replace\s*\(.*/e`),
	// call_user_func alone is common in legitimate code; only the eval
	// trampoline form is a shell marker.
	regexp.MustCompile(`(?i)\bcall_user_func\s*\(.*\beval`),
}

// ScanUpload vets an incoming file before it is accepted. The extension
// class is checked first, then the leading bytes of the body are matched
// against the shell signatures. Either finding rejects the upload and is
// recorded at high severity.
func (m *Monitor) ScanUpload(ctx context.Context, filename string, body []byte, originIP string) error {
	if m.isBlockedExtension(filename) {
		m.auditLog.Record(ctx, audit.Entry{
			EventType: model.EventUploadBlocked,
			Severity:  model.SeverityBreach,
			OriginIP:  originIP,
			Payload: map[string]interface{}{
				"filename": filename,
				"reason":   "blocked_extension",
			},
		})
		return ErrBlockedExtension
	}

	sample := body
	if len(sample) > signatureScanLimit {
		sample = sample[:signatureScanLimit]
	}
	for _, signature := range shellSignatures {
		if signature.Match(sample) {
			m.auditLog.Record(ctx, audit.Entry{
				EventType: model.EventShellSignatureDetected,
				Severity:  model.SeverityCritical,
				OriginIP:  originIP,
				Payload: map[string]interface{}{
					"filename":  filename,
					"signature": signature.String(),
				},
			})
			return ErrMaliciousContent
		}
	}

	return nil
}
