// Package filescan implements file integrity monitoring: a SHA-256 baseline
// over the watched roots, incremental diff scans, quarantine of suspicious
// files, and the upload gate.
package filescan

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/sitewarden/sitewarden/internal/audit"
	"github.com/sitewarden/sitewarden/internal/config"
	"github.com/sitewarden/sitewarden/internal/logger"
	"github.com/sitewarden/sitewarden/internal/model"
)

// ModeProtect enables quarantine of flagged files; any other mode only
// records events.
const ModeProtect = "protect"

// quarantinedFileMode makes quarantined files inert and read only.
const quarantinedFileMode = 0o444

// quarantinePrefix keys the original-path to quarantine-path mappings.
const quarantinePrefix = "quarantine:"

// ChecksumStore is the baseline persistence surface.
// *repository.ChecksumRepository implements it.
type ChecksumStore interface {
	DeleteAll(ctx context.Context) error
	Upsert(ctx context.Context, filePath, sha256, status string) error
	Baseline(ctx context.Context) (map[string]string, error)
	MarkMissing(ctx context.Context, filePath string) error
	CountActive(ctx context.Context) (int, error)
}

// KV records quarantine mappings so originals can be restored by hand.
// *repository.ConfigRepository implements it.
type KV interface {
	Set(ctx context.Context, key, value string) error
	Delete(ctx context.Context, key string) error
	ListPrefix(ctx context.Context, prefix string) (map[string]string, error)
}

// Monitor owns the baseline and runs the scans.
type Monitor struct {
	checksums ChecksumStore
	kv        KV
	auditLog  *audit.Log
	log       *logger.Logger
	cfg       config.FileScanConfig
}

// NewMonitor creates a Monitor.
func NewMonitor(checksums ChecksumStore, kv KV, auditLog *audit.Log, log *logger.Logger, cfg config.FileScanConfig) *Monitor {
	return &Monitor{
		checksums: checksums,
		kv:        kv,
		auditLog:  auditLog,
		log:       log.WithComponent("filescan"),
		cfg:       cfg,
	}
}

// CreateBaseline rebuilds the baseline from scratch and returns the number
// of files recorded. Unreadable files are logged and skipped so one bad
// file cannot abort the walk.
func (m *Monitor) CreateBaseline(ctx context.Context) (int, error) {
	if err := m.checksums.DeleteAll(ctx); err != nil {
		return 0, err
	}

	count := 0
	err := m.walk(ctx, func(path string) {
		hash, err := hashFile(path)
		if err != nil {
			m.log.Warn().Err(err).Str("path", path).Msg("Skipping unreadable file")
			return
		}
		if err := m.checksums.Upsert(ctx, path, hash, model.ChecksumActive); err != nil {
			m.log.Error().Err(err).Str("path", path).Msg("Failed to record checksum")
			return
		}
		count++
	})
	if err != nil {
		return count, err
	}

	m.log.Info().Int("files", count).Msg("Baseline created")
	return count, nil
}

// RunIncrementalScan diffs the watched roots against the baseline, records
// the findings, quarantines flagged files in protect mode, and re-baselines
// so the next scan starts from the current state.
func (m *Monitor) RunIncrementalScan(ctx context.Context) (*model.ScanResult, error) {
	baseline, err := m.checksums.Baseline(ctx)
	if err != nil {
		return nil, err
	}

	result := &model.ScanResult{}
	seen := make(map[string]string)

	err = m.walk(ctx, func(path string) {
		hash, err := hashFile(path)
		if err != nil {
			m.log.Warn().Err(err).Str("path", path).Msg("Skipping unreadable file")
			return
		}
		seen[path] = hash
		result.Scanned++

		oldHash, known := baseline[path]
		switch {
		case !known:
			result.NewFiles = append(result.NewFiles, path)
		case oldHash != hash:
			result.Changes = append(result.Changes, model.FileChange{
				FilePath: path,
				OldHash:  oldHash,
				NewHash:  hash,
			})
		}
	})
	if err != nil {
		return nil, err
	}

	for path := range baseline {
		if _, ok := seen[path]; ok {
			continue
		}
		// A path the walk skipped (unreadable file, errored directory) is
		// still on disk; only a confirmed deletion counts as missing.
		if _, err := os.Stat(path); err == nil || !os.IsNotExist(err) {
			continue
		}
		result.MissingFiles = append(result.MissingFiles, path)
	}
	sort.Strings(result.MissingFiles)

	if m.cfg.Mode == ModeProtect {
		m.quarantineFindings(ctx, result, seen)
	}

	m.rebaseline(ctx, result, seen)

	if result.HasFindings() {
		m.auditLog.Record(ctx, audit.Entry{
			EventType: model.EventFileIntegrityChange,
			Severity:  model.SeverityHigh,
			Payload: map[string]interface{}{
				"scanned":       result.Scanned,
				"changes":       result.Changes,
				"new_files":     result.NewFiles,
				"missing_files": result.MissingFiles,
				"quarantined":   result.Quarantined,
			},
		})
	}

	return result, nil
}

// quarantineFindings moves every changed and new file out of the watched
// roots. A defaced file is as compromised as a dropped script, so no
// extension filter applies here; quarantine failures are logged and the
// file is left in place.
func (m *Monitor) quarantineFindings(ctx context.Context, result *model.ScanResult, seen map[string]string) {
	var candidates []string
	candidates = append(candidates, result.NewFiles...)
	for _, change := range result.Changes {
		candidates = append(candidates, change.FilePath)
	}

	for _, path := range candidates {
		dest, err := m.Quarantine(ctx, path)
		if err != nil {
			m.log.Error().Err(err).Str("path", path).Msg("Failed to quarantine file")
			continue
		}
		result.Quarantined = append(result.Quarantined, path)
		// The file is gone from its original location.
		delete(seen, path)
		m.log.Warn().Str("path", path).Str("quarantine", dest).Msg("File quarantined")
	}
}

// Quarantine moves one file into the quarantine directory under a
// timestamped name, strips its permissions, and records the mapping so the
// original location is recoverable.
func (m *Monitor) Quarantine(ctx context.Context, path string) (string, error) {
	if m.cfg.QuarantineDir == "" {
		return "", fmt.Errorf("quarantine directory not configured")
	}
	if err := os.MkdirAll(m.cfg.QuarantineDir, 0o700); err != nil {
		return "", fmt.Errorf("failed to create quarantine directory: %w", err)
	}

	dest := filepath.Join(m.cfg.QuarantineDir,
		fmt.Sprintf("%s.%d", filepath.Base(path), time.Now().Unix()))

	if err := os.Rename(path, dest); err != nil {
		return "", fmt.Errorf("failed to move %q to quarantine: %w", path, err)
	}
	if err := os.Chmod(dest, quarantinedFileMode); err != nil {
		m.log.Warn().Err(err).Str("path", dest).Msg("Failed to strip quarantined file permissions")
	}
	if err := m.kv.Set(ctx, quarantinePrefix+path, dest); err != nil {
		m.log.Error().Err(err).Str("path", path).Msg("Failed to record quarantine mapping")
	}
	return dest, nil
}

// ListQuarantined returns the recorded original-path to quarantine-path
// mappings.
func (m *Monitor) ListQuarantined(ctx context.Context) (map[string]string, error) {
	entries, err := m.kv.ListPrefix(ctx, quarantinePrefix)
	if err != nil {
		return nil, err
	}
	mappings := make(map[string]string, len(entries))
	for key, dest := range entries {
		mappings[strings.TrimPrefix(key, quarantinePrefix)] = dest
	}
	return mappings, nil
}

// Restore moves a quarantined file back to its original location, restores
// write permission, and clears the mapping. The restored content re-enters
// the baseline on the next scan.
func (m *Monitor) Restore(ctx context.Context, path string) error {
	entries, err := m.kv.ListPrefix(ctx, quarantinePrefix+path)
	if err != nil {
		return err
	}
	dest, ok := entries[quarantinePrefix+path]
	if !ok {
		return fmt.Errorf("no quarantine record for %q", path)
	}

	if err := os.Rename(dest, path); err != nil {
		return fmt.Errorf("failed to restore %q: %w", path, err)
	}
	if err := os.Chmod(path, 0o644); err != nil {
		m.log.Warn().Err(err).Str("path", path).Msg("Failed to restore file permissions")
	}
	if err := m.kv.Delete(ctx, quarantinePrefix+path); err != nil {
		m.log.Error().Err(err).Str("path", path).Msg("Failed to clear quarantine mapping")
	}

	m.auditLog.Record(ctx, audit.Entry{
		EventType: model.EventFileRestored,
		Severity:  model.SeverityNotice,
		Payload: map[string]interface{}{
			"path":            path,
			"quarantine_path": dest,
		},
	})
	return nil
}

// rebaseline refreshes the stored baseline to the just-observed state so
// a change is reported exactly once.
func (m *Monitor) rebaseline(ctx context.Context, result *model.ScanResult, seen map[string]string) {
	for path, hash := range seen {
		if err := m.checksums.Upsert(ctx, path, hash, model.ChecksumActive); err != nil {
			m.log.Error().Err(err).Str("path", path).Msg("Failed to refresh checksum")
		}
	}
	for _, path := range result.MissingFiles {
		if err := m.checksums.MarkMissing(ctx, path); err != nil {
			m.log.Error().Err(err).Str("path", path).Msg("Failed to mark checksum missing")
		}
	}
	for _, path := range result.Quarantined {
		if err := m.checksums.MarkMissing(ctx, path); err != nil {
			m.log.Error().Err(err).Str("path", path).Msg("Failed to mark quarantined checksum missing")
		}
	}
}

// walk visits every regular file under the configured roots, honoring the
// skip lists and stopping early when the context is canceled.
func (m *Monitor) walk(ctx context.Context, visit func(path string)) error {
	for _, root := range m.cfg.Roots {
		err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				m.log.Warn().Err(err).Str("path", path).Msg("Skipping unreadable entry")
				if d != nil && d.IsDir() {
					return fs.SkipDir
				}
				return nil
			}
			if err := ctx.Err(); err != nil {
				return err
			}
			if d.IsDir() {
				if m.isSkippedDir(d.Name()) {
					return fs.SkipDir
				}
				return nil
			}
			if !d.Type().IsRegular() {
				return nil
			}
			if m.isSkippedExtension(path) {
				return nil
			}
			visit(path)
			return nil
		})
		if err != nil {
			return err
		}
	}
	return nil
}

func (m *Monitor) isSkippedDir(name string) bool {
	for _, skip := range m.cfg.SkipDirs {
		if name == skip {
			return true
		}
	}
	return false
}

func (m *Monitor) isSkippedExtension(path string) bool {
	ext := normalizeExt(path)
	for _, skip := range m.cfg.SkipExtensions {
		if ext == strings.ToLower(strings.TrimPrefix(skip, ".")) {
			return true
		}
	}
	return false
}

func (m *Monitor) isBlockedExtension(path string) bool {
	ext := normalizeExt(path)
	for _, allowed := range m.cfg.AllowedUploadExtensions {
		if ext == strings.ToLower(strings.TrimPrefix(allowed, ".")) {
			return false
		}
	}
	for _, blocked := range m.cfg.BlockedUploadExtensions {
		if ext == strings.ToLower(strings.TrimPrefix(blocked, ".")) {
			return true
		}
	}
	return false
}

func normalizeExt(path string) string {
	return strings.ToLower(strings.TrimPrefix(filepath.Ext(path), "."))
}

func hashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
