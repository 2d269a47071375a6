package model

import "time"

// Checksum record status values
const (
	ChecksumActive  = "active"
	ChecksumMissing = "missing"
)

// FileChecksum is one entry in the file integrity baseline.
type FileChecksum struct {
	ID          int64     `json:"id"`
	FilePath    string    `json:"filePath"`
	SHA256      string    `json:"sha256"`
	LastChecked time.Time `json:"lastChecked"`
	Status      string    `json:"status"`
}

// FileChange describes a baseline entry whose content hash changed.
type FileChange struct {
	FilePath string `json:"file_path"`
	OldHash  string `json:"old_hash"`
	NewHash  string `json:"new_hash"`
}

// ScanResult summarizes one incremental integrity scan.
type ScanResult struct {
	Scanned      int          `json:"scanned"`
	Changes      []FileChange `json:"changes"`
	NewFiles     []string     `json:"new_files"`
	MissingFiles []string     `json:"missing_files"`
	Quarantined  []string     `json:"quarantined,omitempty"`
}

// HasFindings reports whether the scan detected any deviation from the baseline.
func (r *ScanResult) HasFindings() bool {
	return len(r.Changes) > 0 || len(r.NewFiles) > 0 || len(r.MissingFiles) > 0
}
