package stems

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"
)

// MetadataFileName is the sidecar file written next to stem files.
const MetadataFileName = "metadata.json"

// Metadata is the sidecar document stored alongside a set of stems. The field
// set is shared between library entries and private job outputs so the
// recovery scanner can read both.
type Metadata struct {
	ContentID     string             `json:"content_id,omitempty"`
	SourceURL     string             `json:"source_url,omitempty"`
	DisplayName   string             `json:"display_name,omitempty"`
	Duration      float64            `json:"duration,omitempty"`
	Quality       string             `json:"quality,omitempty"`
	Mode          string             `json:"mode,omitempty"`
	Tempo         float64            `json:"tempo,omitempty"`
	Key           string             `json:"key,omitempty"`
	UsageCount    int                `json:"usage_count"`
	State         string             `json:"state,omitempty"`
	CreatedAt     time.Time          `json:"created_at,omitempty"`
	ArchivedAt    *time.Time         `json:"archived_at,omitempty"`
	ArchiveReason string             `json:"archive_reason,omitempty"`
	Analysis      map[string]float64 `json:"analysis,omitempty"`
}

// ReadMetadata loads the sidecar from dir. A missing sidecar returns (nil, nil).
func ReadMetadata(dir string) (*Metadata, error) {
	data, err := os.ReadFile(filepath.Join(dir, MetadataFileName))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("read metadata: %w", err)
	}
	var meta Metadata
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, fmt.Errorf("parse metadata: %w", err)
	}
	return &meta, nil
}

// WriteMetadata persists the sidecar into dir.
func WriteMetadata(dir string, meta *Metadata) error {
	if meta == nil {
		return errors.New("metadata is nil")
	}
	data, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}
	return os.WriteFile(filepath.Join(dir, MetadataFileName), data, 0o644)
}

// ScanDir collects the stems present in dir keyed by stem type, applying the
// format preference when a stem exists in multiple encodings. Files with
// unrecognized suffixes are skipped.
func ScanDir(dir string) (map[string]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read stem directory: %w", err)
	}
	found := make(map[string]string)
	for _, entry := range entries {
		if entry.IsDir() || entry.Name() == MetadataFileName {
			continue
		}
		_, stemType, ok := ParseFileName(entry.Name())
		if !ok {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		if existing, dup := found[stemType]; dup {
			if PreferExt(filepath.Ext(path), filepath.Ext(existing)) {
				found[stemType] = path
			}
			continue
		}
		found[stemType] = path
	}
	return found, nil
}
