package apiclient

import "time"

// SubmitRequest is the payload for a new separation job.
type SubmitRequest struct {
	SourceURL string   `json:"source_url"`
	Quality   string   `json:"quality,omitempty"`
	Mode      string   `json:"mode,omitempty"`
	Stems     []string `json:"stems,omitempty"`
}

// Job mirrors the daemon's job representation.
type Job struct {
	JobID               string            `json:"job_id"`
	Owner               string            `json:"owner,omitempty"`
	Status              string            `json:"status"`
	Progress            int               `json:"progress"`
	Stage               string            `json:"stage,omitempty"`
	SourceURL           string            `json:"source_url,omitempty"`
	ContentID           string            `json:"content_id,omitempty"`
	Quality             string            `json:"quality,omitempty"`
	Mode                string            `json:"mode,omitempty"`
	Stems               map[string]string `json:"stems,omitempty"`
	DroppedStems        []string          `json:"dropped_stems,omitempty"`
	DetectedInstruments []string          `json:"detected_instruments,omitempty"`
	Error               string            `json:"error,omitempty"`
	ProcessingTime      float64           `json:"processing_time_seconds,omitempty"`
	CreatedAt           time.Time         `json:"created_at"`
	CompletedAt         *time.Time        `json:"completed_at,omitempty"`
}

// LibraryEntry mirrors a committed content library entry. The daemon
// serializes library types with Go field names.
type LibraryEntry struct {
	ContentID       string
	StorageLocation string
	Stems           map[string]string
	SourceURL       string
	DisplayName     string
	Duration        float64
	Quality         string
	UsageCount      int
	State           string
	CreatedAt       time.Time
	ArchivedAt      *time.Time
	ArchiveReason   string
}

// LibraryStats mirrors aggregate library counts.
type LibraryStats struct {
	TotalEntries   int
	TotalSizeBytes int64
	TotalUsage     int
	AverageUsage   float64
	UsageHistogram map[string]int
	ArchivedCount  int
}

// ArchivedEntry mirrors an entry sitting in an archive partition.
type ArchivedEntry struct {
	ContentID     string
	ArchivedDate  string
	ArchivePath   string
	DisplayName   string
	UsageCount    int
	ArchivedAt    *time.Time
	ArchiveReason string
	SourceURL     string
	SizeBytes     int64
}

// DeletePreview mirrors the dry-run result of a permanent delete.
type DeletePreview struct {
	ContentID   string
	ArchivePath string
	DisplayName string
	FileCount   int
	SizeBytes   int64
}
