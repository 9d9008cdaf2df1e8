package library

import "time"

// State tracks the lifecycle of a library entry. The metadata field is
// authoritative; directory location follows it.
type State string

const (
	// StatePending marks an entry reserved by a writer that has not
	// committed yet. Pending entries are invisible to Lookup.
	StatePending  State = "pending"
	StateActive   State = "active"
	StateArchived State = "archived"
)

// MinimumStems is the stem set an entry must hold on disk before a Lookup may
// hit it. Either a vocals or an instrumental track proves the separation run
// finished.
var MinimumStems = []string{"vocals", "instrumental"}

// Entry is one dedup storage unit for a content id, shared read-only across
// users once committed.
type Entry struct {
	ContentID       string
	StorageLocation string
	Stems           map[string]string
	SourceURL       string
	DisplayName     string
	Duration        float64
	Quality         string
	UsageCount      int
	State           State
	CreatedAt       time.Time
	ArchivedAt      *time.Time
	ArchiveReason   string
}

// Link records one user's ownership view onto a shared entry.
type Link struct {
	ContentID   string    `json:"content_id"`
	DisplayName string    `json:"display_name,omitempty"`
	LinkedAt    time.Time `json:"linked_at"`
}

// ArchivedEntry describes an entry sitting in an archive partition.
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

// DeletePreview describes what the second phase of a permanent delete would
// remove.
type DeletePreview struct {
	ContentID   string
	ArchivePath string
	DisplayName string
	FileCount   int
	SizeBytes   int64
}

// Stats aggregates library counts for observability.
type Stats struct {
	TotalEntries   int
	TotalSizeBytes int64
	TotalUsage     int
	AverageUsage   float64
	UsageHistogram map[string]int
	ArchivedCount  int
}
