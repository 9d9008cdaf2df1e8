package jobs

import (
	"strings"
	"time"
)

// Status represents the lifecycle of a job.
type Status string

const (
	StatusQueued      Status = "queued"
	StatusDownloading Status = "downloading"
	StatusAnalyzing   Status = "analyzing"
	StatusProcessing  Status = "processing"
	StatusCompleted   Status = "completed"
	StatusFailed      Status = "failed"
	StatusCancelling  Status = "cancelling"
	StatusCancelled   Status = "cancelled"
)

// AnonymousOwner is recorded for submissions without an authenticated user.
const AnonymousOwner = "anonymous"

var allStatuses = []Status{
	StatusQueued,
	StatusDownloading,
	StatusAnalyzing,
	StatusProcessing,
	StatusCompleted,
	StatusFailed,
	StatusCancelling,
	StatusCancelled,
}

var statusSet = func() map[Status]struct{} {
	set := make(map[Status]struct{}, len(allStatuses))
	for _, status := range allStatuses {
		set[status] = struct{}{}
	}
	return set
}()

// validTransitions is the state graph: Failed is reachable from every
// non-terminal state, Cancelling from every non-terminal state, and the
// terminal states never transition further.
var validTransitions = map[Status][]Status{
	StatusQueued:      {StatusDownloading, StatusAnalyzing, StatusProcessing, StatusCompleted, StatusFailed, StatusCancelling},
	StatusDownloading: {StatusAnalyzing, StatusFailed, StatusCancelling},
	StatusAnalyzing:   {StatusProcessing, StatusFailed, StatusCancelling},
	StatusProcessing:  {StatusCompleted, StatusFailed, StatusCancelling},
	StatusCancelling:  {StatusCancelled, StatusFailed},
}

// AllStatuses returns the ordered list of known statuses.
func AllStatuses() []Status {
	cp := make([]Status, len(allStatuses))
	copy(cp, allStatuses)
	return cp
}

// ParseStatus converts a string into a known Status.
func ParseStatus(value string) (Status, bool) {
	normalized := Status(strings.ToLower(strings.TrimSpace(value)))
	if normalized == "" {
		return "", false
	}
	_, ok := statusSet[normalized]
	return normalized, ok
}

// IsTerminal reports whether a status permits no further transitions.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	default:
		return false
	}
}

// CanTransition reports whether moving from s to next is a walk along the
// state graph.
func (s Status) CanTransition(next Status) bool {
	for _, allowed := range validTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Config captures the processing request attached to a job.
type Config struct {
	Quality        string
	Mode           string
	RequestedStems []string
}

// Record tracks one user-initiated pipeline run. Records are mutated only by
// their own worker and by cancellation requests, always through the registry.
type Record struct {
	JobID               string
	Owner               string
	Status              Status
	Progress            int
	Stage               string
	SourceRef           string
	Config              Config
	Stems               map[string]string
	ContentID           string
	DroppedStems        []string
	DetectedInstruments []string
	Error               string
	ProcessingTime      float64
	CreatedAt           time.Time
	CompletedAt         *time.Time
}

// SetProgress advances the progress counter, keeping it monotonic for
// non-terminal updates.
func (r *Record) SetProgress(stage string, percent int) {
	if percent > r.Progress {
		r.Progress = percent
	}
	if stage != "" {
		r.Stage = stage
	}
}

// SetFailed marks the record failed with the given error message. The
// terminal override may jump progress regardless of the previous value.
func (r *Record) SetFailed(message string) {
	now := time.Now().UTC()
	r.Status = StatusFailed
	r.Error = message
	r.Progress = 100
	r.Stage = "Failed"
	r.CompletedAt = &now
}

// SetCancelled marks the record cancelled.
func (r *Record) SetCancelled() {
	now := time.Now().UTC()
	r.Status = StatusCancelled
	r.Progress = 100
	r.Stage = "Cancelled"
	r.CompletedAt = &now
}

// SetCompleted marks the record completed with its result stems.
func (r *Record) SetCompleted(stemPaths map[string]string) {
	now := time.Now().UTC()
	r.Status = StatusCompleted
	r.Progress = 100
	r.Stage = "Completed"
	r.Stems = stemPaths
	r.CompletedAt = &now
}

// Clone returns a deep copy safe to hand to callers outside the registry lock.
func (r *Record) Clone() *Record {
	if r == nil {
		return nil
	}
	cp := *r
	if r.Stems != nil {
		cp.Stems = make(map[string]string, len(r.Stems))
		for k, v := range r.Stems {
			cp.Stems[k] = v
		}
	}
	cp.Config.RequestedStems = append([]string(nil), r.Config.RequestedStems...)
	cp.DroppedStems = append([]string(nil), r.DroppedStems...)
	cp.DetectedInstruments = append([]string(nil), r.DetectedInstruments...)
	if r.CompletedAt != nil {
		completed := *r.CompletedAt
		cp.CompletedAt = &completed
	}
	return &cp
}
