package jobs

import (
	"sort"
	"sync"

	"harmonix/internal/services"
)

// Store is the persistence contract the orchestrator and API depend on.
// The in-memory Registry is the only implementation today; the recovery
// scanner bridges it to filesystem truth across restarts.
type Store interface {
	Create(record *Record) error
	Get(jobID string) (*Record, bool)
	List(owner string) []*Record
	ListAll() []*Record
	Mutate(jobID string, fn func(*Record) error) error
	Delete(jobID string) bool
	Merge(snapshot *Record) bool
}

// Registry is a mutable map of in-flight and recently finished job records
// guarded by a single lock.
type Registry struct {
	mu      sync.RWMutex
	records map[string]*Record
}

// NewRegistry constructs an empty registry.
func NewRegistry() *Registry {
	return &Registry{records: make(map[string]*Record)}
}

var _ Store = (*Registry)(nil)

// Create inserts a new record. Duplicate job IDs are rejected.
func (r *Registry) Create(record *Record) error {
	if record == nil || record.JobID == "" {
		return services.Wrap(services.ErrValidation, "registry", "create", "record requires a job id", nil)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.records[record.JobID]; exists {
		return services.Wrap(services.ErrInvalidState, "registry", "create", "job id already exists", nil)
	}
	r.records[record.JobID] = record.Clone()
	return nil
}

// Get returns a copy of the record for jobID.
func (r *Registry) Get(jobID string) (*Record, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	record, ok := r.records[jobID]
	if !ok {
		return nil, false
	}
	return record.Clone(), true
}

// List returns copies of all records belonging to owner, newest first.
func (r *Registry) List(owner string) []*Record {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Record, 0, len(r.records))
	for _, record := range r.records {
		if record.Owner == owner {
			out = append(out, record.Clone())
		}
	}
	sortRecords(out)
	return out
}

// ListAll returns copies of every record, newest first.
func (r *Registry) ListAll() []*Record {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Record, 0, len(r.records))
	for _, record := range r.records {
		out = append(out, record.Clone())
	}
	sortRecords(out)
	return out
}

// Mutate applies fn to a copy of the record under the registry lock and
// commits the copy only on success. A rejected mutation, including a status
// change that would leave the state graph, leaves the record untouched.
func (r *Registry) Mutate(jobID string, fn func(*Record) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	record, ok := r.records[jobID]
	if !ok {
		return services.Wrap(services.ErrNotFound, "registry", "mutate", "unknown job", nil)
	}
	draft := record.Clone()
	if err := fn(draft); err != nil {
		return err
	}
	if draft.Status != record.Status && !record.Status.CanTransition(draft.Status) {
		return services.Wrap(services.ErrInvalidState, "registry", "mutate",
			"illegal status transition from "+string(record.Status)+" to "+string(draft.Status), nil)
	}
	r.records[jobID] = draft
	return nil
}

// Delete removes a record. It reports whether anything was removed.
func (r *Registry) Delete(jobID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.records[jobID]; !ok {
		return false
	}
	delete(r.records, jobID)
	return true
}

// Merge inserts a reconstructed snapshot. An existing record in a
// non-terminal state is never overwritten; terminal records are replaced so
// repeated scans converge. Reports whether the snapshot was stored.
func (r *Registry) Merge(snapshot *Record) bool {
	if snapshot == nil || snapshot.JobID == "" {
		return false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.records[snapshot.JobID]; ok && !existing.Status.IsTerminal() {
		return false
	}
	r.records[snapshot.JobID] = snapshot.Clone()
	return true
}

func sortRecords(records []*Record) {
	sort.Slice(records, func(i, j int) bool {
		if records[i].CreatedAt.Equal(records[j].CreatedAt) {
			return records[i].JobID < records[j].JobID
		}
		return records[i].CreatedAt.After(records[j].CreatedAt)
	})
}
