package library

import (
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"harmonix/internal/logging"
	"harmonix/internal/services"
	"harmonix/internal/stems"
)

// SharedOwner names the directory partition holding deduplicated content.
const SharedOwner = "shared"

// Store manages the shared content library on disk. All usage-count and
// state mutations happen inside a single mutex; contention is low because
// jobs are human-submitted.
type Store struct {
	mu          sync.Mutex
	root        string
	archiveRoot string
	logger      *slog.Logger

	// strict makes counter-invariant violations errors instead of clamped
	// warnings. Enabled by tests.
	strict bool

	reservations   map[string]time.Time
	reservationTTL time.Duration
}

// Option configures optional Store behavior.
type Option func(*Store)

// WithStrict makes invariant violations loud. Used by tests and development
// builds; production clamps and logs instead.
func WithStrict(enabled bool) Option {
	return func(s *Store) { s.strict = enabled }
}

// WithReservationTTL overrides how long a content reservation is honored.
func WithReservationTTL(ttl time.Duration) Option {
	return func(s *Store) {
		if ttl > 0 {
			s.reservationTTL = ttl
		}
	}
}

// NewStore constructs a library store rooted at root with archived entries
// relocated under archiveRoot.
func NewStore(root, archiveRoot string, logger *slog.Logger, opts ...Option) (*Store, error) {
	if root == "" || archiveRoot == "" {
		return nil, services.Wrap(services.ErrValidation, "library", "new", "storage and archive roots are required", nil)
	}
	store := &Store{
		root:           root,
		archiveRoot:    archiveRoot,
		logger:         logging.NewComponentLogger(logger, "library"),
		reservations:   make(map[string]time.Time),
		reservationTTL: 30 * time.Second,
	}
	for _, opt := range opts {
		opt(store)
	}
	for _, dir := range []string{filepath.Join(root, SharedOwner), archiveRoot} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, services.Wrap(services.ErrUpstreamFailure, "library", "new", "create library directory", err)
		}
	}
	return store, nil
}

// Root returns the storage root directory.
func (s *Store) Root() string { return s.root }

// EntryDir returns the shared directory for a content id.
func (s *Store) EntryDir(contentID string) string {
	return filepath.Join(s.root, SharedOwner, contentID)
}

// OwnerDir returns the private partition for an owner.
func (s *Store) OwnerDir(owner string) string {
	return filepath.Join(s.root, owner)
}

// PrivateJobDir returns the private output directory for a non-dedup job.
func (s *Store) PrivateJobDir(owner, jobID string) string {
	return filepath.Join(s.root, owner, jobID)
}

// Create reserves a storage location for contentID and writes initial
// metadata with usage_count 0 in the pending state. The entry stays
// invisible to Lookup until Commit.
func (s *Store) Create(contentID string, meta stems.Metadata) (string, error) {
	if contentID == "" {
		return "", services.Wrap(services.ErrValidation, "library", "create", "content id is required", nil)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	dir := s.EntryDir(contentID)
	if existing, err := stems.ReadMetadata(dir); err == nil && existing != nil && State(existing.State) == StateActive {
		return "", services.Wrap(services.ErrInvalidState, "library", "create", "entry already committed", nil)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", services.Wrap(services.ErrUpstreamFailure, "library", "create", "create entry directory", err)
	}

	meta.ContentID = contentID
	meta.UsageCount = 0
	meta.State = string(StatePending)
	meta.CreatedAt = time.Now().UTC()
	if err := stems.WriteMetadata(dir, &meta); err != nil {
		return "", services.Wrap(services.ErrUpstreamFailure, "library", "create", "write metadata", err)
	}
	s.logger.Info("library entry reserved", logging.String(logging.FieldContentID, contentID))
	return dir, nil
}

// Commit publishes a pending entry after verifying every required stem is on
// disk. Readers never observe a half-written stem set: the flip to active is
// the last write.
func (s *Store) Commit(contentID string, requiredStems []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	dir := s.EntryDir(contentID)
	meta, err := stems.ReadMetadata(dir)
	if err != nil {
		return services.Wrap(services.ErrUpstreamFailure, "library", "commit", "read metadata", err)
	}
	if meta == nil {
		return services.Wrap(services.ErrNotFound, "library", "commit", "entry was never created", nil)
	}
	if State(meta.State) == StateArchived {
		return services.Wrap(services.ErrInvalidState, "library", "commit", "entry is archived", nil)
	}

	onDisk, err := stems.ScanDir(dir)
	if err != nil {
		return services.Wrap(services.ErrUpstreamFailure, "library", "commit", "scan stems", err)
	}
	for _, required := range requiredStems {
		if _, ok := onDisk[required]; !ok {
			return services.Wrap(services.ErrInvalidState, "library", "commit", "missing stem "+required, nil)
		}
	}

	meta.State = string(StateActive)
	if err := stems.WriteMetadata(dir, meta); err != nil {
		return services.Wrap(services.ErrUpstreamFailure, "library", "commit", "write metadata", err)
	}
	s.logger.Info("library entry committed",
		logging.String(logging.FieldContentID, contentID),
		logging.Int("stems", len(onDisk)),
	)
	return nil
}

// Lookup returns the committed entry for contentID. A hit requires the entry
// to be active and the minimum stem set verifiably present on disk, which
// defends against entries left behind by a crashed finalize step.
func (s *Store) Lookup(contentID string) (*Entry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lookupLocked(contentID)
}

func (s *Store) lookupLocked(contentID string) (*Entry, bool) {
	dir := s.EntryDir(contentID)
	meta, err := stems.ReadMetadata(dir)
	if err != nil || meta == nil {
		return nil, false
	}
	if State(meta.State) != StateActive {
		return nil, false
	}
	onDisk, err := stems.ScanDir(dir)
	if err != nil {
		return nil, false
	}
	minimumPresent := false
	for _, stem := range MinimumStems {
		if _, ok := onDisk[stem]; ok {
			minimumPresent = true
			break
		}
	}
	if !minimumPresent {
		return nil, false
	}
	return entryFromMetadata(contentID, dir, meta, onDisk), true
}

// Remove deletes an uncommitted (pending) entry directory, used to clean up
// after a failed finalize.
func (s *Store) Remove(contentID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	dir := s.EntryDir(contentID)
	meta, err := stems.ReadMetadata(dir)
	if err != nil {
		return services.Wrap(services.ErrUpstreamFailure, "library", "remove", "read metadata", err)
	}
	if meta != nil && State(meta.State) == StateActive {
		return services.Wrap(services.ErrInvalidState, "library", "remove", "refusing to remove a committed entry", nil)
	}
	return os.RemoveAll(dir)
}

// Entries lists every committed entry, used by the admin surface.
func (s *Store) Entries() ([]*Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sharedDir := filepath.Join(s.root, SharedOwner)
	dirEntries, err := os.ReadDir(sharedDir)
	if err != nil {
		return nil, services.Wrap(services.ErrUpstreamFailure, "library", "entries", "read shared directory", err)
	}
	out := make([]*Entry, 0, len(dirEntries))
	for _, dirent := range dirEntries {
		if !dirent.IsDir() {
			continue
		}
		if entry, ok := s.lookupLocked(dirent.Name()); ok {
			out = append(out, entry)
		}
	}
	return out, nil
}

func entryFromMetadata(contentID, dir string, meta *stems.Metadata, onDisk map[string]string) *Entry {
	entry := &Entry{
		ContentID:       contentID,
		StorageLocation: dir,
		Stems:           onDisk,
		SourceURL:       meta.SourceURL,
		DisplayName:     meta.DisplayName,
		Duration:        meta.Duration,
		Quality:         meta.Quality,
		UsageCount:      meta.UsageCount,
		State:           State(meta.State),
		CreatedAt:       meta.CreatedAt,
		ArchiveReason:   meta.ArchiveReason,
	}
	if meta.ArchivedAt != nil {
		archived := *meta.ArchivedAt
		entry.ArchivedAt = &archived
	}
	return entry
}
