// Package recovery rebuilds completed-job records from the filesystem
// contract the library and private storage write, bridging durable disk
// truth back into the memory-resident job registry after a restart.
package recovery

import (
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"harmonix/internal/jobs"
	"harmonix/internal/library"
	"harmonix/internal/logging"
	"harmonix/internal/services"
	"harmonix/internal/stems"
)

// Scanner synthesizes Completed job snapshots from disk.
type Scanner struct {
	store  *library.Store
	logger *slog.Logger
}

// NewScanner constructs a recovery scanner over the library store's root.
func NewScanner(store *library.Store, logger *slog.Logger) *Scanner {
	return &Scanner{
		store:  store,
		logger: logging.NewComponentLogger(logger, "recovery"),
	}
}

// ScanOwner reconstructs the completed jobs belonging to one owner: library
// links resolve through the shared store, private job directories are parsed
// by the stem naming convention. Missing metadata falls back to filenames;
// unrecognized stem suffixes are skipped without failing the scan.
func (s *Scanner) ScanOwner(owner string) ([]*jobs.Record, error) {
	if owner == "" || owner == library.SharedOwner {
		return nil, services.Wrap(services.ErrValidation, "recovery", "scan", "owner is required", nil)
	}

	var snapshots []*jobs.Record

	links, err := s.store.Links(owner)
	if err != nil {
		return nil, err
	}
	for jobID, link := range links {
		entry, ok := s.store.Lookup(link.ContentID)
		if !ok {
			// Entry archived or damaged; the link survives but there is
			// nothing to reconstruct.
			s.logger.Warn("link points at unavailable content",
				logging.String(logging.FieldOwner, owner),
				logging.String(logging.FieldJobID, jobID),
				logging.String(logging.FieldContentID, link.ContentID),
			)
			continue
		}
		snapshots = append(snapshots, snapshotFromEntry(owner, jobID, link, entry))
	}

	ownerDir := s.store.OwnerDir(owner)
	dirEntries, err := os.ReadDir(ownerDir)
	if err != nil {
		if os.IsNotExist(err) {
			return snapshots, nil
		}
		return nil, services.Wrap(services.ErrUpstreamFailure, "recovery", "scan", "read owner directory", err)
	}
	for _, dirent := range dirEntries {
		if !dirent.IsDir() {
			continue
		}
		jobID := dirent.Name()
		if _, linked := links[jobID]; linked {
			continue
		}
		snapshot, ok := s.scanPrivateDir(owner, jobID, filepath.Join(ownerDir, jobID))
		if ok {
			snapshots = append(snapshots, snapshot)
		}
	}
	return snapshots, nil
}

// Scan walks every owner partition under the storage root.
func (s *Scanner) Scan() ([]*jobs.Record, error) {
	dirEntries, err := os.ReadDir(s.store.Root())
	if err != nil {
		return nil, services.Wrap(services.ErrUpstreamFailure, "recovery", "scan", "read storage root", err)
	}
	var snapshots []*jobs.Record
	for _, dirent := range dirEntries {
		if !dirent.IsDir() || dirent.Name() == library.SharedOwner {
			continue
		}
		ownerSnapshots, err := s.ScanOwner(dirent.Name())
		if err != nil {
			s.logger.Warn("owner scan failed",
				logging.String(logging.FieldOwner, dirent.Name()),
				logging.Error(err),
			)
			continue
		}
		snapshots = append(snapshots, ownerSnapshots...)
	}
	return snapshots, nil
}

// Restore merges reconstructed snapshots into the registry. Records in a
// non-terminal state are never overwritten. It returns how many snapshots
// were stored.
func (s *Scanner) Restore(registry jobs.Store, snapshots []*jobs.Record) int {
	merged := 0
	for _, snapshot := range snapshots {
		if registry.Merge(snapshot) {
			merged++
		}
	}
	return merged
}

func (s *Scanner) scanPrivateDir(owner, jobID, dir string) (*jobs.Record, bool) {
	found, err := stems.ScanDir(dir)
	if err != nil || len(found) == 0 {
		return nil, false
	}

	record := &jobs.Record{
		JobID:  jobID,
		Owner:  owner,
		Status: jobs.StatusCompleted,
		Stems:  found,
	}
	record.Progress = 100
	record.Stage = "Completed"

	meta, err := stems.ReadMetadata(dir)
	if err != nil {
		s.logger.Warn("unreadable metadata sidecar; falling back to filenames",
			logging.String(logging.FieldJobID, jobID),
			logging.Error(err),
		)
	}
	if meta != nil {
		record.ContentID = meta.ContentID
		record.SourceRef = meta.SourceURL
		record.Config.Quality = meta.Quality
		record.Config.Mode = meta.Mode
		record.CreatedAt = meta.CreatedAt
	}
	if record.CreatedAt.IsZero() {
		if info, err := os.Stat(dir); err == nil {
			record.CreatedAt = info.ModTime().UTC()
		} else {
			record.CreatedAt = time.Now().UTC()
		}
	}
	completed := record.CreatedAt
	record.CompletedAt = &completed
	return record, true
}

func snapshotFromEntry(owner, jobID string, link library.Link, entry *library.Entry) *jobs.Record {
	record := &jobs.Record{
		JobID:     jobID,
		Owner:     owner,
		Status:    jobs.StatusCompleted,
		Progress:  100,
		Stage:     "Completed",
		SourceRef: entry.SourceURL,
		ContentID: entry.ContentID,
		Stems:     entry.Stems,
		Config: jobs.Config{
			Quality: entry.Quality,
		},
		CreatedAt: link.LinkedAt,
	}
	completed := link.LinkedAt
	record.CompletedAt = &completed
	return record
}
