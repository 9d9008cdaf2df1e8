package library

import (
	"os"
	"path/filepath"
	"time"

	"harmonix/internal/fileutil"
	"harmonix/internal/logging"
	"harmonix/internal/services"
	"harmonix/internal/stems"
)

const archiveDateLayout = "2006-01-02"

// Archive moves a zero-usage entry into a dated archive partition and stamps
// the metadata. Entries still referenced by links, or protected by a live
// reservation, refuse to archive.
func (s *Store) Archive(contentID, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.reservedLocked(contentID) {
		return services.Wrap(services.ErrInvalidState, "library", "archive", "content is reserved by an in-flight link", nil)
	}

	dir := s.EntryDir(contentID)
	meta, err := stems.ReadMetadata(dir)
	if err != nil {
		return services.Wrap(services.ErrUpstreamFailure, "library", "archive", "read metadata", err)
	}
	if meta == nil {
		return services.Wrap(services.ErrNotFound, "library", "archive", "unknown content id", nil)
	}
	if State(meta.State) == StateArchived {
		s.logger.Warn("archive requested for already archived entry",
			logging.String(logging.FieldContentID, contentID),
		)
		return services.Wrap(services.ErrInvalidState, "library", "archive", "entry already archived", nil)
	}
	if meta.UsageCount > 0 {
		return services.Wrap(services.ErrInvalidState, "library", "archive", "entry still in use", nil)
	}

	now := time.Now().UTC()
	meta.State = string(StateArchived)
	meta.ArchivedAt = &now
	meta.ArchiveReason = reason
	if err := stems.WriteMetadata(dir, meta); err != nil {
		return services.Wrap(services.ErrUpstreamFailure, "library", "archive", "write metadata", err)
	}

	target := filepath.Join(s.archiveRoot, now.Format(archiveDateLayout), contentID)
	if err := fileutil.MoveDir(dir, target); err != nil {
		return services.Wrap(services.ErrUpstreamFailure, "library", "archive", "relocate entry", err)
	}
	s.logger.Info("library entry archived",
		logging.String(logging.FieldContentID, contentID),
		logging.String("reason", reason),
	)
	return nil
}

// Restore moves an archived entry back into the active library and clears
// the archive stamps. Restoring is always permitted for archived entries.
func (s *Store) Restore(contentID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	archivedPath, ok := s.findArchivedLocked(contentID)
	if !ok {
		return services.Wrap(services.ErrInvalidState, "library", "restore", "content is not archived", nil)
	}

	dir := s.EntryDir(contentID)
	if err := fileutil.MoveDir(archivedPath, dir); err != nil {
		return services.Wrap(services.ErrUpstreamFailure, "library", "restore", "relocate entry", err)
	}

	meta, err := stems.ReadMetadata(dir)
	if err != nil {
		return services.Wrap(services.ErrUpstreamFailure, "library", "restore", "read metadata", err)
	}
	if meta == nil {
		meta = &stems.Metadata{ContentID: contentID}
	}
	meta.State = string(StateActive)
	meta.ArchivedAt = nil
	meta.ArchiveReason = ""
	if err := stems.WriteMetadata(dir, meta); err != nil {
		return services.Wrap(services.ErrUpstreamFailure, "library", "restore", "write metadata", err)
	}
	s.pruneEmptyPartitions()
	s.logger.Info("library entry restored", logging.String(logging.FieldContentID, contentID))
	return nil
}

// Archived lists every entry currently sitting in an archive partition,
// newest partition first.
func (s *Store) Archived() ([]ArchivedEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.archivedLocked()
}

func (s *Store) archivedLocked() ([]ArchivedEntry, error) {
	partitions, err := os.ReadDir(s.archiveRoot)
	if err != nil {
		return nil, services.Wrap(services.ErrUpstreamFailure, "library", "archived", "read archive root", err)
	}
	var out []ArchivedEntry
	for i := len(partitions) - 1; i >= 0; i-- {
		partition := partitions[i]
		if !partition.IsDir() {
			continue
		}
		partitionDir := filepath.Join(s.archiveRoot, partition.Name())
		items, err := os.ReadDir(partitionDir)
		if err != nil {
			continue
		}
		for _, item := range items {
			if !item.IsDir() {
				continue
			}
			itemDir := filepath.Join(partitionDir, item.Name())
			entry := ArchivedEntry{
				ContentID:    item.Name(),
				ArchivedDate: partition.Name(),
				ArchivePath:  itemDir,
			}
			if meta, err := stems.ReadMetadata(itemDir); err == nil && meta != nil {
				entry.DisplayName = meta.DisplayName
				entry.UsageCount = meta.UsageCount
				entry.ArchivedAt = meta.ArchivedAt
				entry.ArchiveReason = meta.ArchiveReason
				entry.SourceURL = meta.SourceURL
			}
			if size, err := fileutil.DirSize(itemDir); err == nil {
				entry.SizeBytes = size
			}
			out = append(out, entry)
		}
	}
	return out, nil
}

// PermanentlyDelete is two-phase: without confirm it only describes what the
// deletion would remove; with confirm it irreversibly deletes the archived
// entry. Only archived entries can be deleted.
func (s *Store) PermanentlyDelete(contentID string, confirm bool) (*DeletePreview, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	archivedPath, ok := s.findArchivedLocked(contentID)
	if !ok {
		return nil, services.Wrap(services.ErrInvalidState, "library", "delete", "only archived entries can be permanently deleted", nil)
	}

	preview := &DeletePreview{ContentID: contentID, ArchivePath: archivedPath}
	if meta, err := stems.ReadMetadata(archivedPath); err == nil && meta != nil {
		preview.DisplayName = meta.DisplayName
	}
	if size, err := fileutil.DirSize(archivedPath); err == nil {
		preview.SizeBytes = size
	}
	if entries, err := os.ReadDir(archivedPath); err == nil {
		preview.FileCount = len(entries)
	}

	if !confirm {
		return preview, nil
	}

	if err := os.RemoveAll(archivedPath); err != nil {
		return nil, services.Wrap(services.ErrUpstreamFailure, "library", "delete", "remove archived entry", err)
	}
	s.pruneEmptyPartitions()
	s.logger.Warn("archived entry permanently deleted",
		logging.String(logging.FieldContentID, contentID),
	)
	return preview, nil
}

func (s *Store) findArchivedLocked(contentID string) (string, bool) {
	partitions, err := os.ReadDir(s.archiveRoot)
	if err != nil {
		return "", false
	}
	for _, partition := range partitions {
		if !partition.IsDir() {
			continue
		}
		candidate := filepath.Join(s.archiveRoot, partition.Name(), contentID)
		if info, err := os.Stat(candidate); err == nil && info.IsDir() {
			return candidate, true
		}
	}
	return "", false
}

func (s *Store) pruneEmptyPartitions() {
	partitions, err := os.ReadDir(s.archiveRoot)
	if err != nil {
		return
	}
	for _, partition := range partitions {
		if !partition.IsDir() {
			continue
		}
		dir := filepath.Join(s.archiveRoot, partition.Name())
		if items, err := os.ReadDir(dir); err == nil && len(items) == 0 {
			_ = os.Remove(dir)
		}
	}
}
