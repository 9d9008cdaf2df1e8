package api

import (
	"context"

	"harmonix/internal/activity"
	"harmonix/internal/library"
	"harmonix/internal/logging"
	"harmonix/internal/services"
)

// Library administration. Every operation here requires the admin role;
// non-admins get the same permission error regardless of the target.

func (s *Service) requireAdmin(identity Identity, op string) error {
	if !identity.IsAdmin() {
		return services.Wrap(services.ErrPermissionDenied, "api", op, "admin role required", nil)
	}
	return nil
}

// LibraryStats aggregates entry counts, sizes, and the usage histogram.
func (s *Service) LibraryStats(identity Identity) (library.Stats, error) {
	if err := s.requireAdmin(identity, "library_stats"); err != nil {
		return library.Stats{}, err
	}
	return s.store.Stats()
}

// LibraryEntries lists every committed entry.
func (s *Service) LibraryEntries(identity Identity) ([]*library.Entry, error) {
	if err := s.requireAdmin(identity, "library_list"); err != nil {
		return nil, err
	}
	return s.store.Entries()
}

// ArchivedEntries lists entries sitting in archive partitions.
func (s *Service) ArchivedEntries(identity Identity) ([]library.ArchivedEntry, error) {
	if err := s.requireAdmin(identity, "library_archived"); err != nil {
		return nil, err
	}
	return s.store.Archived()
}

// ArchiveContent moves an unused entry into today's archive partition.
func (s *Service) ArchiveContent(ctx context.Context, identity Identity, contentID, reason string) error {
	if err := s.requireAdmin(identity, "library_archive"); err != nil {
		return err
	}
	if err := s.store.Archive(contentID, reason); err != nil {
		return err
	}
	s.record(ctx, activity.Event{Type: activity.EventContentArchived, Actor: identity.User, ContentID: contentID, Detail: reason})
	s.logger.Info("content archived",
		logging.String(logging.FieldContentID, contentID),
		logging.String("reason", reason),
	)
	return nil
}

// RestoreContent moves an archived entry back into active storage.
func (s *Service) RestoreContent(ctx context.Context, identity Identity, contentID string) error {
	if err := s.requireAdmin(identity, "library_restore"); err != nil {
		return err
	}
	if err := s.store.Restore(contentID); err != nil {
		return err
	}
	s.record(ctx, activity.Event{Type: activity.EventContentRestored, Actor: identity.User, ContentID: contentID})
	s.logger.Info("content restored", logging.String(logging.FieldContentID, contentID))
	return nil
}

// PurgeContent permanently deletes an archived entry. The first call
// previews; only confirm=true removes bytes.
func (s *Service) PurgeContent(ctx context.Context, identity Identity, contentID string, confirm bool) (*library.DeletePreview, error) {
	if err := s.requireAdmin(identity, "library_purge"); err != nil {
		return nil, err
	}
	preview, err := s.store.PermanentlyDelete(contentID, confirm)
	if err != nil {
		return nil, err
	}
	if confirm {
		s.record(ctx, activity.Event{Type: activity.EventContentDeleted, Actor: identity.User, ContentID: contentID})
		s.logger.Info("content permanently deleted", logging.String(logging.FieldContentID, contentID))
	}
	return preview, nil
}
