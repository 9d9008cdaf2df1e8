package library

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"harmonix/internal/logging"
	"harmonix/internal/services"
	"harmonix/internal/stems"
)

// linksFileName stores a user's views onto shared content.
const linksFileName = "library_links.json"

type linksDocument struct {
	Links     map[string]Link `json:"links"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// Link creates a user link onto contentID for jobID and increments the
// entry's usage count atomically with respect to other link operations.
func (s *Store) Link(owner, jobID, contentID, displayName string) error {
	if owner == "" || jobID == "" || contentID == "" {
		return services.Wrap(services.ErrValidation, "library", "link", "owner, job id, and content id are required", nil)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.loadLinks(owner)
	if err != nil {
		return err
	}
	if _, exists := doc.Links[jobID]; exists {
		return services.Wrap(services.ErrInvalidState, "library", "link", "job already linked", nil)
	}
	doc.Links[jobID] = Link{
		ContentID:   contentID,
		DisplayName: displayName,
		LinkedAt:    time.Now().UTC(),
	}
	if err := s.saveLinks(owner, doc); err != nil {
		return err
	}
	if err := s.adjustUsageLocked(contentID, +1); err != nil {
		return err
	}
	delete(s.reservations, contentID)
	s.logger.Info("linked content to user",
		logging.String(logging.FieldContentID, contentID),
		logging.String(logging.FieldOwner, owner),
		logging.String(logging.FieldJobID, jobID),
	)
	return nil
}

// Unlink removes the link for (owner, jobID) and decrements the usage count
// with a floor of zero. It returns the content id the link pointed at.
// Unlinking never auto-archives; archiving stays an explicit operator step.
func (s *Store) Unlink(owner, jobID string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.loadLinks(owner)
	if err != nil {
		return "", err
	}
	link, ok := doc.Links[jobID]
	if !ok {
		return "", services.Wrap(services.ErrNotFound, "library", "unlink", "no link for job", nil)
	}
	delete(doc.Links, jobID)
	if err := s.saveLinks(owner, doc); err != nil {
		return "", err
	}
	if err := s.adjustUsageLocked(link.ContentID, -1); err != nil {
		return "", err
	}
	s.logger.Info("unlinked content from user",
		logging.String(logging.FieldContentID, link.ContentID),
		logging.String(logging.FieldOwner, owner),
		logging.String(logging.FieldJobID, jobID),
	)
	return link.ContentID, nil
}

// Links returns the owner's link table keyed by job id.
func (s *Store) Links(owner string) (map[string]Link, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.loadLinks(owner)
	if err != nil {
		return nil, err
	}
	out := make(map[string]Link, len(doc.Links))
	for jobID, link := range doc.Links {
		out[jobID] = link
	}
	return out, nil
}

// LinkFor returns the link backing jobID for owner, if any.
func (s *Store) LinkFor(owner, jobID string) (Link, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.loadLinks(owner)
	if err != nil {
		return Link{}, false, err
	}
	link, ok := doc.Links[jobID]
	return link, ok, nil
}

// UsageCount reads the current usage count for contentID.
func (s *Store) UsageCount(contentID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	meta, err := stems.ReadMetadata(s.EntryDir(contentID))
	if err != nil {
		return 0, services.Wrap(services.ErrUpstreamFailure, "library", "usage", "read metadata", err)
	}
	if meta == nil {
		return 0, services.Wrap(services.ErrNotFound, "library", "usage", "unknown content id", nil)
	}
	return meta.UsageCount, nil
}

func (s *Store) adjustUsageLocked(contentID string, delta int) error {
	dir := s.EntryDir(contentID)
	meta, err := stems.ReadMetadata(dir)
	if err != nil {
		return services.Wrap(services.ErrUpstreamFailure, "library", "usage", "read metadata", err)
	}
	if meta == nil {
		return services.Wrap(services.ErrNotFound, "library", "usage", "unknown content id", nil)
	}

	next := meta.UsageCount + delta
	if next < 0 {
		s.logger.Warn("usage count would go negative; clamping to zero",
			logging.String(logging.FieldContentID, contentID),
			logging.Int("usage_count", meta.UsageCount),
		)
		if s.strict {
			return services.Wrap(services.ErrInvalidState, "library", "usage", "usage count underflow for "+contentID, nil)
		}
		next = 0
	}
	meta.UsageCount = next
	if err := stems.WriteMetadata(dir, meta); err != nil {
		return services.Wrap(services.ErrUpstreamFailure, "library", "usage", "write metadata", err)
	}
	return nil
}

func (s *Store) linksFile(owner string) string {
	return filepath.Join(s.root, owner, linksFileName)
}

func (s *Store) loadLinks(owner string) (*linksDocument, error) {
	data, err := os.ReadFile(s.linksFile(owner))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return &linksDocument{Links: make(map[string]Link), CreatedAt: time.Now().UTC()}, nil
		}
		return nil, services.Wrap(services.ErrUpstreamFailure, "library", "links", "read links file", err)
	}
	var doc linksDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, services.Wrap(services.ErrUpstreamFailure, "library", "links", "parse links file", err)
	}
	if doc.Links == nil {
		doc.Links = make(map[string]Link)
	}
	return &doc, nil
}

func (s *Store) saveLinks(owner string, doc *linksDocument) error {
	doc.UpdatedAt = time.Now().UTC()
	path := s.linksFile(owner)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return services.Wrap(services.ErrUpstreamFailure, "library", "links", "create owner directory", err)
	}
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal links: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return services.Wrap(services.ErrUpstreamFailure, "library", "links", "write links file", err)
	}
	return nil
}
