package library

import (
	"time"

	"harmonix/internal/logging"
	"harmonix/internal/services"
)

// Reserve places a short-lived reservation on contentID, closing the race
// between a Lookup hit and the subsequent Link: Archive refuses while a
// reservation is live. Link consumes the reservation; otherwise it lapses
// after the TTL.
func (s *Store) Reserve(contentID string) error {
	if contentID == "" {
		return services.Wrap(services.ErrValidation, "library", "reserve", "content id is required", nil)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reservations[contentID] = time.Now().UTC().Add(s.reservationTTL)
	s.logger.Debug("content reserved", logging.String(logging.FieldContentID, contentID))
	return nil
}

// ReleaseReservation drops a reservation without linking, used when the
// short-circuit path fails after reserving.
func (s *Store) ReleaseReservation(contentID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.reservations, contentID)
}

func (s *Store) reservedLocked(contentID string) bool {
	deadline, ok := s.reservations[contentID]
	if !ok {
		return false
	}
	if time.Now().UTC().After(deadline) {
		delete(s.reservations, contentID)
		return false
	}
	return true
}
