// Package api is the ownership-scoped surface the daemon and CLI expose
// over the job registry and the content library. Every operation takes the
// caller's identity; admins see everything, users see only their own jobs.
package api

import (
	"context"
	"errors"
	"log/slog"
	"os"

	"harmonix/internal/activity"
	"harmonix/internal/jobs"
	"harmonix/internal/library"
	"harmonix/internal/logging"
	"harmonix/internal/services"
)

// RoleAdmin unlocks the library administration surface and cross-owner
// job visibility.
const RoleAdmin = "admin"

// Identity is an authenticated caller.
type Identity struct {
	User string
	Plan string
	Role string
}

// IsAdmin reports whether the identity carries the admin role.
func (i Identity) IsAdmin() bool { return i.Role == RoleAdmin }

// Canceller requests cooperative cancellation of a running job.
type Canceller interface {
	RequestCancel(jobID string) error
}

// Recorder is the slice of the activity store the service writes to.
type Recorder interface {
	Record(ctx context.Context, event activity.Event) error
}

// Service mediates access to jobs and the library.
type Service struct {
	registry  jobs.Store
	store     *library.Store
	canceller Canceller
	activity  Recorder
	logger    *slog.Logger
}

// Option configures optional service behaviour.
type Option func(*Service)

// WithActivity wires audit events for deletes and library administration.
func WithActivity(recorder Recorder) Option {
	return func(s *Service) { s.activity = recorder }
}

// NewService constructs the API service.
func NewService(registry jobs.Store, store *library.Store, canceller Canceller, logger *slog.Logger, opts ...Option) *Service {
	s := &Service{
		registry:  registry,
		store:     store,
		canceller: canceller,
		logger:    logging.NewComponentLogger(logger, "api"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Job returns one job. Callers other than the owner get a permission error
// whether or not the job exists, so job ids cannot be probed.
func (s *Service) Job(identity Identity, jobID string) (*jobs.Record, error) {
	record, ok := s.registry.Get(jobID)
	if identity.IsAdmin() {
		if !ok {
			return nil, services.Wrap(services.ErrNotFound, "api", "job", "unknown job", nil)
		}
		return record, nil
	}
	if !ok || record.Owner != identity.User {
		return nil, s.denied("job")
	}
	return record, nil
}

// Jobs lists the caller's jobs newest first. Admins see every owner's jobs.
func (s *Service) Jobs(identity Identity) []*jobs.Record {
	if identity.IsAdmin() {
		return s.registry.ListAll()
	}
	return s.registry.List(identity.User)
}

// Cancel requests cancellation of a running job owned by the caller.
func (s *Service) Cancel(identity Identity, jobID string) error {
	if _, err := s.Job(identity, jobID); err != nil {
		return err
	}
	return s.canceller.RequestCancel(jobID)
}

// Delete removes a finished job: the registry record, the library usage
// link (decrementing the shared entry), and any private output directory.
// Running jobs must be cancelled first.
func (s *Service) Delete(ctx context.Context, identity Identity, jobID string) error {
	record, err := s.Job(identity, jobID)
	if err != nil {
		return err
	}
	if !record.Status.IsTerminal() {
		return services.Wrap(services.ErrInvalidState, "api", "delete", "cancel the job before deleting it", nil)
	}

	owner := record.Owner
	contentID, unlinkErr := s.store.Unlink(owner, jobID)
	if unlinkErr != nil && !errors.Is(unlinkErr, services.ErrNotFound) {
		return unlinkErr
	}
	if contentID == "" {
		// No shared link: the output, if any, lives in the private partition.
		if err := os.RemoveAll(s.store.PrivateJobDir(owner, jobID)); err != nil {
			return services.Wrap(services.ErrUpstreamFailure, "api", "delete", "remove private output", err)
		}
	}
	s.registry.Delete(jobID)
	s.record(ctx, activity.Event{Type: activity.EventJobDeleted, Actor: identity.User, JobID: jobID, ContentID: contentID})
	s.logger.Info("job deleted",
		logging.String(logging.FieldJobID, jobID),
		logging.String(logging.FieldOwner, owner),
	)
	return nil
}

func (s *Service) denied(op string) error {
	return services.Wrap(services.ErrPermissionDenied, "api", op, "not your job", nil)
}

func (s *Service) record(ctx context.Context, event activity.Event) {
	if s.activity == nil {
		return
	}
	if err := s.activity.Record(ctx, event); err != nil {
		s.logger.Warn("activity record failed", logging.Error(err))
	}
}
