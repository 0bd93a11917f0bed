package applications

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// StatusService drives an Application through its lifecycle after creation.
type StatusService struct {
	repo   Repository
	events EventPublisher
	guard  StatusGuard
	logger *zap.Logger
	now    func() time.Time
}

// NewStatusService constructs a StatusService.
func NewStatusService(repo Repository, events EventPublisher, logger *zap.Logger) *StatusService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if events == nil {
		events = NoopEventPublisher{}
	}
	return &StatusService{repo: repo, events: events, logger: logger, now: time.Now}
}

// Get returns an active application.
func (s *StatusService) Get(ctx context.Context, id string) (View, error) {
	app, err := s.load(ctx, id)
	if err != nil {
		return View{}, err
	}
	return NewView(app), nil
}

// ListMine pages through the candidate's own active applications, newest first.
func (s *StatusService) ListMine(ctx context.Context, q ListQuery) (Page, error) {
	q = q.Normalize()
	apps, total, err := s.repo.ListByUsername(ctx, q)
	if err != nil {
		return Page{}, markAs(err, ErrPersistenceFailure, "list applications")
	}
	return NewPage(apps, q, total), nil
}

// ChangeStatus moves an application to target if the guard allows the edge,
// appending a history entry.
func (s *StatusService) ChangeStatus(ctx context.Context, id string, target Status, changedBy, reason string) (View, error) {
	app, err := s.load(ctx, id)
	if err != nil {
		return View{}, err
	}
	if err := s.guard.Validate(app.Status, target); err != nil {
		return View{}, err
	}

	change := StatusChange{
		PreviousStatus: app.Status,
		NewStatus:      target,
		ChangedBy:      changedBy,
		ChangedAt:      s.now().UTC(),
		Reason:         reason,
	}
	updated, err := s.repo.UpdateStatus(ctx, id, change)
	if err != nil {
		return View{}, markAs(err, ErrPersistenceFailure, "update status")
	}
	s.logger.Info("application status changed",
		zap.String("application_id", id),
		zap.String("from", string(change.PreviousStatus)),
		zap.String("to", string(change.NewStatus)),
		zap.String("changed_by", changedBy))

	if err := s.events.PublishStatusChanged(ctx, StatusChangedEvent{
		Envelope: newEnvelope(EventStatusChanged, change.ChangedAt),
		Data: StatusChangedData{
			ApplicationID:  updated.ID,
			Username:       updated.Username,
			JobID:          updated.JobID,
			PreviousStatus: change.PreviousStatus,
			NewStatus:      change.NewStatus,
			JobTitle:       updated.Job.Title,
			CompanyName:    updated.Job.CompanyName,
			ChangedBy:      changedBy,
			ChangedAt:      change.ChangedAt,
		},
	}); err != nil {
		s.logger.Warn("status changed event dropped", zap.String("application_id", id), zap.Error(err))
	}
	return NewView(updated), nil
}

// Withdraw soft-deletes the caller's own application. The same user may apply
// to the job again afterwards.
func (s *StatusService) Withdraw(ctx context.Context, id, username string) error {
	app, err := s.load(ctx, id)
	if err != nil {
		return err
	}
	if app.Username != username {
		return errors.Wrapf(ErrForbidden, "application %s does not belong to %s", id, username)
	}

	at := s.now().UTC()
	if err := s.repo.SoftDelete(ctx, id, at); err != nil {
		return markAs(err, ErrPersistenceFailure, "withdraw application")
	}
	s.logger.Info("application withdrawn", zap.String("application_id", id), zap.String("username", username))

	if err := s.events.PublishApplicationWithdrawn(ctx, ApplicationWithdrawnEvent{
		Envelope: newEnvelope(EventApplicationWithdrawn, at),
		Data: ApplicationWithdrawnData{
			ApplicationID: app.ID,
			Username:      app.Username,
			JobID:         app.JobID,
			JobTitle:      app.Job.Title,
			CompanyName:   app.Job.CompanyName,
			WithdrawnAt:   at,
		},
	}); err != nil {
		s.logger.Warn("withdrawn event dropped", zap.String("application_id", id), zap.Error(err))
	}

	total, err := s.repo.CountByJob(ctx, app.JobID)
	if err != nil {
		s.logger.Warn("job stats event dropped", zap.String("job_id", app.JobID), zap.Error(err))
		return nil
	}
	if err := s.events.PublishJobStatsUpdate(ctx, JobStatsUpdateEvent{
		EventID:           uuid.NewString(),
		JobID:             app.JobID,
		TotalApplications: total,
		Operation:         StatsDecrement,
		Timestamp:         at,
	}); err != nil {
		s.logger.Warn("job stats event dropped", zap.String("job_id", app.JobID), zap.Error(err))
	}
	return nil
}

func (s *StatusService) load(ctx context.Context, id string) (Application, error) {
	app, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return Application{}, markAs(err, ErrPersistenceFailure, "load application")
	}
	if app.Deleted() {
		return Application{}, errors.Wrapf(ErrApplicationNotFound, "application %s", id)
	}
	return app, nil
}
