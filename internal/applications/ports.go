package applications

import (
	"context"
	"time"
)

// JobService looks up jobs in the job service.
type JobService interface {
	// ValidateAndGet returns the job when it exists and is published, or an
	// ErrJobNotFound-marked error.
	ValidateAndGet(ctx context.Context, jobID string) (JobInfo, error)
	// Exists reports whether the job exists and is published.
	Exists(ctx context.Context, jobID string) (bool, error)
}

// FileStorage stores CV files.
type FileStorage interface {
	Upload(ctx context.Context, file File, owner, folder string) (UploadResult, error)
	Delete(ctx context.Context, fileURL string) error
}

// Repository persists applications. The (username, jobID) pair is unique among
// non-deleted rows; Save reports a violation as ErrAlreadyApplied.
// UpdateStatus is a compare-and-set on change.PreviousStatus and reports a
// mismatch as ErrInvalidTransition.
type Repository interface {
	ExistsActive(ctx context.Context, username, jobID string) (bool, error)
	Save(ctx context.Context, app Application) (Application, error)
	CountByJob(ctx context.Context, jobID string) (int, error)
	FindByID(ctx context.Context, id string) (Application, error)
	UpdateStatus(ctx context.Context, id string, change StatusChange) (Application, error)
	SoftDelete(ctx context.Context, id string, at time.Time) error
	ListByUsername(ctx context.Context, q ListQuery) ([]Application, int, error)
}

// ListQuery selects one page of a candidate's active applications. Page is
// zero-based. An empty Status matches every status.
type ListQuery struct {
	Username string
	Status   Status
	Page     int
	Size     int
}

// EventPublisher fans out application events. Errors are returned only so the
// caller can log them.
type EventPublisher interface {
	PublishApplicationCreated(ctx context.Context, event ApplicationCreatedEvent) error
	PublishJobStatsUpdate(ctx context.Context, event JobStatsUpdateEvent) error
	PublishCandidateNotification(ctx context.Context, event NotificationEvent) error
	PublishHRNotification(ctx context.Context, event NotificationEvent) error
	PublishStatusChanged(ctx context.Context, event StatusChangedEvent) error
	PublishApplicationWithdrawn(ctx context.Context, event ApplicationWithdrawnEvent) error
}

// UserDirectory resolves contact details for usernames.
type UserDirectory interface {
	GetByUsernames(ctx context.Context, usernames []string) ([]UserInfo, error)
}
