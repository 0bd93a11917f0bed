package saga

import (
	"context"
)

// Step names a stage of the application-creation saga. The forward steps run
// in declaration order.
type Step string

const (
	StepValidate        Step = "VALIDATE"
	StepFetchJobInfo    Step = "FETCH_JOB_INFO"
	StepUploadCV        Step = "UPLOAD_CV"
	StepSaveApplication Step = "SAVE_APPLICATION"
	StepPublishEvents   Step = "PUBLISH_EVENTS"
	StepCompensate      Step = "COMPENSATE"
)

// Status captures the outcome of a saga run.
type Status string

const (
	StatusStarted     Status = "started"
	StatusSucceeded   Status = "succeeded"
	StatusFailed      Status = "failed"
	StatusCompensated Status = "compensated"
)

// StepStatus captures the outcome of one step.
type StepStatus string

const (
	StepStarted   StepStatus = "started"
	StepSucceeded StepStatus = "succeeded"
	StepFailed    StepStatus = "failed"
)

// Record represents a stored saga entry.
type Record struct {
	SagaID   string
	Username string
	JobID    string
	Status   Status
}

// Journal records saga progress. Implementations must be safe for concurrent use.
type Journal interface {
	Start(ctx context.Context, sagaID, username, jobID string) error
	AddStep(ctx context.Context, sagaID string, step Step, status StepStatus, detail string) error
	Finish(ctx context.Context, sagaID string, status Status, applicationID string) error
}
