package applications

import (
	"github.com/cockroachdb/errors"

	"applyflow/internal/applications/saga"
)

// Error taxonomy. Collaborator failures are marked with one of these so callers
// match on the sentinel with errors.Is and never on transport errors.
var (
	ErrAlreadyApplied      = errors.New("already applied to this job")
	ErrInvalidFile         = errors.New("invalid cv file")
	ErrJobNotFound         = errors.New("job not found or not accepting applications")
	ErrStorageFailure      = errors.New("file storage failure")
	ErrPersistenceFailure  = errors.New("persistence failure")
	ErrInvalidTransition   = errors.New("invalid status transition")
	ErrApplicationNotFound = errors.New("application not found")
	ErrForbidden           = errors.New("forbidden")
)

// StepError records the saga step at which a creation failed.
type StepError struct {
	Step saga.Step
	Err  error
}

func (e *StepError) Error() string {
	return "saga step " + string(e.Step) + ": " + e.Err.Error()
}

func (e *StepError) Unwrap() error {
	return e.Err
}

// FailedStep returns the step recorded on err, if any.
func FailedStep(err error) (saga.Step, bool) {
	var stepErr *StepError
	if errors.As(err, &stepErr) {
		return stepErr.Step, true
	}
	return "", false
}

// markAs wraps err with msg and marks it with sentinel unless err already
// carries a taxonomy sentinel.
func markAs(err error, sentinel error, msg string) error {
	if err == nil {
		return nil
	}
	if errors.IsAny(err, ErrAlreadyApplied, ErrInvalidFile, ErrJobNotFound, ErrStorageFailure,
		ErrPersistenceFailure, ErrInvalidTransition, ErrApplicationNotFound, ErrForbidden) {
		return errors.Wrap(err, msg)
	}
	return errors.Mark(errors.Wrap(err, msg), sentinel)
}
