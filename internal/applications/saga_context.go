package applications

import "applyflow/internal/applications/saga"

// SagaContext accumulates the inputs and step outputs of one creation saga.
// Steps receive it by value and return an updated copy; it is never shared
// between requests.
type SagaContext struct {
	SagaID      string
	Username    string
	JobID       string
	CoverLetter string
	Email       string

	JobInfo *JobInfo
	Upload  *UploadResult
	Saved   *Application

	CurrentStep saga.Step
	Completed   bool
}

func newSagaContext(sagaID string, req CreateRequest, username string) SagaContext {
	return SagaContext{
		SagaID:      sagaID,
		Username:    username,
		JobID:       req.JobID,
		CoverLetter: req.CoverLetter,
		Email:       req.Email,
	}
}

func (c SagaContext) at(step saga.Step) SagaContext {
	c.CurrentStep = step
	return c
}

func (c SagaContext) withJobInfo(info JobInfo) SagaContext {
	c.JobInfo = &info
	return c
}

func (c SagaContext) withUpload(res UploadResult) SagaContext {
	c.Upload = &res
	return c
}

func (c SagaContext) withSaved(app Application) SagaContext {
	c.Saved = &app
	return c
}

// needsCompensation reports whether a failure at the current step leaves an
// uploaded object that nothing else will clean up.
func (c SagaContext) needsCompensation() bool {
	return c.CurrentStep == saga.StepSaveApplication && c.Upload != nil
}
