package applications

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"applyflow/internal/applications/saga"
)

// Recorder receives saga telemetry.
type Recorder interface {
	StepDone(step saga.Step, elapsed time.Duration, err error)
	SagaDone(status saga.Status)
	PublishFailed(event string)
}

type nopRecorder struct{}

func (nopRecorder) StepDone(saga.Step, time.Duration, error) {}
func (nopRecorder) SagaDone(saga.Status)                     {}
func (nopRecorder) PublishFailed(string)                     {}

// SagaOrchestrator runs the application-creation saga.
type SagaOrchestrator struct {
	pipeline *ValidationPipeline
	jobs     JobService
	storage  FileStorage
	repo     Repository
	events   EventPublisher
	users    UserDirectory

	journal  saga.Journal
	recorder Recorder
	logger   *zap.Logger
	now      func() time.Time
	newID    func() string
}

// Option customizes a SagaOrchestrator.
type Option func(*SagaOrchestrator)

func WithLogger(logger *zap.Logger) Option {
	return func(o *SagaOrchestrator) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithJournal records step progress. Journal failures never fail the saga.
func WithJournal(j saga.Journal) Option {
	return func(o *SagaOrchestrator) { o.journal = j }
}

func WithRecorder(r Recorder) Option {
	return func(o *SagaOrchestrator) {
		if r != nil {
			o.recorder = r
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(o *SagaOrchestrator) {
		if now != nil {
			o.now = now
		}
	}
}

// WithIDGenerator overrides saga and temp-folder identifiers.
func WithIDGenerator(newID func() string) Option {
	return func(o *SagaOrchestrator) {
		if newID != nil {
			o.newID = newID
		}
	}
}

// NewSagaOrchestrator constructs a SagaOrchestrator.
func NewSagaOrchestrator(
	pipeline *ValidationPipeline,
	jobs JobService,
	storage FileStorage,
	repo Repository,
	events EventPublisher,
	users UserDirectory,
	opts ...Option,
) *SagaOrchestrator {
	o := &SagaOrchestrator{
		pipeline: pipeline,
		jobs:     jobs,
		storage:  storage,
		repo:     repo,
		events:   events,
		users:    users,
		recorder: nopRecorder{},
		logger:   zap.NewNop(),
		now:      time.Now,
		newID:    uuid.NewString,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

type sagaStep struct {
	step saga.Step
	run  func(ctx context.Context, sc SagaContext, req CreateRequest) (SagaContext, error)
}

// CreateApplication validates, uploads and persists a new application, then
// publishes its events best-effort. On failure it returns a *StepError whose
// chain carries one taxonomy sentinel; if persistence failed the uploaded CV
// has been deleted.
func (o *SagaOrchestrator) CreateApplication(ctx context.Context, req CreateRequest, username string) (View, error) {
	sc := newSagaContext(o.newID(), req, username)
	log := o.logger.With(zap.String("saga_id", sc.SagaID), zap.String("username", username), zap.String("job_id", req.JobID))
	log.Info("starting application creation saga")
	o.journalStart(ctx, sc)

	steps := []sagaStep{
		{saga.StepValidate, o.validate},
		{saga.StepFetchJobInfo, o.fetchJobInfo},
		{saga.StepUploadCV, o.uploadCV},
		{saga.StepSaveApplication, o.saveApplication},
	}
	for _, s := range steps {
		sc = sc.at(s.step)
		next, err := o.runStep(ctx, sc, req, s)
		if err != nil {
			return View{}, o.fail(ctx, sc, err, log)
		}
		sc = next
	}

	sc = o.publishEvents(ctx, sc.at(saga.StepPublishEvents), log)
	sc.Completed = true

	o.journalFinish(ctx, sc.SagaID, saga.StatusSucceeded, sc.Saved.ID)
	o.recorder.SagaDone(saga.StatusSucceeded)
	log.Info("application creation saga completed", zap.String("application_id", sc.Saved.ID))
	return NewView(*sc.Saved), nil
}

func (o *SagaOrchestrator) runStep(ctx context.Context, sc SagaContext, req CreateRequest, s sagaStep) (SagaContext, error) {
	o.logger.Debug("saga step", zap.String("saga_id", sc.SagaID), zap.String("step", string(s.step)))
	o.journalStep(ctx, sc.SagaID, s.step, saga.StepStarted, "")

	start := o.now()
	next, err := s.run(ctx, sc, req)
	o.recorder.StepDone(s.step, o.now().Sub(start), err)

	if err != nil {
		o.journalStep(ctx, sc.SagaID, s.step, saga.StepFailed, err.Error())
		return sc, err
	}
	o.journalStep(ctx, sc.SagaID, s.step, saga.StepSucceeded, "")
	return next, nil
}

func (o *SagaOrchestrator) validate(ctx context.Context, sc SagaContext, req CreateRequest) (SagaContext, error) {
	return sc, o.pipeline.Validate(ctx, req, sc.Username)
}

// fetchJobInfo re-checks the job's published state so a job closed after
// validation still stops the saga here.
func (o *SagaOrchestrator) fetchJobInfo(ctx context.Context, sc SagaContext, _ CreateRequest) (SagaContext, error) {
	info, err := o.jobs.ValidateAndGet(ctx, sc.JobID)
	if err != nil {
		return sc, markAs(err, ErrJobNotFound, "fetch job info")
	}
	if !Published(info) {
		return sc, errors.Wrapf(ErrJobNotFound, "job %s has status %q", sc.JobID, info.Status)
	}
	o.logger.Debug("job info fetched", zap.String("saga_id", sc.SagaID), zap.String("title", info.Title), zap.String("company", info.CompanyName))
	return sc.withJobInfo(info), nil
}

func (o *SagaOrchestrator) uploadCV(ctx context.Context, sc SagaContext, req CreateRequest) (SagaContext, error) {
	if req.CV == nil {
		return sc, errors.Wrap(ErrInvalidFile, "cv file is required")
	}
	folder := "temp-" + shortID(o.newID())
	res, err := o.storage.Upload(ctx, *req.CV, sc.Username, folder)
	if err != nil {
		return sc, markAs(err, ErrStorageFailure, "upload cv")
	}
	o.logger.Debug("cv uploaded", zap.String("saga_id", sc.SagaID), zap.String("file_url", res.FileURL))
	return sc.withUpload(res), nil
}

func (o *SagaOrchestrator) saveApplication(ctx context.Context, sc SagaContext, _ CreateRequest) (SagaContext, error) {
	now := o.now().UTC()
	job := *sc.JobInfo
	file := *sc.Upload

	app := Application{
		ID:            o.newID(),
		Username:      sc.Username,
		Email:         sc.Email,
		JobID:         sc.JobID,
		CompanyID:     job.CompanyID,
		Status:        StatusApplied,
		CVFileURL:     file.FileURL,
		CVFileName:    file.FileName,
		CVContentType: file.ContentType,
		CVFileSize:    file.FileSize,
		CoverLetter:   sc.CoverLetter,
		Job: JobSnapshot{
			Title:           job.Title,
			CompanyID:       job.CompanyID,
			CompanyName:     job.CompanyName,
			Location:        job.Location,
			EmploymentType:  job.EmploymentType,
			ExperienceLevel: job.ExperienceLevel,
			CreatedBy:       job.CreatedBy,
			SnapshotAt:      now,
		},
		AssignedTo: job.CreatedBy,
		AssignedBy: SystemAssigner,
		AssignedAt: now,
		StatusHistory: []StatusChange{{
			NewStatus: StatusApplied,
			ChangedBy: sc.Username,
			ChangedAt: now,
		}},
		CreatedAt: now,
		UpdatedAt: now,
	}

	saved, err := o.repo.Save(ctx, app)
	if err != nil {
		return sc, markAs(err, ErrPersistenceFailure, "save application")
	}
	return sc.withSaved(saved), nil
}

// fail wraps err with the failing step and compensates the upload when the
// failing step was SAVE_APPLICATION. A compensation failure is attached as a
// secondary error and does not replace err.
func (o *SagaOrchestrator) fail(ctx context.Context, sc SagaContext, err error, log *zap.Logger) error {
	log.Error("application creation saga failed", zap.String("step", string(sc.CurrentStep)), zap.Error(err))

	var out error = &StepError{Step: sc.CurrentStep, Err: err}
	status := saga.StatusFailed

	if sc.needsCompensation() {
		if cerr := o.compensateUpload(ctx, sc, log); cerr != nil {
			out = errors.WithSecondaryError(out, cerr)
		} else {
			status = saga.StatusCompensated
		}
	}

	o.journalFinish(ctx, sc.SagaID, status, "")
	o.recorder.SagaDone(status)
	return out
}

func (o *SagaOrchestrator) compensateUpload(ctx context.Context, sc SagaContext, log *zap.Logger) error {
	// The request may already be cancelled; the delete still has to run.
	cctx := context.WithoutCancel(ctx)
	log.Info("compensation: deleting uploaded cv", zap.String("file_url", sc.Upload.FileURL))

	start := o.now()
	err := o.storage.Delete(cctx, sc.Upload.FileURL)
	o.recorder.StepDone(saga.StepCompensate, o.now().Sub(start), err)
	if err != nil {
		log.Error("compensation failed: could not delete cv", zap.String("file_url", sc.Upload.FileURL), zap.Error(err))
		o.journalStep(cctx, sc.SagaID, saga.StepCompensate, saga.StepFailed, err.Error())
		return markAs(err, ErrStorageFailure, "compensate upload")
	}
	o.journalStep(cctx, sc.SagaID, saga.StepCompensate, saga.StepSucceeded, sc.Upload.FileURL)
	return nil
}

// publishEvents is best-effort: every failure, including a panic in a
// publisher, is logged and dropped. There is no retry.
func (o *SagaOrchestrator) publishEvents(ctx context.Context, sc SagaContext, log *zap.Logger) (out SagaContext) {
	out = sc
	app := *sc.Saved
	job := *sc.JobInfo
	now := o.now().UTC()
	var failed []string

	report := func(event string, err error) {
		if err == nil {
			return
		}
		failed = append(failed, event)
		o.recorder.PublishFailed(event)
		log.Warn("event publish failed, dropping", zap.String("event", event), zap.String("application_id", app.ID), zap.Error(err))
	}

	o.journalStep(ctx, sc.SagaID, saga.StepPublishEvents, saga.StepStarted, "")
	defer func() {
		if r := recover(); r != nil {
			failed = append(failed, "panic")
			log.Error("event publishing panicked, dropping", zap.Any("panic", r))
		}
		status, detail := saga.StepSucceeded, ""
		if len(failed) > 0 {
			status, detail = saga.StepFailed, strings.Join(failed, ",")
		}
		o.journalStep(ctx, sc.SagaID, saga.StepPublishEvents, status, detail)
	}()

	report(EventApplicationCreated, o.events.PublishApplicationCreated(ctx, ApplicationCreatedEvent{
		Envelope: newEnvelope(EventApplicationCreated, now),
		Data: ApplicationCreatedData{
			ApplicationID: app.ID,
			Username:      app.Username,
			JobID:         app.JobID,
			CVFileURL:     app.CVFileURL,
			Status:        app.Status,
			JobTitle:      app.Job.Title,
			CompanyName:   app.Job.CompanyName,
			HRUsername:    job.CreatedBy,
			AppliedAt:     app.CreatedAt,
		},
	}))

	if total, err := o.repo.CountByJob(ctx, app.JobID); err != nil {
		report(EventJobStatsUpdate, err)
	} else {
		report(EventJobStatsUpdate, o.events.PublishJobStatsUpdate(ctx, JobStatsUpdateEvent{
			EventID:           uuid.NewString(),
			JobID:             app.JobID,
			TotalApplications: total,
			Operation:         StatsIncrement,
			Timestamp:         now,
		}))
	}

	hr := job.CreatedBy
	notifyHR := hr != "" && !strings.EqualFold(hr, "system")
	contacts := o.lookupContacts(ctx, app.Username, hr, notifyHR, log)

	candidate := contacts[app.Username]
	if candidate.Email == "" {
		candidate.Email = sc.Email
	}
	report(EventApplicationSubmitted, o.events.PublishCandidateNotification(ctx, NotificationEvent{
		Envelope:          newEnvelope(EventApplicationSubmitted, now),
		RecipientEmail:    candidate.Email,
		RecipientUsername: app.Username,
		RecipientRole:     "CANDIDATE",
		Subject:           "Application Submitted: " + app.Job.Title,
		TemplateType:      "APPLICATION_CONFIRMATION",
		ReferenceID:       app.ID,
		ReferenceType:     "APPLICATION",
		Metadata:          notificationMetadata(app, displayName(candidate, app.Username), "candidateName"),
	}))

	if notifyHR {
		hrInfo := contacts[hr]
		meta := notificationMetadata(app, displayName(hrInfo, hr), "hrName")
		meta["candidateName"] = displayName(candidate, app.Username)
		report(EventNewApplication, o.events.PublishHRNotification(ctx, NotificationEvent{
			Envelope:          newEnvelope(EventNewApplication, now),
			RecipientEmail:    hrInfo.Email,
			RecipientUsername: hr,
			RecipientRole:     "HR",
			Subject:           "New Application: " + app.Job.Title,
			TemplateType:      "NEW_APPLICATION_HR",
			ReferenceID:       app.ID,
			ReferenceType:     "APPLICATION",
			Metadata:          meta,
		}))
	} else {
		log.Debug("skipping hr notification", zap.String("created_by", hr))
	}

	return out
}

func (o *SagaOrchestrator) lookupContacts(ctx context.Context, candidate, hr string, withHR bool, log *zap.Logger) map[string]UserInfo {
	names := []string{candidate}
	if withHR {
		names = append(names, hr)
	}
	contacts := make(map[string]UserInfo, len(names))
	if o.users == nil {
		return contacts
	}
	users, err := o.users.GetByUsernames(ctx, names)
	if err != nil {
		log.Warn("user directory lookup failed, notifying with fallback contacts", zap.Strings("usernames", names), zap.Error(err))
		return contacts
	}
	for _, u := range users {
		contacts[u.Username] = u
	}
	return contacts
}

func notificationMetadata(app Application, name, nameKey string) map[string]string {
	return map[string]string{
		nameKey:         name,
		"jobTitle":      app.Job.Title,
		"companyName":   app.Job.CompanyName,
		"applicationId": app.ID,
		"appliedAt":     app.CreatedAt.Format(time.RFC3339),
	}
}

func displayName(u UserInfo, fallback string) string {
	if u.FullName != "" {
		return u.FullName
	}
	return fallback
}

func shortID(id string) string {
	id = strings.ReplaceAll(id, "-", "")
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func (o *SagaOrchestrator) journalStart(ctx context.Context, sc SagaContext) {
	if o.journal == nil {
		return
	}
	if err := o.journal.Start(ctx, sc.SagaID, sc.Username, sc.JobID); err != nil {
		o.logger.Warn("saga journal start failed", zap.String("saga_id", sc.SagaID), zap.Error(err))
	}
}

func (o *SagaOrchestrator) journalStep(ctx context.Context, sagaID string, step saga.Step, status saga.StepStatus, detail string) {
	if o.journal == nil {
		return
	}
	if err := o.journal.AddStep(ctx, sagaID, step, status, detail); err != nil {
		o.logger.Warn("saga journal step failed",
			zap.String("saga_id", sagaID),
			zap.String("step", fmt.Sprintf("%s/%s", step, status)),
			zap.Error(err))
	}
}

func (o *SagaOrchestrator) journalFinish(ctx context.Context, sagaID string, status saga.Status, applicationID string) {
	if o.journal == nil {
		return
	}
	if err := o.journal.Finish(context.WithoutCancel(ctx), sagaID, status, applicationID); err != nil {
		o.logger.Warn("saga journal finish failed", zap.String("saga_id", sagaID), zap.Error(err))
	}
}
