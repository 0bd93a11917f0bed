package applications

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"applyflow/internal/applications/saga"
)

type harness struct {
	repo     *flakyRepo
	jobs     *countingJobs
	storage  *fakeStorage
	events   *recordingPublisher
	users    *InMemoryUserDirectory
	journal  *memoryJournal
	recorder *stubRecorder
	orch     *SagaOrchestrator
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		repo: &flakyRepo{InMemoryRepository: NewInMemoryRepository()},
		jobs: &countingJobs{JobService: NewInMemoryJobService(
			JobInfo{ID: "J1", Title: "Backend Engineer", CompanyID: "C1", CompanyName: "Acme", Status: "PUBLISHED", CreatedBy: "hr1"},
			JobInfo{ID: "J2", Title: "Designer", CompanyID: "C1", CompanyName: "Acme", Status: "CLOSED", CreatedBy: "hr1"},
			JobInfo{ID: "J3", Title: "Imported", CompanyID: "C2", CompanyName: "Globex", Status: "published", CreatedBy: "system"},
		)},
		storage:  newFakeStorage(),
		events:   &recordingPublisher{},
		users:    NewInMemoryUserDirectory(UserInfo{Username: "alice", FullName: "Alice Liddell", Email: "alice@example.com"}, UserInfo{Username: "hr1", FullName: "Hannah R", Email: "hr1@acme.test"}),
		journal:  newMemoryJournal(),
		recorder: &stubRecorder{},
	}
	h.orch = h.build(t)
	return h
}

func (h *harness) build(t *testing.T) *SagaOrchestrator {
	logger := zaptest.NewLogger(t)
	pipeline := NewValidationPipeline(logger,
		NewJobExistenceCheck(h.jobs, logger),
		NewFileCheck(),
		NewDuplicateCheck(h.repo),
	)
	return NewSagaOrchestrator(pipeline, h.jobs, h.storage, h.repo, h.events, h.users,
		WithLogger(logger),
		WithJournal(h.journal),
		WithRecorder(h.recorder),
		WithClock(func() time.Time { return time.Date(2026, 3, 1, 9, 30, 0, 0, time.UTC) }),
	)
}

func request(jobID string) CreateRequest {
	return CreateRequest{JobID: jobID, CoverLetter: "hello", Email: "alice@request.test", CV: pdf("cv.pdf", 2048)}
}

func TestCreateApplication_Success(t *testing.T) {
	h := newHarness(t)

	view, err := h.orch.CreateApplication(context.Background(), request("J1"), "alice")
	require.NoError(t, err)

	assert.Equal(t, StatusApplied, view.Status)
	assert.Equal(t, "hr1", view.AssignedTo)
	assert.Equal(t, "Backend Engineer", view.Job.Title)
	assert.Equal(t, "Acme", view.Job.CompanyName)
	require.Len(t, view.StatusHistory, 1)
	assert.Equal(t, StatusApplied, view.StatusHistory[0].NewStatus)
	assert.True(t, h.storage.exists(view.CVFileURL), "cv object must exist")

	all := h.repo.All()
	require.Len(t, all, 1)
	assert.Equal(t, view.ID, all[0].ID)
	assert.Equal(t, SystemAssigner, all[0].AssignedBy)

	require.Len(t, h.events.created, 1)
	assert.Equal(t, view.ID, h.events.created[0].Data.ApplicationID)
	require.Len(t, h.events.stats, 1)
	assert.Equal(t, 1, h.events.stats[0].TotalApplications)
	assert.Equal(t, StatsIncrement, h.events.stats[0].Operation)
	require.Len(t, h.events.candidate, 1)
	assert.Equal(t, "alice@example.com", h.events.candidate[0].RecipientEmail)
	assert.Equal(t, "Alice Liddell", h.events.candidate[0].Metadata["candidateName"])
	require.Len(t, h.events.hr, 1)
	assert.Equal(t, "hr1@acme.test", h.events.hr[0].RecipientEmail)

	assert.Equal(t, []saga.Status{saga.StatusSucceeded}, h.recorder.sagas)
	require.Len(t, h.journal.started, 1)
	assert.Equal(t, saga.StatusSucceeded, h.journal.finished[h.journal.started[0]])
	assert.Equal(t, 2, h.jobs.getCalls+h.jobs.existsCalls, "job is checked at validation and again at fetch")
}

func TestCreateApplication_AlreadyAppliedSkipsUpload(t *testing.T) {
	h := newHarness(t)
	_, err := h.orch.CreateApplication(context.Background(), request("J1"), "alice")
	require.NoError(t, err)
	uploads := h.storage.uploads

	_, err = h.orch.CreateApplication(context.Background(), request("J1"), "alice")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrAlreadyApplied), "got %v", err)
	step, ok := FailedStep(err)
	require.True(t, ok)
	assert.Equal(t, saga.StepValidate, step)
	assert.Equal(t, uploads, h.storage.uploads, "no upload for a duplicate")
	assert.Len(t, h.repo.All(), 1)
}

func TestCreateApplication_InvalidFileSkipsJobLookup(t *testing.T) {
	h := newHarness(t)
	req := request("J1")
	req.CV.ContentType = "image/png"

	_, err := h.orch.CreateApplication(context.Background(), req, "alice")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvalidFile), "got %v", err)
	assert.Zero(t, h.jobs.existsCalls)
	assert.Zero(t, h.jobs.getCalls)
	assert.Zero(t, h.storage.uploads)
}

func TestCreateApplication_ClosedJobRejectedAtValidation(t *testing.T) {
	h := newHarness(t)

	_, err := h.orch.CreateApplication(context.Background(), request("J2"), "alice")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrJobNotFound), "got %v", err)
	step, _ := FailedStep(err)
	assert.Equal(t, saga.StepValidate, step)
	assert.Zero(t, h.storage.uploads)
}

func TestCreateApplication_ClosedJobRejectedAtFetch(t *testing.T) {
	h := newHarness(t)
	lie := true
	h.jobs.existsOver = &lie

	_, err := h.orch.CreateApplication(context.Background(), request("J2"), "alice")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrJobNotFound), "got %v", err)
	step, _ := FailedStep(err)
	assert.Equal(t, saga.StepFetchJobInfo, step)
	assert.Zero(t, h.storage.uploads)
}

type closedJobService struct{}

func (closedJobService) ValidateAndGet(context.Context, string) (JobInfo, error) {
	return JobInfo{ID: "J9", Status: "DRAFT"}, nil
}

func (closedJobService) Exists(context.Context, string) (bool, error) { return true, nil }

func TestCreateApplication_FetchRechecksStatus(t *testing.T) {
	h := newHarness(t)
	h.jobs = &countingJobs{JobService: closedJobService{}}
	h.orch = h.build(t)

	_, err := h.orch.CreateApplication(context.Background(), request("J9"), "alice")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrJobNotFound))
	step, _ := FailedStep(err)
	assert.Equal(t, saga.StepFetchJobInfo, step)
}

type statuslessJobService struct{}

func (statuslessJobService) ValidateAndGet(context.Context, string) (JobInfo, error) {
	return JobInfo{ID: "J8", Title: "Unknown state", CreatedBy: "hr1"}, nil
}

func (statuslessJobService) Exists(context.Context, string) (bool, error) { return true, nil }

func TestCreateApplication_FetchRejectsJobWithoutStatus(t *testing.T) {
	h := newHarness(t)
	h.jobs = &countingJobs{JobService: statuslessJobService{}}
	h.orch = h.build(t)

	_, err := h.orch.CreateApplication(context.Background(), request("J8"), "alice")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrJobNotFound), "got %v", err)
	step, _ := FailedStep(err)
	assert.Equal(t, saga.StepFetchJobInfo, step)
	assert.Zero(t, h.storage.uploads)
}

func TestCreateApplication_JobLookupErrorFailsClosed(t *testing.T) {
	h := newHarness(t)
	h.jobs.existsErr = errors.New("dial tcp: i/o timeout")

	_, err := h.orch.CreateApplication(context.Background(), request("J1"), "alice")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrJobNotFound), "got %v", err)
	assert.Zero(t, h.storage.uploads)
}

func TestCreateApplication_PersistenceFailureDeletesUpload(t *testing.T) {
	h := newHarness(t)
	h.repo.saveErr = errDatabaseDown

	_, err := h.orch.CreateApplication(context.Background(), request("J1"), "alice")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrPersistenceFailure), "got %v", err)
	step, _ := FailedStep(err)
	assert.Equal(t, saga.StepSaveApplication, step)

	assert.Equal(t, 1, h.storage.uploads)
	assert.Equal(t, 1, h.storage.deletes)
	assert.Zero(t, h.storage.countUnder("mem://cv/alice/temp-"), "no orphaned cv")
	assert.Empty(t, h.repo.All())
	assert.Empty(t, h.events.created)

	assert.Equal(t, saga.StatusCompensated, h.journal.finished[h.journal.started[0]])
	assert.Contains(t, h.journal.steps, journalEntry{saga.StepCompensate, saga.StepSucceeded})
}

func TestCreateApplication_ConstraintRaceReportsAlreadyApplied(t *testing.T) {
	h := newHarness(t)
	h.repo.saveErr = errors.Wrap(ErrAlreadyApplied, "unique violation")

	_, err := h.orch.CreateApplication(context.Background(), request("J1"), "alice")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrAlreadyApplied))
	assert.False(t, errors.Is(err, ErrPersistenceFailure))
	assert.Zero(t, h.storage.countUnder("mem://cv/alice/"))
}

func TestCreateApplication_CompensationFailureKeepsPrimaryError(t *testing.T) {
	h := newHarness(t)
	h.repo.saveErr = errDatabaseDown
	h.storage.deleteErr = errors.New("bucket unavailable")

	_, err := h.orch.CreateApplication(context.Background(), request("J1"), "alice")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrPersistenceFailure))
	assert.Contains(t, fmt.Sprintf("%+v", err), "bucket unavailable")
	assert.Equal(t, saga.StatusFailed, h.journal.finished[h.journal.started[0]])

	var compensated bool
	for _, s := range h.recorder.steps {
		if s.step == saga.StepCompensate {
			compensated = true
			assert.Error(t, s.err)
		}
	}
	assert.True(t, compensated)
}

func TestCreateApplication_CompensationSurvivesCancelledContext(t *testing.T) {
	h := newHarness(t)
	h.repo.saveErr = errDatabaseDown
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := h.orch.CreateApplication(ctx, request("J1"), "alice")
	require.Error(t, err)
	assert.Equal(t, 1, h.storage.deletes)
	assert.Zero(t, h.storage.countUnder("mem://cv/alice/"))
}

func TestCreateApplication_UploadFailureNoCompensation(t *testing.T) {
	h := newHarness(t)
	h.storage.uploadErr = errors.New("s3: 503 slow down")

	_, err := h.orch.CreateApplication(context.Background(), request("J1"), "alice")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrStorageFailure), "got %v", err)
	step, _ := FailedStep(err)
	assert.Equal(t, saga.StepUploadCV, step)
	assert.Zero(t, h.storage.deletes)
	assert.Equal(t, saga.StatusFailed, h.journal.finished[h.journal.started[0]])
}

func TestCreateApplication_PublishFailuresAreSwallowed(t *testing.T) {
	h := newHarness(t)
	h.events.err = errors.New("redis: connection pool timeout")

	view, err := h.orch.CreateApplication(context.Background(), request("J1"), "alice")
	require.NoError(t, err)

	stored, err := h.repo.FindByID(context.Background(), view.ID)
	require.NoError(t, err)
	assert.Equal(t, NewView(stored), view)
	assert.ElementsMatch(t,
		[]string{EventApplicationCreated, EventJobStatsUpdate, EventApplicationSubmitted, EventNewApplication},
		h.recorder.dropped)
	assert.Contains(t, h.journal.steps, journalEntry{saga.StepPublishEvents, saga.StepFailed})
}

func TestCreateApplication_PublishPanicIsSwallowed(t *testing.T) {
	h := newHarness(t)
	h.events.panicOnHR = true

	view, err := h.orch.CreateApplication(context.Background(), request("J1"), "alice")
	require.NoError(t, err)
	assert.NotEmpty(t, view.ID)
	assert.Equal(t, []saga.Status{saga.StatusSucceeded}, h.recorder.sagas)
}

func TestCreateApplication_StatsCountFailureStillNotifies(t *testing.T) {
	h := newHarness(t)
	h.repo.countErr = errDatabaseDown

	_, err := h.orch.CreateApplication(context.Background(), request("J1"), "alice")
	require.NoError(t, err)
	assert.Empty(t, h.events.stats)
	assert.Len(t, h.events.candidate, 1)
	assert.Contains(t, h.recorder.dropped, EventJobStatsUpdate)
}

func TestCreateApplication_SystemCreatedJobSkipsHR(t *testing.T) {
	h := newHarness(t)

	view, err := h.orch.CreateApplication(context.Background(), request("J3"), "alice")
	require.NoError(t, err)
	assert.Equal(t, "system", view.AssignedTo)
	assert.Empty(t, h.events.hr)
	assert.Len(t, h.events.candidate, 1)
}

func TestCreateApplication_UnknownCandidateFallsBackToRequestEmail(t *testing.T) {
	h := newHarness(t)

	_, err := h.orch.CreateApplication(context.Background(), request("J1"), "bob")
	require.NoError(t, err)
	require.Len(t, h.events.candidate, 1)
	assert.Equal(t, "alice@request.test", h.events.candidate[0].RecipientEmail)
	assert.Equal(t, "bob", h.events.candidate[0].Metadata["candidateName"])
}

func TestCreateApplication_JournalFailureDoesNotFailSaga(t *testing.T) {
	h := newHarness(t)
	h.journal.err = errors.New("journal table missing")

	_, err := h.orch.CreateApplication(context.Background(), request("J1"), "alice")
	require.NoError(t, err)
}

func TestCreateApplication_UploadsIntoTempFolder(t *testing.T) {
	h := newHarness(t)
	ids := []string{"saga-0001", "3f2a9c1e-77aa-4b1c-9d0e-1234567890ab", "app-0001"}
	logger := zaptest.NewLogger(t)
	orch := NewSagaOrchestrator(
		NewValidationPipeline(logger, NewFileCheck()),
		h.jobs, h.storage, h.repo, h.events, h.users,
		WithIDGenerator(func() string {
			id := ids[0]
			ids = ids[1:]
			return id
		}),
	)

	view, err := orch.CreateApplication(context.Background(), request("J1"), "alice")
	require.NoError(t, err)
	assert.Equal(t, "app-0001", view.ID)
	assert.True(t, strings.HasPrefix(view.CVFileURL, "mem://cv/alice/temp-3f2a9c1e/"), view.CVFileURL)
}
