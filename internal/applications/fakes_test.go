package applications

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/cockroachdb/errors"

	"applyflow/internal/applications/saga"
)

type fakeStorage struct {
	mu        sync.Mutex
	objects   map[string][]byte
	uploads   int
	deletes   int
	uploadErr error
	deleteErr error
}

func newFakeStorage() *fakeStorage {
	return &fakeStorage{objects: make(map[string][]byte)}
}

func (s *fakeStorage) Upload(_ context.Context, file File, owner, folder string) (UploadResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.uploads++
	if s.uploadErr != nil {
		return UploadResult{}, s.uploadErr
	}
	var body []byte
	if file.Content != nil {
		body, _ = io.ReadAll(file.Content)
	}
	url := fmt.Sprintf("mem://cv/%s/%s/%s", owner, folder, file.Name)
	s.objects[url] = body
	return UploadResult{FileURL: url, FileName: file.Name, ContentType: file.ContentType, FileSize: file.Size}, nil
}

func (s *fakeStorage) Delete(ctx context.Context, url string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deletes++
	if err := ctx.Err(); err != nil {
		return err
	}
	if s.deleteErr != nil {
		return s.deleteErr
	}
	delete(s.objects, url)
	return nil
}

func (s *fakeStorage) exists(url string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.objects[url]
	return ok
}

func (s *fakeStorage) countUnder(prefix string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for url := range s.objects {
		if strings.HasPrefix(url, prefix) {
			n++
		}
	}
	return n
}

type countingJobs struct {
	JobService
	existsCalls int
	getCalls    int
	existsErr   error
	existsOver  *bool
}

func (j *countingJobs) Exists(ctx context.Context, jobID string) (bool, error) {
	j.existsCalls++
	if j.existsErr != nil {
		return false, j.existsErr
	}
	if j.existsOver != nil {
		return *j.existsOver, nil
	}
	return j.JobService.Exists(ctx, jobID)
}

func (j *countingJobs) ValidateAndGet(ctx context.Context, jobID string) (JobInfo, error) {
	j.getCalls++
	return j.JobService.ValidateAndGet(ctx, jobID)
}

type flakyRepo struct {
	*InMemoryRepository
	saveErr   error
	existsErr error
	countErr  error
	listErr   error
}

func (r *flakyRepo) ListByUsername(ctx context.Context, q ListQuery) ([]Application, int, error) {
	if r.listErr != nil {
		return nil, 0, r.listErr
	}
	return r.InMemoryRepository.ListByUsername(ctx, q)
}

func (r *flakyRepo) Save(ctx context.Context, app Application) (Application, error) {
	if r.saveErr != nil {
		return Application{}, r.saveErr
	}
	return r.InMemoryRepository.Save(ctx, app)
}

func (r *flakyRepo) ExistsActive(ctx context.Context, username, jobID string) (bool, error) {
	if r.existsErr != nil {
		return false, r.existsErr
	}
	return r.InMemoryRepository.ExistsActive(ctx, username, jobID)
}

func (r *flakyRepo) CountByJob(ctx context.Context, jobID string) (int, error) {
	if r.countErr != nil {
		return 0, r.countErr
	}
	return r.InMemoryRepository.CountByJob(ctx, jobID)
}

type recordingPublisher struct {
	mu        sync.Mutex
	created   []ApplicationCreatedEvent
	stats     []JobStatsUpdateEvent
	candidate []NotificationEvent
	hr        []NotificationEvent
	changed   []StatusChangedEvent
	withdrawn []ApplicationWithdrawnEvent
	err       error
	panicOnHR bool
}

func (p *recordingPublisher) PublishApplicationCreated(_ context.Context, e ApplicationCreatedEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.created = append(p.created, e)
	return p.err
}

func (p *recordingPublisher) PublishJobStatsUpdate(_ context.Context, e JobStatsUpdateEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stats = append(p.stats, e)
	return p.err
}

func (p *recordingPublisher) PublishCandidateNotification(_ context.Context, e NotificationEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.candidate = append(p.candidate, e)
	return p.err
}

func (p *recordingPublisher) PublishHRNotification(_ context.Context, e NotificationEvent) error {
	if p.panicOnHR {
		panic("broker exploded")
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.hr = append(p.hr, e)
	return p.err
}

func (p *recordingPublisher) PublishStatusChanged(_ context.Context, e StatusChangedEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.changed = append(p.changed, e)
	return p.err
}

func (p *recordingPublisher) PublishApplicationWithdrawn(_ context.Context, e ApplicationWithdrawnEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.withdrawn = append(p.withdrawn, e)
	return p.err
}

type journalEntry struct {
	step   saga.Step
	status saga.StepStatus
}

type memoryJournal struct {
	mu       sync.Mutex
	started  []string
	steps    []journalEntry
	finished map[string]saga.Status
	err      error
}

func newMemoryJournal() *memoryJournal {
	return &memoryJournal{finished: make(map[string]saga.Status)}
}

func (j *memoryJournal) Start(_ context.Context, sagaID, _, _ string) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.started = append(j.started, sagaID)
	return j.err
}

func (j *memoryJournal) AddStep(_ context.Context, _ string, step saga.Step, status saga.StepStatus, _ string) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.steps = append(j.steps, journalEntry{step, status})
	return j.err
}

func (j *memoryJournal) Finish(_ context.Context, sagaID string, status saga.Status, _ string) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.finished[sagaID] = status
	return j.err
}

type recordedStep struct {
	step saga.Step
	err  error
}

type stubRecorder struct {
	mu      sync.Mutex
	steps   []recordedStep
	sagas   []saga.Status
	dropped []string
}

func (r *stubRecorder) StepDone(step saga.Step, _ time.Duration, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.steps = append(r.steps, recordedStep{step, err})
}

func (r *stubRecorder) SagaDone(status saga.Status) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sagas = append(r.sagas, status)
}

func (r *stubRecorder) PublishFailed(event string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.dropped = append(r.dropped, event)
}

var errDatabaseDown = errors.New("connection refused")

func pdf(name string, size int64) *File {
	return &File{
		Name:        name,
		ContentType: "application/pdf",
		Size:        size,
		Content:     strings.NewReader(strings.Repeat("x", int(min(size, 4096)))),
	}
}
