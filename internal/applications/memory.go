package applications

import (
	"context"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
)

// NewInMemoryRepository constructs an empty in-memory repository.
func NewInMemoryRepository() *InMemoryRepository {
	return &InMemoryRepository{apps: make(map[string]Application)}
}

// InMemoryRepository keeps applications in a map and enforces the same
// active (username, jobID) uniqueness as the Postgres schema.
type InMemoryRepository struct {
	mu    sync.Mutex
	apps  map[string]Application
	order []string
}

func (r *InMemoryRepository) ExistsActive(_ context.Context, username, jobID string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.activeLocked(username, jobID)
	return ok, nil
}

func (r *InMemoryRepository) Save(_ context.Context, app Application) (Application, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.activeLocked(app.Username, app.JobID); ok && existing.ID != app.ID {
		return Application{}, errors.Wrapf(ErrAlreadyApplied, "user %s already applied to job %s", app.Username, app.JobID)
	}
	if _, ok := r.apps[app.ID]; !ok {
		r.order = append(r.order, app.ID)
	}
	app.StatusHistory = slices.Clone(app.StatusHistory)
	r.apps[app.ID] = app
	return app, nil
}

func (r *InMemoryRepository) CountByJob(_ context.Context, jobID string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, app := range r.apps {
		if app.JobID == jobID && !app.Deleted() {
			n++
		}
	}
	return n, nil
}

func (r *InMemoryRepository) FindByID(_ context.Context, id string) (Application, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	app, ok := r.apps[id]
	if !ok {
		return Application{}, errors.Wrapf(ErrApplicationNotFound, "application %s", id)
	}
	app.StatusHistory = slices.Clone(app.StatusHistory)
	return app, nil
}

func (r *InMemoryRepository) UpdateStatus(_ context.Context, id string, change StatusChange) (Application, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	app, ok := r.apps[id]
	if !ok || app.Deleted() {
		return Application{}, errors.Wrapf(ErrApplicationNotFound, "application %s", id)
	}
	if app.Status != change.PreviousStatus {
		return Application{}, errors.Mark(errors.Newf("application %s is %s, expected %s",
			id, app.Status, change.PreviousStatus), ErrInvalidTransition)
	}
	app.Status = change.NewStatus
	app.StatusHistory = append(slices.Clone(app.StatusHistory), change)
	app.UpdatedAt = change.ChangedAt
	r.apps[id] = app
	return app, nil
}

func (r *InMemoryRepository) SoftDelete(_ context.Context, id string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	app, ok := r.apps[id]
	if !ok || app.Deleted() {
		return errors.Wrapf(ErrApplicationNotFound, "application %s", id)
	}
	app.DeletedAt = &at
	app.UpdatedAt = at
	r.apps[id] = app
	return nil
}

// ListByUsername pages through the user's active applications, newest first.
func (r *InMemoryRepository) ListByUsername(_ context.Context, q ListQuery) ([]Application, int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var matched []Application
	for _, app := range r.apps {
		if app.Username != q.Username || app.Deleted() {
			continue
		}
		if q.Status != "" && app.Status != q.Status {
			continue
		}
		app.StatusHistory = nil
		matched = append(matched, app)
	}
	slices.SortFunc(matched, func(a, b Application) int {
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})

	start := min(q.Page*q.Size, len(matched))
	end := min(start+q.Size, len(matched))
	return matched[start:end], len(matched), nil
}

// All returns every stored application in insertion order, including withdrawn ones.
func (r *InMemoryRepository) All() []Application {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Application, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.apps[id])
	}
	return out
}

func (r *InMemoryRepository) activeLocked(username, jobID string) (Application, bool) {
	for _, app := range r.apps {
		if app.Username == username && app.JobID == jobID && !app.Deleted() {
			return app, true
		}
	}
	return Application{}, false
}

// NewInMemoryJobService constructs a job service seeded with jobs.
func NewInMemoryJobService(jobs ...JobInfo) *InMemoryJobService {
	s := &InMemoryJobService{jobs: make(map[string]JobInfo, len(jobs))}
	for _, j := range jobs {
		s.jobs[j.ID] = j
	}
	return s
}

// InMemoryJobService serves jobs from a map.
type InMemoryJobService struct {
	mu   sync.RWMutex
	jobs map[string]JobInfo
}

// Put adds or replaces a job.
func (s *InMemoryJobService) Put(job JobInfo) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[job.ID] = job
}

func (s *InMemoryJobService) ValidateAndGet(_ context.Context, jobID string) (JobInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return JobInfo{}, errors.Wrapf(ErrJobNotFound, "job %s", jobID)
	}
	if !Published(job) {
		return JobInfo{}, errors.Wrapf(ErrJobNotFound, "job %s is %s", jobID, job.Status)
	}
	return job, nil
}

func (s *InMemoryJobService) Exists(_ context.Context, jobID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	job, ok := s.jobs[jobID]
	return ok && Published(job), nil
}

// Published reports whether a job accepts applications.
func Published(job JobInfo) bool {
	return strings.EqualFold(job.Status, JobStatusPublished)
}

// JobStatusPublished is the job service status that accepts applications.
const JobStatusPublished = "PUBLISHED"

// NewInMemoryUserDirectory constructs a directory seeded with users.
func NewInMemoryUserDirectory(users ...UserInfo) *InMemoryUserDirectory {
	d := &InMemoryUserDirectory{users: make(map[string]UserInfo, len(users))}
	for _, u := range users {
		d.users[u.Username] = u
	}
	return d
}

// InMemoryUserDirectory resolves users from a map. Unknown usernames are omitted.
type InMemoryUserDirectory struct {
	mu    sync.RWMutex
	users map[string]UserInfo
}

func (d *InMemoryUserDirectory) GetByUsernames(_ context.Context, usernames []string) ([]UserInfo, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]UserInfo, 0, len(usernames))
	for _, name := range usernames {
		if u, ok := d.users[name]; ok {
			out = append(out, u)
		}
	}
	return out, nil
}
