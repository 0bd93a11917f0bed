package applications

import (
	"io"
	"time"
)

// SystemAssigner is recorded as AssignedBy for automatic assignment to the job creator.
const SystemAssigner = "SYSTEM"

// JobInfo is the job snapshot source returned by the job service.
type JobInfo struct {
	ID              string
	Title           string
	CompanyID       string
	CompanyName     string
	Location        string
	EmploymentType  string
	ExperienceLevel string
	Status          string
	CreatedBy       string
}

// JobSnapshot is the immutable point-in-time copy of a job kept on an Application.
type JobSnapshot struct {
	Title           string    `json:"title"`
	CompanyID       string    `json:"companyId"`
	CompanyName     string    `json:"companyName"`
	Location        string    `json:"location"`
	EmploymentType  string    `json:"employmentType"`
	ExperienceLevel string    `json:"experienceLevel"`
	CreatedBy       string    `json:"createdBy"`
	SnapshotAt      time.Time `json:"snapshotAt"`
}

// File is an uploaded CV handle.
type File struct {
	Name        string
	ContentType string
	Size        int64
	Content     io.Reader
}

// UploadResult describes an object written by FileStorage.
type UploadResult struct {
	FileURL     string
	FileName    string
	ContentType string
	FileSize    int64
}

// UserInfo is the contact record returned by the user directory.
type UserInfo struct {
	Username string
	FullName string
	Email    string
}

// StatusChange is one append-only history entry.
type StatusChange struct {
	PreviousStatus Status    `json:"previousStatus,omitempty"`
	NewStatus      Status    `json:"newStatus"`
	ChangedBy      string    `json:"changedBy"`
	ChangedAt      time.Time `json:"changedAt"`
	Reason         string    `json:"reason,omitempty"`
}

// Application is the persisted aggregate linking a candidate to a job.
type Application struct {
	ID            string
	Username      string
	Email         string
	JobID         string
	CompanyID     string
	Status        Status
	CVFileURL     string
	CVFileName    string
	CVContentType string
	CVFileSize    int64
	CoverLetter   string
	Job           JobSnapshot
	AssignedTo    string
	AssignedBy    string
	AssignedAt    time.Time
	StatusHistory []StatusChange
	CreatedAt     time.Time
	UpdatedAt     time.Time
	DeletedAt     *time.Time
}

// Deleted reports whether the application was withdrawn.
func (a Application) Deleted() bool {
	return a.DeletedAt != nil
}

// CreateRequest carries the caller-supplied fields of a submission.
type CreateRequest struct {
	JobID       string
	CoverLetter string
	Email       string
	CV          *File
}

// View is the read model returned to callers.
type View struct {
	ID            string         `json:"id"`
	Username      string         `json:"username"`
	Email         string         `json:"email,omitempty"`
	JobID         string         `json:"jobId"`
	CompanyID     string         `json:"companyId,omitempty"`
	Status        Status         `json:"status"`
	CVFileURL     string         `json:"cvFileUrl"`
	CVFileName    string         `json:"cvFileName"`
	CVFileSize    int64          `json:"cvFileSize"`
	CoverLetter   string         `json:"coverLetter,omitempty"`
	Job           JobSnapshot    `json:"jobSnapshot"`
	AssignedTo    string         `json:"assignedTo,omitempty"`
	StatusHistory []StatusChange `json:"statusHistory"`
	CreatedAt     time.Time      `json:"createdAt"`
	UpdatedAt     time.Time      `json:"updatedAt"`
}

// NewView maps an Application to its read model.
func NewView(a Application) View {
	history := make([]StatusChange, len(a.StatusHistory))
	copy(history, a.StatusHistory)
	return View{
		ID:            a.ID,
		Username:      a.Username,
		Email:         a.Email,
		JobID:         a.JobID,
		CompanyID:     a.CompanyID,
		Status:        a.Status,
		CVFileURL:     a.CVFileURL,
		CVFileName:    a.CVFileName,
		CVFileSize:    a.CVFileSize,
		CoverLetter:   a.CoverLetter,
		Job:           a.Job,
		AssignedTo:    a.AssignedTo,
		StatusHistory: history,
		CreatedAt:     a.CreatedAt,
		UpdatedAt:     a.UpdatedAt,
	}
}

const (
	DefaultPageSize = 10
	MaxPageSize     = 100
)

// Page is one page of application views.
type Page struct {
	Items []View   `json:"items"`
	Meta  PageMeta `json:"meta"`
}

// PageMeta describes where a Page sits in the full result. Page is zero-based.
type PageMeta struct {
	Page          int  `json:"page"`
	Size          int  `json:"size"`
	TotalElements int  `json:"totalElements"`
	TotalPages    int  `json:"totalPages"`
	First         bool `json:"first"`
	Last          bool `json:"last"`
	HasNext       bool `json:"hasNext"`
	HasPrevious   bool `json:"hasPrevious"`
}

// NewPage wraps apps as page q of total matches.
func NewPage(apps []Application, q ListQuery, total int) Page {
	items := make([]View, 0, len(apps))
	for _, a := range apps {
		items = append(items, NewView(a))
	}
	pages := (total + q.Size - 1) / q.Size
	return Page{
		Items: items,
		Meta: PageMeta{
			Page:          q.Page,
			Size:          q.Size,
			TotalElements: total,
			TotalPages:    pages,
			First:         q.Page == 0,
			Last:          q.Page >= pages-1,
			HasNext:       q.Page < pages-1,
			HasPrevious:   q.Page > 0,
		},
	}
}

// Normalize clamps paging values into range.
func (q ListQuery) Normalize() ListQuery {
	q.Page = max(q.Page, 0)
	switch {
	case q.Size <= 0:
		q.Size = DefaultPageSize
	case q.Size > MaxPageSize:
		q.Size = MaxPageSize
	}
	return q
}
