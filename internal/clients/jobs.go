package clients

import (
	"context"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cockroachdb/errors"

	"applyflow/internal/applications"
)

// JobServiceClient reads jobs from GET {base}/public/jobs/{id}.
type JobServiceClient struct {
	baseURL string
	client  *http.Client
}

// NewJobServiceClient constructs a client. A nil httpClient gets a default one
// with the given timeout.
func NewJobServiceClient(baseURL string, httpClient *http.Client, timeout time.Duration) *JobServiceClient {
	return &JobServiceClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  newHTTPClient(httpClient, timeout),
	}
}

type jobDTO struct {
	PostID          string `json:"postId"`
	Title           string `json:"title"`
	Status          string `json:"status"`
	EmploymentType  string `json:"employmentType"`
	ExperienceLevel string `json:"experienceLevel"`
	CreatedBy       string `json:"createdBy"`
	Company         struct {
		ID       string `json:"id"`
		Name     string `json:"name"`
		Location string `json:"location"`
	} `json:"company"`
}

func (d jobDTO) info(requested string) applications.JobInfo {
	id := d.PostID
	if id == "" {
		id = requested
	}
	return applications.JobInfo{
		ID:              id,
		Title:           d.Title,
		CompanyID:       d.Company.ID,
		CompanyName:     d.Company.Name,
		Location:        d.Company.Location,
		EmploymentType:  d.EmploymentType,
		ExperienceLevel: d.ExperienceLevel,
		Status:          d.Status,
		CreatedBy:       d.CreatedBy,
	}
}

// ValidateAndGet fetches the job. A 404 or a job that is not published is
// reported as ErrJobNotFound.
func (c *JobServiceClient) ValidateAndGet(ctx context.Context, jobID string) (applications.JobInfo, error) {
	dto, err := getJSON[jobDTO](ctx, c.client, c.baseURL+"/public/jobs/"+url.PathEscape(jobID))
	if errors.Is(err, errNotFound) {
		return applications.JobInfo{}, errors.Mark(errors.Wrapf(err, "job %s", jobID), applications.ErrJobNotFound)
	}
	if err != nil {
		return applications.JobInfo{}, errors.Wrapf(err, "job service lookup %s", jobID)
	}
	info := dto.info(jobID)
	if !applications.Published(info) {
		return applications.JobInfo{}, errors.Mark(
			errors.Newf("job %s has status %q", jobID, info.Status), applications.ErrJobNotFound)
	}
	return info, nil
}

// Exists reports whether the job exists and accepts applications.
func (c *JobServiceClient) Exists(ctx context.Context, jobID string) (bool, error) {
	_, err := c.ValidateAndGet(ctx, jobID)
	if errors.Is(err, applications.ErrJobNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}
