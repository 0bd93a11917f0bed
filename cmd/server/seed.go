package main

import (
	"encoding/json"
	"os"

	"github.com/cockroachdb/errors"

	"applyflow/internal/applications"
)

// seedJob is one entry of the standalone job catalogue file.
type seedJob struct {
	ID              string `json:"id"`
	Title           string `json:"title"`
	Status          string `json:"status"`
	CompanyID       string `json:"companyId"`
	CompanyName     string `json:"companyName"`
	Location        string `json:"location"`
	EmploymentType  string `json:"employmentType"`
	ExperienceLevel string `json:"experienceLevel"`
	CreatedBy       string `json:"createdBy"`
}

// loadJobSeed reads a JSON array of jobs. An empty path yields no jobs.
func loadJobSeed(path string) ([]applications.JobInfo, error) {
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "read JOBS_SEED_FILE")
	}
	var entries []seedJob
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, errors.Wrapf(err, "decode %s", path)
	}
	jobs := make([]applications.JobInfo, 0, len(entries))
	for i, e := range entries {
		if e.ID == "" {
			return nil, errors.Newf("%s: job %d has no id", path, i)
		}
		jobs = append(jobs, applications.JobInfo{
			ID:              e.ID,
			Title:           e.Title,
			Status:          e.Status,
			CompanyID:       e.CompanyID,
			CompanyName:     e.CompanyName,
			Location:        e.Location,
			EmploymentType:  e.EmploymentType,
			ExperienceLevel: e.ExperienceLevel,
			CreatedBy:       e.CreatedBy,
		})
	}
	return jobs, nil
}
