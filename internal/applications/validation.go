package applications

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"
)

const (
	// MaxCVSize is the largest accepted CV file (5 MiB).
	MaxCVSize         = 5 << 20
	allowedCVType     = "application/pdf"
	allowedCVFileType = ".pdf"
)

// Validator is a single precondition check on a creation request.
type Validator interface {
	Name() string
	// Order positions the validator in the pipeline; lower runs first.
	Order() int
	Validate(ctx context.Context, req CreateRequest, username string) error
}

// ValidationPipeline runs validators in ascending order and stops at the first failure.
type ValidationPipeline struct {
	validators []Validator
	logger     *zap.Logger
}

// NewValidationPipeline sorts validators once by Order. Equal orders keep their
// given relative position.
func NewValidationPipeline(logger *zap.Logger, validators ...Validator) *ValidationPipeline {
	if logger == nil {
		logger = zap.NewNop()
	}
	sorted := slices.Clone(validators)
	slices.SortStableFunc(sorted, func(a, b Validator) int {
		return cmp.Compare(a.Order(), b.Order())
	})

	names := make([]string, 0, len(sorted))
	for _, v := range sorted {
		names = append(names, v.Name())
	}
	logger.Info("validation pipeline initialized", zap.Strings("validators", names))

	return &ValidationPipeline{validators: sorted, logger: logger}
}

// Validators returns the validators in execution order.
func (p *ValidationPipeline) Validators() []Validator {
	return slices.Clone(p.validators)
}

// Validate runs each validator in order, returning the first error unchanged.
func (p *ValidationPipeline) Validate(ctx context.Context, req CreateRequest, username string) error {
	for _, v := range p.validators {
		p.logger.Debug("running validator", zap.String("validator", v.Name()), zap.String("job_id", req.JobID))
		if err := v.Validate(ctx, req, username); err != nil {
			p.logger.Warn("validation failed",
				zap.String("validator", v.Name()),
				zap.String("username", username),
				zap.String("job_id", req.JobID),
				zap.Error(err))
			return err
		}
	}
	return nil
}

// DuplicateCheck rejects a second active application for the same job.
// It is advisory: the repository's unique constraint is authoritative.
type DuplicateCheck struct {
	repo Repository
}

func NewDuplicateCheck(repo Repository) *DuplicateCheck {
	return &DuplicateCheck{repo: repo}
}

func (c *DuplicateCheck) Name() string { return "duplicate-application" }
func (c *DuplicateCheck) Order() int   { return 1 }

func (c *DuplicateCheck) Validate(ctx context.Context, req CreateRequest, username string) error {
	exists, err := c.repo.ExistsActive(ctx, username, req.JobID)
	if err != nil {
		return markAs(err, ErrPersistenceFailure, "check existing application")
	}
	if exists {
		return errors.Wrapf(ErrAlreadyApplied, "user %s already applied to job %s", username, req.JobID)
	}
	return nil
}

// FileCheck validates the CV file shape without I/O.
type FileCheck struct{}

func NewFileCheck() *FileCheck { return &FileCheck{} }

func (c *FileCheck) Name() string { return "cv-file" }
func (c *FileCheck) Order() int   { return 2 }

func (c *FileCheck) Validate(_ context.Context, req CreateRequest, _ string) error {
	return CheckCVFile(req.CV)
}

// CheckCVFile reports why f is not an acceptable CV.
func CheckCVFile(f *File) error {
	if f == nil || f.Size <= 0 {
		return errors.Wrap(ErrInvalidFile, "cv file is required and cannot be empty")
	}
	if !strings.EqualFold(strings.TrimSpace(f.ContentType), allowedCVType) {
		return errors.Wrapf(ErrInvalidFile, "expected %s, got %q", allowedCVType, f.ContentType)
	}
	if f.Size > MaxCVSize {
		return errors.Wrapf(ErrInvalidFile, "file size %s exceeds maximum of 5MB", formatMB(f.Size))
	}
	name := strings.TrimSpace(f.Name)
	if name == "" {
		return errors.Wrap(ErrInvalidFile, "file must have a valid filename")
	}
	if !strings.HasSuffix(strings.ToLower(name), allowedCVFileType) {
		return errors.Wrap(ErrInvalidFile, "file must have .pdf extension")
	}
	return nil
}

func formatMB(size int64) string {
	return fmt.Sprintf("%.2f MB", float64(size)/(1024*1024))
}

// JobExistenceCheck requires the job to exist and be published. Lookup errors
// fail closed.
type JobExistenceCheck struct {
	jobs   JobService
	logger *zap.Logger
}

func NewJobExistenceCheck(jobs JobService, logger *zap.Logger) *JobExistenceCheck {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &JobExistenceCheck{jobs: jobs, logger: logger}
}

func (c *JobExistenceCheck) Name() string { return "job-existence" }
func (c *JobExistenceCheck) Order() int   { return 3 }

func (c *JobExistenceCheck) Validate(ctx context.Context, req CreateRequest, _ string) error {
	exists, err := c.jobs.Exists(ctx, req.JobID)
	if err != nil {
		c.logger.Error("job lookup failed, treating as not found", zap.String("job_id", req.JobID), zap.Error(err))
		return errors.Mark(errors.Wrapf(err, "job %s", req.JobID), ErrJobNotFound)
	}
	if !exists {
		return errors.Wrapf(ErrJobNotFound, "job %s", req.JobID)
	}
	return nil
}
