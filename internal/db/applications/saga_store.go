package applicationsdb

import (
	"context"
	"database/sql"

	"github.com/cockroachdb/errors"

	"applyflow/internal/applications/saga"
)

// SagaStore journals creation sagas and their steps in Postgres.
type SagaStore struct {
	db *sql.DB
}

// NewSagaStore constructs a SagaStore backed by Postgres.
func NewSagaStore(db *sql.DB) *SagaStore {
	return &SagaStore{db: db}
}

// NewSagaStoreWithSchema initializes the schema then returns the store.
func NewSagaStoreWithSchema(ctx context.Context, db *sql.DB) (*SagaStore, error) {
	store := NewSagaStore(db)
	if err := store.InitSchema(ctx); err != nil {
		return nil, err
	}
	return store, nil
}

// InitSchema creates saga tables if they do not exist.
func (s *SagaStore) InitSchema(ctx context.Context) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS application_sagas (
			saga_id TEXT PRIMARY KEY,
			username TEXT NOT NULL,
			job_id TEXT NOT NULL,
			status TEXT NOT NULL,
			application_id TEXT,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE TABLE IF NOT EXISTS application_saga_steps (
			id BIGSERIAL PRIMARY KEY,
			saga_id TEXT NOT NULL REFERENCES application_sagas(saga_id) ON DELETE CASCADE,
			step TEXT NOT NULL,
			status TEXT NOT NULL,
			detail TEXT,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
	}
	for _, stmt := range statements {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return errors.Wrap(err, "init saga schema")
		}
	}
	return nil
}

func (s *SagaStore) Start(ctx context.Context, sagaID, username, jobID string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO application_sagas (saga_id, username, job_id, status)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (saga_id) DO NOTHING`,
		sagaID, username, jobID, string(saga.StatusStarted),
	)
	return errors.Wrapf(err, "start saga %s", sagaID)
}

func (s *SagaStore) AddStep(ctx context.Context, sagaID string, step saga.Step, status saga.StepStatus, detail string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO application_saga_steps (saga_id, step, status, detail)
		VALUES ($1, $2, $3, $4)`,
		sagaID, string(step), string(status), detail,
	)
	return errors.Wrapf(err, "record saga step %s", step)
}

func (s *SagaStore) Finish(ctx context.Context, sagaID string, status saga.Status, applicationID string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE application_sagas
		SET status = $2, application_id = NULLIF($3, ''), updated_at = NOW()
		WHERE saga_id = $1`,
		sagaID, string(status), applicationID,
	)
	return errors.Wrapf(err, "finish saga %s", sagaID)
}

// Get returns the saga record.
func (s *SagaStore) Get(ctx context.Context, sagaID string) (saga.Record, error) {
	var (
		record saga.Record
		status string
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT saga_id, username, job_id, status
		FROM application_sagas
		WHERE saga_id = $1`,
		sagaID,
	).Scan(&record.SagaID, &record.Username, &record.JobID, &status)
	if err != nil {
		return saga.Record{}, errors.Wrapf(err, "load saga %s", sagaID)
	}
	record.Status = saga.Status(status)
	return record, nil
}
