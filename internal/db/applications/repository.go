package applicationsdb

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/jackc/pgx/v5/pgconn"

	"applyflow/internal/applications"
)

const uniqueViolation = "23505"

// PostgresRepository persists applications and their status history in Postgres.
type PostgresRepository struct {
	db *sql.DB
}

// NewPostgresRepository constructs a Repository backed by Postgres.
func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// NewPostgresRepositoryWithSchema initializes the schema then returns the repository.
func NewPostgresRepositoryWithSchema(ctx context.Context, db *sql.DB) (*PostgresRepository, error) {
	repo := NewPostgresRepository(db)
	if err := repo.InitSchema(ctx); err != nil {
		return nil, err
	}
	return repo, nil
}

// InitSchema creates the application tables. The partial unique index is the
// authoritative one-active-application-per-job rule.
func (r *PostgresRepository) InitSchema(ctx context.Context) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS applications (
			id TEXT PRIMARY KEY,
			username TEXT NOT NULL,
			email TEXT NOT NULL DEFAULT '',
			job_id TEXT NOT NULL,
			company_id TEXT NOT NULL DEFAULT '',
			status TEXT NOT NULL,
			cv_file_url TEXT NOT NULL,
			cv_file_name TEXT NOT NULL,
			cv_content_type TEXT NOT NULL,
			cv_file_size BIGINT NOT NULL,
			cover_letter TEXT NOT NULL DEFAULT '',
			job_snapshot JSONB NOT NULL,
			assigned_to TEXT NOT NULL DEFAULT '',
			assigned_by TEXT NOT NULL DEFAULT '',
			assigned_at TIMESTAMPTZ,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			deleted_at TIMESTAMPTZ
		)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS applications_active_username_job
			ON applications (username, job_id) WHERE deleted_at IS NULL`,
		`CREATE INDEX IF NOT EXISTS applications_job_id ON applications (job_id)`,
		`CREATE TABLE IF NOT EXISTS application_status_history (
			id BIGSERIAL PRIMARY KEY,
			application_id TEXT NOT NULL REFERENCES applications(id) ON DELETE CASCADE,
			previous_status TEXT NOT NULL DEFAULT '',
			new_status TEXT NOT NULL,
			changed_by TEXT NOT NULL,
			changed_at TIMESTAMPTZ NOT NULL,
			reason TEXT NOT NULL DEFAULT ''
		)`,
	}
	for _, stmt := range statements {
		if _, err := r.db.ExecContext(ctx, stmt); err != nil {
			return errors.Wrap(err, "init applications schema")
		}
	}
	return nil
}

func (r *PostgresRepository) ExistsActive(ctx context.Context, username, jobID string) (bool, error) {
	var exists bool
	err := r.db.QueryRowContext(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM applications
			WHERE username = $1 AND job_id = $2 AND deleted_at IS NULL
		)`,
		username, jobID,
	).Scan(&exists)
	if err != nil {
		return false, errors.Wrap(err, "query active application")
	}
	return exists, nil
}

// Save inserts app and its initial history in one transaction.
func (r *PostgresRepository) Save(ctx context.Context, app applications.Application) (applications.Application, error) {
	snapshot, err := json.Marshal(app.Job)
	if err != nil {
		return applications.Application{}, errors.Wrap(err, "encode job snapshot")
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return applications.Application{}, errors.Wrap(err, "begin save")
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO applications (
			id, username, email, job_id, company_id, status,
			cv_file_url, cv_file_name, cv_content_type, cv_file_size,
			cover_letter, job_snapshot, assigned_to, assigned_by, assigned_at,
			created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)`,
		app.ID, app.Username, app.Email, app.JobID, app.CompanyID, string(app.Status),
		app.CVFileURL, app.CVFileName, app.CVContentType, app.CVFileSize,
		app.CoverLetter, snapshot, app.AssignedTo, app.AssignedBy, nullTime(app.AssignedAt),
		app.CreatedAt, app.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return applications.Application{}, errors.Wrapf(applications.ErrAlreadyApplied,
				"user %s already applied to job %s", app.Username, app.JobID)
		}
		return applications.Application{}, errors.Wrap(err, "insert application")
	}
	for _, change := range app.StatusHistory {
		if err := insertHistory(ctx, tx, app.ID, change); err != nil {
			return applications.Application{}, err
		}
	}
	if err := tx.Commit(); err != nil {
		return applications.Application{}, errors.Wrap(err, "commit save")
	}
	return app, nil
}

func (r *PostgresRepository) CountByJob(ctx context.Context, jobID string) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM applications WHERE job_id = $1 AND deleted_at IS NULL`, jobID,
	).Scan(&n)
	if err != nil {
		return 0, errors.Wrap(err, "count applications")
	}
	return n, nil
}

const applicationColumns = `id, username, email, job_id, company_id, status,
	cv_file_url, cv_file_name, cv_content_type, cv_file_size,
	cover_letter, job_snapshot, assigned_to, assigned_by, assigned_at,
	created_at, updated_at, deleted_at`

// FindByID returns the application including withdrawn rows; callers check Deleted.
func (r *PostgresRepository) FindByID(ctx context.Context, id string) (applications.Application, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+applicationColumns+` FROM applications WHERE id = $1`, id)
	app, err := scanApplication(row)
	if errors.Is(err, sql.ErrNoRows) {
		return applications.Application{}, errors.Wrapf(applications.ErrApplicationNotFound, "application %s", id)
	}
	if err != nil {
		return applications.Application{}, err
	}

	history, err := r.history(ctx, id)
	if err != nil {
		return applications.Application{}, err
	}
	app.StatusHistory = history
	return app, nil
}

// ListByUsername returns one page of the user's active applications, newest
// first, with the total across all pages. Entries carry no status history.
func (r *PostgresRepository) ListByUsername(ctx context.Context, q applications.ListQuery) ([]applications.Application, int, error) {
	where := `WHERE username = $1 AND deleted_at IS NULL`
	args := []any{q.Username}
	if q.Status != "" {
		where += ` AND status = $2`
		args = append(args, string(q.Status))
	}

	var total int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM applications `+where, args...).Scan(&total); err != nil {
		return nil, 0, errors.Wrap(err, "count user applications")
	}
	if total == 0 {
		return nil, 0, nil
	}

	limit := len(args) + 1
	args = append(args, q.Size, q.Page*q.Size)
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+applicationColumns+` FROM applications `+where+
			fmt.Sprintf(` ORDER BY created_at DESC, id LIMIT $%d OFFSET $%d`, limit, limit+1),
		args...)
	if err != nil {
		return nil, 0, errors.Wrap(err, "list user applications")
	}
	defer rows.Close()

	var out []applications.Application
	for rows.Next() {
		app, err := scanApplication(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, app)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, errors.Wrap(err, "iterate user applications")
	}
	return out, total, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanApplication(row rowScanner) (applications.Application, error) {
	var (
		app        applications.Application
		status     string
		snapshot   []byte
		assignedAt sql.NullTime
		deletedAt  sql.NullTime
	)
	err := row.Scan(&app.ID, &app.Username, &app.Email, &app.JobID, &app.CompanyID, &status,
		&app.CVFileURL, &app.CVFileName, &app.CVContentType, &app.CVFileSize,
		&app.CoverLetter, &snapshot, &app.AssignedTo, &app.AssignedBy, &assignedAt,
		&app.CreatedAt, &app.UpdatedAt, &deletedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return applications.Application{}, err
	}
	if err != nil {
		return applications.Application{}, errors.Wrap(err, "scan application")
	}
	app.Status = applications.Status(status)
	if err := json.Unmarshal(snapshot, &app.Job); err != nil {
		return applications.Application{}, errors.Wrap(err, "decode job snapshot")
	}
	if assignedAt.Valid {
		app.AssignedAt = assignedAt.Time
	}
	if deletedAt.Valid {
		t := deletedAt.Time
		app.DeletedAt = &t
	}
	return app, nil
}

// UpdateStatus moves the row from change.PreviousStatus to change.NewStatus and
// appends change to the history. The write only applies while the stored
// status still equals change.PreviousStatus.
func (r *PostgresRepository) UpdateStatus(ctx context.Context, id string, change applications.StatusChange) (applications.Application, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return applications.Application{}, errors.Wrap(err, "begin status update")
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, `
		UPDATE applications SET status = $2, updated_at = $3
		WHERE id = $1 AND status = $4 AND deleted_at IS NULL`,
		id, string(change.NewStatus), change.ChangedAt, string(change.PreviousStatus),
	)
	if err != nil {
		return applications.Application{}, errors.Wrap(err, "update status")
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return applications.Application{}, errors.Wrap(err, "rows affected")
	}
	if affected == 0 {
		return applications.Application{}, staleStatus(ctx, tx, id, change)
	}
	if err := insertHistory(ctx, tx, id, change); err != nil {
		return applications.Application{}, err
	}
	if err := tx.Commit(); err != nil {
		return applications.Application{}, errors.Wrap(err, "commit status update")
	}
	return r.FindByID(ctx, id)
}

func (r *PostgresRepository) SoftDelete(ctx context.Context, id string, at time.Time) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE applications SET deleted_at = $2, updated_at = $2
		WHERE id = $1 AND deleted_at IS NULL`,
		id, at,
	)
	if err != nil {
		return errors.Wrap(err, "soft delete application")
	}
	return requireRow(res, id)
}

func (r *PostgresRepository) history(ctx context.Context, id string) ([]applications.StatusChange, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT previous_status, new_status, changed_by, changed_at, reason
		FROM application_status_history
		WHERE application_id = $1
		ORDER BY changed_at, id`,
		id,
	)
	if err != nil {
		return nil, errors.Wrap(err, "query status history")
	}
	defer rows.Close()

	var out []applications.StatusChange
	for rows.Next() {
		var c applications.StatusChange
		var prev, next string
		if err := rows.Scan(&prev, &next, &c.ChangedBy, &c.ChangedAt, &c.Reason); err != nil {
			return nil, errors.Wrap(err, "scan status history")
		}
		c.PreviousStatus = applications.Status(prev)
		c.NewStatus = applications.Status(next)
		out = append(out, c)
	}
	return out, errors.Wrap(rows.Err(), "iterate status history")
}

func insertHistory(ctx context.Context, tx *sql.Tx, id string, c applications.StatusChange) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO application_status_history (application_id, previous_status, new_status, changed_by, changed_at, reason)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		id, string(c.PreviousStatus), string(c.NewStatus), c.ChangedBy, c.ChangedAt, c.Reason,
	)
	return errors.Wrap(err, "insert status history")
}

// staleStatus explains why a conditional status update matched no row.
func staleStatus(ctx context.Context, tx *sql.Tx, id string, change applications.StatusChange) error {
	var current string
	err := tx.QueryRowContext(ctx,
		`SELECT status FROM applications WHERE id = $1 AND deleted_at IS NULL`, id,
	).Scan(&current)
	if errors.Is(err, sql.ErrNoRows) {
		return errors.Wrapf(applications.ErrApplicationNotFound, "application %s", id)
	}
	if err != nil {
		return errors.Wrap(err, "query current status")
	}
	return errors.Mark(errors.Newf("application %s is %s, expected %s",
		id, current, change.PreviousStatus), applications.ErrInvalidTransition)
}

func requireRow(res sql.Result, id string) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "rows affected")
	}
	if affected == 0 {
		return errors.Wrapf(applications.ErrApplicationNotFound, "application %s", id)
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}

func nullTime(t time.Time) sql.NullTime {
	return sql.NullTime{Time: t, Valid: !t.IsZero()}
}
