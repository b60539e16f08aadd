package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/desertthunder/spotsync/internal/models"
	"github.com/desertthunder/spotsync/internal/shared"
)

// ErrQueueEmpty is returned by [JobRepository.Claim] when no job is due.
var ErrQueueEmpty = fmt.Errorf("no jobs due")

// JobRepository is the durable job queue backed by the jobs table.
//
// A job moves pending -> running on claim, then to succeeded, retrying or failed.
// Retrying jobs are claimable again once run_at has passed.
type JobRepository struct {
	db DBTX
}

// NewJobRepository creates a new JobRepository with the given database connection
func NewJobRepository(db DBTX) *JobRepository {
	return &JobRepository{db: db}
}

const jobColumns = `id, kind, user_id, resource_type, status, attempts, max_attempts, last_error, run_at, created_at, updated_at`

// Enqueue inserts job as pending, due at job.RunAt (or now when unset).
func (r *JobRepository) Enqueue(ctx context.Context, job *models.Job) error {
	now := time.Now().UTC()

	if job.ID == "" {
		job.ID = shared.GenerateID()
	}
	if job.RunAt.IsZero() {
		job.RunAt = now
	}
	if job.MaxAttempts < 1 {
		return fmt.Errorf("%w: max_attempts must be positive", shared.ErrInvalidInput)
	}
	job.Status = models.JobPending
	job.Attempts = 0
	job.CreatedAt = now
	job.UpdatedAt = now

	query := `INSERT INTO jobs (` + jobColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err := r.db.ExecContext(ctx, query,
		job.ID,
		string(job.Kind),
		job.UserID,
		string(job.ResourceType),
		string(job.Status),
		job.Attempts,
		job.MaxAttempts,
		job.LastError,
		job.RunAt.UTC(),
		job.CreatedAt,
		job.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to enqueue job: %w", err)
	}
	return nil
}

// Claim atomically moves the oldest due pending or retrying job to running and increments its attempts.
//
// The select and update happen in one statement so concurrent workers never claim the same job.
func (r *JobRepository) Claim(ctx context.Context, now time.Time) (*models.Job, error) {
	return r.claim(ctx, now, "")
}

// ClaimForUser is [JobRepository.Claim] restricted to jobs belonging to userID.
func (r *JobRepository) ClaimForUser(ctx context.Context, now time.Time, userID string) (*models.Job, error) {
	if userID == "" {
		return nil, fmt.Errorf("%w: user id is required", shared.ErrInvalidInput)
	}
	return r.claim(ctx, now, userID)
}

func (r *JobRepository) claim(ctx context.Context, now time.Time, userID string) (*models.Job, error) {
	now = now.UTC()
	query := `
		UPDATE jobs
		SET status = ?, attempts = attempts + 1, updated_at = ?
		WHERE id = (
			SELECT id FROM jobs
			WHERE status IN (?, ?) AND run_at <= ? AND (? = '' OR user_id = ?)
			ORDER BY run_at ASC, created_at ASC
			LIMIT 1
		)
		RETURNING id`

	var id string
	err := r.db.QueryRowContext(ctx, query,
		string(models.JobRunning), now,
		string(models.JobPending), string(models.JobRetrying), now,
		userID, userID,
	).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrQueueEmpty
	}
	if err != nil {
		return nil, fmt.Errorf("failed to claim job: %w", err)
	}

	return r.Get(ctx, id)
}

// Succeed marks a running job as succeeded.
func (r *JobRepository) Succeed(ctx context.Context, id string) error {
	return r.transition(ctx, id, models.JobSucceeded, "", nil)
}

// Retry marks a running job as retrying, claimable again at runAt.
func (r *JobRepository) Retry(ctx context.Context, id string, runAt time.Time, lastErr string) error {
	return r.transition(ctx, id, models.JobRetrying, lastErr, &runAt)
}

// Fail marks a running job as failed. Failed jobs are never claimed again.
func (r *JobRepository) Fail(ctx context.Context, id string, lastErr string) error {
	return r.transition(ctx, id, models.JobFailed, lastErr, nil)
}

func (r *JobRepository) transition(ctx context.Context, id string, to models.JobStatus, lastErr string, runAt *time.Time) error {
	now := time.Now().UTC()
	next := now
	if runAt != nil {
		next = runAt.UTC()
	}

	query := `
		UPDATE jobs
		SET status = ?, last_error = ?, run_at = CASE WHEN ? THEN ? ELSE run_at END, updated_at = ?
		WHERE id = ? AND status = ?
	`
	result, err := r.db.ExecContext(ctx, query, string(to), lastErr, runAt != nil, next, now, id, string(models.JobRunning))
	if err != nil {
		return fmt.Errorf("failed to mark job %s %s: %w", id, to, err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("running job %s: %w", id, shared.ErrNotFound)
	}
	return nil
}

// ResetRunning returns jobs stranded in running by a crashed worker to retrying so they are claimed again.
// A stranded job that already used its last attempt is marked failed instead.
func (r *JobRepository) ResetRunning(ctx context.Context) (int64, error) {
	now := time.Now().UTC()
	query := `
		UPDATE jobs
		SET status = CASE WHEN attempts >= max_attempts THEN ? ELSE ? END,
			last_error = CASE WHEN attempts >= max_attempts THEN ? ELSE last_error END,
			run_at = ?, updated_at = ?
		WHERE status = ?`
	result, err := r.db.ExecContext(ctx, query,
		string(models.JobFailed), string(models.JobRetrying), "worker stopped during final attempt",
		now, now, string(models.JobRunning),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to reset running jobs: %w", err)
	}
	return result.RowsAffected()
}

// Get retrieves a job by ID
func (r *JobRepository) Get(ctx context.Context, id string) (*models.Job, error) {
	job, err := scanJob(r.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = ?`, id))
	if err != nil {
		return nil, notFound(err, "job", id)
	}
	return job, nil
}

// JobFilter narrows [JobRepository.List]. Zero values match everything.
type JobFilter struct {
	UserID string
	Status models.JobStatus
	Kind   models.JobKind
	Limit  int
}

// List retrieves jobs matching filter, most recently updated first.
func (r *JobRepository) List(ctx context.Context, filter JobFilter) ([]*models.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs WHERE 1 = 1`
	args := []any{}

	if filter.UserID != "" {
		query += " AND user_id = ?"
		args = append(args, filter.UserID)
	}
	if filter.Status != "" {
		query += " AND status = ?"
		args = append(args, string(filter.Status))
	}
	if filter.Kind != "" {
		query += " AND kind = ?"
		args = append(args, string(filter.Kind))
	}

	query += " ORDER BY updated_at DESC, created_at DESC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*models.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan job: %w", err)
		}
		jobs = append(jobs, job)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}
	return jobs, nil
}

// CountByStatus returns the number of jobs in each status.
func (r *JobRepository) CountByStatus(ctx context.Context) (map[models.JobStatus]int, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM jobs GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("failed to count jobs: %w", err)
	}
	defer rows.Close()

	counts := make(map[models.JobStatus]int)
	for rows.Next() {
		var (
			status string
			n      int
		)
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("failed to scan job count: %w", err)
		}
		counts[models.JobStatus(status)] = n
	}
	return counts, rows.Err()
}

func scanJob(s scanner) (*models.Job, error) {
	var (
		job          models.Job
		kind         string
		resourceType string
		status       string
	)

	err := s.Scan(
		&job.ID,
		&kind,
		&job.UserID,
		&resourceType,
		&status,
		&job.Attempts,
		&job.MaxAttempts,
		&job.LastError,
		&job.RunAt,
		&job.CreatedAt,
		&job.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	job.Kind = models.JobKind(kind)
	job.ResourceType = models.ResourceType(resourceType)
	job.Status = models.JobStatus(status)
	return &job, nil
}
