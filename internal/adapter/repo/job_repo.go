package repo

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"server/internal/domain"
)

const jobColumns = `id, external_id, owner_id, type, status, prompt, input_url, cost_reserved,
artifact_key, artifact_url, error_reason, created_at, updated_at, completed_at`

// JobRepositoryPG implements domain.JobRepository.
type JobRepositoryPG struct {
	pool *pgxpool.Pool
}

// NewJobRepository creates a new job repository backed by PostgreSQL.
func NewJobRepository(pool *pgxpool.Pool) *JobRepositoryPG {
	return &JobRepositoryPG{pool: pool}
}

// Create inserts a new job record.
func (r *JobRepositoryPG) Create(ctx context.Context, job *domain.Job) error {
	query := `
INSERT INTO jobs (id, external_id, owner_id, type, status, prompt, input_url, cost_reserved)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8);
`
	_, err := r.pool.Exec(ctx, query,
		job.ID,
		job.ExternalID,
		job.OwnerID,
		job.Type,
		job.Status,
		job.Prompt,
		job.InputURL,
		job.CostReserved,
	)
	return err
}

// GetByID fetches a job by its identifier.
func (r *JobRepositoryPG) GetByID(ctx context.Context, jobID string) (*domain.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs WHERE id = $1;`
	row := r.pool.QueryRow(ctx, query, jobID)
	job, err := scanJob(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	return job, nil
}

// ListByOwner returns the owner's jobs, newest first.
func (r *JobRepositoryPG) ListByOwner(ctx context.Context, ownerID string, limit, offset int) ([]domain.Job, error) {
	query := `
SELECT ` + jobColumns + `
FROM jobs
WHERE owner_id = $1
ORDER BY created_at DESC
LIMIT $2 OFFSET $3;
`
	rows, err := r.pool.Query(ctx, query, ownerID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectJobs(rows)
}

// ListStaleProcessing returns processing jobs created before the cutoff,
// oldest first.
func (r *JobRepositoryPG) ListStaleProcessing(ctx context.Context, olderThan time.Time, limit int) ([]domain.Job, error) {
	query := `
SELECT ` + jobColumns + `
FROM jobs
WHERE status = $1 AND created_at < $2
ORDER BY created_at ASC
LIMIT $3;
`
	rows, err := r.pool.Query(ctx, query, domain.JobStatusProcessing, olderThan, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectJobs(rows)
}

// MarkCompleted applies the terminal completion write. The status guard in
// the WHERE clause is the per-job mutual exclusion: of any number of racing
// finalizers exactly one sees a row affected.
func (r *JobRepositoryPG) MarkCompleted(ctx context.Context, jobID, artifactKey, artifactURL string) error {
	query := `
UPDATE jobs
SET status = $2,
    artifact_key = $3,
    artifact_url = $4,
    completed_at = NOW(),
    updated_at = NOW()
WHERE id = $1 AND status = $5;
`
	tag, err := r.pool.Exec(ctx, query, jobID, domain.JobStatusCompleted, artifactKey, artifactURL, domain.JobStatusProcessing)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return r.terminalConflict(ctx, jobID)
	}
	return nil
}

// MarkFailed applies the terminal failure write under the same guard.
func (r *JobRepositoryPG) MarkFailed(ctx context.Context, jobID, reason string) error {
	query := `
UPDATE jobs
SET status = $2,
    error_reason = $3,
    completed_at = NOW(),
    updated_at = NOW()
WHERE id = $1 AND status = $4;
`
	tag, err := r.pool.Exec(ctx, query, jobID, domain.JobStatusFailed, reason, domain.JobStatusProcessing)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return r.terminalConflict(ctx, jobID)
	}
	return nil
}

// terminalConflict distinguishes a lost race from a missing job.
func (r *JobRepositoryPG) terminalConflict(ctx context.Context, jobID string) error {
	if _, err := r.GetByID(ctx, jobID); err != nil {
		return err
	}
	return domain.ErrAlreadyTerminal
}

func scanJob(row pgx.Row) (*domain.Job, error) {
	var job domain.Job
	if err := row.Scan(
		&job.ID,
		&job.ExternalID,
		&job.OwnerID,
		&job.Type,
		&job.Status,
		&job.Prompt,
		&job.InputURL,
		&job.CostReserved,
		&job.ArtifactKey,
		&job.ArtifactURL,
		&job.ErrorReason,
		&job.CreatedAt,
		&job.UpdatedAt,
		&job.CompletedAt,
	); err != nil {
		return nil, err
	}
	return &job, nil
}

func collectJobs(rows pgx.Rows) ([]domain.Job, error) {
	var jobs []domain.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, *job)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return jobs, nil
}

var _ domain.JobRepository = (*JobRepositoryPG)(nil)
