package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/rpattn/feedimport/internal/domain"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
)

const importJobColumns = `id, file_name, file_path, status, started_at, completed_at,
	total_rows, success_count, warning_count, error_count`

var jobStatuses = []domain.JobStatus{
	domain.JobStatusPending,
	domain.JobStatusProcessing,
	domain.JobStatusCompleted,
	domain.JobStatusFailed,
}

// sourceStatuses lists the statuses a job may move to next from.
func sourceStatuses(next domain.JobStatus) []string {
	sources := []string{}
	for _, status := range jobStatuses {
		if status.CanTransitionTo(next) {
			sources = append(sources, string(status))
		}
	}
	return sources
}

type importJobRepository struct {
	pool *pgxpool.Pool
}

// NewImportJobRepository wires a repository backed by pgxpool.
func NewImportJobRepository(pool *pgxpool.Pool) ImportJobRepository {
	return &importJobRepository{pool: pool}
}

func (r *importJobRepository) Create(ctx context.Context, job domain.ImportJob) (domain.ImportJob, error) {
	row := r.pool.QueryRow(
		ctx,
		`INSERT INTO import_jobs (id, file_name, file_path, status, started_at)
		 VALUES ($1, $2, $3, $4, $5)
		 RETURNING `+importJobColumns,
		job.ID,
		job.FileName,
		job.FilePath,
		string(domain.JobStatusPending),
		job.StartedAt,
	)
	created, err := scanImportJob(row)
	if err != nil {
		return domain.ImportJob{}, fmt.Errorf("failed to create import job: %w", err)
	}
	return created, nil
}

func (r *importJobRepository) GetByID(ctx context.Context, id uuid.UUID) (domain.ImportJob, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+importJobColumns+` FROM import_jobs WHERE id = $1`, id)
	job, err := scanImportJob(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.ImportJob{}, fmt.Errorf("import job %s: %w", id, ErrNotFound)
		}
		return domain.ImportJob{}, fmt.Errorf("failed to get import job: %w", err)
	}
	return job, nil
}

func (r *importJobRepository) ListByStatus(ctx context.Context, status domain.JobStatus, limit int) ([]domain.ImportJob, error) {
	if limit <= 0 {
		limit = 100
	}

	rows, err := r.pool.Query(
		ctx,
		`SELECT `+importJobColumns+`
		 FROM import_jobs
		 WHERE status = $1
		 ORDER BY started_at
		 LIMIT $2`,
		string(status),
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list import jobs: %w", err)
	}
	defer rows.Close()

	jobs := []domain.ImportJob{}
	for rows.Next() {
		job, scanErr := scanImportJob(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("failed to scan import job: %w", scanErr)
		}
		jobs = append(jobs, job)
	}
	if rowsErr := rows.Err(); rowsErr != nil {
		return nil, fmt.Errorf("failed to iterate import jobs: %w", rowsErr)
	}
	return jobs, nil
}

func (r *importJobRepository) Claim(ctx context.Context, id uuid.UUID) (domain.ImportJob, error) {
	row := r.pool.QueryRow(
		ctx,
		`UPDATE import_jobs
		 SET status = $2, started_at = now()
		 WHERE id = $1 AND status = ANY($3)
		 RETURNING `+importJobColumns,
		id,
		string(domain.JobStatusProcessing),
		sourceStatuses(domain.JobStatusProcessing),
	)
	job, err := scanImportJob(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.ImportJob{}, fmt.Errorf("import job %s: %w", id, ErrJobNotClaimable)
		}
		return domain.ImportJob{}, fmt.Errorf("failed to claim import job: %w", err)
	}
	return job, nil
}

func (r *importJobRepository) UpdateProgress(ctx context.Context, id uuid.UUID, counts domain.ImportCounts) error {
	tag, err := r.pool.Exec(
		ctx,
		`UPDATE import_jobs
		 SET total_rows = $2, success_count = $3, warning_count = $4, error_count = $5
		 WHERE id = $1 AND status = 'processing'`,
		id,
		counts.TotalRows,
		counts.SuccessCount,
		counts.WarningCount,
		counts.ErrorCount,
	)
	if err != nil {
		return fmt.Errorf("failed to update import progress: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("import job %s: %w", id, ErrJobNotProcessing)
	}
	return nil
}

func (r *importJobRepository) Complete(ctx context.Context, id uuid.UUID, counts domain.ImportCounts) (domain.ImportJob, error) {
	row := r.pool.QueryRow(
		ctx,
		`UPDATE import_jobs
		 SET status = $6, completed_at = now(),
		     total_rows = $2, success_count = $3, warning_count = $4, error_count = $5
		 WHERE id = $1 AND status = ANY($7)
		 RETURNING `+importJobColumns,
		id,
		counts.TotalRows,
		counts.SuccessCount,
		counts.WarningCount,
		counts.ErrorCount,
		string(domain.JobStatusCompleted),
		sourceStatuses(domain.JobStatusCompleted),
	)
	job, err := scanImportJob(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.ImportJob{}, fmt.Errorf("import job %s: %w", id, ErrJobNotProcessing)
		}
		return domain.ImportJob{}, fmt.Errorf("failed to complete import job: %w", err)
	}
	return job, nil
}

func (r *importJobRepository) Fail(ctx context.Context, id uuid.UUID) error {
	_, err := r.pool.Exec(
		ctx,
		`UPDATE import_jobs
		 SET status = $2, completed_at = now()
		 WHERE id = $1 AND status = ANY($3)`,
		id,
		string(domain.JobStatusFailed),
		sourceStatuses(domain.JobStatusFailed),
	)
	if err != nil {
		return fmt.Errorf("failed to mark import job failed: %w", err)
	}
	return nil
}

func scanImportJob(row pgx.Row) (domain.ImportJob, error) {
	var (
		job         domain.ImportJob
		status      string
		completedAt pgtype.Timestamptz
	)
	if err := row.Scan(
		&job.ID,
		&job.FileName,
		&job.FilePath,
		&status,
		&job.StartedAt,
		&completedAt,
		&job.TotalRows,
		&job.SuccessCount,
		&job.WarningCount,
		&job.ErrorCount,
	); err != nil {
		return domain.ImportJob{}, err
	}

	job.Status = domain.JobStatus(status)
	if !job.Status.Valid() {
		return domain.ImportJob{}, fmt.Errorf("unknown import job status %q", status)
	}
	if completedAt.Valid {
		value := completedAt.Time
		job.CompletedAt = &value
	}
	return job, nil
}
