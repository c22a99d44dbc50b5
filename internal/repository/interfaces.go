package repository

import (
	"context"
	"errors"

	"github.com/rpattn/feedimport/internal/domain"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

var (
	// ErrNotFound is returned when a record does not exist.
	ErrNotFound = errors.New("record not found")
	// ErrJobNotClaimable is returned when a job is not pending and cannot be claimed for processing.
	ErrJobNotClaimable = errors.New("import job is not pending")
	// ErrJobNotProcessing is returned when a progress or completion update targets a job that is not processing.
	ErrJobNotProcessing = errors.New("import job is not processing")
)

// DBTX is satisfied by both *pgxpool.Pool and pgx.Tx.
type DBTX interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// ImportJobRepository is the durable record of job state.
type ImportJobRepository interface {
	Create(ctx context.Context, job domain.ImportJob) (domain.ImportJob, error)
	GetByID(ctx context.Context, id uuid.UUID) (domain.ImportJob, error)
	ListByStatus(ctx context.Context, status domain.JobStatus, limit int) ([]domain.ImportJob, error)

	// Claim moves a pending job to processing. Only one caller can win the claim.
	Claim(ctx context.Context, id uuid.UUID) (domain.ImportJob, error)
	UpdateProgress(ctx context.Context, id uuid.UUID, counts domain.ImportCounts) error
	Complete(ctx context.Context, id uuid.UUID, counts domain.ImportCounts) (domain.ImportJob, error)
	Fail(ctx context.Context, id uuid.UUID) error
}

// ImportLogRepository stores the append-only log of a job.
type ImportLogRepository interface {
	Append(ctx context.Context, entries ...domain.ImportLog) error
	List(ctx context.Context, jobID uuid.UUID, limit int, offset int) ([]domain.ImportLog, error)
	Count(ctx context.Context, jobID uuid.UUID) (int, error)
}

// ProductRepository persists catalog records keyed by SKU.
type ProductRepository interface {
	// UpsertBySKU creates or fully replaces the record with product.SKU using q,
	// which is normally a row-scoped transaction. It reports whether a new record was created.
	UpsertBySKU(ctx context.Context, q DBTX, product domain.Product) (domain.Product, bool, error)
	GetBySKU(ctx context.Context, sku string) (domain.Product, error)
}
