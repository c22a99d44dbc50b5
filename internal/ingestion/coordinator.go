package ingestion

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/rpattn/feedimport/internal/domain"
	"github.com/rpattn/feedimport/internal/repository"

	"github.com/google/uuid"
)

// BatchSource is a single-pass sequence of row batches. Next returns io.EOF when exhausted.
type BatchSource interface {
	Next() ([]Row, error)
	Close() error
}

// SourceOpener opens the stored upload of a job.
type SourceOpener interface {
	Open(ctx context.Context, path string, batchSize int) (BatchSource, error)
}

// RowUpserter persists an accepted row.
type RowUpserter interface {
	Upsert(ctx context.Context, row Row) (domain.Product, error)
}

// ExcelOpener opens workbooks from the local filesystem.
type ExcelOpener struct{}

// Open implements SourceOpener.
func (ExcelOpener) Open(_ context.Context, path string, batchSize int) (BatchSource, error) {
	return OpenRowSource(path, SourceOptions{BatchSize: batchSize})
}

// RowOutcome is how processing of one row ended.
type RowOutcome int

const (
	RowSucceeded RowOutcome = iota
	RowRejected
	RowFailed
)

func (o RowOutcome) String() string {
	switch o {
	case RowSucceeded:
		return "succeeded"
	case RowRejected:
		return "rejected"
	case RowFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// RowResult is the per-row outcome the coordinator aggregates.
type RowResult struct {
	Row      int
	Outcome  RowOutcome
	Errors   []string
	Warnings []string
}

// LogEntries renders the result as the log entries appended for the row.
// Warnings are only recorded for rows that were persisted.
func (r RowResult) LogEntries(jobID uuid.UUID) []domain.ImportLog {
	entries := make([]domain.ImportLog, 0, len(r.Errors)+len(r.Warnings))
	for _, message := range r.Errors {
		entries = append(entries, domain.RowError(jobID, r.Row, message))
	}
	if r.Outcome == RowSucceeded {
		for _, message := range r.Warnings {
			entries = append(entries, domain.RowWarning(jobID, r.Row, message))
		}
	}
	return entries
}

// FatalError is returned when a job aborts outside row-level handling.
// The job has already been marked failed when this error is returned.
type FatalError struct {
	JobID uuid.UUID
	Err   error
}

func (e *FatalError) Error() string {
	return fmt.Sprintf("import job %s failed: %v", e.JobID, e.Err)
}

func (e *FatalError) Unwrap() error {
	return e.Err
}

// Coordinator drives one import job from pending to a terminal state.
// A Coordinator may run distinct jobs concurrently; a single job must be run once.
type Coordinator struct {
	jobs      repository.ImportJobRepository
	logs      repository.ImportLogRepository
	upserter  RowUpserter
	opener    SourceOpener
	batchSize int
	logger    *slog.Logger
}

// CoordinatorOption customises a Coordinator.
type CoordinatorOption func(*Coordinator)

// WithBatchSize sets the number of rows read per batch.
func WithBatchSize(size int) CoordinatorOption {
	return func(c *Coordinator) {
		if size > 0 {
			c.batchSize = size
		}
	}
}

// WithSourceOpener replaces the default workbook opener.
func WithSourceOpener(opener SourceOpener) CoordinatorOption {
	return func(c *Coordinator) {
		if opener != nil {
			c.opener = opener
		}
	}
}

// WithLogger sets the base logger.
func WithLogger(logger *slog.Logger) CoordinatorOption {
	return func(c *Coordinator) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// NewCoordinator creates a coordinator.
func NewCoordinator(
	jobs repository.ImportJobRepository,
	logs repository.ImportLogRepository,
	upserter RowUpserter,
	opts ...CoordinatorOption,
) *Coordinator {
	c := &Coordinator{
		jobs:      jobs,
		logs:      logs,
		upserter:  upserter,
		opener:    ExcelOpener{},
		batchSize: DefaultBatchSize,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Run claims the job, streams its file and finalizes the job state.
//
// Row-level problems are logged and counted but never returned. Run returns
// repository.ErrJobNotClaimable (wrapped) when the job is not pending, and a
// *FatalError when the job was aborted and marked failed.
func (c *Coordinator) Run(ctx context.Context, jobID uuid.UUID) (domain.ImportJob, error) {
	job, err := c.jobs.Claim(ctx, jobID)
	if err != nil {
		if errors.Is(err, repository.ErrJobNotClaimable) {
			return domain.ImportJob{}, err
		}
		return c.fail(ctx, c.logger.With("job_id", jobID), jobID, fmt.Errorf("claim job: %w", err))
	}

	logger := c.logger.With("job_id", job.ID, "file", job.FileName)
	logger.Info("import started", "batch_size", c.batchSize)

	source, err := c.opener.Open(ctx, job.FilePath, c.batchSize)
	if err != nil {
		return c.fail(ctx, logger, job.ID, fmt.Errorf("open source: %w", err))
	}
	defer func() {
		if closeErr := source.Close(); closeErr != nil {
			logger.Warn("failed to close import source", "error", closeErr)
		}
	}()

	var counts domain.ImportCounts
	for {
		batch, err := source.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return c.fail(ctx, logger, job.ID, fmt.Errorf("read source: %w", err))
		}

		for _, row := range batch {
			result := c.processRow(ctx, row)

			counts.TotalRows++
			if result.Outcome == RowSucceeded {
				counts.SuccessCount++
				counts.WarningCount += len(result.Warnings)
			} else {
				counts.ErrorCount++
			}

			if err := c.logs.Append(ctx, result.LogEntries(job.ID)...); err != nil {
				return c.fail(ctx, logger, job.ID, fmt.Errorf("append log for row %d: %w", row.Number, err))
			}
		}

		if err := c.jobs.UpdateProgress(ctx, job.ID, counts); err != nil {
			return c.fail(ctx, logger, job.ID, fmt.Errorf("update progress: %w", err))
		}
		logger.Debug("import batch persisted", "rows", len(batch), "total_rows", counts.TotalRows)
	}

	if !counts.Reconciled() {
		logger.Warn("import counts do not reconcile",
			"total_rows", counts.TotalRows,
			"success_count", counts.SuccessCount,
			"error_count", counts.ErrorCount,
		)
	}

	completed, err := c.jobs.Complete(ctx, job.ID, counts)
	if err != nil {
		return c.fail(ctx, logger, job.ID, fmt.Errorf("complete job: %w", err))
	}

	logger.Info("import completed",
		"total_rows", counts.TotalRows,
		"success_count", counts.SuccessCount,
		"warning_count", counts.WarningCount,
		"error_count", counts.ErrorCount,
	)
	return completed, nil
}

// processRow validates row and, when accepted, upserts it.
func (c *Coordinator) processRow(ctx context.Context, row Row) RowResult {
	validation := ValidateRow(row)
	if validation.Rejected() {
		return RowResult{Row: row.Number, Outcome: RowRejected, Errors: validation.Errors}
	}

	if _, err := c.upserter.Upsert(ctx, row); err != nil {
		return RowResult{Row: row.Number, Outcome: RowFailed, Errors: []string{err.Error()}}
	}

	return RowResult{Row: row.Number, Outcome: RowSucceeded, Warnings: validation.Warnings}
}

// fail persists the failed status even if ctx is already cancelled.
func (c *Coordinator) fail(ctx context.Context, logger *slog.Logger, jobID uuid.UUID, cause error) (domain.ImportJob, error) {
	persistCtx := context.WithoutCancel(ctx)
	if err := c.jobs.Fail(persistCtx, jobID); err != nil {
		logger.Error("failed to mark import job failed", "error", err)
		cause = fmt.Errorf("%w (marking job failed: %v)", cause, err)
	}

	logger.Error("import failed", "error", cause)
	return domain.ImportJob{}, &FatalError{JobID: jobID, Err: cause}
}
