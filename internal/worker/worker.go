// Package worker runs import jobs taken from the queue.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/rpattn/feedimport/internal/domain"
	"github.com/rpattn/feedimport/internal/ingestion"
	"github.com/rpattn/feedimport/internal/queue"
	"github.com/rpattn/feedimport/internal/repository"

	"github.com/google/uuid"
)

// FailurePrefix starts the job-level log entry written when a job aborts.
const FailurePrefix = "Processing failed: "

// JobRunner runs one import job to a terminal state.
type JobRunner interface {
	Run(ctx context.Context, jobID uuid.UUID) (domain.ImportJob, error)
}

// Worker consumes job ids and runs each through the JobRunner.
type Worker struct {
	runner      JobRunner
	logs        repository.ImportLogRepository
	consumer    queue.Consumer
	concurrency int
	logger      *slog.Logger
}

// New creates a worker running concurrency jobs at a time.
func New(runner JobRunner, logs repository.ImportLogRepository, consumer queue.Consumer, concurrency int, logger *slog.Logger) *Worker {
	if concurrency <= 0 {
		concurrency = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Worker{
		runner:      runner,
		logs:        logs,
		consumer:    consumer,
		concurrency: concurrency,
		logger:      logger.With("component", "worker"),
	}
}

// Run blocks until ctx is cancelled or the queue closes.
func (w *Worker) Run(ctx context.Context) error {
	w.logger.Info("worker started", "concurrency", w.concurrency)

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		errs []error
	)
	for i := 0; i < w.concurrency; i++ {
		wg.Add(1)
		go func(slot int) {
			defer wg.Done()
			err := w.consumer.Consume(ctx, w.Handle)
			if err == nil || errors.Is(err, context.Canceled) || errors.Is(err, queue.ErrClosed) {
				return
			}
			w.logger.Error("consumer stopped", "slot", slot, "error", err)
			mu.Lock()
			errs = append(errs, err)
			mu.Unlock()
		}(i)
	}
	wg.Wait()

	w.logger.Info("worker stopped")
	return errors.Join(errs...)
}

// Handle runs one job. Jobs that are not pending are skipped. When the job
// aborted, the cause is recorded as a job-level error log entry; the job itself
// was already marked failed by the runner.
//
// A started job is not interrupted when ctx is cancelled; cancellation only
// stops the consumer from taking further jobs.
func (w *Worker) Handle(ctx context.Context, jobID uuid.UUID) error {
	logger := w.logger.With("job_id", jobID)
	ctx = context.WithoutCancel(ctx)

	job, err := w.runner.Run(ctx, jobID)
	if err == nil {
		logger.Debug("job finished", "status", job.Status)
		return nil
	}

	if errors.Is(err, repository.ErrJobNotClaimable) {
		logger.Info("skipping job that is not pending")
		return nil
	}

	var fatal *ingestion.FatalError
	if errors.As(err, &fatal) {
		entry := domain.JobError(jobID, FailurePrefix+fatal.Err.Error())
		if appendErr := w.logs.Append(ctx, entry); appendErr != nil {
			logger.Error("failed to record job failure", "error", appendErr)
		}
		return nil
	}

	return fmt.Errorf("run import job %s: %w", jobID, err)
}

// RecoverPending re-publishes jobs left pending, for example ones submitted
// while no worker was running. It returns how many ids were published.
func RecoverPending(ctx context.Context, jobs repository.ImportJobRepository, publisher queue.Publisher, limit int) (int, error) {
	pending, err := jobs.ListByStatus(ctx, domain.JobStatusPending, limit)
	if err != nil {
		return 0, fmt.Errorf("list pending jobs: %w", err)
	}

	published := 0
	for _, job := range pending {
		if err := publisher.Publish(ctx, job.ID); err != nil {
			return published, fmt.Errorf("republish job %s: %w", job.ID, err)
		}
		published++
	}
	if published > 0 {
		slog.Info("re-queued pending import jobs", "count", published)
	}
	return published, nil
}
