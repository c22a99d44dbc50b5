package worker

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rpattn/feedimport/internal/domain"
	"github.com/rpattn/feedimport/internal/ingestion"
	"github.com/rpattn/feedimport/internal/queue"
	"github.com/rpattn/feedimport/internal/repository"

	"github.com/google/uuid"
)

type runnerFunc func(ctx context.Context, jobID uuid.UUID) (domain.ImportJob, error)

func (f runnerFunc) Run(ctx context.Context, jobID uuid.UUID) (domain.ImportJob, error) {
	return f(ctx, jobID)
}

type recordingLogs struct {
	mu      sync.Mutex
	entries []domain.ImportLog
	err     error
}

func (r *recordingLogs) Append(ctx context.Context, entries ...domain.ImportLog) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.entries = append(r.entries, entries...)
	return nil
}

func (r *recordingLogs) List(ctx context.Context, jobID uuid.UUID, limit, offset int) ([]domain.ImportLog, error) {
	return r.entries, nil
}

func (r *recordingLogs) Count(ctx context.Context, jobID uuid.UUID) (int, error) {
	return len(r.entries), nil
}

func TestHandleRecordsFatalFailure(t *testing.T) {
	jobID := uuid.New()
	logs := &recordingLogs{}
	runner := runnerFunc(func(ctx context.Context, id uuid.UUID) (domain.ImportJob, error) {
		return domain.ImportJob{}, &ingestion.FatalError{JobID: id, Err: errors.New("open source: zip: not a valid zip file")}
	})
	w := New(runner, logs, queue.NewMemory(1), 1, nil)

	if err := w.Handle(context.Background(), jobID); err != nil {
		t.Fatalf("fatal job errors are handled, got %v", err)
	}
	if len(logs.entries) != 1 {
		t.Fatalf("expected one log entry, got %d", len(logs.entries))
	}
	entry := logs.entries[0]
	if entry.JobID != jobID || entry.Kind != domain.LogKindError || entry.RowNumber != nil {
		t.Fatalf("unexpected entry %+v", entry)
	}
	if entry.Message != "Processing failed: open source: zip: not a valid zip file" {
		t.Fatalf("unexpected message %q", entry.Message)
	}
}

func TestHandleSkipsUnclaimableJob(t *testing.T) {
	logs := &recordingLogs{}
	runner := runnerFunc(func(ctx context.Context, id uuid.UUID) (domain.ImportJob, error) {
		return domain.ImportJob{}, fmt.Errorf("import job %s: %w", id, repository.ErrJobNotClaimable)
	})
	w := New(runner, logs, queue.NewMemory(1), 1, nil)

	if err := w.Handle(context.Background(), uuid.New()); err != nil {
		t.Fatalf("expected skip, got %v", err)
	}
	if len(logs.entries) != 0 {
		t.Fatalf("skipped jobs must not be logged against, got %v", logs.entries)
	}
}

func TestHandleReturnsUnexpectedErrors(t *testing.T) {
	runner := runnerFunc(func(ctx context.Context, id uuid.UUID) (domain.ImportJob, error) {
		return domain.ImportJob{}, errors.New("unexpected")
	})
	w := New(runner, &recordingLogs{}, queue.NewMemory(1), 1, nil)

	if err := w.Handle(context.Background(), uuid.New()); err == nil || !strings.Contains(err.Error(), "unexpected") {
		t.Fatalf("expected wrapped error, got %v", err)
	}
}

func TestRunProcessesQueuedJobsConcurrently(t *testing.T) {
	q := queue.NewMemory(8)
	const jobs = 4

	var (
		mu      sync.Mutex
		running int
		peak    int
		done    int
	)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	runner := runnerFunc(func(ctx context.Context, id uuid.UUID) (domain.ImportJob, error) {
		mu.Lock()
		running++
		if running > peak {
			peak = running
		}
		mu.Unlock()

		time.Sleep(20 * time.Millisecond)

		mu.Lock()
		running--
		done++
		if done == jobs {
			cancel()
		}
		mu.Unlock()
		return domain.ImportJob{ID: id, Status: domain.JobStatusCompleted}, nil
	})

	for i := 0; i < jobs; i++ {
		if err := q.Publish(context.Background(), uuid.New()); err != nil {
			t.Fatalf("publish: %v", err)
		}
	}

	w := New(runner, &recordingLogs{}, q, 2, nil)
	if err := w.Run(ctx); err != nil {
		t.Fatalf("run: %v", err)
	}

	if done != jobs {
		t.Fatalf("expected %d jobs done, got %d", jobs, done)
	}
	if peak > 2 {
		t.Fatalf("concurrency limit exceeded: %d", peak)
	}
}

type listingJobs struct {
	repository.ImportJobRepository
	pending []domain.ImportJob
	err     error
}

func (l listingJobs) ListByStatus(ctx context.Context, status domain.JobStatus, limit int) ([]domain.ImportJob, error) {
	if status != domain.JobStatusPending {
		return nil, fmt.Errorf("unexpected status %s", status)
	}
	return l.pending, l.err
}

func TestRecoverPendingRepublishes(t *testing.T) {
	first := domain.NewImportJob("a.xlsx", "/tmp/a.xlsx")
	second := domain.NewImportJob("b.xlsx", "/tmp/b.xlsx")
	q := queue.NewMemory(4)

	n, err := RecoverPending(context.Background(), listingJobs{pending: []domain.ImportJob{first, second}}, q, 100)
	if err != nil {
		t.Fatalf("recover: %v", err)
	}
	if n != 2 {
		t.Fatalf("expected 2 republished, got %d", n)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	var got []uuid.UUID
	_ = q.Consume(ctx, func(_ context.Context, id uuid.UUID) error {
		got = append(got, id)
		if len(got) == 2 {
			cancel()
		}
		return nil
	})
	if got[0] != first.ID || got[1] != second.ID {
		t.Fatalf("unexpected order %v", got)
	}
}

func TestRecoverPendingPropagatesErrors(t *testing.T) {
	_, err := RecoverPending(context.Background(), listingJobs{err: errors.New("db down")}, queue.NewMemory(1), 10)
	if err == nil {
		t.Fatalf("expected error")
	}

	q := queue.NewMemory(1)
	_ = q.Close()
	n, err := RecoverPending(context.Background(), listingJobs{pending: []domain.ImportJob{domain.NewImportJob("a.xlsx", "a")}}, q, 10)
	if !errors.Is(err, queue.ErrClosed) || n != 0 {
		t.Fatalf("expected ErrClosed after 0 published, got %d %v", n, err)
	}
}
