package queue

import (
	"context"
	"log/slog"
	"sync"

	"github.com/google/uuid"
)

// Memory is an in-process queue backed by a buffered channel.
// Ids still buffered when the queue is closed are dropped; their jobs stay
// pending and are picked up again by RecoverPending on the next start.
type Memory struct {
	jobs      chan uuid.UUID
	done      chan struct{}
	closeOnce sync.Once
	logger    *slog.Logger
}

// NewMemory creates a queue holding up to buffer ids before Publish blocks.
func NewMemory(buffer int) *Memory {
	if buffer < 0 {
		buffer = 0
	}
	return &Memory{
		jobs:   make(chan uuid.UUID, buffer),
		done:   make(chan struct{}),
		logger: slog.Default().With("queue", "memory"),
	}
}

func (m *Memory) Publish(ctx context.Context, jobID uuid.UUID) error {
	select {
	case <-m.done:
		return ErrClosed
	default:
	}

	select {
	case m.jobs <- jobID:
		return nil
	case <-m.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *Memory) Consume(ctx context.Context, handler Handler) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-m.done:
			return ErrClosed
		case jobID := <-m.jobs:
			if err := handler(ctx, jobID); err != nil {
				m.logger.Error("job handler failed", "job_id", jobID, "error", err)
			}
		}
	}
}

// Close stops consumers and rejects further publishing. It is safe to call more than once.
func (m *Memory) Close() error {
	m.closeOnce.Do(func() { close(m.done) })
	return nil
}
