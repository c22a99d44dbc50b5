// Package queue hands submitted import job ids to workers.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// ErrClosed is returned when publishing to or consuming from a closed queue.
var ErrClosed = errors.New("queue closed")

// Handler processes one job id. A returned error is logged by the consumer
// and the message is not redelivered.
type Handler func(ctx context.Context, jobID uuid.UUID) error

// Publisher enqueues job ids.
type Publisher interface {
	Publish(ctx context.Context, jobID uuid.UUID) error
}

// Consumer delivers job ids to a handler until ctx is cancelled or the queue closes.
// Consume may be called from several goroutines to process jobs in parallel.
type Consumer interface {
	Consume(ctx context.Context, handler Handler) error
}

// Queue is both ends of a job queue.
type Queue interface {
	Publisher
	Consumer
	Close() error
}

type message struct {
	JobID uuid.UUID `json:"job_id"`
}

func encodeMessage(jobID uuid.UUID) ([]byte, error) {
	return json.Marshal(message{JobID: jobID})
}

func decodeMessage(body []byte) (uuid.UUID, error) {
	var msg message
	if err := json.Unmarshal(body, &msg); err != nil {
		return uuid.Nil, fmt.Errorf("decode job message: %w", err)
	}
	if msg.JobID == uuid.Nil {
		return uuid.Nil, errors.New("decode job message: missing job_id")
	}
	return msg.JobID, nil
}
