package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
)

const publishTimeout = 10 * time.Second

// AMQPConfig configures the RabbitMQ backed queue.
type AMQPConfig struct {
	URL      string
	Queue    string
	Prefetch int
}

// AMQP publishes job ids as persistent messages on a durable queue and
// consumes them with manual acknowledgements.
type AMQP struct {
	cfg     AMQPConfig
	conn    *amqp.Connection
	mu      sync.Mutex
	publish *amqp.Channel
	logger  *slog.Logger
}

// DialAMQP connects to the broker and declares the queue.
func DialAMQP(cfg AMQPConfig) (*AMQP, error) {
	if cfg.URL == "" || cfg.Queue == "" {
		return nil, errors.New("amqp queue: url and queue name are required")
	}

	conn, err := amqp.Dial(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("amqp queue: dial: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("amqp queue: open channel: %w", err)
	}

	if _, err := declare(ch, cfg.Queue); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, err
	}

	return &AMQP{
		cfg:     cfg,
		conn:    conn,
		publish: ch,
		logger:  slog.Default().With("queue", cfg.Queue),
	}, nil
}

func declare(ch *amqp.Channel, name string) (amqp.Queue, error) {
	q, err := ch.QueueDeclare(
		name,
		true,  // durable
		false, // delete when unused
		false, // exclusive
		false, // no-wait
		nil,
	)
	if err != nil {
		return amqp.Queue{}, fmt.Errorf("amqp queue: declare %q: %w", name, err)
	}
	return q, nil
}

func (q *AMQP) Publish(ctx context.Context, jobID uuid.UUID) error {
	body, err := encodeMessage(jobID)
	if err != nil {
		return err
	}

	publishCtx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()

	q.mu.Lock()
	defer q.mu.Unlock()
	if q.publish == nil || q.conn.IsClosed() {
		return ErrClosed
	}

	err = q.publish.PublishWithContext(publishCtx,
		"",          // default exchange
		q.cfg.Queue, // routing key
		false,       // mandatory
		false,       // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			MessageId:    jobID.String(),
			Timestamp:    time.Now(),
			Body:         body,
		},
	)
	if err != nil {
		return fmt.Errorf("amqp queue: publish job %s: %w", jobID, err)
	}
	return nil
}

// Consume opens a dedicated channel and handles deliveries one at a time.
// Successful deliveries are acked; failed or undecodable ones are dropped
// without requeueing so a poison message cannot loop.
func (q *AMQP) Consume(ctx context.Context, handler Handler) error {
	if q.conn.IsClosed() {
		return ErrClosed
	}

	ch, err := q.conn.Channel()
	if err != nil {
		return fmt.Errorf("amqp queue: open consumer channel: %w", err)
	}
	defer func() { _ = ch.Close() }()

	prefetch := q.cfg.Prefetch
	if prefetch <= 0 {
		prefetch = 1
	}
	if err := ch.Qos(prefetch, 0, false); err != nil {
		return fmt.Errorf("amqp queue: set qos: %w", err)
	}

	deliveries, err := ch.ConsumeWithContext(ctx,
		q.cfg.Queue,
		"",    // consumer tag
		false, // auto-ack
		false, // exclusive
		false, // no-local
		false, // no-wait
		nil,
	)
	if err != nil {
		return fmt.Errorf("amqp queue: consume: %w", err)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case delivery, ok := <-deliveries:
			if !ok {
				return ErrClosed
			}
			q.handle(ctx, delivery, handler)
		}
	}
}

func (q *AMQP) handle(ctx context.Context, delivery amqp.Delivery, handler Handler) {
	jobID, err := decodeMessage(delivery.Body)
	if err != nil {
		q.logger.Error("dropping malformed job message", "message_id", delivery.MessageId, "error", err)
		_ = delivery.Nack(false, false)
		return
	}

	if err := handler(ctx, jobID); err != nil {
		q.logger.Error("job handler failed", "job_id", jobID, "error", err)
		if nackErr := delivery.Nack(false, false); nackErr != nil {
			q.logger.Warn("failed to nack delivery", "job_id", jobID, "error", nackErr)
		}
		return
	}

	if err := delivery.Ack(false); err != nil {
		q.logger.Warn("failed to ack delivery", "job_id", jobID, "error", err)
	}
}

// Close closes the publishing channel and the connection, which also ends running consumers.
func (q *AMQP) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()

	var errs []error
	if q.publish != nil {
		if err := q.publish.Close(); err != nil && !errors.Is(err, amqp.ErrClosed) {
			errs = append(errs, err)
		}
		q.publish = nil
	}
	if err := q.conn.Close(); err != nil && !errors.Is(err, amqp.ErrClosed) {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}
