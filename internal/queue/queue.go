// Package queue is the durable channel between the webhook receiver and the
// sync workers: at-least-once delivery, per-module visibility timeouts, and
// dead-lettering once a message exhausts its delivery budget. Ordering is
// explicitly NOT guaranteed; conflict detection downstream is what keeps
// concurrent and out-of-order deliveries correct.
package queue

import (
	"context"
	"errors"
	"time"

	"github.com/prudhvinik1/crmsync/internal/models"
)

var (
	// ErrEmpty is returned by non-blocking receives when nothing is ready.
	ErrEmpty = errors.New("queue is empty")
)

// Message is one queued delivery of a SyncEvent.
type Message struct {
	// DeliveryTag identifies this delivery to the backing queue for Ack;
	// opaque outside the package.
	DeliveryTag string `json:"-"`

	MessageID     string           `json:"message_id"`
	CorrelationID string           `json:"correlation_id"`
	Event         models.SyncEvent `json:"event"`
	EnqueuedAt    time.Time        `json:"enqueued_at"`
	DeliveryCount int              `json:"delivery_count"`
}

// Queue is the contract both the Redis Streams implementation and the
// in-memory test implementation satisfy.
type Queue interface {
	// Enqueue publishes an event and returns the assigned message id.
	Enqueue(ctx context.Context, event models.SyncEvent, correlationID string) (string, error)

	// Receive blocks until a message is available or ctx is done. Each
	// in-flight message is invisible to other consumers until its module's
	// visibility timeout elapses; an unacked message is then redelivered
	// with an incremented delivery count, or dead-lettered once the count
	// exceeds the configured maximum.
	Receive(ctx context.Context) (*Message, error)

	// Ack removes a processed message permanently.
	Ack(ctx context.Context, msg *Message) error

	// DeadLetter routes a message to the dead-letter channel immediately,
	// bypassing remaining retries. Used for permanent failures.
	DeadLetter(ctx context.Context, msg *Message, reason string) error

	Depth(ctx context.Context) (int64, error)
	DeadLetterDepth(ctx context.Context) (int64, error)

	// DeadLetters returns up to limit dead-lettered messages, newest first.
	// Inspection only; nothing ever auto-reprocesses them.
	DeadLetters(ctx context.Context, limit int64) ([]Message, error)
}
