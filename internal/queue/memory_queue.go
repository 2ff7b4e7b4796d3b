package queue

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/prudhvinik1/crmsync/internal/models"
)

// MemoryQueue is an in-process Queue with the same lease semantics as the
// Redis implementation: leased messages become invisible until their
// module's visibility timeout passes, then requeue with an incremented
// delivery count or dead-letter past the budget. Used by tests and by local
// runs without Redis.
type MemoryQueue struct {
	mu            sync.Mutex
	registry      *models.ModuleRegistry
	maxDeliveries int

	seq      int64
	ready    []*memEntry
	inflight map[string]*memEntry
	dead     []Message

	notify chan struct{}
	now    func() time.Time
}

type memEntry struct {
	msg      Message
	deadline time.Time
}

func NewMemoryQueue(registry *models.ModuleRegistry, maxDeliveries int) *MemoryQueue {
	return &MemoryQueue{
		registry:      registry,
		maxDeliveries: maxDeliveries,
		inflight:      make(map[string]*memEntry),
		notify:        make(chan struct{}, 1),
		now:           time.Now,
	}
}

func (q *MemoryQueue) Enqueue(_ context.Context, event models.SyncEvent, correlationID string) (string, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.seq++
	msg := Message{
		DeliveryTag:   fmt.Sprintf("mem-%d", q.seq),
		MessageID:     uuid.NewString(),
		CorrelationID: correlationID,
		Event:         event,
		EnqueuedAt:    q.now(),
	}
	q.ready = append(q.ready, &memEntry{msg: msg})
	q.wake()
	return msg.MessageID, nil
}

func (q *MemoryQueue) Receive(ctx context.Context) (*Message, error) {
	for {
		if msg, ok := q.tryReceive(); ok {
			return msg, nil
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-q.notify:
		case <-time.After(10 * time.Millisecond):
			// periodic sweep so expired leases are picked up promptly
		}
	}
}

// TryReceive is the non-blocking variant; it returns ErrEmpty when nothing
// is deliverable right now.
func (q *MemoryQueue) TryReceive(context.Context) (*Message, error) {
	if msg, ok := q.tryReceive(); ok {
		return msg, nil
	}
	return nil, ErrEmpty
}

func (q *MemoryQueue) tryReceive() (*Message, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.requeueExpiredLocked()

	if len(q.ready) == 0 {
		return nil, false
	}
	entry := q.ready[0]
	q.ready = q.ready[1:]

	entry.msg.DeliveryCount++
	entry.deadline = q.now().Add(q.visibilityTimeout(entry.msg.Event.Module))
	q.inflight[entry.msg.DeliveryTag] = entry

	msg := entry.msg
	return &msg, true
}

// requeueExpiredLocked moves expired leases back to ready, or to the
// dead-letter list once the next delivery would exceed the budget.
func (q *MemoryQueue) requeueExpiredLocked() {
	now := q.now()
	for tag, entry := range q.inflight {
		if now.Before(entry.deadline) {
			continue
		}
		delete(q.inflight, tag)
		if entry.msg.DeliveryCount >= q.maxDeliveries {
			q.dead = append(q.dead, entry.msg)
			continue
		}
		q.ready = append(q.ready, entry)
	}
}

func (q *MemoryQueue) Ack(_ context.Context, msg *Message) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	delete(q.inflight, msg.DeliveryTag)
	return nil
}

func (q *MemoryQueue) DeadLetter(_ context.Context, msg *Message, _ string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	delete(q.inflight, msg.DeliveryTag)
	q.dead = append(q.dead, *msg)
	return nil
}

func (q *MemoryQueue) Depth(context.Context) (int64, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.requeueExpiredLocked()
	return int64(len(q.ready) + len(q.inflight)), nil
}

func (q *MemoryQueue) DeadLetterDepth(context.Context) (int64, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.requeueExpiredLocked()
	return int64(len(q.dead)), nil
}

func (q *MemoryQueue) DeadLetters(_ context.Context, limit int64) ([]Message, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	out := make([]Message, 0, limit)
	for i := len(q.dead) - 1; i >= 0 && int64(len(out)) < limit; i-- {
		out = append(out, q.dead[i])
	}
	return out, nil
}

func (q *MemoryQueue) visibilityTimeout(module string) time.Duration {
	if m, ok := q.registry.Get(module); ok {
		return m.VisibilityTimeout
	}
	return models.DefaultVisibilityTimeout
}

func (q *MemoryQueue) wake() {
	select {
	case q.notify <- struct{}{}:
	default:
	}
}
