package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/prudhvinik1/crmsync/internal/models"
)

const (
	streamPrefix     = "crmsync:q:"
	deadLetterStream = "crmsync:dlq"
	consumerGroup    = "sync-workers"

	// maxStreamLen bounds retention in place of a per-message TTL; Redis
	// streams have no entry expiry, so the stream is trimmed approximately.
	maxStreamLen = 100000

	// readBlock is how long one XREADGROUP call blocks before Receive
	// re-checks ctx and expired leases.
	readBlock = 2 * time.Second
)

// RedisQueue implements Queue on Redis Streams consumer groups. One stream
// per module gives each module its own visibility timeout; unacked entries
// sit in the group's pending list and are reclaimed by XAUTOCLAIM once idle
// longer than the module's timeout.
type RedisQueue struct {
	client        *redis.Client
	consumer      string
	maxDeliveries int

	// priority-ordered, parallel slices
	streams  []string
	timeouts []time.Duration
}

func NewRedisQueue(ctx context.Context, client *redis.Client, registry *models.ModuleRegistry, maxDeliveries int) (*RedisQueue, error) {
	q := &RedisQueue{
		client:        client,
		consumer:      "worker-" + uuid.NewString(),
		maxDeliveries: maxDeliveries,
	}
	for _, m := range registry.Ordered() {
		stream := streamName(m.Name)
		q.streams = append(q.streams, stream)
		q.timeouts = append(q.timeouts, m.VisibilityTimeout)

		err := client.XGroupCreateMkStream(ctx, stream, consumerGroup, "0").Err()
		if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
			return nil, fmt.Errorf("failed to create consumer group for %s: %w", stream, err)
		}
	}
	return q, nil
}

func streamName(module string) string {
	return streamPrefix + strings.ToLower(module)
}

func (q *RedisQueue) Enqueue(ctx context.Context, event models.SyncEvent, correlationID string) (string, error) {
	eventJSON, err := json.Marshal(event)
	if err != nil {
		return "", fmt.Errorf("failed to marshal event: %w", err)
	}

	messageID := uuid.NewString()
	err = q.client.XAdd(ctx, &redis.XAddArgs{
		Stream: streamName(event.Module),
		MaxLen: maxStreamLen,
		Approx: true,
		Values: map[string]any{
			"message_id":     messageID,
			"correlation_id": correlationID,
			"event":          string(eventJSON),
			"enqueued_at":    time.Now().UTC().Format(time.RFC3339Nano),
		},
	}).Err()
	if err != nil {
		return "", fmt.Errorf("failed to enqueue message: %w", err)
	}
	return messageID, nil
}

func (q *RedisQueue) Receive(ctx context.Context) (*Message, error) {
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		msg, err := q.reclaimExpired(ctx)
		if err != nil {
			return nil, err
		}
		if msg != nil {
			return msg, nil
		}

		msg, err = q.readFresh(ctx)
		if err != nil {
			return nil, err
		}
		if msg != nil {
			return msg, nil
		}
	}
}

// reclaimExpired takes over pending entries whose lease expired. Entries
// past the delivery budget go straight to the dead-letter stream.
func (q *RedisQueue) reclaimExpired(ctx context.Context) (*Message, error) {
	for i, stream := range q.streams {
		claimed, _, err := q.client.XAutoClaim(ctx, &redis.XAutoClaimArgs{
			Stream:   stream,
			Group:    consumerGroup,
			Consumer: q.consumer,
			MinIdle:  q.timeouts[i],
			Start:    "0",
			Count:    10,
		}).Result()
		if err != nil && err != redis.Nil {
			return nil, fmt.Errorf("failed to reclaim pending messages: %w", err)
		}

		for _, raw := range claimed {
			msg, err := parseStreamMessage(stream, raw)
			if err != nil {
				// Unparseable entry: drop it so it cannot wedge the group.
				q.client.XAck(ctx, stream, consumerGroup, raw.ID)
				q.client.XDel(ctx, stream, raw.ID)
				continue
			}
			msg.DeliveryCount = q.deliveryCount(ctx, stream, raw.ID)

			if msg.DeliveryCount > q.maxDeliveries {
				if err := q.deadLetter(ctx, msg, "delivery count exceeded"); err != nil {
					return nil, err
				}
				continue
			}
			return msg, nil
		}
	}
	return nil, nil
}

func (q *RedisQueue) readFresh(ctx context.Context) (*Message, error) {
	args := make([]string, 0, len(q.streams)*2)
	args = append(args, q.streams...)
	for range q.streams {
		args = append(args, ">")
	}

	streams, err := q.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    consumerGroup,
		Consumer: q.consumer,
		Streams:  args,
		Count:    1,
		Block:    readBlock,
	}).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("failed to read from queue: %w", err)
	}

	for _, s := range streams {
		for _, raw := range s.Messages {
			msg, err := parseStreamMessage(s.Stream, raw)
			if err != nil {
				q.client.XAck(ctx, s.Stream, consumerGroup, raw.ID)
				q.client.XDel(ctx, s.Stream, raw.ID)
				continue
			}
			msg.DeliveryCount = 1
			return msg, nil
		}
	}
	return nil, nil
}

// deliveryCount reads the retry counter from the pending entry list.
func (q *RedisQueue) deliveryCount(ctx context.Context, stream, id string) int {
	pending, err := q.client.XPendingExt(ctx, &redis.XPendingExtArgs{
		Stream: stream,
		Group:  consumerGroup,
		Start:  id,
		End:    id,
		Count:  1,
	}).Result()
	if err != nil || len(pending) == 0 {
		return 1
	}
	return int(pending[0].RetryCount)
}

func (q *RedisQueue) Ack(ctx context.Context, msg *Message) error {
	stream := streamName(msg.Event.Module)
	if err := q.client.XAck(ctx, stream, consumerGroup, msg.DeliveryTag).Err(); err != nil {
		return fmt.Errorf("failed to ack message %s: %w", msg.MessageID, err)
	}
	// Acked entries are removed outright so XLEN reflects real queue depth.
	q.client.XDel(ctx, stream, msg.DeliveryTag)
	return nil
}

func (q *RedisQueue) DeadLetter(ctx context.Context, msg *Message, reason string) error {
	return q.deadLetter(ctx, msg, reason)
}

func (q *RedisQueue) deadLetter(ctx context.Context, msg *Message, reason string) error {
	eventJSON, err := json.Marshal(msg.Event)
	if err != nil {
		return fmt.Errorf("failed to marshal dead-lettered event: %w", err)
	}

	err = q.client.XAdd(ctx, &redis.XAddArgs{
		Stream: deadLetterStream,
		MaxLen: maxStreamLen,
		Approx: true,
		Values: map[string]any{
			"message_id":     msg.MessageID,
			"correlation_id": msg.CorrelationID,
			"event":          string(eventJSON),
			"enqueued_at":    msg.EnqueuedAt.UTC().Format(time.RFC3339Nano),
			"delivery_count": msg.DeliveryCount,
			"reason":         reason,
			"failed_at":      time.Now().UTC().Format(time.RFC3339Nano),
		},
	}).Err()
	if err != nil {
		return fmt.Errorf("failed to dead-letter message %s: %w", msg.MessageID, err)
	}

	stream := streamName(msg.Event.Module)
	if err := q.client.XAck(ctx, stream, consumerGroup, msg.DeliveryTag).Err(); err != nil {
		return fmt.Errorf("failed to ack dead-lettered message: %w", err)
	}
	q.client.XDel(ctx, stream, msg.DeliveryTag)
	return nil
}

func (q *RedisQueue) Depth(ctx context.Context) (int64, error) {
	var total int64
	for _, stream := range q.streams {
		n, err := q.client.XLen(ctx, stream).Result()
		if err != nil {
			return 0, fmt.Errorf("failed to read queue depth: %w", err)
		}
		total += n
	}
	return total, nil
}

func (q *RedisQueue) DeadLetterDepth(ctx context.Context) (int64, error) {
	n, err := q.client.XLen(ctx, deadLetterStream).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to read dead-letter depth: %w", err)
	}
	return n, nil
}

func (q *RedisQueue) DeadLetters(ctx context.Context, limit int64) ([]Message, error) {
	raws, err := q.client.XRevRangeN(ctx, deadLetterStream, "+", "-", limit).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read dead letters: %w", err)
	}

	out := make([]Message, 0, len(raws))
	for _, raw := range raws {
		msg, err := parseStreamMessage(deadLetterStream, raw)
		if err != nil {
			continue
		}
		if dc, ok := raw.Values["delivery_count"].(string); ok {
			fmt.Sscanf(dc, "%d", &msg.DeliveryCount)
		}
		out = append(out, *msg)
	}
	return out, nil
}

func parseStreamMessage(stream string, raw redis.XMessage) (*Message, error) {
	eventJSON, ok := raw.Values["event"].(string)
	if !ok {
		return nil, fmt.Errorf("stream entry %s in %s has no event body", raw.ID, stream)
	}

	var event models.SyncEvent
	if err := json.Unmarshal([]byte(eventJSON), &event); err != nil {
		return nil, fmt.Errorf("failed to unmarshal event in entry %s: %w", raw.ID, err)
	}

	msg := &Message{
		DeliveryTag: raw.ID,
		Event:       event,
	}
	if v, ok := raw.Values["message_id"].(string); ok {
		msg.MessageID = v
	}
	if v, ok := raw.Values["correlation_id"].(string); ok {
		msg.CorrelationID = v
	}
	if v, ok := raw.Values["enqueued_at"].(string); ok {
		if t, err := time.Parse(time.RFC3339Nano, v); err == nil {
			msg.EnqueuedAt = t
		}
	}
	return msg, nil
}
