package stats

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const latencyKey = "crmsync:stats:latency_ms"

// RedisCollector keeps the rolling latency window in a capped Redis list so
// every worker instance contributes to the same summary.
type RedisCollector struct {
	client *redis.Client
}

func NewRedisCollector(client *redis.Client) *RedisCollector {
	return &RedisCollector{client: client}
}

func (c *RedisCollector) RecordLatency(ctx context.Context, d time.Duration) error {
	ms := float64(d.Microseconds()) / 1000.0
	pipe := c.client.Pipeline()
	pipe.LPush(ctx, latencyKey, strconv.FormatFloat(ms, 'f', 3, 64))
	pipe.LTrim(ctx, latencyKey, 0, maxSamples-1)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to record latency: %w", err)
	}
	return nil
}

func (c *RedisCollector) LatencySummary(ctx context.Context) (LatencySummary, error) {
	raw, err := c.client.LRange(ctx, latencyKey, 0, maxSamples-1).Result()
	if err != nil {
		return LatencySummary{}, fmt.Errorf("failed to read latency samples: %w", err)
	}

	samples := make([]float64, 0, len(raw))
	for _, s := range raw {
		if v, err := strconv.ParseFloat(s, 64); err == nil {
			samples = append(samples, v)
		}
	}
	return summarize(samples), nil
}
