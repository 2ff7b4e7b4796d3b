package services

import (
	"context"
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

const statusCacheKey = "crmsync:status:report"

// RedisStatusCache shares the cached report across instances. Cache
// failures degrade to rebuilding the report, never to an error.
type RedisStatusCache struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisStatusCache(client *redis.Client, ttl time.Duration) *RedisStatusCache {
	return &RedisStatusCache{client: client, ttl: ttl}
}

func (c *RedisStatusCache) Get(ctx context.Context) (*StatusReport, bool) {
	data, err := c.client.Get(ctx, statusCacheKey).Result()
	if err == redis.Nil {
		return nil, false
	}
	if err != nil {
		log.Printf("[status] cache read failed: %v", err)
		return nil, false
	}

	var report StatusReport
	if err := json.Unmarshal([]byte(data), &report); err != nil {
		return nil, false
	}
	return &report, true
}

func (c *RedisStatusCache) Set(ctx context.Context, report *StatusReport) {
	data, err := json.Marshal(report)
	if err != nil {
		return
	}
	if err := c.client.Set(ctx, statusCacheKey, data, c.ttl).Err(); err != nil {
		log.Printf("[status] cache write failed: %v", err)
	}
}

// MemoryStatusCache is the single-process StatusCache used by tests.
type MemoryStatusCache struct {
	mu      sync.Mutex
	ttl     time.Duration
	report  *StatusReport
	expires time.Time
}

func NewMemoryStatusCache(ttl time.Duration) *MemoryStatusCache {
	return &MemoryStatusCache{ttl: ttl}
}

func (c *MemoryStatusCache) Get(context.Context) (*StatusReport, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.report == nil || time.Now().After(c.expires) {
		return nil, false
	}
	return c.report, true
}

func (c *MemoryStatusCache) Set(_ context.Context, report *StatusReport) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.report = report
	c.expires = time.Now().Add(c.ttl)
}
