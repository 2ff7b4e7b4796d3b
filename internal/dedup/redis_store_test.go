package dedup

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func getTestRedisClient(t *testing.T) *redis.Client {
	t.Helper()
	url := os.Getenv("TEST_REDIS_URL")
	if url == "" {
		t.Skip("TEST_REDIS_URL not set; skipping Redis integration test")
	}

	opts, err := redis.ParseURL(url)
	require.NoError(t, err)
	client := redis.NewClient(opts)
	require.NoError(t, client.Ping(context.Background()).Err(), "Failed to connect to test Redis")

	t.Cleanup(func() { client.Close() })
	return client
}

func TestRedisStore_CheckAndSet(t *testing.T) {
	client := getTestRedisClient(t)
	store := NewRedisStore(client, time.Minute)
	ctx := context.Background()

	key := "test-" + uuid.NewString()
	defer client.Del(ctx, dedupKeyPrefix+key)

	fresh, err := store.CheckAndSet(ctx, key)
	require.NoError(t, err)
	assert.True(t, fresh)

	fresh, err = store.CheckAndSet(ctx, key)
	require.NoError(t, err)
	assert.False(t, fresh, "second sighting within TTL is a duplicate")

	ttl, err := client.TTL(ctx, dedupKeyPrefix+key).Result()
	require.NoError(t, err)
	assert.Greater(t, ttl, time.Duration(0), "dedup keys must expire")
	assert.LessOrEqual(t, ttl, time.Minute)
}

func TestRedisStore_ExpiredKeyIsFreshAgain(t *testing.T) {
	client := getTestRedisClient(t)
	store := NewRedisStore(client, 50*time.Millisecond)
	ctx := context.Background()

	key := "test-" + uuid.NewString()
	defer client.Del(ctx, dedupKeyPrefix+key)

	fresh, err := store.CheckAndSet(ctx, key)
	require.NoError(t, err)
	require.True(t, fresh)

	time.Sleep(80 * time.Millisecond)

	fresh, err = store.CheckAndSet(ctx, key)
	require.NoError(t, err)
	assert.True(t, fresh)
}
