package syncqueue

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func redisClient(t *testing.T) *redis.Client {
	t.Helper()
	client := redis.NewClient(&redis.Options{Addr: "localhost:6379", DB: 15})
	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		t.Skipf("redis not reachable: %v", err)
	}
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func TestEnqueueInitialSync(t *testing.T) {
	client := redisClient(t)
	ctx := context.Background()
	q := NewQueue(client, nil)

	before, err := q.QueueSize(ctx)
	require.NoError(t, err)

	job, err := q.EnqueueInitialSync(ctx, 5, "etsy", "456")
	require.NoError(t, err)
	t.Cleanup(func() {
		client.Del(ctx, JobKeyPrefix+job.ID)
		client.LRem(ctx, JobQueueKey, 1, job.ID)
	})

	after, err := q.QueueSize(ctx)
	require.NoError(t, err)
	assert.Equal(t, before+1, after)

	stored, err := q.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, JobTypeInitialSync, stored.Type)
	assert.Equal(t, uint(5), stored.UserID)
	assert.Equal(t, "456", stored.ExternalID)

	ttl, err := client.TTL(ctx, JobKeyPrefix+job.ID).Result()
	require.NoError(t, err)
	assert.Greater(t, ttl, 23*time.Hour)
}
