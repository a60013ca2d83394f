package triton

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/redis.v5"
)

// These tests need a redis server, found through REDIS_ADDR.
func newTestRedisStore(t *testing.T) *RedisCheckpointStore {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		t.Skip("REDIS_ADDR not set")
	}
	client := redis.NewClient(&redis.Options{Addr: addr})
	t.Cleanup(func() {
		client.Del("triton-test:test-stream:sequence")
		client.Close()
	})
	return NewRedisCheckpointStore(client, "triton-test")
}

func TestRedisCheckpointStore(t *testing.T) {
	r := newTestRedisStore(t)
	ctx := context.Background()

	shards, err := r.Restore(ctx, "test-stream")
	require.NoError(t, err)
	assert.Empty(t, shards)

	require.NoError(t, r.Modify(ctx, &Shard{StreamName: "test-stream", ShardID: "0", SequenceNumber: "1"}))
	require.NoError(t, r.Modify(ctx, &Shard{StreamName: "test-stream", ShardID: "0", SequenceNumber: "2"}))

	shards, err = r.Restore(ctx, "test-stream")
	require.NoError(t, err)
	require.Len(t, shards, 1)
	assert.Equal(t, SequenceNumber("2"), shards["0"].SequenceNumber)
}

func TestRedisCheckpointStoreKey(t *testing.T) {
	r := NewRedisCheckpointStore(nil, "app")
	assert.Equal(t, "app:orders:sequence", r.key("orders"))
}
