package triton

import (
	"context"

	"gopkg.in/redis.v5"
)

// RedisCheckpointStore keeps the checkpoints of a stream in a redis hash
// named "<prefix>:<stream>:sequence", one field per shard.
type RedisCheckpointStore struct {
	client *redis.Client
	prefix string
}

func NewRedisCheckpointStore(client *redis.Client, prefix string) *RedisCheckpointStore {
	return &RedisCheckpointStore{
		client: client,
		prefix: prefix,
	}
}

func (r *RedisCheckpointStore) key(streamName string) string {
	return r.prefix + ":" + streamName + ":sequence"
}

func (r *RedisCheckpointStore) Restore(_ context.Context, streamName string) (map[ShardID]*Shard, error) {
	heads, err := r.client.HGetAll(r.key(streamName)).Result()
	if err != nil {
		return nil, err
	}
	seqs := make(ShardToSequenceNumber, len(heads))
	for shardID, seq := range heads {
		seqs[ShardID(shardID)] = SequenceNumber(seq)
	}
	return seqs.Shards(streamName), nil
}

func (r *RedisCheckpointStore) Modify(_ context.Context, shard *Shard) error {
	return r.client.HSet(r.key(shard.StreamName), string(shard.ShardID), string(shard.SequenceNumber)).Err()
}
