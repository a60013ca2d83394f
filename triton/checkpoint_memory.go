package triton

import (
	"context"
	"sync"
)

// MemoryCheckpointStore keeps checkpoints in process memory. It is mostly
// useful for tests and for consumers that only need positions to survive
// Resync, not a restart.
type MemoryCheckpointStore struct {
	mu      sync.RWMutex
	streams map[string]ShardToSequenceNumber
}

func NewMemoryCheckpointStore() *MemoryCheckpointStore {
	return &MemoryCheckpointStore{
		streams: make(map[string]ShardToSequenceNumber),
	}
}

func (m *MemoryCheckpointStore) Restore(_ context.Context, streamName string) (map[ShardID]*Shard, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.streams[streamName].Shards(streamName), nil
}

func (m *MemoryCheckpointStore) Modify(_ context.Context, shard *Shard) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	seqs, ok := m.streams[shard.StreamName]
	if !ok {
		seqs = make(ShardToSequenceNumber)
		m.streams[shard.StreamName] = seqs
	}
	seqs[shard.ShardID] = shard.SequenceNumber
	return nil
}
