package triton

import "sort"

// Some types to make sure our lists of func args don't get confused
type ShardID string
type SequenceNumber string

// For tracking ShardID => Last Sequence Number
type ShardToSequenceNumber map[ShardID]SequenceNumber

// Shards expands the mapping into Shard values belonging to stream.
func (m ShardToSequenceNumber) Shards(stream string) map[ShardID]*Shard {
	result := make(map[ShardID]*Shard, len(m))
	for shardID, seq := range m {
		result[shardID] = &Shard{
			StreamName:     stream,
			ShardID:        shardID,
			SequenceNumber: seq,
		}
	}
	return result
}

// sortedShardIDs returns the keys of a shard mapping in lexical order.
func sortedShardIDs(shards map[ShardID]*Shard) []ShardID {
	ids := make([]ShardID, 0, len(shards))
	for id := range shards {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}
