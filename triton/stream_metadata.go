package triton

import (
	"sync"
)

// StreamMetadata summarizes which sequence numbers of each shard an archive
// holds. It is uploaded next to the archive as JSON.
type StreamMetadata struct {
	// shard ID => ShardInfo
	Shards     map[ShardID]*ShardInfo `json:"shards"`
	sync.Mutex `json:"-"`
}

func NewStreamMetadata() *StreamMetadata {
	return &StreamMetadata{
		Shards: make(map[ShardID]*ShardInfo),
	}
}

func (s *StreamMetadata) noteSequenceNumber(shardID ShardID, sequenceNum SequenceNumber) {
	s.Lock()
	defer s.Unlock()
	sh := s.Shards[shardID]
	if sh == nil {
		sh = &ShardInfo{}
		s.Shards[shardID] = sh
	}
	sh.noteSequenceNumber(sequenceNum)
}

type ShardInfo struct {
	MinSequenceNumber SequenceNumber `json:"min_sequence_number"`
	MaxSequenceNumber SequenceNumber `json:"max_sequence_number"`
}

func (s *ShardInfo) noteSequenceNumber(sequenceNum SequenceNumber) {
	if s.MinSequenceNumber == "" || compareSequenceNumbers(sequenceNum, s.MinSequenceNumber) < 0 {
		s.MinSequenceNumber = sequenceNum
	}
	if s.MaxSequenceNumber == "" || compareSequenceNumbers(sequenceNum, s.MaxSequenceNumber) > 0 {
		s.MaxSequenceNumber = sequenceNum
	}
}

// compareSequenceNumbers orders Kinesis sequence numbers, which are decimal
// strings of varying length: shorter means smaller.
func compareSequenceNumbers(a, b SequenceNumber) int {
	switch {
	case len(a) < len(b):
		return -1
	case len(a) > len(b):
		return 1
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}
