package triton

import "fmt"

// Shard is the read position the consumer tracks for a single shard of a
// stream. An empty SequenceNumber means nothing has been recorded for the
// shard yet, and reading starts at TRIM_HORIZON.
type Shard struct {
	StreamName     string
	ShardID        ShardID
	SequenceNumber SequenceNumber
}

// HasPosition reports whether a sequence number has been recorded.
func (s *Shard) HasPosition() bool {
	return s.SequenceNumber != ""
}

// Copy returns a detached copy of the shard.
func (s *Shard) Copy() *Shard {
	c := *s
	return &c
}

func (s *Shard) String() string {
	return fmt.Sprintf("%s:%s@%s", s.StreamName, s.ShardID, s.SequenceNumber)
}
