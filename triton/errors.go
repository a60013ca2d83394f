package triton

import (
	"fmt"

	"github.com/pkg/errors"
)

var (
	// ErrNotInitialized is returned by consumer operations called before
	// Initialize has completed.
	ErrNotInitialized = errors.New("triton: consumer is not initialized")

	// ErrConcurrencyUnsupported is returned when a parallel poll is requested
	// from a consumer configured without any concurrency.
	ErrConcurrencyUnsupported = errors.New("triton: parallel poll requested but concurrency is disabled")

	// ErrUnknownShard is returned when an operation names a shard the
	// consumer does not track.
	ErrUnknownShard = errors.New("triton: shard is not tracked")

	// ErrDescribeLimitExceeded is returned when shard discovery keeps being
	// told there are more shards after the maximum number of pages.
	ErrDescribeLimitExceeded = errors.New("triton: describe stream page limit exceeded")
)

// TransportError wraps a failure returned by the Kinesis service. The
// original error is kept untouched and is available through Cause.
type TransportError struct {
	Op      string
	Stream  string
	ShardID ShardID
	Err     error
}

func (e *TransportError) Error() string {
	if e.ShardID == "" {
		return fmt.Sprintf("triton: %s %s: %v", e.Op, e.Stream, e.Err)
	}
	return fmt.Sprintf("triton: %s %s/%s: %v", e.Op, e.Stream, e.ShardID, e.Err)
}

func (e *TransportError) Cause() error  { return e.Err }
func (e *TransportError) Unwrap() error { return e.Err }

// CheckpointStoreError wraps an I/O failure of a CheckpointStore.
type CheckpointStoreError struct {
	Op      string
	Stream  string
	ShardID ShardID
	Err     error
}

func (e *CheckpointStoreError) Error() string {
	if e.ShardID == "" {
		return fmt.Sprintf("triton: checkpoint %s %s: %v", e.Op, e.Stream, e.Err)
	}
	return fmt.Sprintf("triton: checkpoint %s %s/%s: %v", e.Op, e.Stream, e.ShardID, e.Err)
}

func (e *CheckpointStoreError) Cause() error  { return e.Err }
func (e *CheckpointStoreError) Unwrap() error { return e.Err }
