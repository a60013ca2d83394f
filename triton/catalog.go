package triton

import (
	"context"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/service/kinesis"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// DefaultMaxDescribePages bounds shard discovery in case the service never
// stops reporting HasMoreShards.
const DefaultMaxDescribePages = 100

// ShardCatalogParams are the parameters to NewShardCatalog
type ShardCatalogParams struct {
	KinesisService   KinesisService  // The Kinesis service
	Store            CheckpointStore // Where previously read positions are restored from
	Stream           string          // The stream name like "courier_activity"
	MaxDescribePages int             // Maximum DescribeStream calls per discovery
	Logger           *zap.Logger
}

// ShardCatalog reconciles the shards Kinesis describes for a stream with the
// positions saved in a CheckpointStore.
type ShardCatalog struct {
	svc              KinesisService
	store            CheckpointStore
	stream           string
	maxDescribePages int
	logger           *zap.Logger
}

// NewShardCatalog creates a new ShardCatalog
func NewShardCatalog(params *ShardCatalogParams) *ShardCatalog {
	// Passing in a null kinesis service is a programming error
	if params.KinesisService == nil {
		panic("expecting a KinesisService")
	}

	if params.Store == nil {
		panic("expecting a CheckpointStore")
	}

	// Not specifying a stream is a programming error
	if params.Stream == "" {
		panic("expecting a stream")
	}

	c := &ShardCatalog{
		svc:              params.KinesisService,
		store:            params.Store,
		stream:           params.Stream,
		maxDescribePages: params.MaxDescribePages,
		logger:           params.Logger,
	}
	if c.maxDescribePages <= 0 {
		c.maxDescribePages = DefaultMaxDescribePages
	}
	if c.logger == nil {
		c.logger = zap.NewNop()
	}
	return c
}

// Discover describes the stream page by page and returns every shard whose ID
// is not in ignore, positioned at the shard's starting sequence number.
func (c *ShardCatalog) Discover(ctx context.Context, ignore map[ShardID]bool) (map[ShardID]*Shard, error) {
	result := make(map[ShardID]*Shard)
	input := &kinesis.DescribeStreamInput{StreamName: aws.String(c.stream)}

	for page := 0; ; page++ {
		if page >= c.maxDescribePages {
			return nil, errors.Wrapf(ErrDescribeLimitExceeded, "stream %q after %d pages", c.stream, page)
		}

		out, err := c.svc.DescribeStreamWithContext(ctx, input)
		if err != nil {
			return nil, &TransportError{Op: "DescribeStream", Stream: c.stream, Err: err}
		}
		desc := out.StreamDescription
		if desc == nil {
			return nil, &TransportError{Op: "DescribeStream", Stream: c.stream, Err: errors.New("missing stream description")}
		}

		var lastShardID *string
		for _, s := range desc.Shards {
			if s == nil || s.ShardId == nil {
				continue
			}
			lastShardID = s.ShardId

			shardID := ShardID(*s.ShardId)
			if ignore[shardID] {
				continue
			}

			shard := &Shard{StreamName: c.stream, ShardID: shardID}
			if s.SequenceNumberRange != nil {
				shard.SequenceNumber = SequenceNumber(aws.StringValue(s.SequenceNumberRange.StartingSequenceNumber))
			}
			result[shardID] = shard
		}

		if !aws.BoolValue(desc.HasMoreShards) {
			break
		}
		if lastShardID != nil {
			input = &kinesis.DescribeStreamInput{
				StreamName:            aws.String(c.stream),
				ExclusiveStartShardId: lastShardID,
			}
		}
	}

	c.logger.Debug("Discovered shards",
		zap.String("stream", c.stream),
		zap.Int("new", len(result)),
		zap.Int("ignored", len(ignore)))
	return result, nil
}

// Reconcile restores the stream's checkpoints and adds every shard that
// discovery finds beyond them. A restored position always wins over the
// starting position discovery would assign. Reconcile is safe to repeat.
func (c *ShardCatalog) Reconcile(ctx context.Context) (map[ShardID]*Shard, error) {
	restored, err := c.store.Restore(ctx, c.stream)
	if err != nil {
		return nil, &CheckpointStoreError{Op: "restore", Stream: c.stream, Err: err}
	}

	result := make(map[ShardID]*Shard, len(restored))
	ignore := make(map[ShardID]bool, len(restored))
	for shardID, shard := range restored {
		if shard == nil {
			continue
		}
		result[shardID] = &Shard{
			StreamName:     c.stream,
			ShardID:        shardID,
			SequenceNumber: shard.SequenceNumber,
		}
		ignore[shardID] = true
	}

	fresh, err := c.Discover(ctx, ignore)
	if err != nil {
		return nil, err
	}
	for shardID, shard := range fresh {
		if _, ok := result[shardID]; !ok {
			result[shardID] = shard
		}
	}

	c.logger.Info("Reconciled shards",
		zap.String("stream", c.stream),
		zap.Int("restored", len(ignore)),
		zap.Int("discovered", len(fresh)))
	return result, nil
}
