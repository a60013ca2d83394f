package triton

import (
	"context"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/service/kinesis"
	"go.uber.org/zap"
)

const (
	// Read from the oldest record still available in the shard
	shardIteratorTypeTrimHorizon = kinesis.ShardIteratorTypeTrimHorizon
	// Read the records after this sequence number
	shardIteratorTypeAfterSequenceNumber = kinesis.ShardIteratorTypeAfterSequenceNumber
	// The most records a single GetRecords call may ask for
	maxGetRecordsLimit = 10000

	// DefaultPollLimit is the number of records a poll returns per shard at most
	DefaultPollLimit = 1000
	// DefaultMaxPages is the number of GetRecords calls a poll makes per shard at most
	DefaultMaxPages = 5
)

// ShardReader pulls bounded batches of records from a single shard.
type ShardReader struct {
	kinesisService KinesisService
	logger         *zap.Logger
}

// NewShardReader creates a new ShardReader
func NewShardReader(svc KinesisService, logger *zap.Logger) *ShardReader {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ShardReader{
		kinesisService: svc,
		logger:         logger,
	}
}

// Read returns up to limit records that follow the shard's position, using at
// most maxPages GetRecords calls. It stops early once a page comes back empty
// or the shard is closed; fewer than limit records is not an error.
//
// Read does not touch shard. If the context is cancelled between pages, or a
// page fails, the records gathered so far are returned along with the error.
func (r *ShardReader) Read(ctx context.Context, shard *Shard, limit, maxPages int) (records []*DataRecord, err error) {
	if limit <= 0 || maxPages <= 0 {
		return nil, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	iterator, err := r.shardIterator(ctx, shard)
	if err != nil {
		return nil, err
	}

	pages := 0
	for pages < maxPages {
		if err := ctx.Err(); err != nil {
			return records, err
		}

		want := limit - len(records)
		if want > maxGetRecordsLimit {
			want = maxGetRecordsLimit
		}
		gro, err := r.kinesisService.GetRecordsWithContext(ctx, &kinesis.GetRecordsInput{
			Limit:         aws.Int64(int64(want)),
			ShardIterator: aws.String(iterator),
		})
		if err != nil {
			return records, &TransportError{Op: "GetRecords", Stream: shard.StreamName, ShardID: shard.ShardID, Err: err}
		}
		pages++

		for _, kr := range gro.Records {
			if len(records) >= limit {
				break
			}
			records = append(records, newDataRecord(shard.StreamName, shard.ShardID, kr))
		}

		if len(records) >= limit || len(gro.Records) == 0 {
			break
		}
		// A closed shard has no next iterator
		if gro.NextShardIterator == nil {
			break
		}
		iterator = *gro.NextShardIterator
	}

	r.logger.Debug("Read shard",
		zap.String("stream", shard.StreamName),
		zap.String("shard", string(shard.ShardID)),
		zap.Int("pages", pages),
		zap.Int("records", len(records)))
	return records, nil
}

// shardIterator asks for an iterator positioned right after the shard's
// recorded sequence number, or at TRIM_HORIZON when nothing is recorded.
func (r *ShardReader) shardIterator(ctx context.Context, shard *Shard) (string, error) {
	gsi := &kinesis.GetShardIteratorInput{
		StreamName: aws.String(shard.StreamName),
		ShardId:    aws.String(string(shard.ShardID)),
	}
	if shard.HasPosition() {
		gsi.ShardIteratorType = aws.String(shardIteratorTypeAfterSequenceNumber)
		gsi.StartingSequenceNumber = aws.String(string(shard.SequenceNumber))
	} else {
		gsi.ShardIteratorType = aws.String(shardIteratorTypeTrimHorizon)
	}

	r.logger.Debug("Opening shard iterator",
		zap.String("stream", shard.StreamName),
		zap.String("shard", string(shard.ShardID)),
		zap.String("type", *gsi.ShardIteratorType),
		zap.String("sequence_number", string(shard.SequenceNumber)))

	gso, err := r.kinesisService.GetShardIteratorWithContext(ctx, gsi)
	if err != nil {
		return "", &TransportError{Op: "GetShardIterator", Stream: shard.StreamName, ShardID: shard.ShardID, Err: err}
	}
	return aws.StringValue(gso.ShardIterator), nil
}
