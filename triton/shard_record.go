package triton

import (
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/service/kinesis"
)

// DataRecord is a single record read from a shard. It is owned by whoever
// received it from a poll and is never modified by the consumer afterwards.
type DataRecord struct {
	StreamName                  string
	ShardID                     ShardID
	SequenceNumber              SequenceNumber
	PartitionKey                string
	Data                        []byte
	ApproximateArrivalTimestamp time.Time
}

func newDataRecord(stream string, shardID ShardID, kr *kinesis.Record) *DataRecord {
	return &DataRecord{
		StreamName:                  stream,
		ShardID:                     shardID,
		SequenceNumber:              SequenceNumber(aws.StringValue(kr.SequenceNumber)),
		PartitionKey:                aws.StringValue(kr.PartitionKey),
		Data:                        kr.Data,
		ApproximateArrivalTimestamp: aws.TimeValue(kr.ApproximateArrivalTimestamp),
	}
}
