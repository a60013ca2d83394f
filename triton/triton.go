// Package triton provides an opinionated, checkpointed consumer for Kinesis
// streams.
//
// A StreamConsumer tracks the read position of every shard of one stream. It
// restores positions from a CheckpointStore, discovers shards the store does
// not know about, and polls records in bounded batches. Positions are only
// persisted when the caller asks for a checkpoint, which gives at-least-once
// delivery: records polled but not checkpointed before a crash are delivered
// again after restart.
package triton

import (
	"time"

	"github.com/pkg/errors"
	"github.com/tinylib/msgp/msgp"
)

// Keys of the msgp map a DataRecord is encoded to.
const (
	recordKeyStream       = "stream"
	recordKeyShard        = "shard"
	recordKeySequence     = "seq"
	recordKeyPartitionKey = "partition_key"
	recordKeyData         = "data"
	recordKeyTimestamp    = "ts"
)

// MarshalDataRecord appends the msgp encoding of r to b.
func MarshalDataRecord(b []byte, r *DataRecord) ([]byte, error) {
	var ts int64
	if !r.ApproximateArrivalTimestamp.IsZero() {
		ts = r.ApproximateArrivalTimestamp.UnixNano()
	}
	return msgp.AppendMapStrIntf(b, map[string]interface{}{
		recordKeyStream:       r.StreamName,
		recordKeyShard:        string(r.ShardID),
		recordKeySequence:     string(r.SequenceNumber),
		recordKeyPartitionKey: r.PartitionKey,
		recordKeyData:         r.Data,
		recordKeyTimestamp:    ts,
	})
}

// UnmarshalDataRecord decodes a record produced by MarshalDataRecord.
func UnmarshalDataRecord(data []byte) (*DataRecord, error) {
	m, _, err := msgp.ReadMapStrIntfBytes(data, nil)
	if err != nil {
		return nil, err
	}
	return dataRecordFromMap(m)
}

func dataRecordFromMap(m map[string]interface{}) (r *DataRecord, err error) {
	r = &DataRecord{}
	if r.StreamName, err = stringField(m, recordKeyStream); err != nil {
		return nil, err
	}
	shard, err := stringField(m, recordKeyShard)
	if err != nil {
		return nil, err
	}
	r.ShardID = ShardID(shard)
	seq, err := stringField(m, recordKeySequence)
	if err != nil {
		return nil, err
	}
	r.SequenceNumber = SequenceNumber(seq)
	if r.PartitionKey, err = stringField(m, recordKeyPartitionKey); err != nil {
		return nil, err
	}

	switch data := m[recordKeyData].(type) {
	case []byte:
		r.Data = data
	case string:
		r.Data = []byte(data)
	case nil:
	default:
		return nil, errors.Errorf("unexpected type %T for %q", data, recordKeyData)
	}

	switch ts := m[recordKeyTimestamp].(type) {
	case int64:
		if ts != 0 {
			r.ApproximateArrivalTimestamp = time.Unix(0, ts)
		}
	case uint64:
		if ts != 0 {
			r.ApproximateArrivalTimestamp = time.Unix(0, int64(ts))
		}
	case nil:
	default:
		return nil, errors.Errorf("unexpected type %T for %q", ts, recordKeyTimestamp)
	}
	return r, nil
}

func stringField(m map[string]interface{}, key string) (string, error) {
	switch v := m[key].(type) {
	case string:
		return v, nil
	case []byte:
		return string(v), nil
	case nil:
		return "", nil
	default:
		return "", errors.Errorf("unexpected type %T for %q", v, key)
	}
}
