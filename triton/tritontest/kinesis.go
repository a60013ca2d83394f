// Package tritontest provides an in-memory Kinesis service for tests.
package tritontest

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/request"
	"github.com/aws/aws-sdk-go/service/kinesis"
)

// Operation names used by Calls and SetError
const (
	OpDescribeStream   = "DescribeStream"
	OpGetShardIterator = "GetShardIterator"
	OpGetRecords       = "GetRecords"
)

// Record is a record stored in a test shard
type Record struct {
	SequenceNumber string
	PartitionKey   string
	Data           []byte
	Arrival        time.Time
}

// Shard is a test shard. A closed shard stops handing out iterators once its
// records are exhausted, like a parent shard after a split.
type Shard struct {
	ID                     string
	StartingSequenceNumber string
	Records                []Record
	Closed                 bool
}

// Call records the interesting parts of a request the service received.
type Call struct {
	Op                     string
	Stream                 string
	ShardID                string
	IteratorType           string
	StartingSequenceNumber string
	ExclusiveStartShardID  string
	Limit                  int64
	Returned               int
}

type injectedError struct {
	after int
	err   error
}

// KinesisService is a scripted, in-memory stand in for the parts of the
// Kinesis API a consumer uses. Iterators are "stream|shard|index" where index
// is the position of the next record to hand out.
type KinesisService struct {
	// DescribePageSize is the number of shards per DescribeStream page, all
	// of them when zero.
	DescribePageSize int
	// PageSize caps the records returned by one GetRecords call when set.
	PageSize int
	// AlwaysMoreShards makes DescribeStream claim there are more shards on
	// every page.
	AlwaysMoreShards bool
	// BeforeGetRecords, when set, runs before every GetRecords call.
	BeforeGetRecords func(ctx context.Context, shardID string)

	mu      sync.Mutex
	streams map[string][]*Shard
	errs    map[string]*injectedError
	counts  map[string]int
	calls   []Call
}

// NewKinesisService creates an empty service
func NewKinesisService() *KinesisService {
	return &KinesisService{
		streams: make(map[string][]*Shard),
		errs:    make(map[string]*injectedError),
		counts:  make(map[string]int),
	}
}

// AddStream adds a stream with shards in describe order.
func (s *KinesisService) AddStream(name string, shards ...*Shard) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.streams[name] = append(s.streams[name], shards...)
}

// AddRecords appends records to a shard.
func (s *KinesisService) AddRecords(stream, shardID string, records ...Record) {
	s.mu.Lock()
	defer s.mu.Unlock()
	shard := s.shard(stream, shardID)
	if shard == nil {
		panic(fmt.Sprintf("no shard %s/%s", stream, shardID))
	}
	shard.Records = append(shard.Records, records...)
}

// SetError makes the op fail with err after it succeeded after times. A nil
// err clears the injected failure.
func (s *KinesisService) SetError(op string, after int, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err == nil {
		delete(s.errs, op)
		return
	}
	s.errs[op] = &injectedError{after: after, err: err}
	s.counts[op] = 0
}

// Calls returns the calls made for op, or every call when op is empty.
func (s *KinesisService) Calls(op string) []Call {
	s.mu.Lock()
	defer s.mu.Unlock()
	var result []Call
	for _, c := range s.calls {
		if op == "" || c.Op == op {
			result = append(result, c)
		}
	}
	return result
}

// ResetCalls forgets the recorded calls.
func (s *KinesisService) ResetCalls() {
	s.mu.Lock()
	s.calls = nil
	s.mu.Unlock()
}

func (s *KinesisService) shard(stream, shardID string) *Shard {
	for _, shard := range s.streams[stream] {
		if shard.ID == shardID {
			return shard
		}
	}
	return nil
}

// fail returns the injected error for op, if it is due. Callers hold mu.
func (s *KinesisService) fail(op string) error {
	ie, ok := s.errs[op]
	if !ok {
		return nil
	}
	if s.counts[op] < ie.after {
		s.counts[op]++
		return nil
	}
	return ie.err
}

func canceled(ctx aws.Context) error {
	if err := ctx.Err(); err != nil {
		return awserr.New(request.CanceledErrorCode, "request context canceled", err)
	}
	return nil
}

func notFound(format string, args ...interface{}) error {
	return awserr.New(kinesis.ErrCodeResourceNotFoundException, fmt.Sprintf(format, args...), nil)
}

func (s *KinesisService) DescribeStreamWithContext(ctx aws.Context, input *kinesis.DescribeStreamInput, _ ...request.Option) (*kinesis.DescribeStreamOutput, error) {
	if err := canceled(ctx); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	stream := aws.StringValue(input.StreamName)
	s.calls = append(s.calls, Call{
		Op:                    OpDescribeStream,
		Stream:                stream,
		ExclusiveStartShardID: aws.StringValue(input.ExclusiveStartShardId),
	})
	if err := s.fail(OpDescribeStream); err != nil {
		return nil, err
	}

	shards, ok := s.streams[stream]
	if !ok {
		return nil, notFound("stream %s not found", stream)
	}

	start := 0
	if input.ExclusiveStartShardId != nil {
		for i, shard := range shards {
			if shard.ID == *input.ExclusiveStartShardId {
				start = i + 1
				break
			}
		}
	}
	end := len(shards)
	if s.DescribePageSize > 0 && start+s.DescribePageSize < end {
		end = start + s.DescribePageSize
	}

	desc := &kinesis.StreamDescription{
		StreamName:    aws.String(stream),
		StreamARN:     aws.String("arn:aws:kinesis:us-west-1:000000000000:stream/" + stream),
		StreamStatus:  aws.String(kinesis.StreamStatusActive),
		HasMoreShards: aws.Bool(end < len(shards) || s.AlwaysMoreShards),
	}
	for _, shard := range shards[start:end] {
		ks := &kinesis.Shard{
			ShardId:             aws.String(shard.ID),
			SequenceNumberRange: &kinesis.SequenceNumberRange{},
		}
		if shard.StartingSequenceNumber != "" {
			ks.SequenceNumberRange.StartingSequenceNumber = aws.String(shard.StartingSequenceNumber)
		}
		desc.Shards = append(desc.Shards, ks)
	}
	return &kinesis.DescribeStreamOutput{StreamDescription: desc}, nil
}

func (s *KinesisService) GetShardIteratorWithContext(ctx aws.Context, input *kinesis.GetShardIteratorInput, _ ...request.Option) (*kinesis.GetShardIteratorOutput, error) {
	if err := canceled(ctx); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	stream, shardID := aws.StringValue(input.StreamName), aws.StringValue(input.ShardId)
	s.calls = append(s.calls, Call{
		Op:                     OpGetShardIterator,
		Stream:                 stream,
		ShardID:                shardID,
		IteratorType:           aws.StringValue(input.ShardIteratorType),
		StartingSequenceNumber: aws.StringValue(input.StartingSequenceNumber),
	})
	if err := s.fail(OpGetShardIterator); err != nil {
		return nil, err
	}

	shard := s.shard(stream, shardID)
	if shard == nil {
		return nil, notFound("shard %s/%s not found", stream, shardID)
	}

	index := 0
	switch aws.StringValue(input.ShardIteratorType) {
	case kinesis.ShardIteratorTypeTrimHorizon:
	case kinesis.ShardIteratorTypeAfterSequenceNumber:
		after := aws.StringValue(input.StartingSequenceNumber)
		index = len(shard.Records)
		for i, r := range shard.Records {
			if CompareSequenceNumbers(r.SequenceNumber, after) > 0 {
				index = i
				break
			}
		}
	case kinesis.ShardIteratorTypeLatest:
		index = len(shard.Records)
	default:
		return nil, awserr.New(kinesis.ErrCodeInvalidArgumentException, "unsupported iterator type", nil)
	}

	return &kinesis.GetShardIteratorOutput{
		ShardIterator: aws.String(fmt.Sprintf("%s|%s|%d", stream, shardID, index)),
	}, nil
}

func (s *KinesisService) GetRecordsWithContext(ctx aws.Context, input *kinesis.GetRecordsInput, _ ...request.Option) (*kinesis.GetRecordsOutput, error) {
	parts := strings.Split(aws.StringValue(input.ShardIterator), "|")
	if len(parts) != 3 {
		return nil, awserr.New(kinesis.ErrCodeInvalidArgumentException, "invalid shard iterator", nil)
	}
	stream, shardID := parts[0], parts[1]
	index, err := strconv.Atoi(parts[2])
	if err != nil {
		return nil, awserr.New(kinesis.ErrCodeInvalidArgumentException, "invalid shard iterator", err)
	}

	if s.BeforeGetRecords != nil {
		s.BeforeGetRecords(ctx, shardID)
	}
	if err := canceled(ctx); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	call := Call{Op: OpGetRecords, Stream: stream, ShardID: shardID, Limit: aws.Int64Value(input.Limit)}
	if err := s.fail(OpGetRecords); err != nil {
		s.calls = append(s.calls, call)
		return nil, err
	}

	shard := s.shard(stream, shardID)
	if shard == nil {
		s.calls = append(s.calls, call)
		return nil, notFound("shard %s/%s not found", stream, shardID)
	}

	limit := int(aws.Int64Value(input.Limit))
	if limit <= 0 || limit > 10000 {
		limit = 10000
	}
	if s.PageSize > 0 && limit > s.PageSize {
		limit = s.PageSize
	}
	end := index + limit
	if end > len(shard.Records) {
		end = len(shard.Records)
	}
	if index > end {
		index = end
	}

	out := &kinesis.GetRecordsOutput{MillisBehindLatest: aws.Int64(0)}
	for _, r := range shard.Records[index:end] {
		kr := &kinesis.Record{
			SequenceNumber: aws.String(r.SequenceNumber),
			PartitionKey:   aws.String(r.PartitionKey),
			Data:           r.Data,
		}
		if !r.Arrival.IsZero() {
			kr.ApproximateArrivalTimestamp = aws.Time(r.Arrival)
		}
		out.Records = append(out.Records, kr)
	}
	if !shard.Closed || end < len(shard.Records) {
		out.NextShardIterator = aws.String(fmt.Sprintf("%s|%s|%d", stream, shardID, end))
	}

	call.Returned = len(out.Records)
	s.calls = append(s.calls, call)
	return out, nil
}

// CompareSequenceNumbers orders decimal sequence numbers of any length.
func CompareSequenceNumbers(a, b string) int {
	switch {
	case len(a) != len(b):
		if len(a) < len(b) {
			return -1
		}
		return 1
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

// Records builds n records with consecutive sequence numbers starting at
// first, each carrying its sequence number as data.
func Records(first, n int) []Record {
	records := make([]Record, 0, n)
	for i := first; i < first+n; i++ {
		seq := strconv.Itoa(i)
		records = append(records, Record{
			SequenceNumber: seq,
			PartitionKey:   "pk-" + seq,
			Data:           []byte("data-" + seq),
		})
	}
	return records
}
