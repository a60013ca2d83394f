package tritond

import (
	"context"

	"github.com/postmates/go-triton-consumer/triton"
	"go.uber.org/zap"
)

// Forwarder polls a consumer and hands every record to a tritond client.
type Forwarder struct {
	consumer *triton.StreamConsumer
	client   Client
	logger   *zap.Logger
}

// NewForwarder creates a Forwarder for an initialized consumer.
func NewForwarder(consumer *triton.StreamConsumer, client Client, logger *zap.Logger) *Forwarder {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Forwarder{
		consumer: consumer,
		client:   client,
		logger:   logger.With(zap.String("stream", consumer.StreamName())),
	}
}

// Forward polls once and puts the records in order. Only records the client
// accepted are checkpointed, so a failed put leaves the rest to be delivered
// again after a restart. It returns the number of records forwarded.
//
// After an error the consumer has moved past records that were not
// forwarded; the caller should stop and let the next process resume from the
// checkpoints.
func (f *Forwarder) Forward(ctx context.Context, opts triton.PollOptions) (int, error) {
	records, pollErr := f.consumer.Poll(ctx, opts)

	lastSent := make(map[triton.ShardID]*triton.DataRecord)
	var sent int
	var putErr error
	for _, rec := range records {
		if putErr = f.client.Put(ctx, rec); putErr != nil {
			break
		}
		lastSent[rec.ShardID] = rec
		sent++
	}

	for _, rec := range lastSent {
		if err := f.consumer.CheckpointRecord(ctx, rec); err != nil {
			return sent, err
		}
	}

	if putErr != nil {
		f.logger.Error("Failed to forward record", zap.Int("sent", sent), zap.Error(putErr))
		return sent, putErr
	}
	if pollErr != nil {
		return sent, pollErr
	}
	f.logger.Debug("Forwarded records", zap.Int("sent", sent))
	return sent, nil
}
