package triton

import (
	"context"
	"sync"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// DefaultMaxConcurrency is the number of shards a parallel poll reads at once.
const DefaultMaxConcurrency = 10

// Option configures a StreamConsumer
type Option func(c *StreamConsumer)

// WithLogger sets the logger used by the consumer and its collaborators.
func WithLogger(logger *zap.Logger) Option {
	return func(c *StreamConsumer) {
		c.logger = logger
	}
}

// WithMaxConcurrency bounds the number of shards a parallel poll reads at
// once. A value below one disables parallel polls entirely.
func WithMaxConcurrency(n int) Option {
	return func(c *StreamConsumer) {
		c.maxConcurrency = n
	}
}

// WithMaxDescribePages bounds the number of DescribeStream pages a discovery
// may walk through.
func WithMaxDescribePages(n int) Option {
	return func(c *StreamConsumer) {
		c.maxDescribePages = n
	}
}

// PollOptions select what a call to Poll reads. Zero values take the
// defaults.
type PollOptions struct {
	ShardID  ShardID // Only poll this shard when set
	Limit    int     // Records per shard, DefaultPollLimit when zero
	MaxPages int     // GetRecords calls per shard, DefaultMaxPages when zero
	Parallel bool    // Read shards concurrently
}

// trackedShard guards a shard's position so that only one read is in flight
// per shard.
type trackedShard struct {
	mu    sync.Mutex
	shard *Shard
}

// StreamConsumer polls records from every shard of one stream and checkpoints
// their positions.
//
// Poll moves a shard's in-memory position to the last record it returned, but
// never persists it. Positions are written only by Checkpoint and
// CheckpointAll, so a caller that checkpoints after it has durably handled the
// polled records gets at-least-once delivery: after a crash, anything polled
// since the last checkpoint is delivered again.
type StreamConsumer struct {
	stream           string
	store            CheckpointStore
	catalog          *ShardCatalog
	reader           *ShardReader
	logger           *zap.Logger
	maxConcurrency   int
	maxDescribePages int

	mu          sync.RWMutex
	initialized bool
	shards      map[ShardID]*trackedShard
}

// NewStreamConsumer returns an uninitialized consumer for stream. Call
// Initialize before polling.
func NewStreamConsumer(svc KinesisService, store CheckpointStore, stream string, opts ...Option) *StreamConsumer {
	c := &StreamConsumer{
		stream:         stream,
		store:          store,
		maxConcurrency: DefaultMaxConcurrency,
		shards:         make(map[ShardID]*trackedShard),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.logger == nil {
		c.logger = zap.NewNop()
	}
	c.logger = c.logger.With(zap.String("stream", stream))

	c.catalog = NewShardCatalog(&ShardCatalogParams{
		KinesisService:   svc,
		Store:            store,
		Stream:           stream,
		MaxDescribePages: c.maxDescribePages,
		Logger:           c.logger,
	})
	c.reader = NewShardReader(svc, c.logger)
	return c
}

// StreamName returns the name of the consumed stream.
func (c *StreamConsumer) StreamName() string {
	return c.stream
}

// Initialize restores checkpoints, discovers the stream's shards and starts
// tracking them. Calling it again replaces the tracked positions with the
// reconciled ones; use Resync to pick up new shards without that.
func (c *StreamConsumer) Initialize(ctx context.Context) error {
	shards, err := c.catalog.Reconcile(ctx)
	if err != nil {
		return err
	}

	tracked := make(map[ShardID]*trackedShard, len(shards))
	for shardID, shard := range shards {
		tracked[shardID] = &trackedShard{shard: shard}
	}

	c.mu.Lock()
	c.shards = tracked
	c.initialized = true
	c.mu.Unlock()

	c.logger.Info("Initialized consumer", zap.Int("shards", len(tracked)))
	return nil
}

// Resync reconciles again and starts tracking shards that appeared since the
// last reconcile, such as the children of a split. Positions of shards that
// are already tracked are left alone. It returns the IDs of the added shards.
func (c *StreamConsumer) Resync(ctx context.Context) ([]ShardID, error) {
	if !c.isInitialized() {
		return nil, ErrNotInitialized
	}

	shards, err := c.catalog.Reconcile(ctx)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	var added []ShardID
	for _, shardID := range sortedShardIDs(shards) {
		if _, ok := c.shards[shardID]; ok {
			continue
		}
		c.shards[shardID] = &trackedShard{shard: shards[shardID]}
		added = append(added, shardID)
	}
	if len(added) > 0 {
		c.logger.Info("Tracking new shards", zap.Int("added", len(added)))
	}
	return added, nil
}

// Shards returns a snapshot of the tracked shards ordered by shard ID.
func (c *StreamConsumer) Shards() ([]*Shard, error) {
	targets, err := c.targets("")
	if err != nil {
		return nil, err
	}
	result := make([]*Shard, 0, len(targets))
	for _, t := range targets {
		t.mu.Lock()
		result = append(result, t.shard.Copy())
		t.mu.Unlock()
	}
	return result, nil
}

// Poll reads records from the tracked shards, or only from opts.ShardID, and
// moves each shard's position to the last record returned for it. Records of
// one shard keep their order; records of different shards are not ordered
// relative to each other.
//
// On error, Poll still returns the records whose positions were advanced, so
// that nothing is skipped. Positions are not persisted; see Checkpoint.
func (c *StreamConsumer) Poll(ctx context.Context, opts PollOptions) ([]*DataRecord, error) {
	targets, err := c.targets(opts.ShardID)
	if err != nil {
		return nil, err
	}
	if opts.Parallel && c.maxConcurrency < 1 {
		return nil, ErrConcurrencyUnsupported
	}
	if opts.Limit <= 0 {
		opts.Limit = DefaultPollLimit
	}
	if opts.MaxPages <= 0 {
		opts.MaxPages = DefaultMaxPages
	}

	if opts.Parallel {
		return c.pollParallel(ctx, targets, opts)
	}

	var records []*DataRecord
	for _, t := range targets {
		if err := ctx.Err(); err != nil {
			return records, err
		}
		recs, err := c.pollShard(ctx, t, opts)
		records = append(records, recs...)
		if err != nil {
			return records, err
		}
	}
	return records, nil
}

func (c *StreamConsumer) pollParallel(ctx context.Context, targets []*trackedShard, opts PollOptions) ([]*DataRecord, error) {
	var (
		mu      sync.Mutex
		records []*DataRecord
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.maxConcurrency)
	for _, t := range targets {
		t := t
		g.Go(func() error {
			recs, err := c.pollShard(gctx, t, opts)
			mu.Lock()
			records = append(records, recs...)
			mu.Unlock()
			return err
		})
	}
	err := g.Wait()
	return records, err
}

func (c *StreamConsumer) pollShard(ctx context.Context, t *trackedShard, opts PollOptions) ([]*DataRecord, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	records, err := c.reader.Read(ctx, t.shard.Copy(), opts.Limit, opts.MaxPages)
	if n := len(records); n > 0 {
		t.shard.SequenceNumber = records[n-1].SequenceNumber
	}
	return records, err
}

// Checkpoint persists the current position of a tracked shard. Shards with
// no recorded position yet are skipped.
func (c *StreamConsumer) Checkpoint(ctx context.Context, shardID ShardID) error {
	targets, err := c.targets(shardID)
	if err != nil {
		return err
	}
	return c.checkpoint(ctx, targets[0])
}

// CheckpointAll persists the current position of every tracked shard,
// stopping at the first failure.
func (c *StreamConsumer) CheckpointAll(ctx context.Context) error {
	targets, err := c.targets("")
	if err != nil {
		return err
	}
	for _, t := range targets {
		if err := c.checkpoint(ctx, t); err != nil {
			return err
		}
	}
	return nil
}

// CheckpointRecord persists the position of rec's shard as rec itself,
// regardless of how far the shard has been polled. It lets a caller commit
// progress record by record.
func (c *StreamConsumer) CheckpointRecord(ctx context.Context, rec *DataRecord) error {
	if _, err := c.targets(rec.ShardID); err != nil {
		return err
	}
	return c.modify(ctx, &Shard{
		StreamName:     c.stream,
		ShardID:        rec.ShardID,
		SequenceNumber: rec.SequenceNumber,
	})
}

func (c *StreamConsumer) checkpoint(ctx context.Context, t *trackedShard) error {
	t.mu.Lock()
	shard := t.shard.Copy()
	t.mu.Unlock()

	if !shard.HasPosition() {
		c.logger.Debug("Skipping checkpoint", zap.String("shard", string(shard.ShardID)))
		return nil
	}
	return c.modify(ctx, shard)
}

func (c *StreamConsumer) modify(ctx context.Context, shard *Shard) error {
	if err := c.store.Modify(ctx, shard); err != nil {
		return &CheckpointStoreError{Op: "modify", Stream: c.stream, ShardID: shard.ShardID, Err: err}
	}
	c.logger.Debug("Checkpointed shard",
		zap.String("shard", string(shard.ShardID)),
		zap.String("sequence_number", string(shard.SequenceNumber)))
	return nil
}

func (c *StreamConsumer) isInitialized() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.initialized
}

// targets returns the tracked shard with shardID, or all tracked shards in
// shard ID order when shardID is empty.
func (c *StreamConsumer) targets(shardID ShardID) ([]*trackedShard, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if !c.initialized {
		return nil, ErrNotInitialized
	}

	if shardID != "" {
		t, ok := c.shards[shardID]
		if !ok {
			return nil, errors.Wrapf(ErrUnknownShard, "%s/%s", c.stream, shardID)
		}
		return []*trackedShard{t}, nil
	}

	targets := make([]*trackedShard, 0, len(c.shards))
	ids := make(map[ShardID]*Shard, len(c.shards))
	for id, t := range c.shards {
		ids[id] = t.shard
	}
	for _, id := range sortedShardIDs(ids) {
		targets = append(targets, c.shards[id])
	}
	return targets, nil
}
