package triton

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// A CheckpointStore durably records the read position of each shard of a
// stream.
//
// Restore returns an empty mapping, not an error, when nothing has been
// stored for the stream. Modify overwrites whatever was stored for
// (stream, shard); calling it repeatedly with the same shard is harmless and
// the last write wins. Implementations must accept concurrent Modify calls for
// different shards.
type CheckpointStore interface {
	Restore(ctx context.Context, streamName string) (map[ShardID]*Shard, error)
	Modify(ctx context.Context, shard *Shard) error
}

// A DBCheckpointStore saves checkpoints in a reasonably compliant SQL
// database. On first use, it will attempt to create the table to store
// results in. Checkpoints are unique based on client and (streamName, shardID).
type DBCheckpointStore struct {
	clientName string
	db         *sql.DB
	logger     *zap.Logger
	now        func() time.Time
}

const CREATE_TABLE = `
CREATE TABLE IF NOT EXISTS triton_checkpoint (
	client VARCHAR(255),
	stream VARCHAR(255),
	shard VARCHAR(255),
	seq_num VARCHAR(255),
	updated_at BIGINT,
	PRIMARY KEY (client, stream, shard))
`

// NewDBCheckpointStore creates the checkpoint table if needed and returns a
// store scoped to clientName.
func NewDBCheckpointStore(clientName string, db *sql.DB, logger *zap.Logger) (*DBCheckpointStore, error) {
	if _, err := db.Exec(CREATE_TABLE); err != nil {
		return nil, errors.Wrap(err, "failed to initialize db")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &DBCheckpointStore{
		clientName: clientName,
		db:         db,
		logger:     logger,
		now:        time.Now,
	}, nil
}

// DB returns the database the checkpoints are kept in.
func (c *DBCheckpointStore) DB() *sql.DB {
	return c.db
}

func (c *DBCheckpointStore) Restore(ctx context.Context, streamName string) (map[ShardID]*Shard, error) {
	rows, err := c.db.QueryContext(ctx,
		"SELECT shard, seq_num FROM triton_checkpoint WHERE client=$1 AND stream=$2",
		c.clientName, streamName)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	seqs := make(ShardToSequenceNumber)
	for rows.Next() {
		var shardID, seqNum string
		if err := rows.Scan(&shardID, &seqNum); err != nil {
			return nil, err
		}
		seqs[ShardID(shardID)] = SequenceNumber(seqNum)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return seqs.Shards(streamName), nil
}

func (c *DBCheckpointStore) Modify(ctx context.Context, shard *Shard) (err error) {
	txn, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			txn.Rollback()
		}
	}()

	updatedAt := c.now().Unix()

	var exists int
	err = txn.QueryRowContext(ctx,
		"SELECT 1 FROM triton_checkpoint WHERE client=$1 AND stream=$2 AND shard=$3",
		c.clientName, shard.StreamName, string(shard.ShardID)).Scan(&exists)
	switch {
	case err == sql.ErrNoRows:
		c.logger.Debug("Creating checkpoint",
			zap.String("stream", shard.StreamName),
			zap.String("shard", string(shard.ShardID)),
			zap.String("sequence_number", string(shard.SequenceNumber)))
		_, err = txn.ExecContext(ctx,
			"INSERT INTO triton_checkpoint (client, stream, shard, seq_num, updated_at) VALUES ($1, $2, $3, $4, $5)",
			c.clientName, shard.StreamName, string(shard.ShardID), string(shard.SequenceNumber), updatedAt)
		if err != nil {
			return err
		}
	case err != nil:
		return err
	default:
		c.logger.Debug("Updating checkpoint",
			zap.String("stream", shard.StreamName),
			zap.String("shard", string(shard.ShardID)),
			zap.String("sequence_number", string(shard.SequenceNumber)))
		var res sql.Result
		res, err = txn.ExecContext(ctx,
			"UPDATE triton_checkpoint SET seq_num=$1, updated_at=$2 WHERE client=$3 AND stream=$4 AND shard=$5",
			string(shard.SequenceNumber), updatedAt, c.clientName, shard.StreamName, string(shard.ShardID))
		if err != nil {
			return err
		}
		var n int64
		n, err = res.RowsAffected()
		if err != nil {
			return err
		}
		if n <= 0 {
			err = errors.Errorf("checkpoint for %s/%s vanished during update", shard.StreamName, shard.ShardID)
			return err
		}
	}

	return txn.Commit()
}

// GetCheckpointStats reports the age in seconds of every checkpoint stored for
// clientName, keyed "client.stream.shard.age".
func GetCheckpointStats(clientName string, db *sql.DB) (map[string]int64, error) {
	rows, err := db.Query(
		"SELECT stream, shard, updated_at FROM triton_checkpoint WHERE client=$1",
		clientName)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	now := time.Now().Unix()
	stats := make(map[string]int64)
	for rows.Next() {
		var stream, shard string
		var updatedAt int64
		if err := rows.Scan(&stream, &shard, &updatedAt); err != nil {
			return nil, err
		}
		stats[fmt.Sprintf("%s.%s.%s.age", clientName, stream, shard)] = now - updatedAt
	}
	return stats, rows.Err()
}
