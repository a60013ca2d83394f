package triton

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"

	_ "github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sqlmock "gopkg.in/DATA-DOG/go-sqlmock.v1"
)

func openTestDB(t *testing.T) *sql.DB {
	db, err := sql.Open("sqlite3", filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })
	return db
}

func newTestDBStore(t *testing.T, clientName string, db *sql.DB) *DBCheckpointStore {
	c, err := NewDBCheckpointStore(clientName, db, nil)
	require.NoError(t, err)
	return c
}

func TestDBCheckpointStoreEmpty(t *testing.T) {
	c := newTestDBStore(t, "test", openTestDB(t))

	shards, err := c.Restore(context.Background(), "test-stream")
	require.NoError(t, err)
	assert.Empty(t, shards)
}

func TestDBCheckpointStoreModify(t *testing.T) {
	c := newTestDBStore(t, "test", openTestDB(t))
	ctx := context.Background()

	require.NoError(t, c.Modify(ctx, &Shard{StreamName: "test-stream", ShardID: "shardId-0000", SequenceNumber: "1234"}))

	shards, err := c.Restore(ctx, "test-stream")
	require.NoError(t, err)
	require.Len(t, shards, 1)
	assert.Equal(t, &Shard{StreamName: "test-stream", ShardID: "shardId-0000", SequenceNumber: "1234"}, shards["shardId-0000"])
}

func TestDBCheckpointStoreUpdate(t *testing.T) {
	c := newTestDBStore(t, "test", openTestDB(t))
	ctx := context.Background()

	require.NoError(t, c.Modify(ctx, &Shard{StreamName: "test-stream", ShardID: "shardId-0000", SequenceNumber: "1234"}))
	require.NoError(t, c.Modify(ctx, &Shard{StreamName: "test-stream", ShardID: "shardId-0000", SequenceNumber: "51234"}))
	// Writing the same position again is harmless
	require.NoError(t, c.Modify(ctx, &Shard{StreamName: "test-stream", ShardID: "shardId-0000", SequenceNumber: "51234"}))

	shards, err := c.Restore(ctx, "test-stream")
	require.NoError(t, err)
	require.Len(t, shards, 1)
	assert.Equal(t, SequenceNumber("51234"), shards["shardId-0000"].SequenceNumber)
}

func TestDBCheckpointStoreScoping(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	a := newTestDBStore(t, "a", db)
	b := newTestDBStore(t, "b", db)

	require.NoError(t, a.Modify(ctx, &Shard{StreamName: "s1", ShardID: "0", SequenceNumber: "1"}))
	require.NoError(t, a.Modify(ctx, &Shard{StreamName: "s2", ShardID: "0", SequenceNumber: "2"}))
	require.NoError(t, b.Modify(ctx, &Shard{StreamName: "s1", ShardID: "0", SequenceNumber: "3"}))

	shards, err := a.Restore(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, SequenceNumber("1"), shards["0"].SequenceNumber)

	shards, err = a.Restore(ctx, "s2")
	require.NoError(t, err)
	assert.Equal(t, SequenceNumber("2"), shards["0"].SequenceNumber)

	shards, err = b.Restore(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, SequenceNumber("3"), shards["0"].SequenceNumber)
}

func TestStats(t *testing.T) {
	db := openTestDB(t)
	c := newTestDBStore(t, "test", db)

	require.NoError(t, c.Modify(context.Background(), &Shard{StreamName: "test-stream", ShardID: "shardId-0000", SequenceNumber: "1234"}))

	stats, err := GetCheckpointStats("test", db)
	require.NoError(t, err)

	v, ok := stats["test.test-stream.shardId-0000.age"]
	require.True(t, ok, "Failed to find value")
	assert.True(t, v >= 0 && v <= 1, "Bad value, should be basically 0: %d", v)
}

func newMockDBStore(t *testing.T) (*DBCheckpointStore, sqlmock.Sqlmock) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS triton_checkpoint").WillReturnResult(sqlmock.NewResult(0, 0))
	return newTestDBStore(t, "test", db), mock
}

func TestDBCheckpointStoreCreateTableError(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec("CREATE TABLE").WillReturnError(errors.New("permission denied"))
	_, err = NewDBCheckpointStore("test", db, nil)
	assert.EqualError(t, err, "failed to initialize db: permission denied")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDBCheckpointStoreRestoreError(t *testing.T) {
	c, mock := newMockDBStore(t)
	boom := errors.New("connection reset")
	mock.ExpectQuery("SELECT shard, seq_num FROM triton_checkpoint").
		WithArgs("test", testStream).
		WillReturnError(boom)

	consumer := NewStreamConsumer(newOrdersService(), c, testStream)
	err := consumer.Initialize(context.Background())

	var se *CheckpointStoreError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, "restore", se.Op)
	assert.Equal(t, boom, errors.Cause(err))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDBCheckpointStoreModifyRollsBack(t *testing.T) {
	c, mock := newMockDBStore(t)
	boom := errors.New("deadlock")
	mock.ExpectBegin()
	mock.ExpectQuery("SELECT 1 FROM triton_checkpoint").
		WithArgs("test", testStream, "0").
		WillReturnRows(sqlmock.NewRows([]string{"1"}))
	mock.ExpectExec("INSERT INTO triton_checkpoint").
		WillReturnError(boom)
	mock.ExpectRollback()

	err := c.Modify(context.Background(), &Shard{StreamName: testStream, ShardID: "0", SequenceNumber: "5"})
	assert.Equal(t, boom, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDBCheckpointStoreModifyVanished(t *testing.T) {
	c, mock := newMockDBStore(t)
	mock.ExpectBegin()
	mock.ExpectQuery("SELECT 1 FROM triton_checkpoint").
		WithArgs("test", testStream, "0").
		WillReturnRows(sqlmock.NewRows([]string{"1"}).AddRow(1))
	mock.ExpectExec("UPDATE triton_checkpoint").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	err := c.Modify(context.Background(), &Shard{StreamName: testStream, ShardID: "0", SequenceNumber: "5"})
	assert.Error(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDBCheckpointStoreModifyCommits(t *testing.T) {
	c, mock := newMockDBStore(t)
	mock.ExpectBegin()
	mock.ExpectQuery("SELECT 1 FROM triton_checkpoint").
		WithArgs("test", testStream, "0").
		WillReturnRows(sqlmock.NewRows([]string{"1"}).AddRow(1))
	mock.ExpectExec("UPDATE triton_checkpoint").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := c.Modify(context.Background(), &Shard{StreamName: testStream, ShardID: "0", SequenceNumber: "5"})
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMemoryCheckpointStore(t *testing.T) {
	m := NewMemoryCheckpointStore()
	ctx := context.Background()

	shards, err := m.Restore(ctx, "test-stream")
	require.NoError(t, err)
	assert.Empty(t, shards)

	shard := &Shard{StreamName: "test-stream", ShardID: "0", SequenceNumber: "1"}
	require.NoError(t, m.Modify(ctx, shard))
	shard.SequenceNumber = "2"

	shards, err = m.Restore(ctx, "test-stream")
	require.NoError(t, err)
	assert.Equal(t, SequenceNumber("1"), shards["0"].SequenceNumber)

	shards["0"].SequenceNumber = "3"
	shards, err = m.Restore(ctx, "test-stream")
	require.NoError(t, err)
	assert.Equal(t, SequenceNumber("1"), shards["0"].SequenceNumber)

	shards, err = m.Restore(ctx, "other-stream")
	require.NoError(t, err)
	assert.Empty(t, shards)
}
