package triton

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testConfig = `
my_stream:
  name: my_stream_v2
  partition_key: value
  region: us-west-1
orders:
  name: orders
  region: us-east-1
  client: billing
  limit: 500
  max_pages: 3
  concurrency: 8
  checkpoint:
    backend: sqlite
    dsn: /var/lib/triton/checkpoints.db
`

func TestNewConfigFromFile(t *testing.T) {
	c, err := NewConfigFromFile(bytes.NewBufferString(testConfig))
	require.NoError(t, err)

	s, err := c.ConfigForName("my_stream")
	require.NoError(t, err)
	assert.Equal(t, "my_stream_v2", s.StreamName)
	assert.Equal(t, "us-west-1", s.RegionName)
	assert.Equal(t, "value", s.PartitionKeyName)
	assert.Equal(t, CheckpointBackendMemory, s.Checkpoint.Backend)
	assert.Equal(t, PollOptions{}, s.PollOptions())
	assert.Empty(t, s.ConsumerOptions())
}

func TestConsumerConfig(t *testing.T) {
	c, err := NewConfigFromFile(bytes.NewBufferString(testConfig))
	require.NoError(t, err)

	s, err := c.ConfigForName("orders")
	require.NoError(t, err)
	assert.Equal(t, "billing", s.ClientName)
	assert.Equal(t, CheckpointBackendSQLite, s.Checkpoint.Backend)
	assert.Equal(t, "/var/lib/triton/checkpoints.db", s.Checkpoint.DSN)
	assert.Equal(t, PollOptions{Limit: 500, MaxPages: 3, Parallel: true}, s.PollOptions())
	assert.Len(t, s.ConsumerOptions(), 1)
}

func TestMissingStream(t *testing.T) {
	c := Config{}

	_, err := c.ConfigForName("foo")
	assert.Error(t, err)
}

func TestInvalidConfig(t *testing.T) {
	_, err := NewConfigFromFile(bytes.NewBufferString("- not\n- a map\n"))
	assert.Error(t, err)
}
