package triton

import (
	"io"
	"io/ioutil"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v2"
)

// Checkpoint backends understood by CheckpointConfig
const (
	CheckpointBackendMemory   = "memory"
	CheckpointBackendSQLite   = "sqlite"
	CheckpointBackendPostgres = "postgres"
	CheckpointBackendFile     = "file"
	CheckpointBackendRedis    = "redis"
)

// CheckpointConfig selects where a stream's read positions are kept.
type CheckpointConfig struct {
	Backend     string `yaml:"backend"`
	DSN         string `yaml:"dsn"`
	Dir         string `yaml:"dir"`
	RedisAddr   string `yaml:"redis_addr"`
	RedisPrefix string `yaml:"redis_prefix"`
}

type StreamConfig struct {
	StreamName       string           `yaml:"name"`
	RegionName       string           `yaml:"region"`
	PartitionKeyName string           `yaml:"partition_key"`
	ClientName       string           `yaml:"client"`
	Limit            int              `yaml:"limit"`
	MaxPages         int              `yaml:"max_pages"`
	Concurrency      int              `yaml:"concurrency"`
	Checkpoint       CheckpointConfig `yaml:"checkpoint"`
}

// PollOptions returns the poll settings of the stream. Parallel polling is
// selected when more than one shard may be read at once.
func (sc *StreamConfig) PollOptions() PollOptions {
	return PollOptions{
		Limit:    sc.Limit,
		MaxPages: sc.MaxPages,
		Parallel: sc.Concurrency > 1,
	}
}

// ConsumerOptions returns the consumer options the stream's settings imply.
func (sc *StreamConfig) ConsumerOptions() []Option {
	var opts []Option
	if sc.Concurrency != 0 {
		opts = append(opts, WithMaxConcurrency(sc.Concurrency))
	}
	return opts
}

type Config struct {
	Streams map[string]StreamConfig
}

func (c *Config) ConfigForName(n string) (*StreamConfig, error) {
	scv, ok := c.Streams[n]
	if !ok {
		return nil, errors.Errorf("failed to find stream %q", n)
	}
	if scv.Checkpoint.Backend == "" {
		scv.Checkpoint.Backend = CheckpointBackendMemory
	}
	return &scv, nil
}

func NewConfigFromFile(r io.Reader) (c *Config, err error) {
	data, err := ioutil.ReadAll(r)
	if err != nil {
		return nil, err
	}

	c = &Config{}

	err = yaml.Unmarshal(data, &c.Streams)
	if err != nil {
		return nil, errors.Wrap(err, "failed to parse config")
	}

	return
}
