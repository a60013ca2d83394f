package main

import (
	"context"
	"database/sql"
	"os"

	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"
	"github.com/postmates/go-triton-consumer/triton"
	"github.com/urfave/cli"
	"go.uber.org/zap"
	"gopkg.in/redis.v5"
)

const (
	defaultClientName = "triton"
	defaultSQLiteDSN  = "triton.db"
	defaultFileDir    = ".triton"
	defaultRedisAddr  = "localhost:6379"
)

func loadStreamConfig(fname, streamName string) (*triton.StreamConfig, error) {
	if fname == "" {
		return nil, errors.New("TRITON_CONFIG not specified")
	}

	f, err := os.Open(fname)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open config")
	}
	defer f.Close()

	c, err := triton.NewConfigFromFile(f)
	if err != nil {
		return nil, errors.Wrap(err, "failed to load config")
	}

	sc, err := c.ConfigForName(streamName)
	if err != nil {
		return nil, errors.Wrap(err, "failed to load config for stream")
	}
	if sc.StreamName == "" {
		sc.StreamName = streamName
	}
	if sc.ClientName == "" {
		sc.ClientName = defaultClientName
	}
	return sc, nil
}

func openStreamConfig(c *cli.Context) (*triton.StreamConfig, error) {
	return loadStreamConfig(c.GlobalString("config"), c.String("stream"))
}

func newLogger(debug bool) (*zap.Logger, error) {
	if debug {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

// openCheckpointStore builds the store the stream's checkpoint config names.
// The returned func releases whatever the store holds on to.
func openCheckpointStore(sc *triton.StreamConfig, logger *zap.Logger) (triton.CheckpointStore, func(), error) {
	noop := func() {}
	cc := sc.Checkpoint

	switch cc.Backend {
	case "", triton.CheckpointBackendMemory:
		return triton.NewMemoryCheckpointStore(), noop, nil

	case triton.CheckpointBackendSQLite, triton.CheckpointBackendPostgres:
		driver, dsn := "sqlite3", cc.DSN
		if cc.Backend == triton.CheckpointBackendPostgres {
			driver = "postgres"
		} else if dsn == "" {
			dsn = defaultSQLiteDSN
		}
		db, err := sql.Open(driver, dsn)
		if err != nil {
			return nil, nil, errors.Wrap(err, "failed to open db")
		}
		if driver == "sqlite3" {
			// only for sqlite
			db.SetMaxOpenConns(1)
		}
		store, err := triton.NewDBCheckpointStore(sc.ClientName, db, logger)
		if err != nil {
			db.Close()
			return nil, nil, err
		}
		return store, func() { db.Close() }, nil

	case triton.CheckpointBackendFile:
		dir := cc.Dir
		if dir == "" {
			dir = defaultFileDir
		}
		store, err := triton.NewFileCheckpointStore(dir)
		if err != nil {
			return nil, nil, err
		}
		return store, noop, nil

	case triton.CheckpointBackendRedis:
		addr, prefix := cc.RedisAddr, cc.RedisPrefix
		if addr == "" {
			addr = defaultRedisAddr
		}
		if prefix == "" {
			prefix = sc.ClientName
		}
		client := redis.NewClient(&redis.Options{Addr: addr})
		return triton.NewRedisCheckpointStore(client, prefix), func() { client.Close() }, nil
	}
	return nil, nil, errors.Errorf("unknown checkpoint backend %q", cc.Backend)
}

// consumerEnv is everything a command needs to consume a stream.
type consumerEnv struct {
	config   *triton.StreamConfig
	consumer *triton.StreamConsumer
	logger   *zap.Logger
	closer   func()
}

func (e *consumerEnv) Close() {
	e.closer()
	e.logger.Sync()
}

func openConsumer(ctx context.Context, c *cli.Context) (*consumerEnv, error) {
	sc, err := openStreamConfig(c)
	if err != nil {
		return nil, err
	}

	logger, err := newLogger(c.GlobalBool("debug"))
	if err != nil {
		return nil, err
	}
	logger = logger.With(zap.String("client", sc.ClientName))

	svc, err := triton.NewKinesisService(sc.RegionName)
	if err != nil {
		return nil, err
	}

	return newConsumerEnv(ctx, svc, sc, logger)
}

func newConsumerEnv(ctx context.Context, svc triton.KinesisService, sc *triton.StreamConfig, logger *zap.Logger) (*consumerEnv, error) {
	store, closer, err := openCheckpointStore(sc, logger)
	if err != nil {
		return nil, err
	}

	opts := append([]triton.Option{triton.WithLogger(logger)}, sc.ConsumerOptions()...)
	consumer := triton.NewStreamConsumer(svc, store, sc.StreamName, opts...)
	if err := consumer.Initialize(ctx); err != nil {
		closer()
		return nil, err
	}

	return &consumerEnv{
		config:   sc,
		consumer: consumer,
		logger:   logger,
		closer:   closer,
	}, nil
}
