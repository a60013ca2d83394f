package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/getsentry/raven-go"
	"github.com/postmates/go-triton-consumer/triton"
	"github.com/postmates/go-triton-consumer/tritond"
	"github.com/urfave/cli"
	"go.uber.org/zap"
)

var LOG_INTERVAL = 10 * time.Second

// Idle time between polls that returned nothing
var EMPTY_POLL_INTERVAL = 1 * time.Second

// How often long running commands look for new shards
var RESYNC_INTERVAL = 5 * time.Minute

func streamFlag() cli.StringFlag {
	return cli.StringFlag{
		Name:  "stream",
		Usage: "Named triton stream",
	}
}

func requireStream(c *cli.Context) error {
	if c.String("stream") == "" {
		cli.ShowSubcommandHelp(c)
		return cli.NewExitError("stream name required", 1)
	}
	return nil
}

// reportError sends err to sentry, when configured through SENTRY_DSN, and
// turns it into a failing exit.
func reportError(err error, streamName string) error {
	if err == nil || err == context.Canceled {
		return nil
	}
	raven.CaptureErrorAndWait(err, map[string]string{"stream": streamName})
	return cli.NewExitError(err.Error(), 1)
}

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

// Shards Command
//
// Print the shards of the stream and the position the consumer would read
// them from.
func listShards(c *cli.Context) error {
	if err := requireStream(c); err != nil {
		return err
	}
	ctx, cancel := signalContext()
	defer cancel()

	env, err := openConsumer(ctx, c)
	if err != nil {
		return cli.NewExitError(err.Error(), 1)
	}
	defer env.Close()

	shards, err := env.consumer.Shards()
	if err != nil {
		return cli.NewExitError(err.Error(), 1)
	}
	return writeShards(os.Stdout, shards)
}

// Poll Command
//
// Poll once and print the records.
func poll(c *cli.Context) error {
	if err := requireStream(c); err != nil {
		return err
	}
	ctx, cancel := signalContext()
	defer cancel()

	env, err := openConsumer(ctx, c)
	if err != nil {
		return cli.NewExitError(err.Error(), 1)
	}
	defer env.Close()

	opts := env.config.PollOptions()
	opts.ShardID = triton.ShardID(c.String("shard"))
	if c.IsSet("limit") {
		opts.Limit = c.Int("limit")
	}
	if c.IsSet("max-pages") {
		opts.MaxPages = c.Int("max-pages")
	}
	if c.IsSet("parallel") {
		opts.Parallel = c.Bool("parallel")
	}

	records, err := env.consumer.Poll(ctx, opts)
	if werr := writeRecords(os.Stdout, records); werr != nil {
		return cli.NewExitError(werr.Error(), 1)
	}
	if err != nil {
		return reportError(err, env.config.StreamName)
	}

	if c.Bool("checkpoint") {
		if err := env.consumer.CheckpointAll(ctx); err != nil {
			return reportError(err, env.config.StreamName)
		}
	}
	return nil
}

// Forward Command
//
// Forward every record of the stream to tritond until interrupted.
func forward(c *cli.Context) error {
	if err := requireStream(c); err != nil {
		return err
	}
	ctx, cancel := signalContext()
	defer cancel()

	env, err := openConsumer(ctx, c)
	if err != nil {
		return cli.NewExitError(err.Error(), 1)
	}
	defer env.Close()

	client, err := tritond.NewClient(tritond.WithZMQEndpoint(c.String("endpoint")))
	if err != nil {
		return cli.NewExitError(err.Error(), 1)
	}
	defer func() {
		closeCtx, closeCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer closeCancel()
		client.Close(closeCtx)
	}()

	f := tritond.NewForwarder(env.consumer, client, env.logger)
	opts := env.config.PollOptions()

	logTime, resyncTime := time.Now(), time.Now()
	recCount := 0
	for ctx.Err() == nil {
		n, err := f.Forward(ctx, opts)
		recCount += n
		if err != nil && ctx.Err() == nil {
			return reportError(err, env.config.StreamName)
		}

		if time.Since(logTime) >= LOG_INTERVAL {
			env.logger.Info("Forwarded records", zap.Int("records", recCount))
			logTime = time.Now()
			recCount = 0
		}
		if time.Since(resyncTime) >= RESYNC_INTERVAL {
			if _, err := env.consumer.Resync(ctx); err != nil {
				return reportError(err, env.config.StreamName)
			}
			resyncTime = time.Now()
		}
		if n == 0 {
			sleep(ctx, EMPTY_POLL_INTERVAL)
		}
	}
	env.logger.Info("Quit signal received")
	return nil
}

// Archive Command
//
// Write the stream to hourly archive files, uploaded to S3 when a bucket is
// given. Positions are checkpointed once an archive is closed.
func archive(c *cli.Context) error {
	if err := requireStream(c); err != nil {
		return err
	}
	ctx, cancel := signalContext()
	defer cancel()

	env, err := openConsumer(ctx, c)
	if err != nil {
		return cli.NewExitError(err.Error(), 1)
	}
	defer env.Close()

	var uploader *triton.S3Uploader
	if bucket := c.String("bucket"); bucket != "" {
		svc, err := triton.NewS3UploaderService(env.config.RegionName)
		if err != nil {
			return cli.NewExitError(err.Error(), 1)
		}
		uploader = triton.NewS3Uploader(svc, bucket, env.logger)
	}

	a := &archiver{
		consumer: env.consumer,
		config:   env.config,
		uploader: uploader,
		dir:      c.String("dir"),
		rotate:   c.Duration("rotate"),
		logger:   env.logger,
	}
	return reportError(a.run(ctx), env.config.StreamName)
}

// Cat Command
//
// Print the records of local archive files.
func cat(c *cli.Context) error {
	if c.NArg() == 0 {
		cli.ShowSubcommandHelp(c)
		return cli.NewExitError("archive file required", 1)
	}
	for _, name := range c.Args() {
		f, err := os.Open(name)
		if err != nil {
			return cli.NewExitError(err.Error(), 1)
		}
		err = catArchive(os.Stdout, f)
		f.Close()
		if err != nil {
			return cli.NewExitError(fmt.Sprintf("%s: %v", name, err), 1)
		}
	}
	return nil
}

// Checkpoints Command
//
// Print what the checkpoint store holds for the stream.
func checkpoints(c *cli.Context) error {
	if err := requireStream(c); err != nil {
		return err
	}
	ctx, cancel := signalContext()
	defer cancel()

	sc, err := openStreamConfig(c)
	if err != nil {
		return cli.NewExitError(err.Error(), 1)
	}
	store, closer, err := openCheckpointStore(sc, zap.NewNop())
	if err != nil {
		return cli.NewExitError(err.Error(), 1)
	}
	defer closer()

	return writeCheckpoints(ctx, os.Stdout, store, sc)
}

func sleep(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

func main() {
	app := cli.NewApp()
	app.Name = "triton"
	app.Usage = "Checkpointed consumer for the Triton Data Pipeline"
	app.Version = "0.1.0"
	app.Flags = []cli.Flag{
		cli.StringFlag{
			Name:   "config",
			Usage:  "Stream configuration file",
			EnvVar: "TRITON_CONFIG",
		},
		cli.BoolFlag{
			Name:  "debug",
			Usage: "Development logging",
		},
	}
	app.Commands = []cli.Command{
		{
			Name:   "shards",
			Usage:  "list shards for stream",
			Flags:  []cli.Flag{streamFlag()},
			Action: listShards,
		},
		{
			Name:  "poll",
			Usage: "poll the stream once and print the records",
			Flags: []cli.Flag{
				streamFlag(),
				cli.StringFlag{
					Name:  "shard",
					Usage: "Only poll this shard",
				},
				cli.IntFlag{
					Name:  "limit",
					Usage: "Records per shard",
					Value: triton.DefaultPollLimit,
				},
				cli.IntFlag{
					Name:  "max-pages",
					Usage: "GetRecords calls per shard",
					Value: triton.DefaultMaxPages,
				},
				cli.BoolFlag{
					Name:  "parallel",
					Usage: "Read shards concurrently",
				},
				cli.BoolFlag{
					Name:  "checkpoint",
					Usage: "Checkpoint after printing",
				},
			},
			Action: poll,
		},
		{
			Name:  "forward",
			Usage: "forward triton data to tritond",
			Flags: []cli.Flag{
				streamFlag(),
				cli.StringFlag{
					Name:   "endpoint",
					Usage:  "tritond zeromq endpoint",
					Value:  tritond.DefaultZMQEndpoint,
					EnvVar: "TRITOND_ENDPOINT",
				},
			},
			Action: forward,
		},
		{
			Name:    "archive",
			Aliases: []string{"store"},
			Usage:   "archive triton data to files, optionally uploaded to s3",
			Flags: []cli.Flag{
				streamFlag(),
				cli.StringFlag{
					Name:   "bucket",
					Usage:  "Destination S3 bucket",
					EnvVar: "TRITON_BUCKET",
				},
				cli.StringFlag{
					Name:  "dir",
					Usage: "Directory for archive files",
					Value: ".",
				},
				cli.DurationFlag{
					Name:  "rotate",
					Usage: "Close and upload archives this often",
					Value: time.Hour,
				},
			},
			Action: archive,
		},
		{
			Name:      "cat",
			Usage:     "print the records of archive files",
			ArgsUsage: "FILE...",
			Action:    cat,
		},
		{
			Name:   "checkpoints",
			Usage:  "print stored checkpoints for stream",
			Flags:  []cli.Flag{streamFlag()},
			Action: checkpoints,
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
