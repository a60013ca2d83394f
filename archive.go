package main

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/postmates/go-triton-consumer/triton"
	"go.uber.org/zap"
)

// archiver polls a stream into archive files, closing and checkpointing
// every rotate interval.
type archiver struct {
	consumer *triton.StreamConsumer
	config   *triton.StreamConfig
	uploader *triton.S3Uploader
	dir      string
	rotate   time.Duration
	logger   *zap.Logger
	now      func() time.Time
}

func (a *archiver) open() (*triton.ArchiveWriter, error) {
	now := time.Now
	if a.now != nil {
		now = a.now
	}
	key := triton.ArchiveKey{
		Stream: a.config.StreamName,
		Client: a.config.ClientName,
		Time:   now(),
	}
	return triton.NewArchiveWriter(&triton.ArchiveWriterParams{
		FileName: filepath.Join(a.dir, fmt.Sprintf("%s-%d.tri", a.config.StreamName, key.Time.Unix())),
		Key:      key,
		Uploader: a.uploader,
		Logger:   a.logger,
	})
}

// closeAndCheckpoint closes w and only then records the positions, so that
// nothing is checkpointed before it is safely archived.
func (a *archiver) closeAndCheckpoint(w *triton.ArchiveWriter) error {
	// Closing runs to completion even after a quit signal
	if err := w.Close(context.Background()); err != nil {
		return err
	}
	return a.consumer.CheckpointAll(context.Background())
}

func (a *archiver) run(ctx context.Context) error {
	opts := a.config.PollOptions()

	w, err := a.open()
	if err != nil {
		return err
	}
	opened := time.Now()

	for {
		records, pollErr := a.consumer.Poll(ctx, opts)
		for _, r := range records {
			if err := w.Put(r); err != nil {
				w.Close(context.Background())
				return err
			}
		}

		if pollErr != nil {
			// Whatever was read is archived before giving up
			if err := a.closeAndCheckpoint(w); err != nil {
				return err
			}
			if ctx.Err() != nil {
				return nil
			}
			return pollErr
		}

		if time.Since(opened) >= a.rotate {
			if err := a.closeAndCheckpoint(w); err != nil {
				return err
			}
			if w, err = a.open(); err != nil {
				return err
			}
			opened = time.Now()
			if _, err := a.consumer.Resync(ctx); err != nil {
				return err
			}
		}

		if len(records) == 0 {
			sleep(ctx, EMPTY_POLL_INTERVAL)
		}
		if ctx.Err() != nil {
			a.logger.Info("Quit signal received", zap.Int("records", w.Len()))
			return a.closeAndCheckpoint(w)
		}
	}
}
