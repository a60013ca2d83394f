package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/postmates/go-triton-consumer/triton"
)

func writeShards(w io.Writer, shards []*triton.Shard) error {
	tw := tabwriter.NewWriter(w, 0, 8, 2, ' ', 0)
	fmt.Fprintln(tw, "SHARD\tSEQUENCE NUMBER")
	for _, s := range shards {
		seq := string(s.SequenceNumber)
		if !s.HasPosition() {
			seq = "TRIM_HORIZON"
		}
		fmt.Fprintf(tw, "%s\t%s\n", s.ShardID, seq)
	}
	return tw.Flush()
}

// jsonRecord is how records are printed, one JSON document per line.
type jsonRecord struct {
	Stream         string     `json:"stream"`
	ShardID        string     `json:"shard_id"`
	SequenceNumber string     `json:"sequence_number"`
	PartitionKey   string     `json:"partition_key"`
	Arrival        *time.Time `json:"arrival,omitempty"`
	Data           string     `json:"data"`
}

func newJSONRecord(r *triton.DataRecord) *jsonRecord {
	jr := &jsonRecord{
		Stream:         r.StreamName,
		ShardID:        string(r.ShardID),
		SequenceNumber: string(r.SequenceNumber),
		PartitionKey:   r.PartitionKey,
		Data:           string(r.Data),
	}
	if !r.ApproximateArrivalTimestamp.IsZero() {
		ts := r.ApproximateArrivalTimestamp.UTC()
		jr.Arrival = &ts
	}
	return jr
}

func writeRecords(w io.Writer, records []*triton.DataRecord) error {
	enc := json.NewEncoder(w)
	for _, r := range records {
		if err := enc.Encode(newJSONRecord(r)); err != nil {
			return err
		}
	}
	return nil
}

func catArchive(w io.Writer, r io.Reader) error {
	ar := triton.NewArchiveReader(r)
	enc := json.NewEncoder(w)
	for {
		rec, err := ar.ReadRecord()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		if err := enc.Encode(newJSONRecord(rec)); err != nil {
			return err
		}
	}
}

// statsStore is implemented by checkpoint stores backed by a database.
type statsStore interface {
	DB() *sql.DB
}

func writeCheckpoints(ctx context.Context, w io.Writer, store triton.CheckpointStore, sc *triton.StreamConfig) error {
	shards, err := store.Restore(ctx, sc.StreamName)
	if err != nil {
		return err
	}

	var stats map[string]int64
	if ss, ok := store.(statsStore); ok {
		if stats, err = triton.GetCheckpointStats(sc.ClientName, ss.DB()); err != nil {
			return err
		}
	}

	ids := make([]string, 0, len(shards))
	for id := range shards {
		ids = append(ids, string(id))
	}
	sort.Strings(ids)

	tw := tabwriter.NewWriter(w, 0, 8, 2, ' ', 0)
	if stats != nil {
		fmt.Fprintln(tw, "SHARD\tSEQUENCE NUMBER\tAGE")
	} else {
		fmt.Fprintln(tw, "SHARD\tSEQUENCE NUMBER")
	}
	for _, id := range ids {
		shard := shards[triton.ShardID(id)]
		if stats != nil {
			age := stats[fmt.Sprintf("%s.%s.%s.age", sc.ClientName, sc.StreamName, id)]
			fmt.Fprintf(tw, "%s\t%s\t%s\n", id, shard.SequenceNumber, time.Duration(age)*time.Second)
		} else {
			fmt.Fprintf(tw, "%s\t%s\n", id, shard.SequenceNumber)
		}
	}
	return tw.Flush()
}
