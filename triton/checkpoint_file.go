package triton

import (
	"context"
	"io/ioutil"
	"net/url"
	"os"
	"path/filepath"
	"sync"

	"github.com/golang/snappy"
	"github.com/pkg/errors"
	"github.com/tinylib/msgp/msgp"
)

const checkpointFileSuffix = ".ckpt"

// FileCheckpointStore keeps one file per stream in a directory. Each file is
// a snappy compressed msgp map of shard ID to sequence number and is replaced
// atomically on every Modify.
type FileCheckpointStore struct {
	dir string
	mu  sync.Mutex
}

// NewFileCheckpointStore creates dir if it does not exist yet.
func NewFileCheckpointStore(dir string) (*FileCheckpointStore, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}
	return &FileCheckpointStore{dir: dir}, nil
}

func (f *FileCheckpointStore) path(streamName string) string {
	return filepath.Join(f.dir, url.PathEscape(streamName)+checkpointFileSuffix)
}

func (f *FileCheckpointStore) Restore(_ context.Context, streamName string) (map[ShardID]*Shard, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	seqs, err := f.read(streamName)
	if err != nil {
		return nil, err
	}
	return seqs.Shards(streamName), nil
}

func (f *FileCheckpointStore) Modify(_ context.Context, shard *Shard) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	seqs, err := f.read(shard.StreamName)
	if err != nil {
		return err
	}
	seqs[shard.ShardID] = shard.SequenceNumber
	return f.write(shard.StreamName, seqs)
}

func (f *FileCheckpointStore) read(streamName string) (ShardToSequenceNumber, error) {
	seqs := make(ShardToSequenceNumber)
	compressed, err := ioutil.ReadFile(f.path(streamName))
	if os.IsNotExist(err) {
		return seqs, nil
	} else if err != nil {
		return nil, err
	}

	data, err := snappy.Decode(nil, compressed)
	if err != nil {
		return nil, errors.Wrapf(err, "corrupt checkpoint file for %q", streamName)
	}
	m, _, err := msgp.ReadMapStrIntfBytes(data, nil)
	if err != nil {
		return nil, errors.Wrapf(err, "corrupt checkpoint file for %q", streamName)
	}
	for shardID, v := range m {
		seq, ok := v.(string)
		if !ok {
			return nil, errors.Errorf("corrupt checkpoint file for %q: shard %q has %T", streamName, shardID, v)
		}
		seqs[ShardID(shardID)] = SequenceNumber(seq)
	}
	return seqs, nil
}

func (f *FileCheckpointStore) write(streamName string, seqs ShardToSequenceNumber) error {
	m := make(map[string]interface{}, len(seqs))
	for shardID, seq := range seqs {
		m[string(shardID)] = string(seq)
	}
	data, err := msgp.AppendMapStrIntf(nil, m)
	if err != nil {
		return err
	}

	tmp, err := ioutil.TempFile(f.dir, ".tmp-"+url.PathEscape(streamName))
	if err != nil {
		return err
	}
	if _, err := tmp.Write(snappy.Encode(nil, data)); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), f.path(streamName))
}
