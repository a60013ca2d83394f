package triton

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/service/s3/s3manager"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testS3UploaderService keeps uploaded objects in memory
type testS3UploaderService struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func newTestS3UploaderService() *testS3UploaderService {
	return &testS3UploaderService{objects: make(map[string][]byte)}
}

func (u *testS3UploaderService) UploadWithContext(_ aws.Context, input *s3manager.UploadInput, _ ...func(*s3manager.Uploader)) (*s3manager.UploadOutput, error) {
	var buf bytes.Buffer
	if _, err := io.Copy(&buf, input.Body); err != nil {
		return nil, err
	}
	u.mu.Lock()
	u.objects[*input.Bucket+"/"+*input.Key] = buf.Bytes()
	u.mu.Unlock()
	return &s3manager.UploadOutput{Location: "s3://" + *input.Bucket + "/" + *input.Key}, nil
}

func testArchiveRecords() []*DataRecord {
	return []*DataRecord{
		{StreamName: "test_stream", ShardID: "0", SequenceNumber: "10", PartitionKey: "a", Data: []byte("one")},
		{StreamName: "test_stream", ShardID: "1", SequenceNumber: "200", PartitionKey: "b", Data: []byte("two"),
			ApproximateArrivalTimestamp: time.Unix(1438387200, 5000)},
		{StreamName: "test_stream", ShardID: "0", SequenceNumber: "9", PartitionKey: "c", Data: []byte{}},
	}
}

func readArchive(t *testing.T, r io.Reader) []*DataRecord {
	ar := NewArchiveReader(r)
	var records []*DataRecord
	for {
		rec, err := ar.ReadRecord()
		if err == io.EOF {
			return records
		}
		require.NoError(t, err)
		records = append(records, rec)
	}
}

func TestArchiveWriterRoundTrip(t *testing.T) {
	fileName := filepath.Join(t.TempDir(), "test_stream.tri")
	w, err := NewArchiveWriter(&ArchiveWriterParams{FileName: fileName})
	require.NoError(t, err)

	records := testArchiveRecords()
	for _, r := range records {
		require.NoError(t, w.Put(r))
	}
	assert.Equal(t, 3, w.Len())
	require.NoError(t, w.Close(context.Background()))
	assert.Error(t, w.Put(records[0]))

	f, err := os.Open(fileName)
	require.NoError(t, err)
	defer f.Close()

	got := readArchive(t, f)
	require.Len(t, got, 3)
	assert.Equal(t, records[0], got[0])
	assert.Equal(t, records[1].ApproximateArrivalTimestamp.UnixNano(), got[1].ApproximateArrivalTimestamp.UnixNano())
	assert.Equal(t, records[2].SequenceNumber, got[2].SequenceNumber)
	assert.Empty(t, got[2].Data)
}

func TestArchiveWriterLargeRecords(t *testing.T) {
	fileName := filepath.Join(t.TempDir(), "large.tri")
	w, err := NewArchiveWriter(&ArchiveWriterParams{FileName: fileName})
	require.NoError(t, err)

	data := bytes.Repeat([]byte("x"), 300*1024)
	for i := 0; i < 8; i++ {
		require.NoError(t, w.Put(&DataRecord{StreamName: "s", ShardID: "0", SequenceNumber: SequenceNumber(string(rune('a' + i))), Data: data}))
	}
	require.NoError(t, w.Close(context.Background()))

	f, err := os.Open(fileName)
	require.NoError(t, err)
	defer f.Close()

	got := readArchive(t, f)
	require.Len(t, got, 8)
	for _, r := range got {
		assert.Equal(t, data, r.Data)
	}
}

func TestArchiveWriterUpload(t *testing.T) {
	svc := newTestS3UploaderService()
	key := ArchiveKey{Stream: "test_stream", Client: "archive", Time: time.Date(2015, time.August, 1, 0, 0, 0, 0, time.UTC)}
	fileName := filepath.Join(t.TempDir(), "test_stream.tri")

	w, err := NewArchiveWriter(&ArchiveWriterParams{
		FileName: fileName,
		Key:      key,
		Uploader: NewS3Uploader(svc, "bucket", nil),
	})
	require.NoError(t, err)
	for _, r := range testArchiveRecords() {
		require.NoError(t, w.Put(r))
	}
	require.NoError(t, w.Close(context.Background()))

	_, err = os.Stat(fileName)
	assert.True(t, os.IsNotExist(err), "local file should be removed")

	body, ok := svc.objects["bucket/20150801/test_stream-archive-1438387200.tri"]
	require.True(t, ok)
	assert.Len(t, readArchive(t, bytes.NewReader(body)), 3)

	metadataBody, ok := svc.objects["bucket/20150801/test_stream-archive-1438387200.tri.metadata"]
	require.True(t, ok)
	metadata := NewStreamMetadata()
	require.NoError(t, json.Unmarshal(metadataBody, metadata))
	assert.Equal(t, SequenceNumber("9"), metadata.Shards["0"].MinSequenceNumber)
	assert.Equal(t, SequenceNumber("10"), metadata.Shards["0"].MaxSequenceNumber)
	assert.Equal(t, SequenceNumber("200"), metadata.Shards["1"].MinSequenceNumber)
}

func TestS3UploaderMissingFile(t *testing.T) {
	u := NewS3Uploader(newTestS3UploaderService(), "bucket", nil)
	assert.Error(t, u.Upload(context.Background(), filepath.Join(t.TempDir(), "missing"), "key"))
}

func TestReadEmptyArchive(t *testing.T) {
	ar := NewArchiveReader(bytes.NewReader(nil))
	_, err := ar.ReadRecord()
	assert.Equal(t, io.EOF, err)
}

func TestReadCorruptArchive(t *testing.T) {
	ar := NewArchiveReader(bytes.NewReader([]byte("not snappy at all")))
	_, err := ar.ReadRecord()
	assert.Error(t, err)
	assert.NotEqual(t, io.EOF, err)
}

func TestCompareSequenceNumbers(t *testing.T) {
	assert.Equal(t, -1, compareSequenceNumbers("9", "10"))
	assert.Equal(t, 1, compareSequenceNumbers("10", "9"))
	assert.Equal(t, -1, compareSequenceNumbers("12", "13"))
	assert.Equal(t, 0, compareSequenceNumbers("13", "13"))
}

func TestStreamMetadataJSON(t *testing.T) {
	metadata := NewStreamMetadata()
	metadata.noteSequenceNumber("0", "5")
	metadata.noteSequenceNumber("0", "100")
	metadata.noteSequenceNumber("0", "20")

	b, err := json.Marshal(metadata)
	require.NoError(t, err)
	assert.JSONEq(t, `{"shards":{"0":{"min_sequence_number":"5","max_sequence_number":"100"}}}`, string(b))
}

func TestArchiveWriterSkipsEmptyUpload(t *testing.T) {
	svc := newTestS3UploaderService()
	fileName := filepath.Join(t.TempDir(), "empty.tri")

	w, err := NewArchiveWriter(&ArchiveWriterParams{
		FileName: fileName,
		Key:      ArchiveKey{Stream: "test_stream", Time: time.Now()},
		Uploader: NewS3Uploader(svc, "bucket", nil),
	})
	require.NoError(t, err)
	require.NoError(t, w.Close(context.Background()))
	// Closing twice is harmless
	require.NoError(t, w.Close(context.Background()))

	assert.Empty(t, svc.objects)
	_, err = os.Stat(fileName)
	assert.True(t, os.IsNotExist(err))
}
