package triton

import (
	"bytes"
	"context"
	"encoding/json"
	"os"

	"github.com/golang/snappy"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// BUFFER_SIZE is how many encoded bytes an ArchiveWriter holds before writing
// them through to its file.
const BUFFER_SIZE int = 1024 * 1024

// ArchiveWriterParams are the parameters to NewArchiveWriter
type ArchiveWriterParams struct {
	FileName string      // Local file the archive is written to
	Key      ArchiveKey  // Where the archive is uploaded to
	Uploader *S3Uploader // Optional, leaves the local file in place when nil
	Logger   *zap.Logger
}

// An ArchiveWriter buffers records into a snappy compressed file of msgp
// encoded records, and uploads the file when it is closed.
type ArchiveWriter struct {
	fileName string
	key      ArchiveKey
	uploader *S3Uploader
	logger   *zap.Logger

	file     *os.File
	sw       *snappy.Writer
	buf      *bytes.Buffer
	metadata *StreamMetadata
	count    int
}

// NewArchiveWriter creates the archive file and returns a writer for it.
func NewArchiveWriter(params *ArchiveWriterParams) (*ArchiveWriter, error) {
	if params.FileName == "" {
		panic("expecting a file name")
	}

	f, err := os.Create(params.FileName)
	if err != nil {
		return nil, err
	}

	w := &ArchiveWriter{
		fileName: params.FileName,
		key:      params.Key,
		uploader: params.Uploader,
		logger:   params.Logger,
		file:     f,
		sw:       snappy.NewBufferedWriter(f),
		buf:      bytes.NewBuffer(make([]byte, 0, BUFFER_SIZE)),
		metadata: NewStreamMetadata(),
	}
	if w.logger == nil {
		w.logger = zap.NewNop()
	}
	w.logger.Debug("Opened archive", zap.String("file", w.fileName))
	return w, nil
}

// Put appends rec to the archive.
func (w *ArchiveWriter) Put(rec *DataRecord) error {
	if w.file == nil {
		return errors.New("archive writer is closed")
	}

	b, err := MarshalDataRecord(make([]byte, 0, 1024), rec)
	if err != nil {
		return err
	}

	if w.buf.Len()+len(b) >= BUFFER_SIZE {
		if err := w.flushBuffer(); err != nil {
			return err
		}
	}
	w.buf.Write(b)
	w.metadata.noteSequenceNumber(rec.ShardID, rec.SequenceNumber)
	w.count++
	return nil
}

// Len returns the number of records written so far.
func (w *ArchiveWriter) Len() int {
	return w.count
}

// Key returns where the archive is uploaded to.
func (w *ArchiveWriter) Key() ArchiveKey {
	return w.key
}

// Metadata returns the sequence number ranges written so far.
func (w *ArchiveWriter) Metadata() *StreamMetadata {
	return w.metadata
}

func (w *ArchiveWriter) flushBuffer() error {
	w.logger.Debug("Flushing archive to disk",
		zap.String("file", w.fileName),
		zap.Int("bytes", w.buf.Len()))
	if _, err := w.buf.WriteTo(w.sw); err != nil {
		return errors.Wrap(err, "failed to flush archive")
	}
	w.buf.Reset()
	return nil
}

// Close flushes and closes the archive file. With an uploader, the file and
// its metadata are then uploaded and the local file is removed. Empty
// archives are removed without being uploaded.
func (w *ArchiveWriter) Close(ctx context.Context) error {
	if w.file == nil {
		return nil
	}

	if err := w.flushBuffer(); err != nil {
		return err
	}
	if err := w.sw.Close(); err != nil {
		return errors.Wrap(err, "failed to close writer")
	}
	if err := w.file.Close(); err != nil {
		return errors.Wrap(err, "failed to close writer")
	}
	w.file = nil
	w.logger.Info("Closed archive", zap.String("file", w.fileName), zap.Int("records", w.count))

	if w.uploader == nil {
		return nil
	}
	if w.count == 0 {
		// Nothing worth uploading
		return errors.Wrap(os.Remove(w.fileName), "failed to cleanup writer")
	}

	if err := w.uploader.Upload(ctx, w.fileName, w.key.Path()); err != nil {
		return err
	}
	if err := w.uploadMetadata(ctx); err != nil {
		return err
	}
	if err := os.Remove(w.fileName); err != nil {
		return errors.Wrap(err, "failed to cleanup writer")
	}
	return nil
}

func (w *ArchiveWriter) uploadMetadata(ctx context.Context) error {
	var metadataBuf bytes.Buffer
	w.metadata.Lock()
	err := json.NewEncoder(&metadataBuf).Encode(w.metadata)
	w.metadata.Unlock()
	if err != nil {
		return errors.Wrap(err, "failed to encode metadata")
	}
	return errors.Wrap(w.uploader.UploadBuf(ctx, &metadataBuf, w.key.MetadataPath()), "failed to upload metadata")
}
