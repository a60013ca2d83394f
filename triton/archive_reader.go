package triton

import (
	"io"

	"github.com/golang/snappy"
	"github.com/tinylib/msgp/msgp"
)

// An ArchiveReader understands how to translate our archive data store
// format into indivdual records.
type ArchiveReader struct {
	mr *msgp.Reader
}

// ReadRecord returns the next archived record, or io.EOF once the archive is
// exhausted.
func (r *ArchiveReader) ReadRecord() (*DataRecord, error) {
	rec := make(map[string]interface{})
	if err := r.mr.ReadMapStrIntf(rec); err != nil {
		return nil, err
	}
	return dataRecordFromMap(rec)
}

func NewArchiveReader(ir io.Reader) *ArchiveReader {
	sr := snappy.NewReader(ir)
	mr := msgp.NewReader(sr)
	return &ArchiveReader{mr}
}
