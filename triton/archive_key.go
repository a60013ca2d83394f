package triton

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
)

// ArchiveKey is a struct representing the path value for the Triton S3 keys
type ArchiveKey struct {
	Client string
	Stream string
	Time   time.Time
}

// Path encodes the ArchiveKey to a string path
func (a ArchiveKey) Path() string {
	return fmt.Sprintf("%s/%s-%d.tri", a.day(), a.fullStreamName(), a.Time.Unix())
}

const (
	metadataSuffix = ".metadata"
)

// MetadataPath encodes the ArchiveKey to a string path with the metadata suffix applied
func (a ArchiveKey) MetadataPath() string {
	return a.Path() + metadataSuffix
}

// PathPrefix returns the string key prefix without the timestamp
func (a ArchiveKey) PathPrefix() string {
	return fmt.Sprintf("%s/%s-", a.day(), a.fullStreamName())
}

func (a ArchiveKey) day() string {
	t := a.Time.UTC()
	return fmt.Sprintf("%04d%02d%02d", t.Year(), t.Month(), t.Day())
}

// fullStreamName returns the full stream name (stream + "-" + client) if there is a client name or just stream
func (a ArchiveKey) fullStreamName() (stream string) {
	stream = a.Stream
	if a.Client != "" {
		stream += "-" + a.Client
	}
	return
}

func (a ArchiveKey) Equal(other ArchiveKey) bool {
	return a.Stream == other.Stream &&
		a.Client == other.Client &&
		a.Time.Truncate(time.Second).Equal(other.Time.Truncate(time.Second))
}

var archiveKeyPattern = regexp.MustCompile(`^/?(?P<day>\d{8})\/(?P<stream>.+)\-(?P<ts>\d+)\.tri$`)

// DecodeArchiveKey parses a key produced by ArchiveKey.Path. The client part
// is optional; stream names must not contain "-" when a client is present.
func DecodeArchiveKey(keyName string) (a ArchiveKey, err error) {
	res := archiveKeyPattern.FindStringSubmatch(keyName)
	if res == nil {
		return a, errors.Errorf("invalid archive key %q", keyName)
	}
	ts, err := strconv.ParseInt(res[3], 10, 64)
	if err != nil {
		return a, errors.Wrap(err, "failed to parse timestamp value")
	}
	a.Time = time.Unix(ts, 0)

	nameParts := strings.Split(res[2], "-")
	switch len(nameParts) {
	case 1:
		a.Stream = nameParts[0]
	case 2:
		a.Stream = nameParts[0]
		a.Client = nameParts[1]
	default:
		return a, errors.Errorf("failure parsing stream name: %v", res[2])
	}
	return a, nil
}
