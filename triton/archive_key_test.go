package triton

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestArchiveKeyPathCodec(t *testing.T) {
	aTime := time.Now()
	archiveKey := ArchiveKey{Time: aTime, Stream: "a", Client: "b"}
	archiveKey2, err := DecodeArchiveKey(archiveKey.Path())
	require.NoError(t, err)
	assert.True(t, archiveKey.Equal(archiveKey2), "expecting %+v == %+v", archiveKey, archiveKey2)
}

func TestArchiveKeyWithoutClient(t *testing.T) {
	archiveKey := ArchiveKey{Time: time.Date(2015, time.August, 1, 0, 0, 0, 0, time.UTC), Stream: "test_stream"}
	assert.Equal(t, "20150801/test_stream-1438387200.tri", archiveKey.Path())
	assert.Equal(t, "20150801/test_stream-1438387200.tri.metadata", archiveKey.MetadataPath())
	assert.Equal(t, "20150801/test_stream-", archiveKey.PathPrefix())

	decoded, err := DecodeArchiveKey(archiveKey.Path())
	require.NoError(t, err)
	assert.True(t, archiveKey.Equal(decoded))
}

func TestDecodeArchiveKeyInvalid(t *testing.T) {
	for _, key := range []string{
		"",
		"test_stream-1438387200.tri",
		"20150801/test_stream-abc.tri",
		"20150801/a-b-c-1438387200.tri",
	} {
		_, err := DecodeArchiveKey(key)
		assert.Error(t, err, key)
	}
}
