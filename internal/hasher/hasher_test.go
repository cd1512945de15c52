package hasher_test

import (
	"crypto/sha256"
	"encoding/hex"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mtiwari1/exgstream/internal/export"
	"github.com/mtiwari1/exgstream/internal/hasher"
)

func TestComputeMetadataCSV(t *testing.T) {
	body := "Counter,Channel1\n0,1\n1,2\n"
	path := filepath.Join(t.TempDir(), "rec.csv")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))

	meta, err := hasher.ComputeMetadata(path)
	require.NoError(t, err)

	sum := sha256.Sum256([]byte(body))
	assert.Equal(t, hex.EncodeToString(sum[:]), meta.Hash)
	assert.Equal(t, `"`+meta.Hash+`"`, meta.ETag())
	assert.Equal(t, int64(len(body)), meta.Size)
	assert.Equal(t, ".csv", meta.Extension)
	assert.Contains(t, meta.MimeType, "text/plain")
	assert.Equal(t, 3, meta.Extra["lines"])
	assert.Equal(t, 2, meta.Extra["records"])
}

func TestComputeMetadataArchive(t *testing.T) {
	path := filepath.Join(t.TempDir(), "all.zip")
	f, err := os.Create(path)
	require.NoError(t, err)
	a := export.NewArchive(f)
	for _, name := range []string{"a.csv", "b.csv"} {
		w, err := a.Create(name, time.Now())
		require.NoError(t, err)
		_, err = w.Write([]byte("Counter\n"))
		require.NoError(t, err)
	}
	require.NoError(t, a.Close())
	require.NoError(t, f.Close())

	meta, err := hasher.ComputeMetadata(path)
	require.NoError(t, err)
	assert.Equal(t, "application/zip", meta.MimeType)
	assert.Equal(t, 2, meta.Extra["entries"])
}

func TestComputeMetadataMissingFile(t *testing.T) {
	_, err := hasher.ComputeMetadata(filepath.Join(t.TempDir(), "nope"))
	assert.Error(t, err)
}
