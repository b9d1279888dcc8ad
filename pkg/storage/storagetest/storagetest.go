// Package storagetest writes contents-directory fixtures for tests.
package storagetest

import (
	"bytes"
	"compress/gzip"
	"os"
	"path/filepath"
	"testing"

	"catalyst-migrator/pkg/storage"
	"catalyst-migrator/pkg/types"

	"github.com/stretchr/testify/require"
)

// WriteBlob stores data under hash in the sharded layout below root.
func WriteBlob(t testing.TB, root string, hash types.ContentHash, data []byte) {
	t.Helper()
	writeFile(t, root, hash, "", data)
}

// WriteCompressedBlob stores data gzip-compressed under hash below root.
func WriteCompressedBlob(t testing.TB, root string, hash types.ContentHash, data []byte) {
	t.Helper()
	var buf bytes.Buffer
	w := gzip.NewWriter(&buf)
	_, err := w.Write(data)
	require.NoError(t, err)
	require.NoError(t, w.Close())
	writeFile(t, root, hash, storage.GzipSuffix, buf.Bytes())
}

func writeFile(t testing.TB, root string, hash types.ContentHash, suffix string, data []byte) {
	t.Helper()
	path, err := storage.BlobPath(root, hash)
	require.NoError(t, err)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path+suffix, data, 0644))
}
