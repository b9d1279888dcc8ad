package storage

import (
	"bytes"
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"catalyst-migrator/pkg/types"
)

// GzipSuffix marks a gzip-compressed blob in a contents directory.
const GzipSuffix = ".gzip"

// FolderStore reads blobs from a catalyst contents directory. A blob h is
// stored at <root>/<last 4 chars of h>/<h>, optionally gzip-compressed as
// <h>.gzip. The older flat layout <root>/<h> is read as a fallback.
type FolderStore struct {
	root string
}

func NewFolderStore(root string) *FolderStore {
	return &FolderStore{root: root}
}

// BlobPath returns where the sharded layout keeps hash under root.
func BlobPath(root string, hash types.ContentHash) (string, error) {
	h := string(hash)
	if h == "" || strings.ContainsAny(h, `/\`) || strings.Contains(h, "..") {
		return "", fmt.Errorf("invalid content hash %q", h)
	}
	shard := h
	if len(h) > 4 {
		shard = h[len(h)-4:]
	}
	return filepath.Join(root, shard, h), nil
}

// Resolve implements Resolver.
func (s *FolderStore) Resolve(ctx context.Context, hash types.ContentHash) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	path, err := BlobPath(s.root, hash)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(path)
	if err == nil {
		return data, nil
	}
	if !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to read content %s: %w", hash, err)
	}

	compressed, err := os.ReadFile(path + GzipSuffix)
	if err == nil {
		data, err := decompressData(compressed)
		if err != nil {
			return nil, fmt.Errorf("failed to decompress content %s: %w", hash, err)
		}
		return data, nil
	}
	if !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to read content %s: %w", hash, err)
	}

	data, err = os.ReadFile(filepath.Join(s.root, string(hash)))
	if err == nil {
		return data, nil
	}
	if errors.Is(err, os.ErrNotExist) {
		return nil, types.ErrContentNotFound
	}
	return nil, fmt.Errorf("failed to read content %s: %w", hash, err)
}

// decompressData decompresses gzip-compressed data
func decompressData(data []byte) ([]byte, error) {
	reader, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to create gzip reader: %w", err)
	}
	defer reader.Close()

	decompressed, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("failed to read decompressed data: %w", err)
	}

	return decompressed, nil
}

