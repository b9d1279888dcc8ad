package storage

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"catalyst-migrator/pkg/types"

	"github.com/ipfs/go-cid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Resolver fetches the bytes stored under a content hash. Absence is
// reported as types.ErrContentNotFound.
type Resolver interface {
	Resolve(ctx context.Context, hash types.ContentHash) ([]byte, error)
}

// HashMismatchError is returned when resolved bytes do not hash to the
// requested content hash.
type HashMismatchError struct {
	Expected types.ContentHash
	Actual   string
}

func (e *HashMismatchError) Error() string {
	return fmt.Sprintf("content hash mismatch: expected %s, got %s", e.Expected, e.Actual)
}

// MissingContentError names a required file whose blob could not be found.
type MissingContentError struct {
	Path string
	Hash types.ContentHash
}

func (e *MissingContentError) Error() string {
	return fmt.Sprintf("missing content for %s (%s)", e.Path, e.Hash)
}

func (e *MissingContentError) Unwrap() error {
	return types.ErrContentNotFound
}

// VerifyContent checks data against hash when the hash is a raw-codec CIDv1.
// Other hash forms (CIDv0, DAG-PB chunked files) are accepted as is.
func VerifyContent(hash types.ContentHash, data []byte) error {
	c, err := cid.Decode(string(hash))
	if err != nil {
		return nil
	}
	prefix := c.Prefix()
	if prefix.Version != 1 || prefix.Codec != cid.Raw {
		return nil
	}
	sum, err := prefix.Sum(data)
	if err != nil {
		return fmt.Errorf("failed to hash content: %w", err)
	}
	if !sum.Equals(c) {
		return &HashMismatchError{Expected: hash, Actual: sum.String()}
	}
	return nil
}

// FileSetOptions tunes ResolveFileSet.
type FileSetOptions struct {
	// Optional paths are omitted from the result when their blob is missing.
	Optional map[string]bool
	// Tolerant omits every missing blob instead of failing.
	Tolerant    bool
	Concurrency int
	Logger      *zap.Logger
}

// FileSetResult holds the resolved files and the paths that were skipped.
type FileSetResult struct {
	Files   types.FileSet
	Missing []types.ContentFile
}

// ResolveFileSet resolves every declared content file. Blobs shared by
// several paths are fetched once. Fetches run in parallel up to
// opts.Concurrency; one fetch at a time when unset.
func ResolveFileSet(ctx context.Context, resolver Resolver, content []types.ContentFile, opts FileSetOptions) (*FileSetResult, error) {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	limit := opts.Concurrency
	if limit <= 0 {
		limit = 1
	}

	hashes := make([]types.ContentHash, 0, len(content))
	seen := make(map[types.ContentHash]bool, len(content))
	for _, cf := range content {
		if !seen[cf.Hash] {
			seen[cf.Hash] = true
			hashes = append(hashes, cf.Hash)
		}
	}

	var mu sync.Mutex
	blobs := make(map[types.ContentHash][]byte, len(hashes))
	absent := make(map[types.ContentHash]bool)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)
	for _, h := range hashes {
		h := h
		g.Go(func() error {
			data, err := resolver.Resolve(gctx, h)
			if errors.Is(err, types.ErrContentNotFound) {
				mu.Lock()
				absent[h] = true
				mu.Unlock()
				return nil
			}
			if err != nil {
				return fmt.Errorf("failed to resolve %s: %w", h, err)
			}
			if err := VerifyContent(h, data); err != nil {
				return err
			}
			mu.Lock()
			blobs[h] = data
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	result := &FileSetResult{Files: make(types.FileSet, len(content))}
	for _, cf := range content {
		if absent[cf.Hash] {
			if opts.Tolerant || opts.Optional[cf.File] {
				logger.Debug("Content not found, skipping file",
					zap.String("file", cf.File),
					zap.String("hash", string(cf.Hash)))
				result.Missing = append(result.Missing, cf)
				continue
			}
			return nil, &MissingContentError{Path: cf.File, Hash: cf.Hash}
		}
		result.Files[cf.File] = types.File{Path: cf.File, Hash: cf.Hash, Data: blobs[cf.Hash]}
	}
	sort.Slice(result.Missing, func(i, j int) bool { return result.Missing[i].File < result.Missing[j].File })

	return result, nil
}
