package storage

import (
	"context"
	"errors"
	"math"
	"sync"

	"catalyst-migrator/pkg/types"

	"github.com/hashicorp/golang-lru/v2/simplelru"
	"go.uber.org/zap"
)

// Cache lookup results reported to a LookupRecorder.
const (
	LookupMemoryHit = "memory_hit"
	LookupRemoteHit = "remote_hit"
	LookupMiss      = "miss"
)

// DefaultMemoryBudget caps the bytes held by the in-process cache tier.
const DefaultMemoryBudget int64 = 256 << 20

// RemoteCache is a shared second cache tier, keyed by content hash.
type RemoteCache interface {
	Get(ctx context.Context, hash types.ContentHash) ([]byte, bool, error)
	Set(ctx context.Context, hash types.ContentHash, data []byte) error
}

// LookupRecorder observes cache lookups.
type LookupRecorder interface {
	ObserveCacheLookup(result string)
}

// CachingResolver is a read-through cache in front of an origin Resolver.
// Content is immutable per hash so entries are never invalidated. The memory
// tier evicts least recently used blobs once it holds more than its budget.
type CachingResolver struct {
	origin   Resolver
	remote   RemoteCache
	recorder LookupRecorder
	logger   *zap.Logger
	budget   int64

	mu     sync.Mutex
	memory *simplelru.LRU[types.ContentHash, []byte]
	held   int64
}

type CacheOption func(*CachingResolver)

func WithRemoteCache(remote RemoteCache) CacheOption {
	return func(c *CachingResolver) { c.remote = remote }
}

func WithLookupRecorder(recorder LookupRecorder) CacheOption {
	return func(c *CachingResolver) { c.recorder = recorder }
}

func WithCacheLogger(logger *zap.Logger) CacheOption {
	return func(c *CachingResolver) { c.logger = logger }
}

// WithMemoryBudget sets the byte budget of the memory tier. A budget of zero
// or less disables it.
func WithMemoryBudget(bytes int64) CacheOption {
	return func(c *CachingResolver) { c.budget = bytes }
}

func NewCachingResolver(origin Resolver, opts ...CacheOption) *CachingResolver {
	c := &CachingResolver{
		origin: origin,
		logger: zap.NewNop(),
		budget: DefaultMemoryBudget,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.budget > 0 {
		// Entries are bounded by bytes, not count.
		c.memory, _ = simplelru.NewLRU[types.ContentHash, []byte](math.MaxInt32, func(_ types.ContentHash, data []byte) {
			c.held -= int64(len(data))
		})
	}
	return c
}

func (c *CachingResolver) Resolve(ctx context.Context, hash types.ContentHash) ([]byte, error) {
	if data, ok := c.get(hash); ok {
		c.observe(LookupMemoryHit)
		return data, nil
	}

	if c.remote != nil {
		data, ok, err := c.remote.Get(ctx, hash)
		if err != nil {
			c.logger.Warn("Remote cache lookup failed", zap.String("hash", string(hash)), zap.Error(err))
		} else if ok {
			c.observe(LookupRemoteHit)
			c.put(hash, data)
			return data, nil
		}
	}

	c.observe(LookupMiss)
	data, err := c.origin.Resolve(ctx, hash)
	if err != nil {
		if !errors.Is(err, types.ErrContentNotFound) {
			c.logger.Debug("Origin lookup failed", zap.String("hash", string(hash)), zap.Error(err))
		}
		return nil, err
	}

	c.put(hash, data)
	if c.remote != nil {
		if err := c.remote.Set(ctx, hash, data); err != nil {
			c.logger.Warn("Failed to populate remote cache", zap.String("hash", string(hash)), zap.Error(err))
		}
	}
	return data, nil
}

func (c *CachingResolver) get(hash types.ContentHash) ([]byte, bool) {
	if c.memory == nil {
		return nil, false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.memory.Get(hash)
}

func (c *CachingResolver) put(hash types.ContentHash, data []byte) {
	size := int64(len(data))
	if c.memory == nil || size > c.budget {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.memory.Contains(hash) {
		return
	}
	c.memory.Add(hash, data)
	c.held += size
	for c.held > c.budget {
		if _, _, ok := c.memory.RemoveOldest(); !ok {
			break
		}
	}
}

func (c *CachingResolver) observe(result string) {
	if c.recorder != nil {
		c.recorder.ObserveCacheLookup(result)
	}
}
