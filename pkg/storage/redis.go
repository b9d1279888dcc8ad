package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"catalyst-migrator/pkg/types"

	"github.com/redis/go-redis/v9"
)

const (
	defaultRedisURL  = "redis://localhost:6379"
	redisKeyPrefix   = "catalyst:content:"
	defaultRedisTTL  = 7 * 24 * time.Hour
	redisPingTimeout = 2 * time.Second
)

// RedisCache is a RemoteCache backed by Redis.
type RedisCache struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisCache(url string) (*RedisCache, error) {
	if url == "" {
		url = defaultRedisURL
	}
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	ctx, cancel := context.WithTimeout(context.Background(), redisPingTimeout)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("connect redis: %w", err)
	}
	return &RedisCache{client: client, ttl: defaultRedisTTL}, nil
}

func (r *RedisCache) Close() error {
	if r == nil || r.client == nil {
		return nil
	}
	return r.client.Close()
}

func (r *RedisCache) Get(ctx context.Context, hash types.ContentHash) ([]byte, bool, error) {
	data, err := r.client.Get(ctx, redisKeyPrefix+string(hash)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return data, true, nil
}

func (r *RedisCache) Set(ctx context.Context, hash types.ContentHash, data []byte) error {
	return r.client.Set(ctx, redisKeyPrefix+string(hash), data, r.ttl).Err()
}
