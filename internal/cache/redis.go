// internal/cache/redis.go

// Package cache keeps recent successful VIN searches in Redis so repeated
// lookups skip the fetch strategies.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/valpere/vinparts/internal/config"
	"github.com/valpere/vinparts/internal/utils"
	"github.com/valpere/vinparts/pkg/types"
)

// ResultCache stores SearchResults keyed by VIN.
type ResultCache struct {
	client *redis.Client
	ttl    time.Duration
	prefix string
}

// New connects to the Redis server named in cfg. The connection is lazy;
// use Ping to verify it.
func New(cfg config.CacheConfig) *ResultCache {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})
	return NewWithClient(client, cfg.TTL, cfg.KeyPrefix)
}

// NewWithClient wraps an existing client.
func NewWithClient(client *redis.Client, ttl time.Duration, prefix string) *ResultCache {
	if ttl <= 0 {
		ttl = 6 * time.Hour
	}
	return &ResultCache{client: client, ttl: ttl, prefix: prefix}
}

func (c *ResultCache) key(vin string) string {
	return c.prefix + "vin:" + vin
}

// Get returns the cached result for vin. A miss is (nil, false, nil).
func (c *ResultCache) Get(ctx context.Context, vin string) (*types.SearchResult, bool, error) {
	data, err := c.client.Get(ctx, c.key(vin)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, utils.WrapError(err, utils.ErrCodeCacheFailure, "cache get "+vin)
	}

	var res types.SearchResult
	if err := json.Unmarshal(data, &res); err != nil {
		// unreadable entries are dropped so the next search refreshes them
		c.client.Del(ctx, c.key(vin))
		return nil, false, utils.WrapError(err, utils.ErrCodeCacheFailure, "cache decode "+vin)
	}
	res.Cached = true
	return &res, true, nil
}

// Set stores res for vin with the configured TTL.
func (c *ResultCache) Set(ctx context.Context, vin string, res *types.SearchResult) error {
	data, err := json.Marshal(res)
	if err != nil {
		return utils.WrapError(err, utils.ErrCodeCacheFailure, "cache encode "+vin)
	}
	if err := c.client.Set(ctx, c.key(vin), data, c.ttl).Err(); err != nil {
		return utils.WrapError(err, utils.ErrCodeCacheFailure, "cache set "+vin)
	}
	return nil
}

// Invalidate drops the entry for vin.
func (c *ResultCache) Invalidate(ctx context.Context, vin string) error {
	return c.client.Del(ctx, c.key(vin)).Err()
}

// Ping checks the connection.
func (c *ResultCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// Close closes the client.
func (c *ResultCache) Close() error {
	return c.client.Close()
}
