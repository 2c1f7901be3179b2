package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const cacheVersionKey = "ledger:version"

// Cache wraps Redis based caching for projection reads. A nil client degrades
// to loader pass-through so tests and single-binary setups work without Redis.
type Cache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewCache instantiates the cache helper.
func NewCache(client *redis.Client, ttl time.Duration) *Cache {
	return &Cache{client: client, ttl: ttl}
}

// Version returns the current cache version, initialising when missing.
func (c *Cache) Version(ctx context.Context) (int64, error) {
	if c == nil || c.client == nil {
		return 0, nil
	}
	ver, err := c.client.Get(ctx, cacheVersionKey).Int64()
	if err == redis.Nil {
		if err := c.client.Set(ctx, cacheVersionKey, 1, 0).Err(); err != nil {
			return 0, err
		}
		return 1, nil
	}
	if err != nil {
		return 0, err
	}
	return ver, nil
}

// BuildKey composes the cache key with the current version.
func (c *Cache) BuildKey(ctx context.Context, parts ...string) (string, error) {
	ver, err := c.Version(ctx)
	if err != nil {
		return "", err
	}
	key := "ledger"
	for _, part := range parts {
		key += ":" + part
	}
	return fmt.Sprintf("%s:%d", key, ver), nil
}

// FetchJSON loads a cached value or populates it using the loader.
func (c *Cache) FetchJSON(ctx context.Context, key string, dest interface{}, loader func(context.Context) (interface{}, error)) error {
	if loader == nil {
		return errors.New("cache: loader required")
	}
	if c == nil || c.client == nil {
		value, err := loader(ctx)
		if err != nil {
			return err
		}
		raw, err := json.Marshal(value)
		if err != nil {
			return err
		}
		return json.Unmarshal(raw, dest)
	}
	payload, err := c.client.Get(ctx, key).Bytes()
	if err == nil {
		return json.Unmarshal(payload, dest)
	}
	if err != redis.Nil {
		return err
	}
	value, err := loader(ctx)
	if err != nil {
		return err
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	if err := c.client.Set(ctx, key, raw, c.ttl).Err(); err != nil {
		return err
	}
	return json.Unmarshal(raw, dest)
}

// Bump invalidates every cached projection by incrementing the version.
func (c *Cache) Bump(ctx context.Context) error {
	if c == nil || c.client == nil {
		return nil
	}
	return c.client.Incr(ctx, cacheVersionKey).Err()
}

// CachedReads decorates a ReadPort with versioned Redis caching for the
// projection endpoints. The movement log itself is never cached. Writes are
// not write-through: entries expire after the configured TTL, or immediately
// after a Bump.
type CachedReads struct {
	reads ReadPort
	cache *Cache
}

// NewCachedReads builds the decorator.
func NewCachedReads(reads ReadPort, cache *Cache) *CachedReads {
	return &CachedReads{reads: reads, cache: cache}
}

// GetMovements passes through to the underlying reader.
func (c *CachedReads) GetMovements(ctx context.Context, filter MovementFilter) ([]Movement, error) {
	return c.reads.GetMovements(ctx, filter)
}

// GetLocationStocks serves per-location projections through the cache.
func (c *CachedReads) GetLocationStocks(ctx context.Context, variantID int64) ([]LocationStock, error) {
	key, err := c.cache.BuildKey(ctx, "location_stocks", strconv.FormatInt(variantID, 10))
	if err != nil {
		return nil, err
	}
	var stocks []LocationStock
	err = c.cache.FetchJSON(ctx, key, &stocks, func(ctx context.Context) (interface{}, error) {
		return c.reads.GetLocationStocks(ctx, variantID)
	})
	return stocks, err
}

// GetVariantStock serves the variant aggregate through the cache.
func (c *CachedReads) GetVariantStock(ctx context.Context, variantID int64) (VariantStock, error) {
	key, err := c.cache.BuildKey(ctx, "variant_stock", strconv.FormatInt(variantID, 10))
	if err != nil {
		return VariantStock{}, err
	}
	var stock VariantStock
	err = c.cache.FetchJSON(ctx, key, &stock, func(ctx context.Context) (interface{}, error) {
		return c.reads.GetVariantStock(ctx, variantID)
	})
	return stock, err
}
