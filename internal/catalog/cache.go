package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// DefaultListKey is the Redis key holding the cached product listing.
const DefaultListKey = "pos:catalog:products"

// Cache wraps Redis helpers for JSON payloads.
type Cache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewCache constructs a cache helper. A nil client disables caching.
func NewCache(client *redis.Client, ttl time.Duration) *Cache {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &Cache{client: client, ttl: ttl}
}

// GetJSON unmarshals a cached JSON payload into dst. It reports whether the key existed.
func (c *Cache) GetJSON(ctx context.Context, key string, dst any) (bool, error) {
	if c == nil || c.client == nil || key == "" {
		return false, nil
	}
	data, err := c.client.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return false, nil
		}
		return false, err
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return false, err
	}
	return true, nil
}

// SetJSON serialises v as JSON and stores it with the configured TTL.
func (c *Cache) SetJSON(ctx context.Context, key string, v any) error {
	if c == nil || c.client == nil || key == "" {
		return nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, key, data, c.ttl).Err()
}

// Delete removes key.
func (c *Cache) Delete(ctx context.Context, key string) error {
	if c == nil || c.client == nil || key == "" {
		return nil
	}
	return c.client.Del(ctx, key).Err()
}

// CachedProvider serves ListProducts from Redis when fresh and drops the
// cached listing after every decrement attempt. Cache failures are logged and
// never fail the call.
type CachedProvider struct {
	Next   Provider
	Cache  *Cache
	Key    string
	Logger zerolog.Logger
}

// ListProducts implements Provider.
func (p *CachedProvider) ListProducts(ctx context.Context) ([]Item, error) {
	key := p.key()
	var cached []Item
	ok, err := p.Cache.GetJSON(ctx, key, &cached)
	if err != nil {
		p.Logger.Warn().Err(err).Str("key", key).Msg("catalog_cache_read_failed")
	}
	if ok {
		return cached, nil
	}
	items, err := p.Next.ListProducts(ctx)
	if err != nil {
		return nil, err
	}
	if err := p.Cache.SetJSON(ctx, key, items); err != nil {
		p.Logger.Warn().Err(err).Str("key", key).Msg("catalog_cache_write_failed")
	}
	return items, nil
}

// Refresh bypasses the cache, reloads the listing and stores it. Checkout uses
// it so stock revalidation never runs against a cached snapshot.
func (p *CachedProvider) Refresh(ctx context.Context) ([]Item, error) {
	items, err := p.Next.ListProducts(ctx)
	if err != nil {
		return nil, err
	}
	if err := p.Cache.SetJSON(ctx, p.key(), items); err != nil {
		p.Logger.Warn().Err(err).Msg("catalog_cache_write_failed")
	}
	return items, nil
}

// DecrementStock implements Provider.
func (p *CachedProvider) DecrementStock(ctx context.Context, itemID int64, quantity int) error {
	err := p.Next.DecrementStock(ctx, itemID, quantity)
	if delErr := p.Cache.Delete(context.WithoutCancel(ctx), p.key()); delErr != nil {
		p.Logger.Warn().Err(delErr).Msg("catalog_cache_invalidate_failed")
	}
	return err
}

func (p *CachedProvider) key() string {
	if p.Key == "" {
		return DefaultListKey
	}
	return p.Key
}
