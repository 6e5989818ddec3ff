package catalog_test

import (
	"context"
	"errors"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	redis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/Vintech-code/Vapeshop/internal/catalog"
)

type countingProvider struct {
	items      []catalog.Item
	lists      int
	decrements int
	failWith   error
}

func (p *countingProvider) ListProducts(context.Context) ([]catalog.Item, error) {
	p.lists++
	return p.items, nil
}

func (p *countingProvider) DecrementStock(context.Context, int64, int) error {
	p.decrements++
	return p.failWith
}

func newRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}

func TestCachedProviderServesFromCache(t *testing.T) {
	mr, client := newRedis(t)
	next := &countingProvider{items: []catalog.Item{{ID: 1, Name: "Pod", UnitPrice: decimal.RequireFromString("12.50"), AvailableStock: 4, Category: "Devices"}}}
	p := &catalog.CachedProvider{Next: next, Cache: catalog.NewCache(client, time.Minute), Logger: zerolog.Nop()}
	ctx := context.Background()

	first, err := p.ListProducts(ctx)
	require.NoError(t, err)
	second, err := p.ListProducts(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, next.lists)
	require.True(t, second[0].UnitPrice.Equal(first[0].UnitPrice))
	require.True(t, mr.Exists(catalog.DefaultListKey))
}

func TestCachedProviderInvalidatesOnDecrement(t *testing.T) {
	mr, client := newRedis(t)
	next := &countingProvider{failWith: errors.New("backend down")}
	p := &catalog.CachedProvider{Next: next, Cache: catalog.NewCache(client, time.Minute), Logger: zerolog.Nop()}
	ctx := context.Background()

	_, err := p.ListProducts(ctx)
	require.NoError(t, err)
	require.True(t, mr.Exists(catalog.DefaultListKey))

	err = p.DecrementStock(ctx, 1, 1)
	require.Error(t, err)
	require.False(t, mr.Exists(catalog.DefaultListKey), "listing dropped even when the decrement fails")
}

func TestLatestBypassesCache(t *testing.T) {
	_, client := newRedis(t)
	next := &countingProvider{}
	p := &catalog.CachedProvider{Next: next, Cache: catalog.NewCache(client, time.Minute), Logger: zerolog.Nop()}
	ctx := context.Background()

	_, err := p.ListProducts(ctx)
	require.NoError(t, err)
	_, err = catalog.Latest(ctx, p)
	require.NoError(t, err)
	require.Equal(t, 2, next.lists)
}

func TestCacheWithoutClientIsNoop(t *testing.T) {
	c := catalog.NewCache(nil, 0)
	ok, err := c.GetJSON(context.Background(), "k", &struct{}{})
	require.NoError(t, err)
	require.False(t, ok)
	require.NoError(t, c.SetJSON(context.Background(), "k", 1))
}
