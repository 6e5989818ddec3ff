package ratelimit

import (
	"context"
	"errors"
	"time"

	redis "github.com/redis/go-redis/v9"
	limiter "github.com/ulule/limiter/v3"
	limiterredis "github.com/ulule/limiter/v3/drivers/store/redis"
)

// Fixed adapts a ulule/limiter store to Limiter using fixed windows.
type Fixed struct {
	Store limiter.Store
}

// NewRedisFixed builds a Fixed limiter on a Redis store.
func NewRedisFixed(rdb *redis.Client, prefix string) (Fixed, error) {
	if rdb == nil {
		return Fixed{}, errors.New("ratelimit: redis client not configured")
	}
	if prefix == "" {
		prefix = "pos:limiter"
	}
	store, err := limiterredis.NewStoreWithOptions(rdb, limiter.StoreOptions{Prefix: prefix})
	if err != nil {
		return Fixed{}, err
	}
	return Fixed{Store: store}, nil
}

// Allow implements Limiter.
func (f Fixed) Allow(ctx context.Context, key string, window time.Duration, max int) (bool, int, time.Time, error) {
	if f.Store == nil || max <= 0 || window <= 0 {
		return true, max, time.Now().Add(window), nil
	}
	lim := limiter.New(f.Store, limiter.Rate{Period: window, Limit: int64(max)})
	lctx, err := lim.Get(ctx, key)
	if err != nil {
		return false, 0, time.Now().Add(window), err
	}
	return !lctx.Reached, int(lctx.Remaining), time.Unix(lctx.Reset, 0), nil
}
