package health

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	redis "github.com/redis/go-redis/v9"
)

// Probes is the production Checker. BackendURL should name a cheap backend
// endpoint; any response below 500 counts as reachable.
type Probes struct {
	Redis      *redis.Client
	HTTP       *http.Client
	BackendURL string
}

// PingBackend implements Checker.
func (p Probes) PingBackend(ctx context.Context, timeout time.Duration) error {
	if p.BackendURL == "" {
		return errors.New("backend not configured")
	}
	client := p.HTTP
	if client == nil {
		client = http.DefaultClient
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.BackendURL, nil)
	if err != nil {
		return err
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	_ = resp.Body.Close()
	if resp.StatusCode >= http.StatusInternalServerError {
		return fmt.Errorf("backend status %d", resp.StatusCode)
	}
	return nil
}

// PingRedis implements Checker.
func (p Probes) PingRedis(ctx context.Context, timeout time.Duration) error {
	if p.Redis == nil {
		return errors.New("redis not configured")
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return p.Redis.Ping(ctx).Err()
}
