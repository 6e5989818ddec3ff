package health

import (
	"context"
	"net/http"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/Vintech-code/Vapeshop/internal/common"
)

var notReady atomic.Bool

// SetReady flips the process readiness. Shutdown clears it so load balancers
// stop routing registers here before the server drains.
func SetReady(ready bool) { notReady.Store(!ready) }

// IsReady reports the current readiness flag.
func IsReady() bool { return !notReady.Load() }

// Checker probes the dependencies a checkout needs.
type Checker interface {
	PingBackend(ctx context.Context, timeout time.Duration) error
	PingRedis(ctx context.Context, timeout time.Duration) error
}

// Handler exposes HTTP handlers for health endpoints.
type Handler struct {
	Checker        Checker
	BackendTimeout time.Duration
	RedisTimeout   time.Duration
}

// Live reports liveness status.
func (h Handler) Live(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// Ready probes the shop backend and Redis concurrently. Checkout is only
// reported ok when both answer.
func (h Handler) Ready(w http.ResponseWriter, r *http.Request) {
	if !IsReady() {
		common.JSON(w, http.StatusServiceUnavailable, map[string]string{"status": "shutting_down"})
		return
	}
	if h.Checker == nil {
		common.JSON(w, http.StatusServiceUnavailable, map[string]string{"status": "dependencies unavailable"})
		return
	}
	var backendErr, redisErr error
	var g errgroup.Group
	g.Go(func() error {
		backendErr = h.Checker.PingBackend(r.Context(), h.backendTimeout())
		return nil
	})
	g.Go(func() error {
		redisErr = h.Checker.PingRedis(r.Context(), h.redisTimeout())
		return nil
	})
	_ = g.Wait()

	status := map[string]string{"backend": probeStatus(backendErr), "redis": probeStatus(redisErr), "checkout": "ok"}
	code := http.StatusOK
	if backendErr != nil || redisErr != nil {
		status["checkout"] = "unavailable"
		code = http.StatusServiceUnavailable
	}
	common.JSON(w, code, status)
}

func probeStatus(err error) string {
	if err != nil {
		return err.Error()
	}
	return "ok"
}

func (h Handler) backendTimeout() time.Duration {
	if h.BackendTimeout <= 0 {
		return time.Second
	}
	return h.BackendTimeout
}

func (h Handler) redisTimeout() time.Duration {
	if h.RedisTimeout <= 0 {
		return 300 * time.Millisecond
	}
	return h.RedisTimeout
}
