package health_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/Vintech-code/Vapeshop/internal/health"
)

type stubChecker struct {
	backendErr error
	redisErr   error
	delay      time.Duration
}

func (s stubChecker) PingBackend(context.Context, time.Duration) error {
	time.Sleep(s.delay)
	return s.backendErr
}

func (s stubChecker) PingRedis(context.Context, time.Duration) error {
	time.Sleep(s.delay)
	return s.redisErr
}

func ready(t *testing.T, h health.Handler) (int, map[string]string) {
	t.Helper()
	rr := httptest.NewRecorder()
	h.Ready(rr, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	var status map[string]string
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &status))
	return rr.Code, status
}

func TestLive(t *testing.T) {
	rr := httptest.NewRecorder()
	health.Handler{}.Live(rr, httptest.NewRequest(http.MethodGet, "/health/live", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	require.Equal(t, "ok", rr.Body.String())
}

func TestReadyProbesConcurrently(t *testing.T) {
	start := time.Now()
	code, status := ready(t, health.Handler{Checker: stubChecker{delay: 100 * time.Millisecond}})
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, map[string]string{"backend": "ok", "redis": "ok", "checkout": "ok"}, status)
	require.Less(t, time.Since(start), 190*time.Millisecond)
}

func TestReadyReportsFailedDependency(t *testing.T) {
	code, status := ready(t, health.Handler{Checker: stubChecker{backendErr: errors.New("backend down")}})
	require.Equal(t, http.StatusServiceUnavailable, code)
	require.Equal(t, "backend down", status["backend"])
	require.Equal(t, "ok", status["redis"])
	require.Equal(t, "unavailable", status["checkout"])

	code, status = ready(t, health.Handler{})
	require.Equal(t, http.StatusServiceUnavailable, code)
	require.Equal(t, "dependencies unavailable", status["status"])
}
