package resilience_test

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/Vintech-code/Vapeshop/internal/resilience"
)

func TestHTTPClientRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		require.Equal(t, `{"stock":8}`, string(body))
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	}))
	t.Cleanup(srv.Close)

	client := &resilience.HTTPClient{
		Client:      srv.Client(),
		Breakers:    &resilience.Breakers{MinRequests: 10, FailureRatio: 1, OpenFor: time.Second},
		BaseBackoff: time.Millisecond,
		MaxAttempts: 3,
		Target:      "retry-test",
	}
	req, err := http.NewRequest(http.MethodPut, srv.URL+"/products/1", strings.NewReader(`{"stock":8}`))
	require.NoError(t, err)

	resp, err := client.Do(context.Background(), req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.EqualValues(t, 3, calls.Load())
}

func TestHTTPClientDoesNotRetryClientErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusUnprocessableEntity)
	}))
	t.Cleanup(srv.Close)

	client := &resilience.HTTPClient{Client: srv.Client(), BaseBackoff: time.Millisecond, MaxAttempts: 3}
	req, err := http.NewRequest(http.MethodGet, srv.URL, nil)
	require.NoError(t, err)

	resp, err := client.Do(context.Background(), req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	require.EqualValues(t, 1, calls.Load())
}

func TestHTTPClientOpenBreakerRejects(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	t.Cleanup(srv.Close)

	client := &resilience.HTTPClient{
		Client:      srv.Client(),
		Breakers:    &resilience.Breakers{MinRequests: 1, OpenFor: time.Minute},
		MaxAttempts: 1,
	}
	req, err := http.NewRequest(http.MethodGet, srv.URL, nil)
	require.NoError(t, err)

	_, err = client.Do(context.Background(), req)
	require.Error(t, err)

	_, err = client.Do(context.Background(), req)
	require.ErrorIs(t, err, resilience.ErrOpenCircuit)
}

func TestHTTPClientBreakerIsPerEndpoint(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasPrefix(r.URL.Path, "/api/categories") {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(srv.Close)

	breakers := &resilience.Breakers{MinRequests: 2, OpenFor: time.Minute, Target: "shop-backend"}
	client := &resilience.HTTPClient{Client: srv.Client(), Breakers: breakers, MaxAttempts: 1}
	get := func(path string) error {
		req, err := http.NewRequest(http.MethodGet, srv.URL+path, nil)
		require.NoError(t, err)
		resp, err := client.Do(context.Background(), req)
		if err == nil {
			resp.Body.Close()
		}
		return err
	}

	require.Error(t, get("/api/categories"))
	require.Error(t, get("/api/categories"))
	require.ErrorIs(t, get("/api/categories"), resilience.ErrOpenCircuit)
	require.Equal(t, resilience.Open, breakers.For("categories").State())

	require.NoError(t, get("/api/products"))
	require.NoError(t, get("/api/products/7"))
	require.Equal(t, resilience.Closed, breakers.For("products").State())
}

func TestEndpoint(t *testing.T) {
	require.Equal(t, "products", resilience.Endpoint("/products/12"))
	require.Equal(t, "products", resilience.Endpoint("/api/v1/products"))
	require.Equal(t, "categories", resilience.Endpoint("/categories/"))
	require.Equal(t, "root", resilience.Endpoint("/"))
}
