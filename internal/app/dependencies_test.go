package app_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-chi/chi/v5"
	redis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/Vintech-code/Vapeshop/internal/app"
	"github.com/Vintech-code/Vapeshop/internal/common"
	"github.com/Vintech-code/Vapeshop/internal/config"
	"github.com/Vintech-code/Vapeshop/internal/events"
	"github.com/Vintech-code/Vapeshop/internal/ratelimit"
	"github.com/Vintech-code/Vapeshop/internal/register"
)

type shopBackend struct {
	mu    sync.Mutex
	stock map[int64]int
	puts  int
}

func (b *shopBackend) product(id int64) map[string]any {
	names := map[int64]string{1: "Mango Ice 30ml", 2: "Mint 60ml"}
	return map[string]any{
		"id":          id,
		"name":        names[id],
		"price":       "25.99",
		"stock":       b.stock[id],
		"category":    map[string]any{"name": "E-Liquid"},
		"category_id": 7,
		"unit":        "bottle",
	}
}

func (b *shopBackend) routes() http.Handler {
	r := chi.NewRouter()
	r.Get("/products", func(w http.ResponseWriter, _ *http.Request) {
		b.mu.Lock()
		defer b.mu.Unlock()
		common.JSON(w, http.StatusOK, []any{b.product(1), b.product(2)})
	})
	r.Get("/products/{id}", func(w http.ResponseWriter, r *http.Request) {
		id, _ := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
		b.mu.Lock()
		defer b.mu.Unlock()
		common.JSON(w, http.StatusOK, b.product(id))
	})
	r.Put("/products/{id}", func(w http.ResponseWriter, r *http.Request) {
		id, _ := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
		var body struct {
			Stock int `json:"stock"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		b.mu.Lock()
		b.stock[id] = body.Stock
		b.puts++
		b.mu.Unlock()
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{}`))
	})
	r.Get("/categories", func(w http.ResponseWriter, _ *http.Request) {
		common.JSON(w, http.StatusOK, []any{
			map[string]any{"id": 7, "name": "E-Liquid", "settings": map[string]any{"taxRate": 10, "discount": "5"}},
		})
	})
	return r
}

func newEngine(t *testing.T, backend *shopBackend) (*app.Engine, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	srv := httptest.NewServer(backend.routes())
	t.Cleanup(srv.Close)

	cfg := &config.Config{
		BackendBaseURL:        srv.URL,
		FiscalSource:          "rest",
		CurrencyScale:         2,
		LowStockThreshold:     3,
		SessionTTL:            time.Hour,
		CatalogCacheTTL:       time.Minute,
		IdempotencyTTL:        time.Hour,
		OutboundTimeout:       2 * time.Second,
		RetryBase:             time.Millisecond,
		RetryMaxAttempts:      1,
		CircuitMinRequests:    5,
		CircuitFailureRatio:   0.5,
		CircuitOpenFor:        time.Second,
		StockDecrementTimeout: 2 * time.Second,
		StockConcurrency:      2,
		CheckoutRateLimit:     10,
		CheckoutRateWindow:    time.Minute,
	}
	logger := zerolog.Nop()
	deps := &app.Dependencies{
		Config:    cfg,
		Logger:    logger,
		Redis:     rdb,
		Backend:   app.NewBackendClient(cfg, logger),
		Validator: register.NewValidator(),
	}
	engine, err := deps.NewEngine(app.EngineOptions{})
	require.NoError(t, err)
	return engine, rdb
}

func call(t *testing.T, h http.Handler, method, path string, body any, headers map[string]string) (int, map[string]any) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	out := map[string]any{}
	if rr.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &out))
	}
	return rr.Code, out
}

func TestEngineSettlesSaleAgainstBackend(t *testing.T) {
	backend := &shopBackend{stock: map[int64]int{1: 4, 2: 20}}
	engine, rdb := newEngine(t, backend)
	routes := engine.SessionRoutes()

	status, body := call(t, routes, http.MethodPost, "/", map[string]any{"cashier": "maria"}, nil)
	require.Equal(t, http.StatusCreated, status)
	id := body["data"].(map[string]any)["id"].(string)

	status, body = call(t, routes, http.MethodPost, "/"+id+"/items", map[string]any{"itemId": 1, "quantity": 2}, nil)
	require.Equal(t, http.StatusOK, status)
	quote := body["data"].(map[string]any)["quote"].(map[string]any)
	require.Equal(t, "54.32", quote["payable"])

	checkout := map[string]any{"payments": []map[string]any{{"method": "card", "amount": "54.32"}}}
	headers := map[string]string{common.IdempotencyHeader: "sale-1"}
	status, body = call(t, routes, http.MethodPost, "/"+id+"/checkout", checkout, headers)
	require.Equal(t, http.StatusOK, status, body)
	result := body["data"].(map[string]any)["result"].(map[string]any)
	require.Equal(t, "settled", result["state"])
	require.Len(t, result["lowStock"], 1)

	backend.mu.Lock()
	require.Equal(t, 2, backend.stock[1])
	require.Equal(t, 1, backend.puts)
	backend.mu.Unlock()

	status, body = call(t, routes, http.MethodPost, "/"+id+"/checkout", checkout, headers)
	require.Equal(t, http.StatusConflict, status)
	require.Equal(t, "IDEMPOTENT_REPLAY", body["error"].(map[string]any)["code"])

	entries, err := rdb.XRange(t.Context(), events.DefaultStream, "-", "+").Result()
	require.NoError(t, err)
	topics := make([]string, 0, len(entries))
	for _, e := range entries {
		topics = append(topics, e.Values["topic"].(string))
	}
	require.Equal(t, "sale.settled,stock.low", strings.Join(topics, ","))
}

func TestEngineRejectsChangedStock(t *testing.T) {
	backend := &shopBackend{stock: map[int64]int{1: 4, 2: 20}}
	engine, _ := newEngine(t, backend)
	routes := engine.SessionRoutes()

	_, body := call(t, routes, http.MethodPost, "/", nil, nil)
	id := body["data"].(map[string]any)["id"].(string)
	status, _ := call(t, routes, http.MethodPost, "/"+id+"/items", map[string]any{"itemId": 1, "quantity": 3}, nil)
	require.Equal(t, http.StatusOK, status)

	backend.mu.Lock()
	backend.stock[1] = 1
	backend.mu.Unlock()

	checkout := map[string]any{"payments": []map[string]any{{"method": "cash", "amount": 100}}}
	headers := map[string]string{common.IdempotencyHeader: "sale-2"}
	status, body = call(t, routes, http.MethodPost, "/"+id+"/checkout", checkout, headers)
	require.Equal(t, http.StatusConflict, status)
	errBody := body["error"].(map[string]any)
	require.Equal(t, "STOCK_CHANGED", errBody["code"])
	items := errBody["details"].(map[string]any)["items"].([]any)
	require.EqualValues(t, 1, items[0].(map[string]any)["available"])

	backend.mu.Lock()
	require.Zero(t, backend.puts)
	backend.stock[1] = 4
	backend.mu.Unlock()

	status, body = call(t, routes, http.MethodPost, "/"+id+"/checkout", checkout, headers)
	require.Equal(t, http.StatusOK, status, body)
	result := body["data"].(map[string]any)["result"].(map[string]any)
	require.Equal(t, "settled", result["state"])

	backend.mu.Lock()
	require.Equal(t, 1, backend.puts)
	require.Equal(t, 1, backend.stock[1])
	backend.mu.Unlock()
}

func TestNewCheckoutLimiterStrategy(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	lim, err := app.NewCheckoutLimiter(&config.Config{CheckoutRateStrategy: "sliding"}, rdb)
	require.NoError(t, err)
	require.IsType(t, ratelimit.Sliding{}, lim)

	lim, err = app.NewCheckoutLimiter(&config.Config{CheckoutRateStrategy: "fixed"}, rdb)
	require.NoError(t, err)
	require.IsType(t, ratelimit.Fixed{}, lim)

	allowed, remaining, _, err := lim.Allow(t.Context(), "checkout:10.0.0.1", time.Minute, 2)
	require.NoError(t, err)
	require.True(t, allowed)
	require.Equal(t, 1, remaining)
}
