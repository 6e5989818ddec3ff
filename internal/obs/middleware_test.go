package obs_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/Vintech-code/Vapeshop/internal/obs"
)

func TestHTTPMetricsLabels(t *testing.T) {
	registry := prometheus.NewRegistry()
	metrics := obs.NewHTTPMetrics("pos", []float64{1, 10}, registry)

	r := chi.NewRouter()
	r.Use(obs.HTTPObs{Metrics: metrics}.Middleware)
	r.Get("/api/v1/sessions/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})

	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/v1/sessions/abc", nil))
	require.Equal(t, http.StatusNoContent, rr.Code)

	total := testutil.ToFloat64(metrics.ReqTotal.WithLabelValues(http.MethodGet, "/api/v1/sessions/{id}", "204"))
	require.Equal(t, float64(1), total)
	require.NotZero(t, testutil.CollectAndCount(metrics.ReqDur))
	require.Zero(t, testutil.ToFloat64(metrics.InFlight))
}

func TestRequestLoggerAttachesContextLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := zerolog.New(&buf)

	r := chi.NewRouter()
	r.Use(obs.RequestLogger{Logger: logger}.Middleware)
	r.Post("/api/v1/sessions", func(w http.ResponseWriter, r *http.Request) {
		zerolog.Ctx(r.Context()).Info().Msg("handler_log")
		obs.TagSession(r.Context(), "6f1c2d3e")
		w.WriteHeader(http.StatusCreated)
	})

	req := httptest.NewRequest(http.MethodPost, "/api/v1/sessions", nil)
	req.Header.Set(obs.CashierHeader, "maria")
	r.ServeHTTP(httptest.NewRecorder(), req)

	lines := bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n"))
	require.Len(t, lines, 2)

	var handlerLog, accessLog map[string]any
	require.NoError(t, json.Unmarshal(lines[0], &handlerLog))
	require.NoError(t, json.Unmarshal(lines[1], &accessLog))
	require.Equal(t, "maria", handlerLog["cashier"])
	require.Equal(t, "http_request", accessLog["message"])
	require.Equal(t, "/api/v1/sessions", accessLog["route"])
	require.Equal(t, float64(http.StatusCreated), accessLog["status"])
	require.Equal(t, "6f1c2d3e", accessLog["session_id"])
	require.NotContains(t, handlerLog, "session_id")
}

func TestTagSessionOutsideRequestLogger(t *testing.T) {
	obs.TagSession(context.Background(), "ignored")
	require.Nil(t, obs.TagsFromContext(context.Background()))

	ctx, tags := obs.WithTags(context.Background())
	obs.TagSession(ctx, "abc")
	require.Equal(t, "abc", tags.Session())
}

func TestParseBucketsCSV(t *testing.T) {
	require.Equal(t, []float64{5, 10.5}, obs.ParseBucketsCSV(" 5, x, -1, 10.5,"))
	require.Nil(t, obs.ParseBucketsCSV(""))
}
