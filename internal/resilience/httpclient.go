package resilience

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// HTTPClient wraps an http.Client with per-attempt timeouts, retries with
// backoff and a circuit breaker per backend endpoint. Only transport errors
// and 5xx responses are retried; 4xx responses are returned to the caller
// untouched.
type HTTPClient struct {
	Client      *http.Client
	Breakers    *Breakers
	BaseBackoff time.Duration
	MaxAttempts int
	Jitter      float64
	Timeout     time.Duration
	Target      string
	Logger      *zerolog.Logger

	once sync.Once
}

// Do executes req. The body is buffered so it can be replayed on retry.
func (cl *HTTPClient) Do(ctx context.Context, req *http.Request) (*http.Response, error) {
	if cl == nil || cl.Client == nil {
		return nil, errors.New("resilience: http client not configured")
	}
	breaker := cl.breakers().For(Endpoint(req.URL.Path))
	label := breaker.label()
	maxAttempts := cl.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 1
	}

	body, err := bufferBody(req)
	if err != nil {
		return nil, err
	}

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if !breaker.Allow(ctx) {
			lastErr = ErrOpenCircuit
			BackendCallsTotal.WithLabelValues(label, "rejected").Inc()
			break
		}
		resp, err := cl.doOnce(ctx, req, body)
		if err == nil && resp.StatusCode < http.StatusInternalServerError {
			breaker.Report(ctx, true)
			BackendCallsTotal.WithLabelValues(label, "ok").Inc()
			return resp, nil
		}
		if err == nil {
			lastErr = fmt.Errorf("%s: %s", label, resp.Status)
			_, _ = io.Copy(io.Discard, resp.Body)
			_ = resp.Body.Close()
		} else {
			lastErr = err
		}
		breaker.Report(ctx, false)
		BackendCallsTotal.WithLabelValues(label, "error").Inc()
		cl.logger().Debug().Err(lastErr).Str("target", label).Int("attempt", attempt).Msg("backend_call_failed")
		if attempt == maxAttempts || ctx.Err() != nil {
			break
		}
		timer := time.NewTimer(Backoff(cl.BaseBackoff, attempt, cl.Jitter))
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}
	return nil, lastErr
}

func (cl *HTTPClient) doOnce(ctx context.Context, req *http.Request, body []byte) (*http.Response, error) {
	callCtx := ctx
	var cancel context.CancelFunc = func() {}
	if cl.Timeout > 0 {
		callCtx, cancel = context.WithTimeout(ctx, cl.Timeout)
	}
	attempt := req.Clone(callCtx)
	if body != nil {
		attempt.Body = io.NopCloser(bytes.NewReader(body))
		attempt.GetBody = func() (io.ReadCloser, error) {
			return io.NopCloser(bytes.NewReader(body)), nil
		}
	}
	resp, err := cl.Client.Do(attempt)
	if err != nil {
		cancel()
		return nil, err
	}
	resp.Body = cancelOnClose{ReadCloser: resp.Body, cancel: cancel}
	return resp, nil
}

func (cl *HTTPClient) breakers() *Breakers {
	cl.once.Do(func() {
		if cl.Breakers == nil {
			cl.Breakers = &Breakers{MinRequests: 5, FailureRatio: 0.5, Target: cl.Target, Logger: cl.Logger}
		}
	})
	return cl.Breakers
}

func (cl *HTTPClient) logger() *zerolog.Logger {
	if cl.Logger == nil {
		return &breakerNopLogger
	}
	return cl.Logger
}

// cancelOnClose keeps the attempt context alive until the caller has read the body.
type cancelOnClose struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (c cancelOnClose) Close() error {
	err := c.ReadCloser.Close()
	c.cancel()
	return err
}

func bufferBody(req *http.Request) ([]byte, error) {
	if req.Body == nil || req.Body == http.NoBody {
		return nil, nil
	}
	data, err := io.ReadAll(req.Body)
	if err != nil {
		return nil, err
	}
	_ = req.Body.Close()
	req.Body = io.NopCloser(bytes.NewReader(data))
	return data, nil
}
