package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	validator "github.com/go-playground/validator/v10"
	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/extra/redisotel/v9"
	redis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/Vintech-code/Vapeshop/internal/catalog"
	"github.com/Vintech-code/Vapeshop/internal/checkout"
	"github.com/Vintech-code/Vapeshop/internal/common"
	"github.com/Vintech-code/Vapeshop/internal/config"
	"github.com/Vintech-code/Vapeshop/internal/events"
	"github.com/Vintech-code/Vapeshop/internal/fiscal"
	"github.com/Vintech-code/Vapeshop/internal/obs"
	"github.com/Vintech-code/Vapeshop/internal/ratelimit"
	"github.com/Vintech-code/Vapeshop/internal/receipt"
	"github.com/Vintech-code/Vapeshop/internal/register"
	"github.com/Vintech-code/Vapeshop/internal/resilience"
	"github.com/Vintech-code/Vapeshop/internal/stock"
)

// BackendTarget labels shop backend calls in metrics and breaker logs.
const BackendTarget = "shop-backend"

// Dependencies enumerates the process-wide clients shared by the API and the
// worker.
type Dependencies struct {
	Config    *config.Config
	Logger    zerolog.Logger
	Redis     *redis.Client
	Backend   *resilience.HTTPClient
	Validator *validator.Validate

	closers []func(context.Context) error
}

// New connects Redis, starts tracing when enabled and builds the backend
// client. Close releases everything New opened.
func New(ctx context.Context, cfg *config.Config, component string) (*Dependencies, error) {
	logger := obs.NewLogger(cfg.LogFormat, cfg.LogLevel).With().
		Str("env", cfg.AppEnv).
		Str("component", component).
		Logger()
	d := &Dependencies{Config: cfg, Logger: logger, Validator: register.NewValidator()}

	if cfg.TracingEnabled {
		shutdown, err := obs.InitTracer(ctx, obs.TracingConfig{
			ServiceName:   obs.DefaultServiceName + "-" + component,
			Component:     component,
			Endpoint:      cfg.OTLPEndpoint,
			Exporter:      cfg.TracingExporter,
			SamplingRatio: cfg.TracingSampling,
			Environment:   cfg.AppEnv,
		})
		if err != nil {
			logger.Error().Err(err).Msg("initialise tracing")
		} else {
			d.closers = append(d.closers, shutdown)
		}
	}

	rdb, err := NewRedis(ctx, cfg, logger)
	if err != nil {
		_ = d.Close(ctx)
		return nil, err
	}
	d.Redis = rdb
	d.closers = append(d.closers, func(context.Context) error { return rdb.Close() })

	d.Backend = NewBackendClient(cfg, logger)
	return d, nil
}

// Close runs the registered shutdown hooks in reverse order.
func (d *Dependencies) Close(ctx context.Context) error {
	var errs []error
	for i := len(d.closers) - 1; i >= 0; i-- {
		if err := d.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	d.closers = nil
	return errors.Join(errs...)
}

// NewRedis opens and pings the Redis client with otel instrumentation.
func NewRedis(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*redis.Client, error) {
	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	rdb := redis.NewClient(opts)
	if err := redisotel.InstrumentTracing(rdb); err != nil {
		logger.Error().Err(err).Msg("instrument redis tracing")
	}
	if cfg.MetricsEnabled {
		if err := redisotel.InstrumentMetrics(rdb); err != nil {
			logger.Error().Err(err).Msg("instrument redis metrics")
		}
	}
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return rdb, nil
}

// NewBackendClient builds the resilient client every shop backend call goes
// through.
func NewBackendClient(cfg *config.Config, logger zerolog.Logger) *resilience.HTTPClient {
	return &resilience.HTTPClient{
		Client: &http.Client{Transport: obs.ClientTransport(http.DefaultTransport)},
		Breakers: &resilience.Breakers{
			MinRequests:  cfg.CircuitMinRequests,
			FailureRatio: cfg.CircuitFailureRatio,
			OpenFor:      cfg.CircuitOpenFor,
			Target:       BackendTarget,
			Logger:       &logger,
		},
		BaseBackoff: cfg.RetryBase,
		MaxAttempts: cfg.RetryMaxAttempts,
		Jitter:      cfg.RetryJitter,
		Timeout:     cfg.OutboundTimeout,
		Target:      BackendTarget,
		Logger:      &logger,
	}
}

// RedisConnOpt derives the asynq connection settings from REDIS_URL.
func RedisConnOpt(cfg *config.Config) (asynq.RedisConnOpt, error) {
	opt, err := asynq.ParseRedisURI(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url for asynq: %w", err)
	}
	return opt, nil
}

// Engine is the register wiring: catalog, fiscal rules, checkout and the HTTP
// facade with its checkout guards.
type Engine struct {
	Catalog  catalog.Provider
	Rules    fiscal.Provider
	Checkout *checkout.Service
	Sessions *register.Store
	Register *register.Handler
	Idem     common.Idem
	Limit    ratelimit.Handler
}

// EngineOptions carries the collaborators that differ between production and
// tests.
type EngineOptions struct {
	Receipts receipt.Dispatcher
	Now      func() time.Time
}

// NewEngine assembles the checkout engine on top of d.
func (d *Dependencies) NewEngine(opts EngineOptions) (*Engine, error) {
	cfg := d.Config
	client, err := catalog.NewRESTClient(cfg.BackendBaseURL, d.Backend, d.Logger)
	if err != nil {
		return nil, err
	}
	products := &catalog.CachedProvider{
		Next:   client,
		Cache:  catalog.NewCache(d.Redis, cfg.CatalogCacheTTL),
		Logger: d.Logger,
	}

	var rules fiscal.Provider = fiscal.StaticProvider{}
	if cfg.FiscalSource == "rest" {
		rules = fiscal.RESTProvider{BaseURL: cfg.BackendBaseURL, HTTP: d.Backend}
	}

	bus := &events.Bus{
		Store:     events.RedisStreamStore{R: d.Redis, Stream: cfg.EventStream, MaxLen: cfg.EventStreamMaxLen},
		Notifiers: []events.Notifier{events.LogNotifier{Logger: d.Logger}},
		Now:       opts.Now,
	}

	svc := &checkout.Service{
		Catalog: products,
		Rules:   rules,
		Saga: &stock.Saga{
			Decrementer: products,
			Timeout:     cfg.StockDecrementTimeout,
			Concurrency: cfg.StockConcurrency,
			Logger:      d.Logger,
		},
		Events:            bus,
		Receipts:          opts.Receipts,
		Scale:             cfg.CurrencyScale,
		LowStockThreshold: cfg.LowStockThreshold,
		Now:               opts.Now,
		Logger:            d.Logger,
	}

	sessions := &register.Store{TTL: cfg.SessionTTL, Now: opts.Now, Logger: d.Logger}
	limiter, err := NewCheckoutLimiter(cfg, d.Redis)
	if err != nil {
		return nil, err
	}
	logger := d.Logger
	return &Engine{
		Catalog:  products,
		Rules:    rules,
		Checkout: svc,
		Sessions: sessions,
		Register: &register.Handler{
			Store:             sessions,
			Catalog:           products,
			Service:           svc,
			Validate:          d.Validator,
			LowStockThreshold: cfg.LowStockThreshold,
			Scale:             cfg.CurrencyScale,
			Logger:            d.Logger,
		},
		Idem: common.Idem{R: d.Redis, TTL: cfg.IdempotencyTTL},
		Limit: ratelimit.Handler{
			Limiter: limiter,
			Config: ratelimit.Config{
				Key:    ratelimit.ByClientIP("checkout:"),
				Window: cfg.CheckoutRateWindow,
				Max:    cfg.CheckoutRateLimit,
			},
			OnError: func(err error) { logger.Warn().Err(err).Msg("checkout_rate_limit_unavailable") },
		},
	}, nil
}

// NewCheckoutLimiter picks the checkout rate limiter configured by
// CHECKOUT_RATE_STRATEGY.
func NewCheckoutLimiter(cfg *config.Config, rdb *redis.Client) (ratelimit.Limiter, error) {
	if cfg.CheckoutRateStrategy == "sliding" {
		return ratelimit.Sliding{Client: rdb, Prefix: "pos:sliding:"}, nil
	}
	return ratelimit.NewRedisFixed(rdb, "")
}

// SessionRoutes mounts the register routes with idempotency and rate limiting
// on checkout.
func (e *Engine) SessionRoutes() http.Handler {
	return e.Register.Routes(e.Limit.Middleware, e.Idem.Middleware)
}
