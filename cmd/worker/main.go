package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"

	"github.com/Vintech-code/Vapeshop/internal/app"
	"github.com/Vintech-code/Vapeshop/internal/common"
	"github.com/Vintech-code/Vapeshop/internal/config"
	"github.com/Vintech-code/Vapeshop/internal/lock"
	"github.com/Vintech-code/Vapeshop/internal/obs"
	"github.com/Vintech-code/Vapeshop/internal/receipt"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	deps, err := app.New(ctx, cfg, "worker")
	if err != nil {
		panic(err)
	}
	logger := deps.Logger
	defer func() {
		if err := deps.Close(context.Background()); err != nil {
			logger.Error().Err(err).Msg("close dependencies")
		}
	}()
	if cfg.MetricsEnabled {
		obs.MustRegisterDomainMetrics(nil)
	}

	redisOpt, err := app.RedisConnOpt(cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("configure task queue")
	}
	srv := asynq.NewServer(redisOpt, asynq.Config{
		Concurrency: cfg.WorkerConcurrency,
		Queues:      map[string]int{cfg.QueueName: 1},
		Logger:      asynqLogger{logger: logger},
		ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
			retried, _ := asynq.GetRetryCount(ctx)
			maxRetry, _ := asynq.GetMaxRetry(ctx)
			logger.Error().Err(err).Str("type", task.Type()).Int("retry", retried).Int("max_retry", maxRetry).Msg("task_failed")
		}),
	})

	mux := asynq.NewServeMux()
	mux.Handle(receipt.TypeEmailReceipt, receipt.EmailHandler{
		Mail:    common.LogEmailSender{Logger: logger.With().Str("from", cfg.MailFrom).Logger()},
		Locker:  lock.Locker{R: deps.Redis, RetryBackoff: cfg.LockRetryBackoff},
		SentTTL: cfg.ReceiptSentTTL,
		Logger:  logger,
	})

	if err := srv.Start(mux); err != nil {
		logger.Error().Err(err).Msg("worker start")
		os.Exit(1)
	}
	logger.Info().Str("queue", cfg.QueueName).Msg("worker started")
	<-ctx.Done()
	srv.Shutdown()
	logger.Info().Msg("worker shutdown complete")
}
