package receipt

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"

	"github.com/Vintech-code/Vapeshop/internal/common"
	"github.com/Vintech-code/Vapeshop/internal/lock"
	"github.com/Vintech-code/Vapeshop/internal/obs"
)

// TypeEmailReceipt is the asynq task type carrying an e-mailed receipt.
const TypeEmailReceipt = "receipt:email"

// Dispatcher hands a receipt to the customer delivery channel.
type Dispatcher interface {
	Dispatch(ctx context.Context, r Receipt) error
}

// Enqueuer is the part of *asynq.Client used by TaskDispatcher.
type Enqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// NewEmailTask encodes r as a receipt:email task.
func NewEmailTask(r Receipt) (*asynq.Task, error) {
	payload, err := json.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("encode receipt: %w", err)
	}
	return asynq.NewTask(TypeEmailReceipt, payload), nil
}

// TaskDispatcher enqueues e-mail receipts for the worker. The sale id is the
// task id, so a sale is enqueued at most once while the task is retained.
type TaskDispatcher struct {
	Client    Enqueuer
	Queue     string
	MaxRetry  int
	Retention time.Duration
}

// Dispatch implements Dispatcher. Receipts not marked for e-mail are ignored.
func (d TaskDispatcher) Dispatch(ctx context.Context, r Receipt) error {
	if r.Option != OptionEmail {
		return nil
	}
	if d.Client == nil {
		return errors.New("receipt: task client not configured")
	}
	task, err := NewEmailTask(r)
	if err != nil {
		return err
	}
	opts := []asynq.Option{asynq.TaskID("receipt:" + r.SaleID.String())}
	if d.Queue != "" {
		opts = append(opts, asynq.Queue(d.Queue))
	}
	if d.MaxRetry > 0 {
		opts = append(opts, asynq.MaxRetry(d.MaxRetry))
	}
	if d.Retention > 0 {
		opts = append(opts, asynq.Retention(d.Retention))
	}
	if _, err := d.Client.EnqueueContext(ctx, task, opts...); err != nil {
		if errors.Is(err, asynq.ErrTaskIDConflict) || errors.Is(err, asynq.ErrDuplicateTask) {
			return nil
		}
		return fmt.Errorf("enqueue %s: %w", TypeEmailReceipt, err)
	}
	return nil
}

// EmailHandler delivers receipt:email tasks. A Redis marker per sale keeps a
// receipt from being mailed twice when a task is redelivered.
type EmailHandler struct {
	Mail    common.EmailSender
	Locker  lock.Locker
	SentTTL time.Duration
	Logger  zerolog.Logger
}

// ProcessTask implements asynq.Handler.
func (h EmailHandler) ProcessTask(ctx context.Context, t *asynq.Task) error {
	var r Receipt
	if err := json.Unmarshal(t.Payload(), &r); err != nil {
		obs.ReceiptDeliveries.WithLabelValues("invalid").Inc()
		return fmt.Errorf("decode receipt: %w: %w", err, asynq.SkipRetry)
	}
	if err := r.Customer.CheckOption(OptionEmail); err != nil {
		obs.ReceiptDeliveries.WithLabelValues("invalid").Inc()
		return fmt.Errorf("%w: %w", err, asynq.SkipRetry)
	}
	if h.Mail == nil {
		return errors.New("receipt: mail sender not configured")
	}
	ttl := h.SentTTL
	if ttl <= 0 {
		ttl = 7 * 24 * time.Hour
	}
	sale := r.SaleID.String()
	err := h.Locker.TryLock(ctx, "receipt:"+sale, time.Minute, func(ctx context.Context) error {
		sentKey := "pos:receipt:sent:" + sale
		n, err := h.Locker.R.Exists(ctx, sentKey).Result()
		if err != nil {
			return err
		}
		if n > 0 {
			obs.ReceiptDeliveries.WithLabelValues("duplicate").Inc()
			return nil
		}
		subject := fmt.Sprintf("Your Vapeshop receipt %s", sale[:8])
		if err := h.Mail.Send(r.Customer.Email, subject, Text(r)); err != nil {
			obs.ReceiptDeliveries.WithLabelValues("error").Inc()
			return fmt.Errorf("send receipt: %w", err)
		}
		obs.ReceiptDeliveries.WithLabelValues("sent").Inc()
		h.Logger.Info().Str("sale_id", sale).Msg("receipt_sent")
		return h.Locker.R.Set(ctx, sentKey, "1", ttl).Err()
	})
	if errors.Is(err, lock.ErrHeld) {
		h.Logger.Debug().Str("sale_id", sale).Msg("receipt_in_flight")
		return nil
	}
	return err
}
