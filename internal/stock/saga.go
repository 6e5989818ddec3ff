package stock

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"github.com/Vintech-code/Vapeshop/internal/obs"
)

// ErrPartialDecrement is returned when at least one decrement of a checkout failed.
var ErrPartialDecrement = errors.New("partial stock decrement failure")

// DefaultTimeout bounds each decrement call.
const DefaultTimeout = 5 * time.Second

// Decrementer applies a single stock decrement. catalog.Provider satisfies it.
type Decrementer interface {
	DecrementStock(ctx context.Context, itemID int64, quantity int) error
}

// Failure pairs a decrement with the reason it failed.
type Failure struct {
	Decrement Decrement
	Err       error
}

// Outcome records which decrements were applied and which were not.
type Outcome struct {
	Succeeded []Decrement
	Failed    []Failure
}

// OK reports whether every decrement succeeded.
func (o Outcome) OK() bool { return len(o.Failed) == 0 }

// Err returns a *PartialFailureError when anything failed.
func (o Outcome) Err() error {
	if o.OK() {
		return nil
	}
	return &PartialFailureError{Succeeded: o.Succeeded, Failed: o.Failed}
}

// PartialFailureError carries the exact succeeded and failed sets so the
// inventory can be reconciled by hand.
type PartialFailureError struct {
	Succeeded []Decrement
	Failed    []Failure
}

func (e *PartialFailureError) Error() string {
	failed := make([]string, 0, len(e.Failed))
	for _, f := range e.Failed {
		failed = append(failed, fmt.Sprintf("#%d: %v", f.Decrement.ItemID, f.Err))
	}
	return fmt.Sprintf("%s: %d applied, %d failed [%s]", ErrPartialDecrement, len(e.Succeeded), len(e.Failed), strings.Join(failed, "; "))
}

// Unwrap exposes ErrPartialDecrement alongside the individual causes.
func (e *PartialFailureError) Unwrap() []error {
	out := make([]error, 0, len(e.Failed)+1)
	out = append(out, ErrPartialDecrement)
	for _, f := range e.Failed {
		out = append(out, f.Err)
	}
	return out
}

// Saga dispatches every decrement of a checkout and waits for all of them.
// There is no compensation; failures are reported, not undone.
type Saga struct {
	Decrementer Decrementer
	Timeout     time.Duration
	Concurrency int
	Logger      zerolog.Logger
}

// Apply runs plan. Results keep plan order within each set. A call that
// exceeds its timeout is recorded as a stock change.
func (s *Saga) Apply(ctx context.Context, plan []Decrement) Outcome {
	ctx, span := otel.Tracer("stock").Start(ctx, "stock.saga")
	defer span.End()
	span.SetAttributes(attribute.Int("stock.decrements", len(plan)))

	results := make([]error, len(plan))
	if s == nil || s.Decrementer == nil {
		for i := range results {
			results[i] = errors.New("stock: decrementer not configured")
		}
		return collect(plan, results)
	}

	var g errgroup.Group
	if s.Concurrency > 0 {
		g.SetLimit(s.Concurrency)
	}
	for i, dec := range plan {
		g.Go(func() error {
			results[i] = s.apply(ctx, dec)
			return nil
		})
	}
	_ = g.Wait()

	out := collect(plan, results)
	for _, f := range out.Failed {
		s.Logger.Warn().Err(f.Err).Int64("item_id", f.Decrement.ItemID).Int("quantity", f.Decrement.Quantity).Msg("stock_decrement_failed")
	}
	span.SetAttributes(attribute.Int("stock.failed", len(out.Failed)))
	return out
}

func (s *Saga) apply(ctx context.Context, dec Decrement) error {
	timeout := s.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	err := s.Decrementer.DecrementStock(callCtx, dec.ItemID, dec.Quantity)
	switch {
	case err == nil:
		obs.StockDecrements.WithLabelValues("ok").Inc()
		return nil
	case errors.Is(err, context.DeadlineExceeded) || errors.Is(callCtx.Err(), context.DeadlineExceeded):
		obs.StockDecrements.WithLabelValues("timeout").Inc()
		return fmt.Errorf("%w: decrement of #%d timed out after %s: %w", ErrStockChanged, dec.ItemID, timeout, err)
	default:
		obs.StockDecrements.WithLabelValues("error").Inc()
		return err
	}
}

func collect(plan []Decrement, results []error) Outcome {
	var out Outcome
	for i, dec := range plan {
		if results[i] == nil {
			out.Succeeded = append(out.Succeeded, dec)
			continue
		}
		out.Failed = append(out.Failed, Failure{Decrement: dec, Err: results[i]})
	}
	return out
}
