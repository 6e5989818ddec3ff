package checkout

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/Vintech-code/Vapeshop/internal/audit"
	"github.com/Vintech-code/Vapeshop/internal/cart"
	"github.com/Vintech-code/Vapeshop/internal/catalog"
	"github.com/Vintech-code/Vapeshop/internal/events"
	"github.com/Vintech-code/Vapeshop/internal/fiscal"
	"github.com/Vintech-code/Vapeshop/internal/money"
	"github.com/Vintech-code/Vapeshop/internal/obs"
	"github.com/Vintech-code/Vapeshop/internal/payment"
	"github.com/Vintech-code/Vapeshop/internal/pricing"
	"github.com/Vintech-code/Vapeshop/internal/receipt"
	"github.com/Vintech-code/Vapeshop/internal/stock"
)

var (
	// ErrEmptyCart is returned when checking out a cart without lines.
	ErrEmptyCart = errors.New("cart is empty")
	// ErrBackendUnavailable wraps failures to load the catalog or fiscal rules.
	ErrBackendUnavailable = errors.New("backend unavailable")
)

// Emitter publishes domain events. *events.Bus satisfies it.
type Emitter interface {
	Emit(ctx context.Context, topic string, aggregateID uuid.UUID, payload any) (events.Event, error)
}

// Request carries the cashier's input for one checkout attempt. Trail, when
// set, receives the register activity instead of Service.Trail.
type Request struct {
	Payments      []payment.Allocation
	Cashier       string
	Customer      receipt.Customer
	ReceiptOption receipt.Option
	Trail         audit.Recorder
}

// Result is the immutable outcome of one checkout attempt.
type Result struct {
	SaleID         uuid.UUID        `json:"saleId"`
	State          State            `json:"state"`
	Subtotal       decimal.Decimal  `json:"subtotal"`
	Discount       decimal.Decimal  `json:"discount"`
	Tax            decimal.Decimal  `json:"tax"`
	GrandTotal     decimal.Decimal  `json:"grandTotal"`
	Payable        decimal.Decimal  `json:"payable"`
	AmountTendered decimal.Decimal  `json:"amountTendered"`
	Change         decimal.Decimal  `json:"change"`
	Succeeded      bool             `json:"succeeded"`
	FailureReason  string           `json:"failureReason,omitempty"`
	Rule           fiscal.Rule      `json:"rule"`
	Outcome        *stock.Outcome   `json:"-"`
	Receipt        *receipt.Receipt `json:"receipt,omitempty"`
	LowStock       []cart.Line      `json:"lowStock,omitempty"`
	Steps          []Step           `json:"steps"`
	Err            error            `json:"-"`
}

// Service validates, settles and records checkouts against the shop backend.
type Service struct {
	Catalog           catalog.Provider
	Rules             fiscal.Provider
	Saga              *stock.Saga
	Events            Emitter
	Receipts          receipt.Dispatcher
	Trail             audit.Recorder
	Scale             int32
	LowStockThreshold int
	Now               func() time.Time
	Logger            zerolog.Logger
}

func (s *Service) now() time.Time {
	if s != nil && s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

func (s *Service) scale() int32 {
	if s.Scale <= 0 {
		return money.DefaultScale
	}
	return s.Scale
}

func (s *Service) logger(ctx context.Context) *zerolog.Logger {
	if l := zerolog.Ctx(ctx); l.GetLevel() != zerolog.Disabled {
		return l
	}
	return &s.Logger
}

// advance moves the attempt along its lifecycle. The checkout flow only asks
// for legal moves, so a refusal is logged as a bug and the attempt keeps its
// current state.
func advance(log *zerolog.Logger, a *Attempt, next State) {
	if err := a.Transition(next); err != nil {
		log.Error().Err(err).Str("state", string(a.State())).Msg("checkout_transition_failed")
	}
}

// Quote prices the cart with the current fiscal rules without touching stock.
func (s *Service) Quote(ctx context.Context, session *cart.Session) (pricing.Summary, error) {
	if s == nil {
		return pricing.Summary{}, errors.New("checkout service not configured")
	}
	rules, err := fiscal.Load(ctx, s.Rules)
	if err != nil {
		return pricing.Summary{}, fmt.Errorf("%w: %w", ErrBackendUnavailable, err)
	}
	return pricing.Compute(session.Lines(), rules), nil
}

// Checkout runs one attempt: validate against fresh backend data, apply the
// stock decrements, then settle. The cart is cleared only when the attempt
// settles; every other outcome leaves it untouched for a retry.
func (s *Service) Checkout(ctx context.Context, session *cart.Session, req Request) Result {
	if s == nil {
		err := errors.New("checkout service not configured")
		return Result{State: StateRejected, FailureReason: err.Error(), Err: err}
	}
	ctx, span := otel.Tracer("checkout").Start(ctx, "checkout.attempt")
	defer span.End()

	attempt := NewAttempt(s.now)
	res := Result{SaleID: uuid.New()}
	span.SetAttributes(attribute.String("sale.id", res.SaleID.String()))
	trail := req.Trail
	if trail == nil {
		trail = s.Trail
	}
	log := s.logger(ctx).With().Str("sale_id", res.SaleID.String()).Logger()

	finish := func(err error) Result {
		res.State = attempt.State()
		res.Steps = attempt.History()
		res.Succeeded = res.State == StateSettled
		res.Err = err
		if err != nil {
			res.FailureReason = err.Error()
			span.RecordError(err)
			span.SetStatus(codes.Error, string(res.State))
			if trail != nil {
				trail.Record(ctx, req.Cashier, audit.ActionTransactionFailed, err.Error())
			}
			log.Warn().Err(err).Str("state", string(res.State)).Msg("checkout_failed")
		}
		obs.CheckoutAttempts.WithLabelValues(string(res.State)).Inc()
		return res
	}
	reject := func(err error) Result {
		advance(&log, attempt, StateRejected)
		return finish(err)
	}

	advance(&log, attempt, StateValidating)
	if session == nil || session.IsEmpty() {
		return reject(ErrEmptyCart)
	}
	if s.Catalog == nil {
		return reject(fmt.Errorf("%w: catalog not configured", ErrBackendUnavailable))
	}
	latest, err := catalog.Latest(ctx, s.Catalog)
	if err != nil {
		return reject(fmt.Errorf("%w: load catalog: %w", ErrBackendUnavailable, err))
	}
	rules, err := fiscal.Load(ctx, s.Rules)
	if err != nil {
		return reject(fmt.Errorf("%w: %w", ErrBackendUnavailable, err))
	}

	lines := session.Lines()
	summary := pricing.Compute(lines, rules)
	payable := summary.Payable(s.scale())
	res.Subtotal = summary.Subtotal
	res.Discount = summary.Discount
	res.Tax = summary.Tax
	res.GrandTotal = summary.GrandTotal
	res.Payable = payable
	res.Rule = summary.Rule
	res.AmountTendered = payment.Tendered(req.Payments)
	res.Change = payment.ComputeChange(req.Payments, payable)

	if err := payment.ValidateAllocations(req.Payments, payable); err != nil {
		return reject(err)
	}
	if err := req.Customer.CheckOption(req.ReceiptOption); err != nil {
		return reject(err)
	}
	if err := stock.Revalidate(lines, latest); err != nil {
		return reject(err)
	}
	advance(&log, attempt, StateApproved)

	outcome := s.applyStock(ctx, stock.Plan(lines))
	res.Outcome = &outcome
	if err := outcome.Err(); err != nil {
		advance(&log, attempt, StateRolledBack)
		s.emit(ctx, log, events.TopicSaleRolledBack, res.SaleID, map[string]any{
			"cashier":   req.Cashier,
			"succeeded": outcome.Succeeded,
			"failed":    failedItems(outcome.Failed),
		})
		return finish(err)
	}
	advance(&log, attempt, StateSettled)

	session.RefreshStock(latest)
	remaining := make([]cart.Line, 0, len(lines))
	for _, l := range session.LowStock(s.LowStockThreshold) {
		l.Available -= l.Quantity
		remaining = append(remaining, l)
	}
	res.LowStock = remaining
	session.Clear()

	r := receipt.Build(receipt.Input{
		SaleID:   res.SaleID,
		Cashier:  req.Cashier,
		IssuedAt: s.now(),
		Lines:    lines,
		Summary:  summary,
		Payments: req.Payments,
		Customer: req.Customer,
		Option:   req.ReceiptOption,
		Scale:    s.scale(),
	})
	res.Receipt = &r

	s.emit(ctx, log, events.TopicSaleSettled, res.SaleID, map[string]any{
		"cashier":  req.Cashier,
		"payable":  payable.StringFixed(s.scale()),
		"tendered": res.AmountTendered.String(),
		"change":   res.Change.String(),
		"items":    stock.Plan(lines),
	})
	for _, l := range remaining {
		s.emit(ctx, log, events.TopicStockLow, res.SaleID, map[string]any{
			"itemId":    l.ItemID,
			"name":      l.Name,
			"remaining": l.Available,
		})
		if trail != nil {
			trail.Record(ctx, req.Cashier, audit.ActionLowStock, fmt.Sprintf("%s has %d left", l.Name, l.Available))
		}
	}
	if s.Receipts != nil {
		if err := s.Receipts.Dispatch(ctx, r); err != nil {
			log.Error().Err(err).Msg("receipt_dispatch_failed")
		}
	}
	if trail != nil {
		trail.Record(ctx, req.Cashier, audit.ActionTransactionComplete, money.Format(payable, s.scale()))
	}
	obs.CheckoutGrandTotal.Observe(payable.InexactFloat64())
	log.Info().Str("payable", payable.String()).Int("lines", len(lines)).Msg("checkout_settled")
	return finish(nil)
}

func (s *Service) applyStock(ctx context.Context, plan []stock.Decrement) stock.Outcome {
	if s.Saga == nil {
		saga := &stock.Saga{Decrementer: s.Catalog, Logger: s.Logger}
		return saga.Apply(ctx, plan)
	}
	return s.Saga.Apply(ctx, plan)
}

func (s *Service) emit(ctx context.Context, log zerolog.Logger, topic string, sale uuid.UUID, payload any) {
	if s.Events == nil {
		return
	}
	if _, err := s.Events.Emit(ctx, topic, sale, payload); err != nil {
		log.Error().Err(err).Str("topic", topic).Msg("emit_event_failed")
	}
}

func failedItems(failed []stock.Failure) []map[string]any {
	out := make([]map[string]any, 0, len(failed))
	for _, f := range failed {
		out = append(out, map[string]any{
			"itemId":   f.Decrement.ItemID,
			"quantity": f.Decrement.Quantity,
			"error":    f.Err.Error(),
		})
	}
	return out
}
