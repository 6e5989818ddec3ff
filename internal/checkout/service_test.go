package checkout_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/Vintech-code/Vapeshop/internal/audit"
	"github.com/Vintech-code/Vapeshop/internal/cart"
	"github.com/Vintech-code/Vapeshop/internal/catalog"
	"github.com/Vintech-code/Vapeshop/internal/checkout"
	"github.com/Vintech-code/Vapeshop/internal/events"
	"github.com/Vintech-code/Vapeshop/internal/fiscal"
	"github.com/Vintech-code/Vapeshop/internal/payment"
	"github.com/Vintech-code/Vapeshop/internal/receipt"
	"github.com/Vintech-code/Vapeshop/internal/stock"
)

func d(v string) decimal.Decimal { return decimal.RequireFromString(v) }

type fakeCatalog struct {
	mu         sync.Mutex
	items      map[int64]catalog.Item
	failIDs    map[int64]error
	decrements []stock.Decrement
	listErr    error
}

func newCatalog(items ...catalog.Item) *fakeCatalog {
	c := &fakeCatalog{items: map[int64]catalog.Item{}, failIDs: map[int64]error{}}
	for _, it := range items {
		c.items[it.ID] = it
	}
	return c
}

func (c *fakeCatalog) ListProducts(context.Context) ([]catalog.Item, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.listErr != nil {
		return nil, c.listErr
	}
	out := make([]catalog.Item, 0, len(c.items))
	for _, it := range c.items {
		out = append(out, it)
	}
	return out, nil
}

func (c *fakeCatalog) DecrementStock(_ context.Context, id int64, qty int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.failIDs[id]; err != nil {
		return err
	}
	it := c.items[id]
	it.AvailableStock -= qty
	c.items[id] = it
	c.decrements = append(c.decrements, stock.Decrement{ItemID: id, Quantity: qty})
	return nil
}

func (c *fakeCatalog) setStock(id int64, n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	it := c.items[id]
	it.AvailableStock = n
	c.items[id] = it
}

type captureDispatcher struct{ receipts []receipt.Receipt }

func (c *captureDispatcher) Dispatch(_ context.Context, r receipt.Receipt) error {
	c.receipts = append(c.receipts, r)
	return nil
}

var (
	mango = catalog.Item{ID: 1, Name: "Mango Ice", UnitPrice: d("25.99"), AvailableStock: 10, Category: "Liquids"}
	grape = catalog.Item{ID: 2, Name: "Grape", UnitPrice: d("20.00"), AvailableStock: 4, Category: "Liquids"}
	pod   = catalog.Item{ID: 3, Name: "Pod Kit", UnitPrice: d("100.00"), AvailableStock: 5, Category: "Devices"}
)

type fixture struct {
	svc      *checkout.Service
	catalog  *fakeCatalog
	store    *events.MemoryStore
	receipts *captureDispatcher
	trail    *audit.Trail
}

func newFixture(items ...catalog.Item) fixture {
	cat := newCatalog(items...)
	store := &events.MemoryStore{}
	disp := &captureDispatcher{}
	trail := &audit.Trail{Logger: zerolog.Nop()}
	svc := &checkout.Service{
		Catalog:  cat,
		Rules:    fiscal.StaticProvider{{Category: "Liquids", TaxRatePercent: d("10"), DiscountPercent: d("5")}},
		Saga:     &stock.Saga{Decrementer: cat, Timeout: time.Second, Logger: zerolog.Nop()},
		Events:   &events.Bus{Store: store},
		Receipts: disp,
		Trail:    trail,
		Now:      func() time.Time { return time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC) },
		Logger:   zerolog.Nop(),
	}
	return fixture{svc: svc, catalog: cat, store: store, receipts: disp, trail: trail}
}

func cash(amount string) []payment.Allocation {
	return []payment.Allocation{{Method: payment.MethodCash, Amount: d(amount)}}
}

func topics(store *events.MemoryStore) []string {
	var out []string
	for _, e := range store.Events {
		out = append(out, e.Topic)
	}
	return out
}

func TestCheckoutSettlesAndClearsCart(t *testing.T) {
	f := newFixture(mango)
	session := cart.NewSession(time.Now())
	require.NoError(t, session.AddItem(mango, 2))

	res := f.svc.Checkout(context.Background(), session, checkout.Request{
		Payments:      cash("60.00"),
		Cashier:       "maria",
		Customer:      receipt.Customer{Email: "juan@example.com"},
		ReceiptOption: receipt.OptionEmail,
	})
	require.NoError(t, res.Err)
	require.True(t, res.Succeeded)
	require.Equal(t, checkout.StateSettled, res.State)
	require.True(t, res.Payable.Equal(d("54.32")))
	require.True(t, res.Change.Equal(d("5.68")))
	require.True(t, session.IsEmpty())
	require.Equal(t, []stock.Decrement{{ItemID: 1, Quantity: 2}}, f.catalog.decrements)
	require.NotNil(t, res.Receipt)
	require.Len(t, f.receipts.receipts, 1)
	require.Equal(t, []string{events.TopicSaleSettled}, topics(f.store))
	require.Equal(t, audit.ActionTransactionComplete, f.trail.Entries()[0].Action)
	require.Len(t, res.Steps, 3)
}

func TestCheckoutEmptyCartRejected(t *testing.T) {
	f := newFixture(mango)
	res := f.svc.Checkout(context.Background(), cart.NewSession(time.Now()), checkout.Request{})
	require.ErrorIs(t, res.Err, checkout.ErrEmptyCart)
	require.Equal(t, checkout.StateRejected, res.State)
	require.False(t, res.Succeeded)
	require.NotEmpty(t, res.FailureReason)
}

func TestCheckoutPaymentErrorsPreserveCart(t *testing.T) {
	f := newFixture(mango)
	session := cart.NewSession(time.Now())
	require.NoError(t, session.AddItem(mango, 2))

	res := f.svc.Checkout(context.Background(), session, checkout.Request{Payments: cash("50")})
	require.ErrorIs(t, res.Err, payment.ErrInsufficientPayment)
	require.Equal(t, checkout.StateRejected, res.State)
	require.True(t, res.AmountTendered.Equal(d("50")))

	res = f.svc.Checkout(context.Background(), session, checkout.Request{Payments: []payment.Allocation{
		{Method: payment.MethodCard, Amount: d("54.32")},
		{Method: payment.MethodCash, Amount: d("0")},
	}})
	require.ErrorIs(t, res.Err, payment.ErrCardSplitViolation)

	require.Equal(t, 1, session.Len())
	require.Empty(t, f.catalog.decrements)
	require.Empty(t, f.store.Events)
}

func TestCheckoutCardExactTotal(t *testing.T) {
	f := newFixture(mango)
	session := cart.NewSession(time.Now())
	require.NoError(t, session.AddItem(mango, 2))

	quote, err := f.svc.Quote(context.Background(), session)
	require.NoError(t, err)
	res := f.svc.Checkout(context.Background(), session, checkout.Request{Payments: payment.CardOnly(quote.Payable(2))})
	require.NoError(t, res.Err)
	require.True(t, res.Change.IsZero())
}

func TestCheckoutStockChangedNamesItem(t *testing.T) {
	f := newFixture(mango)
	session := cart.NewSession(time.Now())
	require.NoError(t, session.AddItem(mango, 2))
	f.catalog.setStock(1, 1)

	res := f.svc.Checkout(context.Background(), session, checkout.Request{Payments: cash("100")})
	require.ErrorIs(t, res.Err, stock.ErrStockChanged)
	var changed *stock.ChangedError
	require.True(t, errors.As(res.Err, &changed))
	require.Equal(t, []int64{1}, changed.ItemIDs())

	line, err := session.Line(1)
	require.NoError(t, err)
	require.Equal(t, 2, line.Quantity)
	require.Empty(t, f.catalog.decrements)
}

func TestCheckoutPartialDecrementRollsBack(t *testing.T) {
	f := newFixture(mango, grape)
	f.catalog.failIDs[2] = errors.New("backend 500")
	session := cart.NewSession(time.Now())
	require.NoError(t, session.AddItem(mango, 1))
	require.NoError(t, session.AddItem(grape, 1))

	res := f.svc.Checkout(context.Background(), session, checkout.Request{Payments: cash("100")})
	require.ErrorIs(t, res.Err, stock.ErrPartialDecrement)
	require.Equal(t, checkout.StateRolledBack, res.State)
	require.NotNil(t, res.Outcome)
	require.Equal(t, []stock.Decrement{{ItemID: 1, Quantity: 1}}, res.Outcome.Succeeded)
	require.Len(t, res.Outcome.Failed, 1)
	require.Equal(t, int64(2), res.Outcome.Failed[0].Decrement.ItemID)
	require.Equal(t, 2, session.Len())
	require.Equal(t, []string{events.TopicSaleRolledBack}, topics(f.store))
	require.Empty(t, f.receipts.receipts)
}

func TestCheckoutLowStockEvents(t *testing.T) {
	f := newFixture(grape)
	session := cart.NewSession(time.Now())
	require.NoError(t, session.AddItem(grape, 2))

	res := f.svc.Checkout(context.Background(), session, checkout.Request{Payments: cash("50")})
	require.NoError(t, res.Err)
	require.Len(t, res.LowStock, 1)
	require.Equal(t, 2, res.LowStock[0].Available)
	require.Equal(t, []string{events.TopicSaleSettled, events.TopicStockLow}, topics(f.store))
}

func TestCheckoutMixedCategoriesUseFallbackTax(t *testing.T) {
	f := newFixture(mango, pod)
	session := cart.NewSession(time.Now())
	require.NoError(t, session.AddItem(mango, 1))
	require.NoError(t, session.AddItem(pod, 1))

	quote, err := f.svc.Quote(context.Background(), session)
	require.NoError(t, err)
	require.True(t, quote.MixedCategories)
	require.True(t, quote.Discount.IsZero())
	require.True(t, quote.Tax.Equal(d("15.1188")))
}

func TestCheckoutBackendFailureRejects(t *testing.T) {
	f := newFixture(mango)
	session := cart.NewSession(time.Now())
	require.NoError(t, session.AddItem(mango, 1))
	f.catalog.listErr = errors.New("connection refused")

	res := f.svc.Checkout(context.Background(), session, checkout.Request{Payments: cash("100")})
	require.ErrorIs(t, res.Err, checkout.ErrBackendUnavailable)
	require.Equal(t, checkout.StateRejected, res.State)
	require.Equal(t, 1, session.Len())
}

func TestCheckoutIssuesFreshResults(t *testing.T) {
	f := newFixture(mango)
	session := cart.NewSession(time.Now())
	require.NoError(t, session.AddItem(mango, 1))

	first := f.svc.Checkout(context.Background(), session, checkout.Request{Payments: cash("1")})
	second := f.svc.Checkout(context.Background(), session, checkout.Request{Payments: cash("100")})
	require.NotEqual(t, uuid.Nil, first.SaleID)
	require.NotEqual(t, first.SaleID, second.SaleID)
	require.Equal(t, checkout.StateRejected, first.State)
	require.Equal(t, checkout.StateSettled, second.State)
}
