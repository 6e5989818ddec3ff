package catalog

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"
)

var (
	// ErrUnknownItem is returned when the backend has no product with the requested id.
	ErrUnknownItem = errors.New("catalog: unknown item")
	// ErrInsufficientStock is returned when a decrement exceeds the stock on record.
	ErrInsufficientStock = errors.New("catalog: insufficient stock")
)

// Item is a sellable product as known by the backend. It is read-only to the
// checkout engine.
type Item struct {
	ID             int64           `json:"id"`
	Name           string          `json:"name"`
	UnitPrice      decimal.Decimal `json:"unitPrice"`
	AvailableStock int             `json:"availableStock"`
	Category       string          `json:"category"`
	CategoryID     *int64          `json:"categoryId,omitempty"`
	Unit           string          `json:"unit,omitempty"`
}

// Provider lists products and applies stock decrements. Decrement failures are
// per item; callers decide how to reconcile them.
type Provider interface {
	ListProducts(ctx context.Context) ([]Item, error)
	DecrementStock(ctx context.Context, itemID int64, quantity int) error
}

// Index maps items by id. Later duplicates win.
func Index(items []Item) map[int64]Item {
	out := make(map[int64]Item, len(items))
	for _, it := range items {
		out[it.ID] = it
	}
	return out
}

// Refresher is implemented by providers that can bypass their own caching.
type Refresher interface {
	Refresh(ctx context.Context) ([]Item, error)
}

// Latest returns the freshest listing p can offer.
func Latest(ctx context.Context, p Provider) ([]Item, error) {
	if r, ok := p.(Refresher); ok {
		return r.Refresh(ctx)
	}
	return p.ListProducts(ctx)
}
