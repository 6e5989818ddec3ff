package stock

import (
	"errors"
	"fmt"
	"strings"

	"github.com/Vintech-code/Vapeshop/internal/cart"
	"github.com/Vintech-code/Vapeshop/internal/catalog"
)

// ErrStockChanged is returned when stock no longer covers the cart.
var ErrStockChanged = errors.New("stock changed")

// Decrement instructs the catalog to remove Quantity units of ItemID.
type Decrement struct {
	ItemID   int64 `json:"itemId"`
	Quantity int   `json:"quantity"`
}

// Plan emits one decrement per cart line, in line order.
func Plan(lines []cart.Line) []Decrement {
	out := make([]Decrement, 0, len(lines))
	for _, l := range lines {
		out = append(out, Decrement{ItemID: l.ItemID, Quantity: l.Quantity})
	}
	return out
}

// Shortage names an item whose latest stock is below the requested quantity.
type Shortage struct {
	ItemID    int64  `json:"itemId"`
	Name      string `json:"name"`
	Requested int    `json:"requested"`
	Available int    `json:"available"`
}

// ChangedError lists every line the latest stock can no longer cover.
type ChangedError struct {
	Shortages []Shortage
}

func (e *ChangedError) Error() string {
	parts := make([]string, 0, len(e.Shortages))
	for _, s := range e.Shortages {
		parts = append(parts, fmt.Sprintf("%s (#%d) requested %d, available %d", s.Name, s.ItemID, s.Requested, s.Available))
	}
	return fmt.Sprintf("%s: %s", ErrStockChanged, strings.Join(parts, "; "))
}

func (e *ChangedError) Unwrap() error { return ErrStockChanged }

// ItemIDs returns the ids of the short items.
func (e *ChangedError) ItemIDs() []int64 {
	out := make([]int64, 0, len(e.Shortages))
	for _, s := range e.Shortages {
		out = append(out, s.ItemID)
	}
	return out
}

// Revalidate checks each line against the latest catalog snapshot. Items
// missing from latest count as out of stock.
func Revalidate(lines []cart.Line, latest []catalog.Item) error {
	idx := catalog.Index(latest)
	var short []Shortage
	for _, l := range lines {
		available := 0
		name := l.Name
		if it, ok := idx[l.ItemID]; ok {
			available = it.AvailableStock
			if it.Name != "" {
				name = it.Name
			}
		}
		if l.Quantity > available {
			short = append(short, Shortage{ItemID: l.ItemID, Name: name, Requested: l.Quantity, Available: available})
		}
	}
	if len(short) > 0 {
		return &ChangedError{Shortages: short}
	}
	return nil
}
