package cart

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/Vintech-code/Vapeshop/internal/catalog"
)

var (
	// ErrInvalidQuantity is returned when a requested quantity is below one or
	// exceeds the stock available for the item.
	ErrInvalidQuantity = errors.New("invalid quantity")
	// ErrItemNotFound is returned when the cart holds no line for an item.
	ErrItemNotFound = errors.New("item not in cart")
)

// DefaultLowStockThreshold flags lines that would leave fewer units on the shelf.
const DefaultLowStockThreshold = 3

// Line is one product entry in the cart. UnitPrice is captured when the item is
// first added; Available is the last stock figure seen for the item.
type Line struct {
	ItemID    int64           `json:"itemId"`
	Name      string          `json:"name"`
	Category  string          `json:"category"`
	UnitPrice decimal.Decimal `json:"unitPrice"`
	Quantity  int             `json:"quantity"`
	Available int             `json:"available"`
}

// Total returns UnitPrice * Quantity.
func (l Line) Total() decimal.Decimal {
	return l.UnitPrice.Mul(decimal.NewFromInt(int64(l.Quantity)))
}

// Session holds the lines of a single register's active sale. It is not safe
// for concurrent use; callers serialize access per session.
type Session struct {
	ID        uuid.UUID
	CreatedAt time.Time

	lines []Line
	index map[int64]int
}

// NewSession starts an empty cart.
func NewSession(now time.Time) *Session {
	return &Session{
		ID:        uuid.New(),
		CreatedAt: now,
		index:     make(map[int64]int),
	}
}

// AddItem adds qty units of item, incrementing an existing line. The resulting
// quantity may not exceed the item's available stock.
func (s *Session) AddItem(item catalog.Item, qty int) error {
	if qty < 1 {
		return fmt.Errorf("%w: quantity %d must be at least 1", ErrInvalidQuantity, qty)
	}
	s.ensureIndex()
	if pos, ok := s.index[item.ID]; ok {
		line := &s.lines[pos]
		next := line.Quantity + qty
		if next > item.AvailableStock {
			return fmt.Errorf("%w: %s has %d in stock, cart would hold %d", ErrInvalidQuantity, item.Name, item.AvailableStock, next)
		}
		line.Quantity = next
		line.Available = item.AvailableStock
		return nil
	}
	if qty > item.AvailableStock {
		return fmt.Errorf("%w: %s has %d in stock, requested %d", ErrInvalidQuantity, item.Name, item.AvailableStock, qty)
	}
	s.index[item.ID] = len(s.lines)
	s.lines = append(s.lines, Line{
		ItemID:    item.ID,
		Name:      item.Name,
		Category:  strings.TrimSpace(item.Category),
		UnitPrice: item.UnitPrice,
		Quantity:  qty,
		Available: item.AvailableStock,
	})
	return nil
}

// RemoveItem drops the line for itemID. Removing an absent item is a no-op.
func (s *Session) RemoveItem(itemID int64) {
	s.ensureIndex()
	pos, ok := s.index[itemID]
	if !ok {
		return
	}
	s.lines = append(s.lines[:pos], s.lines[pos+1:]...)
	delete(s.index, itemID)
	for i := pos; i < len(s.lines); i++ {
		s.index[s.lines[i].ItemID] = i
	}
}

// SetQuantity replaces the quantity of an existing line, clamping it to the
// available stock. Absent items are ignored. A line whose item is out of
// stock cannot be changed, only removed.
func (s *Session) SetQuantity(itemID int64, qty int) error {
	if qty < 1 {
		return fmt.Errorf("%w: quantity %d must be at least 1", ErrInvalidQuantity, qty)
	}
	s.ensureIndex()
	pos, ok := s.index[itemID]
	if !ok {
		return nil
	}
	if err := s.lines[pos].inStock(); err != nil {
		return err
	}
	s.lines[pos].Quantity = clamp(qty, s.lines[pos].Available)
	return nil
}

// AdjustQuantity moves a line's quantity by delta, keeping it within
// [1, available]. Absent items are ignored.
func (s *Session) AdjustQuantity(itemID int64, delta int) error {
	s.ensureIndex()
	pos, ok := s.index[itemID]
	if !ok {
		return nil
	}
	if err := s.lines[pos].inStock(); err != nil {
		return err
	}
	s.lines[pos].Quantity = clamp(s.lines[pos].Quantity+delta, s.lines[pos].Available)
	return nil
}

func (l Line) inStock() error {
	if l.Available < 1 {
		return fmt.Errorf("%w: %s is out of stock", ErrInvalidQuantity, l.Name)
	}
	return nil
}

// Lines returns a copy of the cart lines in insertion order.
func (s *Session) Lines() []Line {
	out := make([]Line, len(s.lines))
	copy(out, s.lines)
	return out
}

// Line returns the line for itemID.
func (s *Session) Line(itemID int64) (Line, error) {
	s.ensureIndex()
	pos, ok := s.index[itemID]
	if !ok {
		return Line{}, fmt.Errorf("%w: %d", ErrItemNotFound, itemID)
	}
	return s.lines[pos], nil
}

func (s *Session) Len() int { return len(s.lines) }

func (s *Session) IsEmpty() bool { return len(s.lines) == 0 }

// Clear empties the cart.
func (s *Session) Clear() {
	s.lines = nil
	s.index = make(map[int64]int)
}

// Categories lists the distinct line categories in first-seen order.
func (s *Session) Categories() []string {
	seen := make(map[string]struct{}, len(s.lines))
	out := make([]string, 0, len(s.lines))
	for _, l := range s.lines {
		key := strings.ToLower(l.Category)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, l.Category)
	}
	return out
}

// TotalQuantity sums the quantities of all lines.
func (s *Session) TotalQuantity() int {
	total := 0
	for _, l := range s.lines {
		total += l.Quantity
	}
	return total
}

// RefreshStock records newer availability for lines found in items and clamps
// quantities down to it. Quantities never drop below 1; lines whose stock fell
// to zero are caught at checkout.
func (s *Session) RefreshStock(items []catalog.Item) {
	latest := catalog.Index(items)
	for i := range s.lines {
		it, ok := latest[s.lines[i].ItemID]
		if !ok {
			continue
		}
		s.lines[i].Available = it.AvailableStock
		if s.lines[i].Quantity > it.AvailableStock && it.AvailableStock >= 1 {
			s.lines[i].Quantity = it.AvailableStock
		}
	}
}

// LowStock returns the lines that would leave fewer than threshold units in
// stock once sold. A non-positive threshold uses DefaultLowStockThreshold.
func (s *Session) LowStock(threshold int) []Line {
	if threshold <= 0 {
		threshold = DefaultLowStockThreshold
	}
	var out []Line
	for _, l := range s.lines {
		if l.Available-l.Quantity < threshold {
			out = append(out, l)
		}
	}
	return out
}

func (s *Session) ensureIndex() {
	if s.index == nil {
		s.index = make(map[int64]int, len(s.lines))
		for i, l := range s.lines {
			s.index[l.ItemID] = i
		}
	}
}

func clamp(qty, available int) int {
	if qty > available {
		qty = available
	}
	if qty < 1 {
		qty = 1
	}
	return qty
}
