package payment

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/Vintech-code/Vapeshop/internal/money"
)

// Method identifies how an allocation is paid.
type Method string

const (
	MethodCash   Method = "cash"
	MethodCard   Method = "card"
	MethodMobile Method = "mobile"
)

var (
	// ErrInvalidAllocation is returned for unknown methods or negative amounts.
	ErrInvalidAllocation = errors.New("invalid payment allocation")
	// ErrCardSplitViolation is returned when a card payment is combined with
	// another allocation or does not cover the total exactly.
	ErrCardSplitViolation = errors.New("card payment cannot be split")
	// ErrInsufficientPayment is returned when the tendered sum is below the total.
	ErrInsufficientPayment = errors.New("insufficient payment")
)

// ParseMethod maps user input to a Method. "gcash" and "e-wallet" are accepted
// as mobile.
func ParseMethod(raw string) (Method, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "cash":
		return MethodCash, nil
	case "card", "credit", "debit":
		return MethodCard, nil
	case "mobile", "gcash", "e-wallet", "ewallet":
		return MethodMobile, nil
	}
	return "", fmt.Errorf("%w: unknown method %q", ErrInvalidAllocation, raw)
}

// Valid reports whether m is a known method.
func (m Method) Valid() bool {
	switch m {
	case MethodCash, MethodCard, MethodMobile:
		return true
	}
	return false
}

// UnmarshalJSON accepts any spelling ParseMethod understands.
func (m *Method) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	parsed, err := ParseMethod(raw)
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}

// Allocation is one payment entry of a possibly split checkout.
type Allocation struct {
	Method Method          `json:"method"`
	Amount decimal.Decimal `json:"amount"`
}

// ShortfallError reports how much was due and how much was tendered.
type ShortfallError struct {
	Due      decimal.Decimal
	Tendered decimal.Decimal
}

func (e *ShortfallError) Error() string {
	return fmt.Sprintf("%s: due %s, tendered %s", ErrInsufficientPayment,
		money.Format(e.Due, money.DefaultScale), money.Format(e.Tendered, money.DefaultScale))
}

func (e *ShortfallError) Unwrap() error { return ErrInsufficientPayment }

// Missing returns Due - Tendered.
func (e *ShortfallError) Missing() decimal.Decimal {
	return e.Due.Sub(e.Tendered)
}

// ValidateAllocations checks allocs against total. Card payments must stand
// alone and match the total exactly, in whatever order the entries were made.
func ValidateAllocations(allocs []Allocation, total decimal.Decimal) error {
	hasCard := false
	for i, a := range allocs {
		if !a.Method.Valid() {
			return fmt.Errorf("%w: entry %d has unknown method %q", ErrInvalidAllocation, i, a.Method)
		}
		if a.Amount.IsNegative() {
			return fmt.Errorf("%w: entry %d amount %s is negative", ErrInvalidAllocation, i, a.Amount)
		}
		if a.Method == MethodCard {
			hasCard = true
		}
	}
	if hasCard {
		if len(allocs) != 1 {
			return fmt.Errorf("%w: card combined with %d other entries", ErrCardSplitViolation, len(allocs)-1)
		}
		if !allocs[0].Amount.Equal(total) {
			return fmt.Errorf("%w: card amount %s must equal total %s", ErrCardSplitViolation, allocs[0].Amount, total)
		}
		return nil
	}
	if tendered := Tendered(allocs); tendered.LessThan(total) {
		return &ShortfallError{Due: total, Tendered: tendered}
	}
	return nil
}

// Tendered sums the allocation amounts.
func Tendered(allocs []Allocation) decimal.Decimal {
	sum := decimal.Zero
	for _, a := range allocs {
		sum = sum.Add(a.Amount)
	}
	return sum
}

// ComputeChange returns max(0, tendered - total).
func ComputeChange(allocs []Allocation, total decimal.Decimal) decimal.Decimal {
	return money.Floor0(Tendered(allocs).Sub(total))
}

// CardOnly returns the single allocation a card checkout must carry.
func CardOnly(total decimal.Decimal) []Allocation {
	return []Allocation{{Method: MethodCard, Amount: total}}
}
