package money

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// DefaultScale is the number of minor-unit digits used when presenting pesos.
const DefaultScale int32 = 2

// Symbol prefixes formatted amounts.
const Symbol = "₱"

var hundred = decimal.NewFromInt(100)

// Percent returns base * pct / 100.
func Percent(base, pct decimal.Decimal) decimal.Decimal {
	if pct.IsZero() || base.IsZero() {
		return decimal.Zero
	}
	return base.Mul(pct).Div(hundred)
}

// Floor0 clamps negative values to zero.
func Floor0(a decimal.Decimal) decimal.Decimal {
	if a.IsNegative() {
		return decimal.Zero
	}
	return a
}

// Sum adds all values, returning zero for an empty list.
func Sum(values ...decimal.Decimal) decimal.Decimal {
	total := decimal.Zero
	for _, v := range values {
		total = total.Add(v)
	}
	return total
}

// Round rounds half away from zero to the given scale. A negative scale falls
// back to DefaultScale.
func Round(a decimal.Decimal, scale int32) decimal.Decimal {
	if scale < 0 {
		scale = DefaultScale
	}
	return a.Round(scale)
}

// Format renders an amount such as ₱54.32.
func Format(a decimal.Decimal, scale int32) string {
	if scale < 0 {
		scale = DefaultScale
	}
	return Symbol + a.StringFixed(scale)
}

// Parse reads a user or API supplied amount. Blank input is zero; the peso
// symbol and thousands separators are ignored.
func Parse(raw string) (decimal.Decimal, error) {
	cleaned := strings.TrimSpace(raw)
	cleaned = strings.TrimPrefix(cleaned, Symbol)
	cleaned = strings.ReplaceAll(cleaned, ",", "")
	cleaned = strings.TrimSpace(cleaned)
	if cleaned == "" {
		return decimal.Zero, nil
	}
	d, err := decimal.NewFromString(cleaned)
	if err != nil {
		return decimal.Zero, fmt.Errorf("parse amount %q: %w", raw, err)
	}
	return d, nil
}

// Loose decodes amounts that the backend sends either as JSON numbers or as
// strings. Null and empty strings decode to zero.
type Loose struct {
	decimal.Decimal
}

// UnmarshalJSON implements json.Unmarshaler.
func (l *Loose) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		l.Decimal = decimal.Zero
		return nil
	}
	if trimmed[0] == '"' {
		var s string
		if err := json.Unmarshal(trimmed, &s); err != nil {
			return err
		}
		d, err := Parse(s)
		if err != nil {
			return err
		}
		l.Decimal = d
		return nil
	}
	d, err := decimal.NewFromString(string(trimmed))
	if err != nil {
		return fmt.Errorf("parse amount %s: %w", trimmed, err)
	}
	l.Decimal = d
	return nil
}

// MarshalJSON writes the amount as a JSON string to avoid float precision loss.
func (l Loose) MarshalJSON() ([]byte, error) {
	return json.Marshal(l.Decimal.String())
}
