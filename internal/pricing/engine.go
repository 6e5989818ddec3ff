package pricing

import (
	"strings"

	"github.com/shopspring/decimal"

	"github.com/Vintech-code/Vapeshop/internal/cart"
	"github.com/Vintech-code/Vapeshop/internal/fiscal"
	"github.com/Vintech-code/Vapeshop/internal/money"
)

// Summary aggregates computed pricing components at full precision.
type Summary struct {
	Subtotal        decimal.Decimal `json:"subtotal"`
	Discount        decimal.Decimal `json:"discount"`
	Tax             decimal.Decimal `json:"tax"`
	GrandTotal      decimal.Decimal `json:"grandTotal"`
	Rule            fiscal.Rule     `json:"rule"`
	MixedCategories bool            `json:"mixedCategories"`
}

// Payable returns the grand total rounded to the currency scale. Payments are
// reconciled against this figure.
func (s Summary) Payable(scale int32) decimal.Decimal {
	return money.Round(s.GrandTotal, scale)
}

// ComputeSubtotal sums unit price times quantity over all lines.
func ComputeSubtotal(lines []cart.Line) decimal.Decimal {
	subtotal := decimal.Zero
	for _, l := range lines {
		if l.Quantity <= 0 {
			continue
		}
		subtotal = subtotal.Add(l.Total())
	}
	return subtotal
}

// ResolveFiscalRule picks the rule applied to the whole cart. A cart whose
// lines all share one category uses that category's rule; anything else,
// including a category without a rule, uses the fallback. The second result
// reports whether the cart mixed categories.
func ResolveFiscalRule(lines []cart.Line, rules fiscal.Rules) (fiscal.Rule, bool) {
	fallback := rules.Fallback()
	if len(lines) == 0 {
		return fallback, false
	}
	first := strings.ToLower(strings.TrimSpace(lines[0].Category))
	for _, l := range lines[1:] {
		if strings.ToLower(strings.TrimSpace(l.Category)) != first {
			return fiscal.Rule{TaxRatePercent: fallback.TaxRatePercent, DiscountPercent: decimal.Zero}, true
		}
	}
	if rule, ok := rules.Lookup(first); ok {
		return rule, false
	}
	return fallback, false
}

// ComputeDiscount returns subtotal * discount% / 100.
func ComputeDiscount(subtotal decimal.Decimal, rule fiscal.Rule) decimal.Decimal {
	return money.Percent(subtotal, rule.DiscountPercent)
}

// ComputeTax returns (subtotal - discount) * tax% / 100.
func ComputeTax(subtotal, discount decimal.Decimal, rule fiscal.Rule) decimal.Decimal {
	return money.Percent(subtotal.Sub(discount), rule.TaxRatePercent)
}

// ComputeGrandTotal returns subtotal - discount + tax, never below zero.
func ComputeGrandTotal(subtotal, discount, tax decimal.Decimal) decimal.Decimal {
	return money.Floor0(subtotal.Sub(discount).Add(tax))
}

// Compute calculates cart totals for lines under rules.
func Compute(lines []cart.Line, rules fiscal.Rules) Summary {
	rule, mixed := ResolveFiscalRule(lines, rules)
	subtotal := ComputeSubtotal(lines)
	discount := ComputeDiscount(subtotal, rule)
	tax := ComputeTax(subtotal, discount, rule)
	return Summary{
		Subtotal:        subtotal,
		Discount:        discount,
		Tax:             tax,
		GrandTotal:      ComputeGrandTotal(subtotal, discount, tax),
		Rule:            rule,
		MixedCategories: mixed,
	}
}
