package fiscal

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// DefaultFallbackTaxPercent applies when no fallback rule is configured.
var DefaultFallbackTaxPercent = decimal.NewFromInt(12)

// ErrInvalidRule is returned for rules with negative percentages.
var ErrInvalidRule = errors.New("fiscal: invalid rule")

// Rule holds the tax and discount percentages of one product category. A rule
// with an empty Category is the store-wide fallback.
type Rule struct {
	Category        string          `json:"category"`
	TaxRatePercent  decimal.Decimal `json:"taxRatePercent"`
	DiscountPercent decimal.Decimal `json:"discountPercent"`
}

// IsFallback reports whether r carries no category key.
func (r Rule) IsFallback() bool {
	return strings.TrimSpace(r.Category) == ""
}

// Validate rejects negative percentages.
func (r Rule) Validate() error {
	if r.TaxRatePercent.IsNegative() {
		return fmt.Errorf("%w: %q tax rate %s is negative", ErrInvalidRule, r.Category, r.TaxRatePercent)
	}
	if r.DiscountPercent.IsNegative() {
		return fmt.Errorf("%w: %q discount %s is negative", ErrInvalidRule, r.Category, r.DiscountPercent)
	}
	return nil
}

// Provider supplies the current fiscal rules, one per category plus an
// optional fallback.
type Provider interface {
	ListRules(ctx context.Context) ([]Rule, error)
}

// Rules is an immutable lookup of category rules.
type Rules struct {
	byCategory map[string]Rule
	fallback   Rule
	built      bool
}

// NewRules indexes rules by category. The last rule without a category becomes
// the fallback; without one the fallback taxes at DefaultFallbackTaxPercent
// with no discount.
func NewRules(rules []Rule) (Rules, error) {
	out := Rules{
		byCategory: make(map[string]Rule, len(rules)),
		fallback:   Rule{TaxRatePercent: DefaultFallbackTaxPercent, DiscountPercent: decimal.Zero},
		built:      true,
	}
	for _, r := range rules {
		if err := r.Validate(); err != nil {
			return Rules{}, err
		}
		if r.IsFallback() {
			r.Category = ""
			out.fallback = r
			continue
		}
		out.byCategory[normalize(r.Category)] = r
	}
	return out, nil
}

// MustRules is NewRules for static tables known to be valid.
func MustRules(rules ...Rule) Rules {
	out, err := NewRules(rules)
	if err != nil {
		panic(err)
	}
	return out
}

// Lookup returns the rule for category, matched case-insensitively.
func (r Rules) Lookup(category string) (Rule, bool) {
	rule, ok := r.byCategory[normalize(category)]
	return rule, ok
}

// Fallback returns the store-wide rule.
func (r Rules) Fallback() Rule {
	if !r.built {
		return Rule{TaxRatePercent: DefaultFallbackTaxPercent, DiscountPercent: decimal.Zero}
	}
	return r.fallback
}

// Len reports the number of category rules, excluding the fallback.
func (r Rules) Len() int {
	return len(r.byCategory)
}

// Load fetches and indexes rules from p.
func Load(ctx context.Context, p Provider) (Rules, error) {
	if p == nil {
		return NewRules(nil)
	}
	rules, err := p.ListRules(ctx)
	if err != nil {
		return Rules{}, fmt.Errorf("list fiscal rules: %w", err)
	}
	return NewRules(rules)
}

// StaticProvider serves a fixed rule table.
type StaticProvider []Rule

// ListRules implements Provider.
func (s StaticProvider) ListRules(context.Context) ([]Rule, error) {
	return append([]Rule(nil), s...), nil
}

func normalize(category string) string {
	return strings.ToLower(strings.TrimSpace(category))
}
