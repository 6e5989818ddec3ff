package fiscal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/Vintech-code/Vapeshop/internal/money"
)

// Doer executes HTTP requests. *resilience.HTTPClient satisfies it.
type Doer interface {
	Do(ctx context.Context, req *http.Request) (*http.Response, error)
}

// RESTProvider reads category settings from GET {base}/categories, shaped as
// [{"id":2,"name":"Liquids","settings":{"taxRate":10,"discount":5}}].
type RESTProvider struct {
	BaseURL  string
	HTTP     Doer
	Fallback *Rule
}

type categoryDTO struct {
	ID       *int64 `json:"id"`
	Name     string `json:"name"`
	Settings struct {
		TaxRate  money.Loose `json:"taxRate"`
		Discount money.Loose `json:"discount"`
	} `json:"settings"`
}

// ListRules implements Provider.
func (p RESTProvider) ListRules(ctx context.Context) ([]Rule, error) {
	if p.HTTP == nil {
		return nil, errors.New("fiscal: http client is required")
	}
	base, err := url.Parse(strings.TrimSpace(p.BaseURL))
	if err != nil {
		return nil, fmt.Errorf("fiscal: parse base url: %w", err)
	}
	if !strings.HasSuffix(base.Path, "/") {
		base.Path += "/"
	}
	endpoint := base.ResolveReference(&url.URL{Path: "categories"}).String()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	resp, err := p.HTTP.Do(ctx, req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fiscal: categories returned %s", resp.Status)
	}
	var rows []categoryDTO
	if err := json.NewDecoder(resp.Body).Decode(&rows); err != nil {
		return nil, fmt.Errorf("fiscal: decode categories: %w", err)
	}
	rules := make([]Rule, 0, len(rows)*2+1)
	for _, row := range rows {
		name := strings.TrimSpace(row.Name)
		rule := Rule{
			TaxRatePercent:  nonNegative(row.Settings.TaxRate.Decimal),
			DiscountPercent: nonNegative(row.Settings.Discount.Decimal),
		}
		if name != "" {
			rule.Category = name
			rules = append(rules, rule)
		}
		// products that only carry category_id are keyed by the id
		if row.ID != nil {
			rule.Category = strconv.FormatInt(*row.ID, 10)
			rules = append(rules, rule)
		}
	}
	if p.Fallback != nil {
		fb := *p.Fallback
		fb.Category = ""
		rules = append(rules, fb)
	}
	return rules, nil
}

func nonNegative(d decimal.Decimal) decimal.Decimal {
	if d.IsNegative() {
		return decimal.Zero
	}
	return d
}
