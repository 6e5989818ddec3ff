package fiscal_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/Vintech-code/Vapeshop/internal/fiscal"
	"github.com/Vintech-code/Vapeshop/internal/resilience"
)

func pct(v string) decimal.Decimal { return decimal.RequireFromString(v) }

func TestRulesLookupAndFallback(t *testing.T) {
	rules, err := fiscal.NewRules([]fiscal.Rule{
		{Category: "Liquids", TaxRatePercent: pct("10"), DiscountPercent: pct("5")},
	})
	require.NoError(t, err)

	r, ok := rules.Lookup("  liquids ")
	require.True(t, ok)
	require.True(t, r.DiscountPercent.Equal(pct("5")))

	_, ok = rules.Lookup("Devices")
	require.False(t, ok)
	require.True(t, rules.Fallback().TaxRatePercent.Equal(pct("12")))
	require.True(t, rules.Fallback().DiscountPercent.IsZero())
}

func TestRulesExplicitFallback(t *testing.T) {
	rules := fiscal.MustRules(fiscal.Rule{TaxRatePercent: pct("8")})
	require.True(t, rules.Fallback().TaxRatePercent.Equal(pct("8")))
	require.Equal(t, 0, rules.Len())

	var zero fiscal.Rules
	require.True(t, zero.Fallback().TaxRatePercent.Equal(pct("12")))
}

func TestRulesRejectNegative(t *testing.T) {
	_, err := fiscal.NewRules([]fiscal.Rule{{Category: "X", TaxRatePercent: pct("-1")}})
	require.ErrorIs(t, err, fiscal.ErrInvalidRule)
}

func TestRESTProviderMapsCategorySettings(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/categories", r.URL.Path)
		_, _ = w.Write([]byte(`[
			{"id":2,"name":"E-Liquids","settings":{"taxRate":10,"discount":5}},
			{"id":4,"name":"Disposable Vapes","settings":{"taxRate":"12","discount":"2"}}
		]`))
	}))
	t.Cleanup(srv.Close)

	p := fiscal.RESTProvider{BaseURL: srv.URL + "/api", HTTP: &resilience.HTTPClient{Client: srv.Client()}}
	rules, err := fiscal.Load(context.Background(), p)
	require.NoError(t, err)

	byName, ok := rules.Lookup("E-Liquids")
	require.True(t, ok)
	require.True(t, byName.TaxRatePercent.Equal(pct("10")))

	byID, ok := rules.Lookup("4")
	require.True(t, ok)
	require.True(t, byID.DiscountPercent.Equal(pct("2")))
}

func TestStaticProvider(t *testing.T) {
	rules, err := fiscal.Load(context.Background(), fiscal.StaticProvider{{Category: "Accessories", TaxRatePercent: pct("8")}})
	require.NoError(t, err)
	_, ok := rules.Lookup("accessories")
	require.True(t, ok)
}
