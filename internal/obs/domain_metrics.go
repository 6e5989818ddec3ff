package obs

import (
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

const domainNamespace = "pos"

var (
	domainOnce sync.Once

	// CheckoutAttempts counts checkout attempts by terminal state.
	CheckoutAttempts = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: domainNamespace,
		Name:      "checkout_attempts_total",
		Help:      "Checkout attempts by terminal state.",
	}, []string{"result"})
	// CheckoutGrandTotal observes the payable total of settled sales.
	CheckoutGrandTotal = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: domainNamespace,
		Name:      "checkout_grand_total",
		Help:      "Payable total of settled sales in pesos.",
		Buckets:   []float64{50, 100, 250, 500, 1000, 2500, 5000, 10000},
	})
	// StockDecrements counts per-item stock decrement calls by result.
	StockDecrements = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: domainNamespace,
		Name:      "stock_decrement_total",
		Help:      "Per-item stock decrement outcomes.",
	}, []string{"result"})
	// ReceiptDeliveries counts e-mailed receipt outcomes.
	ReceiptDeliveries = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: domainNamespace,
		Name:      "receipt_deliveries_total",
		Help:      "E-mailed receipt delivery outcomes.",
	}, []string{"result"})
)

// MustRegisterDomainMetrics registers the checkout collectors with reg, or the
// default registerer when reg is nil. Collectors are usable before
// registration.
func MustRegisterDomainMetrics(reg prometheus.Registerer) {
	domainOnce.Do(func() {
		if reg == nil {
			reg = prometheus.DefaultRegisterer
		}
		mustRegisterCollector(reg, CheckoutAttempts, func(existing prometheus.Collector) {
			if v, ok := existing.(*prometheus.CounterVec); ok {
				CheckoutAttempts = v
			}
		})
		mustRegisterCollector(reg, CheckoutGrandTotal, func(existing prometheus.Collector) {
			if v, ok := existing.(prometheus.Histogram); ok {
				CheckoutGrandTotal = v
			}
		})
		mustRegisterCollector(reg, StockDecrements, func(existing prometheus.Collector) {
			if v, ok := existing.(*prometheus.CounterVec); ok {
				StockDecrements = v
			}
		})
		mustRegisterCollector(reg, ReceiptDeliveries, func(existing prometheus.Collector) {
			if v, ok := existing.(*prometheus.CounterVec); ok {
				ReceiptDeliveries = v
			}
		})
	})
}

func mustRegisterCollector(reg prometheus.Registerer, collector prometheus.Collector, reuse func(prometheus.Collector)) {
	if err := reg.Register(collector); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if reuse != nil {
				reuse(are.ExistingCollector)
			}
			return
		}
		panic(fmt.Errorf("register metric: %w", err))
	}
}
