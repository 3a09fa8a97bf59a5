// Package metrics holds the Prometheus collectors exported on /metrics.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// HTTP
	RequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "giftvault_http_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"route", "method", "status"},
	)

	// Ledger
	RedemptionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "giftvault_redemptions_total",
			Help: "Redemption attempts by outcome",
		},
		[]string{"outcome"}, // ok|rejected|conflict|error
	)
	RedeemedAmountTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "giftvault_redeemed_amount_minor_total",
			Help: "Redeemed value in minor units",
		},
		[]string{"currency"},
	)
	RefundsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "giftvault_refunds_total",
			Help: "Refund ledger entries by kind",
		},
		[]string{"kind"}, // refund|cancel|restore
	)
	ConcurrentRetries = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "giftvault_concurrent_modification_retries_total",
			Help: "Balance mutations retried after a version conflict",
		},
	)

	// Fraud
	FraudDecisions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "giftvault_fraud_decisions_total",
			Help: "Fraud gate decisions by outcome",
		},
		[]string{"outcome"}, // allow|review|block
	)

	// Chargebacks
	ChargebacksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "giftvault_chargebacks_total",
			Help: "Chargeback events by status",
		},
		[]string{"status"},
	)

	// Jobs
	JobsProcessed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "giftvault_jobs_processed_total",
			Help: "Background jobs by type and result",
		},
		[]string{"type", "result"}, // completed|retry|failed
	)
	JobsInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "giftvault_jobs_in_flight",
			Help: "Jobs currently held by workers",
		},
	)
)

// Handler serves the default registry.
var Handler = promhttp.Handler

var registerOnce sync.Once

// Init registers all collectors with the default registry. Safe to call twice.
func Init() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			RequestsTotal,
			RedemptionsTotal,
			RedeemedAmountTotal,
			RefundsTotal,
			ConcurrentRetries,
			FraudDecisions,
			ChargebacksTotal,
			JobsProcessed,
			JobsInFlight,
		)
	})
}
