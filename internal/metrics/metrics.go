package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	DeviceCallsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ispbill_device_calls_total",
			Help: "Device client calls by operation and result",
		},
		[]string{"op", "result"}, // list_secrets|add_secret|... , ok|error|circuit_open
	)

	DeviceBreakerOpen = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "ispbill_device_breaker_open",
			Help: "1 while the router's circuit breaker is open or probing",
		},
		[]string{"device"},
	)

	DeviceCacheTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ispbill_device_cache_total",
			Help: "Device read cache lookups",
		},
		[]string{"result"}, // hit|miss|invalidate
	)

	SyncRecordsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ispbill_sync_records_total",
			Help: "Secrets reconciled into customer records by outcome",
		},
		[]string{"outcome"}, // added|updated|unchanged|skipped|error
	)

	BillingActionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ispbill_billing_actions_total",
			Help: "Billing automation actions",
		},
		[]string{"action"}, // suspended|warned|reactivated|invoiced|error
	)

	PaymentsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ispbill_payments_total",
			Help: "Payment and refund attempts by method and result",
		},
		[]string{"kind", "method", "result"},
	)
)

func MustRegister(r prometheus.Registerer) {
	r.MustRegister(
		DeviceCallsTotal,
		DeviceBreakerOpen,
		DeviceCacheTotal,
		SyncRecordsTotal,
		BillingActionsTotal,
		PaymentsTotal,
	)
}
