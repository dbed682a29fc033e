package util

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	OrdersCreatedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "cravvr_orders_created_total",
		Help: "Total number of orders placed",
	})

	OrderTransitionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cravvr_order_transitions_total",
		Help: "Total number of committed order status transitions",
	}, []string{"from", "to"})

	OrderTransitionsRejected = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cravvr_order_transitions_rejected_total",
		Help: "Total number of refused order status change requests",
	}, []string{"kind"})

	PaymentIntentsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cravvr_payment_intents_total",
		Help: "Total number of payment intent attempts",
	}, []string{"result"})

	PlatformFeeMinorUnits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "cravvr_platform_fee_minor_units_total",
		Help: "Sum of platform fees requested on payment intents, in minor currency units",
	})

	RefundsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cravvr_refunds_total",
		Help: "Total number of refund attempts",
	}, []string{"result"})

	LateSettlementRefunds = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cravvr_late_settlement_refunds_total",
		Help: "Refunds of payments that succeeded after their order was rejected or cancelled",
	}, []string{"result"})

	ProviderLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "cravvr_payment_provider_latency_seconds",
		Help:    "Latency of payments provider calls",
		Buckets: prometheus.DefBuckets,
	}, []string{"operation"})

	RealtimeEventsRelayed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cravvr_realtime_events_relayed_total",
		Help: "Total number of order change events relayed to realtime channels",
	}, []string{"type"})

	RealtimeSubscribers = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "cravvr_realtime_subscribers",
		Help: "Number of open realtime order subscriptions",
	})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "HTTP request latency",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})
)
